// Package scoring combines detector sub-scores into the composite security
// score, risk tier, compliance flags, and recommended action.
//
// Convention: each category sub-score lives on its own native scale and is
// normalized to 0..1 by its base before the category weights apply, so a
// single critical direct vulnerability cannot pass as low risk.
package scoring

import (
	"math"

	"github.com/bastionhq/bastion/pkg/models"
)

// Native bases of the category sub-scores.
const (
	VulnerabilityBase = 10.0
	DependencyBase    = 20.0
	MalwareBase       = 20.0
	SecretsBase       = 10.0
	CodeQualityBase   = 10.0
)

// Category weights. They sum to 1 so a fully clean artifact scores 100.
const (
	weightVulnerabilities = 0.4
	weightDependencies    = 0.2
	weightMalware         = 0.2
	weightSecrets         = 0.1
	weightCodeQuality     = 0.1
)

// codeQualityPlaceholder stands in for a static-analysis signal; full marks
// until a real quality scorer is plugged in.
const codeQualityPlaceholder = CodeQualityBase

// Subscores holds the per-category raw sub-scores on their native scales.
type Subscores struct {
	Vulnerabilities float64
	Dependencies    float64
	Malware         float64
	Secrets         float64
	CodeQuality     float64
}

// VulnerabilitySubscore charges each finding's severity-weighted score
// against the category base.
func VulnerabilitySubscore(findings []models.VulnerabilityFinding) float64 {
	score := VulnerabilityBase
	for _, f := range findings {
		score -= f.Score
	}
	return math.Max(0, score)
}

// MalwareSubscore is zero whenever a literal signature matched, overriding
// the heuristic penalty. Skipped scans keep full marks.
func MalwareSubscore(malware []models.MalwareFinding, patterns []models.SuspiciousPatternFinding, skipped bool) float64 {
	if skipped {
		return MalwareBase
	}
	if len(malware) > 0 {
		return 0
	}
	return math.Max(0, MalwareBase-2*float64(len(patterns)))
}

// SecretsSubscore charges 5 per high and 2 per medium severity finding.
// Skipped scans keep full marks.
func SecretsSubscore(findings []models.SecretFinding, skipped bool) float64 {
	if skipped {
		return SecretsBase
	}
	var high, medium int
	for _, f := range findings {
		switch f.Severity {
		case models.SeverityHigh:
			high++
		case models.SeverityMedium:
			medium++
		}
	}
	return math.Max(0, SecretsBase-5*float64(high)-2*float64(medium))
}

// DependencySubscore charges 5 per vulnerable and 1 per outdated dependency.
func DependencySubscore(findings []models.DependencyFinding) float64 {
	var vulnerable, outdated int
	for _, f := range findings {
		switch f.Kind {
		case models.DependencyKindVulnerable:
			vulnerable++
		case models.DependencyKindOutdated:
			outdated++
		}
	}
	return math.Max(0, DependencyBase-5*float64(vulnerable)-float64(outdated))
}

// CodeQualitySubscore is the placeholder static-analysis signal.
func CodeQualitySubscore() float64 {
	return codeQualityPlaceholder
}

// Composite normalizes each sub-score by its base, applies the category
// weights, and returns the rounded score clamped to [0,100].
func Composite(sub Subscores) int {
	weighted := weightVulnerabilities*(sub.Vulnerabilities/VulnerabilityBase) +
		weightDependencies*(sub.Dependencies/DependencyBase) +
		weightMalware*(sub.Malware/MalwareBase) +
		weightSecrets*(sub.Secrets/SecretsBase) +
		weightCodeQuality*(sub.CodeQuality/CodeQualityBase)

	score := int(math.Round(weighted * 100))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// RiskLevel is the deterministic step function over the composite score.
func RiskLevel(score int) string {
	switch {
	case score >= 80:
		return models.RiskLow
	case score >= 60:
		return models.RiskMedium
	case score >= 40:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

// Compliance reports per-standard pass flags for the score and risk level.
func Compliance(score int, riskLevel string) map[string]bool {
	return map[string]bool{
		"owasp":    score >= 70,
		"nist":     score >= 75,
		"iso27001": score >= 80,
		"pci":      riskLevel != models.RiskHigh && riskLevel != models.RiskCritical,
	}
}

// Action maps a risk level to the recommended handling.
func Action(riskLevel string) string {
	switch riskLevel {
	case models.RiskCritical:
		return models.ActionBlock
	case models.RiskHigh:
		return models.ActionReview
	case models.RiskMedium:
		return models.ActionMonitor
	default:
		return models.ActionApproved
	}
}

// Recommendations generates plain-text advisories keyed off the findings.
func Recommendations(findings models.FindingSet, score int) []string {
	var recs []string

	for _, v := range findings.Vulnerabilities {
		if v.Severity == models.SeverityCritical {
			recs = append(recs, "Critical vulnerability present: upgrade the affected package before distribution")
			break
		}
	}
	if len(findings.Malware) > 0 {
		recs = append(recs, "Malware signature matched: do not install or distribute this artifact")
	}
	if findings.HasHighRiskSecret() {
		recs = append(recs, "High-risk secret embedded in content: rotate the credential and strip it from the artifact")
	}
	for _, d := range findings.Dependencies {
		if d.Kind == models.DependencyKindVulnerable {
			recs = append(recs, "One or more dependencies have known vulnerabilities: update them to fixed versions")
			break
		}
	}
	if score < 50 {
		recs = append(recs, "Security score below 50: consider an alternative artifact")
	}

	return recs
}
