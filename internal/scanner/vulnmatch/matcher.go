// Package vulnmatch resolves known vulnerability records for a package and
// its declared dependencies into severity-weighted findings.
package vulnmatch

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/bastionhq/bastion/pkg/models"
)

// transitiveDiscount scales down findings attributed to a dependency rather
// than the scanned artifact itself.
const transitiveDiscount = 0.7

// Dataset is the slice of the vulnerability dataset the matcher needs.
type Dataset interface {
	Lookup(name, version string) ([]models.VulnerabilityRecord, error)
}

type Matcher struct {
	dataset Dataset
	logger  *logrus.Logger
}

func NewMatcher(dataset Dataset, logger *logrus.Logger) *Matcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Matcher{dataset: dataset, logger: logger}
}

// SeverityWeight maps a severity level to its score contribution.
func SeverityWeight(severity string) float64 {
	switch severity {
	case models.SeverityCritical:
		return 10
	case models.SeverityHigh:
		return 7
	case models.SeverityMedium:
		return 4
	case models.SeverityLow:
		return 1
	default:
		return 0
	}
}

// Match looks up the package itself and, when checkTransitive is set, each
// declared dependency. A dataset failure aborts the whole match.
func (m *Matcher) Match(name, version string, deps map[string]string, checkTransitive bool) ([]models.VulnerabilityFinding, error) {
	findings, err := m.matchOne(name, version, false)
	if err != nil {
		return nil, err
	}

	if checkTransitive {
		// Deterministic order for stable results.
		depNames := make([]string, 0, len(deps))
		for dep := range deps {
			depNames = append(depNames, dep)
		}
		sort.Strings(depNames)

		for _, dep := range depNames {
			depFindings, err := m.matchOne(dep, deps[dep], true)
			if err != nil {
				return nil, err
			}
			findings = append(findings, depFindings...)
		}
	}

	if len(findings) > 0 {
		m.logger.Debugf("Matched %d vulnerability records for %s@%s", len(findings), name, version)
	}
	return findings, nil
}

func (m *Matcher) matchOne(name, version string, transitive bool) ([]models.VulnerabilityFinding, error) {
	records, err := m.dataset.Lookup(name, version)
	if err != nil {
		return nil, fmt.Errorf("vulnerability lookup for %s@%s: %w", name, version, err)
	}

	findings := make([]models.VulnerabilityFinding, 0, len(records))
	for _, rec := range records {
		score := SeverityWeight(rec.Severity)
		if transitive {
			score *= transitiveDiscount
		}
		findings = append(findings, models.VulnerabilityFinding{
			ID:               rec.ID,
			Package:          rec.PackageName,
			Severity:         rec.Severity,
			CVE:              rec.CVE,
			AffectedVersions: rec.AffectedVersions,
			FixedVersion:     rec.FixedVersion,
			ExploitAvailable: rec.ExploitAvailable,
			Transitive:       transitive,
			Score:            score,
			Description:      rec.Description,
		})
	}
	return findings, nil
}
