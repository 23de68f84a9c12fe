// Package secrets extracts credential-shaped substrings from artifact
// content and filters false positives through a Shannon-entropy gate.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bastionhq/bastion/pkg/models"
)

// DefaultEntropyThreshold is the boundary below which a match is discarded
// as a likely false positive.
const DefaultEntropyThreshold = 4.0

const highEntropyBoundary = 5.0
const mediumEntropyBoundary = 4.5

var builtinPatterns = map[string]string{
	"high_entropy_token":  `\b[A-Za-z0-9+/=_-]{32,}\b`,
	"aws_access_key":      `\b(?:AKIA|ASIA|AGPA|AIDA)[0-9A-Z]{16}\b`,
	"aws_secret_key":      `(?i)aws_?secret_?access_?key\s*[=:]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
	"gcp_api_key":         `\bAIza[0-9A-Za-z_-]{35}\b`,
	"private_key":         `-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----[A-Za-z0-9+/=\s]{0,160}`,
	"password_assignment": `(?i)\b(?:password|passwd|pwd)\s*[=:]\s*['"]?[^\s'"]{8,}['"]?`,
	"token_assignment":    `(?i)\b(?:auth_?token|access_?token|api_?key|client_?secret)\s*[=:]\s*['"]?[^\s'"]{16,}['"]?`,
	"connection_string":   `(?i)\b(?:mysql|postgres(?:ql)?|mongodb(?:\+srv)?|redis|amqp)://[^\s:]+:[^@\s]+@[^\s]+`,
	"github_token":        `\bgh[pousr]_[A-Za-z0-9]{36,}\b`,
	"slack_token":         `\bxox[baprs]-[0-9A-Za-z-]{10,}\b`,
	"stripe_key":          `\b(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}\b`,
	"webhook_url":         `https://(?:hooks\.slack\.com/services|discord(?:app)?\.com/api/webhooks)/[A-Za-z0-9/_-]+`,
}

// Pattern types whose matches are always high severity regardless of entropy.
var highRiskTypes = map[string]bool{
	"private_key":       true,
	"aws_access_key":    true,
	"aws_secret_key":    true,
	"gcp_api_key":       true,
	"connection_string": true,
}

var remediationHints = map[string]string{
	"private_key":         "never commit private keys; rotate the key pair and load it from a secret manager",
	"aws_access_key":      "rotate the access key and move credentials to a secret manager or instance role",
	"aws_secret_key":      "rotate the secret key and move credentials to a secret manager or instance role",
	"gcp_api_key":         "restrict and rotate the API key; inject it at deploy time instead of committing it",
	"connection_string":   "move connection credentials to a secret manager and reference them by name",
	"password_assignment": "do not hardcode passwords; read them from the environment or a secret manager",
	"token_assignment":    "do not hardcode tokens; read them from the environment or a secret manager",
	"github_token":        "revoke the token and issue a scoped replacement kept outside the artifact",
	"slack_token":         "revoke the token and issue a scoped replacement kept outside the artifact",
	"stripe_key":          "roll the key immediately; live payment keys must never ship inside artifacts",
	"webhook_url":         "treat webhook URLs as credentials; rotate the endpoint",
	"high_entropy_token":  "verify whether this token is a live credential and move it to a secret manager",
}

const defaultRemediation = "use a secret manager instead of embedding credentials in artifact content"

type Detector struct {
	patterns         map[string]*regexp.Regexp
	customPatterns   map[string]*regexp.Regexp
	entropyThreshold float64
	logger           *logrus.Logger
}

func NewDetector(cfg models.SecretsConfig, logger *logrus.Logger) (*Detector, error) {
	if logger == nil {
		logger = logrus.New()
	}

	threshold := cfg.EntropyThreshold
	if threshold == 0 {
		threshold = DefaultEntropyThreshold
	}

	d := &Detector{
		patterns:         make(map[string]*regexp.Regexp, len(builtinPatterns)),
		customPatterns:   make(map[string]*regexp.Regexp, len(cfg.CustomPatterns)),
		entropyThreshold: threshold,
		logger:           logger,
	}

	for name, pattern := range builtinPatterns {
		d.patterns[name] = regexp.MustCompile(pattern)
	}
	for name, pattern := range cfg.CustomPatterns {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile custom secret pattern %q: %w", name, err)
		}
		d.customPatterns[name] = compiled
	}

	return d, nil
}

// Detect runs every pattern over the content. Matches at or below the
// entropy threshold are discarded. Callers skip the detector when the
// artifact carries no content.
func (d *Detector) Detect(content []byte) []models.SecretFinding {
	text := string(content)
	var findings []models.SecretFinding

	for _, name := range sortedNames(d.patterns) {
		findings = append(findings, d.matchPattern(name, d.patterns[name], text)...)
	}
	for _, name := range sortedNames(d.customPatterns) {
		findings = append(findings, d.matchPattern(name, d.customPatterns[name], text)...)
	}

	if len(findings) > 0 {
		d.logger.Debugf("Secrets detector: %d findings after entropy filter", len(findings))
	}
	return findings
}

func (d *Detector) matchPattern(name string, re *regexp.Regexp, text string) []models.SecretFinding {
	var out []models.SecretFinding
	for _, loc := range re.FindAllStringIndex(text, -1) {
		match := text[loc[0]:loc[1]]
		entropy := Entropy(match)
		if entropy <= d.entropyThreshold {
			continue
		}
		out = append(out, models.SecretFinding{
			Type:        name,
			Location:    locate(text, loc[0]),
			Entropy:     entropy,
			Severity:    classify(name, entropy),
			Remediation: hintFor(name),
		})
	}
	return out
}

func classify(patternType string, entropy float64) string {
	switch {
	case highRiskTypes[patternType] || entropy > highEntropyBoundary:
		return models.SeverityHigh
	case entropy > mediumEntropyBoundary:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func hintFor(patternType string) string {
	if hint, ok := remediationHints[patternType]; ok {
		return hint
	}
	return defaultRemediation
}

func locate(text string, offset int) string {
	line := 1 + strings.Count(text[:offset], "\n")
	return fmt.Sprintf("line %d", line)
}

func sortedNames(m map[string]*regexp.Regexp) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
