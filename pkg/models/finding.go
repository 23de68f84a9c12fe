package models

// Severity levels shared by every finding type.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Dependency finding kinds.
const (
	DependencyKindVulnerable = "vulnerable"
	DependencyKindOutdated   = "outdated"
)

type VulnerabilityFinding struct {
	ID               string  `json:"id" yaml:"id"`
	Package          string  `json:"package" yaml:"package"`
	Severity         string  `json:"severity" yaml:"severity"`
	CVE              string  `json:"cve,omitempty" yaml:"cve,omitempty"`
	AffectedVersions string  `json:"affected_versions" yaml:"affected_versions"`
	FixedVersion     string  `json:"fixed_version,omitempty" yaml:"fixed_version,omitempty"`
	ExploitAvailable bool    `json:"exploit_available" yaml:"exploit_available"`
	Transitive       bool    `json:"transitive" yaml:"transitive"`
	Score            float64 `json:"score" yaml:"score"`
	Description      string  `json:"description,omitempty" yaml:"description,omitempty"`
}

type MalwareFinding struct {
	SignatureID string `json:"signature_id" yaml:"signature_id"`
	MalwareType string `json:"malware_type" yaml:"malware_type"`
	Severity    string `json:"severity" yaml:"severity"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type SuspiciousPatternFinding struct {
	Pattern     string `json:"pattern" yaml:"pattern"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Occurrences int    `json:"occurrences" yaml:"occurrences"`
}

type SecretFinding struct {
	Type        string  `json:"type" yaml:"type"`
	Location    string  `json:"location" yaml:"location"`
	Entropy     float64 `json:"entropy" yaml:"entropy"`
	Severity    string  `json:"severity" yaml:"severity"`
	Remediation string  `json:"remediation,omitempty" yaml:"remediation,omitempty"`
}

type DependencyFinding struct {
	Name     string `json:"name" yaml:"name"`
	Version  string `json:"version" yaml:"version"`
	Kind     string `json:"kind" yaml:"kind"`
	Severity string `json:"severity" yaml:"severity"`
}

// FindingSet groups every finding a single scan produced.
type FindingSet struct {
	Vulnerabilities    []VulnerabilityFinding     `json:"vulnerabilities" yaml:"vulnerabilities"`
	Malware            []MalwareFinding           `json:"malware" yaml:"malware"`
	SuspiciousPatterns []SuspiciousPatternFinding `json:"suspicious_patterns" yaml:"suspicious_patterns"`
	Secrets            []SecretFinding            `json:"secrets" yaml:"secrets"`
	Dependencies       []DependencyFinding        `json:"dependencies" yaml:"dependencies"`
}

// FindingCounts is the compact shape recorded on audit entries.
type FindingCounts struct {
	Vulnerabilities    int `json:"vulnerabilities" yaml:"vulnerabilities"`
	Malware            int `json:"malware" yaml:"malware"`
	SuspiciousPatterns int `json:"suspicious_patterns" yaml:"suspicious_patterns"`
	Secrets            int `json:"secrets" yaml:"secrets"`
	Dependencies       int `json:"dependencies" yaml:"dependencies"`
}

func (fs FindingSet) Counts() FindingCounts {
	return FindingCounts{
		Vulnerabilities:    len(fs.Vulnerabilities),
		Malware:            len(fs.Malware),
		SuspiciousPatterns: len(fs.SuspiciousPatterns),
		Secrets:            len(fs.Secrets),
		Dependencies:       len(fs.Dependencies),
	}
}

func (fs FindingSet) Total() int {
	return len(fs.Vulnerabilities) + len(fs.Malware) + len(fs.SuspiciousPatterns) +
		len(fs.Secrets) + len(fs.Dependencies)
}

// HasMalware reports whether any literal signature matched.
func (fs FindingSet) HasMalware() bool {
	return len(fs.Malware) > 0
}

// HasHighRiskSecret reports whether any secret finding is high severity.
func (fs FindingSet) HasHighRiskSecret() bool {
	for _, s := range fs.Secrets {
		if s.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

func (fs FindingSet) VulnerabilityCountBySeverity() map[string]int {
	counts := make(map[string]int)
	for _, v := range fs.Vulnerabilities {
		counts[v.Severity]++
	}
	return counts
}

// ValidSeverity reports whether s is one of the known severity levels.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}
