package models

import "time"

// VulnerabilityRecord is owned by the external vulnerability dataset and is
// read-only to the scanner. Records are refreshed out-of-band.
type VulnerabilityRecord struct {
	ID               string    `json:"id" yaml:"id"`
	PackageName      string    `json:"package_name" yaml:"package_name"`
	AffectedVersions string    `json:"affected_versions" yaml:"affected_versions"`
	FixedVersion     string    `json:"fixed_version,omitempty" yaml:"fixed_version,omitempty"`
	Severity         string    `json:"severity" yaml:"severity"`
	CVE              string    `json:"cve,omitempty" yaml:"cve,omitempty"`
	Description      string    `json:"description,omitempty" yaml:"description,omitempty"`
	ExploitAvailable bool      `json:"exploit_available" yaml:"exploit_available"`
	PublishedAt      time.Time `json:"published_at,omitempty" yaml:"published_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// MalwareSignature shares the dataset lifecycle with VulnerabilityRecord.
type MalwareSignature struct {
	ID          string `json:"id" yaml:"id"`
	Signature   string `json:"signature" yaml:"signature"`
	Type        string `json:"type" yaml:"type"`
	Severity    string `json:"severity" yaml:"severity"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// DatasetInfo describes the currently loaded dataset snapshot.
type DatasetInfo struct {
	Version         string    `json:"version" yaml:"version"`
	LoadedAt        time.Time `json:"loaded_at" yaml:"loaded_at"`
	Vulnerabilities int       `json:"vulnerabilities" yaml:"vulnerabilities"`
	Signatures      int       `json:"signatures" yaml:"signatures"`
}
