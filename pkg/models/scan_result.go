package models

import (
	"fmt"
	"time"
)

// Risk levels derived from the composite security score.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Recommended actions derived from the risk level.
const (
	ActionApproved = "approved"
	ActionMonitor  = "monitor"
	ActionReview   = "review"
	ActionBlock    = "block"
)

// ArtifactInput is the per-call description of the artifact to scan.
// Content may be nil for a metadata-only scan.
type ArtifactInput struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Content      []byte            `json:"-"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Path         string            `json:"path,omitempty"`
}

// CacheKey returns the scan cache key, or "" when the input is not cacheable.
func (a ArtifactInput) CacheKey() string {
	if a.Name == "" || a.Version == "" {
		return ""
	}
	return a.Name + "@" + a.Version
}

// ScanResult is immutable once produced by the scanner. Cached and persisted
// verbatim.
type ScanResult struct {
	ScanID           string          `json:"scan_id" yaml:"scan_id"`
	PackageName      string          `json:"package_name" yaml:"package_name"`
	PackageVersion   string          `json:"package_version" yaml:"package_version"`
	Timestamp        time.Time       `json:"timestamp" yaml:"timestamp"`
	ScanDurationMs   int64           `json:"scan_duration_ms" yaml:"scan_duration_ms"`
	SecurityScore    int             `json:"security_score" yaml:"security_score"`
	RiskLevel        string          `json:"risk_level" yaml:"risk_level"`
	Findings         FindingSet      `json:"findings" yaml:"findings"`
	Recommendations  []string        `json:"recommendations" yaml:"recommendations"`
	ComplianceStatus map[string]bool `json:"compliance_status" yaml:"compliance_status"`
	ActionRequired   string          `json:"action_required" yaml:"action_required"`
	ContentDigest    string          `json:"content_digest,omitempty" yaml:"content_digest,omitempty"`
}

func (r *ScanResult) Validate() error {
	if r.ScanID == "" {
		return fmt.Errorf("scan ID is required")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if r.SecurityScore < 0 || r.SecurityScore > 100 {
		return fmt.Errorf("security score %d outside [0,100]", r.SecurityScore)
	}
	switch r.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
	default:
		return fmt.Errorf("invalid risk level: %s", r.RiskLevel)
	}
	return nil
}

func (r *ScanResult) CacheKey() string {
	if r.PackageName == "" || r.PackageVersion == "" {
		return ""
	}
	return r.PackageName + "@" + r.PackageVersion
}

// FreshAt reports whether a cached result may still be served at now.
func (r *ScanResult) FreshAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.Timestamp) < ttl
}
