package models

import (
	"fmt"
	"time"
)

// Audit actions.
const (
	AuditActionUpload     = "upload"
	AuditActionQuarantine = "quarantine"
	AuditActionAlert      = "alert"
	AuditActionError      = "error"
)

// AuditEntry is append-only: never mutated or deleted by normal operation.
type AuditEntry struct {
	ID            string            `json:"id"`
	Key           string            `json:"key"`
	Action        string            `json:"action"`
	SecurityScore int               `json:"security_score,omitempty"`
	RiskLevel     string            `json:"risk_level,omitempty"`
	Quarantined   bool              `json:"quarantined"`
	Findings      FindingCounts     `json:"findings"`
	Actor         string            `json:"actor"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (e *AuditEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("audit entry ID is required")
	}
	if e.Key == "" {
		return fmt.Errorf("audit entry key is required")
	}
	switch e.Action {
	case AuditActionUpload, AuditActionQuarantine, AuditActionAlert, AuditActionError:
	default:
		return fmt.Errorf("invalid audit action: %s", e.Action)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("audit entry timestamp is required")
	}
	return nil
}

// IsHighRisk reports whether the entry recorded a high or critical scan.
func (e *AuditEntry) IsHighRisk() bool {
	return e.RiskLevel == RiskHigh || e.RiskLevel == RiskCritical
}

// GatewayStats is the read-only aggregate over the audit store.
type GatewayStats struct {
	TotalScanned       int            `json:"total_scanned"`
	QuarantinedCount   int            `json:"quarantined_count"`
	RiskLevelBreakdown map[string]int `json:"risk_level_breakdown"`
	AverageScore       float64        `json:"average_score"`
	RecentHighRisk     []AuditEntry   `json:"recent_high_risk"`
}

// HistoryStats is the aggregate over the persistent scan history.
type HistoryStats struct {
	TotalScans         int            `json:"total_scans"`
	RiskLevelBreakdown map[string]int `json:"risk_level_breakdown"`
	AverageScore       float64        `json:"average_score"`
	RecentCritical     []ScanResult   `json:"recent_critical"`
}
