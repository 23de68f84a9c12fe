package gateway

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Alert types emitted by the gateway.
const (
	AlertTypeQuarantine = "quarantine"
	AlertTypeScanError  = "scan_error"
)

// Alert carries the facts of a gateway security event.
type Alert struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	ScanID    string    `json:"scan_id,omitempty"`
	Score     int       `json:"score"`
	RiskLevel string    `json:"risk_level,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertSink receives gateway security events. Implementations must be safe
// for concurrent use.
type AlertSink interface {
	Notify(ctx context.Context, alert Alert) error
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, alert Alert) error {
	s.logger.WithFields(logrus.Fields{
		"alert_type": alert.Type,
		"key":        alert.Key,
		"scan_id":    alert.ScanID,
		"score":      alert.Score,
		"risk_level": alert.RiskLevel,
		"reason":     alert.Reason,
	}).Warn("Security alert")
	return nil
}

// MultiSink fans an alert out to every sink and returns the first error.
type MultiSink struct {
	sinks []AlertSink
}

func NewMultiSink(sinks ...AlertSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Notify(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
