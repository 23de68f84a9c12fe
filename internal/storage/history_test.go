package storage

import (
	"context"
	"testing"
	"time"

	"github.com/bastionhq/bastion/pkg/models"
)

func historyResult(id, name, version string, score int, riskLevel string, ts time.Time) *models.ScanResult {
	return &models.ScanResult{
		ScanID:         id,
		PackageName:    name,
		PackageVersion: version,
		Timestamp:      ts,
		SecurityScore:  score,
		RiskLevel:      riskLevel,
	}
}

func TestScanHistoryLookupHonorsTTL(t *testing.T) {
	sh, err := NewScanHistory("", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewScanHistory: %v", err)
	}

	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	result := historyResult("s1", "left-pad", "1.0.0", 95, models.RiskLow, base)
	if err := sh.Record(ctx, result); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if got, ok := sh.Lookup(ctx, "left-pad@1.0.0", base.Add(59*time.Minute)); !ok || got.ScanID != "s1" {
		t.Errorf("fresh lookup = %v, %v", got, ok)
	}
	if _, ok := sh.Lookup(ctx, "left-pad@1.0.0", base.Add(61*time.Minute)); ok {
		t.Error("expired result must not be served")
	}
	if _, ok := sh.Lookup(ctx, "other@1.0.0", base); ok {
		t.Error("unknown key must miss")
	}
	if _, ok := sh.Lookup(ctx, "", base); ok {
		t.Error("empty key must miss")
	}
}

func TestScanHistoryUncacheableResultStillRecorded(t *testing.T) {
	sh, err := NewScanHistory("", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewScanHistory: %v", err)
	}

	ctx := context.Background()
	// No version: recorded in the history but never cached.
	result := historyResult("s1", "adhoc-blob", "", 80, models.RiskLow, time.Now())
	if err := sh.Record(ctx, result); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if got := sh.Stats(ctx).TotalScans; got != 1 {
		t.Errorf("total scans = %d, want 1", got)
	}
	if _, ok := sh.Lookup(ctx, "adhoc-blob@", time.Now()); ok {
		t.Error("versionless result must not be cached")
	}
}

func TestScanHistoryRecordValidates(t *testing.T) {
	sh, err := NewScanHistory("", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewScanHistory: %v", err)
	}

	invalid := historyResult("", "left-pad", "1.0.0", 95, models.RiskLow, time.Now())
	if err := sh.Record(context.Background(), invalid); err == nil {
		t.Error("result without scan ID must be rejected")
	}
}

func TestScanHistoryLastWriteWins(t *testing.T) {
	sh, err := NewScanHistory("", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewScanHistory: %v", err)
	}

	ctx := context.Background()
	base := time.Now()
	_ = sh.Record(ctx, historyResult("s1", "left-pad", "1.0.0", 95, models.RiskLow, base))
	_ = sh.Record(ctx, historyResult("s2", "left-pad", "1.0.0", 60, models.RiskMedium, base.Add(time.Minute)))

	got, ok := sh.Lookup(ctx, "left-pad@1.0.0", base.Add(2*time.Minute))
	if !ok || got.ScanID != "s2" {
		t.Errorf("cache must hold the latest result, got %v, %v", got, ok)
	}
	if total := sh.Stats(ctx).TotalScans; total != 2 {
		t.Errorf("both scans belong in the history, total = %d", total)
	}
}

func TestScanHistoryRecent(t *testing.T) {
	sh, err := NewScanHistory("", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewScanHistory: %v", err)
	}

	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"s1", "s2", "s3"} {
		_ = sh.Record(ctx, historyResult(id, "pkg", "1.0."+id, 90, models.RiskLow, base.Add(time.Duration(i)*time.Minute)))
	}

	recent := sh.Recent(ctx, 2)
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}
	if recent[0].ScanID != "s3" || recent[1].ScanID != "s2" {
		t.Errorf("order = %s, %s; want newest first", recent[0].ScanID, recent[1].ScanID)
	}
	if got := sh.Recent(ctx, 0); len(got) != 3 {
		t.Errorf("limit 0 returns everything, got %d", len(got))
	}
}

func TestScanHistoryStats(t *testing.T) {
	sh, err := NewScanHistory("", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewScanHistory: %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	_ = sh.Record(ctx, historyResult("s1", "a", "1.0.0", 90, models.RiskLow, now))
	_ = sh.Record(ctx, historyResult("s2", "b", "1.0.0", 30, models.RiskCritical, now))
	_ = sh.Record(ctx, historyResult("s3", "c", "1.0.0", 30, models.RiskCritical, now.Add(-48*time.Hour)))

	stats := sh.Stats(ctx)
	if stats.TotalScans != 3 {
		t.Errorf("total = %d", stats.TotalScans)
	}
	if stats.RiskLevelBreakdown[models.RiskCritical] != 2 || stats.RiskLevelBreakdown[models.RiskLow] != 1 {
		t.Errorf("breakdown = %v", stats.RiskLevelBreakdown)
	}
	if want := 50.0; stats.AverageScore != want {
		t.Errorf("average = %v, want %v", stats.AverageScore, want)
	}
	// Only the critical scan inside the 24h window counts as recent.
	if len(stats.RecentCritical) != 1 || stats.RecentCritical[0].ScanID != "s2" {
		t.Errorf("recent critical = %v", stats.RecentCritical)
	}
}

func TestScanHistoryPersistenceReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	base := time.Now()

	first, err := NewScanHistory(dir, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewScanHistory: %v", err)
	}
	_ = first.Record(ctx, historyResult("s1", "left-pad", "1.0.0", 95, models.RiskLow, base.Add(-time.Minute)))
	_ = first.Record(ctx, historyResult("s2", "left-pad", "1.0.0", 60, models.RiskMedium, base))
	_ = first.Record(ctx, historyResult("s3", "stale", "2.0.0", 80, models.RiskLow, base.Add(-2*time.Hour)))

	second, err := NewScanHistory(dir, time.Hour, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if total := second.Stats(ctx).TotalScans; total != 3 {
		t.Errorf("reloaded total = %d, want 3", total)
	}
	got, ok := second.Lookup(ctx, "left-pad@1.0.0", base)
	if !ok || got.ScanID != "s2" {
		t.Errorf("reload must cache the latest result per key, got %v, %v", got, ok)
	}
	// Results already past the TTL are kept in the history but not the cache.
	if _, ok := second.Lookup(ctx, "stale@2.0.0", base); ok {
		t.Error("stale result must not be cached on reload")
	}
}

func TestScanHistoryJanitorEvicts(t *testing.T) {
	sh, err := NewScanHistory("", 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewScanHistory: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = sh.Record(ctx, historyResult("s1", "left-pad", "1.0.0", 95, models.RiskLow, time.Now()))
	sh.StartJanitor(ctx, 20*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sh.mu.RLock()
		n := len(sh.cache)
		sh.mu.RUnlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("janitor never evicted the expired entry")
}
