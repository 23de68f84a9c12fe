package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bastionhq/bastion/internal/dataset"
	"github.com/bastionhq/bastion/internal/storage"
	"github.com/bastionhq/bastion/pkg/models"
)

const testDataset = `
version: "test"
vulnerabilities:
  - id: VULN-1
    package_name: left-pad
    affected_versions: "1.x"
    severity: critical
    cve: CVE-2024-0001
signatures:
  - id: sig-1
    signature: evil_payload_marker
    type: trojan
    severity: critical
`

func testConfig() models.ScannerConfig {
	return models.ScannerConfig{
		Malware:      models.MalwareConfig{Enabled: true},
		Secrets:      models.SecretsConfig{EntropyThreshold: 4.0},
		Dependencies: models.DependencyConfig{CheckTransitive: true},
		CacheTTL:     time.Hour,
	}
}

func newTestScanner(t *testing.T, ttl time.Duration) (*Scanner, *storage.ScanHistory) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dataset.yaml")
	if err := os.WriteFile(path, []byte(testDataset), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	ds := dataset.NewStore(nil)
	if err := ds.LoadFile(path); err != nil {
		t.Fatalf("load dataset: %v", err)
	}

	history, err := storage.NewScanHistory("", ttl, nil)
	if err != nil {
		t.Fatalf("build history: %v", err)
	}

	s, err := NewScanner(ds, history, testConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return s, history
}

func TestScanCleanArtifact(t *testing.T) {
	s, _ := newTestScanner(t, time.Hour)

	result, err := s.Scan(context.Background(), models.ArtifactInput{
		Name:    "harmless",
		Version: "1.0.0",
		Content: []byte("package main\n\nfunc main() {}\n"),
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if result.SecurityScore != 100 {
		t.Errorf("score = %d, want 100", result.SecurityScore)
	}
	if result.RiskLevel != models.RiskLow {
		t.Errorf("risk level = %q, want low", result.RiskLevel)
	}
	if result.ActionRequired != models.ActionApproved {
		t.Errorf("action = %q, want approved", result.ActionRequired)
	}
	if result.ScanID == "" {
		t.Error("scan ID must be set")
	}
	if result.ContentDigest == "" {
		t.Error("content digest must be set")
	}
	if len(result.Recommendations) != 0 {
		t.Errorf("clean artifact should have no recommendations, got %v", result.Recommendations)
	}
	for _, std := range []string{"owasp", "nist", "iso27001", "pci"} {
		if !result.ComplianceStatus[std] {
			t.Errorf("compliance %s should pass for a clean artifact", std)
		}
	}
}

func TestScanAnonymousContentRecorded(t *testing.T) {
	s, history := newTestScanner(t, time.Hour)

	result, err := s.Scan(context.Background(), models.ArtifactInput{
		Content: []byte("package main\n\nfunc main() {}\n"),
		Path:    "blobs/in-flight.bin",
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.PackageName != "blobs/in-flight.bin" {
		t.Errorf("package name = %q, want the path fallback", result.PackageName)
	}

	recent := history.Recent(context.Background(), 0)
	if len(recent) != 1 {
		t.Fatalf("history holds %d results after a completed scan, want 1", len(recent))
	}
	if recent[0].ScanID != result.ScanID {
		t.Errorf("recorded scan = %s, want %s", recent[0].ScanID, result.ScanID)
	}

	// Nameless content with no path at all is still recorded.
	bare, err := s.Scan(context.Background(), models.ArtifactInput{Content: []byte("x = 1\n")})
	if err != nil {
		t.Fatalf("Scan bare content: %v", err)
	}
	if bare.ScanID == "" {
		t.Error("scan ID must be set")
	}
	if got := history.Stats(context.Background()).TotalScans; got != 2 {
		t.Errorf("total scans = %d, want 2", got)
	}
}

func TestScanCacheIdempotentWithinTTL(t *testing.T) {
	s, _ := newTestScanner(t, time.Hour)

	base := time.Now()
	s.now = func() time.Time { return base }

	input := models.ArtifactInput{Name: "harmless", Version: "1.0.0", Content: []byte("fine")}

	first, err := s.Scan(context.Background(), input)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	second, err := s.Scan(context.Background(), input)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if first.ScanID != second.ScanID {
		t.Errorf("cached scan must return the identical result: %s vs %s", first.ScanID, second.ScanID)
	}

	// Past the TTL the result is recomputed.
	s.now = func() time.Time { return base.Add(61 * time.Minute) }
	third, err := s.Scan(context.Background(), input)
	if err != nil {
		t.Fatalf("third scan: %v", err)
	}
	if third.ScanID == first.ScanID {
		t.Error("expired cache entry must trigger a fresh scan")
	}
}

func TestScanWithoutVersionNeverCached(t *testing.T) {
	s, _ := newTestScanner(t, time.Hour)

	input := models.ArtifactInput{Name: "harmless", Content: []byte("fine")}
	first, err := s.Scan(context.Background(), input)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	second, err := s.Scan(context.Background(), input)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if first.ScanID == second.ScanID {
		t.Error("inputs without a version must always be rescanned")
	}
}

func TestScanCriticalVulnerability(t *testing.T) {
	s, _ := newTestScanner(t, time.Hour)

	result, err := s.Scan(context.Background(), models.ArtifactInput{
		Name:    "left-pad",
		Version: "1.0.0",
		Content: []byte("fine"),
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(result.Findings.Vulnerabilities) != 1 {
		t.Fatalf("expected 1 vulnerability, got %d", len(result.Findings.Vulnerabilities))
	}
	if result.SecurityScore != 60 {
		t.Errorf("score = %d, want 60", result.SecurityScore)
	}
	if result.RiskLevel != models.RiskMedium {
		t.Errorf("risk level = %q, want medium", result.RiskLevel)
	}
	if len(result.Recommendations) == 0 {
		t.Error("expected an upgrade recommendation")
	}
}

func TestScanMalwareSignature(t *testing.T) {
	s, _ := newTestScanner(t, time.Hour)

	result, err := s.Scan(context.Background(), models.ArtifactInput{
		Name:    "trojaned",
		Version: "1.0.0",
		Content: []byte("prefix evil_payload_marker suffix"),
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if !result.Findings.HasMalware() {
		t.Fatal("expected a malware finding")
	}
	// The malware category is zeroed: 100 minus its 20-point weight.
	if result.SecurityScore != 80 {
		t.Errorf("score = %d, want 80", result.SecurityScore)
	}
}

func TestScanDetectorFailureAborts(t *testing.T) {
	history, err := storage.NewScanHistory("", time.Hour, nil)
	if err != nil {
		t.Fatalf("build history: %v", err)
	}
	s, err := NewScanner(dataset.NewStore(nil), history, testConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	_, err = s.Scan(context.Background(), models.ArtifactInput{
		Name:    "anything",
		Version: "1.0.0",
		Content: []byte("fine"),
	})
	if !errors.Is(err, dataset.ErrUnavailable) {
		t.Fatalf("expected dataset unavailability to fail the scan, got %v", err)
	}

	// A failed scan leaves no trace in the history.
	if stats := history.Stats(context.Background()); stats.TotalScans != 0 {
		t.Errorf("failed scan must not be recorded, history has %d scans", stats.TotalScans)
	}
}

func TestScanRecordsHistory(t *testing.T) {
	s, history := newTestScanner(t, time.Hour)

	if _, err := s.Scan(context.Background(), models.ArtifactInput{
		Name:    "harmless",
		Version: "1.0.0",
		Content: []byte("fine"),
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	stats := history.Stats(context.Background())
	if stats.TotalScans != 1 {
		t.Fatalf("history scans = %d, want 1", stats.TotalScans)
	}
	if stats.RiskLevelBreakdown[models.RiskLow] != 1 {
		t.Errorf("risk breakdown = %v", stats.RiskLevelBreakdown)
	}
}
