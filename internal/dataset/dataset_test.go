package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const testDataset = `
version: "2026-08-01"
vulnerabilities:
  - id: VULN-1
    package_name: left-pad
    affected_versions: "1.x"
    fixed_version: "2.0.0"
    severity: critical
    cve: CVE-2024-0001
    exploit_available: true
  - id: VULN-2
    package_name: left-pad
    affected_versions: ">=2.0.0 <2.1.0"
    severity: medium
  - id: VULN-3
    package_name: Event-Stream
    affected_versions: "*"
    severity: high
signatures:
  - id: sig-1
    signature: evil_payload_marker
    type: trojan
    severity: critical
`

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return path
}

func TestStoreUnavailableBeforeLoad(t *testing.T) {
	s := NewStore(nil)

	if _, err := s.Lookup("left-pad", "1.0.0"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Lookup error = %v, want ErrUnavailable", err)
	}
	if _, err := s.Signatures(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Signatures error = %v, want ErrUnavailable", err)
	}
	if err := s.Reload(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Reload error = %v, want ErrUnavailable", err)
	}
}

func TestLoadFileAndLookup(t *testing.T) {
	s := NewStore(nil)
	if err := s.LoadFile(writeDataset(t, testDataset)); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	tests := []struct {
		name    string
		version string
		wantIDs []string
	}{
		{"left-pad", "1.0.0", []string{"VULN-1"}},
		{"left-pad", "1.9.3", []string{"VULN-1"}},
		{"left-pad", "2.0.5", []string{"VULN-2"}},
		{"left-pad", "2.1.0", nil},
		{"event-stream", "3.3.6", []string{"VULN-3"}},
		{"EVENT-STREAM", "0.0.1", []string{"VULN-3"}},
		{"unknown", "1.0.0", nil},
	}
	for _, tt := range tests {
		records, err := s.Lookup(tt.name, tt.version)
		if err != nil {
			t.Fatalf("Lookup(%s, %s): %v", tt.name, tt.version, err)
		}
		if len(records) != len(tt.wantIDs) {
			t.Errorf("Lookup(%s, %s) returned %d records, want %d", tt.name, tt.version, len(records), len(tt.wantIDs))
			continue
		}
		for i, id := range tt.wantIDs {
			if records[i].ID != id {
				t.Errorf("Lookup(%s, %s)[%d].ID = %s, want %s", tt.name, tt.version, i, records[i].ID, id)
			}
		}
	}
}

func TestCountByName(t *testing.T) {
	s := NewStore(nil)
	if err := s.LoadFile(writeDataset(t, testDataset)); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	count, err := s.CountByName("left-pad")
	if err != nil {
		t.Fatalf("CountByName: %v", err)
	}
	if count != 2 {
		t.Errorf("CountByName(left-pad) = %d, want 2", count)
	}
}

func TestSignaturesAndInfo(t *testing.T) {
	s := NewStore(nil)
	if err := s.LoadFile(writeDataset(t, testDataset)); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	sigs, err := s.Signatures()
	if err != nil {
		t.Fatalf("Signatures: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Signature != "evil_payload_marker" {
		t.Errorf("unexpected signatures: %+v", sigs)
	}

	info, err := s.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Version != "2026-08-01" || info.Vulnerabilities != 3 || info.Signatures != 1 {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.LoadedAt.IsZero() {
		t.Error("LoadedAt must be set")
	}
}

func TestReloadKeepsSnapshotOnFailure(t *testing.T) {
	path := writeDataset(t, testDataset)
	s := NewStore(nil)
	if err := s.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if err := os.WriteFile(path, []byte("version: [unclosed"), 0o644); err != nil {
		t.Fatalf("corrupt dataset: %v", err)
	}
	if err := s.Reload(); err == nil {
		t.Fatal("expected reload of corrupt file to fail")
	}

	// The previous snapshot still serves lookups.
	records, err := s.Lookup("left-pad", "1.0.0")
	if err != nil {
		t.Fatalf("Lookup after failed reload: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected previous snapshot to survive, got %d records", len(records))
	}
}

func TestMatchesVersion(t *testing.T) {
	tests := []struct {
		pattern string
		version string
		want    bool
	}{
		{"*", "anything", true},
		{"", "1.0.0", true},
		{"1.x", "1.5.2", true},
		{"1.x", "2.0.0", false},
		{">=2.0.0 <2.4.1", "2.4.0", true},
		{">=2.0.0 <2.4.1", "2.4.1", false},
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.2.4", false},
		// Non-semver versions degrade to prefix/exact matching.
		{"1.x", "1.beta", true},
		{"weird-tag", "weird-tag", true},
	}
	for _, tt := range tests {
		if got := matchesVersion(tt.pattern, tt.version); got != tt.want {
			t.Errorf("matchesVersion(%q, %q) = %v, want %v", tt.pattern, tt.version, got, tt.want)
		}
	}
}
