// Package dataset holds the read-only vulnerability and malware-signature
// snapshot the scanner matches against. Snapshots are produced out-of-band
// and swapped in atomically; the scanner never mutates them.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bastionhq/bastion/pkg/models"
)

// ErrUnavailable is returned when no snapshot has been loaded. Callers may
// retry after a refresh or fail the scan.
var ErrUnavailable = errors.New("vulnerability dataset unavailable")

type snapshot struct {
	version    string
	loadedAt   time.Time
	byPackage  map[string][]models.VulnerabilityRecord
	signatures []models.MalwareSignature
	vulnCount  int
}

type Store struct {
	mu     sync.RWMutex
	cur    *snapshot
	path   string
	logger *logrus.Logger
}

type datasetFile struct {
	Version         string                       `yaml:"version"`
	Vulnerabilities []models.VulnerabilityRecord `yaml:"vulnerabilities"`
	Signatures      []models.MalwareSignature    `yaml:"signatures"`
}

func NewStore(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{logger: logger}
}

// LoadFile reads a dataset file and swaps it in as the current snapshot.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read dataset file: %w", err)
	}

	var df datasetFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return fmt.Errorf("parse dataset file: %w", err)
	}

	snap := &snapshot{
		version:    df.Version,
		loadedAt:   time.Now(),
		byPackage:  make(map[string][]models.VulnerabilityRecord, len(df.Vulnerabilities)),
		signatures: df.Signatures,
		vulnCount:  len(df.Vulnerabilities),
	}
	for _, rec := range df.Vulnerabilities {
		name := strings.ToLower(rec.PackageName)
		snap.byPackage[name] = append(snap.byPackage[name], rec)
	}

	s.mu.Lock()
	s.cur = snap
	s.path = path
	s.mu.Unlock()

	s.logger.Infof("Loaded dataset %q: %d vulnerability records, %d signatures",
		df.Version, len(df.Vulnerabilities), len(df.Signatures))
	return nil
}

// Reload re-reads the file the current snapshot came from. The previous
// snapshot stays in place if the reload fails.
func (s *Store) Reload() error {
	s.mu.RLock()
	path := s.path
	s.mu.RUnlock()
	if path == "" {
		return ErrUnavailable
	}
	return s.LoadFile(path)
}

// StartRefresher reloads the dataset on the given interval until ctx is done.
func (s *Store) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Reload(); err != nil {
					s.logger.Warnf("Dataset refresh failed: %v", err)
				}
			}
		}
	}()
}

// Lookup returns the vulnerability records whose package name matches and
// whose affected-version pattern covers the given version.
func (s *Store) Lookup(name, version string) ([]models.VulnerabilityRecord, error) {
	s.mu.RLock()
	snap := s.cur
	s.mu.RUnlock()
	if snap == nil {
		return nil, ErrUnavailable
	}

	var out []models.VulnerabilityRecord
	for _, rec := range snap.byPackage[strings.ToLower(name)] {
		if matchesVersion(rec.AffectedVersions, version) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CountByName returns how many records exist for the package regardless of
// version. Used by the dependency auditor's coarse check.
func (s *Store) CountByName(name string) (int, error) {
	s.mu.RLock()
	snap := s.cur
	s.mu.RUnlock()
	if snap == nil {
		return 0, ErrUnavailable
	}
	return len(snap.byPackage[strings.ToLower(name)]), nil
}

func (s *Store) Signatures() ([]models.MalwareSignature, error) {
	s.mu.RLock()
	snap := s.cur
	s.mu.RUnlock()
	if snap == nil {
		return nil, ErrUnavailable
	}
	return snap.signatures, nil
}

func (s *Store) Info() (models.DatasetInfo, error) {
	s.mu.RLock()
	snap := s.cur
	s.mu.RUnlock()
	if snap == nil {
		return models.DatasetInfo{}, ErrUnavailable
	}
	return models.DatasetInfo{
		Version:         snap.version,
		LoadedAt:        snap.loadedAt,
		Vulnerabilities: snap.vulnCount,
		Signatures:      len(snap.signatures),
	}, nil
}

// matchesVersion checks an affected-version pattern against a concrete
// version. Patterns are semver constraints ("1.x", ">=2.0.0 <2.4.1"); the
// match degrades to prefix/exact comparison for non-semver versions rather
// than rejecting them.
func matchesVersion(pattern, version string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return true
	}

	if c, err := semver.NewConstraint(pattern); err == nil {
		if v, err := semver.NewVersion(version); err == nil {
			return c.Check(v)
		}
	}

	if strings.HasSuffix(pattern, ".x") || strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(version, pattern[:len(pattern)-1])
	}
	return pattern == version
}
