package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bastionhq/bastion/pkg/models"
)

const recentWindow = 24 * time.Hour

// ScanHistory keeps every scan result in memory and serves fresh results as
// a cache keyed by package name and version. When a directory is configured
// the history is also persisted, one JSON file per scan, and reloaded on
// startup.
type ScanHistory struct {
	mu      sync.RWMutex
	cache   map[string]*models.ScanResult
	results []*models.ScanResult
	ttl     time.Duration
	dir     string
	logger  *logrus.Logger
}

// NewScanHistory builds a history with the given cache TTL. dir may be empty
// for a memory-only history.
func NewScanHistory(dir string, ttl time.Duration, logger *logrus.Logger) (*ScanHistory, error) {
	if logger == nil {
		logger = logrus.New()
	}

	sh := &ScanHistory{
		cache:  make(map[string]*models.ScanResult),
		ttl:    ttl,
		dir:    dir,
		logger: logger,
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
		if err := sh.loadPersisted(); err != nil {
			logger.Warnf("Failed to load persisted scan history: %v", err)
		}
	}

	return sh, nil
}

// Lookup returns the cached result for the key if one exists and is still
// fresh at now.
func (sh *ScanHistory) Lookup(ctx context.Context, key string, now time.Time) (*models.ScanResult, bool) {
	if key == "" || ctx.Err() != nil {
		return nil, false
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	result, ok := sh.cache[key]
	if !ok || !result.FreshAt(now, sh.ttl) {
		return nil, false
	}
	return result, true
}

// Record appends the result to the history and refreshes the cache entry for
// its package. Persistence failures are logged, not fatal: the in-memory
// history already holds the result.
func (sh *ScanHistory) Record(ctx context.Context, result *models.ScanResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := result.Validate(); err != nil {
		return fmt.Errorf("invalid scan result: %w", err)
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.results = append(sh.results, result)
	if key := result.CacheKey(); key != "" {
		sh.cache[key] = result
	}

	if sh.dir != "" {
		if err := sh.persist(result); err != nil {
			sh.logger.Warnf("Failed to persist scan %s: %v", result.ScanID, err)
		}
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (sh *ScanHistory) Recent(ctx context.Context, limit int) []*models.ScanResult {
	if ctx.Err() != nil {
		return nil
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	n := len(sh.results)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*models.ScanResult, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, sh.results[i])
	}
	return out
}

// Stats aggregates the full history.
func (sh *ScanHistory) Stats(ctx context.Context) models.HistoryStats {
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	stats := models.HistoryStats{
		TotalScans:         len(sh.results),
		RiskLevelBreakdown: make(map[string]int),
	}

	cutoff := time.Now().Add(-recentWindow)
	var scoreSum int
	for _, r := range sh.results {
		stats.RiskLevelBreakdown[r.RiskLevel]++
		scoreSum += r.SecurityScore
		if r.RiskLevel == models.RiskCritical && r.Timestamp.After(cutoff) {
			stats.RecentCritical = append(stats.RecentCritical, *r)
		}
	}
	if len(sh.results) > 0 {
		stats.AverageScore = float64(scoreSum) / float64(len(sh.results))
	}
	return stats
}

// StartJanitor evicts expired cache entries on the given interval until the
// context is canceled.
func (sh *ScanHistory) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = sh.ttl / 2
	}
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
			case now := <-ticker.C:
				sh.evictExpired(now)
			}
		}
	}()
}

func (sh *ScanHistory) evictExpired(now time.Time) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for key, result := range sh.cache {
		if !result.FreshAt(now, sh.ttl) {
			delete(sh.cache, key)
		}
	}
}

func (sh *ScanHistory) persist(result *models.ScanResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scan result: %w", err)
	}
	path := filepath.Join(sh.dir, fmt.Sprintf("scan_%s.json", result.ScanID))
	return writeFileAtomic(path, data)
}

func (sh *ScanHistory) loadPersisted() error {
	entries, err := os.ReadDir(sh.dir)
	if err != nil {
		return fmt.Errorf("read history directory: %w", err)
	}

	loaded := make([]*models.ScanResult, 0, len(entries))
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, "scan_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sh.dir, name))
		if err != nil {
			sh.logger.Warnf("Failed to read history file %s: %v", name, err)
			continue
		}
		var result models.ScanResult
		if err := json.Unmarshal(data, &result); err != nil {
			sh.logger.Warnf("Failed to parse history file %s: %v", name, err)
			continue
		}
		loaded = append(loaded, &result)
	}

	// Oldest first so the cache ends up holding the latest result per key.
	sortResultsByTime(loaded)
	now := time.Now()
	for _, r := range loaded {
		sh.results = append(sh.results, r)
		if key := r.CacheKey(); key != "" && r.FreshAt(now, sh.ttl) {
			sh.cache[key] = r
		}
	}

	if len(loaded) > 0 {
		sh.logger.Infof("Loaded %d scan results from %s", len(loaded), sh.dir)
	}
	return nil
}

func sortResultsByTime(results []*models.ScanResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})
}
