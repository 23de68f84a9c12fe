// Package gateway implements the secure storage gateway: every write is
// scanned, scored, and either stored in the primary namespace or diverted to
// quarantine with an audit trail.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bastionhq/bastion/internal/storage"
	"github.com/bastionhq/bastion/pkg/models"
	"github.com/bastionhq/bastion/pkg/utils"
)

var (
	// ErrUnsupportedContent rejects a write before any storage side effect.
	ErrUnsupportedContent = errors.New("unsupported content")
	// ErrQuarantineWriteFailed means the quarantine namespace itself rejected
	// the write. This is fatal: the artifact must never fall back to the
	// primary namespace.
	ErrQuarantineWriteFailed = errors.New("quarantine write failed")
)

const defaultBatchConcurrency = 5

// Metadata keys stored alongside objects so rescans can rebuild scan inputs.
const (
	metaPackageName    = "package_name"
	metaPackageVersion = "package_version"
	metaQuarantineKey  = "quarantineReason"
	metaScoreKey       = "securityScore"
	metaQuarantineDate = "quarantineDate"
)

// ScanService is the slice of the scanner the gateway needs.
type ScanService interface {
	Scan(ctx context.Context, input models.ArtifactInput) (*models.ScanResult, error)
}

// WriteOptions carries per-write metadata.
type WriteOptions struct {
	Name         string
	Version      string
	Dependencies map[string]string
	ContentType  string
	Actor        string
	Size         int64
	Metadata     map[string]string
}

// WriteResult reports the outcome of a single gateway write.
type WriteResult struct {
	Key             string               `json:"key"`
	Uploaded        bool                 `json:"uploaded"`
	Scanned         bool                 `json:"scanned"`
	Quarantined     bool                 `json:"quarantined"`
	SecurityScore   int                  `json:"security_score,omitempty"`
	RiskLevel       string               `json:"risk_level,omitempty"`
	Findings        models.FindingCounts `json:"findings"`
	WriteDurationMs int64                `json:"write_duration_ms"`
	ScanDurationMs  int64                `json:"scan_duration_ms,omitempty"`
	Error           string               `json:"error,omitempty"`
}

// BatchItem is one entry of a batch write.
type BatchItem struct {
	Key     string
	Content io.Reader
	Options WriteOptions
}

// RescanOutcome is the per-key result of a retroactive scan.
type RescanOutcome struct {
	Result      *models.ScanResult `json:"result,omitempty"`
	Quarantined bool               `json:"quarantined"`
	Error       string             `json:"error,omitempty"`
}

// Gateway enforces the scan and quarantine policy in front of the object
// store. Safe for concurrent use.
type Gateway struct {
	store   storage.ObjectStore
	audit   storage.AuditStore
	scanner ScanService
	alerts  AlertSink
	cfg     models.SecurityConfig
	limiter *rate.Limiter
	metrics *utils.Metrics
	logger  *logrus.Logger
	now     func() time.Time
}

func NewGateway(store storage.ObjectStore, audit storage.AuditStore, scanner ScanService, alerts AlertSink, cfg models.SecurityConfig, metrics *utils.Metrics, logger *logrus.Logger) (*Gateway, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if audit == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	if alerts == nil {
		alerts = NewLogSink(logger)
	}

	limit := rate.Inf
	if cfg.RescanRateLimit > 0 {
		limit = rate.Limit(cfg.RescanRateLimit)
	}

	return &Gateway{
		store:   store,
		audit:   audit,
		scanner: scanner,
		alerts:  alerts,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, maxInt(1, cfg.RescanRateLimit)),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Write normalizes the content, scans it when the policy says so, and stores
// it in the primary or quarantine namespace. The returned WriteResult is
// non-nil even on error so callers always see the per-item outcome.
func (g *Gateway) Write(ctx context.Context, key string, content io.Reader, opts WriteOptions) (*WriteResult, error) {
	start := g.now()
	result := &WriteResult{Key: key}

	finish := func(outcome string, err error) (*WriteResult, error) {
		result.WriteDurationMs = g.now().Sub(start).Milliseconds()
		g.metrics.ObserveWrite(outcome, g.now().Sub(start))
		if err != nil {
			result.Error = err.Error()
		}
		return result, err
	}

	if key == "" {
		return finish("error", fmt.Errorf("%w: empty key", ErrUnsupportedContent))
	}
	if content == nil {
		return finish("error", fmt.Errorf("%w: nil content for %s", ErrUnsupportedContent, key))
	}

	data, truncated, err := g.normalize(content)
	if err != nil {
		return finish("error", fmt.Errorf("normalize content for %s: %w", key, err))
	}

	oversized := truncated || opts.Size > g.cfg.MaxFileSize
	meta := g.objectMeta(key, data, opts, truncated)

	if !g.shouldScan(key, oversized) {
		if err := g.store.Put(ctx, storage.NamespacePrimary, key, data, meta); err != nil {
			g.appendAudit(ctx, g.errorEntry(key, opts.Actor, err))
			return finish("error", fmt.Errorf("store %s: %w", key, err))
		}
		if err := g.audit.Append(ctx, g.uploadEntry(key, opts.Actor, nil, meta.Digest)); err != nil {
			return finish("error", fmt.Errorf("audit upload of %s: %w", key, err))
		}
		result.Uploaded = true
		g.logger.Debugf("Stored %s without scanning", key)
		return finish("upload", nil)
	}

	scan, err := g.scanner.Scan(ctx, models.ArtifactInput{
		Name:         opts.Name,
		Version:      opts.Version,
		Content:      data,
		Dependencies: opts.Dependencies,
		Path:         key,
	})
	if err != nil {
		g.appendAudit(ctx, g.errorEntry(key, opts.Actor, err))
		g.notify(ctx, Alert{
			Type:      AlertTypeScanError,
			Key:       key,
			Reason:    err.Error(),
			Timestamp: g.now().UTC(),
		})
		return finish("error", fmt.Errorf("scan %s: %w", key, err))
	}

	result.Scanned = true
	result.SecurityScore = scan.SecurityScore
	result.RiskLevel = scan.RiskLevel
	result.Findings = scan.Findings.Counts()
	result.ScanDurationMs = scan.ScanDurationMs

	if g.shouldQuarantine(scan) {
		if !g.cfg.AutoQuarantine {
			// Alert-only mode: the artifact is flagged and uploaded anyway.
			g.notify(ctx, quarantineAlert(key, scan, g.now()))
			if err := g.audit.Append(ctx, g.alertEntry(key, opts.Actor, scan, meta.Digest)); err != nil {
				return finish("error", fmt.Errorf("audit alert for %s: %w", key, err))
			}
			if err := g.store.Put(ctx, storage.NamespacePrimary, key, data, meta); err != nil {
				g.appendAudit(ctx, g.errorEntry(key, opts.Actor, err))
				return finish("error", fmt.Errorf("store %s: %w", key, err))
			}
			result.Uploaded = true
			return finish("upload", nil)
		}

		if err := g.quarantine(ctx, key, data, meta, scan); err != nil {
			g.appendAudit(ctx, g.errorEntry(key, opts.Actor, err))
			return finish("error", err)
		}
		g.notify(ctx, quarantineAlert(key, scan, g.now()))
		if err := g.audit.Append(ctx, g.quarantineEntry(key, opts.Actor, scan, meta.Digest)); err != nil {
			return finish("error", fmt.Errorf("audit quarantine of %s: %w", key, err))
		}
		g.metrics.IncQuarantine()
		result.Quarantined = true
		g.logger.Warnf("Quarantined %s: score=%d risk=%s", key, scan.SecurityScore, scan.RiskLevel)
		return finish("quarantine", nil)
	}

	if err := g.store.Put(ctx, storage.NamespacePrimary, key, data, meta); err != nil {
		g.appendAudit(ctx, g.errorEntry(key, opts.Actor, err))
		return finish("error", fmt.Errorf("store %s: %w", key, err))
	}
	if err := g.audit.Append(ctx, g.uploadEntry(key, opts.Actor, scan, meta.Digest)); err != nil {
		return finish("error", fmt.Errorf("audit upload of %s: %w", key, err))
	}
	result.Uploaded = true
	return finish("upload", nil)
}

// BatchWrite processes items with bounded concurrency. Each item's failure
// is isolated to its own result slot; the batch itself never fails.
func (g *Gateway) BatchWrite(ctx context.Context, items []BatchItem, concurrency int) []*WriteResult {
	if concurrency <= 0 {
		concurrency = g.cfg.BatchConcurrency
	}
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}

	results := make([]*WriteResult, len(items))

	var grp errgroup.Group
	grp.SetLimit(concurrency)
	for i, item := range items {
		i, item := i, item
		grp.Go(func() error {
			res, err := g.Write(ctx, item.Key, item.Content, item.Options)
			if err != nil {
				g.logger.Warnf("Batch item %s failed: %v", item.Key, err)
			}
			results[i] = res
			return nil
		})
	}
	_ = grp.Wait()

	g.metrics.ObserveBatch(len(items))
	return results
}

// Rescan retroactively scans stored primary artifacts under prefix and moves
// newly flagged ones into quarantine. maxKeys <= 0 means no limit.
func (g *Gateway) Rescan(ctx context.Context, prefix string, maxKeys int) (map[string]*RescanOutcome, error) {
	objects, err := g.store.List(ctx, storage.NamespacePrimary, prefix, maxKeys)
	if err != nil {
		return nil, fmt.Errorf("list primary namespace: %w", err)
	}

	outcomes := make(map[string]*RescanOutcome, len(objects))
	for _, obj := range objects {
		if err := g.limiter.Wait(ctx); err != nil {
			return outcomes, fmt.Errorf("rescan rate limit: %w", err)
		}
		outcomes[obj.Key] = g.rescanOne(ctx, obj)
	}

	g.logger.Infof("Rescan of prefix %q covered %d artifacts", prefix, len(outcomes))
	return outcomes, nil
}

func (g *Gateway) rescanOne(ctx context.Context, obj storage.ObjectMeta) *RescanOutcome {
	outcome := &RescanOutcome{}

	data, meta, err := g.store.Get(ctx, storage.NamespacePrimary, obj.Key)
	if err != nil {
		outcome.Error = fmt.Sprintf("fetch: %v", err)
		return outcome
	}

	scan, err := g.scanner.Scan(ctx, models.ArtifactInput{
		Name:    meta.Metadata[metaPackageName],
		Version: meta.Metadata[metaPackageVersion],
		Content: data,
		Path:    obj.Key,
	})
	if err != nil {
		g.appendAudit(ctx, g.errorEntry(obj.Key, "rescan", err))
		outcome.Error = fmt.Sprintf("scan: %v", err)
		return outcome
	}
	outcome.Result = scan

	if !g.shouldQuarantine(scan) {
		return outcome
	}

	if err := g.quarantine(ctx, obj.Key, data, meta, scan); err != nil {
		g.appendAudit(ctx, g.errorEntry(obj.Key, "rescan", err))
		outcome.Error = err.Error()
		return outcome
	}
	if err := g.store.Delete(ctx, storage.NamespacePrimary, obj.Key); err != nil {
		// The quarantine copy exists; the stale primary copy is the defect.
		g.logger.Errorf("Failed to remove %s from primary after quarantine: %v", obj.Key, err)
		outcome.Error = fmt.Sprintf("remove primary copy: %v", err)
	}
	g.notify(ctx, quarantineAlert(obj.Key, scan, g.now()))
	if err := g.audit.Append(ctx, g.quarantineEntry(obj.Key, "rescan", scan, meta.Digest)); err != nil {
		// The move itself succeeded; surface the missing trail entry.
		outcome.Error = fmt.Sprintf("audit quarantine: %v", err)
	}
	g.metrics.IncQuarantine()
	outcome.Quarantined = true
	g.logger.Warnf("Retroactively quarantined %s: score=%d risk=%s", obj.Key, scan.SecurityScore, scan.RiskLevel)
	return outcome
}

// Stats aggregates the audit trail into the read-only gateway statistics.
func (g *Gateway) Stats(ctx context.Context) (*models.GatewayStats, error) {
	entries, err := g.audit.Query(ctx, storage.AuditFilter{})
	if err != nil {
		return nil, fmt.Errorf("query audit store: %w", err)
	}

	stats := &models.GatewayStats{RiskLevelBreakdown: make(map[string]int)}
	var scoreSum, scored int
	for _, e := range entries {
		switch e.Action {
		case models.AuditActionUpload, models.AuditActionQuarantine:
			stats.TotalScanned++
		}
		if e.Action == models.AuditActionQuarantine {
			stats.QuarantinedCount++
		}
		if e.RiskLevel != "" {
			stats.RiskLevelBreakdown[e.RiskLevel]++
			scoreSum += e.SecurityScore
			scored++
		}
		if e.IsHighRisk() {
			stats.RecentHighRisk = append(stats.RecentHighRisk, e)
		}
	}
	if scored > 0 {
		stats.AverageScore = float64(scoreSum) / float64(scored)
	}
	if len(stats.RecentHighRisk) > 10 {
		stats.RecentHighRisk = stats.RecentHighRisk[len(stats.RecentHighRisk)-10:]
	}
	return stats, nil
}

// normalize buffers up to MaxFileSize bytes from the reader. Content beyond
// the cap is dropped and reported as truncated; the cap bounds memory against
// attacker-controlled stream lengths.
func (g *Gateway) normalize(content io.Reader) ([]byte, bool, error) {
	limited := io.LimitReader(content, g.cfg.MaxFileSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > g.cfg.MaxFileSize {
		return data[:g.cfg.MaxFileSize], true, nil
	}
	return data, false, nil
}

// shouldScan applies the global switch, the include/exclude globs, and the
// size cap. Oversized content is written without scanning rather than
// scanned partially.
func (g *Gateway) shouldScan(key string, oversized bool) bool {
	if !g.cfg.EnableScanning || g.scanner == nil || oversized {
		return false
	}
	for _, pattern := range g.cfg.ExcludePatterns {
		if matchGlob(pattern, key) {
			return false
		}
	}
	if len(g.cfg.ScanPatterns) == 0 {
		return true
	}
	for _, pattern := range g.cfg.ScanPatterns {
		if matchGlob(pattern, key) {
			return true
		}
	}
	return false
}

// shouldQuarantine: any one condition is sufficient.
func (g *Gateway) shouldQuarantine(scan *models.ScanResult) bool {
	if scan.SecurityScore < g.cfg.QuarantineThreshold {
		return true
	}
	if scan.RiskLevel == models.RiskHigh || scan.RiskLevel == models.RiskCritical {
		return true
	}
	if scan.Findings.HasMalware() {
		return true
	}
	return scan.Findings.HasHighRiskSecret()
}

func (g *Gateway) quarantine(ctx context.Context, key string, data []byte, meta storage.ObjectMeta, scan *models.ScanResult) error {
	if meta.Metadata == nil {
		meta.Metadata = make(map[string]string)
	}
	meta.Metadata[metaQuarantineKey] = scan.RiskLevel
	meta.Metadata[metaScoreKey] = strconv.Itoa(scan.SecurityScore)
	meta.Metadata[metaQuarantineDate] = g.now().UTC().Format(time.RFC3339)

	if err := g.store.Put(ctx, storage.NamespaceQuarantine, key, data, meta); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrQuarantineWriteFailed, key, err)
	}
	return nil
}

func (g *Gateway) objectMeta(key string, data []byte, opts WriteOptions, truncated bool) storage.ObjectMeta {
	metadata := make(map[string]string, len(opts.Metadata)+2)
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	if opts.Name != "" {
		metadata[metaPackageName] = opts.Name
	}
	if opts.Version != "" {
		metadata[metaPackageVersion] = opts.Version
	}

	return storage.ObjectMeta{
		Key:         key,
		ContentType: opts.ContentType,
		Size:        int64(len(data)),
		Digest:      utils.ContentDigest(data),
		Truncated:   truncated,
		StoredAt:    g.now().UTC(),
		Metadata:    metadata,
	}
}

func (g *Gateway) uploadEntry(key, actor string, scan *models.ScanResult, digest string) models.AuditEntry {
	entry := g.baseEntry(key, actor, models.AuditActionUpload, digest)
	if scan != nil {
		entry.SecurityScore = scan.SecurityScore
		entry.RiskLevel = scan.RiskLevel
		entry.Findings = scan.Findings.Counts()
	}
	return entry
}

func (g *Gateway) quarantineEntry(key, actor string, scan *models.ScanResult, digest string) models.AuditEntry {
	entry := g.baseEntry(key, actor, models.AuditActionQuarantine, digest)
	entry.SecurityScore = scan.SecurityScore
	entry.RiskLevel = scan.RiskLevel
	entry.Quarantined = true
	entry.Findings = scan.Findings.Counts()
	return entry
}

func (g *Gateway) alertEntry(key, actor string, scan *models.ScanResult, digest string) models.AuditEntry {
	entry := g.baseEntry(key, actor, models.AuditActionAlert, digest)
	entry.SecurityScore = scan.SecurityScore
	entry.RiskLevel = scan.RiskLevel
	entry.Findings = scan.Findings.Counts()
	return entry
}

func (g *Gateway) errorEntry(key, actor string, cause error) models.AuditEntry {
	entry := g.baseEntry(key, actor, models.AuditActionError, "")
	entry.Metadata["error"] = cause.Error()
	return entry
}

func (g *Gateway) baseEntry(key, actor, action, digest string) models.AuditEntry {
	if actor == "" {
		actor = "gateway"
	}
	metadata := make(map[string]string, 2)
	if digest != "" {
		metadata["digest"] = digest
	}
	return models.AuditEntry{
		ID:        uuid.NewString(),
		Key:       key,
		Action:    action,
		Actor:     actor,
		Timestamp: g.now().UTC(),
		Metadata:  metadata,
	}
}

// appendAudit is best-effort and used only for failure-path entries. Entries
// recording a successful upload or quarantine must be durable before the
// request reports success, so those appends propagate their error instead.
func (g *Gateway) appendAudit(ctx context.Context, entry models.AuditEntry) {
	if err := g.audit.Append(ctx, entry); err != nil {
		g.logger.Errorf("Failed to append audit entry for %s: %v", entry.Key, err)
	}
}

func (g *Gateway) notify(ctx context.Context, alert Alert) {
	if err := g.alerts.Notify(ctx, alert); err != nil {
		g.logger.Warnf("Alert sink failed for %s: %v", alert.Key, err)
	}
}

func quarantineAlert(key string, scan *models.ScanResult, now time.Time) Alert {
	return Alert{
		Type:      AlertTypeQuarantine,
		Key:       key,
		ScanID:    scan.ScanID,
		Score:     scan.SecurityScore,
		RiskLevel: scan.RiskLevel,
		Reason:    scan.ActionRequired,
		Timestamp: now.UTC(),
	}
}

// matchGlob matches the pattern against the full key and its basename so
// "*.tar.gz" style patterns work on nested keys.
func matchGlob(pattern, key string) bool {
	if ok, err := path.Match(pattern, key); err == nil && ok {
		return true
	}
	ok, err := path.Match(pattern, path.Base(key))
	return err == nil && ok
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
