// Package scanner runs the four security detectors concurrently and folds
// their findings into a single scored result.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bastionhq/bastion/internal/dataset"
	"github.com/bastionhq/bastion/internal/scanner/depaudit"
	"github.com/bastionhq/bastion/internal/scanner/malware"
	"github.com/bastionhq/bastion/internal/scanner/scoring"
	"github.com/bastionhq/bastion/internal/scanner/secrets"
	"github.com/bastionhq/bastion/internal/scanner/vulnmatch"
	"github.com/bastionhq/bastion/pkg/models"
	"github.com/bastionhq/bastion/pkg/utils"
)

// History is the scan cache and audit history the scanner records into.
type History interface {
	Lookup(ctx context.Context, key string, now time.Time) (*models.ScanResult, bool)
	Record(ctx context.Context, result *models.ScanResult) error
}

// Scanner coordinates the detectors. A single Scanner is safe for
// concurrent use.
type Scanner struct {
	dataset *dataset.Store
	vulns   *vulnmatch.Matcher
	malware *malware.Detector
	secrets *secrets.Detector
	deps    *depaudit.Auditor
	history History
	cfg     models.ScannerConfig
	metrics *utils.Metrics
	logger  *logrus.Logger
	now     func() time.Time
}

func NewScanner(ds *dataset.Store, history History, cfg models.ScannerConfig, metrics *utils.Metrics, logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if ds == nil {
		return nil, fmt.Errorf("dataset store is required")
	}

	secretsDetector, err := secrets.NewDetector(cfg.Secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("build secrets detector: %w", err)
	}

	return &Scanner{
		dataset: ds,
		vulns:   vulnmatch.NewMatcher(ds, logger),
		malware: malware.NewDetector(logger),
		secrets: secretsDetector,
		deps:    depaudit.NewAuditor(ds, nil, logger),
		history: history,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Scan analyzes the artifact and returns its scored result. Results for the
// same package name and version are served from the history cache while
// fresh; inputs missing either identifier are always scanned. If any
// detector fails the whole scan fails, so a partial result can never be
// mistaken for a clean one.
func (s *Scanner) Scan(ctx context.Context, input models.ArtifactInput) (*models.ScanResult, error) {
	start := s.now()

	if key := input.CacheKey(); key != "" && s.history != nil {
		if cached, ok := s.history.Lookup(ctx, key, start); ok {
			s.metrics.IncCacheHit()
			s.logger.Debugf("Cache hit for %s", key)
			return cached, nil
		}
	}

	findings, skippedContent, err := s.runDetectors(ctx, input)
	if err != nil {
		s.metrics.IncScanError()
		return nil, fmt.Errorf("scan %s: %w", input.Name, err)
	}

	sub := scoring.Subscores{
		Vulnerabilities: scoring.VulnerabilitySubscore(findings.Vulnerabilities),
		Dependencies:    scoring.DependencySubscore(findings.Dependencies),
		Malware:         scoring.MalwareSubscore(findings.Malware, findings.SuspiciousPatterns, skippedContent),
		Secrets:         scoring.SecretsSubscore(findings.Secrets, skippedContent),
		CodeQuality:     scoring.CodeQualitySubscore(),
	}
	score := scoring.Composite(sub)
	riskLevel := scoring.RiskLevel(score)

	// Anonymous content is recorded under its path so every completed scan
	// lands in the history, cacheable or not.
	name := input.Name
	if name == "" {
		name = input.Path
	}

	end := s.now()
	result := &models.ScanResult{
		ScanID:           uuid.NewString(),
		PackageName:      name,
		PackageVersion:   input.Version,
		Timestamp:        end.UTC(),
		ScanDurationMs:   end.Sub(start).Milliseconds(),
		SecurityScore:    score,
		RiskLevel:        riskLevel,
		Findings:         findings,
		Recommendations:  scoring.Recommendations(findings, score),
		ComplianceStatus: scoring.Compliance(score, riskLevel),
		ActionRequired:   scoring.Action(riskLevel),
	}
	if len(input.Content) > 0 {
		result.ContentDigest = utils.ContentDigest(input.Content)
	}

	if s.history != nil {
		if err := s.history.Record(ctx, result); err != nil {
			s.logger.Warnf("Failed to record scan %s: %v", result.ScanID, err)
		}
	}

	s.metrics.ObserveScan(riskLevel, end.Sub(start))
	s.logger.Infof("Scanned %s@%s: score=%d risk=%s findings=%d",
		input.Name, input.Version, score, riskLevel, findings.Total())

	return result, nil
}

// runDetectors fans the four detectors out on an errgroup; the first failure
// cancels the rest. The returned bool reports whether content-based
// detection was skipped because the input carried no content.
func (s *Scanner) runDetectors(ctx context.Context, input models.ArtifactInput) (models.FindingSet, bool, error) {
	var findings models.FindingSet
	skippedContent := len(input.Content) == 0

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		vulns, err := s.vulns.Match(input.Name, input.Version, input.Dependencies, s.cfg.Dependencies.CheckTransitive)
		if err != nil {
			return fmt.Errorf("vulnerability match: %w", err)
		}
		findings.Vulnerabilities = vulns
		return nil
	})

	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		if skippedContent || !s.cfg.Malware.Enabled {
			return nil
		}
		signatures, err := s.signatures()
		if err != nil {
			return fmt.Errorf("load malware signatures: %w", err)
		}
		res := s.malware.Detect(input.Content, signatures)
		findings.Malware = res.Malware
		findings.SuspiciousPatterns = res.SuspiciousPatterns
		return nil
	})

	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		if skippedContent {
			return nil
		}
		findings.Secrets = s.secrets.Detect(input.Content)
		return nil
	})

	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		deps, err := s.deps.Audit(input.Dependencies)
		if err != nil {
			return fmt.Errorf("dependency audit: %w", err)
		}
		findings.Dependencies = deps
		return nil
	})

	if err := g.Wait(); err != nil {
		return models.FindingSet{}, skippedContent, err
	}
	return findings, skippedContent, nil
}

// signatures merges the dataset signatures with any operator-supplied
// literal signatures from config.
func (s *Scanner) signatures() ([]models.MalwareSignature, error) {
	signatures, err := s.dataset.Signatures()
	if err != nil {
		return nil, err
	}
	for i, sig := range s.cfg.Malware.ExtraSignatures {
		if sig.Signature == "" {
			continue
		}
		if sig.ID == "" {
			sig.ID = fmt.Sprintf("custom-%d", i+1)
		}
		if sig.Severity == "" {
			sig.Severity = models.SeverityHigh
		}
		signatures = append(signatures, sig)
	}
	return signatures, nil
}
