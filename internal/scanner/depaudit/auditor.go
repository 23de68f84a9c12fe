// Package depaudit cross-references an artifact's declared dependencies
// against the vulnerability dataset and flags staleness.
package depaudit

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/bastionhq/bastion/pkg/models"
)

// Dataset is the coarse by-name lookup the auditor needs.
type Dataset interface {
	CountByName(name string) (int, error)
}

// StalenessChecker reports whether a newer version of a dependency exists.
// The second return is false when staleness cannot be determined.
type StalenessChecker interface {
	LatestVersion(name string) (string, bool)
}

// unknownStaleness is the default checker: staleness is unknown, so no
// outdated findings are produced.
type unknownStaleness struct{}

func (unknownStaleness) LatestVersion(string) (string, bool) { return "", false }

type Auditor struct {
	dataset   Dataset
	staleness StalenessChecker
	logger    *logrus.Logger
}

func NewAuditor(dataset Dataset, staleness StalenessChecker, logger *logrus.Logger) *Auditor {
	if staleness == nil {
		staleness = unknownStaleness{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Auditor{dataset: dataset, staleness: staleness, logger: logger}
}

// Audit flags each dependency that has any vulnerability record (by name,
// ignoring version) and each dependency with a known newer version.
func (a *Auditor) Audit(deps map[string]string) ([]models.DependencyFinding, error) {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []models.DependencyFinding
	for _, name := range names {
		version := deps[name]

		count, err := a.dataset.CountByName(name)
		if err != nil {
			return nil, fmt.Errorf("dependency lookup for %s: %w", name, err)
		}
		if count > 0 {
			findings = append(findings, models.DependencyFinding{
				Name:     name,
				Version:  version,
				Kind:     models.DependencyKindVulnerable,
				Severity: models.SeverityMedium,
			})
		}

		if latest, ok := a.staleness.LatestVersion(name); ok && latest != version {
			findings = append(findings, models.DependencyFinding{
				Name:     name,
				Version:  version,
				Kind:     models.DependencyKindOutdated,
				Severity: models.SeverityLow,
			})
		}
	}

	if len(findings) > 0 {
		a.logger.Debugf("Dependency auditor: %d findings across %d dependencies", len(findings), len(deps))
	}
	return findings, nil
}
