// Package analysiscache implements the content-addressed store of
// Analyses keyed by Fingerprint, with status-aware TTLs and an
// at-most-one-concurrent-computation guarantee per fingerprint.
package analysiscache

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

const purgeAge = 30 * 24 * time.Hour

// ttl returns the cache lifetime for an Analysis computed against a
// proposal in the given status.
func ttl(status models.ProposalStatus) time.Duration {
	switch status {
	case models.StatusVoting, models.StatusDeposit:
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Cache maps Fingerprint to Analysis with single-flight collapsing of
// concurrent computations for the same fingerprint.
type Cache struct {
	db     *gorm.DB
	logger *zap.Logger
	group  singleflight.Group
	now    func() time.Time
}

// New creates a Cache backed by db.
func New(db *gorm.DB, logger *zap.Logger) *Cache {
	return &Cache{db: db, logger: logger, now: time.Now}
}

// GetOrCompute returns the non-expired Analysis for fingerprint if one
// exists; otherwise it collapses concurrent callers onto a single
// invocation of compute, persists the result, and returns it to every
// waiter. A failing compute is never cached.
func (c *Cache) GetOrCompute(fingerprint string, status models.ProposalStatus, compute func() (models.Analysis, error)) (models.Analysis, error) {
	if existing, ok, err := c.lookup(fingerprint); err != nil {
		return models.Analysis{}, err
	} else if ok {
		return existing, nil
	}

	result, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		// Re-check under the single-flight key: another goroutine may have
		// stored a result between our lookup above and acquiring the key.
		if existing, ok, err := c.lookup(fingerprint); err != nil {
			return models.Analysis{}, err
		} else if ok {
			return existing, nil
		}

		analysis, err := compute()
		if err != nil {
			return models.Analysis{}, err
		}

		now := c.now()
		analysis.Fingerprint = fingerprint
		analysis.CreatedAt = now
		analysis.ExpiresAt = now.Add(ttl(status))

		if err := c.store(analysis); err != nil {
			return models.Analysis{}, fmt.Errorf("persist analysis for %s: %w", fingerprint, err)
		}
		return analysis, nil
	})
	if err != nil {
		return models.Analysis{}, err
	}
	return result.(models.Analysis), nil
}

// lookup returns the current Analysis for fingerprint if it exists and has
// not expired.
func (c *Cache) lookup(fingerprint string) (models.Analysis, bool, error) {
	var analysis models.Analysis
	err := c.db.Where("fingerprint = ?", fingerprint).First(&analysis).Error
	if err == gorm.ErrRecordNotFound {
		return models.Analysis{}, false, nil
	}
	if err != nil {
		return models.Analysis{}, false, fmt.Errorf("lookup analysis for %s: %w", fingerprint, err)
	}
	if analysis.Expired(c.now()) {
		return models.Analysis{}, false, nil
	}
	return analysis, true, nil
}

// store upserts the Analysis row for its fingerprint: exactly one Analysis
// per Fingerprint exists at any time (the latest).
func (c *Cache) store(analysis models.Analysis) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Analysis
		err := tx.Where("fingerprint = ?", analysis.Fingerprint).First(&existing).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			return tx.Create(&analysis).Error
		case err != nil:
			return err
		default:
			analysis.ID = existing.ID
			return tx.Save(&analysis).Error
		}
	})
}

// Purge deletes Analyses older than 30 days regardless of status. Intended
// to be run at most hourly by the Scheduler's sweep task.
func (c *Cache) Purge() (int64, error) {
	cutoff := c.now().Add(-purgeAge)
	result := c.db.Where("created_at < ?", cutoff).Delete(&models.Analysis{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge expired analyses: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		c.logger.Info("purged expired analyses", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}
