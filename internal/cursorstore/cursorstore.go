// Package cursorstore persists the per-chain watermark the Watcher needs to
// resume correctly after a restart: the highest proposal ID ever observed
// and the set of proposal IDs still in a non-terminal status.
package cursorstore

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

// ErrCursorCorrupt marks a persisted cursor whose tracked-ID set failed to
// decode. The Store itself does not return it: the Watcher decodes the
// tracked set, logs the failure wrapped in this error, and halts that
// chain's watcher task rather than guessing at the tracked set.
var ErrCursorCorrupt = errors.New("cursorstore: tracked set is corrupt")

// Store reads and atomically writes one Cursor row per chain.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by db. db must already have run models.InitDB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Load returns the chain's Cursor, or a zero-value Cursor with HighestSeen 0
// and no tracked IDs if none has been persisted yet — the correct state for
// a chain's first tick.
func (s *Store) Load(chainID string) (models.Cursor, error) {
	var cursor models.Cursor
	err := s.db.Where("chain_id = ?", chainID).First(&cursor).Error
	if err == gorm.ErrRecordNotFound {
		return models.Cursor{ChainID: chainID}, nil
	}
	if err != nil {
		return models.Cursor{}, fmt.Errorf("load cursor for %s: %w", chainID, err)
	}
	return cursor, nil
}

// Save atomically persists the chain's updated cursor in a single upsert.
func (s *Store) Save(chainID string, highestSeen int64, tracked []int64) error {
	cursor := models.Cursor{ChainID: chainID, HighestSeen: highestSeen, UpdatedAt: time.Now()}
	if err := cursor.SetTracked(tracked); err != nil {
		return fmt.Errorf("encode cursor for %s: %w", chainID, err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Cursor
		err := tx.Where("chain_id = ?", chainID).First(&existing).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			if err := tx.Create(&cursor).Error; err != nil {
				return fmt.Errorf("create cursor for %s: %w", chainID, err)
			}
		case err != nil:
			return fmt.Errorf("load cursor for %s: %w", chainID, err)
		default:
			existing.HighestSeen = cursor.HighestSeen
			existing.TrackedJSON = cursor.TrackedJSON
			existing.UpdatedAt = cursor.UpdatedAt
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("update cursor for %s: %w", chainID, err)
			}
		}
		return nil
	})
}
