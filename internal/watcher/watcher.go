// Package watcher drives per-chain polling of governance proposals and
// turns observed state transitions into NEW/CHANGED events for downstream
// analysis, using a persisted cursor so restarts resume correctly.
package watcher

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/chainclient"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/cursorstore"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/govlog"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

const (
	nominalInterval = time.Hour
	intervalJitter  = 0.1
)

// EventKind distinguishes a first observation from a subsequent change.
type EventKind string

const (
	EventNew     EventKind = "NEW"
	EventChanged EventKind = "CHANGED"
)

// Event is emitted once per observed transition on a single proposal.
type Event struct {
	Kind      EventKind
	Proposal  models.Proposal
	OldStatus models.ProposalStatus // zero value for EventNew
}

// ChainClient is the subset of chainclient.Client the Watcher depends on.
type ChainClient interface {
	ListActive(ctx context.Context) ([]chainclient.ProposalSummary, error)
	Fetch(ctx context.Context, proposalID int64) (models.Proposal, error)
}

// Watcher polls one chain on a jittered ticker and emits Events.
type Watcher struct {
	chainID string
	client  ChainClient
	db      *gorm.DB
	cursors *cursorstore.Store
	logger  *zap.Logger
}

// New creates a Watcher for one chain.
func New(chainID string, client ChainClient, db *gorm.DB, cursors *cursorstore.Store, logger *zap.Logger) *Watcher {
	return &Watcher{
		chainID: chainID,
		client:  client,
		db:      db,
		cursors: cursors,
		logger:  logger.With(govlog.Chain(chainID)),
	}
}

// Run ticks at the jittered nominal interval until ctx is cancelled,
// forwarding each tick's events to emit. The first tick runs immediately.
// A corrupt cursor is fatal for this chain: Run logs it and halts, leaving
// the chain unwatched until the process is restarted against a repaired
// cursor.
func (w *Watcher) Run(ctx context.Context, emit func(Event)) {
	if corrupt := w.tick(ctx, emit); corrupt {
		w.logger.Error("watcher halted: cursor corrupt, restart required")
		return
	}

	for {
		wait := jitteredInterval()
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return
		case <-time.After(wait):
			if corrupt := w.tick(ctx, emit); corrupt {
				w.logger.Error("watcher halted: cursor corrupt, restart required")
				return
			}
		}
	}
}

// Tick forces one immediate poll, for the Scheduler's manual-tick operation.
func (w *Watcher) Tick(ctx context.Context, emit func(Event)) {
	w.tick(ctx, emit)
}

// tick runs one poll cycle and reports whether the chain's cursor was found
// corrupt, which callers treat as fatal for the watcher task.
func (w *Watcher) tick(ctx context.Context, emit func(Event)) bool {
	cursor, err := w.cursors.Load(w.chainID)
	if err != nil {
		w.logger.Error("failed to load cursor, skipping tick", zap.Error(err))
		return false
	}
	trackedIDs, err := cursor.Tracked()
	if err != nil {
		w.logger.Error("failed to decode cursor tracked set",
			zap.Error(fmt.Errorf("%w: %v", cursorstore.ErrCursorCorrupt, err)))
		return true
	}

	active, err := w.client.ListActive(ctx)
	if err != nil {
		w.logger.Error("ListActive failed, tick aborted, cursor unchanged", zap.Error(err))
		return false
	}

	observed := make(map[int64]models.ProposalStatus, len(active)+len(trackedIDs))
	for _, s := range active {
		observed[s.ProposalID] = s.Status
	}
	// Re-check previously tracked (non-terminal) IDs that may have dropped
	// off the active list, to catch status changes on them too.
	for _, id := range trackedIDs {
		if _, ok := observed[id]; !ok {
			observed[id] = "" // placeholder, resolved by Fetch below
		}
	}

	highestSeen := cursor.HighestSeen
	newTracked := make([]int64, 0, len(observed))

	for id := range observed {
		proposal, err := w.client.Fetch(ctx, id)
		if err != nil {
			w.logger.Warn("failed to fetch proposal, skipping for this tick",
				govlog.Proposal(id), zap.Error(err))
			newTracked = append(newTracked, id)
			continue
		}

		w.processObserved(proposal, emit)

		if id > highestSeen {
			highestSeen = id
		}
		if !proposal.Status.IsTerminal() {
			newTracked = append(newTracked, id)
		}
	}

	if err := w.cursors.Save(w.chainID, highestSeen, newTracked); err != nil {
		w.logger.Error("failed to persist cursor after tick", zap.Error(err))
	}
	return false
}

// processObserved loads the last-known Proposal row, if any, compares it to
// the freshly observed Proposal, persists the result, and emits the
// corresponding event(s).
func (w *Watcher) processObserved(observed models.Proposal, emit func(Event)) {
	var existing models.Proposal
	result := w.db.Where("chain_id = ? AND proposal_id = ?", w.chainID, observed.ProposalID).First(&existing)

	switch {
	case result.Error == gorm.ErrRecordNotFound:
		if err := w.db.Create(&observed).Error; err != nil {
			w.logger.Error("failed to store new proposal", govlog.Proposal(observed.ProposalID), zap.Error(err))
			return
		}
		emit(Event{Kind: EventNew, Proposal: observed})
		if observed.Status.IsTerminal() {
			// First ever observation already terminal: synthesize a CHANGED
			// event too so downstream stages can reason uniformly about
			// status transitions rather than special-casing "new terminal".
			emit(Event{Kind: EventChanged, Proposal: observed, OldStatus: observed.Status})
		}

	case result.Error != nil:
		w.logger.Error("database error checking proposal", govlog.Proposal(observed.ProposalID), zap.Error(result.Error))

	default:
		if existing.Status.IsTerminal() && !observed.Status.IsTerminal() {
			// A provider re-reporting a terminal proposal as non-terminal is
			// a transient read error, not a real backward transition.
			w.logger.Warn("ignoring apparent backward status transition",
				govlog.Proposal(observed.ProposalID),
				zap.String("existing_status", string(existing.Status)),
				zap.String("observed_status", string(observed.Status)),
			)
			return
		}

		changed := existing.Status != observed.Status ||
			existing.Title != observed.Title ||
			existing.Description != observed.Description ||
			!equalTimePtr(existing.VotingEnd, observed.VotingEnd)
		if !changed {
			return
		}

		oldStatus := existing.Status
		existing.Status = observed.Status
		existing.Title = observed.Title
		existing.Description = observed.Description
		existing.VotingEnd = observed.VotingEnd
		existing.VotingStart = observed.VotingStart

		if err := w.db.Save(&existing).Error; err != nil {
			w.logger.Error("failed to persist proposal update", govlog.Proposal(observed.ProposalID), zap.Error(err))
			return
		}
		emit(Event{Kind: EventChanged, Proposal: existing, OldStatus: oldStatus})
	}
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func jitteredInterval() time.Duration {
	delta := float64(nominalInterval) * intervalJitter
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(nominalInterval) + offset)
}
