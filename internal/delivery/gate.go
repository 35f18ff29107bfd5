package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/advice"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/govlog"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

const (
	deliveryBaseBackoff = time.Second
	deliveryMaxBackoff  = 16 * time.Second
	deliveryMaxAttempts = 3
	markRetryInterval   = 2 * time.Second
)

// Result reports what happened to one Deliver call, for observability.
type Result string

const (
	ResultSent        Result = "SENT"
	ResultAlreadySent Result = "ALREADY_SENT"
	ResultTransient   Result = "TRANSIENT_FAILURE"
	ResultPermanent   Result = "PERMANENT_FAILURE"
)

// Gate enforces at-most-once delivery per (chainID, proposalID,
// subscriberID) across the lifetime of the system, including restarts.
type Gate struct {
	db     *gorm.DB
	logger *zap.Logger
	locks  sync.Map // key string -> *sync.Mutex
}

// New builds a Gate backed by db for DeliveryMark persistence.
func New(db *gorm.DB, logger *zap.Logger) *Gate {
	return &Gate{db: db, logger: logger}
}

func deliveryKey(chainID string, proposalID int64, subscriberID string) string {
	return fmt.Sprintf("%s|%d|%s", chainID, proposalID, subscriberID)
}

func (g *Gate) lockFor(key string) *sync.Mutex {
	l, _ := g.locks.LoadOrStore(key, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Deliver enforces the at-most-once contract for one (Advice, Subscriber)
// pair: it probes for an existing mark, acquires a per-key lock, re-probes,
// sends via notifier (retrying transient failures up to deliveryMaxAttempts
// times), and persists a DeliveryMark on acceptance.
func (g *Gate) Deliver(ctx context.Context, delivery advice.Delivery, notifier Notifier, subject string) Result {
	key := deliveryKey(delivery.Advice.ChainID, delivery.Advice.ProposalID, delivery.Advice.SubscriberID)

	if g.hasMark(delivery.Advice) {
		return ResultAlreadySent
	}

	mu := g.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if g.hasMark(delivery.Advice) {
		return ResultAlreadySent
	}

	address := delivery.Subscriber.Address
	backoff := deliveryBaseBackoff
	var lastResult SendResult

	for attempt := 0; attempt < deliveryMaxAttempts; attempt++ {
		lastResult = notifier.Send(ctx, address, subject, delivery.Advice.Rationale)

		switch lastResult.Outcome {
		case Accepted:
			g.persistMarkWithRetry(delivery.Advice, lastResult.MessageID)
			return ResultSent

		case PermanentOutcome:
			g.logger.Error("delivery permanently failed",
				govlog.Subscriber(delivery.Advice.SubscriberID),
				zap.Error(lastResult.Err),
			)
			return ResultPermanent

		case TransientOutcome:
			g.logger.Warn("delivery attempt failed transiently, retrying",
				govlog.Subscriber(delivery.Advice.SubscriberID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastResult.Err),
			)
			select {
			case <-ctx.Done():
				return ResultTransient
			case <-time.After(jitterDelivery(backoff)):
			}
			backoff *= 2
			if backoff > deliveryMaxBackoff {
				backoff = deliveryMaxBackoff
			}
		}
	}

	return ResultTransient
}

func (g *Gate) hasMark(a models.Advice) bool {
	var mark models.DeliveryMark
	err := g.db.Where("chain_id = ? AND proposal_id = ? AND subscriber_id = ?",
		a.ChainID, a.ProposalID, a.SubscriberID).First(&mark).Error
	return err == nil
}

// persistMarkWithRetry retries mark persistence indefinitely (with
// backoff) because an accepted-but-unmarked state would produce a
// duplicate delivery on the next pass.
func (g *Gate) persistMarkWithRetry(a models.Advice, messageID string) {
	if messageID == "" {
		// Some Notifier implementations accept a send without returning a
		// provider-native ID; mint one so every mark has a stable identifier.
		messageID = uuid.NewString()
	}
	mark := models.DeliveryMark{
		ChainID:      a.ChainID,
		ProposalID:   a.ProposalID,
		SubscriberID: a.SubscriberID,
		SentAt:       time.Now(),
		MessageID:    messageID,
	}
	for {
		err := g.db.Create(&mark).Error
		if err == nil {
			return
		}
		g.logger.Error("failed to persist delivery mark, retrying",
			govlog.Subscriber(a.SubscriberID), zap.Error(err))
		time.Sleep(markRetryInterval)
	}
}

func jitterDelivery(d time.Duration) time.Duration {
	delta := float64(d) * 0.2
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
