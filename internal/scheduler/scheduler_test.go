package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/analysiscache"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/analyzer"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/chainclient"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/cursorstore"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/delivery"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/watcher"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.InitDB(db); err != nil {
		t.Fatalf("init db: %v", err)
	}
	return db
}

type oneShotClient struct {
	summaries []chainclient.ProposalSummary
	proposal  models.Proposal
}

func (c *oneShotClient) ListActive(ctx context.Context) ([]chainclient.ProposalSummary, error) {
	return c.summaries, nil
}

func (c *oneShotClient) Fetch(ctx context.Context, proposalID int64) (models.Proposal, error) {
	return c.proposal, nil
}

type fixedProvider struct{ response string }

func (p *fixedProvider) Name() string { return "fixed" }
func (p *fixedProvider) Analyze(ctx context.Context, prompt string) (string, error) {
	return p.response, nil
}

type memoryDirectory struct{ subs []models.Subscriber }

func (d *memoryDirectory) ListSubscribersFor(ctx context.Context, chainID string, now time.Time) ([]models.Subscriber, error) {
	return d.subs, nil
}

type countingNotifier struct{ sent int32 }

func (n *countingNotifier) Send(ctx context.Context, address, subject, body string) delivery.SendResult {
	atomic.AddInt32(&n.sent, 1)
	return delivery.SendResult{Outcome: delivery.Accepted, MessageID: "msg"}
}

func TestSchedulerEndToEndSingleProposalSingleSubscriber(t *testing.T) {
	db := newTestDB(t)
	logger := zaptest.NewLogger(t)

	proposal := models.Proposal{ChainID: "chain-1", ProposalID: 1, Title: "Raise min deposit", Status: models.StatusVoting}
	client := &oneShotClient{
		summaries: []chainclient.ProposalSummary{{ProposalID: 1, Status: models.StatusVoting}},
		proposal:  proposal,
	}

	store := cursorstore.New(db)
	w := watcher.New("chain-1", client, db, store, logger)

	cache := analysiscache.New(db, logger)
	az := analyzer.New([]analyzer.Provider{&fixedProvider{response: `{"recommendation":"APPROVE","confidence":0.9,"reasoning":"ok","risk_assessment":"LOW"}`}}, logger)

	sub := models.Subscriber{SubscriberID: "sub-1", Address: "addr-1", Active: true, ActiveUntil: time.Now().Add(time.Hour)}
	sub.SetChains([]string{"chain-1"})
	sub.SetPolicy(models.Policy{RiskTolerance: models.ToleranceMedium})
	dir := &memoryDirectory{subs: []models.Subscriber{sub}}

	gate := delivery.New(db, logger)
	notifier := &countingNotifier{}

	sched := New(Config{AnalysisQueueSize: 8, DeliveryQueueSize: 8, MaxConcurrentLLM: 2, MaxConcurrentSends: 2},
		db, map[string]*watcher.Watcher{"chain-1": w}, cache, az, dir, gate, notifier, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.llmTokens = make(chan struct{}, 2)
	sched.sendTokens = make(chan struct{}, 2)

	sched.wg.Add(2)
	go sched.analysisWorker(ctx)
	go sched.deliveryWorker(ctx)

	w.Tick(ctx, func(e watcher.Event) { sched.handleEvent("chain-1", e) })

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&notifier.sent) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if atomic.LoadInt32(&notifier.sent) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", notifier.sent)
	}

	var mark models.DeliveryMark
	if err := db.Where("chain_id = ? AND proposal_id = ? AND subscriber_id = ?", "chain-1", 1, "sub-1").First(&mark).Error; err != nil {
		t.Fatalf("expected delivery mark persisted: %v", err)
	}
}

func TestHandleEventDedupsInFlightFingerprint(t *testing.T) {
	db := newTestDB(t)
	logger := zaptest.NewLogger(t)
	sched := New(Config{AnalysisQueueSize: 8, DeliveryQueueSize: 8, MaxConcurrentLLM: 1, MaxConcurrentSends: 1},
		db, map[string]*watcher.Watcher{}, nil, nil, nil, nil, nil, nil, nil, logger)

	proposal := models.Proposal{ChainID: "chain-1", ProposalID: 1, Title: "t", Status: models.StatusVoting}
	sched.handleEvent("chain-1", watcher.Event{Kind: watcher.EventNew, Proposal: proposal})
	sched.handleEvent("chain-1", watcher.Event{Kind: watcher.EventNew, Proposal: proposal})

	if len(sched.analysisQueue) != 1 {
		t.Fatalf("expected duplicate fingerprint enqueue to be a no-op, got queue len %d", len(sched.analysisQueue))
	}
}
