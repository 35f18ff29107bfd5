// Package test exercises the full pipeline wired together from a loaded
// configuration file, the way cmd/govwatcher does, instead of any single
// package's unit-level fakes.
package test

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zmazz/govwatcher-cosmos-vultr/config"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/analysiscache"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/analyzer"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/chainclient"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/cursorstore"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/delivery"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/scheduler"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/watcher"
)

const testConfigYAML = `
database:
  path: ":memory:"

chains:
  - name: "Test Chain"
    chain_id: "test-1"
    rest_endpoints:
      - "http://localhost:1317"

scanning:
  interval: "1s"
  jitter: 0

concurrency:
  analysis_queue_size: 8
  delivery_queue_size: 8
  max_concurrent_llm: 2
  max_concurrent_sends: 2

providers:
  - name: "anthropic"
    model: "claude-test"
    api_key: "test-key"

notifiers:
  discord:
    enabled: false
  slack:
    enabled: true
    token: "xoxb-test"
    channel_id: "C0TEST"

subscriber_directory:
  base_url: "http://localhost:9999"
  cache_ttl: "5m"

admin:
  enabled: false
`

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	f, err := os.CreateTemp("", "govwatcher-integration-*.yaml")
	if err != nil {
		t.Fatalf("create temp config: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })

	if _, err := f.WriteString(testConfigYAML); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	f.Close()

	cfg, err := config.LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

// oneShotClient reports a single proposal, constant across calls, so a
// repeated Watcher tick always observes the same chain state.
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

// buildPipeline wires one chain's Chain Client/Watcher/Cache/Analyzer
// against a shared db, the way cmd/govwatcher's build* helpers do, minus
// any real network calls.
func buildPipeline(t *testing.T, db *gorm.DB, cfg *config.Config, proposal models.Proposal, subs []models.Subscriber, notifier delivery.Notifier) (*scheduler.Scheduler, *countingNotifier) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	client := &oneShotClient{
		summaries: []chainclient.ProposalSummary{{ProposalID: proposal.ProposalID, Status: proposal.Status}},
		proposal:  proposal,
	}
	store := cursorstore.New(db)
	w := watcher.New(cfg.Chains[0].ChainID, client, db, store, logger)

	cache := analysiscache.New(db, logger)
	az := analyzer.New([]analyzer.Provider{
		&fixedProvider{response: `{"recommendation":"APPROVE","confidence":0.9,"reasoning":"ok","risk_assessment":"LOW"}`},
	}, logger)

	dir := &memoryDirectory{subs: subs}
	gate := delivery.New(db, logger)

	counting, _ := notifier.(*countingNotifier)

	sched := scheduler.New(
		scheduler.Config{
			AnalysisQueueSize:  cfg.Concurrency.AnalysisQueueSize,
			DeliveryQueueSize:  cfg.Concurrency.DeliveryQueueSize,
			MaxConcurrentLLM:   cfg.Concurrency.MaxConcurrentLLM,
			MaxConcurrentSends: cfg.Concurrency.MaxConcurrentSends,
		},
		db, map[string]*watcher.Watcher{cfg.Chains[0].ChainID: w}, cache, az, dir, gate, notifier,
		map[string]string{cfg.Chains[0].ChainID: cfg.Chains[0].GetName()}, nil, logger,
	)
	return sched, counting
}

func newSharedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.InitDB(db); err != nil {
		t.Fatalf("init db: %v", err)
	}
	return db
}

func testSubscriber() models.Subscriber {
	sub := models.Subscriber{SubscriberID: "sub-1", Address: "slack:C0TEST", Active: true, ActiveUntil: time.Now().Add(time.Hour)}
	if err := sub.SetChains([]string{"test-1"}); err != nil {
		panic(err)
	}
	if err := sub.SetPolicy(models.Policy{RiskTolerance: models.ToleranceMedium}); err != nil {
		panic(err)
	}
	return sub
}

// TestConfigDrivenPipelineDeliversExactlyOnce builds the full pipeline from
// a loaded configuration file and drives one Watcher tick end to end,
// confirming a single subscriber gets exactly one delivery.
func TestConfigDrivenPipelineDeliversExactlyOnce(t *testing.T) {
	cfg := loadTestConfig(t)
	db := newSharedDB(t)

	proposal := models.Proposal{ChainID: "test-1", ProposalID: 1, Title: "Raise min deposit", Status: models.StatusVoting}
	sub := testSubscriber()
	notifier := &countingNotifier{}

	sched, counting := buildPipeline(t, db, cfg, proposal, []models.Subscriber{sub}, notifier)
	runEndToEnd(t, sched, cfg.Chains[0].ChainID)

	if atomic.LoadInt32(&counting.sent) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", counting.sent)
	}

	var mark models.DeliveryMark
	if err := db.Where("chain_id = ? AND proposal_id = ? AND subscriber_id = ?", "test-1", 1, "sub-1").First(&mark).Error; err != nil {
		t.Fatalf("expected delivery mark persisted: %v", err)
	}
}

// TestRestartIsIdempotent rebuilds the scheduler against the same
// database (as a process restart would) and replays the same proposal
// state; the at-most-once contract must hold across the rebuild because
// the DeliveryMark, not in-memory state, is the source of truth.
func TestRestartIsIdempotent(t *testing.T) {
	cfg := loadTestConfig(t)
	db := newSharedDB(t)

	proposal := models.Proposal{ChainID: "test-1", ProposalID: 1, Title: "Raise min deposit", Status: models.StatusVoting}
	sub := testSubscriber()

	firstNotifier := &countingNotifier{}
	firstSched, firstCounting := buildPipeline(t, db, cfg, proposal, []models.Subscriber{sub}, firstNotifier)
	runEndToEnd(t, firstSched, cfg.Chains[0].ChainID)
	if atomic.LoadInt32(&firstCounting.sent) != 1 {
		t.Fatalf("expected first run to deliver once, got %d", firstCounting.sent)
	}

	secondNotifier := &countingNotifier{}
	secondSched, secondCounting := buildPipeline(t, db, cfg, proposal, []models.Subscriber{sub}, secondNotifier)
	runEndToEnd(t, secondSched, cfg.Chains[0].ChainID)

	if atomic.LoadInt32(&secondCounting.sent) != 0 {
		t.Fatalf("expected restart replay to deliver zero additional times, got %d", secondCounting.sent)
	}

	var count int64
	db.Model(&models.DeliveryMark{}).Where("chain_id = ? AND proposal_id = ? AND subscriber_id = ?", "test-1", 1, "sub-1").Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one delivery mark across both runs, got %d", count)
	}
}

// runEndToEnd starts the scheduler, which ticks each Watcher immediately
// on launch, waits briefly for that tick to flow through analysis and
// delivery, then drains via Shutdown.
func runEndToEnd(t *testing.T, sched *scheduler.Scheduler, chainID string) {
	t.Helper()
	ctx := context.Background()

	sched.Start(ctx)
	time.Sleep(300 * time.Millisecond)
	sched.Shutdown()
}
