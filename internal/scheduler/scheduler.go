// Package scheduler drives Watcher ticks, the analysis work queue, and the
// advice fan-out/delivery pipeline, owning cancellation and backpressure
// for the whole process.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/advice"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/analysiscache"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/analyzer"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/delivery"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/govlog"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/metrics"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/subscriber"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/watcher"
)

const sweepInterval = time.Hour

// analysisDrainGrace and deliveryDrainGrace bound the tiered shutdown: the
// analysis queue gets up to analysisDrainGrace to empty, then the delivery
// queue gets up to deliveryDrainGrace, after which remaining work, Watcher
// tickers included, is cancelled.
const (
	analysisDrainGrace = 60 * time.Second
	deliveryDrainGrace = 30 * time.Second
)

// Config bundles the Scheduler's tunable capacities, per §4.8.
type Config struct {
	AnalysisQueueSize  int
	DeliveryQueueSize  int
	MaxConcurrentLLM   int
	MaxConcurrentSends int
}

// Scheduler owns the full pipeline: per-chain Watcher tickers, the
// analysis queue, the fan-out/delivery queue, and the cache sweep.
type Scheduler struct {
	cfg       Config
	db        *gorm.DB
	logger    *zap.Logger
	watchers  map[string]*watcher.Watcher
	cache     *analysiscache.Cache
	analyzer  *analyzer.Analyzer
	directory subscriber.Directory
	gate      *delivery.Gate
	notifier  delivery.Notifier
	metrics   *metrics.Metrics

	// chainNames maps chainID to the display name used in the Notifier's
	// subject line; falls back to chainID itself when absent.
	chainNames map[string]string

	analysisQueue chan models.Proposal
	deliveryQueue chan advice.Delivery

	inFlight   sync.Map // fingerprint string -> struct{}
	llmTokens  chan struct{}
	sendTokens chan struct{}

	paused atomic.Bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Scheduler. watchers must already be constructed per chain
// (see cmd/govwatcher for wiring).
func New(
	cfg Config,
	db *gorm.DB,
	watchers map[string]*watcher.Watcher,
	cache *analysiscache.Cache,
	az *analyzer.Analyzer,
	directory subscriber.Directory,
	gate *delivery.Gate,
	notifier delivery.Notifier,
	chainNames map[string]string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		db:            db,
		logger:        logger,
		watchers:      watchers,
		cache:         cache,
		analyzer:      az,
		directory:     directory,
		gate:          gate,
		notifier:      notifier,
		chainNames:    chainNames,
		metrics:       m,
		analysisQueue: make(chan models.Proposal, cfg.AnalysisQueueSize),
		deliveryQueue: make(chan advice.Delivery, cfg.DeliveryQueueSize),
		llmTokens:     make(chan struct{}, cfg.MaxConcurrentLLM),
		sendTokens:    make(chan struct{}, cfg.MaxConcurrentSends),
	}
}

// chainName resolves chainID's display name for notification subjects,
// falling back to the raw chainID when no enrichment is configured.
func (s *Scheduler) chainName(chainID string) string {
	if name, ok := s.chainNames[chainID]; ok && name != "" {
		return name
	}
	return chainID
}

// Start launches the Watcher tickers, worker pools, and sweep task. It
// returns immediately; call Shutdown to drain and stop.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for chainID, w := range s.watchers {
		w := w
		chainID := chainID
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.Run(runCtx, func(e watcher.Event) { s.handleEvent(chainID, e) })
		}()
	}

	for i := 0; i < s.cfg.MaxConcurrentLLM; i++ {
		s.wg.Add(1)
		go s.analysisWorker(runCtx)
	}
	for i := 0; i < s.cfg.MaxConcurrentSends; i++ {
		s.wg.Add(1)
		go s.deliveryWorker(runCtx)
	}

	s.wg.Add(1)
	go s.sweepLoop(runCtx)
}

// ForceTick runs one immediate Watcher tick for chainID, bypassing the
// jittered schedule.
func (s *Scheduler) ForceTick(ctx context.Context, chainID string) error {
	w, ok := s.watchers[chainID]
	if !ok {
		return fmt.Errorf("no watcher configured for chain %q", chainID)
	}
	w.Tick(ctx, func(e watcher.Event) { s.handleEvent(chainID, e) })
	return nil
}

// PauseDelivery stops the delivery workers from sending further messages;
// accepted analyses still accumulate in the delivery queue.
func (s *Scheduler) PauseDelivery() { s.paused.Store(true) }

// ResumeDelivery resumes delivery worker processing.
func (s *Scheduler) ResumeDelivery() { s.paused.Store(false) }

// Paused reports whether delivery is currently paused.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// Stats is a point-in-time snapshot of queue depths and pause state, for
// the administrative surface.
type Stats struct {
	AnalysisQueueLen int
	DeliveryQueueLen int
	Paused           bool
}

// Stats reports current queue depths and pause state.
func (s *Scheduler) Stats() Stats {
	return Stats{
		AnalysisQueueLen: len(s.analysisQueue),
		DeliveryQueueLen: len(s.deliveryQueue),
		Paused:           s.paused.Load(),
	}
}

func (s *Scheduler) handleEvent(chainID string, e watcher.Event) {
	fingerprint := e.Proposal.Fingerprint()
	if _, loaded := s.inFlight.LoadOrStore(fingerprint, struct{}{}); loaded {
		return // enqueue of a duplicate fingerprint is a no-op
	}

	select {
	case s.analysisQueue <- e.Proposal:
		if s.metrics != nil {
			s.metrics.ProposalsObserved.Inc()
			s.metrics.AnalysisQueueDepth.Set(float64(len(s.analysisQueue)))
		}
	default:
		s.inFlight.Delete(fingerprint)
		s.logger.Warn("analysis queue full, dropping event",
			govlog.Chain(chainID), govlog.Proposal(e.Proposal.ProposalID))
	}
}

func (s *Scheduler) analysisWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case proposal, ok := <-s.analysisQueue:
			if !ok {
				return
			}
			s.processAnalysis(ctx, proposal)
		}
	}
}

func (s *Scheduler) processAnalysis(ctx context.Context, proposal models.Proposal) {
	fingerprint := proposal.Fingerprint()
	defer s.inFlight.Delete(fingerprint)

	subscribers, err := s.directory.ListSubscribersFor(ctx, proposal.ChainID, time.Now())
	if err != nil {
		s.logger.Error("failed to resolve subscribers", govlog.Chain(proposal.ChainID), zap.Error(err))
		return
	}
	if len(subscribers) == 0 {
		return
	}

	// The cache key is the proposal fingerprint alone (analysis is shared
	// across subscribers); the first subscriber in the resolved set seeds
	// the prompt's policy layer for this fingerprint's single computation.
	seedPolicy, err := subscribers[0].GetPolicy()
	if err != nil {
		s.logger.Warn("failed to decode seed subscriber policy, using zero-value policy",
			govlog.Subscriber(subscribers[0].SubscriberID), zap.Error(err))
	}

	s.llmTokens <- struct{}{}
	analysis, err := s.cache.GetOrCompute(fingerprint, proposal.Status, func() (models.Analysis, error) {
		if s.metrics != nil {
			s.metrics.AnalysesComputed.Inc()
		}
		return s.analyzer.Analyze(ctx, proposal, seedPolicy), nil
	})
	<-s.llmTokens
	if err != nil {
		s.logger.Error("analysis computation failed", govlog.Proposal(proposal.ProposalID), zap.Error(err))
		return
	}

	advice.FanOut(ctx, proposal.ChainID, s.chainName(proposal.ChainID), proposal.ProposalID, proposal.Title, analysis, subscribers, s.cfg.MaxConcurrentSends,
		func(d advice.Delivery) {
			select {
			case s.deliveryQueue <- d:
				if s.metrics != nil {
					s.metrics.DeliveryQueueDepth.Set(float64(len(s.deliveryQueue)))
				}
			default:
				s.logger.Warn("delivery queue full, dropping advice",
					govlog.Subscriber(d.Advice.SubscriberID), govlog.Proposal(proposal.ProposalID))
			}
		}, s.logger)
}

func (s *Scheduler) deliveryWorker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-s.deliveryQueue:
			if !ok {
				return
			}
			for s.paused.Load() {
				// Hold the advice until delivery resumes so nothing is lost
				// while paused; a small yield avoids a hot spin loop.
				select {
				case <-ctx.Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
			}

			s.sendTokens <- struct{}{}
			subject := fmt.Sprintf("[%s] Proposal #%d: %s", d.Advice.ChainName, d.Advice.ProposalID, d.Advice.Title)
			result := s.gate.Deliver(ctx, d, s.notifier, subject)
			<-s.sendTokens
			if s.metrics != nil {
				switch result {
				case delivery.ResultSent:
					s.metrics.DeliveriesSent.Inc()
				case delivery.ResultPermanent, delivery.ResultTransient:
					s.metrics.DeliveriesFailed.Inc()
				}
				s.metrics.DeliveryQueueDepth.Set(float64(len(s.deliveryQueue)))
			}
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.cache.Purge(); err != nil {
				s.logger.Error("cache sweep failed", zap.Error(err))
			}
		}
	}
}

// Shutdown drains the analysis queue up to analysisDrainGrace, then the
// delivery queue up to deliveryDrainGrace, then cancels remaining work.
// Watcher tickers keep running during the drain and stop only at that
// final cancel, so a tick that fires meanwhile still enqueues its events.
func (s *Scheduler) Shutdown() {
	if s.cancel == nil {
		return
	}

	deadline := time.Now().Add(analysisDrainGrace)
	for len(s.analysisQueue) > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}

	deadline = time.Now().Add(deliveryDrainGrace)
	for len(s.deliveryQueue) > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}

	s.cancel()
	s.wg.Wait()
}
