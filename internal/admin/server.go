// Package admin exposes the administrative HTTP surface: pause/resume
// controls, a forced watcher tick, a stats snapshot, a read-only proposal
// listing, and a Prometheus metrics endpoint.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/metrics"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/scheduler"
)

// Scheduler is the subset of *scheduler.Scheduler the admin surface drives.
type Scheduler interface {
	PauseDelivery()
	ResumeDelivery()
	Paused() bool
	ForceTick(ctx context.Context, chainID string) error
	Stats() scheduler.Stats
}

// Server hosts the administrative and metrics HTTP surface on one listener.
type Server struct {
	db        *gorm.DB
	scheduler Scheduler
	metrics   *metrics.Metrics
	logger    *zap.Logger
	server    *http.Server
	startTime time.Time
}

// NewServer builds the admin server. addr is the full listen address
// (e.g. ":8080"); pathPrefix namespaces the control endpoints (e.g.
// "/admin").
func NewServer(addr, pathPrefix string, db *gorm.DB, sched Scheduler, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{db: db, scheduler: sched, metrics: m, logger: logger, startTime: time.Now()}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Route(pathPrefix, func(r chi.Router) {
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
		r.Post("/tick/{chainID}", s.handleTick)
		r.Get("/stats", s.handleStats)
		r.Get("/proposals", s.handleProposals)
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start runs the server in the background until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin server error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("admin server shutdown error", zap.Error(err))
		}
	}()
}

// requestIDHeader carries the per-request correlation ID minted by
// requestIDMiddleware, echoed back so a caller can match a response to the
// server's log lines for that request.
const requestIDHeader = "X-Request-ID"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.scheduler.PauseDelivery()
	s.logger.Info("delivery paused", zap.String("request_id", w.Header().Get(requestIDHeader)))
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.scheduler.ResumeDelivery()
	s.logger.Info("delivery resumed", zap.String("request_id", w.Header().Get(requestIDHeader)))
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainID")
	requestID := w.Header().Get(requestIDHeader)
	if err := s.scheduler.ForceTick(r.Context(), chainID); err != nil {
		s.logger.Warn("forced tick failed", zap.String("request_id", requestID), zap.String("chain_id", chainID), zap.Error(err))
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("forced tick queued", zap.String("request_id", requestID), zap.String("chain_id", chainID))
	writeJSON(w, http.StatusAccepted, map[string]string{"chain_id": chainID, "status": "tick queued"})
}

// statsResponse is the JSON shape of GET /admin/stats.
type statsResponse struct {
	Uptime           string `json:"uptime"`
	Paused           bool   `json:"paused"`
	AnalysisQueueLen int    `json:"analysis_queue_len"`
	DeliveryQueueLen int    `json:"delivery_queue_len"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.scheduler.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		Uptime:           time.Since(s.startTime).String(),
		Paused:           st.Paused,
		AnalysisQueueLen: st.AnalysisQueueLen,
		DeliveryQueueLen: st.DeliveryQueueLen,
	})
}

// handleProposals is a read-only listing of recently observed proposals,
// filterable by chain.
func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	chainID := r.URL.Query().Get("chain")

	query := s.db.Model(&models.Proposal{}).Order("chain_id, proposal_id")
	if chainID != "" {
		query = query.Where("chain_id = ?", chainID)
	}

	var proposals []models.Proposal
	if err := query.Find(&proposals).Error; err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("query proposals: %v", err)})
		return
	}

	writeJSON(w, http.StatusOK, proposals)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
