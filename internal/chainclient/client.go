// Package chainclient provides uniform access to one Cosmos-SDK chain's
// governance REST endpoints: listing active proposals and fetching one
// proposal in full, with retry/backoff, endpoint rotation, and per-endpoint
// circuit breaking.
package chainclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/govlog"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

// ErrPermanent marks a non-retryable 4xx (other than 429) response.
var ErrPermanent = errors.New("chainclient: permanent error")

// ErrRateLimited marks a 429 response.
var ErrRateLimited = errors.New("chainclient: rate limited")

const (
	baseBackoff  = 500 * time.Millisecond
	maxBackoff   = 8 * time.Second
	jitterFactor = 0.2
	maxAttempts  = 5
	attemptDeadline = 10 * time.Second
	rateLimitFloor  = 30 * time.Second
)

// ProposalSummary is the minimal shape returned by ListActive.
type ProposalSummary struct {
	ProposalID int64
	Status     models.ProposalStatus
}

// Client is a uniform REST client for one chain's governance endpoints. It
// is stateless beyond endpoint rotation and safe for concurrent use.
type Client struct {
	chainID   string
	endpoints []string
	logger    *zap.Logger
	http      *http.Client

	mu   sync.Mutex
	next int

	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter
}

// New creates a Client for one chain's list of REST endpoint URLs.
func New(chainID string, endpoints []string, logger *zap.Logger) *Client {
	c := &Client{
		chainID:   chainID,
		endpoints: endpoints,
		logger:    logger,
		http:      &http.Client{Timeout: attemptDeadline},
		breakers:  make(map[string]*gobreaker.CircuitBreaker, len(endpoints)),
		limiters:  make(map[string]*rate.Limiter, len(endpoints)),
	}
	for _, ep := range endpoints {
		ep := ep
		c.breakers[ep] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        chainID + ":" + ep,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		// One token every rateLimitFloor enforces the 429 minimum delay
		// without blocking other endpoints in the rotation.
		c.limiters[ep] = rate.NewLimiter(rate.Every(rateLimitFloor), 1)
	}
	return c
}

// govResponse mirrors the Cosmos SDK gov module's list response shape.
type govResponse struct {
	Proposals []govProposal `json:"proposals"`
}

type govProposal struct {
	ProposalID string      `json:"proposal_id"`
	Content    govContent  `json:"content"`
	Status     string      `json:"status"`
	SubmitTime string      `json:"submit_time"`
	VotingStartTime string `json:"voting_start_time"`
	VotingEndTime   string `json:"voting_end_time"`
	Proposer        string `json:"proposer"`
}

type govContent struct {
	Type        string `json:"@type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ListActive returns proposals whose status is not terminal.
func (c *Client) ListActive(ctx context.Context) ([]ProposalSummary, error) {
	url := "/cosmos/gov/v1beta1/proposals?pagination.limit=200&pagination.reverse=true"
	resp, err := c.fetch(ctx, url)
	if err != nil {
		url = "/cosmos/gov/v1/proposals?pagination.limit=200&pagination.reverse=true"
		resp, err = c.fetch(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("list active proposals on %s: %w", c.chainID, err)
		}
	}

	var gr govResponse
	if err := json.Unmarshal(resp, &gr); err != nil {
		return nil, fmt.Errorf("decode proposal list for %s: %w", c.chainID, err)
	}

	summaries := make([]ProposalSummary, 0, len(gr.Proposals))
	for _, p := range gr.Proposals {
		status := normalizeStatus(p.Status)
		if status.IsTerminal() {
			continue
		}
		id, err := strconv.ParseInt(p.ProposalID, 10, 64)
		if err != nil {
			c.logger.Warn("skipping proposal with unparseable id",
				govlog.Chain(c.chainID), zap.String("proposal_id", p.ProposalID))
			continue
		}
		summaries = append(summaries, ProposalSummary{ProposalID: id, Status: status})
	}
	return summaries, nil
}

// Fetch returns the full Proposal for one proposal ID.
func (c *Client) Fetch(ctx context.Context, proposalID int64) (models.Proposal, error) {
	url := fmt.Sprintf("/cosmos/gov/v1beta1/proposals/%d", proposalID)
	resp, err := c.fetch(ctx, url)
	if err != nil {
		url = fmt.Sprintf("/cosmos/gov/v1/proposals/%d", proposalID)
		resp, err = c.fetch(ctx, url)
		if err != nil {
			return models.Proposal{}, fmt.Errorf("fetch proposal %d on %s: %w", proposalID, c.chainID, err)
		}
	}

	var wrapper struct {
		Proposal govProposal `json:"proposal"`
	}
	if err := json.Unmarshal(resp, &wrapper); err != nil {
		return models.Proposal{}, fmt.Errorf("decode proposal %d for %s: %w", proposalID, c.chainID, err)
	}

	gp := wrapper.Proposal
	proposal := models.Proposal{
		ChainID:     c.chainID,
		ProposalID:  proposalID,
		Title:       gp.Content.Title,
		Description: gp.Content.Description,
		Status:      normalizeStatus(gp.Status),
		Proposer:    gp.Proposer,
		Type:        gp.Content.Type,
	}
	if t, err := time.Parse(time.RFC3339, gp.SubmitTime); err == nil {
		proposal.SubmitTime = &t
	}
	if t, err := time.Parse(time.RFC3339, gp.VotingStartTime); err == nil {
		proposal.VotingStart = &t
	}
	if t, err := time.Parse(time.RFC3339, gp.VotingEndTime); err == nil {
		proposal.VotingEnd = &t
	}
	return proposal, nil
}

// normalizeStatus maps the chain's wire status string to our vocabulary.
func normalizeStatus(raw string) models.ProposalStatus {
	upper := strings.ToUpper(raw)
	switch {
	case strings.Contains(upper, "DEPOSIT"):
		return models.StatusDeposit
	case strings.Contains(upper, "VOTING"):
		return models.StatusVoting
	case strings.Contains(upper, "PASSED"):
		return models.StatusPassed
	case strings.Contains(upper, "REJECTED"):
		return models.StatusRejected
	case strings.Contains(upper, "FAILED"):
		return models.StatusFailed
	default:
		return models.ProposalStatus(upper)
	}
}

// fetch performs one logical request with retry/backoff across the
// endpoint rotation: exponential backoff from baseBackoff to maxBackoff,
// jittered ±20%, up to maxAttempts, cycling endpoints round-robin.
func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	backoff := baseBackoff

	for attempt := 0; attempt < maxAttempts; attempt++ {
		ep := c.nextEndpoint()

		if err := c.limiters[ep].Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait on %s: %w", ep, err)
		}

		body, err := c.doOnce(ctx, ep, path)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if errors.Is(err, ErrPermanent) {
			return nil, err
		}

		delay := backoff
		if errors.Is(err, ErrRateLimited) && delay < rateLimitFloor {
			delay = rateLimitFloor
		}
		jittered := jitter(delay)

		c.logger.Debug("chain request failed, retrying",
			govlog.Chain(c.chainID),
			zap.String("endpoint", ep),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", jittered),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jittered):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return nil, fmt.Errorf("exhausted %d attempts on %s: %w", maxAttempts, c.chainID, lastErr)
}

// doOnce performs a single HTTP attempt against one endpoint, through its
// circuit breaker.
func (c *Client) doOnce(ctx context.Context, endpoint, path string) ([]byte, error) {
	breaker := c.breakers[endpoint]
	result, err := breaker.Execute(func() (interface{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptDeadline)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint+path, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("transient: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("transient: read body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: status 429", ErrRateLimited)
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("transient: status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%w: status %d: %s", ErrPermanent, resp.StatusCode, string(body))
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("transient: unexpected status %d", resp.StatusCode)
		}

		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// nextEndpoint returns the next endpoint in round-robin order.
func (c *Client) nextEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep := c.endpoints[c.next%len(c.endpoints)]
	c.next++
	return ep
}

// jitter applies ±jitterFactor random jitter to d.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFactor
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
