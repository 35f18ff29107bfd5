// Package subscriber resolves the set of active subscribers interested in
// a (chain, proposal) pair, consulting an external subscriber directory
// through a short-lived cache.
package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/govlog"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

// Directory resolves the subscribers watching a given chain.
type Directory interface {
	ListSubscribersFor(ctx context.Context, chainID string, now time.Time) ([]models.Subscriber, error)
}

// HTTPDirectory consults an external subscription manager over HTTP,
// caching reads in Redis for the configured TTL (default 5 minutes, per
// the matcher's staleness tolerance).
type HTTPDirectory struct {
	baseURL string
	http    *http.Client
	redis   *redis.Client
	ttl     time.Duration
	logger  *zap.Logger
}

// NewHTTPDirectory builds a Directory backed by an HTTP subscription
// manager and a Redis cache.
func NewHTTPDirectory(baseURL string, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		redis:   rdb,
		ttl:     ttl,
		logger:  logger,
	}
}

func cacheKey(chainID string) string {
	return "govwatcher:subscribers:" + chainID
}

// ListSubscribersFor returns the subscribers eligible for delivery on
// chainID at now: active, watching chainID, and not yet expired.
func (d *HTTPDirectory) ListSubscribersFor(ctx context.Context, chainID string, now time.Time) ([]models.Subscriber, error) {
	if cached, ok := d.readCache(ctx, chainID); ok {
		return filterEligible(cached, chainID, now), nil
	}

	subscribers, err := d.fetch(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscribers for %s: %w", chainID, err)
	}

	d.writeCache(ctx, chainID, subscribers)
	return filterEligible(subscribers, chainID, now), nil
}

func (d *HTTPDirectory) readCache(ctx context.Context, chainID string) ([]models.Subscriber, bool) {
	if d.redis == nil {
		return nil, false
	}
	raw, err := d.redis.Get(ctx, cacheKey(chainID)).Result()
	if err != nil {
		return nil, false
	}
	var subscribers []models.Subscriber
	if err := json.Unmarshal([]byte(raw), &subscribers); err != nil {
		d.logger.Warn("failed to decode cached subscriber list", govlog.Chain(chainID), zap.Error(err))
		return nil, false
	}
	return subscribers, true
}

func (d *HTTPDirectory) writeCache(ctx context.Context, chainID string, subscribers []models.Subscriber) {
	if d.redis == nil {
		return
	}
	raw, err := json.Marshal(subscribers)
	if err != nil {
		d.logger.Warn("failed to encode subscriber list for cache", govlog.Chain(chainID), zap.Error(err))
		return
	}
	if err := d.redis.Set(ctx, cacheKey(chainID), raw, d.ttl).Err(); err != nil {
		d.logger.Warn("failed to write subscriber cache", govlog.Chain(chainID), zap.Error(err))
	}
}

func (d *HTTPDirectory) fetch(ctx context.Context, chainID string) ([]models.Subscriber, error) {
	url := fmt.Sprintf("%s/subscribers?chain=%s", d.baseURL, chainID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request subscribers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var subscribers []models.Subscriber
	if err := json.Unmarshal(body, &subscribers); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return subscribers, nil
}

func filterEligible(subscribers []models.Subscriber, chainID string, now time.Time) []models.Subscriber {
	eligible := make([]models.Subscriber, 0, len(subscribers))
	for _, s := range subscribers {
		if !s.Eligible(now) {
			continue
		}
		chains, err := s.Chains()
		if err != nil {
			continue
		}
		for _, c := range chains {
			if c == chainID {
				eligible = append(eligible, s)
				break
			}
		}
	}
	return eligible
}
