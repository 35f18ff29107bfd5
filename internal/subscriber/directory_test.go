package subscriber

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func makeSubscriber(t *testing.T, id string, chains []string, active bool) models.Subscriber {
	t.Helper()
	s := models.Subscriber{SubscriberID: id, Address: id + "@example.com", Active: active, ActiveUntil: time.Now().Add(time.Hour)}
	if err := s.SetChains(chains); err != nil {
		t.Fatalf("SetChains: %v", err)
	}
	return s
}

func TestListSubscribersForFiltersByChainAndEligibility(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		subs := []models.Subscriber{
			makeSubscriber(t, "sub-1", []string{"chain-1"}, true),
			makeSubscriber(t, "sub-2", []string{"chain-2"}, true),
			makeSubscriber(t, "sub-3", []string{"chain-1"}, false),
		}
		json.NewEncoder(w).Encode(subs)
	}))
	defer srv.Close()

	dir := NewHTTPDirectory(srv.URL, newTestRedis(t), 5*time.Minute, zaptest.NewLogger(t))
	got, err := dir.ListSubscribersFor(context.Background(), "chain-1", time.Now())
	if err != nil {
		t.Fatalf("ListSubscribersFor: %v", err)
	}
	if len(got) != 1 || got[0].SubscriberID != "sub-1" {
		t.Fatalf("expected only sub-1 eligible, got %+v", got)
	}
}

func TestListSubscribersForCachesAcrossCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		subs := []models.Subscriber{makeSubscriber(t, "sub-1", []string{"chain-1"}, true)}
		json.NewEncoder(w).Encode(subs)
	}))
	defer srv.Close()

	dir := NewHTTPDirectory(srv.URL, newTestRedis(t), 5*time.Minute, zaptest.NewLogger(t))
	for i := 0; i < 3; i++ {
		if _, err := dir.ListSubscribersFor(context.Background(), "chain-1", time.Now()); err != nil {
			t.Fatalf("ListSubscribersFor: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly one upstream fetch due to caching, got %d", calls)
	}
}
