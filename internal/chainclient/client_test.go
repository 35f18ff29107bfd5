package chainclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

func TestListActiveFiltersTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"proposals":[
			{"proposal_id":"1","status":"PROPOSAL_STATUS_VOTING_PERIOD","content":{"title":"a"}},
			{"proposal_id":"2","status":"PROPOSAL_STATUS_PASSED","content":{"title":"b"}},
			{"proposal_id":"3","status":"PROPOSAL_STATUS_DEPOSIT_PERIOD","content":{"title":"c"}}
		]}`))
	}))
	defer srv.Close()

	c := New("test-1", []string{srv.URL}, zaptest.NewLogger(t))
	got, err := c.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 active proposals, got %d: %+v", len(got), got)
	}
}

func TestFetchDecodesProposal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"proposal":{"proposal_id":"42","status":"PROPOSAL_STATUS_VOTING_PERIOD",
			"content":{"title":"Raise block gas limit","description":"desc","@type":"/cosmos.gov.v1beta1.TextProposal"},
			"proposer":"cosmos1abc"}}`))
	}))
	defer srv.Close()

	c := New("test-1", []string{srv.URL}, zaptest.NewLogger(t))
	p, err := c.Fetch(context.Background(), 42)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Title != "Raise block gas limit" || p.Status != models.StatusVoting {
		t.Fatalf("unexpected proposal: %+v", p)
	}
}

func TestFetchPermanentErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New("test-1", []string{srv.URL}, zaptest.NewLogger(t))
	_, err := c.Fetch(context.Background(), 99)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		// one attempt per REST version (v1beta1 then v1 fallback), no retries within each.
		t.Fatalf("expected exactly 2 calls (v1beta1 + v1 fallback, no retry on permanent error), got %d", got)
	}
}

func TestRoundRobinRotatesEndpoints(t *testing.T) {
	var hitsA, hitsB int32
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hitsA, 1)
		w.Write([]byte(`{"proposals":[]}`))
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hitsB, 1)
		w.Write([]byte(`{"proposals":[]}`))
	}))
	defer srvB.Close()

	c := New("test-1", []string{srvA.URL, srvB.URL}, zaptest.NewLogger(t))
	for i := 0; i < 4; i++ {
		if _, err := c.ListActive(context.Background()); err != nil {
			t.Fatalf("ListActive: %v", err)
		}
	}
	if hitsA == 0 || hitsB == 0 {
		t.Fatalf("expected both endpoints to be hit, got A=%d B=%d", hitsA, hitsB)
	}
}
