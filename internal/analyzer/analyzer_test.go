package analyzer

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

type scriptedProvider struct {
	name      string
	responses []string
	err       error
	calls     int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Analyze(ctx context.Context, prompt string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	return p.responses[idx], nil
}

const validJSON = `{"recommendation":"APPROVE","confidence":0.8,"reasoning":"looks fine","risk_assessment":"LOW"}`

func TestAnalyzeUsesFirstSuccessfulProvider(t *testing.T) {
	p1 := &scriptedProvider{name: "p1", responses: []string{validJSON}}
	a := New([]Provider{p1}, zaptest.NewLogger(t))

	analysis := a.Analyze(context.Background(), models.Proposal{Title: "Raise min deposit"}, models.Policy{})
	if analysis.Provider != "p1" || analysis.Recommendation != models.RecommendApprove {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}
}

func TestAnalyzeFallsThroughOnTransientError(t *testing.T) {
	p1 := &scriptedProvider{name: "p1", err: fmt.Errorf("%w: timeout", ErrTransient)}
	p2 := &scriptedProvider{name: "p2", responses: []string{validJSON}}
	a := New([]Provider{p1, p2}, zaptest.NewLogger(t))

	analysis := a.Analyze(context.Background(), models.Proposal{}, models.Policy{})
	if analysis.Provider != "p2" {
		t.Fatalf("expected fallthrough to p2, got %q", analysis.Provider)
	}
}

func TestAnalyzeRepairsMalformedOutputOnce(t *testing.T) {
	p1 := &scriptedProvider{name: "p1", responses: []string{"not json", validJSON}}
	a := New([]Provider{p1}, zaptest.NewLogger(t))

	analysis := a.Analyze(context.Background(), models.Proposal{}, models.Policy{})
	if analysis.Provider != "p1" || analysis.Recommendation != models.RecommendApprove {
		t.Fatalf("expected repair to succeed on second attempt, got %+v", analysis)
	}
	if p1.calls != 2 {
		t.Fatalf("expected exactly 2 calls (original + repair), got %d", p1.calls)
	}
}

func TestAnalyzeGivesUpAfterFailedRepair(t *testing.T) {
	p1 := &scriptedProvider{name: "p1", responses: []string{"not json", "still not json"}}
	p2 := &scriptedProvider{name: "p2", responses: []string{validJSON}}
	a := New([]Provider{p1, p2}, zaptest.NewLogger(t))

	analysis := a.Analyze(context.Background(), models.Proposal{}, models.Policy{})
	if analysis.Provider != "p2" {
		t.Fatalf("expected move to p2 after failed repair, got %q", analysis.Provider)
	}
}

func TestAnalyzeFallsBackWhenAllProvidersFail(t *testing.T) {
	p1 := &scriptedProvider{name: "p1", err: fmt.Errorf("%w: down", ErrTransient)}
	p2 := &scriptedProvider{name: "p2", err: fmt.Errorf("%w: down", ErrTransient)}
	a := New([]Provider{p1, p2}, zaptest.NewLogger(t))

	analysis := a.Analyze(context.Background(), models.Proposal{}, models.Policy{})
	if analysis.Provider != "fallback" {
		t.Fatalf("expected fallback provider, got %q", analysis.Provider)
	}
	if analysis.Recommendation != models.RecommendAbstain || analysis.Confidence != 0.0 || analysis.RiskAssessment != models.RiskHigh {
		t.Fatalf("unexpected fallback analysis: %+v", analysis)
	}
}

func TestClassifyCategoryKeywords(t *testing.T) {
	cases := []struct {
		title, description string
		want                Category
	}{
		{"Signal proposal on community sentiment", "", CategoryText},
		{"Upgrade to v12", "binary upgrade for all validators", CategoryUpgrade},
		{"Open IBC channel with chain X", "", CategoryIBC},
		{"Community pool spend for grants", "", CategoryCommunityPoolSpend},
		{"Change inflation parameter", "", CategoryParameterChange},
		{"Something unrelated", "nothing matches", CategoryOther},
	}
	for _, tc := range cases {
		got := Classify(tc.title, tc.description)
		if got != tc.want {
			t.Errorf("Classify(%q, %q) = %q, want %q", tc.title, tc.description, got, tc.want)
		}
	}
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	proposal := models.Proposal{ChainID: "osmosis-1", ProposalID: 7, Title: "Raise pool incentives", Status: models.StatusVoting}
	policy := models.Policy{RiskTolerance: models.ToleranceLow, Criteria: map[string]float64{"b": 0.4, "a": 0.6}}

	p1 := BuildPrompt(proposal, policy)
	p2 := BuildPrompt(proposal, policy)
	if p1 != p2 {
		t.Fatal("expected BuildPrompt to be deterministic for identical inputs")
	}
}
