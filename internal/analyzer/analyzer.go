package analyzer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/govlog"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

// Analyzer drives the ordered provider list against a single deterministic
// prompt, repairing malformed output once per provider before moving on,
// and degrading to a deterministic fallback Analysis if every provider
// fails.
type Analyzer struct {
	providers []Provider
	logger    *zap.Logger
	now       func() time.Time
}

// New builds an Analyzer trying providers in the given order.
func New(providers []Provider, logger *zap.Logger) *Analyzer {
	return &Analyzer{providers: providers, logger: logger, now: time.Now}
}

// Analyze produces an Analysis for a Proposal and Policy. It never returns
// an error: if every provider fails, it returns the deterministic fallback
// Analysis instead, per the always-advise contract.
func (a *Analyzer) Analyze(ctx context.Context, proposal models.Proposal, policy models.Policy) models.Analysis {
	prompt := BuildPrompt(proposal, policy)

	for _, provider := range a.providers {
		result, err := a.attempt(ctx, provider, prompt)
		if err == nil {
			return a.toAnalysis(result, provider.Name())
		}
		a.logger.Warn("analyzer provider failed, trying next",
			zap.String("provider", provider.Name()),
			govlog.Proposal(proposal.ProposalID),
			zap.Error(err),
		)
	}

	a.logger.Error("all analyzer providers failed, using deterministic fallback",
		govlog.Proposal(proposal.ProposalID))
	return a.toAnalysis(fallbackResult(), "fallback")
}

// attempt calls provider.Analyze once, and if the result is malformed,
// retries exactly once with a repair request before giving up on this
// provider. Transient errors (network/rate-limit) are not repaired; they
// propagate immediately so the caller moves to the next provider.
func (a *Analyzer) attempt(ctx context.Context, provider Provider, prompt string) (Result, error) {
	raw, err := provider.Analyze(ctx, prompt)
	if err != nil {
		return Result{}, err
	}

	result, parseErr := parseResult(raw)
	if parseErr == nil {
		return result, nil
	}
	if !errors.Is(parseErr, ErrPermanent) {
		return Result{}, parseErr
	}

	raw, err = provider.Analyze(ctx, prompt+repairSuffix)
	if err != nil {
		return Result{}, err
	}
	result, parseErr = parseResult(raw)
	if parseErr != nil {
		return Result{}, parseErr
	}
	return result, nil
}

func (a *Analyzer) toAnalysis(result Result, provider string) models.Analysis {
	analysis := models.Analysis{
		Provider:       provider,
		Recommendation: result.Recommendation,
		Confidence:     result.Confidence,
		Reasoning:      result.Reasoning,
		RiskAssessment: result.RiskAssessment,
	}
	if err := analysis.SetStructured(result.Structured); err != nil {
		a.logger.Warn("failed to encode structured analysis fields", zap.Error(err))
	}
	return analysis
}
