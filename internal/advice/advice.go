// Package advice renders per-subscriber Advice from a cached Analysis and
// fans out (Advice, Subscriber) pairs for delivery, bounded by a
// concurrency limit.
package advice

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/govlog"
	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

// Render computes the Advice for one subscriber from one Analysis,
// deterministically except for CreatedAt: regenerating from the same
// Analysis and Policy MUST produce byte-identical fields except CreatedAt.
// chainName and title carry through to the Notifier's subject template and
// are cosmetic only: they play no part in the decision or fingerprint.
func Render(chainID, chainName string, proposalID int64, title, subscriberID string, analysis models.Analysis, policy models.Policy) models.Advice {
	decision := models.DecisionFromRecommendation(analysis.Recommendation)
	return models.Advice{
		ChainID:      chainID,
		ChainName:    chainName,
		ProposalID:   proposalID,
		Title:        title,
		SubscriberID: subscriberID,
		Decision:     decision,
		Rationale:    alignmentPrefix(policy.RiskTolerance, analysis.RiskAssessment) + analysis.Reasoning,
		Confidence:   analysis.Confidence,
		CreatedAt:    time.Now(),
	}
}

// alignmentPrefix produces a one-line statement of how the analysis's risk
// assessment aligns with the subscriber's declared risk tolerance.
func alignmentPrefix(tolerance models.RiskTolerance, risk models.RiskLevel) string {
	switch {
	case riskRank(risk) > toleranceRank(tolerance):
		return fmt.Sprintf("This proposal's assessed risk (%s) exceeds your declared tolerance (%s). ", risk, tolerance)
	case riskRank(risk) < toleranceRank(tolerance):
		return fmt.Sprintf("This proposal's assessed risk (%s) is comfortably within your declared tolerance (%s). ", risk, tolerance)
	default:
		return fmt.Sprintf("This proposal's assessed risk (%s) matches your declared tolerance. ", risk)
	}
}

func riskRank(r models.RiskLevel) int {
	switch r {
	case models.RiskLow:
		return 0
	case models.RiskMedium:
		return 1
	case models.RiskHigh:
		return 2
	default:
		return 1
	}
}

func toleranceRank(t models.RiskTolerance) int {
	switch t {
	case models.ToleranceLow:
		return 0
	case models.ToleranceMedium:
		return 1
	case models.ToleranceHigh:
		return 2
	default:
		return 1
	}
}

// Delivery is a rendered Advice paired with the Subscriber it targets.
type Delivery struct {
	Advice     models.Advice
	Subscriber models.Subscriber
}

// FanOut renders and forwards an Advice for every subscriber, bounded by
// maxConcurrency, calling deliver for each. It blocks until every
// subscriber has been processed.
func FanOut(ctx context.Context, chainID, chainName string, proposalID int64, title string, analysis models.Analysis, subscribers []models.Subscriber, maxConcurrency int, deliver func(Delivery), logger *zap.Logger) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	tokens := make(chan struct{}, maxConcurrency)
	done := make(chan struct{}, len(subscribers))

	for _, sub := range subscribers {
		sub := sub
		tokens <- struct{}{}
		go func() {
			defer func() { <-tokens; done <- struct{}{} }()

			policy, err := sub.GetPolicy()
			if err != nil {
				logger.Warn("failed to decode subscriber policy, skipping",
					govlog.Subscriber(sub.SubscriberID), zap.Error(err))
				return
			}

			rendered := Render(chainID, chainName, proposalID, title, sub.SubscriberID, analysis, policy)
			deliver(Delivery{Advice: rendered, Subscriber: sub})
		}()
	}

	for i := 0; i < len(subscribers); i++ {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}
