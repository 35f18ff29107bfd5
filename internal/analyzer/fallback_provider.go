package analyzer

import "github.com/zmazz/govwatcher-cosmos-vultr/internal/models"

// fallbackResult is the deterministic Analysis produced when every
// configured provider has failed.
func fallbackResult() Result {
	return Result{
		Recommendation: models.RecommendAbstain,
		Confidence:     0.0,
		Reasoning:      "no provider available",
		RiskAssessment: models.RiskHigh,
	}
}
