package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zmazz/govwatcher-cosmos-vultr/internal/models"
)

// ErrTransient marks a provider failure that warrants trying the next
// provider without penalty: timeout, 5xx, or rate limit.
var ErrTransient = errors.New("analyzer: transient provider error")

// ErrPermanent marks a provider failure not worth retrying against the same
// provider: a non-retryable API error, or output that violates the schema.
// The Analyzer repairs a schema violation once before moving on.
var ErrPermanent = errors.New("analyzer: permanent provider error")

// rawResult is the wire shape every provider is asked to emit.
type rawResult struct {
	Recommendation string         `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	RiskAssessment string         `json:"risk_assessment"`
	Structured     map[string]any `json:"structured,omitempty"`
}

// Result is a parsed, validated provider output.
type Result struct {
	Recommendation models.Recommendation
	Confidence     float64
	Reasoning      string
	RiskAssessment models.RiskLevel
	Structured     map[string]any
}

// parseResult strictly decodes and validates a provider's raw text output.
// Missing required fields, an out-of-range confidence, or an unknown
// recommendation value are all treated as a schema violation.
func parseResult(raw string) (Result, error) {
	trimmed := extractJSONObject(raw)

	var rr rawResult
	if err := json.Unmarshal([]byte(trimmed), &rr); err != nil {
		return Result{}, fmt.Errorf("%w: invalid JSON: %v", ErrPermanent, err)
	}

	rec := models.Recommendation(rr.Recommendation)
	switch rec {
	case models.RecommendApprove, models.RecommendReject, models.RecommendAbstain:
	default:
		return Result{}, fmt.Errorf("%w: unknown recommendation %q", ErrPermanent, rr.Recommendation)
	}

	if rr.Confidence < 0 || rr.Confidence > 1 {
		return Result{}, fmt.Errorf("%w: confidence %v out of range", ErrPermanent, rr.Confidence)
	}

	risk := models.RiskLevel(rr.RiskAssessment)
	switch risk {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
	default:
		return Result{}, fmt.Errorf("%w: unknown risk assessment %q", ErrPermanent, rr.RiskAssessment)
	}

	if rr.Reasoning == "" {
		return Result{}, fmt.Errorf("%w: missing reasoning", ErrPermanent)
	}

	return Result{
		Recommendation: rec,
		Confidence:     rr.Confidence,
		Reasoning:      rr.Reasoning,
		RiskAssessment: risk,
		Structured:     rr.Structured,
	}, nil
}

// extractJSONObject trims any leading/trailing prose a provider may wrap
// around its JSON object, taking the outermost {...} span.
func extractJSONObject(raw string) string {
	start := -1
	depth := 0
	for i, r := range raw {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				return raw[start : i+1]
			}
		}
	}
	return raw
}
