package analyzer

import "context"

// Provider is one entry in the Hybrid Analyzer's ordered fallback chain.
// It returns the model's raw text response; schema parsing, validation,
// and repair are handled by the Analyzer so every provider is held to the
// same contract.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, prompt string) (string, error)
}
