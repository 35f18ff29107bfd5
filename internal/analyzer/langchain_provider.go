package analyzer

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LangchainProvider is the local/tertiary provider: a self-hosted Ollama
// model reached through langchaingo's Ollama binding. It is the last
// provider tried before the deterministic fallback, covering the case
// where no cloud provider is reachable.
type LangchainProvider struct {
	llm llms.Model
}

// NewLangchainProvider builds a provider against a local Ollama server.
func NewLangchainProvider(baseURL, model string) (*LangchainProvider, error) {
	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("build ollama client: %w", err)
	}
	return &LangchainProvider{llm: llm}, nil
}

func (p *LangchainProvider) Name() string { return "langchain-local" }

func (p *LangchainProvider) Analyze(ctx context.Context, prompt string) (string, error) {
	text, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt)
	if err != nil {
		// A local, self-hosted model's failures are almost always
		// connectivity/availability issues rather than malformed-request
		// errors, so they are always worth a retry against the next
		// provider rather than treated as permanent.
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return text, nil
}
