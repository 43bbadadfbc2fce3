package brain

import (
	"fmt"
	"log/slog"

	"issuemind.app/triage/common/llm"
	"issuemind.app/triage/core/config"
)

// NewBackend returns an LLM-backed backend when a provider key is configured
// and the heuristic backend otherwise.
func NewBackend(cfg config.AIConfig) (Backend, error) {
	if !cfg.Enabled() {
		slog.Warn("no AI provider configured, using heuristic backend", "provider", cfg.Provider)
		return NewHeuristicBackend(), nil
	}

	client, err := llm.New(llm.Config{
		Provider: llm.Provider(cfg.Provider),
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}
	return NewLLMBackend(client, cfg.MaxTokens), nil
}
