package cmd

import (
	"log/slog"

	"github.com/nextlevelbuilder/chatrelay/internal/config"
	"github.com/nextlevelbuilder/chatrelay/internal/providers"
)

// registerProviders binds the configured backends: Copilot is the default
// selector, Claude answers "claude" and raw prompts.
func registerProviders(registry *providers.Registry, cfg *config.Config) {
	if c := cfg.Providers.Copilot; c.PAT != "" {
		registry.Register(providers.SelectorDefault, providers.NewCopilotProvider(c.PAT,
			providers.WithCopilotTokenURL(c.TokenURL),
			providers.WithCopilotAPIBase(c.APIBase),
			providers.WithCopilotModel(c.Model),
			providers.WithCopilotTimeout(c.Timeout.Std()),
		))
		slog.Info("registered provider", "name", "copilot", "selector", providers.SelectorDefault.String())
	}

	if c := cfg.Providers.Claude; c.APIKey != "" {
		registry.Register(providers.SelectorClaude, providers.NewClaudeProvider(c.APIKey,
			providers.WithClaudeBaseURL(c.APIBase),
			providers.WithClaudeModel(c.Model),
			providers.WithClaudeMaxTokens(c.MaxTokens),
			providers.WithClaudeTimeout(c.Timeout.Std()),
		))
		slog.Info("registered provider", "name", "claude", "selector", providers.SelectorClaude.String())
	}
}
