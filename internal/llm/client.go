// Package llm talks to chat-completion providers for the agent bridge.
// DeepSeek and other OpenAI-compatible gateways share one client; Gemini has
// its own.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrDisabled is returned by NewClient when no provider is configured.
var ErrDisabled = errors.New("llm: no provider configured")

type Message struct {
	Role    string
	Content string
}

type Request struct {
	Messages []Message

	// If set, called with incremental text deltas and the provider is asked
	// to stream.
	OnTextDelta func(delta string)
}

type Result struct {
	Text string
}

type Client interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// NewClient builds the client selected by cfg.Provider.
func NewClient(cfg Config) (Client, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderDeepSeek, ProviderOpenAICompat, "openai":
		return newOpenAICompatClient(httpClient, cfg)
	case ProviderGemini:
		return newGeminiClient(httpClient, cfg)
	default:
		return nil, fmt.Errorf("unsupported AURA_LLM_PROVIDER %q", cfg.Provider)
	}
}
