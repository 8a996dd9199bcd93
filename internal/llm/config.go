package llm

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderDeepSeek     = "deepseek"
	ProviderOpenAICompat = "openai_compat"
	ProviderGemini       = "gemini"

	DefaultDeepSeekURL   = "https://api.deepseek.com"
	DefaultDeepSeekModel = "deepseek-coder"
	DefaultGeminiURL     = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-1.5-flash-latest"
)

type Config struct {
	Provider string

	BaseURL string
	APIKey  string
	Model   string

	// SystemPrompt replaces the agent's built-in instructions when set.
	SystemPrompt string

	Timeout    time.Duration
	Stream     bool
	MaxHistory int

	// OpenAI-compatible
	ChatPath string

	// Gemini
	GeminiKeyHeader string
}

// Enabled reports whether a provider and key are configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Provider) != "" && strings.TrimSpace(c.APIKey) != ""
}

func (c Config) ChatURL() (string, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"))
	if err != nil {
		return "", err
	}
	p := strings.TrimSpace(c.ChatPath)
	if p == "" {
		p = "/v1/chat/completions"
	}
	return base.ResolveReference(&url.URL{Path: p}).String(), nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("AURA_LLM_BASE_URL is required for provider %q", c.Provider)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("AURA_LLM_MODEL is required for provider %q", c.Provider)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("an API key is required for provider %q (AURA_LLM_API_KEY)", c.Provider)
	}
	return ValidateOpenAICompatBaseURL(c.BaseURL, c.Provider, c.ChatPath)
}

// ValidateOpenAICompatBaseURL rejects a base URL ending in /v1 combined with a
// chat path that starts with /v1/.
func ValidateOpenAICompatBaseURL(baseURL string, provider string, chatPath string) error {
	bu := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if bu == "" {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderOpenAICompat, "openai", ProviderDeepSeek:
	default:
		return nil
	}
	cp := strings.TrimSpace(chatPath)
	if cp == "" {
		cp = "/v1/chat/completions"
	}
	if strings.HasSuffix(bu, "/v1") && strings.HasPrefix(cp, "/v1/") {
		return fmt.Errorf("AURA_LLM_BASE_URL ends with /v1 while AURA_LLM_CHAT_PATH is %q; this would call /v1/v1/... (drop /v1 from the base URL or set AURA_LLM_CHAT_PATH=/chat/completions)", cp)
	}
	return nil
}

// FromEnv reads AURA_LLM_* variables. Without AURA_LLM_PROVIDER the provider
// is picked from whichever of DEEPSEEK_API_KEY or GEMINI_API_KEY is set, in
// that order.
func FromEnv() Config {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("AURA_LLM_PROVIDER")))
	deepseekKey := strings.TrimSpace(os.Getenv("DEEPSEEK_API_KEY"))
	geminiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if provider == "" {
		switch {
		case deepseekKey != "":
			provider = ProviderDeepSeek
		case geminiKey != "":
			provider = ProviderGemini
		case strings.TrimSpace(os.Getenv("AURA_LLM_API_KEY")) != "":
			provider = ProviderDeepSeek
		}
	}

	apiKey := strings.TrimSpace(os.Getenv("AURA_LLM_API_KEY"))
	baseURL, model := "", ""
	switch provider {
	case ProviderGemini:
		if apiKey == "" {
			apiKey = geminiKey
		}
		baseURL, model = DefaultGeminiURL, DefaultGeminiModel
	case ProviderDeepSeek:
		if apiKey == "" {
			apiKey = deepseekKey
		}
		baseURL, model = DefaultDeepSeekURL, DefaultDeepSeekModel
	}

	return Config{
		Provider:     provider,
		BaseURL:      defaultEnv("AURA_LLM_BASE_URL", baseURL),
		APIKey:       apiKey,
		Model:        defaultEnv("AURA_LLM_MODEL", model),
		SystemPrompt: os.Getenv("AURA_LLM_SYSTEM"),
		Timeout:      parseDurationMillisEnv("AURA_LLM_TIMEOUT_MS", 30_000),
		Stream:       parseBoolEnv("AURA_LLM_STREAM", false),
		MaxHistory:   parseIntEnv("AURA_LLM_MAX_HISTORY", 40),

		ChatPath:        defaultEnv("AURA_LLM_CHAT_PATH", "/v1/chat/completions"),
		GeminiKeyHeader: defaultEnv("AURA_LLM_GEMINI_KEY_HEADER", "x-goog-api-key"),
	}
}

// Redacted returns the key with everything but its last four characters
// masked.
func (c Config) Redacted() string {
	k := strings.TrimSpace(c.APIKey)
	if len(k) <= 4 {
		return strings.Repeat("*", len(k))
	}
	return strings.Repeat("*", len(k)-4) + k[len(k)-4:]
}

func defaultEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func parseIntEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func parseDurationMillisEnv(key string, fallbackMillis int) time.Duration {
	return time.Duration(parseIntEnv(key, fallbackMillis)) * time.Millisecond
}
