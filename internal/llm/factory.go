package llm

import (
	"fmt"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// RequestsPerMinute wraps the provider in a rate limiter when > 0.
	RequestsPerMinute int
}

// NewProvider creates a new LLM provider based on the given configuration.
// Supported provider types: "openai", "openrouter".
func NewProvider(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is not set", cfg.Provider)
	}

	var p Provider
	switch cfg.Provider {
	case "openai", "":
		p = NewOpenAIProvider("openai", cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "openrouter":
		base := cfg.BaseURL
		if base == "" {
			base = openRouterBaseURL
		}
		p = NewOpenAIProvider("openrouter", cfg.APIKey, base, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider)
	}

	if cfg.RequestsPerMinute > 0 {
		p = NewRateLimitedProvider(p, cfg.RequestsPerMinute)
	}
	return p, nil
}
