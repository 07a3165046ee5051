package llm

import (
	"fmt"
	"strings"
)

// Provider constants for LLM provider selection.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds LLM client configuration.
type Config struct {
	Provider             string // "openai" or "anthropic"
	APIKey               string // Required: API key for the provider
	BaseURL              string // Optional: custom API endpoint
	Model                string // Model name (e.g., "o1-mini", "claude-sonnet-4-5-20250514")
	BypassJSONValidation bool   // Skip provider-enforced schemas; parse JSON from raw output instead
}

// New creates a Client for structured and free-text reasoning calls.
// It selects the appropriate provider based on cfg.Provider ("openai" or "anthropic").
// Defaults to OpenAI if no provider is specified.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}

	switch provider {
	case ProviderOpenAI:
		return newOpenAIClient(cfg)
	case ProviderAnthropic:
		return newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// reasoningPrefixes identifies OpenAI model families that reason before
// answering. These models reject system messages, temperature, and
// response_format, so callers adjust request shape accordingly.
var reasoningPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// IsReasoningModel reports whether the model is a reasoning-capable model.
func IsReasoningModel(model string) bool {
	lower := strings.ToLower(model)
	for _, p := range reasoningPrefixes {
		if lower == p || strings.HasPrefix(lower, p+"-") || strings.HasPrefix(lower, p+".") {
			return true
		}
	}
	return strings.HasSuffix(lower, "-thinking") || strings.Contains(lower, "claude")
}

// ExtractJSON pulls a JSON object out of model output that may wrap it in
// markdown fences or surrounding prose. Returns the input unchanged when no
// object boundary is found.
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)

	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
