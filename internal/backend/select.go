package backend

import "fmt"

// Credentials carries the per-provider API key and optional endpoint
// override resolved at startup (config file or environment).
type Credentials struct {
	APIKey  string
	BaseURL string
}

// DefaultModel returns the default model identifier per provider.
func DefaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "deepseek":
		return "deepseek-chat"
	case "vertexai":
		return "gemini-2.0-flash"
	default:
		return "gpt-4o-2024-08-06"
	}
}

// NewClient selects the provider implementation by name. Provider-specific
// branching lives here and nowhere else; every stage sees only the Gateway.
func NewClient(provider string, creds Credentials) (Client, error) {
	switch provider {
	case "openai":
		return NewOpenAIClient(creds.APIKey, creds.BaseURL), nil
	case "anthropic":
		return NewAnthropicClient(creds.APIKey, creds.BaseURL), nil
	case "deepseek":
		return NewDeepSeekClient(creds.APIKey, creds.BaseURL), nil
	case "vertexai":
		return NewVertexClient(creds.APIKey, creds.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want openai, anthropic, deepseek, or vertexai)", provider)
	}
}
