package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	openAIBaseURL   = "https://api.openai.com/v1"
	deepSeekBaseURL = "https://api.deepseek.com/v1"

	systemMessage = "You are a helpful assistant."
)

// OpenAIClient speaks the OpenAI chat-completions wire format. DeepSeek
// exposes the same API surface, so both providers share this client with
// different base URLs.
type OpenAIClient struct {
	provider string
	baseURL  string
	apiKey   string
	http     *http.Client
}

// NewOpenAIClient returns a client for api.openai.com. An empty baseURL
// selects the default endpoint.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	return &OpenAIClient{
		provider: "openai",
		baseURL:  baseURL,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 300 * time.Second},
	}
}

// NewDeepSeekClient returns a client for the DeepSeek endpoint.
func NewDeepSeekClient(apiKey, baseURL string) *OpenAIClient {
	c := NewOpenAIClient(apiKey, baseURL)
	c.provider = "deepseek"
	if baseURL == "" {
		c.baseURL = deepSeekBaseURL
	}
	return c
}

func (c *OpenAIClient) Provider() string { return c.provider }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	N           int           `json:"n,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAIClient) Complete(ctx context.Context, model, prompt string, params SamplingParams) ([]Completion, error) {
	if c.apiKey == "" {
		return nil, &Error{Provider: c.provider, Kind: KindFatal, Err: fmt.Errorf("missing API key")}
	}

	reqBody := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: prompt},
		},
		Temperature: params.Temperature,
		N:           params.NumSamples,
		MaxTokens:   params.MaxTokens,
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &Error{Provider: c.provider, Kind: KindFatal, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Provider: c.provider, Kind: KindFatal, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Provider: c.provider, Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: c.provider, Kind: KindTransient, Err: err}
	}

	if kind, ok := classifyStatus(resp.StatusCode); ok {
		return nil, &Error{
			Provider: c.provider,
			Kind:     kind,
			Err:      fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Provider: c.provider, Kind: KindTransient, Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != nil {
		return nil, &Error{Provider: c.provider, Kind: KindTransient, Err: fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Provider: c.provider, Kind: KindTransient, Err: fmt.Errorf("response has no choices")}
	}

	completions := make([]Completion, 0, len(parsed.Choices))
	for _, choice := range parsed.Choices {
		comp := Completion{
			Text:         choice.Message.Content,
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		}
		if choice.FinishReason == "content_filter" {
			comp = Completion{Filtered: true}
		}
		completions = append(completions, comp)
	}
	return completions, nil
}

// classifyStatus maps a non-2xx HTTP status to an error kind.
func classifyStatus(status int) (Kind, bool) {
	switch {
	case status >= 200 && status < 300:
		return 0, false
	case status == http.StatusTooManyRequests:
		return KindRateLimited, true
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusNotFound, status == http.StatusBadRequest:
		return KindFatal, true
	default:
		return KindTransient, true
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
