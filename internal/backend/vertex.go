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

const vertexBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// VertexClient speaks the Gemini generateContent wire format. Sampling count
// is expressed through candidateCount in the generation config.
type VertexClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewVertexClient returns a client for the Gemini API. An empty baseURL
// selects the default endpoint.
func NewVertexClient(apiKey, baseURL string) *VertexClient {
	if baseURL == "" {
		baseURL = vertexBaseURL
	}
	return &VertexClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 300 * time.Second},
	}
}

func (c *VertexClient) Provider() string { return "vertexai" }

type vertexRequest struct {
	Contents []vertexContent `json:"contents"`
	Config   vertexGenConfig `json:"generationConfig"`
}

type vertexContent struct {
	Role  string       `json:"role"`
	Parts []vertexPart `json:"parts"`
}

type vertexPart struct {
	Text string `json:"text"`
}

type vertexGenConfig struct {
	Temperature     float64 `json:"temperature"`
	CandidateCount  int     `json:"candidateCount,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type vertexResponse struct {
	Candidates []struct {
		Content      vertexContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (c *VertexClient) Complete(ctx context.Context, model, prompt string, params SamplingParams) ([]Completion, error) {
	if c.apiKey == "" {
		return nil, &Error{Provider: "vertexai", Kind: KindFatal, Err: fmt.Errorf("missing API key")}
	}

	reqBody := vertexRequest{
		Contents: []vertexContent{
			{Role: "user", Parts: []vertexPart{{Text: prompt}}},
		},
		Config: vertexGenConfig{
			Temperature:     params.Temperature,
			CandidateCount:  params.NumSamples,
			MaxOutputTokens: params.MaxTokens,
		},
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &Error{Provider: "vertexai", Kind: KindFatal, Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Provider: "vertexai", Kind: KindFatal, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Provider: "vertexai", Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: "vertexai", Kind: KindTransient, Err: err}
	}
	if kind, ok := classifyStatus(resp.StatusCode); ok {
		return nil, &Error{
			Provider: "vertexai",
			Kind:     kind,
			Err:      fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	var parsed vertexResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Provider: "vertexai", Kind: KindTransient, Err: fmt.Errorf("decode response: %w", err)}
	}

	// A prompt-level block yields filtered samples, not a retryable error.
	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		filtered := make([]Completion, params.NumSamples)
		for i := range filtered {
			filtered[i] = Completion{Filtered: true}
		}
		return filtered, nil
	}
	if len(parsed.Candidates) == 0 {
		return nil, &Error{Provider: "vertexai", Kind: KindTransient, Err: fmt.Errorf("response has no candidates")}
	}

	completions := make([]Completion, 0, len(parsed.Candidates))
	for _, cand := range parsed.Candidates {
		if cand.FinishReason == "SAFETY" || cand.FinishReason == "PROHIBITED_CONTENT" {
			completions = append(completions, Completion{Filtered: true})
			continue
		}
		var text string
		if len(cand.Content.Parts) > 0 {
			text = cand.Content.Parts[0].Text
		}
		completions = append(completions, Completion{
			Text:         text,
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		})
	}
	return completions, nil
}
