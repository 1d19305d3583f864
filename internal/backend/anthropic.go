package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient drives the Messages API through the official SDK. The API
// has no n parameter, so multi-sample requests issue one call per sample.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient returns a client using the given API key. An empty
// baseURL selects the SDK default endpoint.
func NewAnthropicClient(apiKey, baseURL string) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{client: anthropic.NewClient(opts...)}
}

func (c *AnthropicClient) Provider() string { return "anthropic" }

func (c *AnthropicClient) Complete(ctx context.Context, model, prompt string, params SamplingParams) ([]Completion, error) {
	completions := make([]Completion, 0, params.NumSamples)
	for i := 0; i < params.NumSamples; i++ {
		comp, err := c.completeOne(ctx, model, prompt, params)
		if err != nil {
			return nil, err
		}
		completions = append(completions, comp)
	}
	return completions, nil
}

func (c *AnthropicClient) completeOne(ctx context.Context, model, prompt string, params SamplingParams) (Completion, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(params.MaxTokens),
		Temperature: anthropic.Float(params.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Completion{}, c.classify(err)
	}

	if strings.EqualFold(string(message.StopReason), "refusal") {
		return Completion{Filtered: true}, nil
	}
	if len(message.Content) == 0 {
		return Completion{Filtered: true}, nil
	}
	block := message.Content[0]
	if block.Type != "text" {
		return Completion{}, &Error{
			Provider: "anthropic",
			Kind:     KindTransient,
			Err:      fmt.Errorf("unexpected content block type %q", block.Type),
		}
	}
	return Completion{
		Text:         block.Text,
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}, nil
}

func (c *AnthropicClient) classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := KindTransient
		switch {
		case apiErr.StatusCode == 429:
			kind = KindRateLimited
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403 || apiErr.StatusCode == 400:
			kind = KindFatal
		case apiErr.StatusCode >= 500:
			kind = KindTransient
		}
		return &Error{Provider: "anthropic", Kind: kind, Err: err}
	}
	return &Error{Provider: "anthropic", Kind: KindTransient, Err: err}
}
