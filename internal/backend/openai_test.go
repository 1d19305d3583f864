package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status  int
		kind    Kind
		isError bool
	}{
		{200, 0, false},
		{201, 0, false},
		{400, KindFatal, true},
		{401, KindFatal, true},
		{403, KindFatal, true},
		{404, KindFatal, true},
		{429, KindRateLimited, true},
		{500, KindTransient, true},
		{502, KindTransient, true},
	}
	for _, tt := range tests {
		kind, isError := classifyStatus(tt.status)
		assert.Equal(t, tt.isError, isError, "status %d", tt.status)
		if tt.isError {
			assert.Equal(t, tt.kind, kind, "status %d", tt.status)
		}
	}
}

func TestOpenAIClientCompleteWireFormat(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "patch text"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 34},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", server.URL)
	got, err := client.Complete(context.Background(), "gpt-4o", "fix the bug", SamplingParams{
		Temperature: 0.8, NumSamples: 1, MaxTokens: 512,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.Equal(t, "fix the bug", gotReq.Messages[1].Content)
	assert.Equal(t, 0.8, gotReq.Temperature)

	require.Len(t, got, 1)
	assert.Equal(t, "patch text", got[0].Text)
	assert.EqualValues(t, 12, got[0].InputTokens)
	assert.EqualValues(t, 34, got[0].OutputTokens)
}

func TestOpenAIClientContentFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": ""}, "finish_reason": "content_filter"},
			},
		})
	}))
	defer server.Close()

	got, err := NewOpenAIClient("sk-test", server.URL).Complete(context.Background(), "gpt-4o", "p", SamplingParams{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Filtered)
}

func TestOpenAIClientRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "slow down"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewOpenAIClient("sk-test", server.URL).Complete(context.Background(), "gpt-4o", "p", SamplingParams{})
	require.Error(t, err)
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindRateLimited, be.Kind)
}

func TestOpenAIClientMissingKeyIsFatal(t *testing.T) {
	_, err := NewOpenAIClient("", "http://unused").Complete(context.Background(), "gpt-4o", "p", SamplingParams{})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestNewClientSelectsProvider(t *testing.T) {
	for provider, want := range map[string]string{
		"openai":    "openai",
		"deepseek":  "deepseek",
		"anthropic": "anthropic",
		"vertexai":  "vertexai",
	} {
		client, err := NewClient(provider, Credentials{APIKey: "k"})
		require.NoError(t, err, provider)
		assert.Equal(t, want, client.Provider())
	}

	_, err := NewClient("bedrock", Credentials{})
	assert.Error(t, err)
}

func TestDefaultModelPerProvider(t *testing.T) {
	assert.NotEmpty(t, DefaultModel("openai"))
	assert.NotEmpty(t, DefaultModel("anthropic"))
	assert.NotEmpty(t, DefaultModel("deepseek"))
	assert.NotEmpty(t, DefaultModel("vertexai"))
}
