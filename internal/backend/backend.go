// Package backend normalizes "generate text from a prompt under a named
// model" across LLM providers with different request shapes, auth schemes,
// and error semantics. The Gateway enforces a per-provider in-flight ceiling
// and retries rate-limited and transient failures with capped exponential
// backoff; auth and configuration failures surface immediately.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mend/internal/logging"
)

// Kind classifies a backend failure for retry policy.
type Kind int

const (
	// KindTransient covers connection resets, timeouts, and 5xx responses.
	KindTransient Kind = iota
	// KindRateLimited is a 429 or provider-specific throttle signal.
	KindRateLimited
	// KindFatal is bad auth or bad configuration. Never retried; the run
	// halts because every subsequent unit would fail the same way.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// Error is a classified backend failure.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s backend (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a KindFatal backend classification.
func IsFatal(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == KindFatal
}

// SamplingParams are the recognized sampling options for a completion call.
type SamplingParams struct {
	Temperature float64
	NumSamples  int
	MaxTokens   int
}

func (p SamplingParams) withDefaults() SamplingParams {
	if p.NumSamples <= 0 {
		p.NumSamples = 1
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = 1024
	}
	return p
}

// Completion is one sampled model output. A content-filtered sample comes
// back with Filtered set and empty Text rather than as an error.
type Completion struct {
	Text         string `json:"text"`
	Filtered     bool   `json:"filtered,omitempty"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
}

// Client is one provider implementation. Implementations are stateless per
// call and safe for concurrent use.
type Client interface {
	Provider() string
	Complete(ctx context.Context, model, prompt string, params SamplingParams) ([]Completion, error)
}

// Options tune the Gateway around one provider client.
type Options struct {
	// MaxInFlight bounds concurrent requests to the provider. Zero means 4.
	MaxInFlight int
	// MaxRetries caps retry attempts after the first try. Zero means 6.
	MaxRetries int
	// InitialInterval seeds the exponential backoff. Zero means 1s.
	InitialInterval time.Duration
	Logger          *slog.Logger
}

// Gateway wraps a provider client with retry, backoff, and a concurrency
// ceiling. Construct one per run; the semaphore is run-scoped state, not a
// package global, so concurrent runs do not interfere.
type Gateway struct {
	client          Client
	sem             chan struct{}
	maxRetries      uint64
	initialInterval time.Duration
	log             *slog.Logger
}

// NewGateway builds a Gateway over the given provider client.
func NewGateway(client Client, opts Options) *Gateway {
	inFlight := opts.MaxInFlight
	if inFlight <= 0 {
		inFlight = 4
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 6
	}
	interval := opts.InitialInterval
	if interval <= 0 {
		interval = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Gateway{
		client:          client,
		sem:             make(chan struct{}, inFlight),
		maxRetries:      uint64(retries),
		initialInterval: interval,
		log:             log,
	}
}

// Provider returns the wrapped client's provider name.
func (g *Gateway) Provider() string { return g.client.Provider() }

// Complete requests params.NumSamples completions for the prompt from the
// named model. Rate-limited and transient failures are retried with capped
// exponential backoff; fatal failures return immediately.
func (g *Gateway) Complete(ctx context.Context, model, prompt string, params SamplingParams) ([]Completion, error) {
	params = params.withDefaults()

	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var completions []Completion
	attempt := 0
	op := func() error {
		attempt++
		cs, err := g.client.Complete(ctx, model, prompt, params)
		if err == nil {
			completions = cs
			return nil
		}
		var be *Error
		if errors.As(err, &be) && be.Kind == KindFatal {
			return backoff.Permanent(err)
		}
		g.log.Warn("backend call failed, will retry",
			"provider", g.client.Provider(), "model", model, "attempt", attempt, "error", err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.initialInterval
	bo.MaxInterval = 30 * time.Second

	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), g.maxRetries))
	if err != nil {
		return nil, fmt.Errorf("complete via %s: %w", g.client.Provider(), err)
	}
	return completions, nil
}
