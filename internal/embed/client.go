package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	internalerrors "github.com/aman-cerp/amandocs/internal/errors"
	"github.com/aman-cerp/amandocs/internal/platform"
	"golang.org/x/sync/semaphore"
)

// ClientConfig configures Client's resilience behavior around a
// wrapped Embedder.
type ClientConfig struct {
	// MaxConcurrent bounds how many embedding calls may be in flight
	// at once, regardless of how many goroutines call Embed/EmbedBatch.
	MaxConcurrent int64

	// PermitTimeout bounds how long a caller waits to acquire a
	// concurrency permit before giving up.
	PermitTimeout time.Duration

	Retry internalerrors.RetryConfig
}

// DefaultClientConfig returns sensible resilience defaults: 4
// concurrent calls, a 30s permit wait, and jittered exponential
// backoff retry.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxConcurrent: 4,
		PermitTimeout: 30 * time.Second,
		Retry: internalerrors.RetryConfig{
			MaxRetries:   3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

// Client wraps an Embedder with the resilience behaviors the
// embedding sidecar requires: a circuit breaker that opens once the
// sidecar's failure rate crosses its threshold in a sliding window, a
// weighted semaphore bounding in-flight calls, and retry with jittered
// exponential backoff for transient failures.
type Client struct {
	inner   Embedder
	breaker *internalerrors.CircuitBreaker
	permits *semaphore.Weighted
	cfg     ClientConfig
	logger  *slog.Logger
}

// NewClient wraps an already-constructed Embedder. Use SelectBackend
// to build the inner embedder per the platform default-selection rule
// before calling NewClient.
func NewClient(inner Embedder, cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultClientConfig().MaxConcurrent
	}
	return &Client{
		inner:   inner,
		breaker: internalerrors.NewCircuitBreaker("embed-client"),
		permits: semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:     cfg,
		logger:  logger,
	}
}

var _ Embedder = (*Client)(nil)

// SelectBackend constructs the Embedder the host platform defaults to:
// the native MLX sidecar on macOS/arm64, the containerized Ollama
// endpoint everywhere else. An explicit provider (non-empty) always
// wins over the platform default.
func SelectBackend(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	if provider != "" {
		return NewEmbedder(ctx, provider, model)
	}
	if platform.DefaultBackend() == platform.BackendNative {
		return NewEmbedder(ctx, ProviderMLX, model)
	}
	return NewEmbedder(ctx, ProviderOllama, model)
}

// acquire blocks for a free concurrency permit, bounded by PermitTimeout.
func (c *Client) acquire(ctx context.Context) error {
	if c.cfg.PermitTimeout <= 0 {
		return c.permits.Acquire(ctx, 1)
	}
	acqCtx, cancel := context.WithTimeout(ctx, c.cfg.PermitTimeout)
	defer cancel()
	if err := c.permits.Acquire(acqCtx, 1); err != nil {
		return fmt.Errorf("embed client: timed out waiting for a concurrency permit: %w", err)
	}
	return nil
}

// Embed generates an embedding for a single text through the circuit
// breaker, retry, and concurrency-permit layers.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.breaker.Allow() {
		return nil, internalerrors.ErrCircuitOpen
	}

	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.permits.Release(1)

	result, err := internalerrors.RetryWithResult(ctx, c.cfg.Retry, func() ([]float32, error) {
		return c.inner.Embed(ctx, text)
	})
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()
	return result, nil
}

// EmbedBatch generates embeddings for multiple texts through the same
// resilience layers as Embed.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.breaker.Allow() {
		return nil, internalerrors.ErrCircuitOpen
	}

	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.permits.Release(1)

	result, err := internalerrors.RetryWithResult(ctx, c.cfg.Retry, func() ([][]float32, error) {
		return c.inner.EmbedBatch(ctx, texts)
	})
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()
	return result, nil
}

func (c *Client) Dimensions() int { return c.inner.Dimensions() }
func (c *Client) ModelName() string { return c.inner.ModelName() }

// Available reports whether the sidecar responds, independent of
// circuit breaker state, so preflight checks can probe without
// tripping the breaker's sample window.
func (c *Client) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

func (c *Client) Close() error { return c.inner.Close() }

func (c *Client) SetBatchIndex(idx int)      { c.inner.SetBatchIndex(idx) }
func (c *Client) SetFinalBatch(isFinal bool) { c.inner.SetFinalBatch(isFinal) }

// BreakerState exposes the circuit breaker's current state for health reporting.
func (c *Client) BreakerState() internalerrors.State {
	return c.breaker.State()
}
