package llm

import (
	"context"
	"fmt"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	alexerrors "github.com/desduvauchelle/tamias-sub001/internal/shared/errors"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
	"golang.org/x/time/rate"
)

// retryingClient retries opening a stream on transient failures. Once the
// first delta may have been observed nothing is retried, so a mid-stream
// failure surfaces to the caller unchanged.
type retryingClient struct {
	base   ports.ChatClient
	config alexerrors.RetryConfig
	logger logging.Logger
}

func wrapWithRetry(client ports.ChatClient, config alexerrors.RetryConfig, logger logging.Logger) ports.ChatClient {
	if config.MaxAttempts <= 0 {
		return client
	}
	return &retryingClient{base: client, config: config, logger: logger}
}

func (c *retryingClient) Stream(ctx context.Context, req ports.ChatRequest) (ports.ChatStream, error) {
	return alexerrors.RetryWithResult(ctx, c.config, func(ctx context.Context) (ports.ChatStream, error) {
		return c.base.Stream(ctx, req)
	}, c.logger)
}

// rateLimitedClient waits on a limiter shared by every client of one
// connection before opening a stream.
type rateLimitedClient struct {
	base    ports.ChatClient
	limiter *rate.Limiter
}

func wrapWithRateLimit(client ports.ChatClient, limiter *rate.Limiter) ports.ChatClient {
	if limiter == nil {
		return client
	}
	return &rateLimitedClient{base: client, limiter: limiter}
}

func (c *rateLimitedClient) Stream(ctx context.Context, req ports.ChatRequest) (ports.ChatStream, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, alexerrors.NewTransientError(err, fmt.Sprintf("rate limit wait: %v", err))
	}
	return c.base.Stream(ctx, req)
}
