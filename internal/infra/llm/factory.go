// Package llm builds streaming chat clients for configured connections.
package llm

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/config"
	alexerrors "github.com/desduvauchelle/tamias-sub001/internal/shared/errors"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/time/rate"
)

var _ ports.ProviderFactory = (*Factory)(nil)

// Config is the per-client transport configuration derived from a
// connection.
type Config struct {
	APIKey     string
	BaseURL    string
	Headers    map[string]string
	HTTPClient *http.Client
}

type cacheEntry struct {
	client    ports.ChatClient
	expiresAt time.Time
}

type limiterEntry struct {
	rpm     int
	limiter *rate.Limiter
}

const (
	defaultLLMCacheSize = 64
	defaultLLMCacheTTL  = 30 * time.Minute
)

// Factory creates and caches clients. Cache keys include a digest of the
// credential and base URL, so a config reload that rotates a key yields a
// fresh client on the next job.
type Factory struct {
	mu          sync.Mutex
	cache       *lru.Cache[string, cacheEntry]
	cacheTTL    time.Duration
	limiters    map[string]limiterEntry
	retryConfig alexerrors.RetryConfig
	httpClient  *http.Client
	logger      logging.Logger
	now         func() time.Time
}

// FactoryOption customizes a Factory.
type FactoryOption func(*Factory)

// WithCache sets the client cache size and TTL. size <= 0 disables caching.
func WithCache(size int, ttl time.Duration) FactoryOption {
	return func(f *Factory) {
		f.cache = newLLMCache(size)
		f.cacheTTL = ttl
	}
}

// WithRetryConfig overrides the stream-open retry policy. MaxAttempts 0
// disables retries.
func WithRetryConfig(cfg alexerrors.RetryConfig) FactoryOption {
	return func(f *Factory) { f.retryConfig = cfg }
}

// WithHTTPClient shares one transport across provider clients.
func WithHTTPClient(client *http.Client) FactoryOption {
	return func(f *Factory) { f.httpClient = client }
}

// WithLogger sets the factory logger.
func WithLogger(logger logging.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logging.OrNop(logger) }
}

// NewFactory returns a factory with caching and retries enabled.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		cache:       newLLMCache(defaultLLMCacheSize),
		cacheTTL:    defaultLLMCacheTTL,
		limiters:    make(map[string]limiterEntry),
		retryConfig: alexerrors.DefaultRetryConfig(),
		logger:      logging.NewComponentLogger("llm"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func newLLMCache(size int) *lru.Cache[string, cacheEntry] {
	if size <= 0 {
		return nil
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil
	}
	return cache
}

type providerSpec struct {
	kind           string
	defaultBaseURL string
	needsKey       bool
}

// providers maps accepted provider names to a wire protocol.
var providers = map[string]providerSpec{
	"openai":            {kind: "openai", defaultBaseURL: defaultOpenAIBaseURL, needsKey: true},
	"openrouter":        {kind: "openai", defaultBaseURL: "https://openrouter.ai/api/v1", needsKey: true},
	"deepseek":          {kind: "openai", defaultBaseURL: "https://api.deepseek.com/v1", needsKey: true},
	"groq":              {kind: "openai", defaultBaseURL: "https://api.groq.com/openai/v1", needsKey: true},
	"mistral":           {kind: "openai", defaultBaseURL: "https://api.mistral.ai/v1", needsKey: true},
	"xai":               {kind: "openai", defaultBaseURL: "https://api.x.ai/v1", needsKey: true},
	"kimi":              {kind: "openai", defaultBaseURL: "https://api.moonshot.cn/v1", needsKey: true},
	"ollama":            {kind: "openai", defaultBaseURL: "http://localhost:11434/v1"},
	"lmstudio":          {kind: "openai", defaultBaseURL: "http://localhost:1234/v1"},
	"llama.cpp":         {kind: "openai", defaultBaseURL: "http://localhost:8080/v1"},
	"openai-compatible": {kind: "openai"},
	"anthropic":         {kind: "anthropic", defaultBaseURL: defaultAnthropicBaseURL, needsKey: true},
	"claude":            {kind: "anthropic", defaultBaseURL: defaultAnthropicBaseURL, needsKey: true},
	"mock":              {kind: "mock"},
}

// NewClient implements ports.ProviderFactory. Missing credentials and
// unknown providers wrap ports.ErrProviderConfig.
func (f *Factory) NewClient(ctx context.Context, conn config.Connection, model string) (ports.ChatClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	provider := strings.ToLower(strings.TrimSpace(conn.Provider))
	spec, ok := providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q for connection %s", ports.ErrProviderConfig, conn.Provider, conn.ID)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: empty model for connection %s", ports.ErrProviderConfig, conn.ID)
	}
	apiKey := strings.TrimSpace(conn.APIKey)
	if spec.needsKey && apiKey == "" {
		return nil, fmt.Errorf("%w: connection %s has no api key", ports.ErrProviderConfig, conn.ID)
	}
	baseURL := strings.TrimSpace(conn.BaseURL)
	if spec.kind == "openai" && baseURL == "" && spec.defaultBaseURL == "" {
		return nil, fmt.Errorf("%w: connection %s needs base_url", ports.ErrProviderConfig, conn.ID)
	}

	key := cacheKey(conn, provider, model)
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cache != nil {
		if entry, ok := f.cache.Get(key); ok {
			if entry.expiresAt.IsZero() || now.Before(entry.expiresAt) {
				return entry.client, nil
			}
			f.cache.Remove(key)
		}
	}

	cfg := Config{APIKey: apiKey, BaseURL: baseURL, HTTPClient: f.httpClient}
	if cfg.BaseURL == "" {
		cfg.BaseURL = spec.defaultBaseURL
	}
	logger := f.logger

	var client ports.ChatClient
	switch spec.kind {
	case "openai":
		client = NewOpenAIClient(model, cfg, logger)
	case "anthropic":
		client = NewAnthropicClient(model, cfg, logger)
	case "mock":
		client = NewMockClient(model)
	}

	client = wrapWithRetry(client, f.retryConfig, logger)
	client = wrapWithRateLimit(client, f.limiterLocked(conn))

	if f.cache != nil {
		entry := cacheEntry{client: client}
		if f.cacheTTL > 0 {
			entry.expiresAt = now.Add(f.cacheTTL)
		}
		f.cache.Add(key, entry)
	}
	f.logger.Debug("created %s client for %s/%s", provider, conn.ID, model)
	return client, nil
}

// limiterLocked returns the connection's shared limiter, rebuilding it when
// the configured rate changes. f.mu must be held.
func (f *Factory) limiterLocked(conn config.Connection) *rate.Limiter {
	if conn.RateLimitRPM <= 0 {
		delete(f.limiters, conn.ID)
		return nil
	}
	if entry, ok := f.limiters[conn.ID]; ok && entry.rpm == conn.RateLimitRPM {
		return entry.limiter
	}
	burst := conn.RateLimitRPM / 10
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(conn.RateLimitRPM)), burst)
	f.limiters[conn.ID] = limiterEntry{rpm: conn.RateLimitRPM, limiter: limiter}
	return limiter
}

func cacheKey(conn config.Connection, provider, model string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(conn.APIKey))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(conn.BaseURL))
	_, _ = h.Write([]byte{0})
	_, _ = fmt.Fprintf(h, "%d", conn.RateLimitRPM)
	digest := hex.EncodeToString(h.Sum(nil)[:8])
	return conn.ID + ":" + provider + ":" + model + ":" + digest
}
