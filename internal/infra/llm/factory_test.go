package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/config"
	alexerrors "github.com/desduvauchelle/tamias-sub001/internal/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryConfigErrors(t *testing.T) {
	f := NewFactory()
	ctx := context.Background()

	tests := []struct {
		name  string
		conn  config.Connection
		model string
	}{
		{name: "unknown provider", conn: config.Connection{ID: "x", Provider: "carrier-pigeon"}, model: "m"},
		{name: "missing key", conn: config.Connection{ID: "oa", Provider: "openai"}, model: "gpt"},
		{name: "empty model", conn: config.Connection{ID: "mk", Provider: "mock"}, model: ""},
		{name: "compatible without url", conn: config.Connection{ID: "c", Provider: "openai-compatible"}, model: "m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.NewClient(ctx, tt.conn, tt.model)
			require.ErrorIs(t, err, ports.ErrProviderConfig)
		})
	}
}

func TestFactoryLocalProvidersNeedNoKey(t *testing.T) {
	f := NewFactory()
	client, err := f.NewClient(context.Background(), config.Connection{ID: "local", Provider: "ollama"}, "llama3")
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestFactoryCachesUntilCredentialsChange(t *testing.T) {
	f := NewFactory()
	ctx := context.Background()
	conn := config.Connection{ID: "oa", Provider: "openai", APIKey: "one"}

	first, err := f.NewClient(ctx, conn, "gpt")
	require.NoError(t, err)
	again, err := f.NewClient(ctx, conn, "gpt")
	require.NoError(t, err)
	assert.Same(t, first, again)

	conn.APIKey = "two"
	rotated, err := f.NewClient(ctx, conn, "gpt")
	require.NoError(t, err)
	assert.NotSame(t, first, rotated)
}

func TestFactoryCacheExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	f := NewFactory(WithCache(8, time.Minute))
	f.now = func() time.Time { return now }
	conn := config.Connection{ID: "mk", Provider: "mock"}

	first, err := f.NewClient(context.Background(), conn, "m")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	second, err := f.NewClient(context.Background(), conn, "m")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestFactoryRetriesTransientOpen(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	f := NewFactory(WithRetryConfig(alexerrors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}))
	client, err := f.NewClient(context.Background(), config.Connection{
		ID: "oa", Provider: "openai", APIKey: "k", BaseURL: srv.URL,
	}, "gpt")
	require.NoError(t, err)

	stream, err := client.Stream(context.Background(), ports.ChatRequest{})
	require.NoError(t, err)
	text, _, _ := drain(t, stream)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFactoryDoesNotRetryPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := NewFactory(WithRetryConfig(alexerrors.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}))
	client, err := f.NewClient(context.Background(), config.Connection{
		ID: "oa", Provider: "openai", APIKey: "k", BaseURL: srv.URL,
	}, "gpt")
	require.NoError(t, err)

	_, err = client.Stream(context.Background(), ports.ChatRequest{})
	require.Error(t, err)
	assert.True(t, alexerrors.IsPermanent(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFactorySharesLimiterPerConnection(t *testing.T) {
	f := NewFactory()
	conn := config.Connection{ID: "mk", Provider: "mock", RateLimitRPM: 60}
	_, err := f.NewClient(context.Background(), conn, "a")
	require.NoError(t, err)
	_, err = f.NewClient(context.Background(), conn, "b")
	require.NoError(t, err)

	f.mu.Lock()
	entry := f.limiters["mk"]
	f.mu.Unlock()
	require.NotNil(t, entry.limiter)
	assert.Equal(t, 60, entry.rpm)
}

func TestMockClientScenarios(t *testing.T) {
	client := NewMockClient("m")
	stream, err := client.Stream(context.Background(), ports.ChatRequest{Messages: []session.Message{
		{Role: session.RoleUser, Content: session.TextContent("what is 2+2?")},
	}})
	require.NoError(t, err)
	text, _, usage := drain(t, stream)
	assert.Contains(t, text, "2 + 2 = 4.")
	require.NotNil(t, usage)

	stream, err = client.Stream(context.Background(), ports.ChatRequest{Messages: []session.Message{
		{Role: session.RoleUser, Content: session.TextContent("summarize the news")},
	}})
	require.NoError(t, err)
	text, _, _ = drain(t, stream)
	assert.Equal(t, "Mock response to: summarize the news", text)
}
