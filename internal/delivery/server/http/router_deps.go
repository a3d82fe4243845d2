package http

import (
	"context"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/app/daemon"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/observability"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionService is the slice of the engine the API serves.
type SessionService interface {
	CreateSession(opts daemon.CreateOptions) (session.Session, error)
	EnqueueMessage(sessionID, text string, opts daemon.EnqueueOptions) (string, error)
	GetSession(sessionID string) (session.Session, bool)
	GetAllSessions() []session.Session
	DeleteSession(sessionID string) error
	Subscribe(sessionID string) (daemon.Subscription, error)
}

// InboundRouter accepts messages pushed by bridges.
type InboundRouter interface {
	Verify(channelID string, body []byte, signature string) error
	Inbound(ctx context.Context, channelID, messageID string, msg ports.InboundMessage) error
	ActiveChannelIDs() []string
}

// RouterDeps are the router collaborators. Channels, Metrics and Gatherer
// are optional.
type RouterDeps struct {
	Sessions SessionService
	Channels InboundRouter
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
}

// RouterConfig tunes transport behavior.
type RouterConfig struct {
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Debug             bool
}
