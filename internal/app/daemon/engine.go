// Package daemon is the session and sub-agent orchestration engine: it owns
// conversation state, serializes work per session, walks the model fallback
// chain, drives the sub-agent lifecycle and publishes every state change as
// an event.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/session"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxToolIterations = 8
	defaultHistoryLimit      = 200
	defaultSubagentRetention = time.Hour
	defaultMaxSubagents      = 4096
)

// Config tunes the engine.
type Config struct {
	SystemPrompt      string
	MaxToolIterations int
	HistoryLimit      int
	EventHistory      int
	ClientBuffer      int
	SubagentRetention time.Duration
	MaxSubagents      int
}

func (c Config) withDefaults() Config {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = defaultMaxToolIterations
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.EventHistory <= 0 {
		c.EventHistory = defaultEventHistory
	}
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = defaultClientBuffer
	}
	if c.SubagentRetention <= 0 {
		c.SubagentRetention = defaultSubagentRetention
	}
	if c.MaxSubagents <= 0 {
		c.MaxSubagents = defaultMaxSubagents
	}
	return c
}

// Dependencies are the collaborators the engine consumes. Catalog and
// Providers are required; the rest are optional.
type Dependencies struct {
	Catalog    ports.ModelCatalog
	Providers  ports.ProviderFactory
	Tools      ports.ToolExecutor
	Usage      ports.UsageLogger
	Store      ports.SessionStore
	Dispatcher ports.ChannelDispatcher
	Metrics    Metrics
	Tracer     trace.Tracer
	Logger     logging.Logger
	Clock      func() time.Time
}

// Metrics receives engine measurements.
type Metrics interface {
	JobFinished(outcome string, duration time.Duration)
	CandidateFailed(reason string)
	SessionsActive(count int)
	SubagentTransition(status string)
}

type nopMetrics struct{}

func (nopMetrics) JobFinished(string, time.Duration) {}
func (nopMetrics) CandidateFailed(string)            {}
func (nopMetrics) SessionsActive(int)                {}
func (nopMetrics) SubagentTransition(string)         {}

type identityKey struct {
	channelID     string
	channelUserID string
}

// liveSession is the mutable runtime wrapper of one session. mu guards rec;
// rec.Processing is true exactly while a drain goroutine owns the queue.
type liveSession struct {
	mu  sync.Mutex
	rec session.Session
	bus *Broadcaster

	version      uint64
	persistMu    sync.Mutex
	savedVersion uint64

	detach []func()
}

func (ls *liveSession) snapshot() session.Session {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.rec.Clone()
}

func (ls *liveSession) id() string {
	return ls.rec.ID
}

// Engine implements the orchestration core.
type Engine struct {
	cfg        Config
	catalog    ports.ModelCatalog
	providers  ports.ProviderFactory
	tools      ports.ToolExecutor
	usage      ports.UsageLogger
	store      ports.SessionStore
	dispatcher ports.ChannelDispatcher
	metrics    Metrics
	tracer     trace.Tracer
	logger     logging.Logger
	now        func() time.Time

	mu         sync.RWMutex
	sessions   map[string]*liveSession
	identities map[identityKey]string
	bridgeMu   sync.Mutex

	evictor *expirable.LRU[string, struct{}]

	baseCtx  context.Context
	cancel   context.CancelFunc
	drains   sync.WaitGroup
	shutdown atomic.Bool
}

// New constructs an engine.
func New(deps Dependencies, cfg Config) (*Engine, error) {
	if deps.Catalog == nil {
		return nil, fmt.Errorf("model catalog required")
	}
	if deps.Providers == nil {
		return nil, fmt.Errorf("provider factory required")
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		catalog:    deps.Catalog,
		providers:  deps.Providers,
		tools:      deps.Tools,
		usage:      deps.Usage,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		logger:     logging.OrNop(deps.Logger),
		now:        deps.Clock,
		sessions:   make(map[string]*liveSession),
		identities: make(map[identityKey]string),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/desduvauchelle/tamias-sub001/internal/app/daemon")
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.evictor = expirable.NewLRU[string, struct{}](cfg.MaxSubagents, e.onEvict, cfg.SubagentRetention)
	return e, nil
}

// SetTools installs the tool executor after construction; the built-in
// orchestration tools need the engine itself.
func (e *Engine) SetTools(tools ports.ToolExecutor) {
	e.mu.Lock()
	e.tools = tools
	e.mu.Unlock()
}

func (e *Engine) toolExecutor() ports.ToolExecutor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tools
}

// Shutdown stops accepting work, cancels in-flight turns and waits for every
// drain goroutine to exit or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.drains.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.mu.Lock()
	for _, ls := range e.sessions {
		ls.bus.close()
	}
	e.mu.Unlock()
	return nil
}
