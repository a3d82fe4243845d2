// Package bootstrap assembles the daemon from configuration and runs it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/app/daemon"
	"github.com/desduvauchelle/tamias-sub001/internal/app/scheduler"
	"github.com/desduvauchelle/tamias-sub001/internal/app/toolregistry"
	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/channels"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/llm"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/observability"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/session/filestore"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/session/postgresstore"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/tools/builtin/fileops"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/tools/builtin/orchestration"
	"github.com/desduvauchelle/tamias-sub001/internal/infra/usage"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/config"
	fsutil "github.com/desduvauchelle/tamias-sub001/internal/shared/filestore"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	storeFile     = "file"
	storePostgres = "postgres"
	storeMemory   = "memory"

	configReloadDebounce = 250 * time.Millisecond
)

// Options locate the configuration and the process streams.
type Options struct {
	ConfigPath string
	Env        config.EnvLookup
	LogOutput  io.Writer // defaults to stderr
	LogLevel   string    // overrides logging.level when set
	Terminal   io.Writer // terminal channel output, defaults to stdout
	// SkipWatcher disables config hot reload.
	SkipWatcher bool
}

// sessionStore is a closable persistence backend.
type sessionStore interface {
	ports.SessionStore
	Close() error
}

// Container owns every long-lived component of the daemon.
type Container struct {
	Config     *config.Config
	ConfigPath string
	Cache      *config.RuntimeCache
	Watcher    *config.Watcher

	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Tracing  *observability.TracerProvider

	Store     sessionStore
	Usage     *usage.JSONLLogger
	Providers *llm.Factory
	Channels  *channels.Manager
	Tools     *toolregistry.Registry
	Engine    *daemon.Engine
	Scheduler *scheduler.Scheduler

	Degraded *Degraded
	logger   logging.Logger
	opts     Options
}

// Build runs every assembly stage. On error the partially built container
// is closed before returning.
func Build(ctx context.Context, opts Options) (*Container, error) {
	if opts.Terminal == nil {
		opts.Terminal = os.Stdout
	}
	c := &Container{
		Degraded: NewDegraded(),
		logger:   logging.NewComponentLogger("bootstrap"),
		opts:     opts,
	}
	stages := []Stage{
		{Name: "config", Required: true, Init: c.initConfig},
		{Name: "metrics", Required: true, Init: c.initMetrics},
		{Name: "tracing", Init: c.initTracing},
		{Name: "session-store", Required: true, Init: c.initStore},
		{Name: "usage", Init: c.initUsage},
		{Name: "channels", Init: c.initChannels},
		{Name: "engine", Required: true, Init: c.initEngine},
		{Name: "tools", Required: true, Init: c.initTools},
		{Name: "scheduler", Init: c.initScheduler},
		{Name: "config-watcher", Init: c.initWatcher},
	}
	if err := RunStages(ctx, stages, c.Degraded, c.logger); err != nil {
		c.Close(ctx)
		return nil, err
	}
	if names := c.Degraded.Names(); len(names) > 0 {
		c.logger.Warn("[Bootstrap] running degraded: %s", strings.Join(names, ", "))
	}
	return c, nil
}

func (c *Container) initConfig(context.Context) error {
	loadOpts := []config.Option{config.WithConfigPath(c.opts.ConfigPath)}
	if c.opts.Env != nil {
		loadOpts = append(loadOpts, config.WithEnv(c.opts.Env))
	}
	cfg, path, err := config.Load(loadOpts...)
	if err != nil {
		return err
	}
	if c.opts.LogLevel != "" {
		cfg.Logging.Level = c.opts.LogLevel
	}
	logging.Configure(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: c.opts.LogOutput})

	warnings, _ := config.Validate(cfg)
	for _, warning := range warnings {
		c.logger.Warn("Config: %s", warning)
	}
	c.Config = cfg
	c.ConfigPath = path
	c.Cache = config.NewRuntimeCache(cfg, func(context.Context) (*config.Config, error) {
		next, _, err := config.Load(loadOpts...)
		return next, err
	})
	c.logger.Info("Config loaded from %s (%d connections)", path, len(cfg.Connections))
	return nil
}

func (c *Container) initMetrics(context.Context) error {
	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = observability.MustNewMetrics(c.Registry)
	return nil
}

// initTracing falls back to a noop provider when the exporter cannot be
// built, so the engine always has a tracer.
func (c *Container) initTracing(ctx context.Context) error {
	c.Tracing, _ = observability.NewTracerProvider(ctx, observability.TracingConfig{ServiceName: c.Config.Tracing.ServiceName})
	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Endpoint:    c.Config.Tracing.Endpoint,
		ServiceName: c.Config.Tracing.ServiceName,
		SampleRatio: c.Config.Tracing.SampleRatio,
		Insecure:    c.Config.Tracing.Insecure,
	})
	if err != nil {
		return err
	}
	c.Tracing = tp
	return nil
}

func (c *Container) initStore(ctx context.Context) error {
	cfg := c.Config.Session
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case storeMemory:
		c.logger.Info("Session store: memory (sessions are not persisted)")
		return nil
	case storePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return fmt.Errorf("session.database_url required for the postgres store")
		}
		store, err := postgresstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		c.Store = store
		c.logger.Info("Session store: postgres")
		return nil
	case storeFile, "":
		dir := fsutil.ResolvePath(cfg.Dir, config.DefaultSessionDir)
		store, err := filestore.New(dir,
			filestore.WithCompression(cfg.Compress),
			filestore.WithLogger(logging.NewComponentLogger("session-store")),
		)
		if err != nil {
			return err
		}
		c.Store = store
		c.logger.Info("Session store: file %s (compress=%t)", dir, cfg.Compress)
		return nil
	default:
		return fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

func (c *Container) initUsage(context.Context) error {
	path := fsutil.ResolvePath(c.Config.Usage.Path, config.DefaultUsagePath)
	logger, err := usage.NewJSONLLogger(path,
		usage.WithObserver(c.Metrics.ObserveUsage),
		usage.WithLogger(logging.NewComponentLogger("usage")),
	)
	if err != nil {
		return err
	}
	c.Usage = logger
	return nil
}

// initChannels registers configured channels. A webhook with a bad config is
// skipped and reported; the manager itself always exists.
func (c *Container) initChannels(context.Context) error {
	c.Channels = channels.NewManager(logging.NewComponentLogger("channels"))
	var errs []error
	if c.Config.Channels.Terminal.Enabled {
		errs = append(errs, c.Channels.Register(channels.NewTerminalChannel(c.opts.Terminal, c.Config.Channels.Terminal.NoColor)))
	}
	for _, hook := range c.Config.Channels.Webhooks {
		ch, err := channels.NewWebhookChannel(channels.WebhookConfig{
			ID:                 hook.ID,
			URL:                hook.URL,
			Secret:             hook.Secret,
			RateLimitPerSecond: hook.RateLimitPerSecond,
		}, logging.NewComponentLogger("webhook"))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, c.Channels.Register(ch))
	}
	return errors.Join(errs...)
}

func (c *Container) initEngine(context.Context) error {
	c.Providers = llm.NewFactory(llm.WithLogger(logging.NewComponentLogger("llm")))
	deps := daemon.Dependencies{
		Catalog:   c.Cache,
		Providers: c.Providers,
		Metrics:   c.Metrics,
		Logger:    logging.NewComponentLogger("daemon"),
	}
	if c.Store != nil {
		deps.Store = c.Store
	}
	if c.Usage != nil {
		deps.Usage = c.Usage
	}
	if c.Channels != nil {
		deps.Dispatcher = c.Channels
	}
	if c.Tracing != nil {
		deps.Tracer = c.Tracing.Tracer()
	}
	agent := c.Config.Agent
	engine, err := daemon.New(deps, daemon.Config{
		SystemPrompt:      agent.SystemPrompt,
		MaxToolIterations: agent.MaxToolIterations,
		HistoryLimit:      agent.HistoryLimit,
		SubagentRetention: agent.SubagentRetention,
		MaxSubagents:      agent.MaxSubagents,
	})
	if err != nil {
		return err
	}
	c.Engine = engine
	return nil
}

func (c *Container) initTools(context.Context) error {
	c.Tools = toolregistry.NewRegistry(logging.NewComponentLogger("tools"))
	workspace := fsutil.ResolvePath(c.Config.Agent.Workspace, config.DefaultWorkspace)
	if err := fsutil.EnsureDir(workspace); err != nil {
		return fmt.Errorf("ensure workspace: %w", err)
	}
	for _, tool := range fileops.Tools(workspace) {
		if err := c.Tools.Register(tool); err != nil {
			return err
		}
	}
	for _, tool := range orchestration.Tools(engineOrchestrator{engine: c.Engine}) {
		if err := c.Tools.Register(tool); err != nil {
			return err
		}
	}
	c.Engine.SetTools(c.Tools)
	return nil
}

func (c *Container) initScheduler(ctx context.Context) error {
	if !c.Config.Scheduler.Enabled {
		return nil
	}
	dir := fsutil.ResolvePath(c.Config.Scheduler.JobsDir, config.DefaultJobsDir)
	c.Scheduler = scheduler.New(scheduler.Config{Store: scheduler.NewFileJobStore(dir)},
		c.Engine.HandleTrigger, logging.NewComponentLogger("scheduler"))
	if _, err := c.Scheduler.LoadStored(ctx); err != nil {
		c.logger.Warn("Scheduler: stored jobs unavailable: %v", err)
	}
	var errs []error
	for _, job := range c.Config.Scheduler.Jobs {
		if err := c.Scheduler.Add(ctx, scheduler.FromConfig(job)); err != nil {
			errs = append(errs, fmt.Errorf("scheduler job %s: %w", job.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) initWatcher(context.Context) error {
	if c.opts.SkipWatcher || c.ConfigPath == "" {
		return nil
	}
	watcher, err := config.NewWatcher(c.ConfigPath, c.Cache,
		config.WithWatchDebounce(configReloadDebounce),
		config.WithWatchLogger(logging.NewComponentLogger("config-watcher")),
	)
	if err != nil {
		return err
	}
	c.Watcher = watcher
	return nil
}

// Start brings up the background components: channels, restored sessions,
// the config watcher and the scheduler.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Channels.InitializeAll(ctx, c.Engine.HandleInbound); err != nil {
		c.Degraded.Record("channels", err.Error())
		c.logger.Warn("Channels: %v", err)
	}
	restored, err := c.Engine.Restore(ctx)
	if err != nil {
		c.Degraded.Record("restore", err.Error())
		c.logger.Warn("Restore: %v", err)
	} else if restored > 0 {
		c.logger.Info("Restored %d sessions", restored)
	}
	if c.Watcher != nil {
		if err := c.Watcher.Start(ctx); err != nil {
			c.Degraded.Record("config-watcher", err.Error())
			c.logger.Warn("Config watcher: %v", err)
		}
	}
	if c.Scheduler != nil {
		c.Scheduler.Start(ctx)
	}
	return nil
}

// Close stops everything in dependency order: the engine first so in-flight
// jobs can still reach channels and the usage log, the backends last.
func (c *Container) Close(ctx context.Context) {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	if c.Engine != nil {
		if err := c.Engine.Shutdown(ctx); err != nil {
			c.logger.Warn("Engine shutdown: %v", err)
		}
	}
	if c.Channels != nil {
		c.Channels.StopAll()
	}
	if c.Usage != nil {
		if err := c.Usage.Close(); err != nil {
			c.logger.Warn("Usage log close: %v", err)
		}
	}
	if c.Tracing != nil {
		if err := c.Tracing.Shutdown(ctx); err != nil {
			c.logger.Warn("Tracer shutdown: %v", err)
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.logger.Warn("Session store close: %v", err)
		}
	}
}
