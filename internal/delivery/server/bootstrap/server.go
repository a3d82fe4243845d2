package bootstrap

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	serverhttp "github.com/desduvauchelle/tamias-sub001/internal/delivery/server/http"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 30 * time.Second

// Router builds the HTTP handler over the container's components.
func (c *Container) Router(debug bool) *gin.Engine {
	return serverhttp.NewRouter(serverhttp.RouterDeps{
		Sessions: c.Engine,
		Channels: c.Channels,
		Metrics:  c.Metrics,
		Gatherer: c.Registry,
		Logger:   logging.NewComponentLogger("http"),
	}, serverhttp.RouterConfig{
		AllowedOrigins:    c.Config.Server.AllowedOrigins,
		HeartbeatInterval: c.Config.Server.HeartbeatInterval,
		Debug:             debug,
	})
}

// RunServer builds the daemon, serves the API until SIGINT/SIGTERM or ctx
// ends, then shuts everything down.
func RunServer(ctx context.Context, opts Options, debug bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := Build(ctx, opts)
	if err != nil {
		return err
	}
	logger := c.logger
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		c.Close(closeCtx)
		logger.Info("Daemon stopped")
	}()

	if err := c.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	server := serverhttp.NewServer(c.Config.Server.Port, c.Router(debug), logging.NewComponentLogger("http"))
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-c.Cache.Updates():
				logger.Info("Config reloaded: %d models configured", len(c.Cache.ConfiguredModels()))
			}
		}
	})
	if c.Scheduler != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				c.Scheduler.Stop()
			case <-c.Scheduler.Done():
			}
			return nil
		})
	}
	logger.Info("tamiasd ready on port %s", c.Config.Server.Port)
	return g.Wait()
}
