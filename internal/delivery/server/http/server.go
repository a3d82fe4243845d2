package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
)

const shutdownTimeout = 10 * time.Second

// Server runs the router until its context ends.
type Server struct {
	httpServer *http.Server
	logger     logging.Logger
	stop       context.CancelFunc
}

// NewServer binds handler to addr. A bare port such as "8080" listens on
// all interfaces.
func NewServer(addr string, handler http.Handler, logger logging.Logger) *Server {
	addr = strings.TrimSpace(addr)
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
		},
		logger: logging.OrNop(logger),
		stop:   stop,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully. Streaming
// requests see their context cancelled at shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.stop()
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
