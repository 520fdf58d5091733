package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/peripheralpm/internal/errors"
	"codeberg.org/mutker/peripheralpm/internal/logger"
)

const (
	metricsPath       = "/metrics"
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server exposes the metrics endpoint over HTTP.
type Server struct {
	listener net.Listener
	http     *http.Server
	logger   logger.Logger
}

// Listen binds addr and prepares a server for m. Binding happens here so a
// bad address fails at startup rather than in the background.
func Listen(addr string, m *Metrics, log logger.Logger) (*Server, error) {
	errFactory := errors.New()

	if addr == "" {
		return nil, errFactory.New(ErrInvalidAddress)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errFactory.Wrap(ErrServeFailed, err)
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, m.Handler())

	return &Server{
		listener: ln,
		http: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: log,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errFactory := errors.New()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.Addr()).Msg("Serving metrics")
		if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errFactory.Wrap(ErrServeFailed, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(ErrServerShutdown, err)
	}

	s.logger.Debug().Msg("Metrics server stopped")

	return nil
}
