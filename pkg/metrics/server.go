package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Server exposes /metrics on a port of its own, apart from API traffic.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds the metrics port and starts serving g. Binding happens before
// Listen returns, so a port clash is reported to the caller rather than
// logged from a goroutine.
func Listen(port int, g prometheus.Gatherer) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding metrics port %d: %w", port, err)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(g))

	s := &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		ln: ln,
	}
	go func() {
		slog.Info("metrics server listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	return s, nil
}

// Addr is the bound address, useful when port 0 was requested.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
