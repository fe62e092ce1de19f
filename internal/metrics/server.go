package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server exposes an Aggregator's registry over HTTP for scraping. It is
// optional enrichment beyond spec.md's core contract (a snapshot reader
// consulted by the reporter), not a required component.
type Server struct {
	addr   string
	path   string
	log    logrus.FieldLogger
	agg    *Aggregator
	server *http.Server
}

// NewServer builds a metrics HTTP server exposing agg's registry at path
// (defaulting to /metrics).
func NewServer(addr, path string, agg *Aggregator, log logrus.FieldLogger) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{addr: addr, path: path, agg: agg, log: log}
}

// Start starts the metrics HTTP server in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.agg.Registry(), promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.WithField("addr", s.addr).WithField("path", s.path).Info("starting metrics server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server error")
		}
	}()

	return nil
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	s.log.Info("metrics server stopped")
	return nil
}
