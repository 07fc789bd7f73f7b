// Package server exposes the analysis engine over HTTP: single-frame analysis,
// a websocket stream that drops frames while busy, zone geometry, health and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/MeKo-Tech/pathsense/internal/analysis"
	"github.com/MeKo-Tech/pathsense/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	engine         *analysis.Engine
	runner         *pipeline.Runner
	runnerCfg      pipeline.Config
	corsOrigin     string
	maxUploadMB    int64
	timeoutSec     int
	overlayOpacity float64
	rateLimiter    *RateLimiter
	closers        []io.Closer
	cancel         context.CancelFunc
}

// Config holds server configuration.
type Config struct {
	CORSOrigin     string
	MaxUploadMB    int64
	TimeoutSec     int
	RateLimitRPM   int
	OverlayOpacity float64
	Runner         pipeline.Config
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version,omitempty"`
	Time    string         `json:"time"`
	Runner  pipeline.Stats `json:"runner"`
}

// AnalyzeResponse wraps one frame's report.
type AnalyzeResponse struct {
	Success   bool             `json:"success"`
	RequestID string           `json:"request_id"`
	Result    *analysis.Report `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
}

// NewServer wires engine into a started single-flight runner. closers are
// released by Close, typically the model sessions behind engine.
func NewServer(engine *analysis.Engine, cfg Config, closers ...io.Closer) (*Server, error) {
	if engine == nil {
		return nil, errors.New("analysis engine is required")
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 30
	}
	if cfg.Runner.Timeout <= 0 {
		cfg.Runner = pipeline.DefaultConfig()
	}

	s := &Server{
		engine:         engine,
		runner:         pipeline.NewRunner(engine, cfg.Runner),
		runnerCfg:      cfg.Runner,
		corsOrigin:     cfg.CORSOrigin,
		maxUploadMB:    cfg.MaxUploadMB,
		timeoutSec:     cfg.TimeoutSec,
		overlayOpacity: cfg.OverlayOpacity,
		closers:        closers,
	}
	if cfg.RateLimitRPM > 0 {
		s.rateLimiter = NewRateLimiter(cfg.RateLimitRPM)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if err := s.runner.Start(ctx); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// SetupRoutes registers all endpoints on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/zones", s.corsMiddleware(s.zonesHandler))
	mux.HandleFunc("/analyze", s.corsMiddleware(s.rateLimitMiddleware(s.analyzeHandler)))
	mux.HandleFunc("/ws/stream", s.rateLimitMiddleware(s.streamHandler))
	mux.Handle("/metrics", promhttp.Handler())
}

// Close stops the runner and releases the closers.
func (s *Server) Close() error {
	s.runner.Stop()
	s.cancel()
	var errs []error
	for _, c := range s.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
