package apihttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"sampurr/internal/domain"
	domainports "sampurr/internal/domain/ports"
	"sampurr/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type WaveformUseCase interface {
	Execute(ctx context.Context, rawURL string, sink usecase.FrameSink) error
}

type ClipUseCase interface {
	Execute(ctx context.Context, id domain.TrackID, start, end time.Duration, w io.Writer) error
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	waveform       WaveformUseCase
	clip           ClipUseCase
	catalog        domainports.TrackCatalog
	staticDir      string
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	healthChecks   map[string]HealthCheck
	logger         *slog.Logger
	handler        http.Handler
	feed           *ActivityFeed
}

type ServerOption func(*Server)

func WithClip(uc ClipUseCase) ServerOption {
	return func(s *Server) {
		s.clip = uc
	}
}

func WithCatalog(catalog domainports.TrackCatalog) ServerOption {
	return func(s *Server) {
		s.catalog = catalog
	}
}

// WithStaticDir serves files from dir for paths no other route claims.
func WithStaticDir(dir string) ServerOption {
	return func(s *Server) {
		s.staticDir = strings.TrimSpace(dir)
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty, any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

// WithHealthCheck adds a named check to GET /health.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		if check != nil {
			s.healthChecks[name] = check
		}
	}
}

// WithActivityFeed shares feed with the producers of activity events.
func WithActivityFeed(feed *ActivityFeed) ServerOption {
	return func(s *Server) {
		s.feed = feed
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(waveform WaveformUseCase, opts ...ServerOption) *Server {
	s := &Server{
		waveform:     waveform,
		rateRPS:      20,
		rateBurst:    40,
		healthChecks: make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	if s.feed == nil {
		s.feed = NewActivityFeed(s.logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/waveform", s.handleWaveform)
	mux.HandleFunc("/v2/waveform", s.handleWaveformV2)
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/tracks", s.handleTracks)
	mux.HandleFunc("/tracks/", s.handleTrackByID)
	mux.HandleFunc("/sup", s.handleSup)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	} else {
		mux.HandleFunc("/", s.handleNotFound)
	}

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "sampurr",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/ws" && !isNoisyPath(p)
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects all WebSocket clients.
func (s *Server) Close() {
	s.feed.Close()
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "not found")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := newUpgrader(s.allowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.feed.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	if !s.feed.hub.add(client) {
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}
