// Package server exposes the gateway's HTTP and WebSocket surface: the
// telephony media-stream endpoint, the operator control and audio endpoints,
// the dashboard event stream, provider webhooks, and operational probes.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/health"
	"github.com/voxwire/voxwire/internal/notify"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/observer"
	"github.com/voxwire/voxwire/internal/registry"
	"github.com/voxwire/voxwire/internal/store"
	"github.com/voxwire/voxwire/internal/transcript"
	"github.com/voxwire/voxwire/pkg/realtime"
	"github.com/voxwire/voxwire/pkg/telephony"
)

// Options wires the server to its collaborators. Store, Pipeline, Rest, and
// Notifier may be nil; the corresponding features are then disabled.
type Options struct {
	Logger  *slog.Logger
	Metrics *observe.Metrics
	Config  *config.Config

	AI   *realtime.Client
	Rest *telephony.RestClient

	Registry *registry.Registry
	Hub      *observer.Hub
	Pipeline *transcript.Pipeline
	Store    *store.Store
	Notifier *notify.Notifier
}

// Server handles all gateway HTTP traffic. Construct with New and mount
// Handler on an http.Server.
type Server struct {
	log     *slog.Logger
	metrics *observe.Metrics
	cfg     *config.Config

	ai   *realtime.Client
	rest *telephony.RestClient

	registry *registry.Registry
	hub      *observer.Hub
	pipeline *transcript.Pipeline
	store    *store.Store
	notifier *notify.Notifier

	health *health.Handler
}

// New builds a Server from opts, filling in defaults for the logger,
// metrics, registry, and hub when absent.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Hub == nil {
		opts.Hub = observer.NewHub(opts.Logger)
	}

	s := &Server{
		log:      opts.Logger,
		metrics:  opts.Metrics,
		cfg:      opts.Config,
		ai:       opts.AI,
		rest:     opts.Rest,
		registry: opts.Registry,
		hub:      opts.Hub,
		pipeline: opts.Pipeline,
		store:    opts.Store,
		notifier: opts.Notifier,
	}

	var checkers []health.Checker
	if s.store != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: s.store.Ping})
	}
	s.health = health.New(checkers...)

	return s
}

// Handler returns the full route table wrapped in the tracing and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /media-stream", s.handleMediaStream)
	mux.HandleFunc("GET /human-audio/{callSid}", s.handleHumanAudio)
	mux.HandleFunc("GET /dashboard-stream", s.handleDashboard)

	mux.HandleFunc("POST /takeover", s.handleTakeover)
	mux.HandleFunc("POST /end-call", s.handleEndCall)

	mux.HandleFunc("POST /incoming-call", s.handleIncomingCall)
	mux.HandleFunc("POST /call-status", s.handleCallStatus)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// writeJSON encodes v with the given status. On encoding failure the
// response is already partially written, so the error is only logged.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", "error", err)
	}
}
