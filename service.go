// service.go — media gate service: server struct, dependency wiring, route
// registration. Handler implementations are in handlers_*.go files.
package mediagate

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/adschi/mediagate/internal/auth"
	"github.com/adschi/mediagate/internal/config"
	"github.com/adschi/mediagate/internal/devices"
	"github.com/adschi/mediagate/internal/gate"
	"github.com/adschi/mediagate/internal/link"
	"github.com/adschi/mediagate/internal/logger"
	"github.com/adschi/mediagate/internal/metrics"
	"github.com/adschi/mediagate/internal/ratelimit"
	"github.com/adschi/mediagate/internal/stream"
	"github.com/adschi/mediagate/internal/token"
	"github.com/adschi/mediagate/pkg/telemetry"
)

// Server holds all shared dependencies for the media gate.
type Server struct {
	cfg       *config.Config
	log       *slog.Logger
	issuer    *link.Issuer
	validator *gate.Validator
	registry  *devices.Registry
	sessions  *auth.Manager
	limiter   *ratelimit.Limiter
	streamer  *stream.Streamer
}

// Options carries the injectable backends for NewServer. Zero-value fields
// get sensible defaults: in-memory device and session-revocation stores, a
// no-op rate limiter, and a JSON logger.
type Options struct {
	Store       devices.Store
	ActiveStore auth.ActiveStore
	Limiter     *ratelimit.Limiter
	Logger      *slog.Logger
}

// NewServer wires the token codec, link issuer, device registry, access
// validator, and streamer from configuration.
func NewServer(cfg *config.Config, opts Options) (*Server, error) {
	signKey, err := token.DeriveSigningKey(cfg.SecretKey)
	if err != nil {
		return nil, err
	}
	fpKey, err := token.DeriveFingerprintKey(cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		store = devices.NewMemoryStore()
	}
	activeStore := opts.ActiveStore
	if activeStore == nil {
		activeStore = auth.NewMemoryActiveStore()
	}
	log := opts.Logger
	if log == nil {
		log = logger.New(cfg.LogFormat, cfg.LogLevel)
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.New(nil, ratelimit.DefaultConfig())
	}

	policy := devices.EvictOldest
	if cfg.EvictionPolicy == config.EvictInteractive {
		policy = devices.RequireChoice
	}

	codec := token.NewCodec(signKey, cfg.BindClientIP)
	registry := devices.NewRegistry(store, cfg.DeviceLimit, policy, fpKey)

	s := &Server{
		cfg: cfg,
		log: log,
		issuer: link.NewIssuer(codec, link.Options{
			BaseURL:     cfg.BaseURL,
			TTL:         cfg.LinkTTL,
			Enabled:     cfg.ProtectionEnabled,
			BindIP:      cfg.BindClientIP,
			DeviceLimit: cfg.DeviceLimitEnabled(),
		}),
		validator: gate.NewValidator(codec, registry, gate.Options{
			StorageRoot:   cfg.StorageRoot,
			BindIP:        cfg.BindClientIP,
			DeviceLimit:   cfg.DeviceLimitEnabled(),
			BlockedAgents: cfg.BlockedAgents,
		}),
		registry: registry,
		sessions: auth.NewManager(cfg.SessionSecret, cfg.SessionTTL, activeStore),
		limiter:  limiter,
		streamer: &stream.Streamer{BytesWritten: func(n int64) { metrics.StreamBytes.Add(float64(n)) }},
	}
	return s, nil
}

// ProtectLink is the collaborator interface for the content-rendering
// pipeline: it turns a raw media source into a protected URL.
func (s *Server) ProtectLink(rawSrc, clientIP string) string {
	out := s.issuer.Protect(rawSrc, clientIP)
	if out != rawSrc {
		metrics.LinksIssued.Inc()
	}
	return out
}

// Registry exposes the device registry for out-of-band maintenance (the
// reaper loop in main).
func (s *Server) Registry() *devices.Registry {
	return s.registry
}

// RegisterRoutes registers all routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// ── Media delivery ────────────────────────────────────────────────────────
	// Attach (not Require): an unauthenticated request is still served when
	// device limiting is off; the validator decides.
	mux.Handle("GET /media/stream", s.sessions.Attach(http.HandlerFunc(s.handleStream)))

	// ── Login gate ────────────────────────────────────────────────────────────
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.Handle("POST /auth/logout", s.sessions.RequireSession(http.HandlerFunc(s.handleLogout)))

	// ── Device management ─────────────────────────────────────────────────────
	mux.Handle("GET /devices", s.sessions.RequireSession(http.HandlerFunc(s.handleListDevices)))
	mux.Handle("DELETE /devices/{fingerprint}", s.sessions.RequireSession(http.HandlerFunc(s.handleRevokeDevice)))
	mux.Handle("POST /devices/evict", s.sessions.RequireSession(http.HandlerFunc(s.handleEvict)))

	// ── Observability ─────────────────────────────────────────────────────────
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var h http.Handler = mux
	h = metrics.Middleware(h)
	h = logger.Middleware(s.log)(h)
	h = telemetry.PanicRecoveryMiddleware()(h)
	return h
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + s.cfg.Port,
		Handler: s.Handler(),
		// No WriteTimeout: media streams are long-lived. Header reads and
		// idle keep-alives still get bounded.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("media gate listening", "port", s.cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleHealth returns service liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "mediagate",
	})
}

// updateDeviceGauge refreshes the active-devices gauge after a mutation.
// Gauge staleness on store error is acceptable; the next mutation corrects it.
func (s *Server) updateDeviceGauge(ctx context.Context) {
	if n, err := s.registry.Count(ctx); err == nil {
		metrics.ActiveDevices.Set(float64(n))
	}
}
