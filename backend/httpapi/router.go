package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/goElevate/backend"
	"github.com/MrEthical07/goElevate/backend/push"
	"github.com/MrEthical07/goElevate/internal/logging"
	promexport "github.com/MrEthical07/goElevate/metrics/export/prometheus"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
)

// Options configures the HTTP surface.
type Options struct {
	Logger *slog.Logger

	// Hub serves GET /v1/push. Nil disables the endpoint.
	Hub *push.Hub

	// MetricsNamespace prefixes /metrics series. Empty disables /metrics.
	MetricsNamespace string

	// CORSOrigins lists allowed browser origins. Empty allows none.
	CORSOrigins []string

	// RequestsPerMinute caps requests per client IP. Zero disables the cap.
	RequestsPerMinute int

	// ReturnURL is echoed by two-factor verification.
	ReturnURL string

	// Health reports dependency readiness for GET /healthz.
	Health func(ctx context.Context) error

	RequestTimeout time.Duration
}

type server struct {
	svc      *backend.Service
	hub      *push.Hub
	logger   *slog.Logger
	returnTo string
	upgrader websocket.Upgrader
}

// NewRouter returns the routes for svc.
func NewRouter(svc *backend.Service, opts Options) (http.Handler, error) {
	if svc == nil {
		return nil, errors.New("httpapi: nil service")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.ReturnURL == "" {
		opts.ReturnURL = "/"
	}
	s := &server{
		svc:      svc,
		hub:      opts.Hub,
		logger:   logging.OrDiscard(opts.Logger),
		returnTo: opts.ReturnURL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.CORSOrigins),
		},
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))
	if opts.RequestsPerMinute > 0 {
		r.Use(httprate.LimitByIP(opts.RequestsPerMinute, time.Minute))
	}
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				s.logger.Warn("health check failed", "error", err)
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if opts.MetricsNamespace != "" {
		h, err := promexport.Handler(opts.MetricsNamespace, svc)
		if err != nil {
			return nil, err
		}
		r.Method(http.MethodGet, "/metrics", h)
	}

	r.Get("/v1/push", s.handlePush)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(opts.RequestTimeout))
			r.Post("/login", s.handleLogin)
			r.Get("/session", s.handleSession)
		})

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(opts.RequestTimeout))
			r.Use(requireToken)
			r.Post("/logout", s.handleLogout)
			r.Post("/two-factor/verify", s.handleVerify)
			r.Post("/session/elevate", s.handleElevate)
			r.Post("/two-factor/setup", s.handleSetup)
			r.Post("/two-factor/confirm", s.handleConfirm)
			r.Post("/two-factor/disable", s.handleDisable)
			r.Post("/two-factor/backup-codes/regenerate", s.handleRegenerate)
		})
	})

	return r, nil
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed["*"] {
			return true
		}
		return allowed[origin]
	}
}
