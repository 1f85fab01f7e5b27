// Package api exposes the REST surface: job submission, status, cancel,
// output download, health and metrics.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/bc-dunia/casgen/internal/jobrunner"
	"github.com/bc-dunia/casgen/internal/metrics"
	"github.com/bc-dunia/casgen/internal/validation"
)

type Server struct {
	manager           *jobrunner.Manager
	validator         *validation.Validator
	metricsCollector  *metrics.Collector
	server            *http.Server
	listener          net.Listener
	mu                sync.Mutex
	running           bool
	addr              string
	rateLimiter       *rateLimiter
	rateLimiterConfig *RateLimiterConfig
}

func NewServer(addr string, manager *jobrunner.Manager, validator *validation.Validator, collector *metrics.Collector) *Server {
	return &Server{
		manager:           manager,
		validator:         validator,
		metricsCollector:  collector,
		addr:              addr,
		rateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// SetRateLimiterConfig configures the rate limiter.
// Must be called before Start() for changes to take effect.
func (s *Server) SetRateLimiterConfig(config *RateLimiterConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimiterConfig = config
	s.rateLimiter = nil // Reset to pick up new config
}

// Router builds the chi router with all routes mounted. Exposed so tests
// can drive handlers through httptest without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.observeMiddleware)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Post("/", s.handleSubmitJob)
		r.Get("/", s.handleListJobs)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Delete("/", s.handleCancelJob)
			r.Get("/output/{filename}", s.handleDownloadOutput)
		})
	})

	r.Get("/healthz", s.handleHealthz)
	if s.metricsCollector != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsCollector.Handler())
	}
	return r
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           s.Router(),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second, // Protect against slowloris attacks
	}

	s.running = true

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Printf("server error: %v\n", err)
		}
	}()

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.Addr())
}

func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// observeMiddleware records request latency per route template.
func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metricsCollector == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metricsCollector.RecordRequest(route, fmt.Sprintf("%d", ww.Status()), time.Since(start).Seconds())
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Lazy initialize rate limiter
		s.mu.Lock()
		if s.rateLimiter == nil {
			s.rateLimiter = newRateLimiter(s.rateLimiterConfig)
		}
		rl := s.rateLimiter
		config := s.rateLimiterConfig
		s.mu.Unlock()

		key := r.Header.Get("X-API-Key")
		if key == "" {
			key, _, _ = net.SplitHostPort(r.RemoteAddr)
		}

		if !rl.allowKey(key) {
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", config.BurstSize))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Second).Unix()))
			w.Header().Set("Retry-After", "1")

			s.writeError(w, http.StatusTooManyRequests, &ErrorResponse{
				ErrorType:    ErrorTypeRateLimited,
				ErrorCode:    "RATE_LIMIT_EXCEEDED",
				ErrorMessage: "Too many requests. Please slow down.",
				Retryable:    true,
				Details: map[string]interface{}{
					"retry_after_seconds": 1,
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StartTestServer creates a test server and returns it with a cleanup function.
// Returns an error if the server fails to start.
func StartTestServer(manager *jobrunner.Manager, validator *validation.Validator) (*Server, func(), error) {
	server := NewServer("127.0.0.1:0", manager, validator, metrics.NewCollector())
	if err := server.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start test server: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
	return server, cleanup, nil
}
