package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/coinratio/internal/infrastructure/providers"
	"github.com/sawpanic/coinratio/internal/market"
	"github.com/sawpanic/coinratio/internal/scheduler"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// StatusSource exposes the scheduler's published state.
type StatusSource interface {
	Status() scheduler.Status
}

// ProviderHealth exposes the market data provider's health.
type ProviderHealth interface {
	Status() providers.ProviderStatus
}

// Server is the read-only monitor endpoint set.
type Server struct {
	router   *mux.Router
	server   *http.Server
	config   ServerConfig
	status   StatusSource
	provider ProviderHealth
	metrics  *MetricsRegistry
	stream   http.Handler
	started  time.Time
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1", // local-only by default
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer wires the routes. stream may be nil to disable /ws.
func NewServer(config ServerConfig, status StatusSource, provider ProviderHealth, metrics *MetricsRegistry, stream http.Handler) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		config:   config,
		status:   status,
		provider: provider,
		metrics:  metrics,
		stream:   stream,
		started:  time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	if s.stream != nil {
		s.router.Handle("/ws", s.stream).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "path": r.URL.Path})
	})
}

type healthResponse struct {
	Status    string                    `json:"status"`
	Uptime    string                    `json:"uptime"`
	Scheduler schedulerHealth           `json:"scheduler"`
	Provider  *providers.ProviderStatus `json:"provider,omitempty"`
}

type schedulerHealth struct {
	Running     bool      `json:"running"`
	HasSnapshot bool      `json:"has_snapshot"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Refreshes   int64     `json:"refreshes"`
	Failures    int64     `json:"failures"`
	Skipped     int64     `json:"skipped"`
}

// handleHealth reports "degraded" when the last refresh failed or the provider
// is unhealthy. The monitor keeps answering 200 since the display still serves
// the last good snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Scheduler: schedulerHealth{
			Running:     st.Running,
			HasSnapshot: st.HasSnapshot,
			LastSuccess: st.LastSuccess,
			LastError:   st.LastError,
			Refreshes:   st.Refreshes,
			Failures:    st.Failures,
			Skipped:     st.Skipped,
		},
	}
	if st.LastError != "" {
		resp.Status = "degraded"
	}
	if s.provider != nil {
		ps := s.provider.Status()
		resp.Provider = &ps
		if !ps.Healthy {
			resp.Status = "degraded"
		}
	}
	if !st.Running {
		resp.Status = "stopped"
	}
	writeJSON(w, http.StatusOK, resp)
}

type snapshotResponse struct {
	Text      string         `json:"text"`
	Lines     []string       `json:"lines"`
	FetchedAt *time.Time     `json:"fetched_at,omitempty"`
	Entries   []market.Entry `json:"entries"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	resp := snapshotResponse{
		Text:    st.Text,
		Lines:   st.Snapshot.Lines(),
		Entries: st.Snapshot.Entries,
	}
	if st.HasSnapshot {
		fetched := st.Snapshot.FetchedAt
		resp.FetchedAt = &fetched
	}
	if resp.Entries == nil {
		resp.Entries = []market.Entry{}
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, st.Text)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// Start listens and serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("port %d is busy or unavailable: %w", s.config.Port, err)
	}

	log.Info().Str("addr", s.Address()).Msg("Monitor server listening")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down monitor server")
	return s.server.Shutdown(ctx)
}

func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// responseWrapper captures HTTP status codes for logging. It forwards Hijack so
// the WebSocket upgrade still works behind the middleware.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}
