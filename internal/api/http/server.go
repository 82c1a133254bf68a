package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AreTaj/Migraine-Navigator/internal/api"
	"github.com/AreTaj/Migraine-Navigator/internal/metrics"
)

const (
	defaultAddr            = "127.0.0.1:7664"
	defaultReadHeader      = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Config controls construction of the API server.
type Config struct {
	Addr              string
	Controller        api.Controller
	Listener          net.Listener
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server wraps an http.Server exposing the shell's status endpoints.
type Server struct {
	ctrl            api.Controller
	srv             *http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
}

// NewServer builds a Server bound to cfg.Listener, or to cfg.Addr
// (loopback by default) when Run starts.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if v := reflect.ValueOf(cfg.Controller); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil, fmt.Errorf("controller is a nil %T", cfg.Controller)
	}
	addr := normalizeAddr(cfg.Addr)
	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	if srv.ReadHeaderTimeout == 0 {
		srv.ReadHeaderTimeout = defaultReadHeader
	}
	server := &Server{
		ctrl:            cfg.Controller,
		srv:             srv,
		listener:        cfg.Listener,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if server.shutdownTimeout == 0 {
		server.shutdownTimeout = defaultShutdownTimeout
	}
	server.registerRoutes(mux)
	return server, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// the shutdown timeout.
func (s *Server) Run(ctx stdcontext.Context) error {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	ln := s.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.srv.Addr); err != nil {
			return fmt.Errorf("control api listen %s: %w", s.srv.Addr, err)
		}
		s.listener = ln
	}

	stop := stdcontext.AfterFunc(ctx, func() {
		shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), s.shutdownTimeout)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.Handle("/api/v1/status", allow(s.handleStatus, http.MethodGet))
	mux.Handle("/healthz", allow(s.handleHealth, http.MethodGet, http.MethodHead))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
}

// allow rejects requests whose method is not listed with a JSON 405.
func allow(next http.HandlerFunc, methods ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slices.Contains(methods, r.Method) {
			next(w, r)
			return
		}
		w.Header().Set("Allow", strings.Join(methods, ", "))
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{
			Code:    "method_not_allowed",
			Message: fmt.Sprintf("method %s not allowed", r.Method),
		})
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.ctrl.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Health(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	writeJSON(w, status, errorBody{
		Code:    code,
		Message: err.Error(),
		Details: map[string]any{"timestamp": time.Now().UTC()},
	})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, stdcontext.Canceled):
		return 499, "context_canceled"
	case errors.Is(err, api.ErrSpawnFailed):
		return http.StatusServiceUnavailable, "spawn_failed"
	case errors.Is(err, api.ErrSidecarNotRunning):
		return http.StatusServiceUnavailable, "sidecar_not_running"
	case errors.Is(err, api.ErrSidecarNotReady):
		return http.StatusServiceUnavailable, "sidecar_not_ready"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func normalizeAddr(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return defaultAddr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
