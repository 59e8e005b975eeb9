// Package server exposes text generation over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cexll/aisdk-go/pkg/generate"
	"github.com/cexll/aisdk-go/pkg/metrics"
	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/tool"
)

const (
	maxBodyBytes    = 4 << 20
	shutdownTimeout = 10 * time.Second
	requestIDHeader = "X-Request-Id"

	// StatusClientClosedRequest is reported when the caller went away.
	StatusClientClosedRequest = 499
)

// Defaults apply to every request unless the body overrides them.
type Defaults struct {
	Model           string
	Settings        model.CallSettings
	MaxSteps        int
	ToolConcurrency int
	ContinueSteps   bool
	PartialResults  bool
}

// Config wires a Server.
type Config struct {
	Provider    model.Provider
	Defaults    Defaults
	Tools       tool.Set
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Limiter     *rate.Limiter
	CORSOrigins []string
}

// Server exposes POST /v1/generate plus health and metrics endpoints.
type Server struct {
	cfg      Config
	defaults atomic.Pointer[Defaults]
	router   chi.Router
}

// New creates a Server with pre-wired routes.
func New(cfg Config) (*Server, error) {
	if cfg.Provider == nil {
		return nil, errors.New("server: provider is required")
	}
	if err := cfg.Tools.Validate(); err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg}
	s.UpdateDefaults(cfg.Defaults)
	s.routes()
	return s, nil
}

// UpdateDefaults swaps the request defaults. In-flight requests keep the
// values they started with.
func (s *Server) UpdateDefaults(d Defaults) {
	if d.MaxSteps == 0 {
		d.MaxSteps = 1
	}
	if d.Settings.MaxTokens == 0 {
		d.Settings = model.DefaultCallSettings()
	}
	s.defaults.Store(&d)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)
	r.Use(s.accessLog)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
	})
	s.router = r
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type ctxKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.cfg.Logger.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// writeJSON encodes val before touching the response so an encoding
// failure can still be reported as a 500.
func writeJSON(w http.ResponseWriter, status int, val any) {
	data, err := json.Marshal(val)
	if err != nil {
		data, _ = json.Marshal(errorBody{Error: errorDetail{
			Kind:    model.KindInternal.String(),
			Message: "encode response: " + err.Error(),
		}})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

type errorBody struct {
	ID    string      `json:"id,omitempty"`
	Error errorDetail `json:"error"`
	// Partial carries the steps completed before the failure when partial
	// results are enabled.
	Partial *generateResponse `json:"partial,omitempty"`
}

type errorDetail struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Step     int    `json:"step,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorFor(w, r, err, "")
}

func writeErrorFor(w http.ResponseWriter, r *http.Request, err error, modelID string) {
	kind := model.KindOf(err)
	id := requestIDFrom(r.Context())
	body := errorBody{
		ID:    id,
		Error: errorDetail{Kind: kind.String(), Message: err.Error()},
	}
	var genErr *generate.Error
	if errors.As(err, &genErr) {
		body.Error.Step = genErr.Step
		body.Error.Attempts = genErr.Attempts
		if genErr.Partial != nil {
			partial := newGenerateResponse(id, modelID, genErr.Partial)
			body.Partial = &partial
		}
	}
	writeJSON(w, statusFor(kind), body)
}

func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindInvalidArgument, model.KindInvalidPrompt:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindNotSupported:
		return http.StatusNotImplemented
	case model.KindCanceled:
		return StatusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}
