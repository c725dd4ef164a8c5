package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/snapshotter/internal/logging"
	"github.com/JakeFAU/snapshotter/internal/metrics"
	"github.com/JakeFAU/snapshotter/internal/render"
	"github.com/JakeFAU/snapshotter/internal/sink"
)

// Default capture size when the request omits width or height.
const (
	DefaultWidth  = 1280
	DefaultHeight = 800
)

// Renderer renders one URL at the requested dimensions.
type Renderer interface {
	Execute(ctx context.Context, targetURL string, dims []render.Dimension, sink render.Sink) ([]*render.Task, error)
	Strategy() render.Strategy
}

// Options tune the server.
type Options struct {
	// Ready reports downstream readiness for /readyz; nil means always ready.
	Ready func(ctx context.Context) error
	// RequestTimeout bounds each capture request; zero leaves it unbounded.
	RequestTimeout time.Duration
}

// Server wires the HTTP routes to render pipelines.
type Server struct {
	router    chi.Router
	renderers map[string]Renderer
	opts      Options
	logger    *zap.Logger
}

// NewServer constructs a Server. renderers is keyed by route name: render, pdf, screenshot.
func NewServer(renderers map[string]Renderer, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{renderers: renderers, opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware)
	r.Use(metrics.Middleware)
	if opts.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	for name := range renderers {
		r.Get("/"+name+"/*", s.capture(name))
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) capture(name string) http.HandlerFunc {
	renderer := s.renderers[name]
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContextOr(r.Context(), s.logger)

		req, err := parseCaptureRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		tasks, err := renderer.Execute(r.Context(), req.url, []render.Dimension{req.dim}, sink.Stream{})
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}
			logger.Warn("capture failed", zap.String("strategy", name), zap.String("url", req.url), zap.Error(err))
			writeError(w, status, err.Error())
			return
		}

		w.Header().Set("Content-Type", renderer.Strategy().ContentType())
		w.Header().Set("Content-Length", strconv.Itoa(len(tasks[0].Payload)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(tasks[0].Payload); err != nil {
			logger.Warn("stream capture failed", zap.Error(err))
		}
	}
}

type captureRequest struct {
	url string
	dim render.Dimension
}

func parseCaptureRequest(r *http.Request) (captureRequest, error) {
	target := strings.TrimSpace(chi.URLParam(r, "*"))
	if target == "" {
		return captureRequest{}, errors.New("target url required")
	}
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}

	q := r.URL.Query()
	width, err := positiveParam(q.Get("width"), DefaultWidth)
	if err != nil {
		return captureRequest{}, fmt.Errorf("width: %w", err)
	}
	height, err := positiveParam(q.Get("height"), DefaultHeight)
	if err != nil {
		return captureRequest{}, fmt.Errorf("height: %w", err)
	}

	target, err = render.AddPartnerAndLocale(target, q.Get("partner_id"), q.Get("locale"))
	if err != nil {
		return captureRequest{}, err
	}
	return captureRequest{
		url: target,
		dim: render.Dimension{Width: width, Height: height},
	}, nil
}

func positiveParam(raw string, def uint) (uint, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("must be a positive integer, got %q", raw)
	}
	return uint(v), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
