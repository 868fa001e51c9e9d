// Package server exposes the redaction pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/andresmejia3/veil/internal/fault"
	"github.com/andresmejia3/veil/internal/metrics"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Processor runs redactions. *redact.Processor implements it.
type Processor interface {
	Process(ctx context.Context, req types.BlurRequest) (*types.BlurResult, error)
	Plan(req types.PlanRequest) (*types.PlanResult, error)
}

// Server holds the HTTP handlers.
type Server struct {
	Processor    Processor
	Metrics      *metrics.Metrics
	MaxBodyBytes int64
	log          zerolog.Logger
}

// NewHandler creates the HTTP handler for proc.
func NewHandler(proc Processor, m *metrics.Metrics, maxBody int64, log zerolog.Logger) http.Handler {
	if m == nil {
		m = metrics.New()
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	s := &Server{
		Processor:    proc,
		Metrics:      m,
		MaxBodyBytes: maxBody,
		log:          log.With().Str("component", "http").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.Health)
	r.Post("/blur", s.Blur)
	r.Post("/plan", s.Plan)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Blur handles POST /blur.
func (s *Server) Blur(w http.ResponseWriter, r *http.Request) {
	var req types.BlurRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.Processor.Process(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Plan handles POST /plan.
func (s *Server) Plan(w http.ResponseWriter, r *http.Request) {
	var req types.PlanRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.Processor.Plan(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.MaxBodyBytes)
	err := json.NewDecoder(body).Decode(v)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, types.ErrorResult{
			Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			Kind:  fault.KindValidation.String(),
		})
	case errors.Is(err, io.EOF):
		writeJSON(w, http.StatusBadRequest, types.ErrorResult{Error: "Missing required fields", Kind: fault.KindValidation.String()})
	default:
		writeJSON(w, http.StatusBadRequest, types.ErrorResult{Error: "Invalid request body: " + err.Error(), Kind: fault.KindValidation.String()})
	}
	s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("rejected request body")
	return false
}

// StatusFor maps a failure to its HTTP status.
func StatusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindGeometryUnavailable:
		return http.StatusUnprocessableEntity
	case fault.KindStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	kind := fault.KindOf(err)

	msg, details := err.Error(), fault.DetailOf(err)
	var fe *fault.Error
	errors.As(err, &fe)
	switch {
	case kind == fault.KindRender:
		msg = "FFmpeg failed"
		if details == "" && fe != nil && fe.Err != nil {
			details = fe.Err.Error()
		}
	case kind == fault.KindValidation && fe != nil && fe.Index == fault.NoIndex && fe.Err != nil:
		// "Missing required fields: ..." reads better without the op prefix.
		msg = fe.Err.Error()
	}

	evt := s.log.Warn()
	if status >= 500 {
		evt = s.log.Error()
	}
	evt.Err(err).
		Str("path", r.URL.Path).
		Str("kind", kind.String()).
		Int("status", status).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("request failed")

	writeJSON(w, status, types.ErrorResult{Error: msg, Kind: kind.String(), Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// observe logs and times every request against its route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.Metrics.HTTPDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		s.log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
