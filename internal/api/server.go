package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/mylist-importer/internal/enricher"
	"github.com/JakeFAU/mylist-importer/internal/metrics"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
	"github.com/JakeFAU/mylist-importer/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// Importer runs imports. *pipeline.Orchestrator satisfies it.
type Importer interface {
	Import(ctx context.Context, ref mylist.PlaylistReference, sinkName string) (pipeline.Result, error)
	ImportSingle(ctx context.Context, ref mylist.PlaylistReference, sinkName string) (pipeline.Result, error)
}

// Scraper reads social metadata. *enricher.Enricher satisfies it.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (enricher.OGP, error)
}

// ReadyFunc reports whether downstream dependencies are usable.
type ReadyFunc func(ctx context.Context) error

// Config controls middleware and the OGP allow list.
type Config struct {
	AuthEnabled     bool
	APIKey          string
	RequestTimeout  time.Duration
	OGPAllowedHosts []string
	Ready           ReadyFunc
}

// Server wires HTTP handlers to the import pipeline.
type Server struct {
	router   chi.Router
	importer Importer
	scraper  Scraper
	cfg      Config
	allowed  map[string]struct{}
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(importer Importer, scraper Scraper, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	s := &Server{
		importer: importer,
		scraper:  scraper,
		cfg:      cfg,
		allowed:  make(map[string]struct{}, len(cfg.OGPAllowedHosts)),
		logger:   logger,
	}
	for _, h := range cfg.OGPAllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.allowed[h] = struct{}{}
		}
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/imports", s.importPlaylist)
		r.Post("/imports/single", s.importSingle)
		r.Get("/ogp", s.ogp)
	})

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
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type importRequest struct {
	Playlist  string `json:"playlist"`
	ItemID    string `json:"item_id"`
	Output    string `json:"output"`
	Sink      string `json:"sink"`
	YearMonth string `json:"year_month"`
}

type importResponse struct {
	pipeline.Result
	Error string `json:"error,omitempty"`
}

func (s *Server) importPlaylist(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeImport(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Playlist) == "" {
		writeError(w, http.StatusBadRequest, "playlist is required")
		return
	}
	ref := mylist.PlaylistReference{Ref: req.Playlist, Output: req.Output, Label: req.YearMonth}
	res, err := s.importer.Import(r.Context(), ref, req.Sink)
	s.writeImport(w, res, err)
}

func (s *Server) importSingle(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeImport(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.ItemID) == "" {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}
	ref := mylist.PlaylistReference{Ref: req.ItemID, Output: req.Output, Label: req.YearMonth}
	res, err := s.importer.ImportSingle(r.Context(), ref, req.Sink)
	s.writeImport(w, res, err)
}

func decodeImport(w http.ResponseWriter, r *http.Request) (importRequest, bool) {
	var req importRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	if req.YearMonth != "" && !mylist.ValidLabel(req.YearMonth) {
		writeError(w, http.StatusBadRequest, "year_month must look like 2006.01")
		return req, false
	}
	return req, true
}

func (s *Server) writeImport(w http.ResponseWriter, res pipeline.Result, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, importResponse{Result: res})
		return
	}
	var (
		resErr  *mylist.ResolutionError
		sinkErr *mylist.SinkError
	)
	switch {
	case errors.Is(err, mylist.ErrUnknownSink):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &resErr):
		writeJSON(w, http.StatusUnprocessableEntity, importResponse{Result: res, Error: err.Error()})
	case errors.As(err, &sinkErr):
		writeJSON(w, http.StatusBadGateway, importResponse{Result: res, Error: err.Error()})
	default:
		s.logger.Error("import failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "import failed")
	}
}

func (s *Server) ogp(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	target, err := url.Parse(raw)
	if raw == "" || err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	if _, ok := s.allowed[strings.ToLower(target.Hostname())]; !ok {
		writeError(w, http.StatusForbidden, fmt.Sprintf("host %q is not allowed", target.Hostname()))
		return
	}
	meta, err := s.scraper.Scrape(r.Context(), target.String())
	if err != nil {
		s.logger.Warn("ogp scrape failed", zap.String("url", target.String()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "scrape failed")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, meta)
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
						zap.Stack("stack"))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
