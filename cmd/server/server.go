package main

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"marketfeed/internal/aggregator"
	"marketfeed/internal/cache"
	"marketfeed/internal/config"
	"marketfeed/internal/model"
	"marketfeed/internal/ratelimit"
)

// Server is the HTTP surface over the aggregator.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	agg    *aggregator.Aggregator
}

func NewServer(cfg config.Server, agg *aggregator.Aggregator, log zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    log.With().Str("component", "server").Logger(),
		agg:    agg,
	}
	s.setupMiddleware(cfg)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(cfg config.Server) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	if t := cfg.RequestTimeout(); t > 0 {
		s.router.Use(middleware.Timeout(t))
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After", "X-Request-ID"},
		MaxAge:         300,
	}))
	s.router.Use(middleware.Compress(5))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/data/{category}", s.handleData)
		r.Get("/fanout/{category}", s.handleFanOut)
		r.Get("/providers", s.handleProviders)
	})
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	req, ok := parseRequest(w, r)
	if !ok {
		return
	}
	res, err := s.agg.Fetch(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("X-Request-ID", res.Meta.RequestID)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFanOut(w http.ResponseWriter, r *http.Request) {
	req, ok := parseRequest(w, r)
	if !ok {
		return
	}
	res, err := s.agg.FanOut(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("X-Request-ID", res.Meta.RequestID)
	writeJSON(w, http.StatusOK, res)
}

type providersResponse struct {
	Providers []aggregator.ProviderHealth `json:"providers"`
	Cache     cache.Stats                 `json:"cache"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, providersResponse{
		Providers: s.agg.Health(),
		Cache:     s.agg.Cache().Stats(r.Context()),
	})
}

// parseRequest reads the category from the path and passes every query
// parameter except primary_only through to the providers.
func parseRequest(w http.ResponseWriter, r *http.Request) (aggregator.Request, bool) {
	cat, err := model.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return aggregator.Request{}, false
	}
	req := aggregator.Request{Caller: callerKey(r), Category: cat, Params: map[string]string{}}
	for k, vs := range r.URL.Query() {
		if len(vs) == 0 {
			continue
		}
		if k == "primary_only" {
			b, err := strconv.ParseBool(vs[0])
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "primary_only must be a boolean"})
				return aggregator.Request{}, false
			}
			req.PrimaryOnly = b
			continue
		}
		req.Params[k] = vs[0]
	}
	return req, true
}

// callerKey is the client address; RealIP has already applied proxy headers.
func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorResponse struct {
	Error    string               `json:"error"`
	Category model.Category       `json:"category,omitempty"`
	Attempts []aggregator.Attempt `json:"attempts,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		exceeded *ratelimit.ExceededError
		primary  *aggregator.PrimaryUnavailableError
		failed   *aggregator.AllProvidersFailedError
	)
	switch {
	case errors.As(err, &exceeded):
		secs := int(math.Ceil(exceeded.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
	case errors.As(err, &primary):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Category: primary.Category})
	case errors.As(err, &failed):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "all providers failed", Category: failed.Category, Attempts: failed.Attempts})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		// The client is gone.
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
