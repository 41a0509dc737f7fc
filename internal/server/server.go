// Package server provides the HTTP server and routing.
package server

import (
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/xxxbrian/surge-qx/internal/cache"
	"github.com/xxxbrian/surge-qx/internal/converter"
	"github.com/xxxbrian/surge-qx/internal/errors"
	"github.com/xxxbrian/surge-qx/internal/fetcher"
	"github.com/xxxbrian/surge-qx/internal/host"
	"github.com/xxxbrian/surge-qx/internal/logging"
)

const maxBodyBytes = 16 << 20

// Server represents the HTTP server
type Server struct {
	fetcher     *fetcher.Fetcher
	resultCache *cache.ResultCache
	runner      *host.Runner
	metrics     http.Handler
	basePath    string
	logger      zerolog.Logger
}

// Config contains server configuration.
type Config struct {
	BasePath string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewServer creates a new Server
func NewServer(f *fetcher.Fetcher, rc *cache.ResultCache, runner *host.Runner, cfg Config) *Server {
	return &Server{
		fetcher:     f,
		resultCache: rc,
		runner:      runner,
		metrics:     cfg.Metrics,
		basePath:    "/" + strings.Trim(strings.TrimSpace(cfg.BasePath), "/"),
		logger:      logging.GetLogger("server"),
	}
}

// Handler builds the router with logging applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.LoggingMiddleware)

	routes := func(r chi.Router) {
		r.Get("/healthz", s.handleHealth)
		r.Get("/types", s.handleTypes)
		r.Route("/convert", func(r chi.Router) {
			r.Get("/", s.handleConvertLink)
			r.Post("/", s.handleConvertBody)
			r.Get("/stats", s.handleConvertStats)
		})
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics)
		}
	}

	if s.basePath == "/" {
		routes(r)
	} else {
		r.Route(s.basePath, routes)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleTypes returns the supported Surge rule types and their QuantumultX tokens.
func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, converter.SupportedRuleTypes())
}

// handleConvertLink handles GET /convert?url=<link> requests
func (s *Server) handleConvertLink(w http.ResponseWriter, r *http.Request) {
	link, body, etag, ok := s.fetchLink(w, r)
	if !ok {
		return
	}

	if cached, stats, hit := s.resultCache.Get(link, etag); hit {
		s.logger.Debug().Str("link", link).Str("etag", truncateETag(etag)).Msg("Cache hit")
		w.Header().Set("X-Cache", "hit")
		writeStatsHeaders(w, stats)
		writeRulesetResponse(w, cached)
		return
	}

	output, result, err := s.run(link, body)
	if err == nil {
		s.resultCache.Set(link, output, etag, result.Stats)
		writeStatsHeaders(w, result.Stats)
	} else {
		w.Header().Set("X-Conversion-Error", string(errors.GetErrorCode(err)))
	}
	w.Header().Set("X-Cache", "miss")
	writeRulesetResponse(w, output)
}

// handleConvertStats handles GET /convert/stats?url=<link> requests
func (s *Server) handleConvertStats(w http.ResponseWriter, r *http.Request) {
	link, body, _, ok := s.fetchLink(w, r)
	if !ok {
		return
	}

	_, result, err := s.run(link, body)
	if err != nil {
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, newError(err))
		return
	}
	render.JSON(w, r, render.M{
		"link":  link,
		"mode":  modeOf(link),
		"stats": result.Stats,
	})
}

// handleConvertBody handles POST /convert with the rule list as the body.
func (s *Server) handleConvertBody(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	link := effectiveLink(r.URL.Query().Get("link"), r.URL.Query())
	output, result, err := s.run(link, string(data))
	if err == nil {
		writeStatsHeaders(w, result.Stats)
	} else {
		w.Header().Set("X-Conversion-Error", string(errors.GetErrorCode(err)))
	}
	writeRulesetResponse(w, output)
}

// fetchLink resolves the url query parameter and downloads the list behind it.
// It writes the error response itself and returns false on failure.
func (s *Server) fetchLink(w http.ResponseWriter, r *http.Request) (string, string, string, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return "", "", "", false
	}
	link := effectiveLink(raw, r.URL.Query())

	body, etag, err := s.fetcher.Fetch(r.Context(), link)
	if err != nil {
		http.Error(w, "Failed to fetch upstream: "+err.Error(), http.StatusBadGateway)
		return "", "", "", false
	}
	return link, body, etag, true
}

// run converts body through the host runner and returns whatever it delivered.
func (s *Server) run(link, body string) (string, *converter.Result, error) {
	var output string
	result, err := s.runner.Run(host.StaticSource{URL: link, Body: body}, func(out host.Output) {
		output = out.Content
	})
	return output, result, err
}

// effectiveLink applies policy and domain-set query overrides to the fragment of link.
func effectiveLink(link string, query url.Values) string {
	overrides := lo.PickBy(map[string]string{
		converter.ParamPolicy:    query.Get(converter.ParamPolicy),
		converter.ParamDomainSet: query.Get(converter.ParamDomainSet),
	}, func(key, _ string) bool {
		return query.Has(key)
	})
	return converter.MergeParameters(link, overrides)
}

func modeOf(link string) string {
	params, err := converter.ParseURLParameters(link)
	if err != nil {
		return ""
	}
	return converter.OptionsFromParameters(params).Mode()
}

func writeRulesetResponse(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=1800")
	_, _ = w.Write([]byte(body))
}

func writeStatsHeaders(w http.ResponseWriter, stats converter.Stats) {
	w.Header().Set("X-Stats-Total", strconv.Itoa(stats.TotalLines))
	w.Header().Set("X-Stats-Processed", strconv.Itoa(stats.ProcessedLines))
	w.Header().Set("X-Stats-Skipped", strconv.Itoa(stats.SkippedLines))
	w.Header().Set("X-Stats-Errors", strconv.Itoa(stats.ErrorLines))
}

type errorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func newError(err error) errorResponse {
	return errorResponse{
		Code:    string(errors.GetErrorCode(err)),
		Message: err.Error(),
		Details: errors.GetErrorDetails(err),
	}
}

// LoggingMiddleware logs all HTTP requests
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}

// truncateETag truncates ETag for logging
func truncateETag(etag string) string {
	if len(etag) > 8 {
		return etag[:8]
	}
	return etag
}
