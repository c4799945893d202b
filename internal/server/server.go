// Package server exposes health, metrics, read queries and job triggers over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/duiduidodge/noon-feed-sub001/internal/cache"
	"github.com/duiduidodge/noon-feed-sub001/internal/enrich"
	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
	"github.com/duiduidodge/noon-feed-sub001/internal/metrics"
	"github.com/duiduidodge/noon-feed-sub001/internal/ratelimit"
	"github.com/duiduidodge/noon-feed-sub001/internal/sentiment"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

const (
	DefaultCacheTTL       = 45 * time.Second
	DefaultSentimentSince = 24 * time.Hour
	maxArticleLimit       = 200

	// staleFor bounds how long a cached read survives a failing database.
	staleFor = 10 * time.Minute
)

// Reader is the read side of the store used by the HTTP handlers.
type Reader interface {
	ListArticles(ctx context.Context, f storage.ArticleFilter) ([]storage.ArticleView, error)
	TagSentiment(ctx context.Context, tag string, since time.Time) (float64, int, error)
	GetStats(ctx context.Context) (map[string]int, error)
}

type JobFunc func(ctx context.Context) error

type Options struct {
	Metrics  *metrics.Metrics
	CacheTTL time.Duration
	Jobs     map[string]JobFunc

	// Budget and Provider report LLM usage on /health when set.
	Budget   *ratelimit.Budget
	Provider string
}

type SentimentView struct {
	Tag     string  `json:"tag"`
	Score   float64 `json:"score"`
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Window  string  `json:"window"`
	Stale   bool    `json:"stale,omitempty"`
	Message string  `json:"message,omitempty"`
}

type Server struct {
	Echo *echo.Echo

	store     Reader
	metrics   *metrics.Metrics
	budget    *ratelimit.Budget
	provider  string
	jobs      map[string]JobFunc
	articles  *cache.Cache[[]storage.ArticleView]
	sentiment *cache.Cache[SentimentView]
	logger    *slog.Logger
	now       func() time.Time

	// jobCtx outlives the triggering request; canceled on Shutdown.
	jobCtx    context.Context
	cancelJob context.CancelFunc
}

func New(store Reader, opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	jobCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		store:     store,
		metrics:   opts.Metrics,
		budget:    opts.Budget,
		provider:  opts.Provider,
		jobs:      opts.Jobs,
		articles:  cache.New[[]storage.ArticleView](ttl, cache.WithStaleFor[[]storage.ArticleView](staleFor)),
		sentiment: cache.New[SentimentView](ttl, cache.WithStaleFor[SentimentView](staleFor)),
		logger:    logger.With("http"),
		now:       time.Now,
		jobCtx:    jobCtx,
		cancelJob: cancel,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := e.Group("/api")
	api.GET("/articles", s.listArticles)
	api.GET("/sentiment/:tag", s.tagSentiment)
	api.GET("/jobs", s.listJobs)
	api.POST("/jobs/:name", s.triggerJob)

	s.Echo = e
	return s
}

func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", code, "method", req.Method, "path", req.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "status", code, "method", req.Method, "path", req.URL.Path, "error", err)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errc <- s.Echo.Start(addr)
	}()

	select {
	case err := <-errc:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.Echo.Shutdown(shutdownCtx)
		s.Close()
		return err
	}
}

// Close stops background jobs and cache janitors.
func (s *Server) Close() {
	s.cancelJob()
	s.articles.Close()
	s.sentiment.Close()
}

func (s *Server) health(c echo.Context) error {
	ctx := c.Request().Context()
	resp := map[string]interface{}{
		"status":  "ok",
		"metrics": s.metrics.GetStats(),
	}
	code := http.StatusOK

	stats, err := s.store.GetStats(ctx)
	if err != nil {
		resp["status"] = "degraded"
		resp["database"] = err.Error()
		code = http.StatusServiceUnavailable
	} else {
		resp["articles"] = stats
	}
	if s.budget != nil {
		budget := s.budget.GetStats()
		budget["exhausted"] = !s.budget.Allow(s.provider)
		resp["llm_budget"] = budget
	}
	if !s.metrics.Healthy() {
		resp["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (s *Server) listArticles(c echo.Context) error {
	status := storage.Status(strings.ToUpper(strings.TrimSpace(c.QueryParam("status"))))
	switch status {
	case "", storage.StatusPending, storage.StatusFetched, storage.StatusEnriched, storage.StatusFailed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status "+string(status))
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		if n > maxArticleLimit {
			n = maxArticleLimit
		}
		limit = n
	}

	key := cache.GenerateKey("articles", string(status), strconv.Itoa(limit))
	views, stale, err := s.articles.GetOrLoad(c.Request().Context(), key, func(ctx context.Context) ([]storage.ArticleView, error) {
		return s.store.ListArticles(ctx, storage.ArticleFilter{Status: status, Limit: limit})
	})
	if err != nil {
		return err
	}
	if stale {
		c.Response().Header().Set("X-Cache-Stale", "true")
	}
	if views == nil {
		views = []storage.ArticleView{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"articles": views, "count": len(views)})
}

func (s *Server) tagSentiment(c echo.Context) error {
	tag, ok := enrich.CanonicalTag(c.Param("tag"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown tag "+c.Param("tag"))
	}

	window := DefaultSentimentSince
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "window must be a positive duration")
		}
		window = d
	}

	key := cache.GenerateKey("sentiment", tag, window.String())
	view, stale, err := s.sentiment.GetOrLoad(c.Request().Context(), key, func(ctx context.Context) (SentimentView, error) {
		avg, n, err := s.store.TagSentiment(ctx, tag, s.now().Add(-window))
		if err != nil {
			return SentimentView{}, err
		}
		v := SentimentView{Tag: tag, Score: avg, Count: n, Window: window.String(), Label: string(sentiment.LabelFor(avg))}
		if n == 0 {
			v.Label = ""
			v.Message = "no enriched articles in window"
		}
		return v, nil
	})
	if err != nil {
		return err
	}
	view.Stale = stale
	return c.JSON(http.StatusOK, view)
}

func (s *Server) listJobs(c echo.Context) error {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return c.JSON(http.StatusOK, map[string]interface{}{"jobs": names})
}

// triggerJob starts a job in the background and returns immediately.
func (s *Server) triggerJob(c echo.Context) error {
	name := c.Param("name")
	job, ok := s.jobs[name]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown job "+name)
	}

	go func() {
		if err := job(s.jobCtx); err != nil {
			s.logger.Warn("triggered job failed", "job", name, "error", err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"job": name, "status": "accepted"})
}
