// Package app wires the pipeline, delivery, scheduler and HTTP server from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/config"
	"github.com/duiduidodge/noon-feed-sub001/internal/delivery"
	"github.com/duiduidodge/noon-feed-sub001/internal/enrich"
	"github.com/duiduidodge/noon-feed-sub001/internal/impact"
	"github.com/duiduidodge/noon-feed-sub001/internal/llm"
	"github.com/duiduidodge/noon-feed-sub001/internal/lock"
	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
	"github.com/duiduidodge/noon-feed-sub001/internal/metrics"
	"github.com/duiduidodge/noon-feed-sub001/internal/pipeline"
	"github.com/duiduidodge/noon-feed-sub001/internal/ratelimit"
	"github.com/duiduidodge/noon-feed-sub001/internal/rss"
	"github.com/duiduidodge/noon-feed-sub001/internal/scheduler"
	"github.com/duiduidodge/noon-feed-sub001/internal/scraper"
	"github.com/duiduidodge/noon-feed-sub001/internal/server"
	"github.com/duiduidodge/noon-feed-sub001/internal/signals"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

type App struct {
	Config    *config.Config
	Store     *storage.Store
	Pipeline  *pipeline.Pipeline
	Signals   *signals.Runner
	Specs     []signals.Spec
	Scheduler *scheduler.Scheduler
	Budget    *ratelimit.Budget

	provider string
	closers []func()
	logger  *slog.Logger
}

// New connects to Postgres, syncs sources and builds every component. The
// caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, logger: logger.With("app")}

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, func() { _ = store.Close() })

	if err := a.syncSources(ctx); err != nil {
		a.Close()
		return nil, err
	}

	p, err := a.buildPipeline(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = p

	a.Signals = signals.NewRunner(store)
	if a.Specs, err = loadSignalSpecs(cfg.SignalsConfigPath); err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.buildLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.Scheduler, err = scheduler.New(locker, a.Jobs()...); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) syncSources(ctx context.Context) error {
	configured, err := rss.LoadSources(a.Config.SourcesConfigPath)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	synced, err := a.Store.SyncSources(ctx, toStorageSources(configured))
	if err != nil {
		return err
	}
	a.logger.Info("Sources synced", "count", len(synced), "path", a.Config.SourcesConfigPath)
	return nil
}

func (a *App) buildPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	cfg := a.Config

	provider, err := llm.New(ctx, llm.Config{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.LLMAPIKey(),
		Model:    cfg.LLMModel,
		Timeout:  cfg.LLMTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	if c, ok := provider.(interface{ Close() }); ok {
		a.closers = append(a.closers, c.Close)
	}

	a.Budget = ratelimit.NewBudget(map[string]int{provider.Name(): cfg.MaxLLMRequests}, 0)
	a.provider = provider.Name()
	budgeted := llm.NewBudgeted(provider, a.Budget)

	// The impact filter scores each article once; a failed call means score 0.
	filter := impact.NewFilter(budgeted, cfg.ImpactThreshold, cfg.ImpactConcurrency)
	filter.Model = cfg.LLMImpactModel

	engine := enrich.NewEngine(llm.NewRetrying(budgeted, cfg.RetryAttempts, cfg.RetryBaseDelay, logger.With("llm")), cfg.LLMModel)
	engine.MaxChars = cfg.EnrichMaxChars
	engine.MinChars = cfg.EnrichMinChars

	poster, err := buildPoster(cfg)
	if err != nil {
		return nil, err
	}

	collector, closeCollector := newSentimentCollector(cfg.CacheTTL)
	a.closers = append(a.closers, closeCollector)

	opts := pipeline.DefaultOptions()
	opts.WindowSize = cfg.DedupWindow
	opts.FeedSince = cfg.FeedSince
	opts.MinChars = cfg.EnrichMinChars
	opts.DeliverImpacts = cfg.PostMinImpact
	opts.DigestWindow = cfg.DigestWindow
	opts.DigestSize = cfg.DigestSize

	p := pipeline.New(a.Store, opts)
	p.Feeds = rss.NewFetcher(cfg.FetchTimeout, cfg.FetchUserAgent)
	p.Pages = scraper.NewFetcher(cfg.FetchTimeout, cfg.FetchUserAgent)
	p.Impact = filter
	p.Enricher = engine
	p.Sentiment = collector
	p.Poster = poster
	p.Metrics = metrics.Global

	a.logger.Info("Pipeline ready",
		"provider", provider.Name(),
		"model", provider.DefaultModel(),
		"channels", poster.Names(),
		"impact_threshold", cfg.ImpactThreshold)
	return p, nil
}

// buildPoster returns a poster with whichever channels are configured, possibly none.
func buildPoster(cfg *config.Config) (*delivery.Poster, error) {
	var channels []delivery.Channel
	if cfg.TelegramToken != "" {
		tg, err := delivery.NewTelegram(delivery.TelegramOptions{Token: cfg.TelegramToken, ChatID: cfg.TelegramChatID})
		if err != nil {
			return nil, err
		}
		channels = append(channels, tg)
	}
	if cfg.DiscordWebhookURL != "" {
		channels = append(channels, delivery.NewDiscord(cfg.DiscordWebhookURL))
	}
	return delivery.NewPoster(delivery.NewFixedPacer(cfg.PostDelay), channels...), nil
}

func (a *App) buildLocker(ctx context.Context) (lock.Locker, error) {
	if a.Config.RedisURL == "" {
		return lock.Noop{}, nil
	}
	client, err := lock.Connect(ctx, a.Config.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.logger.Info("Redis job lock enabled")
	return lock.NewRedisLocker(client), nil
}

func loadSignalSpecs(path string) ([]signals.Spec, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return signals.LoadSpecs(path)
}

// Jobs lists every scheduled job. Signal scripts without a cron only run on demand.
func (a *App) Jobs() []scheduler.Job {
	cfg := a.Config
	batch := cfg.BatchSize
	jobs := []scheduler.Job{
		{Name: pipeline.JobIngest, Cron: cfg.IngestCron, Timeout: 10 * time.Minute, Run: func(ctx context.Context) error {
			_, err := a.Pipeline.Ingest(ctx)
			return err
		}},
		{Name: pipeline.JobFetch, Cron: cfg.FetchCron, Timeout: 10 * time.Minute, Run: func(ctx context.Context) error {
			_, err := a.Pipeline.FetchPending(ctx, batch)
			return err
		}},
		{Name: pipeline.JobEnrich, Cron: cfg.EnrichCron, Timeout: 20 * time.Minute, Run: func(ctx context.Context) error {
			_, err := a.Pipeline.EnrichFetched(ctx, batch)
			return err
		}},
		{Name: pipeline.JobDeliver, Cron: cfg.DeliverCron, Timeout: 10 * time.Minute, Run: func(ctx context.Context) error {
			_, err := a.Pipeline.Deliver(ctx, batch)
			return err
		}},
		{Name: pipeline.JobDigest, Cron: cfg.DigestCron, Timeout: 10 * time.Minute, Run: func(ctx context.Context) error {
			_, err := a.Pipeline.RunDigestSlot(ctx, time.Now().UTC().Truncate(time.Hour))
			return err
		}},
	}
	for _, spec := range a.Specs {
		if spec.Cron == "" {
			continue
		}
		spec := spec
		jobs = append(jobs, scheduler.Job{Name: "signals:" + spec.Kind, Cron: spec.Cron, Run: func(ctx context.Context) error {
			_, err := a.Signals.Run(ctx, spec)
			return err
		}})
	}
	return jobs
}

// Server builds the HTTP surface. Triggered jobs go through the scheduler so
// they share its lock.
func (a *App) Server() *server.Server {
	triggers := make(map[string]server.JobFunc)
	for _, name := range a.Scheduler.Jobs() {
		name := name
		triggers[name] = func(ctx context.Context) error { return a.Scheduler.RunNow(ctx, name) }
	}
	return server.New(a.Store, server.Options{
		Metrics:  metrics.Global,
		CacheTTL: a.Config.CacheTTL,
		Jobs:     triggers,
		Budget:   a.Budget,
		Provider: a.provider,
	})
}

// Run starts the scheduler and the HTTP server and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	srv := a.Server()
	done := make(chan struct{})
	go func() {
		a.Scheduler.Start(ctx)
		close(done)
	}()

	err := srv.Start(ctx, a.Config.HTTPAddr)
	<-done
	return err
}

// RunOnce executes every pipeline stage once, in order.
func (a *App) RunOnce(ctx context.Context) error {
	start := time.Now()
	for _, name := range []string{pipeline.JobIngest, pipeline.JobFetch, pipeline.JobEnrich, pipeline.JobDeliver} {
		if err := a.Scheduler.RunNow(ctx, name); err != nil && !errors.Is(err, lock.ErrNotAcquired) && !errors.Is(err, scheduler.ErrJobRunning) {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	a.logger.Info("Pipeline run finished", "took", time.Since(start), "stats", metrics.Global.GetStats(), "llm_budget", a.Budget.GetStats())
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
