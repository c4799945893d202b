// Package pipeline drives articles through ingestion, extraction, impact
// screening, enrichment and delivery, persisting every transition.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/delivery"
	"github.com/duiduidodge/noon-feed-sub001/internal/enrich"
	"github.com/duiduidodge/noon-feed-sub001/internal/impact"
	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
	"github.com/duiduidodge/noon-feed-sub001/internal/metrics"
	"github.com/duiduidodge/noon-feed-sub001/internal/normalizer"
	"github.com/duiduidodge/noon-feed-sub001/internal/rss"
	"github.com/duiduidodge/noon-feed-sub001/internal/scraper"
	"github.com/duiduidodge/noon-feed-sub001/internal/sentiment"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

// Job types written to the audit log.
const (
	JobIngest  = "ingest"
	JobFetch   = "fetch"
	JobEnrich  = "enrich"
	JobReset   = "reset"
	JobDeliver = "deliver"
	JobDigest  = "digest"
)

// Store is the persistence the pipeline needs. *storage.Store implements it.
type Store interface {
	EnabledSources(ctx context.Context, sourceType string) ([]storage.Source, error)
	RecentCandidates(ctx context.Context, sourceID int64, limit int) ([]normalizer.Candidate, error)
	InsertArticle(ctx context.Context, a storage.NewArticle) (int64, bool, error)
	GetArticle(ctx context.Context, id int64) (storage.Article, error)
	PendingArticles(ctx context.Context, limit int) ([]storage.Article, error)
	ArticlesForEnrichment(ctx context.Context, limit int) ([]storage.Article, error)
	MarkFetched(ctx context.Context, id int64, c storage.FetchedContent) error
	Transition(ctx context.Context, id int64, from, to storage.Status, lastError string) error
	SaveImpact(ctx context.Context, id int64, score float64, passed bool) error
	SaveEnrichment(ctx context.Context, e storage.Enrichment) error
	ResetEnrichment(ctx context.Context, articleID int64) error
	AppendAudit(ctx context.Context, a storage.JobAudit) error
	HasCompletedSlot(ctx context.Context, jobType, slotKey string) (bool, error)
	Deliverable(ctx context.Context, impacts []string, channels []string, limit int) ([]storage.EnrichedArticle, error)
	PostedChannels(ctx context.Context, articleID int64) (map[string]bool, error)
	EnrichedSince(ctx context.Context, since time.Time, limit int) ([]storage.EnrichedArticle, error)
	UpsertPosting(ctx context.Context, p storage.Posting) error
}

type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string, since *time.Time) ([]rss.Item, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*scraper.ArticleContent, error)
}

type ImpactEvaluator interface {
	EvaluateBatch(ctx context.Context, inputs []impact.Input) []impact.Result
}

type Enricher interface {
	Enrich(ctx context.Context, in enrich.Input) (enrich.Output, error)
}

type SentimentCollector interface {
	Collect(ctx context.Context, symbol string) []sentiment.Score
}

type Poster interface {
	Names() []string
	PostExcept(ctx context.Context, msg delivery.Message, done map[string]bool) delivery.Report
}

type Options struct {
	// WindowSize bounds the per-source duplicate window.
	WindowSize int
	// FeedSince drops feed items older than now minus this.
	FeedSince time.Duration
	// MinChars is the text length under which the impact filter is skipped
	// and enrichment falls back to rules.
	MinChars int
	// DeliverImpacts lists the market impacts posted individually.
	DeliverImpacts []string
	DigestWindow   time.Duration
	DigestSize     int
}

func DefaultOptions() Options {
	return Options{
		WindowSize:     normalizer.DefaultWindowSize,
		FeedSince:      24 * time.Hour,
		MinChars:       enrich.DefaultMinChars,
		DeliverImpacts: []string{enrich.ImpactHigh},
		DigestWindow:   6 * time.Hour,
		DigestSize:     8,
	}
}

type Pipeline struct {
	Store     Store
	Feeds     FeedFetcher
	Pages     PageFetcher
	Impact    ImpactEvaluator
	Enricher  Enricher
	Sentiment SentimentCollector
	Poster    Poster
	Metrics   *metrics.Metrics
	Options   Options
	Logger    *slog.Logger

	clock func() time.Time
}

func New(store Store, opts Options) *Pipeline {
	return &Pipeline{
		Store:   store,
		Options: opts,
		Logger:  logger.With("pipeline"),
		clock:   time.Now,
	}
}

func (p *Pipeline) now() time.Time {
	if p.clock != nil {
		return p.clock()
	}
	return time.Now()
}

func (p *Pipeline) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) minChars() int {
	if p.Options.MinChars > 0 {
		return p.Options.MinChars
	}
	return enrich.DefaultMinChars
}
