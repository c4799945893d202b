package rss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"gopkg.in/yaml.v3"

	"github.com/duiduidodge/noon-feed-sub001/internal/retry"
)

const (
	SourceTypeFeed   = "feed"
	SourceTypeAPI    = "api"
	SourceTypeManual = "manual"
)

// Source is one entry of the sources YAML file.
type Source struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Type     string `yaml:"type"`
	Category string `yaml:"category"`
	Enabled  *bool  `yaml:"enabled"`
}

func (s Source) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// SourcesConfig is the YAML layout:
//
//	sources:
//	  - name: CoinDesk
//	    url: https://...
//	    category: news
type SourcesConfig struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources reads the sources list from a YAML file.
func LoadSources(path string) ([]Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg SourcesConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	out := make([]Source, 0, len(cfg.Sources))
	for i, s := range cfg.Sources {
		s.URL = strings.TrimSpace(s.URL)
		if s.URL == "" {
			return nil, fmt.Errorf("source #%d (%s): url is required", i, s.Name)
		}
		if s.Type == "" {
			s.Type = SourceTypeFeed
		}
		switch s.Type {
		case SourceTypeFeed, SourceTypeAPI, SourceTypeManual:
		default:
			return nil, fmt.Errorf("source %s: unknown type %q", s.Name, s.Type)
		}
		if s.Name == "" {
			s.Name = s.URL
		}
		out = append(out, s)
	}
	return out, nil
}

// Item is a parsed feed entry.
type Item struct {
	Title       string
	Link        string
	GUID        string
	PublishedAt *time.Time
	Content     string
}

type Fetcher struct {
	Timeout   time.Duration
	UserAgent string
	Retry     retry.RetryConfig
	Client    *http.Client
	Logger    *slog.Logger
}

// NewFetcher returns a feed fetcher with 3 attempts and exponential backoff.
func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	return &Fetcher{
		Timeout:   timeout,
		UserAgent: userAgent,
		Retry: retry.RetryConfig{
			MaxAttempts: 3,
			Delay:       1500 * time.Millisecond,
			Backoff:     true,
		},
		Client: &http.Client{},
		Logger: slog.Default().With("component", "rss"),
	}
}

// Fetch downloads and parses one feed. Items published before since are dropped;
// undated items are kept.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string, since *time.Time) ([]Item, error) {
	cfg := f.Retry
	cfg.Name = "feed " + feedURL
	cfg.Logger = f.Logger
	cfg.ShouldRetry = isRetryable

	feed, err := retry.Do(ctx, cfg, func(ctx context.Context) (*gofeed.Feed, error) {
		return f.fetchOnce(ctx, feedURL)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		item := convert(it)
		if since != nil && item.PublishedAt != nil && item.PublishedAt.Before(*since) {
			continue
		}
		items = append(items, item)
	}

	f.Logger.Info("feed loaded", "url", feedURL, "items", len(items), "total", len(feed.Items))
	return items, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	parser := gofeed.NewParser()
	parser.Client = f.Client
	if f.UserAgent != "" {
		parser.UserAgent = f.UserAgent
	}
	return parser.ParseURLWithContext(feedURL, ctx)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var he gofeed.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	return true
}

func convert(it *gofeed.Item) Item {
	item := Item{
		Title: strings.TrimSpace(it.Title),
		Link:  strings.TrimSpace(it.Link),
		GUID:  it.GUID,
	}
	switch {
	case it.PublishedParsed != nil:
		item.PublishedAt = it.PublishedParsed
	case it.UpdatedParsed != nil:
		item.PublishedAt = it.UpdatedParsed
	}
	item.Content = it.Content
	if item.Content == "" {
		item.Content = it.Description
	}
	if item.Link == "" && strings.HasPrefix(it.GUID, "http") {
		item.Link = it.GUID
	}
	return item
}
