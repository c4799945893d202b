package app

import (
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/cache"
	"github.com/duiduidodge/noon-feed-sub001/internal/rss"
	"github.com/duiduidodge/noon-feed-sub001/internal/sentiment"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

// newSentimentCollector builds the external sentiment sources around a shared
// TTL cache. The returned func stops the cache janitor.
func newSentimentCollector(ttl time.Duration) (*sentiment.Collector, func()) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c := cache.New[float64](ttl, cache.WithStaleFor[float64](time.Hour))
	return sentiment.NewCollector(sentiment.NewFearGreedSource(c)), c.Close
}

// toStorageSources maps the YAML source list onto rows for SyncSources.
func toStorageSources(in []rss.Source) []storage.Source {
	out := make([]storage.Source, 0, len(in))
	for _, s := range in {
		out = append(out, storage.Source{
			Name:     s.Name,
			Type:     s.Type,
			URL:      s.URL,
			Category: s.Category,
			Enabled:  s.IsEnabled(),
		})
	}
	return out
}
