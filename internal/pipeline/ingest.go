package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/metrics"
	"github.com/duiduidodge/noon-feed-sub001/internal/normalizer"
	"github.com/duiduidodge/noon-feed-sub001/internal/rss"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

type IngestStats struct {
	Sources    int
	Items      int
	Inserted   int
	Duplicates int
	Noise      int
	Failed     int
}

// Ingest pulls every enabled feed source and stores new articles as PENDING.
// A failing source is audited and skipped; the others still run.
func (p *Pipeline) Ingest(ctx context.Context) (IngestStats, error) {
	var total IngestStats

	sources, err := p.Store.EnabledSources(ctx, rss.SourceTypeFeed)
	if err != nil {
		return total, fmt.Errorf("load sources: %w", err)
	}

	var errs []error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		total.Sources++

		r := p.begin(ctx, JobIngest, "", nil)
		stats, err := p.ingestSource(ctx, src)
		meta := map[string]interface{}{
			"source":     src.Name,
			"items":      stats.Items,
			"inserted":   stats.Inserted,
			"duplicates": stats.Duplicates,
			"noise":      stats.Noise,
		}
		total.Items += stats.Items
		total.Inserted += stats.Inserted
		total.Duplicates += stats.Duplicates
		total.Noise += stats.Noise

		if err != nil {
			total.Failed++
			r.fail(ctx, err, meta)
			p.log().Error("source ingestion failed", "source", src.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}
		r.complete(ctx, meta)
	}

	p.Metrics.Add(metrics.ArticlesIngested, total.Inserted)
	p.Metrics.Add(metrics.DuplicatesFiltered, total.Duplicates)
	p.Metrics.Add(metrics.NoiseFiltered, total.Noise)
	p.log().Info("ingestion finished",
		"sources", total.Sources, "items", total.Items, "inserted", total.Inserted,
		"duplicates", total.Duplicates, "noise", total.Noise, "failed", total.Failed)

	if total.Failed == total.Sources && total.Sources > 0 {
		return total, errors.Join(errs...)
	}
	return total, nil
}

func (p *Pipeline) ingestSource(ctx context.Context, src storage.Source) (IngestStats, error) {
	var stats IngestStats

	var since *time.Time
	if p.Options.FeedSince > 0 {
		t := p.now().Add(-p.Options.FeedSince)
		since = &t
	}

	items, err := p.Feeds.Fetch(ctx, src.URL, since)
	if err != nil {
		return stats, err
	}
	stats.Items = len(items)

	recent, err := p.Store.RecentCandidates(ctx, src.ID, p.Options.WindowSize)
	if err != nil {
		return stats, fmt.Errorf("load duplicate window: %w", err)
	}
	window := normalizer.NewWindow(p.Options.WindowSize, recent)

	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if reason, noisy := normalizer.IsNoiseTitle(title); noisy {
			stats.Noise++
			p.log().Debug("skipping noise title", "title", title, "reason", reason)
			continue
		}

		link := strings.TrimSpace(item.Link)
		if link == "" {
			stats.Noise++
			p.log().Debug("skipping item without link", "title", title)
			continue
		}

		candidate := normalizer.Candidate{URL: link, Title: title}
		if window.Contains(candidate) {
			stats.Duplicates++
			continue
		}
		window.Add(candidate)

		id, inserted, err := p.Store.InsertArticle(ctx, storage.NewArticle{
			SourceID:      src.ID,
			URL:           link,
			NormalizedURL: normalizer.NormalizeURL(link),
			ContentHash:   normalizer.CreateArticleHash(title, link, item.PublishedAt),
			Title:         title,
			Text:          item.Content,
			PublishedAt:   item.PublishedAt,
		})
		if err != nil {
			return stats, fmt.Errorf("insert %s: %w", link, err)
		}
		if !inserted {
			stats.Duplicates++
			continue
		}
		stats.Inserted++
		p.log().Debug("article queued", "article_id", id, "title", title)
	}
	return stats, nil
}
