package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/duiduidodge/noon-feed-sub001/internal/metrics"
	"github.com/duiduidodge/noon-feed-sub001/internal/scraper"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

type FetchStats struct {
	Fetched int
	Failed  int
	Skipped int
}

// FetchPending downloads and extracts PENDING articles, moving each to
// FETCHED or FAILED.
func (p *Pipeline) FetchPending(ctx context.Context, limit int) (FetchStats, error) {
	var stats FetchStats
	r := p.begin(ctx, JobFetch, "", nil)

	articles, err := p.Store.PendingArticles(ctx, limit)
	if err != nil {
		err = fmt.Errorf("load pending articles: %w", err)
		r.fail(ctx, err, nil)
		return stats, err
	}

	for _, a := range articles {
		if err := ctx.Err(); err != nil {
			r.fail(ctx, err, fetchMeta(stats))
			return stats, err
		}

		if err := p.fetchOne(ctx, a); err != nil {
			if errors.Is(err, storage.ErrStatusConflict) {
				stats.Skipped++
				continue
			}
			if errors.Is(err, context.Canceled) {
				r.fail(ctx, err, fetchMeta(stats))
				return stats, err
			}
			stats.Failed++
			r.articleFailed(ctx, a.ID, err)
			p.log().Warn("article fetch failed", "article_id", a.ID, "url", a.URL, "error", err)
			continue
		}
		stats.Fetched++
	}

	p.Metrics.Add(metrics.ArticlesFetched, stats.Fetched)
	p.Metrics.Add(metrics.FetchFailures, stats.Failed)
	r.complete(ctx, fetchMeta(stats))
	p.log().Info("fetch finished", "fetched", stats.Fetched, "failed", stats.Failed, "skipped", stats.Skipped)
	return stats, nil
}

// fetchOne returns nil once the article is FETCHED. Any other error has
// already been recorded on the article as FAILED, except conflicts and
// cancellation which leave it untouched.
func (p *Pipeline) fetchOne(ctx context.Context, a storage.Article) error {
	content, err := p.Pages.Fetch(ctx, a.URL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		if terr := p.transition(ctx, a.ID, storage.StatusPending, storage.StatusFailed, err.Error()); terr != nil {
			return terr
		}
		return err
	}

	// Extraction may come back empty for script-rendered pages. The feed
	// description is better than nothing; enrichment decides what to do with it.
	text := strings.TrimSpace(content.Text)
	if text == "" {
		text = scraper.StripTags(a.Text)
	}
	if err := checkTransition(storage.StatusPending, storage.StatusFetched); err != nil {
		return err
	}
	return p.Store.MarkFetched(ctx, a.ID, storage.FetchedContent{
		Text:   text,
		HTML:   content.HTML,
		Byline: content.Byline,
	})
}

func (p *Pipeline) transition(ctx context.Context, id int64, from, to storage.Status, lastError string) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	return p.Store.Transition(ctx, id, from, to, lastError)
}

func fetchMeta(s FetchStats) map[string]interface{} {
	return map[string]interface{}{"fetched": s.Fetched, "failed": s.Failed, "skipped": s.Skipped}
}
