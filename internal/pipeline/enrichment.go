package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/duiduidodge/noon-feed-sub001/internal/enrich"
	"github.com/duiduidodge/noon-feed-sub001/internal/impact"
	"github.com/duiduidodge/noon-feed-sub001/internal/llm"
	"github.com/duiduidodge/noon-feed-sub001/internal/metrics"
	"github.com/duiduidodge/noon-feed-sub001/internal/sentiment"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

type EnrichStats struct {
	Considered  int
	ScreenedOut int
	Enriched    int
	Fallbacks   int
	Skipped     int
}

// coinTags are the vocabulary tags that name a single asset; the first one
// found picks the symbol for external sentiment.
var coinTags = map[string]bool{"BTC": true, "ETH": true, "SOL": true, "XRP": true}

// EnrichFetched screens FETCHED articles for market impact and enriches the
// ones that pass. Screened-out articles stay FETCHED with prefilter_passed
// false. An authentication error from the LLM aborts the run without touching
// the remaining articles.
func (p *Pipeline) EnrichFetched(ctx context.Context, limit int) (EnrichStats, error) {
	var stats EnrichStats
	r := p.begin(ctx, JobEnrich, "", nil)

	articles, err := p.Store.ArticlesForEnrichment(ctx, limit)
	if err != nil {
		err = fmt.Errorf("load fetched articles: %w", err)
		r.fail(ctx, err, nil)
		return stats, err
	}
	stats.Considered = len(articles)

	var (
		ready    []storage.Article
		screened []storage.Article
		inputs   []impact.Input
	)
	for _, a := range articles {
		switch {
		case a.PrefilterPassed != nil:
			// Passed the gate in an earlier run that stopped before enrichment.
			ready = append(ready, a)
		case utf8.RuneCountInString(strings.TrimSpace(a.Text)) < p.minChars():
			ready = append(ready, a)
		default:
			screened = append(screened, a)
			inputs = append(inputs, impact.Input{Title: a.Title, Text: a.Text, SourceName: a.SourceName})
		}
	}

	if len(inputs) > 0 && p.Impact != nil {
		results := p.Impact.EvaluateBatch(ctx, inputs)
		for _, res := range results {
			if res.Err != nil && (llm.IsAuth(res.Err) || errors.Is(res.Err, context.Canceled)) {
				r.fail(ctx, res.Err, enrichMeta(stats))
				return stats, fmt.Errorf("impact filter: %w", res.Err)
			}
		}
		for i, res := range results {
			a := screened[i]
			if err := p.Store.SaveImpact(ctx, a.ID, res.Score, res.ShouldEnrich); err != nil {
				if errors.Is(err, storage.ErrStatusConflict) {
					stats.Skipped++
					continue
				}
				r.fail(ctx, err, enrichMeta(stats))
				return stats, fmt.Errorf("save impact for article %d: %w", a.ID, err)
			}
			if !res.ShouldEnrich {
				stats.ScreenedOut++
				p.log().Debug("article screened out", "article_id", a.ID, "score", res.Score, "reasoning", res.Reasoning)
				continue
			}
			ready = append(ready, a)
		}
	} else {
		ready = append(ready, screened...)
	}

	for _, a := range ready {
		if err := ctx.Err(); err != nil {
			r.fail(ctx, err, enrichMeta(stats))
			return stats, err
		}

		out, err := p.Enricher.Enrich(ctx, enrich.Input{Title: a.Title, Text: a.Text, SourceName: a.SourceName, URL: a.URL})
		if err != nil {
			r.fail(ctx, err, enrichMeta(stats))
			p.log().Error("enrichment aborted", "article_id", a.ID, "error", err)
			return stats, fmt.Errorf("enrich article %d: %w", a.ID, err)
		}

		e := p.buildEnrichment(ctx, a.ID, out)
		if err := p.Store.SaveEnrichment(ctx, e); err != nil {
			if errors.Is(err, storage.ErrStatusConflict) {
				stats.Skipped++
				continue
			}
			r.fail(ctx, err, enrichMeta(stats))
			return stats, fmt.Errorf("save enrichment for article %d: %w", a.ID, err)
		}

		stats.Enriched++
		if out.Fallback {
			stats.Fallbacks++
		}
		p.log().Info("article enriched",
			"article_id", a.ID, "tags", out.Tags, "sentiment", out.Sentiment,
			"impact", out.MarketImpact, "fallback", out.Fallback)
	}

	p.Metrics.Add(metrics.ScreenedOut, stats.ScreenedOut)
	p.Metrics.Add(metrics.ArticlesEnriched, stats.Enriched)
	p.Metrics.Add(metrics.EnrichmentFallbacks, stats.Fallbacks)
	r.complete(ctx, enrichMeta(stats))
	return stats, nil
}

func (p *Pipeline) buildEnrichment(ctx context.Context, articleID int64, out enrich.Output) storage.Enrichment {
	e := storage.Enrichment{
		ArticleID:      articleID,
		Title:          out.Title,
		Summary:        out.Summary,
		Tags:           out.Tags,
		Sentiment:      string(out.Sentiment),
		MarketImpact:   out.MarketImpact,
		Cautions:       out.Cautions,
		Quotes:         out.Quotes,
		Provider:       out.Provider,
		Model:          out.Model,
		IsFallback:     out.Fallback,
		FallbackReason: out.FallbackReason,
	}

	var external []sentiment.Score
	if p.Sentiment != nil {
		external = p.Sentiment.Collect(ctx, symbolFor(out.Tags))
	}
	if len(external) > 0 {
		e.ExternalSentiment = make(map[string]float64, len(external))
		for _, s := range external {
			e.ExternalSentiment[s.Source] = s.Value
		}
	}

	agg := sentiment.Aggregate(out.Sentiment, external)
	e.AggregatedScore = &agg.Score
	e.Confidence = &agg.Confidence
	return e
}

func symbolFor(tags []string) string {
	for _, t := range tags {
		if coinTags[t] {
			return t
		}
	}
	return ""
}

func enrichMeta(s EnrichStats) map[string]interface{} {
	return map[string]interface{}{
		"considered":   s.Considered,
		"screened_out": s.ScreenedOut,
		"enriched":     s.Enriched,
		"fallbacks":    s.Fallbacks,
		"skipped":      s.Skipped,
	}
}

// ResetEnrichment returns an ENRICHED article to FETCHED so it is screened and
// enriched again. The enrichment row is removed in the same transaction.
func (p *Pipeline) ResetEnrichment(ctx context.Context, articleID int64) error {
	id := articleID
	r := p.begin(ctx, JobReset, "", &id)

	a, err := p.Store.GetArticle(ctx, articleID)
	if err == nil {
		err = checkTransition(a.Status, storage.StatusFetched)
	}
	if err == nil {
		err = p.Store.ResetEnrichment(ctx, articleID)
	}
	if err != nil {
		r.fail(ctx, err, nil)
		return fmt.Errorf("reset article %d: %w", articleID, err)
	}

	r.complete(ctx, map[string]interface{}{"previous_status": string(a.Status)})
	p.log().Info("enrichment reset", "article_id", articleID)
	return nil
}
