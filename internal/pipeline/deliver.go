package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/delivery"
	"github.com/duiduidodge/noon-feed-sub001/internal/metrics"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

type DeliverStats struct {
	Articles int
	Posted   int
	Failed   int
}

// Deliver posts high-impact enriched articles to every channel that does not
// have them yet. One delivered channel is enough for an article to count as
// posted; the failed channels are retried on the next run.
func (p *Pipeline) Deliver(ctx context.Context, limit int) (DeliverStats, error) {
	var stats DeliverStats
	if p.Poster == nil || len(p.Poster.Names()) == 0 {
		return stats, nil
	}

	r := p.begin(ctx, JobDeliver, "", nil)
	items, err := p.Store.Deliverable(ctx, p.Options.DeliverImpacts, p.Poster.Names(), limit)
	if err != nil {
		err = fmt.Errorf("load deliverable articles: %w", err)
		r.fail(ctx, err, nil)
		return stats, err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			r.fail(ctx, err, deliverMeta(stats))
			return stats, err
		}
		stats.Articles++

		done, err := p.Store.PostedChannels(ctx, item.ID)
		if err != nil {
			r.fail(ctx, err, deliverMeta(stats))
			return stats, fmt.Errorf("load postings for article %d: %w", item.ID, err)
		}

		report := p.Poster.PostExcept(ctx, messageFor(item), done)
		if err := p.recordPostings(ctx, item.ID, report); err != nil {
			r.fail(ctx, err, deliverMeta(stats))
			return stats, err
		}
		if report.Delivered() {
			stats.Posted++
		} else {
			stats.Failed++
			r.articleFailed(ctx, item.ID, report.Err())
		}
	}

	p.Metrics.Add(metrics.MessagesPosted, stats.Posted)
	p.Metrics.Add(metrics.DeliveryFailures, stats.Failed)
	r.complete(ctx, deliverMeta(stats))
	return stats, nil
}

func (p *Pipeline) recordPostings(ctx context.Context, articleID int64, report delivery.Report) error {
	for _, res := range report.Results {
		if res.Skipped {
			continue
		}
		posting := storage.Posting{ArticleID: articleID, Channel: res.Channel, Status: storage.PostingPosted, MessageID: res.MessageID}
		if res.Err != nil {
			posting.Status = storage.PostingFailed
			posting.Error = res.Err.Error()
		}
		if err := p.Store.UpsertPosting(ctx, posting); err != nil {
			return fmt.Errorf("record posting %s for article %d: %w", res.Channel, articleID, err)
		}
	}
	return nil
}

func messageFor(a storage.EnrichedArticle) delivery.Message {
	title := a.Enrichment.Title
	if title == "" {
		title = a.Title
	}
	return delivery.Message{
		Title:     title,
		Summary:   a.Enrichment.Summary,
		Tags:      a.Enrichment.Tags,
		Sentiment: a.Enrichment.Sentiment,
		Impact:    a.Enrichment.MarketImpact,
		Source:    a.SourceName,
		URL:       a.URL,
	}
}

func deliverMeta(s DeliverStats) map[string]interface{} {
	return map[string]interface{}{"articles": s.Articles, "posted": s.Posted, "failed": s.Failed}
}

// SlotKey identifies a digest slot by its UTC hour.
func SlotKey(slot time.Time) string {
	return JobDigest + ":" + slot.UTC().Format("2006-01-02T15")
}

// RunDigestSlot posts one digest of recently enriched articles for the slot.
// A slot that already has a COMPLETED audit row is skipped, so rerunning the
// scheduler for the same hour posts nothing. ran is false when skipped.
func (p *Pipeline) RunDigestSlot(ctx context.Context, slot time.Time) (ran bool, err error) {
	key := SlotKey(slot)
	done, err := p.Store.HasCompletedSlot(ctx, JobDigest, key)
	if err != nil {
		return false, fmt.Errorf("check digest slot: %w", err)
	}
	if done {
		p.log().Info("digest slot already completed", "slot", key)
		return false, nil
	}

	r := p.begin(ctx, JobDigest, key, nil)
	since := slot.Add(-p.Options.DigestWindow)
	items, err := p.Store.EnrichedSince(ctx, since, p.Options.DigestSize)
	if err != nil {
		err = fmt.Errorf("load digest articles: %w", err)
		r.fail(ctx, err, nil)
		return true, err
	}

	meta := map[string]interface{}{"articles": len(items)}
	if len(items) == 0 || p.Poster == nil {
		r.complete(ctx, meta)
		return true, nil
	}

	msg := delivery.Message{Title: "Crypto digest " + slot.UTC().Format("Jan 2, 15:04 UTC")}
	for _, it := range items {
		msg.Items = append(msg.Items, messageFor(it))
	}

	report := p.Poster.PostExcept(ctx, msg, nil)
	if err := report.Err(); err != nil {
		r.fail(ctx, err, meta)
		return true, err
	}
	var channels []string
	for _, res := range report.Results {
		if res.Err == nil {
			channels = append(channels, res.Channel)
		}
	}
	meta["channels"] = channels
	r.complete(ctx, meta)
	p.Metrics.Add(metrics.MessagesPosted, 1)
	return true, nil
}
