package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/delivery"
	"github.com/duiduidodge/noon-feed-sub001/internal/enrich"
	"github.com/duiduidodge/noon-feed-sub001/internal/impact"
	"github.com/duiduidodge/noon-feed-sub001/internal/llm"
	"github.com/duiduidodge/noon-feed-sub001/internal/metrics"
	"github.com/duiduidodge/noon-feed-sub001/internal/rss"
	"github.com/duiduidodge/noon-feed-sub001/internal/scraper"
	"github.com/duiduidodge/noon-feed-sub001/internal/sentiment"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

type stubFeeds map[string][]rss.Item

func (f stubFeeds) Fetch(_ context.Context, feedURL string, _ *time.Time) ([]rss.Item, error) {
	items, ok := f[feedURL]
	if !ok {
		return nil, fmt.Errorf("fetch feed %s: status 503", feedURL)
	}
	return items, nil
}

type stubPages func(url string) (*scraper.ArticleContent, error)

func (f stubPages) Fetch(_ context.Context, url string) (*scraper.ArticleContent, error) { return f(url) }

type stubProvider struct {
	reply func(prompt string) (string, error)
	calls atomic.Int32
}

func (s *stubProvider) Name() string         { return "stub" }
func (s *stubProvider) DefaultModel() string { return "stub-1" }

func (s *stubProvider) Complete(_ context.Context, prompt string, _ llm.Options) (string, error) {
	s.calls.Add(1)
	return s.reply(prompt)
}

func unreachable(t *testing.T) *stubProvider {
	return &stubProvider{reply: func(string) (string, error) {
		t.Error("LLM must not be called")
		return "", errors.New("unexpected call")
	}}
}

type stubCollector struct {
	mu      sync.Mutex
	symbols []string
	scores  []sentiment.Score
}

func (c *stubCollector) Collect(_ context.Context, symbol string) []sentiment.Score {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbols = append(c.symbols, symbol)
	return c.scores
}

type recordingChannel struct {
	name string
	fail bool
	sent []delivery.Message
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, msg delivery.Message) (string, error) {
	c.sent = append(c.sent, msg)
	if c.fail {
		return "", errors.New("webhook down")
	}
	return fmt.Sprintf("%s-%d", c.name, len(c.sent)), nil
}

func newTestPipeline(store *memStore) *Pipeline {
	p := New(store, DefaultOptions())
	p.Metrics = metrics.New()
	p.Sentiment = &stubCollector{}
	return p
}

func longText(topic string) string {
	return strings.Repeat(topic+" drew heavy attention from traders this week. ", 6)
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to storage.Status
		want     bool
	}{
		{storage.StatusPending, storage.StatusFetched, true},
		{storage.StatusPending, storage.StatusFailed, true},
		{storage.StatusFetched, storage.StatusEnriched, true},
		{storage.StatusFetched, storage.StatusFailed, true},
		{storage.StatusEnriched, storage.StatusFetched, true},
		{storage.StatusPending, storage.StatusEnriched, false},
		{storage.StatusEnriched, storage.StatusPending, false},
		{storage.StatusFailed, storage.StatusPending, false},
		{storage.StatusFailed, storage.StatusFetched, false},
		{storage.StatusFetched, storage.StatusFetched, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	if err := checkTransition(storage.StatusFailed, storage.StatusFetched); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestIngestKeepsOneArticleForTrackedURLVariants(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		storage.Source{Name: "CoinDesk", URL: "https://coindesk.test/rss"},
		storage.Source{Name: "Aggregator", URL: "https://agg.test/rss"},
	)
	p := newTestPipeline(store)
	p.Feeds = stubFeeds{
		"https://coindesk.test/rss": {{Title: "Spot Bitcoin ETFs log record inflows", Link: "https://news.test/btc-etf?utm_source=twitter&utm_medium=social"}},
		"https://agg.test/rss":      {{Title: "Record week for bitcoin funds as ETF demand surges", Link: "https://NEWS.test/btc-etf/?fbclid=abc"}},
	}

	stats, err := p.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.Inserted != 1 || stats.Duplicates != 1 {
		t.Fatalf("inserted=%d duplicates=%d, want 1 and 1", stats.Inserted, stats.Duplicates)
	}
	if len(store.articles) != 1 {
		t.Fatalf("expected exactly one article, got %d", len(store.articles))
	}
	for _, a := range store.articles {
		if a.NormalizedURL != "https://news.test/btc-etf" || a.Status != storage.StatusPending {
			t.Fatalf("unexpected article %+v", a)
		}
	}

	audits := store.auditsFor(JobIngest)
	if len(audits) != 4 {
		t.Fatalf("expected STARTED+COMPLETED per source, got %d rows", len(audits))
	}
	if p.Metrics.Count(metrics.ArticlesIngested) != 1 {
		t.Fatalf("ingested metric = %d", p.Metrics.Count(metrics.ArticlesIngested))
	}
}

func TestIngestSkipsItemsWithoutLink(t *testing.T) {
	t.Parallel()

	store := newMemStore(storage.Source{Name: "Decrypt", URL: "https://decrypt.test/rss"})
	p := newTestPipeline(store)
	p.Feeds = stubFeeds{
		"https://decrypt.test/rss": {
			{Title: "Bitcoin miners extend selling streak", Link: ""},
			{Title: "Arbitrum DAO approves new grants round", Link: "   "},
			{Title: "Coinbase lists a new layer-2 token", Link: "https://decrypt.test/listing"},
		},
	}

	stats, err := p.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.Inserted != 1 || stats.Noise != 2 || stats.Duplicates != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	for _, a := range store.articles {
		if a.NormalizedURL == "" {
			t.Fatalf("article stored without a URL: %+v", a)
		}
	}
}

func TestIngestSkipsNoiseAndBatchDuplicatesAndAuditsFailedSource(t *testing.T) {
	t.Parallel()

	store := newMemStore(
		storage.Source{Name: "Good", URL: "https://good.test/rss"},
		storage.Source{Name: "Down", URL: "https://down.test/rss"},
	)
	p := newTestPipeline(store)
	p.Feeds = stubFeeds{
		"https://good.test/rss": {
			{Title: "BTC $67,000", Link: "https://good.test/ticker"},
			{Title: "Solana validators approve fee market change", Link: "https://good.test/sol-1"},
			{Title: "Solana validators approve fee-market change!", Link: "https://good.test/sol-2"},
			{Title: "Ethereum core devs set Pectra date", Link: "https://good.test/eth"},
		},
	}

	stats, err := p.Ingest(context.Background())
	if err != nil {
		t.Fatalf("one healthy source must keep Ingest successful: %v", err)
	}
	if stats.Noise != 1 || stats.Duplicates != 1 || stats.Inserted != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	var failed int
	for _, a := range store.auditsFor(JobIngest) {
		if a.Status == storage.AuditFailed {
			failed++
			if !strings.Contains(a.Error, "503") || a.Metadata["source"] != "Down" {
				t.Fatalf("unexpected failed audit %+v", a)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("expected one FAILED audit, got %d", failed)
	}
}

func TestIngestWindowCatchesStoredDuplicate(t *testing.T) {
	t.Parallel()

	store := newMemStore(storage.Source{Name: "CoinDesk", URL: "https://coindesk.test/rss"})
	p := newTestPipeline(store)
	p.Feeds = stubFeeds{"https://coindesk.test/rss": {{Title: "Ripple wins partial ruling against SEC", Link: "https://coindesk.test/xrp"}}}
	if _, err := p.Ingest(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Same story, new URL, republished an hour later with a near-identical headline.
	p.Feeds = stubFeeds{"https://coindesk.test/rss": {{Title: "Ripple wins partial ruling against the SEC", Link: "https://coindesk.test/xrp-update"}}}
	stats, err := p.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Inserted != 0 || stats.Duplicates != 1 {
		t.Fatalf("expected the window to reject the repeat, got %+v", stats)
	}
}

func TestEmptyExtractionEndsEnrichedWithFallback(t *testing.T) {
	t.Parallel()

	store := newMemStore(storage.Source{Name: "The Block", URL: "https://block.test/rss"})
	p := newTestPipeline(store)
	p.Feeds = stubFeeds{"https://block.test/rss": {{Title: "Ethereum developers schedule the Pectra upgrade", Link: "https://block.test/pectra"}}}
	p.Pages = stubPages(func(url string) (*scraper.ArticleContent, error) {
		return &scraper.ArticleContent{URL: url, HTML: "<html><body><div id=app></div></body></html>", Method: scraper.MethodStripTags}, nil
	})
	p.Impact = impact.NewFilter(unreachable(t), 0.7, 3)
	p.Enricher = enrich.NewEngine(unreachable(t), "")

	ctx := context.Background()
	if _, err := p.Ingest(ctx); err != nil {
		t.Fatal(err)
	}
	if stats, err := p.FetchPending(ctx, 10); err != nil || stats.Fetched != 1 {
		t.Fatalf("fetch: %+v %v", stats, err)
	}
	stats, err := p.EnrichFetched(ctx, 10)
	if err != nil {
		t.Fatalf("EnrichFetched: %v", err)
	}
	if stats.Enriched != 1 || stats.Fallbacks != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	a, _ := store.GetArticle(ctx, 1)
	if a.Status != storage.StatusEnriched {
		t.Fatalf("status = %s, want ENRICHED", a.Status)
	}
	e := store.enrichments[1]
	if !e.IsFallback || len(e.Tags) == 0 || e.Summary == "" {
		t.Fatalf("expected a tagged minimal fallback, got %+v", e)
	}
	if e.Sentiment != string(sentiment.Neutral) {
		t.Fatalf("sentiment = %q", e.Sentiment)
	}
}

func TestFetchPendingMarksFailures(t *testing.T) {
	t.Parallel()

	store := newMemStore(storage.Source{Name: "X", URL: "https://x.test/rss"})
	p := newTestPipeline(store)
	p.Feeds = stubFeeds{"https://x.test/rss": {
		{Title: "Binance lists new stablecoin pairs", Link: "https://x.test/ok", Content: "<p>Feed summary</p>"},
		{Title: "Kraken halts withdrawals briefly", Link: "https://x.test/gone"},
	}}
	p.Pages = stubPages(func(url string) (*scraper.ArticleContent, error) {
		if strings.HasSuffix(url, "/gone") {
			return nil, errors.New("failed after 3 attempts: HTTP error: 502")
		}
		return &scraper.ArticleContent{URL: url, Text: "   "}, nil
	})

	ctx := context.Background()
	if _, err := p.Ingest(ctx); err != nil {
		t.Fatal(err)
	}
	stats, err := p.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if stats.Fetched != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	ok, _ := store.GetArticle(ctx, 1)
	if ok.Status != storage.StatusFetched || ok.Text != "Feed summary" {
		t.Fatalf("expected feed text fallback, got %+v", ok)
	}
	gone, _ := store.GetArticle(ctx, 2)
	if gone.Status != storage.StatusFailed || !strings.Contains(gone.LastError, "502") {
		t.Fatalf("expected FAILED with error, got %+v", gone)
	}

	audits := store.auditsFor(JobFetch)
	last := audits[len(audits)-1]
	if last.Status != storage.AuditCompleted || last.Metadata["failed"] != 1 {
		t.Fatalf("unexpected final audit %+v", last)
	}
	var perArticle int
	for _, a := range audits {
		if a.ArticleID != nil && *a.ArticleID == 2 && a.Status == storage.AuditFailed {
			perArticle++
		}
	}
	if perArticle != 1 {
		t.Fatalf("expected a FAILED audit row for article 2, got %d", perArticle)
	}
}

const validEnrichment = "```json\n" + `{"title":"SEC approves spot bitcoin ETFs","summary":"The SEC approved eleven spot bitcoin ETFs, opening the asset to brokerage accounts.","tags":["btc","ETF"],"sentiment":"bullish","market_impact":"high"}` + "\n```"

func seedFetched(t *testing.T, store *memStore, titles ...string) {
	t.Helper()
	ctx := context.Background()
	for i, title := range titles {
		id, _, err := store.InsertArticle(ctx, storage.NewArticle{
			SourceID: 1, URL: fmt.Sprintf("https://x.test/%d", i), NormalizedURL: fmt.Sprintf("https://x.test/%d", i),
			ContentHash: fmt.Sprintf("h%d", i), Title: title,
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := store.MarkFetched(ctx, id, storage.FetchedContent{Text: longText(title)}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestEnrichFetchedScreensAndEnriches(t *testing.T) {
	t.Parallel()

	store := newMemStore(storage.Source{Name: "CoinDesk", URL: "https://coindesk.test/rss"})
	seedFetched(t, store, "SEC approves spot bitcoin ETFs", "Memecoin of the week")

	p := newTestPipeline(store)
	scorer := &stubProvider{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "ETF") {
			return `{"score": 0.92, "reasoning": "regulatory milestone"}`, nil
		}
		return `{"score": 0.2, "reasoning": "noise"}`, nil
	}}
	writer := &stubProvider{reply: func(string) (string, error) { return validEnrichment, nil }}
	collector := &stubCollector{scores: []sentiment.Score{{Source: "fear_greed", Value: 1}}}
	p.Impact = impact.NewFilter(scorer, 0.7, 3)
	p.Enricher = enrich.NewEngine(writer, "")
	p.Sentiment = collector

	ctx := context.Background()
	stats, err := p.EnrichFetched(ctx, 10)
	if err != nil {
		t.Fatalf("EnrichFetched: %v", err)
	}
	if stats.Enriched != 1 || stats.ScreenedOut != 1 || stats.Fallbacks != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if writer.calls.Load() != 1 {
		t.Fatalf("enrichment calls = %d, want 1", writer.calls.Load())
	}

	passed, _ := store.GetArticle(ctx, 1)
	if passed.Status != storage.StatusEnriched || passed.ImpactScore == nil || *passed.ImpactScore != 0.92 {
		t.Fatalf("unexpected passed article %+v", passed)
	}
	screened, _ := store.GetArticle(ctx, 2)
	if screened.Status != storage.StatusFetched || screened.PrefilterPassed == nil || *screened.PrefilterPassed {
		t.Fatalf("unexpected screened article %+v", screened)
	}

	e := store.enrichments[1]
	if e.Tags[0] != "BTC" || e.Sentiment != "bullish" || e.Provider != "stub" || e.Model != "stub-1" {
		t.Fatalf("unexpected enrichment %+v", e)
	}
	if e.ExternalSentiment["fear_greed"] != 1 {
		t.Fatalf("external sentiment = %v", e.ExternalSentiment)
	}
	if e.Confidence == nil || math.Abs(*e.Confidence-0.6) > 1e-9 || *e.AggregatedScore != 1 {
		t.Fatalf("aggregate score=%v confidence=%v", e.AggregatedScore, e.Confidence)
	}
	if len(collector.symbols) != 1 || collector.symbols[0] != "BTC" {
		t.Fatalf("sentiment symbol = %v", collector.symbols)
	}

	// Screened-out articles are not picked up again.
	again, err := p.EnrichFetched(ctx, 10)
	if err != nil || again.Considered != 0 {
		t.Fatalf("second run: %+v %v", again, err)
	}
}

func TestEnrichFetchedAuthErrorAborts(t *testing.T) {
	t.Parallel()

	store := newMemStore(storage.Source{Name: "CoinDesk", URL: "https://coindesk.test/rss"})
	seedFetched(t, store, "SEC approves spot bitcoin ETFs")

	p := newTestPipeline(store)
	authErr := &llm.Error{Provider: "openai", Kind: llm.KindAuth, StatusCode: 401, Err: errors.New("invalid api key")}
	p.Impact = impact.NewFilter(&stubProvider{reply: func(string) (string, error) { return "", authErr }}, 0.7, 3)
	p.Enricher = enrich.NewEngine(unreachable(t), "")

	_, err := p.EnrichFetched(context.Background(), 10)
	if !llm.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}

	a, _ := store.GetArticle(context.Background(), 1)
	if a.Status != storage.StatusFetched || a.PrefilterPassed != nil || a.ImpactScore != nil {
		t.Fatalf("article must be untouched, got %+v", a)
	}
	audits := store.auditsFor(JobEnrich)
	if last := audits[len(audits)-1]; last.Status != storage.AuditFailed || !strings.Contains(last.Error, "invalid api key") {
		t.Fatalf("unexpected final audit %+v", last)
	}
	if p.Metrics.Healthy() {
		t.Fatal("failed stage must mark metrics unhealthy")
	}
}

func TestResetEnrichment(t *testing.T) {
	t.Parallel()

	store := newMemStore(storage.Source{Name: "CoinDesk", URL: "https://coindesk.test/rss"})
	seedFetched(t, store, "SEC approves spot bitcoin ETFs")
	p := newTestPipeline(store)
	p.Impact = impact.NewFilter(&stubProvider{reply: func(string) (string, error) { return `{"score":0.9}`, nil }}, 0.7, 1)
	p.Enricher = enrich.NewEngine(&stubProvider{reply: func(string) (string, error) { return validEnrichment, nil }}, "")

	ctx := context.Background()
	if _, err := p.EnrichFetched(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if err := p.ResetEnrichment(ctx, 1); err != nil {
		t.Fatalf("ResetEnrichment: %v", err)
	}
	a, _ := store.GetArticle(ctx, 1)
	if a.Status != storage.StatusFetched || a.PrefilterPassed != nil {
		t.Fatalf("after reset: %+v", a)
	}
	if _, ok := store.enrichments[1]; ok {
		t.Fatal("enrichment row must be deleted")
	}

	if err := p.ResetEnrichment(ctx, 1); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resetting a FETCHED article: expected ErrInvalidTransition, got %v", err)
	}
	if err := p.ResetEnrichment(ctx, 99); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func enrichedStore(t *testing.T) *memStore {
	t.Helper()
	store := newMemStore(storage.Source{Name: "CoinDesk", URL: "https://coindesk.test/rss"})
	seedFetched(t, store, "SEC approves spot bitcoin ETFs", "Exchange lists a new token")
	ctx := context.Background()
	if err := store.SaveEnrichment(ctx, storage.Enrichment{ArticleID: 1, Title: "SEC approves ETFs", Summary: "Approved.", Tags: []string{"ETF"}, Sentiment: "bullish", MarketImpact: "high"}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveEnrichment(ctx, storage.Enrichment{ArticleID: 2, Title: "New listing", Summary: "Listed.", Tags: []string{"Exchanges"}, Sentiment: "neutral", MarketImpact: "low"}); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestDeliverRecordsPartialFailure(t *testing.T) {
	t.Parallel()

	store := enrichedStore(t)
	tg := &recordingChannel{name: "telegram"}
	dc := &recordingChannel{name: "discord", fail: true}
	p := newTestPipeline(store)
	p.Poster = delivery.NewPoster(nil, tg, dc)

	ctx := context.Background()
	stats, err := p.Deliver(ctx, 10)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if stats.Articles != 1 || stats.Posted != 1 {
		t.Fatalf("only the high-impact article is delivered: %+v", stats)
	}
	if store.postings[1]["telegram"].Status != storage.PostingPosted || store.postings[1]["telegram"].MessageID != "telegram-1" {
		t.Fatalf("telegram posting = %+v", store.postings[1]["telegram"])
	}
	if store.postings[1]["discord"].Status != storage.PostingFailed || store.postings[1]["discord"].Error == "" {
		t.Fatalf("discord posting = %+v", store.postings[1]["discord"])
	}

	// The next run only retries the channel that failed.
	dc.fail = false
	if _, err := p.Deliver(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if len(tg.sent) != 1 || len(dc.sent) != 2 {
		t.Fatalf("telegram sends=%d discord sends=%d", len(tg.sent), len(dc.sent))
	}
	if stats, _ := p.Deliver(ctx, 10); stats.Articles != 0 {
		t.Fatalf("fully posted article must not be delivered again: %+v", stats)
	}
}

func TestRunDigestSlotIsIdempotent(t *testing.T) {
	t.Parallel()

	store := enrichedStore(t)
	tg := &recordingChannel{name: "telegram"}
	p := newTestPipeline(store)
	p.Poster = delivery.NewPoster(nil, tg)

	ctx := context.Background()
	slot := time.Now().Truncate(time.Hour)

	ran, err := p.RunDigestSlot(ctx, slot)
	if err != nil || !ran {
		t.Fatalf("first run: ran=%v err=%v", ran, err)
	}
	if len(tg.sent) != 1 || len(tg.sent[0].Items) != 2 {
		t.Fatalf("expected one digest with two items, got %+v", tg.sent)
	}

	ran, err = p.RunDigestSlot(ctx, slot.Add(10*time.Minute))
	if err != nil || ran {
		t.Fatalf("same slot must be skipped: ran=%v err=%v", ran, err)
	}
	if len(tg.sent) != 1 {
		t.Fatalf("digest posted twice")
	}

	audits := store.auditsFor(JobDigest)
	if audits[len(audits)-1].SlotKey != SlotKey(slot) {
		t.Fatalf("slot key = %q", audits[len(audits)-1].SlotKey)
	}
}

func TestRunDigestSlotFailureAllowsRetry(t *testing.T) {
	t.Parallel()

	store := enrichedStore(t)
	ch := &recordingChannel{name: "telegram", fail: true}
	p := newTestPipeline(store)
	p.Poster = delivery.NewPoster(nil, ch)

	ctx := context.Background()
	slot := time.Now().Truncate(time.Hour)
	if _, err := p.RunDigestSlot(ctx, slot); !errors.Is(err, delivery.ErrNoChannelDelivered) {
		t.Fatalf("expected ErrNoChannelDelivered, got %v", err)
	}

	ch.fail = false
	ran, err := p.RunDigestSlot(ctx, slot)
	if err != nil || !ran {
		t.Fatalf("failed slot must be retried: ran=%v err=%v", ran, err)
	}
}
