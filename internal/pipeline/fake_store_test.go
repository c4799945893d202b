package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/normalizer"
	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

// memStore mirrors the uniqueness and status guards of the Postgres store.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	sources     []storage.Source
	articles    map[int64]*storage.Article
	byURL       map[string]int64
	byHash      map[string]int64
	enrichments map[int64]storage.Enrichment
	audits      []storage.JobAudit
	postings    map[int64]map[string]storage.Posting
}

func newMemStore(sources ...storage.Source) *memStore {
	for i := range sources {
		if sources[i].ID == 0 {
			sources[i].ID = int64(i + 1)
		}
		sources[i].Enabled = true
		if sources[i].Type == "" {
			sources[i].Type = "feed"
		}
	}
	return &memStore{
		sources:     sources,
		articles:    make(map[int64]*storage.Article),
		byURL:       make(map[string]int64),
		byHash:      make(map[string]int64),
		enrichments: make(map[int64]storage.Enrichment),
		postings:    make(map[int64]map[string]storage.Posting),
	}
}

func (m *memStore) EnabledSources(_ context.Context, sourceType string) ([]storage.Source, error) {
	var out []storage.Source
	for _, s := range m.sources {
		if s.Enabled && s.Type == sourceType {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) RecentCandidates(_ context.Context, sourceID int64, limit int) ([]normalizer.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, a := range m.articles {
		if a.SourceID == sourceID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	var out []normalizer.Candidate
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		out = append(out, normalizer.Candidate{URL: m.articles[id].URL, Title: m.articles[id].Title})
	}
	return out, nil
}

func (m *memStore) InsertArticle(_ context.Context, a storage.NewArticle) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byURL[a.NormalizedURL]; ok {
		return 0, false, nil
	}
	if _, ok := m.byHash[a.ContentHash]; ok {
		return 0, false, nil
	}
	m.nextID++
	id := m.nextID
	name := ""
	for _, s := range m.sources {
		if s.ID == a.SourceID {
			name = s.Name
		}
	}
	m.articles[id] = &storage.Article{
		ID: id, SourceID: a.SourceID, SourceName: name, URL: a.URL, NormalizedURL: a.NormalizedURL,
		ContentHash: a.ContentHash, Title: a.Title, Text: a.Text, PublishedAt: a.PublishedAt,
		Status: storage.StatusPending, CreatedAt: time.Now(),
	}
	m.byURL[a.NormalizedURL] = id
	m.byHash[a.ContentHash] = id
	return id, true, nil
}

func (m *memStore) GetArticle(_ context.Context, id int64) (storage.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return storage.Article{}, storage.ErrNotFound
	}
	return *a, nil
}

func (m *memStore) list(match func(*storage.Article) bool, limit int) []storage.Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, a := range m.articles {
		if match(a) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []storage.Article
	for _, id := range ids {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, *m.articles[id])
	}
	return out
}

func (m *memStore) PendingArticles(_ context.Context, limit int) ([]storage.Article, error) {
	return m.list(func(a *storage.Article) bool { return a.Status == storage.StatusPending }, limit), nil
}

func (m *memStore) ArticlesForEnrichment(_ context.Context, limit int) ([]storage.Article, error) {
	return m.list(func(a *storage.Article) bool {
		return a.Status == storage.StatusFetched && (a.PrefilterPassed == nil || *a.PrefilterPassed)
	}, limit), nil
}

func (m *memStore) MarkFetched(_ context.Context, id int64, c storage.FetchedContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok || a.Status != storage.StatusPending {
		return storage.ErrStatusConflict
	}
	a.Text, a.HTML, a.Byline, a.Status = c.Text, c.HTML, c.Byline, storage.StatusFetched
	return nil
}

func (m *memStore) Transition(_ context.Context, id int64, from, to storage.Status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok || a.Status != from {
		return storage.ErrStatusConflict
	}
	a.Status, a.LastError = to, lastError
	return nil
}

func (m *memStore) SaveImpact(_ context.Context, id int64, score float64, passed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok || a.Status != storage.StatusFetched {
		return storage.ErrStatusConflict
	}
	a.ImpactScore, a.PrefilterPassed = &score, &passed
	return nil
}

func (m *memStore) SaveEnrichment(_ context.Context, e storage.Enrichment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[e.ArticleID]
	if !ok || a.Status != storage.StatusFetched {
		return storage.ErrStatusConflict
	}
	e.CreatedAt = time.Now()
	m.enrichments[e.ArticleID] = e
	a.Status = storage.StatusEnriched
	return nil
}

func (m *memStore) ResetEnrichment(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok || a.Status != storage.StatusEnriched {
		return storage.ErrStatusConflict
	}
	a.Status, a.ImpactScore, a.PrefilterPassed = storage.StatusFetched, nil, nil
	delete(m.enrichments, id)
	return nil
}

func (m *memStore) AppendAudit(_ context.Context, a storage.JobAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CreatedAt = time.Now()
	m.audits = append(m.audits, a)
	return nil
}

func (m *memStore) HasCompletedSlot(_ context.Context, jobType, slotKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.audits {
		if a.JobType == jobType && a.SlotKey == slotKey && a.Status == storage.AuditCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) enriched(match func(storage.Article, storage.Enrichment) bool, limit int) []storage.EnrichedArticle {
	var out []storage.EnrichedArticle
	for _, a := range m.list(func(a *storage.Article) bool { return a.Status == storage.StatusEnriched }, 0) {
		m.mu.Lock()
		e := m.enrichments[a.ID]
		m.mu.Unlock()
		if match(a, e) {
			out = append(out, storage.EnrichedArticle{Article: a, Enrichment: e})
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (m *memStore) Deliverable(_ context.Context, impacts []string, channels []string, limit int) ([]storage.EnrichedArticle, error) {
	return m.enriched(func(a storage.Article, e storage.Enrichment) bool {
		if !contains(impacts, e.MarketImpact) {
			return false
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		posted := 0
		for _, ch := range channels {
			if p, ok := m.postings[a.ID][ch]; ok && p.Status == storage.PostingPosted {
				posted++
			}
		}
		return posted < len(channels)
	}, limit), nil
}

func (m *memStore) PostedChannels(_ context.Context, id int64) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for ch, p := range m.postings[id] {
		if p.Status == storage.PostingPosted {
			out[ch] = true
		}
	}
	return out, nil
}

func (m *memStore) EnrichedSince(_ context.Context, since time.Time, limit int) ([]storage.EnrichedArticle, error) {
	return m.enriched(func(_ storage.Article, e storage.Enrichment) bool { return !e.CreatedAt.Before(since) }, limit), nil
}

func (m *memStore) UpsertPosting(_ context.Context, p storage.Posting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postings[p.ArticleID] == nil {
		m.postings[p.ArticleID] = make(map[string]storage.Posting)
	}
	m.postings[p.ArticleID][p.Channel] = p
	return nil
}

func (m *memStore) auditsFor(job string) []storage.JobAudit {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.JobAudit
	for _, a := range m.audits {
		if a.JobType == job {
			out = append(out, a)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
