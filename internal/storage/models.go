package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrStatusConflict means the row was not in the expected status when the
	// update ran, so nothing changed.
	ErrStatusConflict = errors.New("storage: article status changed concurrently")
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusFetched  Status = "FETCHED"
	StatusEnriched Status = "ENRICHED"
	StatusFailed   Status = "FAILED"
)

type AuditStatus string

const (
	AuditStarted   AuditStatus = "STARTED"
	AuditCompleted AuditStatus = "COMPLETED"
	AuditFailed    AuditStatus = "FAILED"
)

type PostingStatus string

const (
	PostingPosted PostingStatus = "POSTED"
	PostingFailed PostingStatus = "FAILED"
)

type Source struct {
	ID       int64
	Name     string
	Type     string
	URL      string
	Category string
	Enabled  bool
}

type Article struct {
	ID              int64
	SourceID        int64
	SourceName      string
	URL             string
	NormalizedURL   string
	ContentHash     string
	Title           string
	Text            string
	HTML            string
	Byline          string
	PublishedAt     *time.Time
	ImpactScore     *float64
	PrefilterPassed *bool
	Status          Status
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewArticle is what ingestion knows about an article before it is fetched.
type NewArticle struct {
	SourceID      int64
	URL           string
	NormalizedURL string
	ContentHash   string
	Title         string
	// Text is the feed-provided content, kept until extraction replaces it.
	Text        string
	PublishedAt *time.Time
}

// FetchedContent is the extraction result stored on PENDING -> FETCHED.
type FetchedContent struct {
	Text   string
	HTML   string
	Byline string
}

type Enrichment struct {
	ArticleID         int64
	Title             string
	Summary           string
	Tags              []string
	Sentiment         string
	MarketImpact      string
	Cautions          []string
	Quotes            []string
	Provider          string
	Model             string
	IsFallback        bool
	FallbackReason    string
	ExternalSentiment map[string]float64
	AggregatedScore   *float64
	Confidence        *float64
	CreatedAt         time.Time
}

// EnrichedArticle joins an article with its enrichment.
type EnrichedArticle struct {
	Article
	Enrichment Enrichment
}

type JobAudit struct {
	RunID     string
	JobType   string
	ArticleID *int64
	Status    AuditStatus
	Error     string
	Metadata  map[string]interface{}
	SlotKey   string
	CreatedAt time.Time
}

type Posting struct {
	ArticleID int64
	Channel   string
	Status    PostingStatus
	MessageID string
	Error     string
}

type SignalSnapshot struct {
	ID         int64
	Kind       string
	CapturedAt time.Time
	Raw        []byte
	Items      []SignalItem
}

type SignalItem struct {
	Symbol  string
	Score   float64
	Payload []byte
}

// ArticleFilter narrows ListArticles.
type ArticleFilter struct {
	Status Status
	Limit  int
}

// ArticleView is the read-model row behind the articles API.
type ArticleView struct {
	ID              int64      `json:"id"`
	Source          string     `json:"source"`
	Title           string     `json:"title"`
	URL             string     `json:"url"`
	Status          Status     `json:"status"`
	State           string     `json:"state"`
	ImpactScore     *float64   `json:"impact_score,omitempty"`
	PrefilterPassed *bool      `json:"prefilter_passed,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Sentiment       string     `json:"sentiment,omitempty"`
	MarketImpact    string     `json:"market_impact,omitempty"`
	IsFallback      bool       `json:"is_fallback"`
	LastError       string     `json:"last_error,omitempty"`
}

// Read-model states. They separate the cases a bare status column conflates.
const (
	StatePending     = "pending"
	StateAwaiting    = "awaiting_enrichment"
	StateScreenedOut = "screened_out"
	StateEnriched    = "enriched"
	StateFallback    = "enrichment_fallback"
	StateFailed      = "failed"
)

// StateOf classifies a row for readers.
func StateOf(status Status, prefilter *bool, fallback bool) string {
	switch status {
	case StatusPending:
		return StatePending
	case StatusFailed:
		return StateFailed
	case StatusEnriched:
		if fallback {
			return StateFallback
		}
		return StateEnriched
	default:
		if prefilter != nil && !*prefilter {
			return StateScreenedOut
		}
		return StateAwaiting
	}
}
