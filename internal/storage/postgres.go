package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
	"github.com/duiduidodge/noon-feed-sub001/internal/normalizer"
)

// Store persists the pipeline's state in PostgreSQL
type Store struct {
	DB *sql.DB
}

// Open connects to PostgreSQL and verifies the connection
func Open(ctx context.Context, connectionString string) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("PostgreSQL connected")
	return &Store{DB: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// SyncSources upserts configured sources keyed by (name, type) and returns
// them with their ids.
func (s *Store) SyncSources(ctx context.Context, sources []Source) ([]Source, error) {
	const query = `
		INSERT INTO sources (name, type, url, category, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, type) DO UPDATE SET
			url = EXCLUDED.url,
			category = EXCLUDED.category,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
		RETURNING id`

	out := make([]Source, 0, len(sources))
	for _, src := range sources {
		if err := s.DB.QueryRowContext(ctx, query, src.Name, src.Type, src.URL, src.Category, src.Enabled).Scan(&src.ID); err != nil {
			return nil, fmt.Errorf("failed to sync source %q: %w", src.Name, err)
		}
		out = append(out, src)
	}
	return out, nil
}

// EnabledSources returns enabled sources of the given type.
func (s *Store) EnabledSources(ctx context.Context, sourceType string) ([]Source, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, type, url, COALESCE(category, ''), enabled
		FROM sources
		WHERE enabled = TRUE AND type = $1
		ORDER BY id`, sourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.Name, &src.Type, &src.URL, &src.Category, &src.Enabled); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// RecentCandidates returns the newest articles of a source for duplicate checks.
func (s *Store) RecentCandidates(ctx context.Context, sourceID int64, limit int) ([]normalizer.Candidate, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT url, title
		FROM articles
		WHERE source_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent articles: %w", err)
	}
	defer rows.Close()

	var out []normalizer.Candidate
	for rows.Next() {
		var c normalizer.Candidate
		if err := rows.Scan(&c.URL, &c.Title); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertArticle stores a PENDING article. inserted is false when the normalized
// URL or content hash already exists.
func (s *Store) InsertArticle(ctx context.Context, a NewArticle) (id int64, inserted bool, err error) {
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO articles (source_id, url, normalized_url, content_hash, title, extracted_text, published_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING')
		ON CONFLICT DO NOTHING
		RETURNING id`,
		a.SourceID, a.URL, a.NormalizedURL, a.ContentHash, a.Title, nullString(a.Text), a.PublishedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert article: %w", err)
	}
	return id, true, nil
}

const articleColumns = `
	a.id, COALESCE(a.source_id, 0), COALESCE(src.name, ''), a.url, a.normalized_url, a.content_hash,
	a.title, COALESCE(a.extracted_text, ''), COALESCE(a.raw_html, ''), COALESCE(a.byline, ''),
	a.published_at, a.impact_score, a.prefilter_passed, a.status, COALESCE(a.last_error, ''),
	a.created_at, a.updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row scanner, extra ...interface{}) (Article, error) {
	var a Article
	var published sql.NullTime
	var impact sql.NullFloat64
	var prefilter sql.NullBool
	dest := []interface{}{
		&a.ID, &a.SourceID, &a.SourceName, &a.URL, &a.NormalizedURL, &a.ContentHash,
		&a.Title, &a.Text, &a.HTML, &a.Byline,
		&published, &impact, &prefilter, &a.Status, &a.LastError,
		&a.CreatedAt, &a.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Article{}, err
	}
	if published.Valid {
		t := published.Time
		a.PublishedAt = &t
	}
	if impact.Valid {
		v := impact.Float64
		a.ImpactScore = &v
	}
	if prefilter.Valid {
		v := prefilter.Bool
		a.PrefilterPassed = &v
	}
	return a, nil
}

func (s *Store) queryArticles(ctx context.Context, query string, args ...interface{}) ([]Article, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetArticle loads one article by id.
func (s *Store) GetArticle(ctx context.Context, id int64) (Article, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+articleColumns+`
		FROM articles a LEFT JOIN sources src ON src.id = a.source_id
		WHERE a.id = $1`, id)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Article{}, ErrNotFound
	}
	return a, err
}

// PendingArticles returns articles waiting for body extraction, oldest first.
func (s *Store) PendingArticles(ctx context.Context, limit int) ([]Article, error) {
	out, err := s.queryArticles(ctx, `SELECT `+articleColumns+`
		FROM articles a LEFT JOIN sources src ON src.id = a.source_id
		WHERE a.status = 'PENDING'
		ORDER BY a.created_at, a.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending articles: %w", err)
	}
	return out, nil
}

// ArticlesForEnrichment returns FETCHED articles that were not screened out.
func (s *Store) ArticlesForEnrichment(ctx context.Context, limit int) ([]Article, error) {
	out, err := s.queryArticles(ctx, `SELECT `+articleColumns+`
		FROM articles a LEFT JOIN sources src ON src.id = a.source_id
		WHERE a.status = 'FETCHED' AND (a.prefilter_passed IS NULL OR a.prefilter_passed = TRUE)
		ORDER BY a.published_at DESC NULLS LAST, a.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load fetched articles: %w", err)
	}
	return out, nil
}

// MarkFetched stores extraction output and moves PENDING -> FETCHED.
func (s *Store) MarkFetched(ctx context.Context, id int64, c FetchedContent) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE articles
		SET status = 'FETCHED', extracted_text = $2, raw_html = $3, byline = $4, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`,
		id, c.Text, nullString(c.HTML), nullString(c.Byline))
	if err != nil {
		return fmt.Errorf("failed to mark article %d fetched: %w", id, err)
	}
	return expectOne(res)
}

// Transition moves an article between statuses, recording lastError when set.
// The update only applies while the row is still in from.
func (s *Store) Transition(ctx context.Context, id int64, from, to Status, lastError string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE articles
		SET status = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), nullString(lastError))
	if err != nil {
		return fmt.Errorf("failed to move article %d %s -> %s: %w", id, from, to, err)
	}
	return expectOne(res)
}

// SaveImpact records the pre-screen result on a FETCHED article.
func (s *Store) SaveImpact(ctx context.Context, id int64, score float64, passed bool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE articles
		SET impact_score = $2, prefilter_passed = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'FETCHED'`,
		id, score, passed)
	if err != nil {
		return fmt.Errorf("failed to save impact for article %d: %w", id, err)
	}
	return expectOne(res)
}

// SaveEnrichment writes the enrichment and moves FETCHED -> ENRICHED in one
// transaction.
func (s *Store) SaveEnrichment(ctx context.Context, e Enrichment) error {
	external, err := marshalJSON(e.ExternalSentiment)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO enrichments (article_id, title_translated, summary_translated, tags, sentiment, market_impact,
				cautions, quotes, provider, model, is_fallback, fallback_reason, external_sentiment,
				aggregated_sentiment, confidence_score)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (article_id) DO UPDATE SET
				title_translated = EXCLUDED.title_translated,
				summary_translated = EXCLUDED.summary_translated,
				tags = EXCLUDED.tags,
				sentiment = EXCLUDED.sentiment,
				market_impact = EXCLUDED.market_impact,
				cautions = EXCLUDED.cautions,
				quotes = EXCLUDED.quotes,
				provider = EXCLUDED.provider,
				model = EXCLUDED.model,
				is_fallback = EXCLUDED.is_fallback,
				fallback_reason = EXCLUDED.fallback_reason,
				external_sentiment = EXCLUDED.external_sentiment,
				aggregated_sentiment = EXCLUDED.aggregated_sentiment,
				confidence_score = EXCLUDED.confidence_score`,
			e.ArticleID, e.Title, e.Summary, pq.Array(nonNil(e.Tags)), e.Sentiment, e.MarketImpact,
			pq.Array(nonNil(e.Cautions)), pq.Array(nonNil(e.Quotes)), e.Provider, e.Model, e.IsFallback,
			nullString(e.FallbackReason), external, e.AggregatedScore, e.Confidence)
		if err != nil {
			return fmt.Errorf("failed to insert enrichment: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE articles SET status = 'ENRICHED', last_error = NULL, updated_at = NOW()
			WHERE id = $1 AND status = 'FETCHED'`, e.ArticleID)
		if err != nil {
			return fmt.Errorf("failed to mark article enriched: %w", err)
		}
		return expectOne(res)
	})
}

// ResetEnrichment drops the enrichment and moves ENRICHED -> FETCHED so the
// article is enriched again on the next run.
func (s *Store) ResetEnrichment(ctx context.Context, articleID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE articles
			SET status = 'FETCHED', impact_score = NULL, prefilter_passed = NULL, updated_at = NOW()
			WHERE id = $1 AND status = 'ENRICHED'`, articleID)
		if err != nil {
			return fmt.Errorf("failed to reset article status: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM enrichments WHERE article_id = $1`, articleID); err != nil {
			return fmt.Errorf("failed to delete enrichment: %w", err)
		}
		return nil
	})
}

// AppendAudit inserts one audit row. Audit rows are never updated.
func (s *Store) AppendAudit(ctx context.Context, a JobAudit) error {
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO job_audits (run_id, job_type, article_id, status, error, metadata, slot_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.RunID, a.JobType, a.ArticleID, string(a.Status), nullString(a.Error), meta, nullString(a.SlotKey))
	if err != nil {
		return fmt.Errorf("failed to append audit: %w", err)
	}
	return nil
}

// HasCompletedSlot reports whether a job already completed for slotKey.
func (s *Store) HasCompletedSlot(ctx context.Context, jobType, slotKey string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM job_audits
			WHERE job_type = $1 AND slot_key = $2 AND status = 'COMPLETED'
		)`, jobType, slotKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slot %s: %w", slotKey, err)
	}
	return exists, nil
}

const enrichedColumns = articleColumns + `,
	e.title_translated, e.summary_translated, e.tags, e.sentiment, e.market_impact,
	e.cautions, e.quotes, COALESCE(e.provider, ''), COALESCE(e.model, ''), e.is_fallback,
	e.aggregated_sentiment, e.confidence_score, e.created_at`

func (s *Store) queryEnriched(ctx context.Context, query string, args ...interface{}) ([]EnrichedArticle, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EnrichedArticle
	for rows.Next() {
		var e Enrichment
		var aggregated, confidence sql.NullFloat64
		a, err := scanArticle(rows,
			&e.Title, &e.Summary, pq.Array(&e.Tags), &e.Sentiment, &e.MarketImpact,
			pq.Array(&e.Cautions), pq.Array(&e.Quotes), &e.Provider, &e.Model, &e.IsFallback,
			&aggregated, &confidence, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.ArticleID = a.ID
		if aggregated.Valid {
			v := aggregated.Float64
			e.AggregatedScore = &v
		}
		if confidence.Valid {
			v := confidence.Float64
			e.Confidence = &v
		}
		out = append(out, EnrichedArticle{Article: a, Enrichment: e})
	}
	return out, rows.Err()
}

// Deliverable returns ENRICHED articles with one of the given market impacts
// that have not been posted to every channel yet.
func (s *Store) Deliverable(ctx context.Context, impacts []string, channels []string, limit int) ([]EnrichedArticle, error) {
	out, err := s.queryEnriched(ctx, `SELECT `+enrichedColumns+`
		FROM articles a
		JOIN enrichments e ON e.article_id = a.id
		LEFT JOIN sources src ON src.id = a.source_id
		WHERE a.status = 'ENRICHED'
			AND e.market_impact = ANY($1)
			AND (
				SELECT COUNT(*) FROM postings p
				WHERE p.article_id = a.id AND p.status = 'POSTED' AND p.channel = ANY($2)
			) < cardinality($2::text[])
		ORDER BY a.published_at DESC NULLS LAST, a.id
		LIMIT $3`, pq.Array(impacts), pq.Array(channels), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load deliverable articles: %w", err)
	}
	return out, nil
}

// PostedChannels returns the channels an article was already delivered to.
func (s *Store) PostedChannels(ctx context.Context, articleID int64) (map[string]bool, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT channel FROM postings WHERE article_id = $1 AND status = 'POSTED'`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load postings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		out[ch] = true
	}
	return out, rows.Err()
}

// EnrichedSince returns articles enriched after since, newest first.
func (s *Store) EnrichedSince(ctx context.Context, since time.Time, limit int) ([]EnrichedArticle, error) {
	out, err := s.queryEnriched(ctx, `SELECT `+enrichedColumns+`
		FROM articles a
		JOIN enrichments e ON e.article_id = a.id
		LEFT JOIN sources src ON src.id = a.source_id
		WHERE a.status = 'ENRICHED' AND e.created_at >= $1
		ORDER BY a.impact_score DESC NULLS LAST, e.created_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load enriched articles: %w", err)
	}
	return out, nil
}

// UpsertPosting records the latest delivery attempt per (article, channel).
func (s *Store) UpsertPosting(ctx context.Context, p Posting) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO postings (article_id, channel, status, message_id, error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (article_id, channel) DO UPDATE SET
			status = EXCLUDED.status,
			message_id = EXCLUDED.message_id,
			error = EXCLUDED.error,
			updated_at = NOW()`,
		p.ArticleID, p.Channel, string(p.Status), nullString(p.MessageID), nullString(p.Error))
	if err != nil {
		return fmt.Errorf("failed to record posting: %w", err)
	}
	return nil
}

// ListArticles is the read query behind the articles API.
func (s *Store) ListArticles(ctx context.Context, f ArticleFilter) ([]ArticleView, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT a.id, COALESCE(src.name, ''), a.title, a.url, a.status, a.impact_score, a.prefilter_passed,
			a.published_at, COALESCE(a.last_error, ''),
			COALESCE(e.summary_translated, ''), e.tags, COALESCE(e.sentiment, ''),
			COALESCE(e.market_impact, ''), COALESCE(e.is_fallback, FALSE)
		FROM articles a
		LEFT JOIN sources src ON src.id = a.source_id
		LEFT JOIN enrichments e ON e.article_id = a.id
		WHERE ($1 = '' OR a.status = $1)
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $2`, string(f.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	var out []ArticleView
	for rows.Next() {
		var v ArticleView
		var impact sql.NullFloat64
		var prefilter sql.NullBool
		var published sql.NullTime
		if err := rows.Scan(&v.ID, &v.Source, &v.Title, &v.URL, &v.Status, &impact, &prefilter,
			&published, &v.LastError, &v.Summary, pq.Array(&v.Tags), &v.Sentiment,
			&v.MarketImpact, &v.IsFallback); err != nil {
			return nil, err
		}
		if impact.Valid {
			x := impact.Float64
			v.ImpactScore = &x
		}
		if prefilter.Valid {
			x := prefilter.Bool
			v.PrefilterPassed = &x
		}
		if published.Valid {
			x := published.Time
			v.PublishedAt = &x
		}
		v.State = StateOf(v.Status, v.PrefilterPassed, v.IsFallback)
		out = append(out, v)
	}
	return out, rows.Err()
}

// TagSentiment averages aggregated sentiment of enrichments carrying tag.
func (s *Store) TagSentiment(ctx context.Context, tag string, since time.Time) (avg float64, count int, err error) {
	var mean sql.NullFloat64
	err = s.DB.QueryRowContext(ctx, `
		SELECT AVG(aggregated_sentiment), COUNT(*)
		FROM enrichments
		WHERE $1 = ANY(tags) AND created_at >= $2 AND aggregated_sentiment IS NOT NULL`,
		tag, since).Scan(&mean, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate sentiment for %s: %w", tag, err)
	}
	return mean.Float64, count, nil
}

// SaveSignalSnapshot stores a snapshot with its items and prunes the kind to
// the newest retain snapshots, all in one transaction.
func (s *Store) SaveSignalSnapshot(ctx context.Context, snap SignalSnapshot, retain int) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO signal_snapshots (kind, captured_at, item_count, raw)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			snap.Kind, snap.CapturedAt, len(snap.Items), nullJSON(snap.Raw)).Scan(&id); err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		for _, item := range snap.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO signal_items (snapshot_id, symbol, score, payload)
				VALUES ($1, $2, $3, $4)`,
				id, item.Symbol, item.Score, nullJSON(item.Payload)); err != nil {
				return fmt.Errorf("failed to insert signal item %s: %w", item.Symbol, err)
			}
		}

		if retain > 0 {
			res, err := tx.ExecContext(ctx, `
				DELETE FROM signal_snapshots
				WHERE kind = $1 AND id NOT IN (
					SELECT id FROM signal_snapshots WHERE kind = $1
					ORDER BY captured_at DESC, id DESC
					LIMIT $2
				)`, snap.Kind, retain)
			if err != nil {
				return fmt.Errorf("failed to prune snapshots: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				logger.Debug("Pruned signal snapshots", "kind", snap.Kind, "deleted", n)
			}
		}
		return nil
	})
	return id, err
}

// GetStats returns article counts by status
func (s *Store) GetStats(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM articles GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func marshalJSON(v interface{}) (interface{}, error) {
	switch m := v.(type) {
	case map[string]float64:
		if len(m) == 0 {
			return nil, nil
		}
	case map[string]interface{}:
		if len(m) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return string(b), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
