package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

// run brackets one stage invocation with STARTED and COMPLETED/FAILED audit rows
// sharing a run id.
type run struct {
	p         *Pipeline
	id        string
	job       string
	slotKey   string
	articleID *int64
	started   time.Time
}

func (p *Pipeline) begin(ctx context.Context, job, slotKey string, articleID *int64) *run {
	r := &run{
		p:         p,
		id:        uuid.NewString(),
		job:       job,
		slotKey:   slotKey,
		articleID: articleID,
		started:   p.now(),
	}
	r.append(ctx, storage.AuditStarted, "", nil)
	return r
}

func (r *run) complete(ctx context.Context, meta map[string]interface{}) {
	r.append(ctx, storage.AuditCompleted, "", meta)
	r.p.Metrics.ObserveStage(r.job, r.p.now().Sub(r.started), nil)
}

func (r *run) fail(ctx context.Context, err error, meta map[string]interface{}) {
	r.append(ctx, storage.AuditFailed, err.Error(), meta)
	r.p.Metrics.ObserveStage(r.job, r.p.now().Sub(r.started), err)
}

// articleFailed records a FAILED row for a single article inside the run.
func (r *run) articleFailed(ctx context.Context, articleID int64, err error) {
	id := articleID
	r.p.appendAudit(ctx, storage.JobAudit{
		RunID:     r.id,
		JobType:   r.job,
		ArticleID: &id,
		Status:    storage.AuditFailed,
		Error:     err.Error(),
	})
}

func (r *run) append(ctx context.Context, status storage.AuditStatus, errText string, meta map[string]interface{}) {
	r.p.appendAudit(ctx, storage.JobAudit{
		RunID:     r.id,
		JobType:   r.job,
		ArticleID: r.articleID,
		Status:    status,
		Error:     errText,
		Metadata:  meta,
		SlotKey:   r.slotKey,
	})
}

// Audit writes must not turn a finished stage into a failed one, so a
// failure here is only logged. A cancelled ctx still gets its final row.
func (p *Pipeline) appendAudit(ctx context.Context, a storage.JobAudit) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := p.Store.AppendAudit(ctx, a); err != nil {
		p.log().Warn("failed to write audit row", "job", a.JobType, "run_id", a.RunID, "status", a.Status, "error", err)
	}
}
