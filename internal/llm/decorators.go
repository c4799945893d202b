package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/ratelimit"
	"github.com/duiduidodge/noon-feed-sub001/internal/retry"
)

// Retrying retries transient provider failures. Auth and permanent errors
// return immediately.
type Retrying struct {
	Provider
	Config retry.RetryConfig
}

func NewRetrying(p Provider, attempts int, delay time.Duration, log *slog.Logger) *Retrying {
	return &Retrying{
		Provider: p,
		Config: retry.RetryConfig{
			MaxAttempts: attempts,
			Delay:       delay,
			Backoff:     true,
			ShouldRetry: IsRetryable,
			Logger:      log,
			Name:        p.Name() + " completion",
		},
	}
}

func (r *Retrying) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	return retry.Do(ctx, r.Config, func(ctx context.Context) (string, error) {
		return r.Provider.Complete(ctx, prompt, opts)
	})
}

// Budgeted refuses calls once the provider's daily budget is spent.
type Budgeted struct {
	Provider
	Budget *ratelimit.Budget
}

func NewBudgeted(p Provider, b *ratelimit.Budget) *Budgeted {
	return &Budgeted{Provider: p, Budget: b}
}

func (b *Budgeted) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := b.Budget.Use(b.Name()); err != nil {
		return "", &Error{Provider: b.Name(), Kind: KindPermanent, Err: err}
	}
	return b.Provider.Complete(ctx, prompt, opts)
}
