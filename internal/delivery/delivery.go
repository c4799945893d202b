// Package delivery posts enriched articles to chat channels.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
)

var ErrNoChannelDelivered = errors.New("delivery: no channel accepted the message")

type Message struct {
	Title     string
	Summary   string
	Tags      []string
	Sentiment string
	Impact    string
	Source    string
	URL       string
	// Digest entries; when set the message is rendered as a list.
	Items []Message
}

type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) (messageID string, err error)
}

// Pacer spaces out sequential sends.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedPacer keeps at least Delay between the end of one Wait and the next.
type FixedPacer struct {
	Delay time.Duration

	mu    sync.Mutex
	last  time.Time
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewFixedPacer(delay time.Duration) *FixedPacer {
	return &FixedPacer{Delay: delay, now: time.Now, sleep: sleepCtx}
}

func (p *FixedPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	if !p.last.IsZero() {
		if wait := p.last.Add(p.Delay).Sub(now); wait > 0 {
			if err := p.doSleep(ctx, wait); err != nil {
				return err
			}
			now = now.Add(wait)
		}
	}
	p.last = now
	return nil
}

func (p *FixedPacer) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *FixedPacer) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Result struct {
	Channel   string
	MessageID string
	Err       error
	Skipped   bool
}

// Report is the outcome of posting one message to every channel.
type Report struct {
	Results []Result
}

// Delivered reports whether at least one channel took the message.
func (r Report) Delivered() bool {
	for _, res := range r.Results {
		if res.Err == nil && !res.Skipped {
			return true
		}
	}
	return false
}

// Err is nil when any channel delivered. Otherwise it wraps
// ErrNoChannelDelivered together with every channel error.
func (r Report) Err() error {
	if r.Delivered() {
		return nil
	}
	errs := []error{ErrNoChannelDelivered}
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Channel, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Failures lists per-channel errors, even when the post succeeded overall.
func (r Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Poster sends a message to each channel in turn, paced.
type Poster struct {
	Channels []Channel
	Pacer    Pacer
	Logger   *slog.Logger
}

func NewPoster(pacer Pacer, channels ...Channel) *Poster {
	return &Poster{Channels: channels, Pacer: pacer, Logger: logger.With("delivery")}
}

// Names returns the configured channel names.
func (p *Poster) Names() []string {
	names := make([]string, 0, len(p.Channels))
	for _, ch := range p.Channels {
		names = append(names, ch.Name())
	}
	return names
}

func (p *Poster) Post(ctx context.Context, msg Message) Report {
	return p.PostExcept(ctx, msg, nil)
}

// PostExcept skips channels marked in done, e.g. ones that already have the
// article from an earlier run.
func (p *Poster) PostExcept(ctx context.Context, msg Message, done map[string]bool) Report {
	var report Report
	for _, ch := range p.Channels {
		name := ch.Name()
		if done[name] {
			report.Results = append(report.Results, Result{Channel: name, Skipped: true})
			continue
		}
		if p.Pacer != nil {
			if err := p.Pacer.Wait(ctx); err != nil {
				report.Results = append(report.Results, Result{Channel: name, Err: err})
				continue
			}
		}

		id, err := ch.Send(ctx, msg)
		report.Results = append(report.Results, Result{Channel: name, MessageID: id, Err: err})
	}

	if failures := report.Failures(); len(failures) > 0 {
		attrs := []any{"title", msg.Title, "delivered", report.Delivered()}
		for _, f := range failures {
			attrs = append(attrs, f.Channel, f.Err.Error())
		}
		p.log().Warn("delivery partially failed", attrs...)
	}
	return report
}

func (p *Poster) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
