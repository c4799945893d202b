// Package impact scores articles for market significance before the costly
// enrichment call is made.
package impact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/duiduidodge/noon-feed-sub001/internal/llm"
	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
)

const (
	DefaultThreshold   = 0.7
	DefaultConcurrency = 3

	maxPromptChars = 1500
	maxTokens      = 120
)

type Input struct {
	Title      string
	Text       string
	SourceName string
}

type Result struct {
	Score        float64
	Reasoning    string
	ShouldEnrich bool
	// Err is the swallowed failure, kept for logging and audit metadata.
	Err error
}

// Filter issues one LLM call per article. The provider passed in must not
// retry on its own.
type Filter struct {
	Provider    llm.Provider
	Model       string
	Threshold   float64
	Concurrency int
	Logger      *slog.Logger
}

func NewFilter(p llm.Provider, threshold float64, concurrency int) *Filter {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Filter{
		Provider:    p,
		Threshold:   threshold,
		Concurrency: concurrency,
		Logger:      logger.With("impact"),
	}
}

// Evaluate never returns an error: any failure yields a zero score.
func (f *Filter) Evaluate(ctx context.Context, in Input) Result {
	raw, err := f.Provider.Complete(ctx, buildPrompt(in), llm.Options{
		Temperature: 0,
		MaxTokens:   maxTokens,
		Model:       f.Model,
		System:      "You rate crypto news for short-term market impact. Reply with JSON only.",
	})
	if err != nil {
		f.log().Warn("impact call failed", "title", in.Title, "error", err)
		return Result{Err: err}
	}

	score, reasoning, err := parseScore(raw)
	if err != nil {
		f.log().Warn("impact response unparseable", "title", in.Title, "error", err)
		return Result{Err: err}
	}

	return Result{
		Score:        score,
		Reasoning:    reasoning,
		ShouldEnrich: score >= f.Threshold,
	}
}

// EvaluateBatch evaluates inputs with bounded concurrency. Results line up
// with inputs by index.
func (f *Filter) EvaluateBatch(ctx context.Context, inputs []Input) []Result {
	results := make([]Result, len(inputs))
	limit := f.Concurrency
	if limit < 1 {
		limit = DefaultConcurrency
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in Input) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = Result{Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			results[i] = f.Evaluate(ctx, in)
		}(i, in)
	}
	wg.Wait()

	return results
}

func (f *Filter) log() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func buildPrompt(in Input) string {
	text := strings.TrimSpace(in.Text)
	if utf8.RuneCountInString(text) > maxPromptChars {
		text = string([]rune(text)[:maxPromptChars]) + "..."
	}

	var b strings.Builder
	b.WriteString("Score how likely this article is to move crypto markets in the next 24 hours.\n")
	b.WriteString("0.0 means irrelevant, 1.0 means major market-moving news.\n")
	b.WriteString(`Respond with exactly {"score": <number 0..1>, "reasoning": "<one sentence>"}.`)
	b.WriteString("\n\n")
	if in.SourceName != "" {
		fmt.Fprintf(&b, "Source: %s\n", in.SourceName)
	}
	fmt.Fprintf(&b, "Title: %s\n", in.Title)
	if text != "" {
		fmt.Fprintf(&b, "Text: %s\n", text)
	}
	return b.String()
}

type scoreResponse struct {
	Score     *float64 `json:"score"`
	Reasoning string   `json:"reasoning"`
}

func parseScore(raw string) (float64, string, error) {
	body := llm.StripCodeFences(raw)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var resp scoreResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return 0, "", fmt.Errorf("decode impact response: %w", err)
	}
	if resp.Score == nil {
		return 0, "", errors.New("impact response has no score")
	}
	return Clamp(*resp.Score), strings.TrimSpace(resp.Reasoning), nil
}

func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
