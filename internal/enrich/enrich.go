// Package enrich turns article text into a structured annotation with a
// single LLM call, falling back to keyword rules when the model output is
// unusable.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/duiduidodge/noon-feed-sub001/internal/llm"
	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
	"github.com/duiduidodge/noon-feed-sub001/internal/sentiment"
)

const (
	DefaultMaxChars = 4000
	DefaultMinChars = 100

	ImpactHigh   = "high"
	ImpactMedium = "medium"
	ImpactLow    = "low"

	maxTitleRunes   = 90
	maxSummaryRunes = 1000
	minimalSummary  = 300
	enrichMaxTokens = 900
)

type Input struct {
	Title      string
	Text       string
	SourceName string
	URL        string
}

type Output struct {
	Title          string
	Summary        string
	Tags           []string
	Sentiment      sentiment.Label
	MarketImpact   string
	Cautions       []string
	Quotes         []string
	Provider       string
	Model          string
	Fallback       bool
	FallbackReason string
}

type Engine struct {
	Provider llm.Provider
	Model    string
	// Language is the translation target for title and summary.
	Language string
	MaxChars int
	MinChars int
	Logger   *slog.Logger
}

func NewEngine(p llm.Provider, model string) *Engine {
	return &Engine{
		Provider: p,
		Model:    model,
		Language: "English",
		MaxChars: DefaultMaxChars,
		MinChars: DefaultMinChars,
		Logger:   logger.With("enrich"),
	}
}

// Enrich always returns a usable Output. The error is non-nil only for
// failures the caller has to act on: bad credentials or a cancelled context.
// The Output is a minimal fallback in that case too.
func (e *Engine) Enrich(ctx context.Context, in Input) (Output, error) {
	text := strings.TrimSpace(in.Text)
	minChars := e.MinChars
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	if utf8.RuneCountInString(text) < minChars {
		out := Minimal(in.Title, text)
		out.FallbackReason = "text too short"
		return out, nil
	}

	model := e.Model
	if model == "" && e.Provider != nil {
		model = e.Provider.DefaultModel()
	}

	raw, err := e.Provider.Complete(ctx, e.buildPrompt(in, text), llm.Options{
		Temperature: 0.2,
		MaxTokens:   enrichMaxTokens,
		Model:       e.Model,
		System:      "You are a crypto market news editor. Reply with a single JSON object and nothing else.",
	})
	if err != nil {
		out := Minimal(in.Title, text)
		out.FallbackReason = "llm error: " + err.Error()
		e.log().Warn("enrichment call failed, using fallback", "title", in.Title, "error", err)
		if llm.IsAuth(err) || errors.Is(err, context.Canceled) {
			return out, err
		}
		return out, nil
	}

	res := ParseResponse(raw)
	v, ok := res.Value()
	if !ok {
		out := Minimal(in.Title, text)
		out.FallbackReason = res.Reason()
		e.log().Warn("enrichment response rejected, using fallback", "title", in.Title, "reason", res.Reason())
		return out, nil
	}

	label, _ := sentiment.ParseLabel(v.Sentiment)
	return Output{
		Title:        v.Title,
		Summary:      v.Summary,
		Tags:         v.Tags,
		Sentiment:    label,
		MarketImpact: v.MarketImpact,
		Cautions:     v.Cautions,
		Quotes:       v.Quotes,
		Provider:     e.Provider.Name(),
		Model:        model,
	}, nil
}

func (e *Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) buildPrompt(in Input, text string) string {
	maxChars := e.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	text = truncateRunes(text, maxChars)
	lang := e.Language
	if lang == "" {
		lang = "English"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summarize this crypto news article for traders, writing in %s.\n\n", lang)
	b.WriteString("Return strict JSON with exactly these fields:\n")
	fmt.Fprintf(&b, "- \"title\": headline in %s, at most %d characters\n", lang, maxTitleRunes)
	fmt.Fprintf(&b, "- \"summary\": 2-4 sentences in %s, between 10 and %d characters\n", lang, maxSummaryRunes)
	fmt.Fprintf(&b, "- \"tags\": 1 to %d tags chosen from [%s]; at most %d other short tags if nothing fits\n",
		maxTags, strings.Join(Vocabulary, ", "), maxCustomTags)
	b.WriteString("- \"sentiment\": one of \"bullish\", \"bearish\", \"neutral\"\n")
	b.WriteString("- \"market_impact\": one of \"high\", \"medium\", \"low\"\n")
	b.WriteString("- \"cautions\": optional list of risks or unverified claims\n")
	b.WriteString("- \"quotes\": optional list of short verbatim quotes worth keeping\n\n")

	if in.SourceName != "" {
		fmt.Fprintf(&b, "Source: %s\n", in.SourceName)
	}
	if in.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", in.URL)
	}
	fmt.Fprintf(&b, "Title: %s\n\nArticle:\n%s\n", in.Title, text)
	return b.String()
}

// Minimal builds an annotation without the model: keyword tags, a neutral
// label and the opening of the text as summary.
func Minimal(title, text string) Output {
	title = strings.TrimSpace(title)
	text = strings.TrimSpace(text)

	summary := firstSentences(text, minimalSummary)
	if summary == "" {
		summary = title
	}

	return Output{
		Title:        truncateRunes(title, maxTitleRunes),
		Summary:      summary,
		Tags:         DetectTags(title + "\n" + text),
		Sentiment:    sentiment.Neutral,
		MarketImpact: ImpactLow,
		Provider:     "rules",
		Fallback:     true,
	}
}

func firstSentences(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	cut := truncateRunes(text, limit)
	if i := strings.LastIndexAny(cut, ".!?"); i > limit/3 {
		return cut[:i+1]
	}
	return strings.TrimSpace(cut) + "..."
}

// truncateRunes cuts on a rune boundary.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
