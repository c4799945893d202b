// Package sentiment blends the LLM's sentiment label with numeric scores from
// external feeds into one confidence-weighted annotation.
package sentiment

import (
	"math"
	"strings"
)

type Label string

const (
	Bullish Label = "bullish"
	Bearish Label = "bearish"
	Neutral Label = "neutral"
)

const (
	bullishAbove = 0.3
	bearishBelow = -0.3
)

// ParseLabel accepts the three labels case-insensitively.
func ParseLabel(s string) (Label, bool) {
	switch Label(strings.ToLower(strings.TrimSpace(s))) {
	case Bullish:
		return Bullish, true
	case Bearish:
		return Bearish, true
	case Neutral:
		return Neutral, true
	}
	return Neutral, false
}

// Value maps a label onto [-1, 1].
func (l Label) Value() float64 {
	switch l {
	case Bullish:
		return 1
	case Bearish:
		return -1
	default:
		return 0
	}
}

// Score is one external reading in [-1, 1].
type Score struct {
	Source string  `json:"source"`
	Value  float64 `json:"value"`
}

type Aggregated struct {
	Score       float64 `json:"score"`
	Label       Label   `json:"label"`
	Confidence  float64 `json:"confidence"`
	SourceCount int     `json:"source_count"`
}

// Aggregate averages the LLM label with every external score. Agreement
// between more sources raises confidence, disagreement lowers it.
func Aggregate(llm Label, external []Score) Aggregated {
	values := make([]float64, 0, len(external)+1)
	values = append(values, llm.Value())
	for _, s := range external {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		values = append(values, clamp(s.Value, -1, 1))
	}

	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= n

	base := 0.5 + 0.1*(n-1)
	agreement := math.Max(0, 1-variance/2)
	confidence := clamp(base*agreement, 0.5, 1.0)

	return Aggregated{
		Score:       mean,
		Label:       LabelFor(mean),
		Confidence:  confidence,
		SourceCount: len(values),
	}
}

// LabelFor buckets an averaged score.
func LabelFor(score float64) Label {
	switch {
	case score > bullishAbove:
		return Bullish
	case score < bearishBelow:
		return Bearish
	default:
		return Neutral
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
