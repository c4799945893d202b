package sentiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/cache"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAggregateSingleSource(t *testing.T) {
	t.Parallel()

	got := Aggregate(Bullish, nil)
	if got.Label != Bullish || got.Score != 1 || got.Confidence != 0.5 || got.SourceCount != 1 {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestAggregateAgreementRaisesConfidence(t *testing.T) {
	t.Parallel()

	alone := Aggregate(Bullish, nil)
	agreed := Aggregate(Bullish, []Score{{"a", 1}, {"b", 1}})

	if agreed.Label != Bullish {
		t.Fatalf("label = %s", agreed.Label)
	}
	if agreed.Confidence <= alone.Confidence {
		t.Fatalf("agreement confidence %v not above single %v", agreed.Confidence, alone.Confidence)
	}
	if !almost(agreed.Confidence, 0.7) {
		t.Fatalf("confidence = %v, want 0.7", agreed.Confidence)
	}
}

func TestAggregateDisagreement(t *testing.T) {
	t.Parallel()

	alone := Aggregate(Bullish, nil)
	agreed := Aggregate(Bullish, []Score{{"a", 1}})
	split := Aggregate(Bullish, []Score{{"a", -1}})

	// The 0.5 floor means total disagreement bottoms out at the single-source value.
	if split.Confidence > alone.Confidence || split.Confidence >= agreed.Confidence {
		t.Fatalf("disagreement confidence %v should not exceed %v or reach %v", split.Confidence, alone.Confidence, agreed.Confidence)
	}
	if split.Label != Neutral || split.Score != 0 {
		t.Fatalf("averaged label should decide, got %+v", split)
	}
}

func TestAggregateLabelThresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		llm      Label
		external []Score
		want     Label
	}{
		{Neutral, []Score{{"a", 0.9}}, Bullish},
		{Neutral, []Score{{"a", 0.6}}, Neutral},
		{Bearish, []Score{{"a", 0.2}}, Bearish},
		{Bullish, []Score{{"a", -5}, {"b", -5}}, Bearish},
		{Neutral, []Score{{"a", math.NaN()}}, Neutral},
		{Bearish, []Score{{"a", 0.1}, {"b", 0.2}, {"c", 0}}, Neutral},
	}
	for i, tt := range tests {
		if got := Aggregate(tt.llm, tt.external); got.Label != tt.want {
			t.Errorf("case %d: label = %s (score %v), want %s", i, got.Label, got.Score, tt.want)
		}
	}
}

func TestParseLabel(t *testing.T) {
	t.Parallel()

	if l, ok := ParseLabel(" Bullish "); !ok || l != Bullish {
		t.Fatalf("got %s/%v", l, ok)
	}
	if _, ok := ParseLabel("positive"); ok {
		t.Fatal("positive is not a label")
	}
}

func TestFearGreedSourceNormalizesAndServesStale(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"name":"Fear and Greed Index","data":[{"value":"75","value_classification":"Greed","timestamp":"1714000000"}]}`)
	}))
	defer srv.Close()

	now := time.Now()
	c := cache.New[float64](time.Minute, cache.WithClock[float64](func() time.Time { return now }))
	defer c.Close()

	src := NewFearGreedSource(c)
	src.URL = srv.URL
	src.Retry.Delay = time.Millisecond

	v, ok, err := src.Score(context.Background(), "BTC")
	if err != nil || !ok || !almost(v, 0.5) {
		t.Fatalf("got %v %v %v, want 0.5", v, ok, err)
	}

	// cached within TTL
	if _, _, err := src.Score(context.Background(), "ETH"); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected cache hit, got %d calls", calls)
	}

	fail.Store(true)
	now = now.Add(2 * time.Minute)
	v, ok, err = src.Score(context.Background(), "BTC")
	if err != nil || !ok || !almost(v, 0.5) {
		t.Fatalf("expected stale value, got %v %v %v", v, ok, err)
	}
}

type fixedSource struct {
	name string
	v    float64
	ok   bool
	err  error
}

func (f fixedSource) Name() string { return f.name }
func (f fixedSource) Score(context.Context, string) (float64, bool, error) {
	return f.v, f.ok, f.err
}

func TestCollectorSkipsUnavailableSources(t *testing.T) {
	t.Parallel()

	c := NewCollector(
		fixedSource{name: "up", v: 0.4, ok: true},
		fixedSource{name: "empty", ok: false},
		fixedSource{name: "down", err: errors.New("503")},
	)
	scores := c.Collect(context.Background(), "BTC")
	if len(scores) != 1 || scores[0].Source != "up" || scores[0].Value != 0.4 {
		t.Fatalf("unexpected scores %+v", scores)
	}
}
