package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/cache"
	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
	"github.com/duiduidodge/noon-feed-sub001/internal/retry"
)

// Source is an external numeric sentiment feed. ok=false or an error means the
// source had nothing to say, which is not the same as a neutral reading.
type Source interface {
	Name() string
	Score(ctx context.Context, symbol string) (value float64, ok bool, err error)
}

const DefaultFearGreedURL = "https://api.alternative.me/fng/?limit=1"

// FearGreedSource reads the market-wide Crypto Fear & Greed index. The symbol
// is ignored.
type FearGreedSource struct {
	URL    string
	Client *http.Client
	Cache  *cache.Cache[float64]
	Retry  retry.RetryConfig
}

func NewFearGreedSource(c *cache.Cache[float64]) *FearGreedSource {
	return &FearGreedSource{
		URL:    DefaultFearGreedURL,
		Client: &http.Client{Timeout: 10 * time.Second},
		Cache:  c,
		Retry: retry.RetryConfig{
			MaxAttempts: 2,
			Delay:       time.Second,
			Backoff:     true,
			Name:        "fear & greed",
		},
	}
}

func (s *FearGreedSource) Name() string { return "fear_greed" }

func (s *FearGreedSource) Score(ctx context.Context, _ string) (float64, bool, error) {
	load := func(ctx context.Context) (float64, error) {
		return retry.Do(ctx, s.Retry, s.fetch)
	}
	if s.Cache == nil {
		v, err := load(ctx)
		if err != nil {
			return 0, false, err
		}
		return v, true, nil
	}

	v, stale, err := s.Cache.GetOrLoad(ctx, cache.GenerateKey(s.Name(), s.URL), load)
	if err != nil {
		return 0, false, err
	}
	if stale {
		logger.Warn("serving stale fear & greed value", "value", v)
	}
	return v, true, nil
}

type fearGreedResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
	} `json:"data"`
}

func (s *FearGreedSource) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fear & greed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fear & greed status %d", resp.StatusCode)
	}

	var body fearGreedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode fear & greed: %w", err)
	}
	if len(body.Data) == 0 {
		return 0, fmt.Errorf("fear & greed: empty data")
	}
	raw, err := strconv.ParseFloat(body.Data[0].Value, 64)
	if err != nil {
		return 0, fmt.Errorf("fear & greed value %q: %w", body.Data[0].Value, err)
	}

	// 0..100 onto -1..1
	return clamp((raw-50)/50, -1, 1), nil
}

// Collector gathers every available external score for a symbol.
type Collector struct {
	Sources []Source
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewCollector(sources ...Source) *Collector {
	return &Collector{Sources: sources, Timeout: 10 * time.Second, Logger: logger.With("sentiment")}
}

func (c *Collector) Collect(ctx context.Context, symbol string) []Score {
	if c == nil {
		return nil
	}
	var scores []Score
	for _, src := range c.Sources {
		sctx := ctx
		var cancel context.CancelFunc = func() {}
		if c.Timeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, c.Timeout)
		}
		v, ok, err := src.Score(sctx, symbol)
		cancel()

		if err != nil {
			if c.Logger != nil {
				c.Logger.Warn("sentiment source unavailable", "source", src.Name(), "symbol", symbol, "error", err)
			}
			continue
		}
		if !ok {
			continue
		}
		scores = append(scores, Score{Source: src.Name(), Value: v})
	}
	return scores
}
