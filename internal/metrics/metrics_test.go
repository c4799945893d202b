package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAddAndStats(t *testing.T) {
	t.Parallel()

	m := New()
	m.Add(ArticlesIngested, 3)
	m.Add(ArticlesIngested, 2)
	m.Add(DuplicatesFiltered, 0)

	if got := m.Count(ArticlesIngested); got != 5 {
		t.Fatalf("ingested = %d, want 5", got)
	}
	stats := m.GetStats()
	if stats["ingested"].(int64) != 5 {
		t.Fatalf("stats = %v", stats)
	}
	if _, ok := stats["duplicate"]; ok {
		t.Fatal("zero adds must not create a counter")
	}
}

func TestObserveStageTogglesHealth(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveStage("fetch", time.Second, errors.New("feed down"))
	if m.Healthy() {
		t.Fatal("expected unhealthy after a failed stage")
	}
	if m.GetStats()["last_error"] != "fetch: feed down" {
		t.Fatalf("last_error = %v", m.GetStats()["last_error"])
	}

	m.ObserveStage("fetch", 2*time.Second, nil)
	if !m.Healthy() {
		t.Fatal("expected healthy after a successful stage")
	}
	if m.AverageProcessingTime != 2*time.Second {
		t.Fatalf("average = %v", m.AverageProcessingTime)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Add(ArticlesFetched, 1)
	m.ObserveStage("ingest", time.Second, nil)
	if m.Count(ArticlesFetched) != 0 {
		t.Fatal("nil metrics must count nothing")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.Add(MessagesPosted, 4)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `noonfeed_articles_total{event="posted"} 4`) {
		t.Fatalf("counter missing from exposition:\n%s", body)
	}
}
