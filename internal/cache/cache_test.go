package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestGetOrLoadCachesWithinTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New[int](30*time.Second, WithClock[int](clock.Now))
	defer c.Close()

	loads := 0
	load := func(context.Context) (int, error) {
		loads++
		return loads, nil
	}

	for i := 0; i < 3; i++ {
		v, stale, err := c.GetOrLoad(context.Background(), "k", load)
		if err != nil || stale || v != 1 {
			t.Fatalf("v=%d stale=%v err=%v", v, stale, err)
		}
	}
	if loads != 1 {
		t.Fatalf("expected one load, got %d", loads)
	}

	clock.Advance(31 * time.Second)
	v, _, _ := c.GetOrLoad(context.Background(), "k", load)
	if v != 2 {
		t.Fatalf("expected reload after expiry, got %d", v)
	}
}

func TestGetOrLoadServesStaleOnError(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New[string](time.Minute, WithClock[string](clock.Now), WithStaleFor[string](10*time.Minute))
	defer c.Close()

	c.Set("k", "good")
	clock.Advance(2 * time.Minute)

	failing := func(context.Context) (string, error) { return "", errors.New("upstream down") }

	v, stale, err := c.GetOrLoad(context.Background(), "k", failing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stale || v != "good" {
		t.Fatalf("expected stale 'good', got %q stale=%v", v, stale)
	}

	clock.Advance(20 * time.Minute)
	if _, _, err := c.GetOrLoad(context.Background(), "k", failing); err == nil {
		t.Fatal("expected error once the stale window passed")
	}
}

func TestGetOrLoadErrorWithoutValue(t *testing.T) {
	t.Parallel()

	c := New[int](time.Minute)
	defer c.Close()

	_, _, err := c.GetOrLoad(context.Background(), "missing", func(context.Context) (int, error) {
		return 0, errors.New("nope")
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGenerateKeyStable(t *testing.T) {
	t.Parallel()

	if GenerateKey("a", "bc") == GenerateKey("ab", "c") {
		t.Fatal("keys must not collide on concatenation")
	}
	if GenerateKey("x", "y") != GenerateKey("x", "y") {
		t.Fatal("keys must be deterministic")
	}
}
