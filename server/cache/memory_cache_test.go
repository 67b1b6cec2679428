package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scalpsense/scalp-cv/server/models"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T, maxSize int, ttl time.Duration) *MemoryCache {
	t.Helper()
	c := NewMemoryCache(maxSize, ttl, zap.NewNop())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMemoryCache_SetGet(t *testing.T) {
	c := newTestCache(t, 10, time.Minute)
	ctx := context.Background()

	result := &models.AggregatedResult{Detected: true, Area: 500, Confidence: 80}
	if err := c.Set(ctx, "k1", result); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Area != 500 || !got.Detected {
		t.Errorf("got %+v, expected the stored result", got)
	}
}

func TestMemoryCache_Miss(t *testing.T) {
	c := newTestCache(t, 10, time.Minute)

	if _, err := c.Get(context.Background(), "absent"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t, 10, time.Minute)
	ctx := context.Background()

	c.SetWithTTL(ctx, "short", &models.AggregatedResult{}, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, err := c.Get(ctx, "short"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry miss, got %v", err)
	}
	if exists, _ := c.Exists(ctx, "short"); exists {
		t.Error("Exists should report false after expiry")
	}
}

func TestMemoryCache_EvictsWhenFull(t *testing.T) {
	c := newTestCache(t, 2, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "a", &models.AggregatedResult{Area: 1})
	time.Sleep(5 * time.Millisecond)
	c.Set(ctx, "b", &models.AggregatedResult{Area: 2})
	time.Sleep(5 * time.Millisecond)

	// Touch "a" so "b" becomes the LRU entry.
	c.Get(ctx, "a")
	c.Set(ctx, "c", &models.AggregatedResult{Area: 3})

	if _, err := c.Get(ctx, "b"); !errors.Is(err, ErrCacheMiss) {
		t.Error("expected LRU entry b to be evicted")
	}
	if _, err := c.Get(ctx, "a"); err != nil {
		t.Error("recently used entry a should survive eviction")
	}
}

func TestMemoryCache_Stats(t *testing.T) {
	c := newTestCache(t, 10, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "k", &models.AggregatedResult{})
	c.Get(ctx, "k")
	c.Get(ctx, "nope")

	stats := c.Stats()
	if stats.Entries != 1 || stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, expected 1 entry, 1 hit, 1 miss", stats)
	}
}

func TestResultKey_Deterministic(t *testing.T) {
	a := ResultKey([]byte("image-bytes"), "balding")
	b := ResultKey([]byte("image-bytes"), "balding")
	other := ResultKey([]byte("different"), "balding")

	if a != b {
		t.Error("identical inputs must derive identical keys")
	}
	if a == other {
		t.Error("different images must derive different keys")
	}
	if ResultKey([]byte("image-bytes"), "dandruff") == a {
		t.Error("different target classes must derive different keys")
	}
}
