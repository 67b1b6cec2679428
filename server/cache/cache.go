package cache

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scalpsense/scalp-cv/server/models"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache stores per-image aggregation results so an identical photograph does
// not trigger another confidence descent against the external detector.
// In-memory only; nothing is persisted.
type Cache interface {
	Get(ctx context.Context, key string) (*models.AggregatedResult, error)

	Set(ctx context.Context, key string, result *models.AggregatedResult) error

	SetWithTTL(ctx context.Context, key string, result *models.AggregatedResult, ttl time.Duration) error

	Exists(ctx context.Context, key string) (bool, error)

	Stats() Stats

	Close() error
}

type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// ResultKey derives the cache key for one image analysis from the image bytes
// and the class being searched for.
func ResultKey(imageData []byte, targetClass string) string {
	return GenerateCacheKey("analysis", fmt.Sprintf("%x", md5.Sum(imageData)), targetClass)
}

func GenerateCacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}
