package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/spoolhq/content-service/internal/platform/envutil"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

// EmbeddingCache is the shared content-addressed cache consulted before
// every embedding call. Values are deterministic for a given key, so a
// racing Put is last-writer-wins and harmless.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Put(ctx context.Context, key string, vec []float32)
}

// Key derives the cache key from the normalized chunk text plus the model
// identity, so a model or dimension change never serves stale vectors.
func Key(model string, dimension int, text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|", model, dimension)
	h.Write([]byte(norm))
	return "emb:" + hex.EncodeToString(h.Sum(nil))
}

// -------------------- Redis --------------------

type redisCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisFromEnv returns a Redis-backed cache, or an in-memory cache when
// REDIS_ADDR is unset or unreachable.
func NewRedisFromEnv(log *logger.Logger) EmbeddingCache {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		log.Info("REDIS_ADDR not set; using in-memory embedding cache")
		return NewMemory()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		log.Warn("Redis unreachable; falling back to in-memory embedding cache", "addr", addr, "error", err)
		return NewMemory()
	}

	ttl := time.Duration(envutil.Int("CACHE_TTL_SECONDS", 3600)) * time.Second
	return &redisCache{
		log: log.With("service", "EmbeddingCache"),
		rdb: rdb,
		ttl: ttl,
	}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("cache get failed", "error", err)
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *redisCache) Put(ctx context.Context, key string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("cache put failed", "error", err)
	}
}

// -------------------- In-memory --------------------

type memoryCache struct {
	m sync.Map
}

func NewMemory() EmbeddingCache {
	return &memoryCache{}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]float32, bool) {
	v, ok := c.m.Load(key)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

func (c *memoryCache) Put(_ context.Context, key string, vec []float32) {
	// Atomic check-then-insert; the first writer wins, which is fine for
	// content-derived values.
	c.m.LoadOrStore(key, vec)
}
