package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spoolhq/content-service/internal/cache"
	"github.com/spoolhq/content-service/internal/clients/openai"
	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/platform/httpx"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

type Config struct {
	Model       string
	Dimension   int
	BatchSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxInFlight int
	CallTimeout time.Duration
}

// Result summarizes one embedding pass. A concept appears in FailedIDs
// when its batch exhausted retries; its Embedding stays nil and the
// caller decides how to degrade.
type Result struct {
	Embedded  int
	CacheHits int
	Retries   int
	FailedIDs []string
}

// Batcher fills Concept.Embedding for a slice of concepts, consulting the
// content-addressed cache before calling the embedding service.
type Batcher struct {
	client openai.Client
	cache  cache.EmbeddingCache
	cfg    Config
	log    *logger.Logger
}

func NewBatcher(client openai.Client, c cache.EmbeddingCache, cfg Config, log *logger.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Batcher{client: client, cache: c, cfg: cfg, log: log}
}

// EmbedConcepts mutates concepts in place. Transient per-batch failures
// degrade to FailedIDs; only context cancellation and dimension
// violations surface as errors.
func (b *Batcher) EmbedConcepts(ctx context.Context, concepts []*domain.Concept) (*Result, error) {
	res := &Result{}

	// Cache pass. Whatever resolves here never reaches the service.
	var missIdx []int
	for i, c := range concepts {
		key := cache.Key(b.cfg.Model, b.cfg.Dimension, c.Content)
		if vec, ok := b.cache.Get(ctx, key); ok && len(vec) == b.cfg.Dimension {
			c.Embedding = vec
			res.CacheHits++
			res.Embedded++
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.MaxInFlight)

	for start := 0; start < len(missIdx); start += b.cfg.BatchSize {
		end := start + b.cfg.BatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]

		g.Go(func() error {
			inputs := make([]string, len(batch))
			for j, idx := range batch {
				inputs[j] = concepts[idx].Content
			}

			vecs, retries, err := b.embedWithRetry(gctx, inputs)
			mu.Lock()
			res.Retries += retries
			mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				b.log.Warn("embedding batch failed, leaving concepts unembedded",
					"batch_size", len(batch), "attempts", b.cfg.MaxAttempts, "error", err)
				mu.Lock()
				for _, idx := range batch {
					res.FailedIDs = append(res.FailedIDs, concepts[idx].ID.String())
				}
				mu.Unlock()
				return nil
			}

			for j, idx := range batch {
				c := concepts[idx]
				if len(vecs[j]) != b.cfg.Dimension {
					return &domain.DimensionMismatchError{
						ConceptID: c.ID.String(),
						Got:       len(vecs[j]),
						Want:      b.cfg.Dimension,
					}
				}
				c.Embedding = vecs[j]
				b.cache.Put(gctx, cache.Key(b.cfg.Model, b.cfg.Dimension, c.Content), vecs[j])
			}
			mu.Lock()
			res.Embedded += len(batch)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

// embedWithRetry retries only transient failures, backing off
// exponentially with jitter between attempts. It returns the number of
// retries consumed alongside the vectors.
func (b *Batcher) embedWithRetry(ctx context.Context, inputs []string) ([][]float32, int, error) {
	var lastErr error
	retries := 0
	for attempt := 0; attempt < b.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			retries++
			base := httpx.Backoff(b.cfg.BaseDelay, attempt-1, b.cfg.MaxDelay)
			// A server-provided Retry-After overrides the computed backoff.
			var svcErr *domain.EmbeddingServiceError
			if errors.As(lastErr, &svcErr) && svcErr.RetryAfter > base {
				base = svcErr.RetryAfter
			}
			if err := httpx.SleepCtx(ctx, httpx.JitterSleep(base)); err != nil {
				return nil, retries, err
			}
		}

		callCtx := ctx
		cancel := func() {}
		if b.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		}
		vecs, err := b.client.Embed(callCtx, inputs)
		cancel()
		if err == nil {
			if len(vecs) != len(inputs) {
				lastErr = &domain.EmbeddingServiceError{
					Err: fmt.Errorf("response returned %d vectors for %d inputs", len(vecs), len(inputs)),
				}
				continue
			}
			return vecs, retries, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, retries, ctx.Err()
		}
		if !httpx.IsRetryableError(err) {
			break
		}
	}
	return nil, retries, lastErr
}
