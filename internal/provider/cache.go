package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/docuforge/kbase/internal/kberrors"
)

// CachedEmbedder memoizes embeddings in an LRU keyed by model and text.
// Re-indexing and repeated queries over the same corpus hit the cache
// instead of the provider.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with a cache of the given capacity.
func NewCachedEmbedder(inner Embedder, capacity int) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, kberrors.New(kberrors.CodeConfigInvalid, "creating embed cache", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var misses []int
	for i, t := range texts {
		keys[i] = c.cacheKey(t)
		if v, ok := c.cache.Get(keys[i]); ok {
			results[i] = v
		} else {
			misses = append(misses, i)
		}
	}
	if len(misses) == 0 {
		return results, nil
	}

	missTexts := make([]string, len(misses))
	for i, idx := range misses {
		missTexts[i] = texts[idx]
	}
	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for i, v := range vectors {
		idx := misses[i]
		results[idx] = v
		c.cache.Add(keys[idx], v)
	}
	return results, nil
}

func (c *CachedEmbedder) Dimensions() int                  { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string                { return c.inner.ModelName() }
func (c *CachedEmbedder) Probe(ctx context.Context) error  { return c.inner.Probe(ctx) }
func (c *CachedEmbedder) Close() error                     { return c.inner.Close() }

// RateLimitedEmbedder rejects calls past a request budget so a burst of
// conversions cannot flatten a shared embedding backend.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

var _ Embedder = (*RateLimitedEmbedder)(nil)

// NewRateLimitedEmbedder wraps inner with an rps budget and burst size.
func NewRateLimitedEmbedder(inner Embedder, rps float64, burst int) *RateLimitedEmbedder {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !r.limiter.Allow() {
		return nil, kberrors.Newf(kberrors.CodeProviderBusy, "embedding rate limit exceeded")
	}
	return r.inner.Embed(ctx, text)
}

func (r *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !r.limiter.Allow() {
		return nil, kberrors.Newf(kberrors.CodeProviderBusy, "embedding rate limit exceeded")
	}
	return r.inner.EmbedBatch(ctx, texts)
}

func (r *RateLimitedEmbedder) Dimensions() int                 { return r.inner.Dimensions() }
func (r *RateLimitedEmbedder) ModelName() string               { return r.inner.ModelName() }
func (r *RateLimitedEmbedder) Probe(ctx context.Context) error { return r.inner.Probe(ctx) }
func (r *RateLimitedEmbedder) Close() error                    { return r.inner.Close() }
