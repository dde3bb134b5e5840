package provider

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"qql-engine/internal/interfaces"
	"qql-engine/internal/types"
)

// cachedProvider memoizes candle fetches for a TTL. Requests that miss
// are batched into a single inner call.
type cachedProvider struct {
	inner interfaces.Provider
	cache *gocache.Cache
}

func WithCache(inner interfaces.Provider, ttl time.Duration) interfaces.Provider {
	return &cachedProvider{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (p *cachedProvider) Name() string { return p.inner.Name() + "+cache" }

func (p *cachedProvider) GetData(ctx context.Context, reqs []types.Request) (map[string][]types.Candle, error) {
	out := make(map[string][]types.Candle, len(reqs))
	var misses []types.Request
	for _, req := range reqs {
		if hit, ok := p.cache.Get(req.Key()); ok {
			out[req.Frame] = hit.([]types.Candle)
			continue
		}
		misses = append(misses, req)
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := p.inner.GetData(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, req := range misses {
		candles := fetched[req.Frame]
		p.cache.Set(req.Key(), candles, gocache.DefaultExpiration)
		out[req.Frame] = candles
	}
	return out, nil
}
