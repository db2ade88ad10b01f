package tokenizer

import (
	"context"
	"fmt"

	"github.com/tokengauge/tokengauge/cache"
)

// Loader fetches tokenizer assets through the request cache, so an asset is
// downloaded once and then served from the store across runs.
type Loader struct {
	cache *cache.Cache
}

// NewLoader returns a loader backed by c.
func NewLoader(c *cache.Cache) *Loader {
	return &Loader{cache: c}
}

// Asset returns the bytes of the tokenizer asset at assetURL, fetching and
// caching it on first use.
func (l *Loader) Asset(ctx context.Context, assetURL string) ([]byte, error) {
	req := cache.NewRequest(assetURL)
	res, err := l.cache.Match(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if res == nil {
		if err := l.cache.Add(ctx, req); err != nil {
			return nil, fmt.Errorf("fetch tokenizer asset: %w", err)
		}
		res, err = l.cache.Match(ctx, req, nil)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, fmt.Errorf("tokenizer asset %s missing after fetch", assetURL)
		}
	}
	return res.Bytes()
}

// Warm prefetches the assets of the given models in one AddAll batch,
// skipping models without an asset and URLs already cached.
func (l *Loader) Warm(ctx context.Context, models []Model) error {
	seen := make(map[string]bool)
	var reqs []*cache.Request
	for _, m := range models {
		if m.AssetURL == "" || seen[m.AssetURL] {
			continue
		}
		seen[m.AssetURL] = true
		req := cache.NewRequest(m.AssetURL)
		res, err := l.cache.Match(ctx, req, nil)
		if err != nil {
			return err
		}
		if res == nil {
			reqs = append(reqs, req)
		}
	}
	if len(reqs) == 0 {
		return nil
	}
	return l.cache.AddAll(ctx, reqs)
}
