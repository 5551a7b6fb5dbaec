package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Cache interface {
	GetCache(key string) ([]byte, error)
	SetCache(key string, data []byte, ttl time.Duration) error
}

// CachedProvider remembers page lists so a resumed download sees the same
// pages in the same order as the run that staged them.
type CachedProvider struct {
	Provider
	cache    Cache
	cacheTTL time.Duration
}

func NewCachedProvider(provider Provider, cache Cache, cacheTTL time.Duration) *CachedProvider {
	return &CachedProvider{
		Provider: provider,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

func (c *CachedProvider) Pages(ctx context.Context, chapterID string) ([]Page, error) {
	cacheKey := fmt.Sprintf("pages:%s:%s", c.Info().ID, chapterID)

	data, err := c.cache.GetCache(cacheKey)
	if err != nil {
		return nil, err
	}
	if data != nil {
		var pages []Page
		if err := json.Unmarshal(data, &pages); err == nil && len(pages) > 0 {
			return pages, nil
		}
	}

	pages, err := c.Provider.Pages(ctx, chapterID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(pages); err == nil {
		_ = c.cache.SetCache(cacheKey, data, c.cacheTTL)
	}

	return pages, nil
}
