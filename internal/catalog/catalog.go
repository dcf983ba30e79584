// Package catalog resolves the backend's available models, with a
// cache-aside layer so the listing surface does not hit the backend on
// every request.
package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"modelrelay/internal/cache"
	"modelrelay/internal/upstream"
)

// DefaultTTL is how long a cached catalog is considered fresh.
const DefaultTTL = 5 * time.Minute

// Model describes one available model as reported by the backend.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// tagsResponse is the backend's native model listing body.
type tagsResponse struct {
	Models []Model `json:"models"`
}

// Catalog fetches and caches the backend model list.
type Catalog struct {
	client *upstream.Client
	store  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Catalog. store may be nil, in which case every List call
// hits the backend. A ttl of zero uses DefaultTTL.
func New(client *upstream.Client, store cache.Cache, ttl time.Duration, logger *slog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Catalog{client: client, store: store, ttl: ttl, logger: logger}
}

// List returns the available models, from cache when fresh, otherwise
// fetched from the backend. Cache write failures are logged, not fatal.
func (c *Catalog) List(ctx context.Context) ([]Model, error) {
	if c.store != nil {
		cached, err := c.store.Get(ctx)
		if err != nil {
			c.logger.Warn("catalog cache read failed", "error", err)
		} else if cached != nil && time.Since(cached.UpdatedAt) < c.ttl {
			return fromCached(cached), nil
		}
	}

	var resp tagsResponse
	err := c.client.Do(ctx, upstream.Request{
		Method:   http.MethodGet,
		Endpoint: "/api/tags",
	}, &resp)
	if err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.Set(ctx, toCached(resp.Models)); err != nil {
			c.logger.Warn("catalog cache write failed", "error", err)
		}
	}

	return resp.Models, nil
}

func toCached(models []Model) *cache.CatalogCache {
	cached := &cache.CatalogCache{
		UpdatedAt: time.Now(),
		Models:    make([]cache.CatalogModel, len(models)),
	}
	for i, m := range models {
		cached.Models[i] = cache.CatalogModel{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt}
	}
	return cached
}

func fromCached(cached *cache.CatalogCache) []Model {
	models := make([]Model, len(cached.Models))
	for i, m := range cached.Models {
		models[i] = Model{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt}
	}
	return models
}
