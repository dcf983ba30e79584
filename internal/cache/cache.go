// Package cache provides a cache abstraction for the backend model catalog.
// Supports both local (file) and Redis backends for multi-instance deployments.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// CatalogCache is the cached catalog payload.
type CatalogCache struct {
	UpdatedAt time.Time      `json:"updated_at"`
	Models    []CatalogModel `json:"models"`
}

// CatalogModel is a single cached model entry, as reported by the backend.
type CatalogModel struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Cache defines the interface for catalog cache storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the cached catalog.
	// Returns nil, nil if no cache exists yet.
	Get(ctx context.Context) (*CatalogCache, error)

	// Set stores the catalog.
	Set(ctx context.Context, c *CatalogCache) error

	// Close releases any resources held by the cache.
	Close() error
}

// Key derives a stable cache key from the backend base URL, so instances
// pointed at different backends never share catalog entries.
func Key(backendURL string) string {
	return fmt.Sprintf("modelrelay:catalog:%016x", xxhash.Sum64String(backendURL))
}
