package catalog

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"modelrelay/internal/cache"
	"modelrelay/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tagsBackend(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("Path = %q, want %q", r.URL.Path, "/api/tags")
		}
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"models":[
			{"name":"llama3.2","size":2048,"modified_at":"2026-08-01T10:00:00Z"},
			{"name":"mistral","size":4096,"modified_at":"2026-07-15T08:30:00Z"}
		]}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func testClient(url string) *upstream.Client {
	cfg := upstream.DefaultClientConfig(url)
	cfg.MaxRetries = 0
	cfg.CircuitBreaker = nil
	return upstream.NewClientWithHTTPClient(nil, cfg, nil)
}

func TestCatalog_ListFetchesFromBackend(t *testing.T) {
	var calls atomic.Int32
	server := tagsBackend(t, &calls)

	c := New(testClient(server.URL), nil, 0, testLogger())
	models, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(models))
	}
	if models[0].Name != "llama3.2" || models[0].Size != 2048 {
		t.Errorf("models[0] = %+v", models[0])
	}
	if models[1].Name != "mistral" {
		t.Errorf("models[1].Name = %q, want %q", models[1].Name, "mistral")
	}
}

func TestCatalog_FreshCacheAvoidsBackend(t *testing.T) {
	var calls atomic.Int32
	server := tagsBackend(t, &calls)

	store := cache.NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))
	c := New(testClient(server.URL), store, time.Hour, testLogger())

	first, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1 (second call served from cache)", got)
	}
	if len(first) != len(second) {
		t.Fatalf("result lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Name != second[i].Name || first[i].Size != second[i].Size {
			t.Errorf("models[%d] differ: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestCatalog_StaleCacheRefetches(t *testing.T) {
	var calls atomic.Int32
	server := tagsBackend(t, &calls)

	store := cache.NewLocalCache(filepath.Join(t.TempDir(), "catalog.json"))
	stale := &cache.CatalogCache{
		UpdatedAt: time.Now().Add(-time.Hour),
		Models:    []cache.CatalogModel{{Name: "old-model"}},
	}
	if err := store.Set(context.Background(), stale); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := New(testClient(server.URL), store, time.Minute, testLogger())
	models, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
	if len(models) != 2 || models[0].Name != "llama3.2" {
		t.Errorf("stale cache was served: %+v", models)
	}

	// The refetch refreshed the cache.
	cached, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached == nil || len(cached.Models) != 2 {
		t.Errorf("cache not refreshed: %+v", cached)
	}
}

func TestCatalog_BackendFailurePropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := New(testClient(url), nil, 0, testLogger())
	if _, err := c.List(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}
