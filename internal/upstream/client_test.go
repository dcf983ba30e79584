package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"modelrelay/internal/core"
)

func testClientConfig(url string) ClientConfig {
	cfg := DefaultClientConfig(url)
	cfg.MaxRetries = 0
	cfg.InitialBackoff = time.Millisecond
	cfg.CircuitBreaker = nil
	return cfg
}

func TestDo_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q, want %q", r.Header.Get("Content-Type"), "application/json")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	client := NewClientWithHTTPClient(nil, testClientConfig(server.URL), nil)

	var resp struct {
		Models []struct{} `json:"models"`
	}
	err := client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/api/tags",
	}, &resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDo_ErrorStatusMapped(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantType   core.ErrorType
	}{
		{
			name:       "not found",
			statusCode: http.StatusNotFound,
			body:       `{"error":"model \"nope\" not found"}`,
			wantType:   core.ErrorTypeNotFound,
		},
		{
			name:       "bad request",
			statusCode: http.StatusBadRequest,
			body:       `{"error":"invalid options"}`,
			wantType:   core.ErrorTypeInvalidRequest,
		},
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			body:       `{"error":"model load failed"}`,
			wantType:   core.ErrorTypeUpstreamUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClientWithHTTPClient(nil, testClientConfig(server.URL), nil)
			err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/"}, nil)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var relayErr *core.RelayError
			if !errors.As(err, &relayErr) {
				t.Fatalf("error type = %T, want *core.RelayError", err)
			}
			if relayErr.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", relayErr.Type, tt.wantType)
			}
		})
	}
}

func TestDoRaw_RetriesOnServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := testClientConfig(server.URL)
	cfg.MaxRetries = 2
	client := NewClientWithHTTPClient(nil, cfg, nil)

	if _, err := client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestDoStream_DoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer server.Close()

	cfg := testClientConfig(server.URL)
	cfg.MaxRetries = 3
	client := NewClientWithHTTPClient(nil, cfg, nil)

	_, err := client.DoStream(context.Background(), Request{Method: http.MethodPost, Endpoint: "/api/chat"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var relayErr *core.RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("error type = %T, want *core.RelayError", err)
	}
	if relayErr.Type != core.ErrorTypeUpstreamUnavailable {
		t.Errorf("Type = %q, want %q", relayErr.Type, core.ErrorTypeUpstreamUnavailable)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (streams never retry)", got)
	}
}

func TestDoStream_ConnectionRefused(t *testing.T) {
	// Point at a server that has already shut down.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClientWithHTTPClient(nil, testClientConfig(url), nil)
	_, err := client.DoStream(context.Background(), Request{Method: http.MethodPost, Endpoint: "/api/chat"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var relayErr *core.RelayError
	if !errors.As(err, &relayErr) {
		t.Fatalf("error type = %T, want *core.RelayError", err)
	}
	if relayErr.Type != core.ErrorTypeUpstreamUnavailable {
		t.Errorf("Type = %q, want %q", relayErr.Type, core.ErrorTypeUpstreamUnavailable)
	}
}

func TestDoStream_ForwardsRequestID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Request-ID"); got != "req-123" {
			t.Errorf("X-Request-ID = %q, want %q", got, "req-123")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}\n"))
	}))
	defer server.Close()

	client := NewClientWithHTTPClient(nil, testClientConfig(server.URL), nil)
	ctx := core.WithRequestID(context.Background(), "req-123")
	body, err := client.DoStream(ctx, Request{Method: http.MethodPost, Endpoint: "/api/chat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = io.ReadAll(body)
	_ = body.Close()
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testClientConfig(server.URL)
	cfg.CircuitBreaker = &CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}
	client := NewClientWithHTTPClient(nil, cfg, nil)

	for i := 0; i < 2; i++ {
		if _, err := client.DoStream(context.Background(), Request{Method: http.MethodPost, Endpoint: "/"}); err == nil {
			t.Fatal("expected error, got nil")
		}
	}
	if got := client.circuitBreaker.State(); got != "open" {
		t.Errorf("circuit state = %q, want %q", got, "open")
	}

	// Requests are now rejected without reaching the backend.
	_, err := client.DoStream(context.Background(), Request{Method: http.MethodPost, Endpoint: "/"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
