package googlebooks

import (
	"context"
	"net/http"
	"testing"

	"bookshelf/pkg/cache"
	"bookshelf/pkg/queue"
)

func TestWarmCachesFoundMetadata(t *testing.T) {
	srv, calls := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(duneVolume))
	})
	c := NewClient(Config{BaseURL: srv.URL, Cache: cache.NewMemoryCache()})

	if err := c.Warm(context.Background(), queue.Job{BookID: "b1", Title: "Dune", Author: "Frank Herbert"}); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if md := c.FetchMetadata(context.Background(), "Dune", "Frank Herbert"); !md.Found() {
		t.Fatalf("expected cached metadata, got %q", md.Error)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}
}

func TestWarmNotFoundIsNotRetried(t *testing.T) {
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalItems":0}`))
	})
	c := NewClient(Config{BaseURL: srv.URL, Cache: cache.NewMemoryCache()})

	if err := c.Warm(context.Background(), queue.Job{BookID: "b1", Title: "x", Author: "y"}); err != nil {
		t.Fatalf("not found should not be retried: %v", err)
	}
}

func TestWarmUpstreamFailureIsRetried(t *testing.T) {
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	c := NewClient(Config{BaseURL: srv.URL, Cache: cache.NewMemoryCache()})

	if err := c.Warm(context.Background(), queue.Job{BookID: "b1", Title: "x", Author: "y"}); err == nil {
		t.Fatalf("expected error for upstream failure")
	}
}
