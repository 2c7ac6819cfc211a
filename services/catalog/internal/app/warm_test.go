package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"bookshelf/pkg/auth"
	"bookshelf/pkg/cache"
	"bookshelf/pkg/queue"
	"bookshelf/pkg/store"
)

type recordingWarmer struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (w *recordingWarmer) Enqueue(_ context.Context, job queue.Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs = append(w.jobs, job)
	return w.err
}

func newWarmApp(t *testing.T, w MetadataWarmer) *App {
	t.Helper()
	tokens, err := auth.NewTokenManager(auth.TokenOptions{
		Secret:  strings.Repeat("k", 32),
		Revoker: auth.NewMemoryTokenRevoker(),
	})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	a, err := New(Config{
		Store:    store.NewMemoryStore(),
		Cache:    cache.NewMemoryCache(),
		Metadata: &stubMetadata{},
		Tokens:   tokens,
		Warmer:   w,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestWarmupQueuedOnCreateAndTitleChange(t *testing.T) {
	w := &recordingWarmer{}
	a := newWarmApp(t, w)
	ctx := context.Background()

	b, err := a.CreateBook(ctx, BookInput{Title: strPtr("Dune"), Author: strPtr("Frank Herbert")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := a.UpdateBook(ctx, b.ID, BookInput{Genre: strPtr("Sci-Fi")}, true); err != nil {
		t.Fatalf("update genre: %v", err)
	}
	if _, err := a.UpdateBook(ctx, b.ID, BookInput{Title: strPtr("Dune Messiah")}, true); err != nil {
		t.Fatalf("update title: %v", err)
	}

	if len(w.jobs) != 2 {
		t.Fatalf("expected 2 warm-up jobs, got %+v", w.jobs)
	}
	if w.jobs[0].BookID != b.ID || w.jobs[0].Title != "Dune" {
		t.Fatalf("unexpected create job %+v", w.jobs[0])
	}
	if w.jobs[1].Title != "Dune Messiah" || w.jobs[1].Author != "Frank Herbert" {
		t.Fatalf("unexpected update job %+v", w.jobs[1])
	}
}

func TestWarmupFailureDoesNotFailWrite(t *testing.T) {
	a := newWarmApp(t, &recordingWarmer{err: errors.New("redis down")})
	if _, err := a.CreateBook(context.Background(), BookInput{Title: strPtr("Dune"), Author: strPtr("Frank Herbert")}); err != nil {
		t.Fatalf("create should ignore warm-up failures: %v", err)
	}
}
