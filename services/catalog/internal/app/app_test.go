package app

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"bookshelf/pkg/auth"
	"bookshelf/pkg/cache"
	"bookshelf/pkg/domain"
	"bookshelf/pkg/store"
	"bookshelf/services/catalog/internal/googlebooks"
)

// countingStore observes how often the catalog reaches the store.
type countingStore struct {
	*store.MemoryStore
	listCalls         atomic.Int32
	createReviewCalls atomic.Int32
}

func (s *countingStore) ListBooks(ctx context.Context, q store.BookQuery) ([]domain.Book, int64, error) {
	s.listCalls.Add(1)
	return s.MemoryStore.ListBooks(ctx, q)
}

func (s *countingStore) CreateReview(ctx context.Context, r domain.Review) (domain.Review, error) {
	s.createReviewCalls.Add(1)
	return s.MemoryStore.CreateReview(ctx, r)
}

type stubMetadata struct {
	mu    sync.Mutex
	md    googlebooks.Metadata
	calls []string
}

func (m *stubMetadata) FetchMetadata(_ context.Context, title, author string) googlebooks.Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, title+"|"+author)
	return m.md
}

type fixture struct {
	app   *App
	store *countingStore
	redis *miniredis.Miniredis
	meta  *stubMetadata
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newFixtureWith(t, cache.NewRedisCache(client), mr, nil)
}

func newFixtureWith(t *testing.T, c cache.Cache, mr *miniredis.Miniredis, meta MetadataFetcher) *fixture {
	t.Helper()
	tokens, err := auth.NewTokenManager(auth.TokenOptions{
		Secret:  strings.Repeat("k", 32),
		Revoker: auth.NewMemoryTokenRevoker(),
	})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	stub := &stubMetadata{md: googlebooks.Metadata{
		Description:   "A desert planet.",
		PublishedDate: "1965",
		Publisher:     "Chilton",
		Thumbnail:     googlebooks.NoThumbnail,
	}}
	if meta == nil {
		meta = stub
	}
	st := &countingStore{MemoryStore: store.NewMemoryStore()}
	a, err := New(Config{Store: st, Cache: c, Metadata: meta, Tokens: tokens})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &fixture{app: a, store: st, redis: mr, meta: stub}
}

func (f *fixture) user(t *testing.T, name string, role domain.UserRole) domain.Identity {
	t.Helper()
	u, err := f.store.CreateUser(context.Background(), domain.User{
		Username: name,
		Email:    name + "@example.com",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return domain.Identity{UserID: u.ID, Role: u.Role}
}

func (f *fixture) book(t *testing.T, title, author, genre string) domain.Book {
	t.Helper()
	b, err := f.app.CreateBook(context.Background(), BookInput{
		Title:  strPtr(title),
		Author: strPtr(author),
		Genre:  strPtr(genre),
	})
	if err != nil {
		t.Fatalf("create book %q: %v", title, err)
	}
	return b
}

func strPtr(s string) *string { return &s }

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without database URL")
	}
	if _, err := New(Config{DatabaseURL: "memory"}); err == nil {
		t.Fatalf("expected error without cache")
	}
}
