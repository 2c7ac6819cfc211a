package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookshelf/pkg/domain"
)

// MemoryStore keeps records in-process. It enforces the same unique and
// foreign-key rules as the database schema, under a single lock, so it can
// stand in for GormStore in tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]domain.User
	books   map[string]domain.Book
	reviews map[string]domain.Review
	seq     map[string]int64 // id -> insertion order
	next    int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]domain.User),
		books:   make(map[string]domain.Book),
		reviews: make(map[string]domain.Review),
		seq:     make(map[string]int64),
	}
}

func (m *MemoryStore) track(id string) {
	m.next++
	m.seq[id] = m.next
}

// CreateUser inserts a user; username and email are unique.
func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username || strings.EqualFold(existing.Email, u.Email) {
			return domain.User{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = u
	m.track(u.ID)
	return u, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return u, nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, ErrNotFound
}

// DeleteUser removes a user and cascades to the user's reviews.
func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	delete(m.seq, id)
	for rid, r := range m.reviews {
		if r.UserID == id {
			delete(m.reviews, rid)
			delete(m.seq, rid)
		}
	}
	return nil
}

// CreateBook stores a new book with a generated id.
func (m *MemoryStore) CreateBook(_ context.Context, b domain.Book) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	b.ID = uuid.NewString()
	b.CreatedAt, b.UpdatedAt = now, now
	m.books[b.ID] = b
	m.track(b.ID)
	return b, nil
}

// GetBook returns a book by ID.
func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, ErrNotFound
	}
	return b, nil
}

// UpdateBook overwrites the mutable fields of an existing book.
func (m *MemoryStore) UpdateBook(_ context.Context, b domain.Book) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.books[b.ID]
	if !ok {
		return domain.Book{}, ErrNotFound
	}
	cur.Title = b.Title
	cur.Author = b.Author
	cur.Genre = b.Genre
	cur.CoverImage = b.CoverImage
	now := time.Now().UTC()
	if !now.After(cur.UpdatedAt) {
		now = cur.UpdatedAt.Add(time.Microsecond)
	}
	cur.UpdatedAt = now
	m.books[b.ID] = cur
	return cur, nil
}

// DeleteBook removes a book and cascades to its reviews.
func (m *MemoryStore) DeleteBook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return ErrNotFound
	}
	delete(m.books, id)
	delete(m.seq, id)
	for rid, r := range m.reviews {
		if r.BookID == id {
			delete(m.reviews, rid)
			delete(m.seq, rid)
		}
	}
	return nil
}

// ListBooks filters, orders by insertion and slices the book collection.
func (m *MemoryStore) ListBooks(_ context.Context, q BookQuery) ([]domain.Book, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		if search != "" &&
			!strings.Contains(strings.ToLower(b.Title), search) &&
			!strings.Contains(strings.ToLower(b.Author), search) {
			continue
		}
		if q.Genre != "" && b.Genre != q.Genre {
			continue
		}
		matched = append(matched, b)
	}
	sort.Slice(matched, func(i, j int) bool {
		return m.seq[matched[i].ID] < m.seq[matched[j].ID]
	})
	total := int64(len(matched))
	start := max(q.Offset, 0)
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if q.Limit > 0 && q.Limit < end-start {
		end = start + q.Limit
	}
	out := make([]domain.Book, end-start)
	copy(out, matched[start:end])
	return out, total, nil
}

// CreateReview inserts a review; the (book, user) pair is unique and both
// references must exist.
func (m *MemoryStore) CreateReview(_ context.Context, r domain.Review) (domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[r.BookID]; !ok {
		return domain.Review{}, ErrReferenceMissing
	}
	if _, ok := m.users[r.UserID]; !ok {
		return domain.Review{}, ErrReferenceMissing
	}
	for _, existing := range m.reviews {
		if existing.BookID == r.BookID && existing.UserID == r.UserID {
			return domain.Review{}, ErrConflict
		}
	}
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	m.reviews[r.ID] = r
	m.track(r.ID)
	return r, nil
}

// GetReview returns a review by ID.
func (m *MemoryStore) GetReview(_ context.Context, id string) (domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reviews[id]
	if !ok {
		return domain.Review{}, ErrNotFound
	}
	return r, nil
}

// UpdateReview replaces rating and comment.
func (m *MemoryStore) UpdateReview(_ context.Context, r domain.Review) (domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.reviews[r.ID]
	if !ok {
		return domain.Review{}, ErrNotFound
	}
	cur.Rating = r.Rating
	cur.Comment = r.Comment
	m.reviews[r.ID] = cur
	return cur, nil
}

// DeleteReview removes a review.
func (m *MemoryStore) DeleteReview(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviews[id]; !ok {
		return ErrNotFound
	}
	delete(m.reviews, id)
	delete(m.seq, id)
	return nil
}

// ListReviewsByBook returns reviews of a book, newest first.
func (m *MemoryStore) ListReviewsByBook(_ context.Context, bookID string) ([]domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Review, 0)
	for _, r := range m.reviews {
		if r.BookID == bookID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})
	return out, nil
}
