package store

import (
	"context"
	"errors"

	"bookshelf/pkg/domain"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("unique constraint violated")
	// ErrReferenceMissing is returned when a write references a row that does not exist.
	ErrReferenceMissing = errors.New("referenced record missing")
)

// BookQuery selects a window of the book collection.
type BookQuery struct {
	Offset int
	Limit  int
	// Search matches title or author, case-insensitive substring.
	Search string
	// Genre is an exact match when non-empty.
	Genre string
}

// Store defines persistence operations for users, books, and reviews.
// Uniqueness and referential integrity are enforced by the implementation,
// callers must not rely on a prior existence check.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) (domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)

	// books
	CreateBook(ctx context.Context, b domain.Book) (domain.Book, error)
	GetBook(ctx context.Context, id string) (domain.Book, error)
	UpdateBook(ctx context.Context, b domain.Book) (domain.Book, error)
	DeleteBook(ctx context.Context, id string) error
	ListBooks(ctx context.Context, q BookQuery) ([]domain.Book, int64, error)

	// reviews
	CreateReview(ctx context.Context, r domain.Review) (domain.Review, error)
	GetReview(ctx context.Context, id string) (domain.Review, error)
	UpdateReview(ctx context.Context, r domain.Review) (domain.Review, error)
	DeleteReview(ctx context.Context, id string) error
	ListReviewsByBook(ctx context.Context, bookID string) ([]domain.Review, error)
}
