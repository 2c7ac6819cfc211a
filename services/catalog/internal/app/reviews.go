package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookshelf/pkg/domain"
	"bookshelf/pkg/store"
)

// ReviewInput is the body of a review create or replace request.
type ReviewInput struct {
	Rating  int    `json:"rating" validate:"gte=1,lte=5"`
	Comment string `json:"comment" validate:"required,max=10000"`
}

// CanMutateReview reports whether requester may update or delete r: its
// author or any admin.
func CanMutateReview(requester domain.Identity, r domain.Review) bool {
	if requester.UserID == "" {
		return false
	}
	return requester.IsAdmin() || requester.UserID == r.UserID
}

// CreateReview adds requester's review of a book. The store's unique index
// decides duplicates, so two racing creates yield exactly one Conflict.
func (a *App) CreateReview(ctx context.Context, bookID string, requester domain.Identity, in ReviewInput) (domain.Review, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	if err := a.check(in); err != nil {
		return domain.Review{}, err
	}
	r, err := a.store.CreateReview(ctx, domain.Review{
		BookID:  bookID,
		UserID:  requester.UserID,
		Rating:  in.Rating,
		Comment: in.Comment,
	})
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, store.ErrConflict):
		return domain.Review{}, fmt.Errorf("%w: you have already reviewed this book", ErrConflict)
	case errors.Is(err, store.ErrReferenceMissing):
		return domain.Review{}, fmt.Errorf("%w: book not found", ErrNotFound)
	default:
		return domain.Review{}, fmt.Errorf("create review: %w", err)
	}
}

// ListReviews returns the reviews of a book, newest first.
func (a *App) ListReviews(ctx context.Context, bookID string) ([]domain.Review, error) {
	if _, err := a.store.GetBook(ctx, bookID); err != nil {
		return nil, storeError(err, "book")
	}
	reviews, err := a.store.ListReviewsByBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}
	return reviews, nil
}

// UpdateReview replaces rating and comment of a review.
func (a *App) UpdateReview(ctx context.Context, reviewID string, requester domain.Identity, in ReviewInput) (domain.Review, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	if err := a.check(in); err != nil {
		return domain.Review{}, err
	}
	cur, err := a.authorizeReview(ctx, reviewID, requester)
	if err != nil {
		return domain.Review{}, err
	}
	cur.Rating = in.Rating
	cur.Comment = in.Comment
	updated, err := a.store.UpdateReview(ctx, cur)
	if err != nil {
		return domain.Review{}, storeError(err, "review")
	}
	return updated, nil
}

// DeleteReview removes a review.
func (a *App) DeleteReview(ctx context.Context, reviewID string, requester domain.Identity) error {
	if _, err := a.authorizeReview(ctx, reviewID, requester); err != nil {
		return err
	}
	if err := a.store.DeleteReview(ctx, reviewID); err != nil {
		return storeError(err, "review")
	}
	return nil
}

func (a *App) authorizeReview(ctx context.Context, reviewID string, requester domain.Identity) (domain.Review, error) {
	r, err := a.store.GetReview(ctx, reviewID)
	if err != nil {
		return domain.Review{}, storeError(err, "review")
	}
	if !CanMutateReview(requester, r) {
		return domain.Review{}, fmt.Errorf("%w: only the author or an admin can modify this review", ErrPermissionDenied)
	}
	return r, nil
}
