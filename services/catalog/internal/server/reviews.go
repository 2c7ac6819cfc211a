package server

import (
	"net/http"
	"strings"

	"bookshelf/pkg/domain"
	"bookshelf/services/catalog/internal/app"
)

type reviewList struct {
	Count   int             `json:"count"`
	Results []domain.Review `json:"results"`
}

// /books/{id}/reviews
func (s *Server) handleBookReviews(w http.ResponseWriter, r *http.Request, id domain.Identity, bookID string) {
	switch r.Method {
	case http.MethodGet:
		reviews, err := s.app.ListReviews(r.Context(), bookID)
		if err != nil {
			writeAppError(w, r, "BOOK", err)
			return
		}
		if reviews == nil {
			reviews = []domain.Review{}
		}
		writeJSON(w, http.StatusOK, reviewList{Count: len(reviews), Results: reviews})
	case http.MethodPost:
		if !requireUser(w, id) {
			return
		}
		var in app.ReviewInput
		if err := decodeJSON(r, &in); err != nil {
			invalidJSON(w, "REVIEW")
			return
		}
		review, err := s.app.CreateReview(r.Context(), bookID, id, in)
		if err != nil {
			writeAppError(w, r, "REVIEW", err)
			return
		}
		writeJSON(w, http.StatusCreated, review)
	default:
		methodNotAllowed(w)
	}
}

// /reviews/{id}
func (s *Server) handleReviewByID(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	reviewID := strings.TrimPrefix(r.URL.Path, "/reviews/")
	if reviewID == "" || strings.Contains(reviewID, "/") {
		notFound(w)
		return
	}
	switch r.Method {
	case http.MethodPut, http.MethodPatch:
		var in app.ReviewInput
		if err := decodeJSON(r, &in); err != nil {
			invalidJSON(w, "REVIEW")
			return
		}
		review, err := s.app.UpdateReview(r.Context(), reviewID, id, in)
		if err != nil {
			writeAppError(w, r, "REVIEW", err)
			return
		}
		writeJSON(w, http.StatusOK, review)
	case http.MethodDelete:
		if err := s.app.DeleteReview(r.Context(), reviewID, id); err != nil {
			writeAppError(w, r, "REVIEW", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}
