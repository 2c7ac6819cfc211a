package server

import (
	"errors"
	"net/http"
	"strings"

	"bookshelf/pkg/domain"
	"bookshelf/services/catalog/internal/app"
)

// /books
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	switch r.Method {
	case http.MethodGet:
		page, limit, err := app.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("limit"))
		if err != nil {
			writeAppError(w, r, "BOOK", err)
			return
		}
		body, err := s.app.ListBooks(r.Context(), page, limit)
		if err != nil {
			writeAppError(w, r, "BOOK", err)
			return
		}
		writeRaw(w, http.StatusOK, body)
	case http.MethodPost:
		if !requireUser(w, id) {
			return
		}
		var in app.BookInput
		if err := decodeJSON(r, &in); err != nil {
			invalidJSON(w, "BOOK")
			return
		}
		book, err := s.app.CreateBook(r.Context(), in)
		if err != nil {
			writeAppError(w, r, "BOOK", err)
			return
		}
		writeJSON(w, http.StatusCreated, book)
	default:
		methodNotAllowed(w)
	}
}

// /books/filter?search=&genre=&page=&limit=
func (s *Server) handleFilterBooks(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	page, limit, err := app.ParsePagination(q.Get("page"), q.Get("limit"))
	if err != nil {
		writeAppError(w, r, "BOOK", err)
		return
	}
	body, err := s.app.FilterBooks(r.Context(), q.Get("search"), q.Get("genre"), page, limit)
	if err != nil {
		writeAppError(w, r, "BOOK", err)
		return
	}
	writeRaw(w, http.StatusOK, body)
}

// /books/{id}, /books/{id}/reviews or /books/{id}/cover
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	path := strings.TrimPrefix(r.URL.Path, "/books/")
	parts := strings.SplitN(path, "/", 2)
	bookID := parts[0]
	if bookID == "" {
		notFound(w)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "reviews":
			s.handleBookReviews(w, r, id, bookID)
		case "cover":
			s.handleBookCover(w, r, id, bookID)
		default:
			notFound(w)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		detail, err := s.app.GetBookDetail(r.Context(), bookID)
		if err != nil {
			writeAppError(w, r, "BOOK", err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	case http.MethodPut, http.MethodPatch:
		if !requireUser(w, id) {
			return
		}
		var in app.BookInput
		if err := decodeJSON(r, &in); err != nil {
			invalidJSON(w, "BOOK")
			return
		}
		book, err := s.app.UpdateBook(r.Context(), bookID, in, r.Method == http.MethodPatch)
		if err != nil {
			writeAppError(w, r, "BOOK", err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if !requireUser(w, id) {
			return
		}
		if err := s.app.DeleteBook(r.Context(), id, bookID); err != nil {
			writeAppError(w, r, "BOOK", err)
			return
		}
		s.audit(r, "catalog.book.delete", "success", "user_id", id.UserID, "book_id", bookID)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookCover(w http.ResponseWriter, r *http.Request, id domain.Identity, bookID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !requireUser(w, id) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "BOOK_FILE_TOO_LARGE", "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "BOOK_INVALID_UPLOAD_FORM", "invalid form data")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BOOK_FILE_REQUIRED", "file is required (field: file)")
		return
	}
	defer file.Close()
	book, err := s.app.SetCover(r.Context(), bookID, app.CoverUpload{Size: header.Size, Body: file})
	if err != nil {
		writeAppError(w, r, "BOOK", err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}
