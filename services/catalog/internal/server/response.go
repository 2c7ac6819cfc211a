package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"bookshelf/internal/util"
	"bookshelf/services/catalog/internal/app"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeRaw writes an already encoded JSON body, such as a cached book page.
func writeRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type errorDetail struct {
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error     string        `json:"error"`
	Code      string        `json:"code"`
	RequestID string        `json:"requestId,omitempty"`
	Details   []errorDetail `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeErrorDetails(w, status, code, msg, nil)
}

func writeErrorDetails(w http.ResponseWriter, status int, code, msg string, details []errorDetail) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
		Details:   details,
	})
}

// writeAppError maps an app error onto a status and a stable code. resource
// prefixes the code ("BOOK", "REVIEW", "USER").
func writeAppError(w http.ResponseWriter, r *http.Request, resource string, err error) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorDetails(w, http.StatusBadRequest, resource+"_INVALID_REQUEST", "invalid request", validationDetails(verr))
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, resource+"_INVALID_REQUEST", err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, resource+"_NOT_FOUND", errorMessage(err, app.ErrNotFound))
	case errors.Is(err, app.ErrConflict):
		writeError(w, http.StatusConflict, resource+"_CONFLICT", errorMessage(err, app.ErrConflict))
	case errors.Is(err, app.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, resource+"_FORBIDDEN", "you do not have permission to perform this action")
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
	case errors.Is(err, app.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "AUTH_RATE_LIMITED", "too many requests")
	case errors.Is(err, app.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "SYSTEM_UNAVAILABLE", errorMessage(err, app.ErrUnavailable))
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		writeError(w, http.StatusInternalServerError, "SYSTEM_INTERNAL_ERROR", "internal error")
	}
}

// errorMessage strips the sentinel prefix from a wrapped error so
// "not found: book not found" reads as "book not found".
func errorMessage(err, sentinel error) string {
	msg := err.Error()
	if trimmed := strings.TrimPrefix(msg, sentinel.Error()+": "); trimmed != "" {
		return trimmed
	}
	return msg
}

func validationDetails(verr *app.ValidationError) []errorDetail {
	fields := make([]string, 0, len(verr.Fields))
	for field := range verr.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	out := make([]errorDetail, 0, len(fields))
	for _, field := range fields {
		out = append(out, errorDetail{Field: field, Reason: verr.Fields[field]})
	}
	return out
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "SYSTEM_METHOD_NOT_ALLOWED", "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "SYSTEM_NOT_FOUND", "not found")
}

func invalidJSON(w http.ResponseWriter, resource string) {
	writeError(w, http.StatusBadRequest, resource+"_INVALID_REQUEST", "invalid JSON body")
}
