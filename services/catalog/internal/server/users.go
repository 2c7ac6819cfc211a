package server

import (
	"net/http"
	"strings"

	"bookshelf/pkg/domain"
	"bookshelf/services/catalog/internal/app"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type userResponse struct {
	Message string      `json:"message"`
	User    domain.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var in app.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		invalidJSON(w, "USER")
		return
	}
	user, err := s.app.Register(r.Context(), in)
	if err != nil {
		writeAppError(w, r, "USER", err)
		return
	}
	s.audit(r, "catalog.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, userResponse{Message: "User registered successfully", User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "login") {
		s.audit(r, "catalog.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, "USER")
		return
	}
	res, err := s.app.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.audit(r, "catalog.login", "fail", "username", strings.TrimSpace(req.Username))
		writeAppError(w, r, "USER", err)
		return
	}
	s.audit(r, "catalog.login", "success", "username", res.Username)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, "USER")
		return
	}
	if strings.TrimSpace(req.Refresh) == "" {
		writeErrorDetails(w, http.StatusBadRequest, "USER_INVALID_REQUEST", "invalid request",
			[]errorDetail{{Field: "refresh", Reason: "this field is required"}})
		return
	}
	access, err := s.app.Refresh(r.Context(), req.Refresh)
	if err != nil {
		s.audit(r, "catalog.refresh", "fail")
		writeAppError(w, r, "USER", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, "USER")
		return
	}
	if err := s.app.Logout(r.Context(), req.Refresh); err != nil {
		s.audit(r, "catalog.logout", "fail")
		writeAppError(w, r, "USER", err)
		return
	}
	s.audit(r, "catalog.logout", "success")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.app.Profile(r.Context(), id)
	if err != nil {
		writeAppError(w, r, "USER", err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Message: "Welcome, " + user.Username, User: user})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	msg := "User dashboard"
	if id.IsAdmin() {
		msg = "Admin dashboard"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request, _ domain.Identity) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the admin dashboard"})
}
