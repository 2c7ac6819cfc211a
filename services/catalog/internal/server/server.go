package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"bookshelf/internal/ratelimit"
	"bookshelf/internal/util"
	"bookshelf/pkg/domain"
	"bookshelf/services/catalog/internal/app"
	"bookshelf/services/catalog/internal/security"
)

const maxJSONBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// LoginLimiter throttles POST /users/login per client IP. Nil disables it.
	LoginLimiter   *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	// Alerter counts failed security events. Nil disables alerting.
	Alerter        *security.AuditAlerter
	MaxUploadBytes int64
	// MediaDir is served read-only under /media/ when set.
	MediaDir string
}

// Server exposes HTTP endpoints for the catalog service.
type Server struct {
	app            *app.App
	loginLimiter   *ratelimit.FixedWindowLimiter
	trusted        *util.TrustedProxies
	alerter        *security.AuditAlerter
	mux            *http.ServeMux
	maxUploadBytes int64
	mediaDir       string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 5 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		loginLimiter:   cfg.LoginLimiter,
		trusted:        cfg.TrustedProxies,
		alerter:        cfg.Alerter,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		mediaDir:       strings.TrimSpace(cfg.MediaDir),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("catalog", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// books and reviews; reads are anonymous
	s.mux.Handle("/books", s.withIdentity(s.handleBooks))
	s.mux.Handle("/books/filter", s.withIdentity(s.handleFilterBooks))
	s.mux.Handle("/books/", s.withIdentity(s.handleBookByID))
	s.mux.Handle("/reviews/", s.authenticated(s.handleReviewByID))

	// users
	s.mux.HandleFunc("/users/register", s.handleRegister)
	s.mux.HandleFunc("/users/login", s.handleLogin)
	s.mux.HandleFunc("/users/refresh", s.handleRefresh)
	s.mux.HandleFunc("/users/logout", s.handleLogout)
	s.mux.Handle("/users/profile", s.authenticated(s.handleProfile))
	s.mux.Handle("/users/dashboard", s.authenticated(s.handleDashboard))
	s.mux.Handle("/users/admin", s.adminOnly(s.handleAdmin))

	if s.mediaDir != "" {
		s.mux.Handle("/media/", s.media())
	}
}

// media serves stored files without directory listings.
func (s *Server) media() http.Handler {
	files := http.StripPrefix("/media/", http.FileServer(http.Dir(s.mediaDir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(w)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/") {
			notFound(w)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// identityHandler receives the caller. An anonymous caller has an empty
// UserID.
type identityHandler func(http.ResponseWriter, *http.Request, domain.Identity)

// withIdentity resolves an optional bearer token. A request without an
// Authorization header proceeds anonymously; a present but invalid token is
// rejected.
func (s *Server) withIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
			next(w, r, domain.Identity{})
			return
		}
		id, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
			return
		}
		next(w, r, id)
	})
}

func (s *Server) authenticated(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
			return
		}
		next(w, r, id)
	})
}

func (s *Server) adminOnly(next identityHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, id domain.Identity) {
		if !id.IsAdmin() {
			s.audit(r, "catalog.admin.authorize", "fail", "user_id", id.UserID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "USER_FORBIDDEN", "you do not have permission to perform this action")
			return
		}
		next(w, r, id)
	})
}

func (s *Server) authorize(r *http.Request) (domain.Identity, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.Identity{}, false
	}
	id, err := s.app.Authenticate(token)
	if err != nil {
		s.audit(r, "catalog.token.verify", "fail", "reason", "invalid_token")
		return domain.Identity{}, false
	}
	return id, true
}

// requireUser rejects anonymous callers on write routes that share a path
// with anonymous reads.
func requireUser(w http.ResponseWriter, id domain.Identity) bool {
	if id.UserID == "" {
		writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "authentication credentials were not provided")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(dst)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, key string) bool {
	if limiter == nil {
		return true
	}
	if limiter.Allow(r.Context(), key+"|"+util.ClientIP(r, s.trusted)) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, "AUTH_RATE_LIMITED", "too many login attempts, try again later")
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	alert, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if alert.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", alert.Count,
			"threshold", alert.Threshold,
			"window", alert.Window.String(),
		)
	}
}
