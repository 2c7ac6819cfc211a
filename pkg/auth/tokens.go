package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"bookshelf/pkg/domain"
)

const (
	defaultIssuer     = "bookshelf-auth"
	defaultAudience   = "bookshelf-api"
	defaultLeeway     = 30 * time.Second
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
)

// Claims carried by access and refresh tokens.
type Claims struct {
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenOptions configures the token manager.
type TokenOptions struct {
	Secret     string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Revoker    TokenRevoker
}

// TokenPair is the result of a successful login.
type TokenPair struct {
	Access  string
	Refresh string
}

// TokenManager issues and validates HS256 tokens carrying the user's role.
type TokenManager struct {
	secret     []byte
	issuer     string
	audience   string
	leeway     time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
	revoker    TokenRevoker
}

// NewTokenManager builds a manager; the signing secret is mandatory.
func NewTokenManager(opts TokenOptions) (*TokenManager, error) {
	secret := strings.TrimSpace(opts.Secret)
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 characters")
	}
	m := &TokenManager{
		secret:     []byte(secret),
		issuer:     strings.TrimSpace(opts.Issuer),
		audience:   strings.TrimSpace(opts.Audience),
		leeway:     opts.Leeway,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		revoker:    opts.Revoker,
	}
	if m.issuer == "" {
		m.issuer = defaultIssuer
	}
	if m.audience == "" {
		m.audience = defaultAudience
	}
	if m.leeway <= 0 {
		m.leeway = defaultLeeway
	}
	if m.accessTTL <= 0 {
		m.accessTTL = defaultAccessTTL
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = defaultRefreshTTL
	}
	return m, nil
}

// Issue signs a fresh access/refresh pair for the user.
func (m *TokenManager) Issue(u domain.User) (TokenPair, error) {
	access, err := m.sign(u, tokenTypeAccess, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(u, tokenTypeRefresh, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

// Authenticate validates an access token and returns the caller identity.
func (m *TokenManager) Authenticate(token string) (domain.Identity, error) {
	claims, err := m.verify(token, tokenTypeAccess)
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{UserID: claims.Subject, Role: domain.UserRole(claims.Role)}, nil
}

// Refresh validates a refresh token and returns a new access token with the
// claims it carried.
func (m *TokenManager) Refresh(token string) (string, error) {
	claims, err := m.verify(token, tokenTypeRefresh)
	if err != nil {
		return "", err
	}
	u := domain.User{
		ID:       claims.Subject,
		Username: claims.Username,
		Email:    claims.Email,
		Role:     domain.UserRole(claims.Role),
	}
	return m.sign(u, tokenTypeAccess, m.accessTTL)
}

// Revoke blacklists a refresh token until it expires.
func (m *TokenManager) Revoke(token string) error {
	if m.revoker == nil {
		return nil
	}
	claims, err := m.verify(token, tokenTypeRefresh)
	if err != nil {
		return err
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	return m.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time))
}

func (m *TokenManager) sign(u domain.User, tokenType string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(u.ID) == "" {
		return "", errors.New("token subject required")
	}
	now := time.Now().UTC()
	claims := Claims{
		Username:  u.Username,
		Email:     u.Email,
		Role:      string(u.Role),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        randomHexID(12),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *TokenManager) verify(token, tokenType string) (Claims, error) {
	claims := Claims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.leeway),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("signature not valid")
		}
		return claims, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != tokenType {
		return claims, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.TokenType)
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return claims, fmt.Errorf("%w: subject or jti missing", ErrInvalidToken)
	}
	switch domain.UserRole(claims.Role) {
	case domain.RoleAdmin, domain.RoleUser:
	default:
		return claims, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	if m.revoker != nil {
		revoked, err := m.revoker.IsRevoked(claims.ID)
		if err != nil {
			return claims, err
		}
		if revoked {
			return claims, ErrTokenRevoked
		}
	}
	return claims, nil
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}
