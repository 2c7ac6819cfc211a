package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookshelf/internal/util"
	"bookshelf/pkg/auth"
	"bookshelf/pkg/domain"
	"bookshelf/pkg/store"
)

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Username  string `json:"username" validate:"required,max=150"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password1 string `json:"password1" validate:"required"`
	Password2 string `json:"password2" validate:"required,eqfield=Password1"`
	Role      string `json:"role" validate:"omitempty,oneof=admin user"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Access   string          `json:"access"`
	Refresh  string          `json:"refresh"`
	Username string          `json:"username"`
	Email    string          `json:"email"`
	Role     domain.UserRole `json:"role"`
}

// Register creates an account after checking the password policy.
func (a *App) Register(ctx context.Context, in RegisterInput) (domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := a.check(in); err != nil {
		return domain.User{}, err
	}
	if domain.UserRole(in.Role) == domain.RoleAdmin && !a.adminSignup {
		return domain.User{}, invalidField("role", "admin accounts cannot be self-registered")
	}
	if err := auth.ValidatePassword(in.Password1); err != nil {
		return domain.User{}, invalidField("password1", err.Error())
	}
	hash, err := auth.HashPassword(in.Password1)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	role := domain.RoleUser
	if in.Role != "" {
		role = domain.UserRole(in.Role)
	}
	u, err := a.store.CreateUser(ctx, domain.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, fmt.Errorf("%w: username or email already registered", ErrConflict)
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	util.LoggerFromContext(ctx).Info("user registered", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// Login checks credentials and issues an access/refresh pair.
func (a *App) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return LoginResult{}, &ValidationError{Fields: map[string]string{
			"username": "this field is required",
			"password": "this field is required",
		}}
	}
	u, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, fmt.Errorf("%w: no active account found with the given credentials", ErrUnauthorized)
		}
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if !auth.CheckPassword(password, u.PasswordHash) {
		return LoginResult{}, fmt.Errorf("%w: no active account found with the given credentials", ErrUnauthorized)
	}
	pair, err := a.tokens.Issue(u)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue tokens: %w", err)
	}
	util.LoggerFromContext(ctx).Info("user logged in", "user_id", u.ID)
	return LoginResult{
		Access:   pair.Access,
		Refresh:  pair.Refresh,
		Username: u.Username,
		Email:    u.Email,
		Role:     u.Role,
	}, nil
}

// Refresh exchanges a refresh token for a new access token.
func (a *App) Refresh(_ context.Context, refreshToken string) (string, error) {
	access, err := a.tokens.Refresh(refreshToken)
	if err != nil {
		return "", tokenError(err)
	}
	return access, nil
}

// Logout revokes a refresh token.
func (a *App) Logout(_ context.Context, refreshToken string) error {
	if err := a.tokens.Revoke(refreshToken); err != nil {
		return tokenError(err)
	}
	return nil
}

// Authenticate resolves an access token into the caller identity.
func (a *App) Authenticate(token string) (domain.Identity, error) {
	id, err := a.tokens.Authenticate(token)
	if err != nil {
		return domain.Identity{}, tokenError(err)
	}
	return id, nil
}

// Profile returns the caller's account.
func (a *App) Profile(ctx context.Context, requester domain.Identity) (domain.User, error) {
	u, err := a.store.GetUserByID(ctx, requester.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Token outlived the account.
			return domain.User{}, fmt.Errorf("%w: account no longer exists", ErrUnauthorized)
		}
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func tokenError(err error) error {
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenRevoked) {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}
