package app

import (
	"context"
	"errors"
	"testing"

	"bookshelf/pkg/domain"
)

func registerInput(username string) RegisterInput {
	return RegisterInput{
		Username:  username,
		Email:     username + "@Example.com",
		Password1: "Sup3r$ecret",
		Password2: "Sup3r$ecret",
	}
}

func TestRegisterLoginRefreshLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.app.Register(ctx, registerInput("alice"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Role != domain.RoleUser || u.Email != "alice@example.com" || u.PasswordHash == "Sup3r$ecret" {
		t.Fatalf("unexpected user %+v", u)
	}

	res, err := f.app.Login(ctx, "alice", "Sup3r$ecret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Username != "alice" || res.Email != "alice@example.com" || res.Role != domain.RoleUser || res.Access == "" || res.Refresh == "" {
		t.Fatalf("unexpected login result %+v", res)
	}

	id, err := f.app.Authenticate(res.Access)
	if err != nil || id.UserID != u.ID || id.Role != domain.RoleUser {
		t.Fatalf("authenticate: id=%+v err=%v", id, err)
	}
	if _, err := f.app.Authenticate(res.Refresh); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh token must not authenticate requests, got %v", err)
	}

	access, err := f.app.Refresh(ctx, res.Refresh)
	if err != nil || access == "" {
		t.Fatalf("refresh: %v", err)
	}
	if err := f.app.Logout(ctx, res.Refresh); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := f.app.Refresh(ctx, res.Refresh); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoked refresh token accepted: %v", err)
	}

	profile, err := f.app.Profile(ctx, id)
	if err != nil || profile.Username != "alice" {
		t.Fatalf("profile: %+v err=%v", profile, err)
	}
}

func TestRegisterAdminRoleRequiresSignupFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := registerInput("root")
	in.Role = "admin"

	_, err := f.app.Register(ctx, in)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["role"] == "" {
		t.Fatalf("expected role validation error, got %v", err)
	}
	if _, err := f.store.GetUserByUsername(ctx, "root"); err == nil {
		t.Fatalf("rejected admin sign-up must not create an account")
	}

	plain := registerInput("reader")
	plain.Role = "user"
	if u, err := f.app.Register(ctx, plain); err != nil || u.Role != domain.RoleUser {
		t.Fatalf("register user role: %+v err=%v", u, err)
	}

	f.app.adminSignup = true
	u, err := f.app.Register(ctx, in)
	if err != nil || u.Role != domain.RoleAdmin {
		t.Fatalf("register admin with sign-up enabled: %+v err=%v", u, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		edit  func(*RegisterInput)
		field string
	}{
		{"mismatched passwords", func(in *RegisterInput) { in.Password2 = "Other$ecret1" }, "password2"},
		{"weak password", func(in *RegisterInput) { in.Password1, in.Password2 = "password", "password" }, "password1"},
		{"bad email", func(in *RegisterInput) { in.Email = "nope" }, "email"},
		{"unknown role", func(in *RegisterInput) { in.Role = "owner" }, "role"},
		{"missing username", func(in *RegisterInput) { in.Username = " " }, "username"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := registerInput("bob")
			tc.edit(&in)
			_, err := f.app.Register(ctx, in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("expected field %q in %v", tc.field, verr.Fields)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.app.Register(ctx, registerInput("alice")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.app.Register(ctx, registerInput("alice")); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.app.Register(ctx, registerInput("alice")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.app.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong password: expected unauthorized, got %v", err)
	}
	if _, err := f.app.Login(ctx, "mallory", "Sup3r$ecret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown user: expected unauthorized, got %v", err)
	}
	if _, err := f.app.Login(ctx, "", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty credentials: expected validation error, got %v", err)
	}
}
