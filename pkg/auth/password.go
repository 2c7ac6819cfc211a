package auth

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// symbols accepted by the password policy.
const passwordSymbols = `!@#$%^&*(),.?":{}|<>`

var (
	ErrPasswordTooShort    = errors.New("password must be at least 8 characters")
	ErrPasswordNoUppercase = errors.New("password must contain at least one uppercase letter")
	ErrPasswordNoDigit     = errors.New("password must contain at least one number")
	ErrPasswordNoSymbol    = errors.New("password must contain at least one symbol")
)

// HashPassword returns a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword validates a password against a bcrypt hash.
func CheckPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces the password strength policy and returns every
// failed rule joined together.
func ValidatePassword(password string) error {
	var errs []error
	if len([]rune(password)) < minPasswordLength {
		errs = append(errs, ErrPasswordTooShort)
	}
	var upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	if !upper {
		errs = append(errs, ErrPasswordNoUppercase)
	}
	if !digit {
		errs = append(errs, ErrPasswordNoDigit)
	}
	if !symbol {
		errs = append(errs, ErrPasswordNoSymbol)
	}
	return errors.Join(errs...)
}
