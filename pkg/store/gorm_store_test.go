package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestTranslateGormErrors(t *testing.T) {
	other := errors.New("connection reset")
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"record not found", gorm.ErrRecordNotFound, ErrNotFound},
		{"wrapped record not found", fmt.Errorf("first book: %w", gorm.ErrRecordNotFound), ErrNotFound},
		{"duplicate key", fmt.Errorf("insert user: %w", gorm.ErrDuplicatedKey), ErrConflict},
		{"foreign key", fmt.Errorf("insert review: %w", gorm.ErrForeignKeyViolated), ErrReferenceMissing},
		{"unrelated", other, other},
		{"context", context.DeadlineExceeded, context.DeadlineExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := translate(tc.in)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("translate(nil) = %v", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("translate(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestTranslateKeepsStoreErrorsDistinct(t *testing.T) {
	dup := translate(gorm.ErrDuplicatedKey)
	if errors.Is(dup, ErrNotFound) || errors.Is(dup, ErrReferenceMissing) {
		t.Fatalf("duplicate key mapped to %v", dup)
	}
	fk := translate(gorm.ErrForeignKeyViolated)
	if errors.Is(fk, ErrConflict) || errors.Is(fk, ErrNotFound) {
		t.Fatalf("foreign key violation mapped to %v", fk)
	}
}
