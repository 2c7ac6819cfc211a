package app

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"bookshelf/pkg/domain"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100

	// maxOffset bounds (page-1)*limit so the row offset stays representable
	// in every backend.
	maxOffset = math.MaxInt32
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields under their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("genre", func(fl validator.FieldLevel) bool {
		return domain.ValidGenre(fl.Field().String())
	})
	return v
}

// check runs struct validation and converts failures into a ValidationError.
func (a *App) check(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "max":
		return "ensure this field has no more than " + fe.Param() + " characters"
	case "min":
		if fe.Kind() == reflect.Int {
			return "ensure this value is greater than or equal to " + fe.Param()
		}
		return "ensure this field has at least " + fe.Param() + " characters"
	case "lte":
		return "ensure this value is less than or equal to " + fe.Param()
	case "gte":
		return "ensure this value is greater than or equal to " + fe.Param()
	case "oneof":
		return fmt.Sprintf("%q is not a valid choice", fe.Value())
	case "genre":
		return fmt.Sprintf("genre %q is not allowed", fe.Value())
	case "url":
		return "enter a valid URL"
	case "email":
		return "enter a valid email address"
	case "eqfield":
		return "passwords do not match"
	default:
		return "invalid value (" + fe.Tag() + ")"
	}
}

// ParsePagination reads the page and limit query values. Empty values take
// the defaults; anything else must be an integer in range.
func ParsePagination(pageRaw, limitRaw string) (int, int, error) {
	page, limit := defaultPage, defaultLimit
	fields := map[string]string{}
	if s := strings.TrimSpace(pageRaw); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			fields["page"] = "page must be a positive integer"
		}
		page = n
	}
	if s := strings.TrimSpace(limitRaw); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxLimit {
			fields["limit"] = fmt.Sprintf("limit must be an integer between 1 and %d", maxLimit)
		}
		limit = n
	}
	if len(fields) > 0 {
		return 0, 0, &ValidationError{Fields: fields}
	}
	if err := checkOffset(page, limit); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}

func checkPagination(page, limit int) error {
	if page < 1 {
		return invalidField("page", "page must be a positive integer")
	}
	if limit < 1 || limit > maxLimit {
		return invalidField("limit", fmt.Sprintf("limit must be an integer between 1 and %d", maxLimit))
	}
	return checkOffset(page, limit)
}

func checkOffset(page, limit int) error {
	if int64(page-1) > maxOffset/int64(limit) {
		return invalidField("page", "page is out of range")
	}
	return nil
}
