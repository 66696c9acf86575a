// Package validation checks report submissions field by field and as a whole
// form. Everything here is pure; callers own the form state.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"lost-found-portal/pkg/models"
)

type Field string

const (
	FieldName        Field = "name"
	FieldDescription Field = "description"
	FieldLocation    Field = "location"
	FieldContact     Field = "contact"
	FieldCategory    Field = "category"
)

// Fields lists every form field in display order.
var Fields = []Field{FieldName, FieldDescription, FieldLocation, FieldContact, FieldCategory}

func ParseField(s string) (Field, bool) {
	for _, f := range Fields {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

type Kind int

const (
	KindRequired Kind = iota + 1
	KindLength
	KindFormat
)

func (k Kind) String() string {
	switch k {
	case KindRequired:
		return "required"
	case KindLength:
		return "length"
	case KindFormat:
		return "format"
	default:
		return "unknown"
	}
}

const (
	MsgRequired          = "This field is required"
	MsgNameLength        = "Item name must be at least 3 characters"
	MsgDescriptionLength = "Description must be at least 10 characters"
	MsgContactFormat     = "Enter a valid email"
	MsgCategoryFormat    = "Category must be lost or found"

	minNameLength        = 3
	minDescriptionLength = 10
)

var emailShape = regexp.MustCompile(`\S+@\S+\.\S+`)

// ValidationError is a single field failure.
type ValidationError struct {
	Field   Field
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func IsValidEmail(s string) bool {
	return emailShape.MatchString(s)
}

// Sanitize strips angle brackets from free text.
func Sanitize(s string) string {
	return strings.NewReplacer("<", "", ">", "").Replace(s)
}

// ValidateField returns nil when raw satisfies every rule for field.
func ValidateField(field Field, raw string) *ValidationError {
	val := strings.TrimSpace(raw)
	if val == "" {
		return &ValidationError{Field: field, Kind: KindRequired, Message: MsgRequired}
	}

	switch field {
	case FieldName:
		if len([]rune(val)) < minNameLength {
			return &ValidationError{Field: field, Kind: KindLength, Message: MsgNameLength}
		}
	case FieldDescription:
		if len([]rune(val)) < minDescriptionLength {
			return &ValidationError{Field: field, Kind: KindLength, Message: MsgDescriptionLength}
		}
	case FieldContact:
		if !IsValidEmail(val) {
			return &ValidationError{Field: field, Kind: KindFormat, Message: MsgContactFormat}
		}
	case FieldCategory:
		if _, err := models.ParseCategory(val); err != nil {
			return &ValidationError{Field: field, Kind: KindFormat, Message: MsgCategoryFormat}
		}
	}
	return nil
}

// ValidateForm runs every rule over every field. Used right before submit.
func ValidateForm(f Form) Errors {
	var errs Errors
	for _, field := range Fields {
		errs.Set(field, ValidateField(field, f.Value(field)))
	}
	return errs
}

// IsFormValid holds iff all rules pass and no error is recorded in errs.
func IsFormValid(f Form, errs Errors) bool {
	return ValidateForm(f).Empty() && errs.Empty()
}

// Errors is the per-field error record parallel to Form.
type Errors struct {
	Name        *ValidationError
	Description *ValidationError
	Location    *ValidationError
	Contact     *ValidationError
	Category    *ValidationError
}

func (e *Errors) slot(field Field) **ValidationError {
	switch field {
	case FieldName:
		return &e.Name
	case FieldDescription:
		return &e.Description
	case FieldLocation:
		return &e.Location
	case FieldContact:
		return &e.Contact
	case FieldCategory:
		return &e.Category
	}
	return nil
}

func (e Errors) Get(field Field) *ValidationError {
	if p := e.slot(field); p != nil {
		return *p
	}
	return nil
}

func (e *Errors) Set(field Field, v *ValidationError) {
	if p := e.slot(field); p != nil {
		*p = v
	}
}

func (e Errors) Empty() bool {
	for _, field := range Fields {
		if e.Get(field) != nil {
			return false
		}
	}
	return true
}

// Messages returns the non-empty messages keyed by field name.
func (e Errors) Messages() map[string]string {
	out := make(map[string]string)
	for _, field := range Fields {
		if v := e.Get(field); v != nil {
			out[string(field)] = v.Message
		}
	}
	return out
}

// Err joins the recorded failures into one error, or nil.
func (e Errors) Err() error {
	var errs []error
	for _, field := range Fields {
		if v := e.Get(field); v != nil {
			errs = append(errs, v)
		}
	}
	return errors.Join(errs...)
}

// FieldErrors extracts the per-field record from an error produced by
// Errors.Err, possibly wrapped.
func FieldErrors(err error) (Errors, bool) {
	var out Errors
	found := false
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		switch x := e.(type) {
		case *ValidationError:
			out.Set(x.Field, x)
			found = true
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out, found
}
