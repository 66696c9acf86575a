package validation

import "lost-found-portal/pkg/models"

// Form is the report draft as typed by the user.
type Form struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Contact     string `json:"contact"`
	Category    string `json:"category"`
}

// NewForm returns an empty draft with the default category.
func NewForm() Form {
	return Form{Category: string(models.CategoryLost)}
}

func (f Form) Value(field Field) string {
	switch field {
	case FieldName:
		return f.Name
	case FieldDescription:
		return f.Description
	case FieldLocation:
		return f.Location
	case FieldContact:
		return f.Contact
	case FieldCategory:
		return f.Category
	}
	return ""
}

// With returns a copy of f with field replaced by the sanitized value.
func (f Form) With(field Field, raw string) Form {
	v := Sanitize(raw)
	switch field {
	case FieldName:
		f.Name = v
	case FieldDescription:
		f.Description = v
	case FieldLocation:
		f.Location = v
	case FieldContact:
		f.Contact = v
	case FieldCategory:
		f.Category = v
	}
	return f
}

// Sanitized strips angle brackets from every field.
func (f Form) Sanitized() Form {
	for _, field := range Fields {
		f = f.With(field, f.Value(field))
	}
	return f
}

// FormState couples a draft with its error record.
type FormState struct {
	Values Form
	Errors Errors
}

func NewFormState() *FormState {
	return &FormState{Values: NewForm()}
}

// Change applies one edit: the sanitized value goes into the draft and only
// the touched field is re-validated. The raw value is validated, as typed.
func (s *FormState) Change(field Field, raw string) *ValidationError {
	s.Values = s.Values.With(field, raw)
	verr := ValidateField(field, raw)
	s.Errors.Set(field, verr)
	return verr
}

// ValidateAll re-checks every field, records the result and reports whether
// the draft may be submitted.
func (s *FormState) ValidateAll() bool {
	s.Errors = ValidateForm(s.Values)
	return IsFormValid(s.Values, s.Errors)
}

func (s *FormState) Valid() bool {
	return IsFormValid(s.Values, s.Errors)
}
