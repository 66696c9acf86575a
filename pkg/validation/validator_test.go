package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validForm() Form {
	return Form{
		Name:        "Blue Bag",
		Description: "Left near the library entrance",
		Location:    "Library",
		Contact:     "someone@college.edu",
		Category:    "lost",
	}
}

func TestValidateField(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		raw   string
		kind  Kind
		msg   string
	}{
		{"empty name", FieldName, "   ", KindRequired, MsgRequired},
		{"short name", FieldName, " ab ", KindLength, MsgNameLength},
		{"short description", FieldDescription, "short", KindLength, MsgDescriptionLength},
		{"bad contact", FieldContact, "not-an-email", KindFormat, MsgContactFormat},
		{"contact without dot", FieldContact, "a@b", KindFormat, MsgContactFormat},
		{"empty location", FieldLocation, "", KindRequired, MsgRequired},
		{"empty category", FieldCategory, "", KindRequired, MsgRequired},
		{"unknown category", FieldCategory, "stolen", KindFormat, MsgCategoryFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateField(tt.field, tt.raw)
			require.NotNil(t, verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.kind, verr.Kind)
			assert.Equal(t, tt.msg, verr.Message)
		})
	}
}

func TestValidateFieldAccepts(t *testing.T) {
	assert.Nil(t, ValidateField(FieldName, "Bag"))
	assert.Nil(t, ValidateField(FieldDescription, "0123456789"))
	assert.Nil(t, ValidateField(FieldContact, "a@b.co"))
	assert.Nil(t, ValidateField(FieldLocation, "Gym"))
	assert.Nil(t, ValidateField(FieldCategory, "found"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "scriptalert(1)/script", Sanitize("<script>alert(1)</script>"))
	assert.Equal(t, "plain text", Sanitize("plain text"))
}

func TestIsFormValid(t *testing.T) {
	f := validForm()
	assert.True(t, IsFormValid(f, Errors{}))

	// a stale recorded error blocks submission even when values pass
	var errs Errors
	errs.Set(FieldName, &ValidationError{Field: FieldName, Kind: KindLength, Message: MsgNameLength})
	assert.False(t, IsFormValid(f, errs))

	f.Description = "short"
	assert.False(t, IsFormValid(f, Errors{}))
}

func TestFormStateChangeValidatesTouchedFieldOnly(t *testing.T) {
	s := NewFormState()

	verr := s.Change(FieldName, "<b>Bag</b>")
	assert.Nil(t, verr)
	assert.Equal(t, "bBag/b", s.Values.Name)

	s.Change(FieldDescription, "short")
	require.NotNil(t, s.Errors.Description)
	assert.Nil(t, s.Errors.Contact, "untouched fields are not validated on change")
	assert.False(t, s.Valid())

	s.Change(FieldDescription, "a much longer description")
	assert.Nil(t, s.Errors.Description)
}

func TestFormStateValidateAll(t *testing.T) {
	s := NewFormState()
	s.Change(FieldName, "Umbrella")

	assert.False(t, s.ValidateAll())
	assert.Equal(t, map[string]string{
		"description": MsgRequired,
		"location":    MsgRequired,
		"contact":     MsgRequired,
	}, s.Errors.Messages())

	s.Values = validForm()
	assert.True(t, s.ValidateAll())
	assert.True(t, s.Errors.Empty())
}

func TestErrorsErrRoundTrip(t *testing.T) {
	errs := ValidateForm(Form{Name: "Bag", Description: "short", Location: "Hall", Contact: "x@y.z", Category: "lost"})
	err := errs.Err()
	require.Error(t, err)

	got, ok := FieldErrors(err)
	require.True(t, ok)
	require.NotNil(t, got.Description)
	assert.Equal(t, KindLength, got.Description.Kind)
	assert.Nil(t, got.Name)

	assert.NoError(t, Errors{}.Err())
}
