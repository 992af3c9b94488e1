package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodesAndWrapping(t *testing.T) {
	base := errors.New("disk on fire")
	err := Wrap(base, CodeWriteFailed, "failed to persist locality")

	assert.True(t, HasCode(err, CodeWriteFailed))
	assert.False(t, HasCode(err, CodeValidation))
	assert.Equal(t, CodeWriteFailed, CodeOf(err))
	assert.ErrorIs(t, err, base)

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, HasCode(wrapped, CodeWriteFailed))
}

func TestValidationFields(t *testing.T) {
	err := NewValidation("missing required attributes", "name", "ownership")
	require.Error(t, err)
	assert.Equal(t, []string{"name", "ownership"}, FieldsOf(err))
	assert.Contains(t, err.Error(), "name, ownership")

	assert.Nil(t, FieldsOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(New(CodeNotFound, "no such domain")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewValidation("bad", "lon")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(CodeTemplateSyntax, "unclosed action")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(New(CodeConflict, "dup")))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(New(CodeUnauthorized, "who")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(New(CodeWriteFailed, "tx")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("uncoded")))
}
