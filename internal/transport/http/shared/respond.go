// Package shared holds response helpers used by every HTTP handler so that
// error bodies stay uniform across features.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "gazetteer/pkg/domain-errors"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// WriteJSON serializes v with the given status. Encoding failures are
// unrecoverable at this point; the status line has already been written.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a coded domain error onto its HTTP status and envelope.
// Uncoded errors surface as internal.
func WriteError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	code := dErrors.CodeOf(err)
	message := "internal error"
	var fields []string
	if errors.As(err, &de) {
		message = de.Message
		fields = de.Fields
	}
	WriteJSON(w, dErrors.HTTPStatus(err), errorBody{Error: errorDetail{
		Code:    string(code),
		Message: message,
		Fields:  fields,
	}})
}
