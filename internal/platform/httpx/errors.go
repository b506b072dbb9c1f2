// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/Matteomic94/ElementMedica-sub007/internal/shared"
)

// ErrValidation marks malformed request input.
var ErrValidation = errors.New("validation failed")

// CodeValidation is the client code for ErrValidation.
const CodeValidation = "VALIDATION_FAILED"

// ErrorBody is the JSON error envelope returned to clients.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// DeniedBody is returned on permission denial. It lists permission names
// only, never data.
type DeniedBody struct {
	Error    string   `json:"error"`
	Code     string   `json:"code"`
	Required []string `json:"required"`
	Current  []string `json:"current"`
}

// StatusOf maps the error taxonomy to an HTTP status and client code.
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrAuthenticationRequired):
		return http.StatusUnauthorized, shared.CodeAuthRequired
	case errors.Is(err, shared.ErrPermissionDenied):
		return http.StatusForbidden, shared.CodeInsufficientPermissions
	case errors.Is(err, shared.ErrCrossTenantViolation):
		return http.StatusForbidden, shared.CodeIsolationViolation
	case errors.Is(err, shared.ErrConfiguration):
		return http.StatusInternalServerError, shared.CodeConfiguration
	case errors.Is(err, shared.ErrInvalidOperation):
		return http.StatusBadRequest, shared.CodeInvalidOperation
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, shared.CodeNotFound
	case errors.Is(err, shared.ErrDuplicate):
		return http.StatusConflict, shared.CodeDuplicate
	}
	return http.StatusInternalServerError, shared.CodeInternal
}

// RespondError writes the error envelope for err. Internal error text is
// never exposed.
func RespondError(w http.ResponseWriter, err error) {
	status, code := StatusOf(err)
	body := ErrorBody{Error: shared.UserSafeMessage(err), Code: code}
	if errors.Is(err, ErrValidation) {
		body.Error = err.Error()
	}
	var se *shared.Error
	if errors.As(err, &se) && errors.Is(se.Kind, shared.ErrPermissionDenied) {
		JSON(w, status, DeniedBody{Error: body.Error, Code: code, Required: nonNil(se.Required), Current: nonNil(se.Current)})
		return
	}
	JSON(w, status, body)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
