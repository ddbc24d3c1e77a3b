// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/atlas-retail/atlas-pos/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// InvalidState and InvalidAmount are retryable after correction; NotFound
// and PermissionDenied are not.
func RespondError(w http.ResponseWriter, err error) {
	kind := shared.ErrorKind(err)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err), kind)
	case errors.Is(err, shared.ErrInvalidAmount):
		Problem(w, http.StatusBadRequest, "Invalid Amount", shared.UserSafeMessage(err), kind)
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", shared.UserSafeMessage(err), kind)
	case errors.Is(err, shared.ErrPermissionDenied):
		Problem(w, http.StatusForbidden, "Permission Denied", shared.UserSafeMessage(err), kind)
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error(), "duplicate")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "", kind)
	}
}
