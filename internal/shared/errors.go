package shared

import "errors"

var (
	// ErrNotFound indicates a referenced entry, line or identity is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAmount indicates a non-positive amount or a mismatched allocation total.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidState indicates a business-rule violation such as a double return.
	ErrInvalidState = errors.New("invalid state")
	// ErrPermissionDenied indicates a locked entry or cross-branch access by a restricted role.
	ErrPermissionDenied = errors.New("permission denied")
)

// ErrorKind returns the machine-readable kind for a domain error.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	default:
		return "internal"
	}
}

// UserSafeMessage returns a message safe to show to API consumers.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if ErrorKind(err) == "internal" {
		return "internal error"
	}
	return err.Error()
}
