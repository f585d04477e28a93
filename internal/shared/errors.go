package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation marks malformed client input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a duplicate resource.
	ErrConflict = errors.New("resource already exists")
	// ErrBusinessRule indicates a request that is well-formed but not allowed.
	ErrBusinessRule = errors.New("business rule violated")
	// ErrBackendUnavailable indicates a store or counting backend could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// ValidationError describes a rejected input field. It matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RuleError describes a business rule violation. It matches ErrBusinessRule.
type RuleError struct {
	Message string
}

func (e *RuleError) Error() string { return e.Message }

// Is reports whether target is ErrBusinessRule.
func (e *RuleError) Is(target error) bool {
	return target == ErrBusinessRule
}
