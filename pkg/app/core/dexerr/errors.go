// Package dexerr defines the error taxonomy shared by every exchange component.
// Callers wrap these sentinels with context and test them with errors.Is.
package dexerr

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrDisabled           = errors.New("disabled")
	ErrInvalidParam       = errors.New("invalid parameter")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrOverflow           = errors.New("overflow")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrInvalidMatch       = errors.New("invalid match")
	ErrNoneMatched        = errors.New("none matched")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrDisabled, "disabled"},
	{ErrInvalidParam, "invalid_param"},
	{ErrUnauthorized, "unauthorized"},
	{ErrConflict, "conflict"},
	{ErrOverflow, "overflow"},
	{ErrInvariantViolation, "invariant_violation"},
	{ErrInvalidMatch, "invalid_match"},
	{ErrNoneMatched, "none_matched"},
}

// Code maps an error to a stable machine-readable string.
// Errors outside the taxonomy map to "internal".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// Fatal reports whether err signals an accounting defect rather than a
// rejected request.
func Fatal(err error) bool {
	return errors.Is(err, ErrOverflow) || errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrInvalidMatch)
}
