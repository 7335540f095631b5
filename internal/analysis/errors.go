package analysis

import (
	"fmt"
	"net/http"
)

// Error is an analysis failure with the HTTP status it maps to. Detail is
// the user-facing message returned as {"detail": ...}.
type Error struct {
	Status int
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, http.StatusText(e.Status), e.Cause)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(status int, detail string, cause error) *Error {
	return &Error{Status: status, Detail: detail, Cause: cause}
}
