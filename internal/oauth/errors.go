// ABOUTME: OAuth error codes as typed sentinel errors
// ABOUTME: Errors carry the RFC 6749 error code and an optional description

package oauth

import (
	"fmt"
	"net/http"
)

// Error is an OAuth protocol error. Two errors match under errors.Is when
// their codes are equal, so described errors still match the sentinels.
type Error struct {
	Code        string
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// Is matches on error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Status is the HTTP status used when the error is written as JSON.
func (e *Error) Status() int {
	if e.Code == ErrInvalidClient.Code {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}

// OAuth errors
var (
	ErrInvalidRequest          = &Error{Code: "invalid_request"}
	ErrInvalidClient           = &Error{Code: "invalid_client"}
	ErrInvalidGrant            = &Error{Code: "invalid_grant"}
	ErrUnauthorizedClient      = &Error{Code: "unauthorized_client"}
	ErrUnsupportedGrantType    = &Error{Code: "unsupported_grant_type"}
	ErrUnsupportedResponseType = &Error{Code: "unsupported_response_type"}
	ErrInvalidClientMetadata   = &Error{Code: "invalid_client_metadata"}
)

// describe returns a copy of base with a formatted description.
func describe(base *Error, format string, args ...any) *Error {
	return &Error{Code: base.Code, Description: fmt.Sprintf(format, args...)}
}
