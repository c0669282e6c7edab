package errors

import (
	"errors"
	"net/http"
)

// OAuth2Error is the wire form of an error on the HTTP surface, following
// RFC 6749 §5.2.
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *OAuth2Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// StatusCode returns the HTTP status an OAuth2Error is served with.
func (e *OAuth2Error) StatusCode() int {
	switch e.Code {
	case WireInvalidGrant, WireInvalidRequest:
		return http.StatusBadRequest
	case WireInvalidToken:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ToOAuth2 maps a core error onto its wire form. Unclassified errors are
// reported as server_error without leaking the underlying message.
func ToOAuth2(err error) *OAuth2Error {
	var e *Error
	if !errors.As(err, &e) {
		return &OAuth2Error{Code: WireServerError, Description: "internal error"}
	}
	wire := e.Code.Wire()
	desc := e.Description
	if wire == WireServerError {
		// State and capacity errors describe internals; keep those out of
		// responses.
		desc = "internal error"
	}
	return &OAuth2Error{Code: wire, Description: desc}
}
