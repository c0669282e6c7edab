// Package errors defines the error taxonomy of the authorization core.
// Errors are constructed fresh at each call site so they can carry context;
// equality for control flow goes through the Code, via errors.Is.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies one class of failure in the taxonomy.
type Code string

const (
	// Protocol errors: client-correctable, surfaced as OAuth error responses.
	CodeMissingCode      Code = "missing_code"
	CodeRedirectMismatch Code = "redirect_mismatch"

	// State errors: a session actor reached an impossible state.
	CodeMissingAccount Code = "missing_account"
	CodeDuplicateToken Code = "duplicate_token"

	// Cryptographic errors.
	CodeExpiredToken               Code = "expired_token"
	CodeInvalidToken               Code = "invalid_token"
	CodeTokenClaimValidationFailed Code = "token_claim_validation_failed"
	CodeTokenVerificationFailed    Code = "token_verification_failed"
	CodeConfiguration              Code = "configuration"

	// Capacity errors: a single value exceeds the storage quantum even after
	// the structure has been emptied.
	CodeCapacity Code = "capacity"
)

// Standard OAuth 2.0 wire codes the taxonomy maps onto.
const (
	WireInvalidRequest = "invalid_request"
	WireInvalidGrant   = "invalid_grant"
	WireInvalidToken   = "invalid_token"
	WireServerError    = "server_error"
)

// Wire returns the OAuth 2.0 error code this class is reported as.
func (c Code) Wire() string {
	switch c {
	case CodeMissingCode:
		return WireInvalidGrant
	case CodeRedirectMismatch:
		return WireInvalidRequest
	case CodeExpiredToken, CodeInvalidToken,
		CodeTokenClaimValidationFailed, CodeTokenVerificationFailed:
		return WireInvalidToken
	default:
		return WireServerError
	}
}

// Error is a classified core error. It wraps the collaborator error that
// caused it, if any; raw collaborator errors never cross the public contract.
type Error struct {
	Code        Code
	Description string
	wrapped     error
}

func New(code Code, description string) *Error {
	return &Error{Code: code, Description: description}
}

func Wrap(code Code, description string, err error) *Error {
	return &Error{Code: code, Description: description, wrapped: err}
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is matches any *Error with the same Code, so callers can write
// errors.Is(err, aerrors.New(aerrors.CodeMissingCode, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// CodeOf extracts the taxonomy code from err, or "" if err is not a core
// error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Constructors for the common classes. Each builds a fresh error so the
// description can carry call-site context.

func NewMissingAccount(description string) *Error {
	return New(CodeMissingAccount, description)
}

func NewMissingCode(description string) *Error {
	return New(CodeMissingCode, description)
}

func NewRedirectMismatch(description string) *Error {
	return New(CodeRedirectMismatch, description)
}

func NewDuplicateToken(jti string) *Error {
	return New(CodeDuplicateToken, fmt.Sprintf("refresh token id %q already exists", jti))
}

func NewExpiredToken(err error) *Error {
	return Wrap(CodeExpiredToken, "token is expired", err)
}

func NewInvalidToken(err error) *Error {
	return Wrap(CodeInvalidToken, "token is malformed", err)
}

func NewClaimValidationFailed(err error) *Error {
	return Wrap(CodeTokenClaimValidationFailed, "token claim validation failed", err)
}

func NewVerificationFailed(err error) *Error {
	return Wrap(CodeTokenVerificationFailed, "token verification failed", err)
}

func NewConfiguration(description string) *Error {
	return New(CodeConfiguration, description)
}

func NewCapacity(description string) *Error {
	return New(CodeCapacity, description)
}
