package access

import (
	aerrors "github.com/authlane/access/errors"
)

// Re-exported taxonomy codes so collaborators holding only the root package
// can classify failures without importing the errors package.
const (
	CodeMissingAccount             = aerrors.CodeMissingAccount
	CodeMissingCode                = aerrors.CodeMissingCode
	CodeRedirectMismatch           = aerrors.CodeRedirectMismatch
	CodeDuplicateToken             = aerrors.CodeDuplicateToken
	CodeExpiredToken               = aerrors.CodeExpiredToken
	CodeInvalidToken               = aerrors.CodeInvalidToken
	CodeTokenClaimValidationFailed = aerrors.CodeTokenClaimValidationFailed
	CodeTokenVerificationFailed    = aerrors.CodeTokenVerificationFailed
	CodeConfiguration              = aerrors.CodeConfiguration
	CodeCapacity                   = aerrors.CodeCapacity
)
