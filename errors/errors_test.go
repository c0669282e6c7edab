package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewMissingCode("unknown code")

	assert.True(t, errors.Is(err, New(CodeMissingCode, "")))
	assert.False(t, errors.Is(err, New(CodeMissingAccount, "")))
}

func TestCodeOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("exchange failed: %w", NewRedirectMismatch("uri differs"))

	assert.Equal(t, CodeRedirectMismatch, CodeOf(err))
	assert.True(t, IsCode(err, CodeRedirectMismatch))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("jose: bad signature")
	err := NewVerificationFailed(cause)

	assert.ErrorIs(t, err, cause)
}

func TestWireMapping(t *testing.T) {
	assert.Equal(t, WireInvalidGrant, CodeMissingCode.Wire())
	assert.Equal(t, WireInvalidRequest, CodeRedirectMismatch.Wire())
	assert.Equal(t, WireInvalidToken, CodeExpiredToken.Wire())
	assert.Equal(t, WireServerError, CodeMissingAccount.Wire())
	assert.Equal(t, WireServerError, CodeDuplicateToken.Wire())
	assert.Equal(t, WireServerError, CodeCapacity.Wire())
}

func TestToOAuth2HidesInternals(t *testing.T) {
	wire := ToOAuth2(NewDuplicateToken("abc"))
	assert.Equal(t, WireServerError, wire.Code)
	assert.Equal(t, "internal error", wire.Description)
	assert.Equal(t, http.StatusInternalServerError, wire.StatusCode())

	wire = ToOAuth2(NewMissingCode("unknown or already redeemed code"))
	assert.Equal(t, WireInvalidGrant, wire.Code)
	assert.Equal(t, "unknown or already redeemed code", wire.Description)
	assert.Equal(t, http.StatusBadRequest, wire.StatusCode())

	wire = ToOAuth2(errors.New("collaborator exploded"))
	assert.Equal(t, WireServerError, wire.Code)
	assert.NotContains(t, wire.Description, "exploded")
}
