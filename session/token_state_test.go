package session

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authlane/access"
	aerrors "github.com/authlane/access/errors"
	"github.com/authlane/access/kv/memory"
)

func newSizedSession(t *testing.T, maxValueSize int) *Session {
	t.Helper()
	backend := memory.NewBackend(maxValueSize)
	id := ID(testAccount, testClientID)
	return New(id, backend.Namespace(id), Config{Issuer: "https://issuer.test"}, nil)
}

func TestStoreTokenRejectsDuplicateJTI(t *testing.T) {
	ctx := context.Background()
	s := newSizedSession(t, 0)

	require.NoError(t, s.StoreToken(ctx, "jti-1", "tok", access.Scope{"openid"}))
	err := s.StoreToken(ctx, "jti-1", "tok-again", access.Scope{"openid"})
	assert.True(t, aerrors.IsCode(err, aerrors.CodeDuplicateToken))

	// The failed insert must not have clobbered the original entry.
	state, err := s.TokenState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", state.TokenMap["jti-1"].JWT)
	assert.Equal(t, []string{"jti-1"}, state.TokenIndex)
}

func TestStoreTokenEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newSizedSession(t, 256)

	const total = 10
	for i := 0; i < total; i++ {
		jti := fmt.Sprintf("jti-%02d", i)
		require.NoError(t, s.StoreToken(ctx, jti, "tok", access.Scope{"openid"}))
	}

	state, err := s.TokenState(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, state.TokenIndex)
	assert.Less(t, len(state.TokenIndex), total)

	// Survivors are exactly the newest entries, in insertion order.
	first := total - len(state.TokenIndex)
	for i, jti := range state.TokenIndex {
		assert.Equal(t, fmt.Sprintf("jti-%02d", first+i), jti)
	}
	assert.NotContains(t, state.TokenMap, "jti-00")
	assert.Contains(t, state.TokenMap, fmt.Sprintf("jti-%02d", total-1))

	// Map and index stay in lockstep.
	assert.Len(t, state.TokenMap, len(state.TokenIndex))
	for _, jti := range state.TokenIndex {
		assert.Contains(t, state.TokenMap, jti)
	}
}

func TestStoreTokenFailsWhenSingleTokenTooLarge(t *testing.T) {
	ctx := context.Background()
	s := newSizedSession(t, 64)

	err := s.StoreToken(ctx, "jti-big", strings.Repeat("x", 200), access.Scope{"openid"})
	assert.True(t, aerrors.IsCode(err, aerrors.CodeCapacity))

	state, stateErr := s.TokenState(ctx)
	require.NoError(t, stateErr)
	assert.Empty(t, state.TokenIndex)
}

func TestRevokeRemovesTokenAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Config{})
	code := authorize(t, s, access.Scope{"openid"})

	bundle, err := s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
	require.NoError(t, err)

	state, err := s.TokenState(ctx)
	require.NoError(t, err)
	require.Len(t, state.TokenIndex, 1)

	jwks, err := s.JWKS(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, bundle.RefreshToken, jwks))
	state, err = s.TokenState(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.TokenIndex)
	assert.Empty(t, state.TokenMap)

	// Revoking an already-revoked token succeeds without effect.
	require.NoError(t, s.Revoke(ctx, bundle.RefreshToken, jwks))
}

func TestRevokeRejectsGarbage(t *testing.T) {
	s := newTestSession(t, Config{})
	jwks, err := s.JWKS(context.Background())
	require.NoError(t, err)

	err = s.Revoke(context.Background(), "not-a-jwt", jwks)
	assert.True(t, aerrors.IsCode(err, aerrors.CodeInvalidToken))
}

func TestRevokeAllForFiltersBySubjectAndAudience(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Config{})

	for i := 0; i < 2; i++ {
		code := authorize(t, s, access.Scope{"openid"})
		_, err := s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
		require.NoError(t, err)
	}

	// A non-matching account leaves everything in place.
	require.NoError(t, s.RevokeAllFor(ctx, "urn:acct:other", testClientID))
	state, err := s.TokenState(ctx)
	require.NoError(t, err)
	assert.Len(t, state.TokenIndex, 2)

	require.NoError(t, s.RevokeAllFor(ctx, testAccount, testClientID))
	state, err = s.TokenState(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.TokenIndex)
}

func TestRevokeAllForSkipsUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Config{})

	code := authorize(t, s, access.Scope{"openid"})
	_, err := s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
	require.NoError(t, err)
	require.NoError(t, s.StoreToken(ctx, "jti-junk", "junk", nil))

	require.NoError(t, s.RevokeAllFor(ctx, testAccount, testClientID))

	state, err := s.TokenState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"jti-junk"}, state.TokenIndex)
}

func TestDeleteAllClearsSession(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Config{})

	code := authorize(t, s, access.Scope{"openid"})
	_, err := s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteAll(ctx))

	_, err = s.Account(ctx)
	assert.True(t, aerrors.IsCode(err, aerrors.CodeMissingAccount))
	state, err := s.TokenState(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.TokenIndex)
}
