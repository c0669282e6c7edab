package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authlane/access"
	aerrors "github.com/authlane/access/errors"
	"github.com/authlane/access/kv/memory"
)

const (
	testAccount     = "urn:acct:1"
	testClientID    = "app1"
	testRedirectURI = "https://app.test/cb"
)

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.Issuer == "" {
		cfg.Issuer = "https://issuer.test"
	}
	backend := memory.NewBackend(0)
	return New(ID(testAccount, testClientID), backend.Namespace(ID(testAccount, testClientID)), cfg, nil)
}

func authorize(t *testing.T, s *Session, scope access.Scope) string {
	t.Helper()
	res, err := s.Authorize(context.Background(), testAccount, testClientID, testRedirectURI, scope, "s1")
	require.NoError(t, err)
	require.Equal(t, "s1", res.State)
	require.Len(t, res.Code, CodeLength*2)
	return res.Code
}

func TestAuthorizeThenExchange(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Config{})

	code := authorize(t, s, access.Scope{"openid"})

	bundle, err := s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
	require.NoError(t, err)
	assert.NotEmpty(t, bundle.AccessToken)
	assert.NotEmpty(t, bundle.RefreshToken)
	assert.NotEmpty(t, bundle.IDToken)
	assert.Equal(t, "Bearer", bundle.TokenType)
	assert.Equal(t, "openid", bundle.Scope)

	jwks, err := s.JWKS(ctx)
	require.NoError(t, err)
	res, err := s.VerifyToken(ctx, bundle.AccessToken, jwks)
	require.NoError(t, err)
	assert.Equal(t, testAccount, res.Claims.Subject)
	assert.True(t, res.Claims.Audience.Contains(testClientID))
	assert.Equal(t, "https://issuer.test", res.Claims.Issuer)
	assert.Equal(t, "openid", res.All["scope"])
}

func TestExchangeWithoutAuthorizeFailsMissingAccount(t *testing.T) {
	s := newTestSession(t, Config{})

	_, err := s.ExchangeCode(context.Background(), "deadbeef", testRedirectURI, testClientID)
	assert.True(t, aerrors.IsCode(err, aerrors.CodeMissingAccount))
}

func TestExchangeUnknownCodeFailsMissingCode(t *testing.T) {
	s := newTestSession(t, Config{})
	authorize(t, s, access.Scope{"openid"})

	_, err := s.ExchangeCode(context.Background(), "deadbeef", testRedirectURI, testClientID)
	assert.True(t, aerrors.IsCode(err, aerrors.CodeMissingCode))
}

func TestCodeRedeemsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Config{})
	code := authorize(t, s, access.Scope{"openid"})

	_, err := s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
	require.NoError(t, err)

	_, err = s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
	assert.True(t, aerrors.IsCode(err, aerrors.CodeMissingCode))
}

func TestConcurrentRedemptionHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Config{})
	code := authorize(t, s, access.Scope{"openid"})

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
		}(i)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case aerrors.IsCode(err, aerrors.CodeMissingCode):
			losers++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, losers)
}

func TestRedirectMismatchDoesNotConsumeCode(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Config{})
	code := authorize(t, s, access.Scope{"openid"})

	_, err := s.ExchangeCode(ctx, code, "https://evil.test/cb", testClientID)
	assert.True(t, aerrors.IsCode(err, aerrors.CodeRedirectMismatch))

	// The code stays redeemable with the correct URI.
	_, err = s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
	assert.NoError(t, err)
}

func TestExpiredCodeFailsAsMissing(t *testing.T) {
	ctx := context.Background()
	id := ID(testAccount, testClientID)
	storage := memory.NewBackend(0).Namespace(id)
	s := New(id, storage, Config{Issuer: "https://issuer.test", CodeTTL: time.Nanosecond}, nil)
	code := authorize(t, s, access.Scope{"openid"})

	time.Sleep(5 * time.Millisecond)

	_, err := s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
	assert.True(t, aerrors.IsCode(err, aerrors.CodeMissingCode))

	// The dead record must not linger after the failed redemption.
	_, ok, err := storage.Get(ctx, access.CodeKeyPrefix+code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExchangeWithoutOpenIDScopeOmitsIDToken(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Config{})
	code := authorize(t, s, access.Scope{"read:profile"})

	bundle, err := s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
	require.NoError(t, err)
	assert.Empty(t, bundle.IDToken)
	assert.NotEmpty(t, bundle.RefreshToken)
}

func TestEncryptionModeExchange(t *testing.T) {
	ctx := context.Background()
	secret := base64.RawURLEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	s := newTestSession(t, Config{EncryptionSecret: secret})
	code := authorize(t, s, access.Scope{"openid"})

	bundle, err := s.ExchangeCode(ctx, code, testRedirectURI, testClientID)
	require.NoError(t, err)

	// Encryption-mode verification ignores the key set.
	res, err := s.VerifyToken(ctx, bundle.AccessToken, jose.JSONWebKeySet{})
	require.NoError(t, err)
	assert.Equal(t, testAccount, res.Claims.Subject)
}

func TestAccountPersistedByAuthorize(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, Config{})

	_, err := s.Account(ctx)
	assert.True(t, aerrors.IsCode(err, aerrors.CodeMissingAccount))

	authorize(t, s, access.Scope{"openid"})
	account, err := s.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, testAccount, account)
}
