// Package session implements the authorization session actor: the
// single-writer stateful unit scoped to one (account, clientId)
// relationship. It owns code issuance and redemption, token minting, the
// refresh-token bookkeeping and revocation.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/rs/zerolog/log"

	"github.com/authlane/access"
	aerrors "github.com/authlane/access/errors"
	"github.com/authlane/access/internal/metrics"
	"github.com/authlane/access/keys"
	"github.com/authlane/access/token"
)

// CodeLength is the entropy, in bytes before hex encoding, of an
// authorization code. At 32 bytes the collision probability is negligible,
// so issued codes are not checked for uniqueness.
const CodeLength = 32

const (
	// DefaultCodeTTL bounds how long an issued code stays redeemable.
	DefaultCodeTTL = 10 * time.Minute

	DefaultAccessTokenTTL = time.Hour
	DefaultIDTokenTTL     = time.Hour
)

// IdentityClaimsFunc supplies the identity claims of an ID token. The core
// does not own the profile graph; callers plug in their resolver here.
type IdentityClaimsFunc func(ctx context.Context, account string, scope access.Scope) (map[string]interface{}, error)

// Config is the per-session issuance configuration.
type Config struct {
	Issuer string
	// JKU is the published JWKS URL stamped into signed token headers.
	JKU            string
	AccessTokenTTL time.Duration
	IDTokenTTL     time.Duration
	CodeTTL        time.Duration
	// EncryptionSecret, when non-empty, switches issuance from signing to
	// encryption mode. Base64url-encoded 256-bit key.
	EncryptionSecret string
}

func (c Config) withDefaults() Config {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.IDTokenTTL <= 0 {
		c.IDTokenTTL = DefaultIDTokenTTL
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	return c
}

// Session is one authorization session actor. All mutating operations run
// under the actor's writer lock; operations on different sessions proceed in
// parallel.
type Session struct {
	mu sync.Mutex

	id       string
	storage  access.Storage
	keys     *keys.Provider
	signer   *token.Signer
	cfg      Config
	identity IdentityClaimsFunc

	now func() time.Time
}

// New assembles a session actor over its storage namespace.
func New(id string, storage access.Storage, cfg Config, identity IdentityClaimsFunc) *Session {
	kp := keys.NewProvider(storage)
	return &Session{
		id:       id,
		storage:  storage,
		keys:     kp,
		signer:   token.NewSigner(kp.LegacyPublicKey),
		cfg:      cfg.withDefaults(),
		identity: identity,
		now:      time.Now,
	}
}

// Authorize issues a one-time authorization code bound to the request. The
// owning account and client are persisted in the same atomic write as the
// code record; state is echoed back verbatim.
func (s *Session) Authorize(ctx context.Context, account, clientID, redirectURI string, scope access.Scope, state string) (*access.AuthorizeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, err := token.RandomHex(CodeLength)
	if err != nil {
		return nil, err
	}

	req := access.AuthorizationRequest{
		RedirectURI: redirectURI,
		Scope:       scope,
		State:       state,
		ExpiresAt:   s.now().Add(s.cfg.CodeTTL),
	}
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("session: encode authorization request: %w", err)
	}

	err = s.storage.Update(ctx, func(tx access.Tx) error {
		if err := tx.Put(access.KeyAccount, []byte(account)); err != nil {
			return err
		}
		if err := tx.Put(access.KeyClientID, []byte(clientID)); err != nil {
			return err
		}
		return tx.Put(access.CodeKeyPrefix+code, encoded)
	})
	if err != nil {
		return nil, fmt.Errorf("session: persist authorization code: %w", err)
	}

	metrics.CodesIssuedTotal.Inc()
	log.Debug().
		Str("session", s.id).
		Str("clientId", clientID).
		Str("scope", scope.String()).
		Msg("authorization code issued")

	return &access.AuthorizeResult{Code: code, State: state}, nil
}

// ExchangeCode redeems an authorization code for a token bundle. The read,
// validation and deletion of the code record happen in one transaction, so
// of two concurrent redemptions exactly one observes the code present.
//
// A redirect URI mismatch does not consume the code; it stays redeemable
// with the correct URI until it expires.
func (s *Session) ExchangeCode(ctx context.Context, code, redirectURI, clientID string) (*access.TokenBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		account string
		req     access.AuthorizationRequest
		expired string
	)
	err := s.storage.Update(ctx, func(tx access.Tx) error {
		raw, ok, err := tx.Get(access.KeyAccount)
		if err != nil {
			return err
		}
		if !ok {
			return aerrors.NewMissingAccount("session was never authorized")
		}
		account = string(raw)

		codeKey := access.CodeKeyPrefix + code
		stored, ok, err := tx.Get(codeKey)
		if err != nil {
			return err
		}
		if !ok {
			return aerrors.NewMissingCode("unknown or already redeemed code")
		}
		if err := json.Unmarshal(stored, &req); err != nil {
			return fmt.Errorf("session: decode authorization request: %w", err)
		}
		if req.Expired(s.now()) {
			// The error aborts this transaction, so the dead record is
			// reaped in a separate write below.
			expired = codeKey
			return aerrors.NewMissingCode("code expired")
		}
		if redirectURI != req.RedirectURI {
			return aerrors.NewRedirectMismatch("redirect URI does not match authorization request")
		}
		_, err = tx.Delete(codeKey)
		return err
	})
	if err != nil {
		if expired != "" {
			if _, derr := s.storage.Delete(ctx, expired); derr != nil {
				log.Warn().Err(derr).Str("session", s.id).
					Msg("failed to reap expired authorization code")
			}
		}
		return nil, err
	}

	metrics.CodesRedeemedTotal.Inc()

	bundle, err := s.mint(ctx, account, clientID, req.Scope)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("session", s.id).
		Str("clientId", clientID).
		Str("scope", req.Scope.String()).
		Msg("authorization code exchanged")
	return bundle, nil
}

// mint produces the access/refresh/ID token bundle for a redeemed code.
// Callers hold the writer lock.
func (s *Session) mint(ctx context.Context, account, clientID string, scope access.Scope) (*access.TokenBundle, error) {
	protection, err := s.protection(ctx)
	if err != nil {
		return nil, err
	}
	opts := token.Options{
		Issuer:     s.cfg.Issuer,
		Account:    account,
		ClientID:   clientID,
		JKU:        s.cfg.JKU,
		Protection: protection,
	}

	accessOpts := opts
	accessOpts.ExpirationTime = s.cfg.AccessTokenTTL
	accessToken, err := s.signer.GenerateAccessToken(accessOpts, scope)
	if err != nil {
		return nil, err
	}
	metrics.TokensIssuedTotal.Inc()

	refreshToken, jti, err := s.signer.GenerateRefreshToken(opts, scope)
	if err != nil {
		return nil, err
	}
	// The refresh token is only handed out once its jti is durably tracked;
	// an unpersisted refresh token could never be verified or revoked.
	if err := s.storeToken(ctx, jti, refreshToken, scope); err != nil {
		return nil, err
	}
	metrics.TokensIssuedTotal.Inc()

	bundle := &access.TokenBundle{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
		Scope:        scope.String(),
	}

	if scope.Contains("openid") {
		idClaims := map[string]interface{}{}
		if s.identity != nil {
			idClaims, err = s.identity(ctx, account, scope)
			if err != nil {
				return nil, fmt.Errorf("session: resolve identity claims: %w", err)
			}
		}
		idOpts := opts
		idOpts.ExpirationTime = s.cfg.IDTokenTTL
		idToken, err := s.signer.GenerateIDToken(idOpts, idClaims)
		if err != nil {
			return nil, err
		}
		bundle.IDToken = idToken
		metrics.TokensIssuedTotal.Inc()
	}

	return bundle, nil
}

func (s *Session) protection(ctx context.Context) (token.Protection, error) {
	if s.cfg.EncryptionSecret != "" {
		return token.Encrypted{Secret: s.cfg.EncryptionSecret}, nil
	}
	jwk, err := s.keys.SigningKey(ctx)
	if err != nil {
		return nil, err
	}
	return token.Signed{JWK: jwk}, nil
}

// VerifyToken checks a token against the supplied key set, falling back to
// the session's legacy public key for kid-less headers. Encryption-mode
// sessions decrypt with the session secret instead.
func (s *Session) VerifyToken(ctx context.Context, raw string, jwks jose.JSONWebKeySet) (*token.VerifyResult, error) {
	if s.cfg.EncryptionSecret != "" {
		return s.signer.Decrypt(raw, s.cfg.EncryptionSecret)
	}
	return s.signer.Verify(ctx, raw, jwks)
}

// JWKS returns the session's published public key set.
func (s *Session) JWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	return s.keys.PublicJWKS(ctx)
}

// Account returns the account persisted at authorize time.
func (s *Session) Account(ctx context.Context) (string, error) {
	raw, ok, err := s.storage.Get(ctx, access.KeyAccount)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", aerrors.NewMissingAccount("session was never authorized")
	}
	return string(raw), nil
}

// DeleteAll unconditionally clears every key of the session actor. Used for
// full session or account teardown.
func (s *Session) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.storage.DeleteAll(ctx)
}
