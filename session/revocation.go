package session

import (
	"context"

	"github.com/go-jose/go-jose/v4"
	"github.com/rs/zerolog/log"

	"github.com/authlane/access"
	aerrors "github.com/authlane/access/errors"
	"github.com/authlane/access/internal/metrics"
	"github.com/authlane/access/token"
)

// Revoke verifies a refresh token, extracts its jti and removes the
// bookkeeping entry. Revoking a jti that is already gone is a no-op.
func (s *Session) Revoke(ctx context.Context, raw string, jwks jose.JSONWebKeySet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.verifyForRevocation(ctx, raw, jwks)
	if err != nil {
		return err
	}
	jti := res.Claims.ID
	if jti == "" {
		return aerrors.NewInvalidToken(nil)
	}
	return s.revokeJTI(ctx, jti)
}

func (s *Session) verifyForRevocation(ctx context.Context, raw string, jwks jose.JSONWebKeySet) (*token.VerifyResult, error) {
	if s.cfg.EncryptionSecret != "" {
		return s.signer.Decrypt(raw, s.cfg.EncryptionSecret)
	}
	return s.signer.Verify(ctx, raw, jwks)
}

func (s *Session) revokeJTI(ctx context.Context, jti string) error {
	revoked := false
	err := s.storage.Update(ctx, func(tx access.Tx) error {
		state, err := readTokenState(tx)
		if err != nil {
			return err
		}
		if _, ok := state.TokenMap[jti]; ok {
			revoked = true
		}
		delete(state.TokenMap, jti)
		// Remove the first matching index entry only; the map/index
		// invariant guarantees there is at most one.
		for i, id := range state.TokenIndex {
			if id == jti {
				state.TokenIndex = append(state.TokenIndex[:i], state.TokenIndex[i+1:]...)
				break
			}
		}
		return persistTokenState(tx, state)
	})
	if err != nil {
		return err
	}
	if revoked {
		metrics.TokensRevokedTotal.Inc()
	}
	return nil
}

// RevokeAllFor revokes every tracked token belonging to the given
// (account, clientID) pair. Stored tokens are claim-decoded without
// verification; the session's own storage is trusted. A jti vanishing
// mid-iteration is treated as already revoked.
func (s *Session) RevokeAllFor(ctx context.Context, account, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.snapshotState(ctx)
	if err != nil {
		return err
	}

	for _, jti := range state.TokenIndex {
		entry, ok := state.TokenMap[jti]
		if !ok {
			continue
		}
		res, err := s.decodeStored(entry.JWT)
		if err != nil {
			log.Warn().Err(err).Str("session", s.id).Str("jti", jti).
				Msg("skipping undecodable stored token during cascade revocation")
			continue
		}
		if account != "" && res.Claims.Subject != account {
			continue
		}
		if clientID != "" && !res.Claims.Audience.Contains(clientID) {
			continue
		}
		if err := s.revokeJTI(ctx, jti); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) snapshotState(ctx context.Context) (*access.TokenState, error) {
	var state *access.TokenState
	err := s.storage.Update(ctx, func(tx access.Tx) error {
		var err error
		state, err = readTokenState(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// decodeStored extracts the claims of a token held in trusted storage.
func (s *Session) decodeStored(jwt string) (*token.VerifyResult, error) {
	if s.cfg.EncryptionSecret != "" {
		return s.signer.Decrypt(jwt, s.cfg.EncryptionSecret)
	}
	return token.DecodeUnverified(jwt)
}
