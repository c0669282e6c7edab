package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/authlane/access"
	aerrors "github.com/authlane/access/errors"
	"github.com/authlane/access/internal/metrics"
)

// StoreToken tracks a refresh token under its jti. A jti collision means an
// entropy failure or a logic bug and fails the call outright; it is never
// retried with a fresh jti.
func (s *Session) StoreToken(ctx context.Context, jti, jwt string, scope access.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.storeToken(ctx, jti, jwt, scope)
}

func (s *Session) storeToken(ctx context.Context, jti, jwt string, scope access.Scope) error {
	return s.storage.Update(ctx, func(tx access.Tx) error {
		state, err := readTokenState(tx)
		if err != nil {
			return err
		}
		if _, exists := state.TokenMap[jti]; exists {
			return aerrors.NewDuplicateToken(jti)
		}
		state.TokenMap[jti] = access.Token{JWT: jwt, Scope: scope}
		state.TokenIndex = append(state.TokenIndex, jti)
		return persistTokenState(tx, state)
	})
}

// TokenState returns a snapshot of the refresh-token bookkeeping.
func (s *Session) TokenState(ctx context.Context) (*access.TokenState, error) {
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

func readTokenState(tx access.Tx) (*access.TokenState, error) {
	state := access.NewTokenState()

	raw, ok, err := tx.Get(access.KeyTokenMap)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal(raw, &state.TokenMap); err != nil {
			return nil, fmt.Errorf("session: decode token map: %w", err)
		}
	}

	raw, ok, err = tx.Get(access.KeyTokenIndex)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal(raw, &state.TokenIndex); err != nil {
			return nil, fmt.Errorf("session: decode token index: %w", err)
		}
	}

	return state, nil
}

// persistTokenState writes the bookkeeping structure back. When the
// serialized state exceeds the backend's size quantum, the oldest entry
// (head of the index, strict FIFO) is evicted and the write retried. If
// eviction reaches the just-inserted entry and the state still does not
// fit, a single token exceeds the storage quantum and the call fails.
func persistTokenState(tx access.Tx, state *access.TokenState) error {
	for {
		mapRaw, err := json.Marshal(state.TokenMap)
		if err != nil {
			return fmt.Errorf("session: encode token map: %w", err)
		}
		idxRaw, err := json.Marshal(state.TokenIndex)
		if err != nil {
			return fmt.Errorf("session: encode token index: %w", err)
		}

		err = tx.Put(access.KeyTokenMap, mapRaw)
		if err == nil {
			err = tx.Put(access.KeyTokenIndex, idxRaw)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, access.ErrValueTooLarge) {
			return err
		}
		if len(state.TokenIndex) <= 1 {
			return aerrors.NewCapacity("a single token exceeds the storage size limit")
		}

		oldest := state.TokenIndex[0]
		state.TokenIndex = state.TokenIndex[1:]
		delete(state.TokenMap, oldest)
		metrics.TokensEvictedTotal.Inc()
	}
}
