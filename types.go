package access

import (
	"strings"
	"time"
)

// Scope is the set of permissions attached to an authorization, kept in the
// order the client requested them.
type Scope []string

// String renders the scope as the space-delimited form used in JWT claims.
func (s Scope) String() string {
	return strings.Join(s, " ")
}

// Contains reports whether the scope includes the given entry.
func (s Scope) Contains(entry string) bool {
	for _, e := range s {
		if e == entry {
			return true
		}
	}
	return false
}

// ParseScope splits a space-delimited scope claim back into a Scope.
func ParseScope(raw string) Scope {
	if raw == "" {
		return nil
	}
	return Scope(strings.Fields(raw))
}

// AuthorizationRequest is the payload persisted under codes/<code> when an
// authorization code is issued. It is read exactly once, during redemption.
type AuthorizationRequest struct {
	RedirectURI string    `json:"redirectUri"`
	Scope       Scope     `json:"scope"`
	State       string    `json:"state"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the code carrying this request is past its TTL.
func (r AuthorizationRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// AuthorizeResult is returned by Authorize. State is echoed back verbatim so
// the caller can complete its CSRF check.
type AuthorizeResult struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// Token is one tracked refresh token as persisted in the token map.
type Token struct {
	JWT   string `json:"jwt"`
	Scope Scope  `json:"scope"`
}

// TokenState is the per-session refresh-token bookkeeping structure.
// Every jti in TokenIndex has an entry in TokenMap and vice versa;
// TokenIndex preserves insertion order and doubles as the eviction queue.
type TokenState struct {
	TokenMap   map[string]Token `json:"tokenMap"`
	TokenIndex []string         `json:"tokenIndex"`
}

// NewTokenState returns an empty, non-nil token state.
func NewTokenState() *TokenState {
	return &TokenState{
		TokenMap:   make(map[string]Token),
		TokenIndex: []string{},
	}
}

// TokenBundle is the result of a successful authorization-code exchange.
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
