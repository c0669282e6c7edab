package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/authlane/access"
	"github.com/authlane/access/edges"
	"github.com/authlane/access/keys"
)

// DefaultIdleSessionTTL is how long an untouched session actor stays
// resident before being dropped from memory. Durable state is unaffected;
// the actor is rebuilt from storage on next use.
const DefaultIdleSessionTTL = 30 * time.Minute

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Issuer         string
	JKU            string
	AccessTokenTTL time.Duration
	IDTokenTTL     time.Duration
	CodeTTL        time.Duration
	IdleSessionTTL time.Duration

	// MasterSecret, when non-empty, switches token issuance to encryption
	// mode; each session gets a secret derived from it.
	MasterSecret []byte

	Identity IdentityClaimsFunc
	Edges    edges.Store
}

// Manager addresses session actors. One actor exists per (account, clientId)
// pair; actors for different pairs share nothing and run fully in parallel.
type Manager struct {
	backend access.Backend
	cfg     ManagerConfig

	mu    sync.Mutex
	cache *ttlcache.Cache[string, *Session]
}

func NewManager(backend access.Backend, cfg ManagerConfig) *Manager {
	if cfg.IdleSessionTTL <= 0 {
		cfg.IdleSessionTTL = DefaultIdleSessionTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Session](cfg.IdleSessionTTL),
	)
	go cache.Start()

	return &Manager{
		backend: backend,
		cfg:     cfg,
		cache:   cache,
	}
}

// ID derives the actor address for an (account, clientId) pair.
func ID(account, clientID string) string {
	return account + "|" + clientID
}

// Session returns the actor for the pair, building it on first use. The
// same pair always resolves to the same actor instance while it is
// resident, which is what gives each session its single-writer guarantee.
func (m *Manager) Session(account, clientID string) (*Session, error) {
	id := ID(account, clientID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if item := m.cache.Get(id); item != nil {
		return item.Value(), nil
	}

	cfg := Config{
		Issuer:         m.cfg.Issuer,
		JKU:            m.cfg.JKU,
		AccessTokenTTL: m.cfg.AccessTokenTTL,
		IDTokenTTL:     m.cfg.IDTokenTTL,
		CodeTTL:        m.cfg.CodeTTL,
	}
	if len(m.cfg.MasterSecret) > 0 {
		secret, err := keys.DeriveEncryptionSecret(m.cfg.MasterSecret, account, clientID)
		if err != nil {
			return nil, fmt.Errorf("session: derive encryption secret: %w", err)
		}
		cfg.EncryptionSecret = secret
	}

	s := New(id, m.backend.Namespace(id), cfg, m.cfg.Identity)
	m.cache.Set(id, s, ttlcache.DefaultTTL)
	return s, nil
}

// Authorize issues a one-time code through the pair's session actor. When
// the configured edge store is writable, the account-to-client authorization
// edge is recorded so RevokeAccount can find the session later.
func (m *Manager) Authorize(ctx context.Context, account, clientID, redirectURI string, scope access.Scope, state string) (*access.AuthorizeResult, error) {
	s, err := m.Session(account, clientID)
	if err != nil {
		return nil, err
	}
	res, err := s.Authorize(ctx, account, clientID, redirectURI, scope, state)
	if err != nil {
		return nil, err
	}
	if w, ok := m.cfg.Edges.(edges.Mutator); ok {
		w.Add(edges.Edge{Src: account, Dst: clientID, Tag: edges.TagAuthorizes})
	}
	return res, nil
}

// RevokeAccount tears down every authorization the account holds. Client
// relationships are resolved through the platform's edge graph; each
// matching session is cascade-revoked and then deleted.
func (m *Manager) RevokeAccount(ctx context.Context, account string) error {
	if m.cfg.Edges == nil {
		return fmt.Errorf("session: no edge store configured")
	}
	found, err := m.cfg.Edges.Query(ctx, edges.Query{Src: account, Tag: edges.TagAuthorizes})
	if err != nil {
		return fmt.Errorf("session: query authorization edges: %w", err)
	}
	for _, e := range found {
		s, err := m.Session(account, e.Dst)
		if err != nil {
			return err
		}
		if err := s.RevokeAllFor(ctx, account, e.Dst); err != nil {
			return err
		}
		if err := s.DeleteAll(ctx); err != nil {
			return err
		}
		if w, ok := m.cfg.Edges.(edges.Mutator); ok {
			w.Remove(e)
		}
		log.Info().Str("account", account).Str("clientId", e.Dst).
			Msg("session torn down during account revocation")
	}
	return nil
}

// Close stops the idle-eviction loop and releases the backend.
func (m *Manager) Close(ctx context.Context) error {
	m.cache.Stop()
	return m.backend.Close(ctx)
}
