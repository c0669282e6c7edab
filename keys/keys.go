// Package keys manages the signing and encryption key material of one
// session scope: an asymmetric keypair persisted as a JWK pair, and a
// derived symmetric secret for encryption-mode tokens.
package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/authlane/access"
)

// Alg is the signature algorithm for generated keypairs.
const Alg = "ES256"

// Pair is the persisted form of a signing keypair. The private key never
// leaves the session's own storage namespace.
type Pair struct {
	PrivateKey jose.JSONWebKey `json:"privateKey"`
	PublicKey  jose.JSONWebKey `json:"publicKey"`
}

// Provider loads or generates the keypair for one session scope. Key
// material is read-mostly and cached after first load; generation on first
// use happens under the provider's lock so two racing callers cannot mint
// two different keys.
type Provider struct {
	storage access.Storage

	mu     sync.Mutex
	cached *Pair
}

func NewProvider(storage access.Storage) *Provider {
	return &Provider{storage: storage}
}

func (p *Provider) loadOrGenerate(ctx context.Context) (*Pair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return p.cached, nil
	}

	raw, ok, err := p.storage.Get(ctx, access.KeySigningKey)
	if err != nil {
		return nil, fmt.Errorf("keys: load signing key: %w", err)
	}
	if ok {
		var pair Pair
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, fmt.Errorf("keys: decode signing key: %w", err)
		}
		p.cached = &pair
		return p.cached, nil
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate keypair: %w", err)
	}
	kid := uuid.NewString()
	priv := jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: Alg, Use: "sig"}
	pair := Pair{PrivateKey: priv, PublicKey: priv.Public()}

	encoded, err := json.Marshal(pair)
	if err != nil {
		return nil, fmt.Errorf("keys: encode signing key: %w", err)
	}
	if err := p.storage.Put(ctx, access.KeySigningKey, encoded); err != nil {
		return nil, fmt.Errorf("keys: persist signing key: %w", err)
	}
	p.cached = &pair
	return p.cached, nil
}

// SigningKey returns the private JWK, generating and persisting a fresh
// keypair on first use.
func (p *Provider) SigningKey(ctx context.Context) (jose.JSONWebKey, error) {
	pair, err := p.loadOrGenerate(ctx)
	if err != nil {
		return jose.JSONWebKey{}, err
	}
	return pair.PrivateKey, nil
}

// PublicJWKS assembles the published key set for this session scope.
func (p *Provider) PublicJWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	pair, err := p.loadOrGenerate(ctx)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{pair.PublicKey}}, nil
}

// LegacyPublicKey returns the stored public key for the no-kid verification
// fallback. It reports false when no keypair has been persisted yet.
func (p *Provider) LegacyPublicKey(ctx context.Context) (jose.JSONWebKey, bool, error) {
	raw, ok, err := p.storage.Get(ctx, access.KeySigningKey)
	if err != nil || !ok {
		return jose.JSONWebKey{}, false, err
	}
	var pair Pair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return jose.JSONWebKey{}, false, fmt.Errorf("keys: decode signing key: %w", err)
	}
	pub := pair.PublicKey
	if pub.Algorithm == "" {
		pub.Algorithm = Alg
	}
	return pub, true, nil
}

// DeriveEncryptionSecret derives the 256-bit symmetric secret for
// encryption-mode tokens from the deployment master secret, bound to one
// (account, clientID) scope. The result is base64url-encoded, the form the
// token signer expects.
func DeriveEncryptionSecret(master []byte, account, clientID string) (string, error) {
	if len(master) == 0 {
		return "", fmt.Errorf("keys: empty master secret")
	}
	r := hkdf.New(sha256.New, master, nil, []byte(account+"|"+clientID))
	secret := make([]byte, 32)
	if _, err := io.ReadFull(r, secret); err != nil {
		return "", fmt.Errorf("keys: derive secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(secret), nil
}
