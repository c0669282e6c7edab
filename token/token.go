// Package token issues and verifies the three token kinds of the
// authorization core: access, refresh and ID tokens, as signed (JWS) or
// encrypted (JWE) JWTs.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/authlane/access"
	aerrors "github.com/authlane/access/errors"
)

// JTILength is the entropy, in bytes before hex encoding, of a generated
// token identifier.
const JTILength = 24

// DefaultLeeway absorbs clock skew during claim validation.
const DefaultLeeway = time.Minute

// ContentEncryption is the JWE content algorithm for encryption-mode tokens.
const ContentEncryption = jose.A256GCM

var signatureAlgorithms = []jose.SignatureAlgorithm{
	jose.ES256, jose.ES384, jose.ES512, jose.RS256, jose.PS256, jose.EdDSA,
}

// Protection selects how a token is protected. Exactly one implementation
// must be supplied per issuance.
type Protection interface {
	isProtection()
}

// Signed protects tokens with a JWS over the given private JWK. The JWK
// must carry its algorithm.
type Signed struct {
	JWK jose.JSONWebKey
}

func (Signed) isProtection() {}

// Encrypted protects tokens with a direct-keyed JWE. Secret is the
// base64url-encoded 256-bit symmetric key.
type Encrypted struct {
	Secret string
}

func (Encrypted) isProtection() {}

// Options carries the claims context shared by all token kinds.
type Options struct {
	Issuer   string
	Account  string
	ClientID string
	// JKU is the published JWKS URL, stamped into signed token headers.
	JKU string
	// ExpirationTime of zero omits the exp claim (refresh tokens).
	ExpirationTime time.Duration
	Protection     Protection
}

func (o Options) validate() error {
	switch p := o.Protection.(type) {
	case Signed:
		if p.JWK.Algorithm == "" {
			return aerrors.NewConfiguration("signing jwk is missing alg")
		}
	case Encrypted:
		if p.Secret == "" {
			return aerrors.NewConfiguration("encryption secret is empty")
		}
	case nil:
		return aerrors.NewConfiguration("token protection not configured")
	default:
		return aerrors.NewConfiguration("unknown token protection")
	}
	return nil
}

// VerifyResult carries the validated registered claims plus the full claim
// set of a token.
type VerifyResult struct {
	Claims josejwt.Claims
	All    map[string]interface{}
}

// Scope returns the token's scope claim parsed back into its set form.
func (r *VerifyResult) Scope() access.Scope {
	raw, _ := r.All["scope"].(string)
	return access.ParseScope(raw)
}

// LegacyKeyFunc resolves the locally stored public key used to verify
// tokens issued before signing keys carried a kid.
type LegacyKeyFunc func(ctx context.Context) (jose.JSONWebKey, bool, error)

// Signer mints and verifies tokens for one session scope.
type Signer struct {
	// Legacy, when set, enables the no-kid verification fallback.
	Legacy LegacyKeyFunc

	now func() time.Time
}

func NewSigner(legacy LegacyKeyFunc) *Signer {
	return &Signer{Legacy: legacy, now: time.Now}
}

// WithClock overrides the signer's time source. Intended for tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// GenerateAccessToken mints a stateless bearer token carrying the
// space-delimited scope and a fresh jti. Nothing is persisted.
func (s *Signer) GenerateAccessToken(opts Options, scope access.Scope) (string, error) {
	jti, err := NewJTI()
	if err != nil {
		return "", err
	}
	return s.seal(opts, s.claims(opts, jti), map[string]interface{}{"scope": scope.String()})
}

// GenerateRefreshToken mints a refresh token and returns it with its jti.
// The caller must persist the jti before handing the token out; an
// unpersisted refresh token can never be verified or revoked.
func (s *Signer) GenerateRefreshToken(opts Options, scope access.Scope) (jwt, jti string, err error) {
	jti, err = NewJTI()
	if err != nil {
		return "", "", err
	}
	jwt, err = s.seal(opts, s.claims(opts, jti), map[string]interface{}{"scope": scope.String()})
	if err != nil {
		return "", "", err
	}
	return jwt, jti, nil
}

// GenerateIDToken mints an identity assertion carrying the supplied claims
// verbatim. ID tokens get no jti; they are not individually revocable.
func (s *Signer) GenerateIDToken(opts Options, idClaims map[string]interface{}) (string, error) {
	return s.seal(opts, s.claims(opts, ""), idClaims)
}

func (s *Signer) claims(opts Options, jti string) josejwt.Claims {
	now := s.now()
	cl := josejwt.Claims{
		Issuer:   opts.Issuer,
		Subject:  opts.Account,
		Audience: josejwt.Audience{opts.ClientID},
		IssuedAt: josejwt.NewNumericDate(now),
		ID:       jti,
	}
	if opts.ExpirationTime > 0 {
		cl.Expiry = josejwt.NewNumericDate(now.Add(opts.ExpirationTime))
	}
	return cl
}

func (s *Signer) seal(opts Options, cl josejwt.Claims, extra map[string]interface{}) (string, error) {
	if err := opts.validate(); err != nil {
		return "", err
	}

	switch p := opts.Protection.(type) {
	case Signed:
		sk := jose.SigningKey{
			Algorithm: jose.SignatureAlgorithm(p.JWK.Algorithm),
			Key:       p.JWK,
		}
		sopts := (&jose.SignerOptions{}).WithType("JWT")
		if opts.JKU != "" {
			sopts = sopts.WithHeader(jose.HeaderKey("jku"), opts.JKU)
		}
		signer, err := jose.NewSigner(sk, sopts)
		if err != nil {
			return "", aerrors.Wrap(aerrors.CodeConfiguration, "building signer", err)
		}
		raw, err := josejwt.Signed(signer).Claims(cl).Claims(extra).Serialize()
		if err != nil {
			return "", fmt.Errorf("token: sign: %w", err)
		}
		return raw, nil

	case Encrypted:
		secret, err := decodeBase64URL(p.Secret)
		if err != nil {
			return "", aerrors.Wrap(aerrors.CodeConfiguration, "decoding encryption secret", err)
		}
		enc, err := jose.NewEncrypter(
			ContentEncryption,
			jose.Recipient{Algorithm: jose.DIRECT, Key: secret},
			(&jose.EncrypterOptions{}).WithType("JWT"),
		)
		if err != nil {
			return "", aerrors.Wrap(aerrors.CodeConfiguration, "building encrypter", err)
		}
		raw, err := josejwt.Encrypted(enc).Claims(cl).Claims(extra).Serialize()
		if err != nil {
			return "", fmt.Errorf("token: encrypt: %w", err)
		}
		return raw, nil
	}

	return "", aerrors.NewConfiguration("token protection not configured")
}

// Verify checks a signed token. Headers carrying a kid are resolved against
// the supplied JWKS; headers without one fall back to the locally stored
// legacy public key.
//
// TODO: drop the legacy branch once no tokens signed by pre-kid keys remain
// in circulation (all such tokens carry a 90-day expiry).
func (s *Signer) Verify(ctx context.Context, raw string, jwks jose.JSONWebKeySet) (*VerifyResult, error) {
	tok, err := josejwt.ParseSigned(raw, signatureAlgorithms)
	if err != nil {
		return nil, aerrors.NewInvalidToken(err)
	}
	if len(tok.Headers) == 0 {
		return nil, aerrors.NewInvalidToken(nil)
	}

	if kid := tok.Headers[0].KeyID; kid != "" {
		matches := jwks.Key(kid)
		if len(matches) == 0 {
			return nil, aerrors.NewVerificationFailed(fmt.Errorf("no key for kid %q", kid))
		}
		return s.checkClaims(tok, matches[0])
	}

	if s.Legacy != nil {
		key, ok, err := s.Legacy(ctx)
		if err != nil {
			return nil, aerrors.NewVerificationFailed(err)
		}
		if ok {
			return s.checkClaims(tok, key)
		}
	}

	return nil, aerrors.NewVerificationFailed(fmt.Errorf("no usable verification key"))
}

func (s *Signer) checkClaims(tok *josejwt.JSONWebToken, key jose.JSONWebKey) (*VerifyResult, error) {
	res := &VerifyResult{}
	if err := tok.Claims(key, &res.Claims, &res.All); err != nil {
		return nil, aerrors.NewVerificationFailed(err)
	}
	if err := s.validate(res.Claims); err != nil {
		return nil, err
	}
	return res, nil
}

// Decrypt opens an encryption-mode token and validates its claims.
func (s *Signer) Decrypt(raw, secret string) (*VerifyResult, error) {
	key, err := decodeBase64URL(secret)
	if err != nil {
		return nil, aerrors.Wrap(aerrors.CodeConfiguration, "decoding encryption secret", err)
	}
	tok, err := josejwt.ParseEncrypted(raw,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{ContentEncryption})
	if err != nil {
		return nil, aerrors.NewInvalidToken(err)
	}
	res := &VerifyResult{}
	if err := tok.Claims(key, &res.Claims, &res.All); err != nil {
		return nil, aerrors.NewVerificationFailed(err)
	}
	if err := s.validate(res.Claims); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Signer) validate(cl josejwt.Claims) error {
	err := cl.ValidateWithLeeway(josejwt.Expected{Time: s.now()}, DefaultLeeway)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, josejwt.ErrExpired):
		return aerrors.NewExpiredToken(err)
	default:
		return aerrors.NewClaimValidationFailed(err)
	}
}

// DecodeUnverified extracts claims from a stored token without checking the
// signature. Only valid for tokens read back from the session's own trusted
// storage.
func DecodeUnverified(raw string) (*VerifyResult, error) {
	tok, err := josejwt.ParseSigned(raw, signatureAlgorithms)
	if err != nil {
		return nil, aerrors.NewInvalidToken(err)
	}
	res := &VerifyResult{}
	if err := tok.UnsafeClaimsWithoutVerification(&res.Claims, &res.All); err != nil {
		return nil, aerrors.NewInvalidToken(err)
	}
	return res, nil
}

// NewJTI generates a fresh hex-encoded token identifier.
func NewJTI() (string, error) {
	return RandomHex(JTILength)
}

// RandomHex returns n random bytes hex-encoded.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("token: read entropy: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func decodeBase64URL(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
