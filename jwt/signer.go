package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid is the single failure outcome of [Signer.Verify]: bad
// signature, malformed payload, wrong purpose, or expired timestamp.
// User-supplied garbage never produces a panic, only this error.
var ErrInvalid = errors.New("invalid token")

// Purpose scopes a token to exactly one flow.
type Purpose string

const (
	// PurposeAccess marks short-lived request credentials.
	PurposeAccess Purpose = "access"
	// PurposeRefresh marks single-use session renewal credentials.
	PurposeRefresh Purpose = "refresh"
	// PurposeReset marks single-use password reset credentials.
	PurposeReset Purpose = "reset"
	// PurposeVerify marks single-use email verification credentials.
	PurposeVerify Purpose = "verify"
)

// SigningMethod selects the signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// Config holds the signer's keys and verification options. Keys are
// injected here at construction time; the package keeps no process-wide
// mutable state.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration

	// TimeFunc supplies the clock used when minting and validating
	// timestamps. Defaults to time.Now; tests inject a simulated clock.
	TimeFunc func() time.Time
}

// Claims is the verified payload of an engine token.
type Claims struct {
	Role    string `json:"rol"`
	Purpose string `json:"pur"`
	// TokenID is the server-side ledger identifier: the session row ID
	// for refresh tokens (and the session binding of access tokens), or
	// the single-use record ID for reset/verify tokens.
	TokenID string `json:"tkn,omitempty"`
	jwt.RegisteredClaims
}

// Signer produces and verifies tamper-evident tokens carrying a subject
// id, role, purpose, and expiry.
type Signer struct {
	config Config
}

// NewSigner validates cfg and returns a ready signer.
func NewSigner(cfg Config) (*Signer, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.TimeFunc == nil {
		cfg.TimeFunc = time.Now
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Signer{config: cfg}, nil
}

// Sign mints a token for subject with the given role and purpose,
// expiring after ttl. tokenID binds the token to its ledger row and may
// be empty only for access tokens issued without session binding.
func (s *Signer) Sign(subject, role string, purpose Purpose, tokenID string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("empty subject")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be > 0")
	}

	now := s.config.TimeFunc()
	claims := Claims{
		Role:    role,
		Purpose: string(purpose),
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(s.method(), claims)

	key, err := s.signKey()
	if err != nil {
		return "", err
	}

	return token.SignedString(key)
}

// Verify parses tokenStr and checks its signature, expiry, and purpose.
// Every failure maps to [ErrInvalid].
func (s *Signer) Verify(tokenStr string, purpose Purpose) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.config.TimeFunc),
	}
	if s.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(s.config.Leeway))
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != s.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return s.verifyKey()
	})
	if err != nil {
		return nil, ErrInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.Subject == "" {
		return nil, ErrInvalid
	}
	if claims.Purpose != string(purpose) {
		return nil, ErrInvalid
	}

	return claims, nil
}

func (s *Signer) method() jwt.SigningMethod {
	switch s.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (s *Signer) signKey() (interface{}, error) {
	switch s.config.SigningMethod {
	case MethodHS256:
		return s.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(s.config.PrivateKey)
	}
}

func (s *Signer) verifyKey() (interface{}, error) {
	switch s.config.SigningMethod {
	case MethodHS256:
		return s.config.PrivateKey, nil
	default:
		return parseEdPublicKey(s.config.PublicKey)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
