package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken wraps every parse failure.
var ErrInvalidToken = errors.New("jwt: invalid session token")

// Config configures session token issuance and verification. VerifyKeys
// turns on key rotation: tokens are then verified by their kid header.
type Config struct {
	SessionTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// SessionClaims bind a token to one server session. Elevation is recorded
// on the session, so a token stays valid across the second factor.
type SessionClaims struct {
	UID string `json:"uid"`
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// Signer issues and parses session tokens. It is safe for concurrent use.
type Signer struct {
	ttl       time.Duration
	issuer    string
	audience  string
	maxFuture time.Duration
	keys      *keyring
	parser    *jwt.Parser
	now       func() time.Time
}

// NewSigner validates cfg and parses its keys once.
func NewSigner(cfg Config) (*Signer, error) {
	if cfg.SessionTTL <= 0 {
		return nil, errors.New("jwt: SessionTTL must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: Leeway must be within [0, 2m]")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("jwt: MaxFutureIAT must be within (0, 24h]")
	}
	keys, err := newKeyring(cfg)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{keys.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Signer{
		ttl:       cfg.SessionTTL,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		maxFuture: cfg.MaxFutureIAT,
		keys:      keys,
		parser:    jwt.NewParser(opts...),
		now:       time.Now,
	}, nil
}

// TTL returns the session token lifetime.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Issue signs a token for uid bound to session sid.
func (s *Signer) Issue(uid, sid string) (string, error) {
	if s.keys.sign == nil {
		return "", ErrNoSigningKey
	}
	now := s.now()
	claims := SessionClaims{
		UID: uid,
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	t := jwt.NewWithClaims(s.keys.method, claims)
	if s.keys.signKID != "" {
		t.Header["kid"] = s.keys.signKID
	}
	return t.SignedString(s.keys.sign)
}

// Parse verifies the token and returns its claims. Errors wrap
// ErrInvalidToken.
func (s *Signer) Parse(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if _, err := s.parser.ParseWithClaims(token, claims, s.keys.lookup); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UID == "" || claims.SID == "" {
		return nil, fmt.Errorf("%w: missing uid or sid", ErrInvalidToken)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(s.now().Add(s.maxFuture)) {
		return nil, fmt.Errorf("%w: issued in the future", ErrInvalidToken)
	}
	return claims, nil
}
