package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var hsKey = []byte("0123456789abcdef0123456789abcdef")

func hsConfig() Config {
	return Config{SessionTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: hsKey, Issuer: "goelevate"}
}

func mustSigner(t *testing.T, cfg Config) *Signer {
	t.Helper()
	s, err := NewSigner(cfg)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func edKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519: %v", err)
	}
	return pub, priv
}

func TestIssueAndParseHS256(t *testing.T) {
	s := mustSigner(t, hsConfig())
	tok, err := s.Issue("7", "sid-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := s.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UID != "7" || claims.SID != "sid-1" || claims.Issuer != "goelevate" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if d := claims.ExpiresAt.Sub(claims.IssuedAt.Time); d != time.Hour {
		t.Fatalf("lifetime = %v", d)
	}
}

func TestVerifyOnlyEd25519(t *testing.T) {
	pub, priv := edKeys(t)
	issuer := mustSigner(t, Config{SessionTTL: time.Hour, SigningMethod: MethodEd25519, PrivateKey: priv})
	tok, err := issuer.Issue("7", "sid-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	verifier := mustSigner(t, Config{SessionTTL: time.Hour, SigningMethod: MethodEd25519, PublicKey: pub})
	if _, err := verifier.Parse(tok); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := verifier.Issue("7", "sid-2"); !errors.Is(err, ErrNoSigningKey) {
		t.Fatalf("verify-only Issue: %v", err)
	}
}

func TestParseRejections(t *testing.T) {
	s := mustSigner(t, hsConfig())
	now := time.Now()

	sign := func(method gjwt.SigningMethod, key any, c SessionClaims) string {
		t.Helper()
		tok, err := gjwt.NewWithClaims(method, c).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return tok
	}
	claims := func(mut func(*SessionClaims)) SessionClaims {
		c := SessionClaims{UID: "7", SID: "sid", RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    "goelevate",
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(now.Add(time.Hour)),
		}}
		if mut != nil {
			mut(&c)
		}
		return c
	}
	_, priv := edKeys(t)

	cases := map[string]string{
		"garbage":      "not.a.token",
		"other key":    sign(gjwt.SigningMethodHS256, []byte("ffffffffffffffffffffffffffffffff"), claims(nil)),
		"other alg":    sign(gjwt.SigningMethodEdDSA, priv, claims(nil)),
		"expired":      sign(gjwt.SigningMethodHS256, hsKey, claims(func(c *SessionClaims) { c.ExpiresAt = gjwt.NewNumericDate(now.Add(-time.Minute)) })),
		"no expiry":    sign(gjwt.SigningMethodHS256, hsKey, claims(func(c *SessionClaims) { c.ExpiresAt = nil })),
		"issuer":       sign(gjwt.SigningMethodHS256, hsKey, claims(func(c *SessionClaims) { c.Issuer = "someone-else" })),
		"missing sid":  sign(gjwt.SigningMethodHS256, hsKey, claims(func(c *SessionClaims) { c.SID = "" })),
		"future issue": sign(gjwt.SigningMethodHS256, hsKey, claims(func(c *SessionClaims) { c.IssuedAt = gjwt.NewNumericDate(now.Add(time.Hour)) })),
	}
	for name, tok := range cases {
		if _, err := s.Parse(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: want ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestAudienceAndLeeway(t *testing.T) {
	cfg := hsConfig()
	cfg.Audience = "client"
	cfg.Leeway = time.Minute
	s := mustSigner(t, cfg)

	// issued an hour and twenty seconds ago: expired, but inside the leeway
	s.now = func() time.Time { return time.Now().Add(-time.Hour - 20*time.Second) }
	tok, err := s.Issue("7", "sid")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	s.now = time.Now
	if _, err := s.Parse(tok); err != nil {
		t.Fatalf("Parse within leeway: %v", err)
	}

	other := hsConfig()
	other.Audience = "someone-else"
	if _, err := mustSigner(t, other).Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong audience: %v", err)
	}
}

func TestKeyRotation(t *testing.T) {
	oldKey := []byte("old-old-old-old-old-old-old-old-")
	cfg := hsConfig()
	cfg.PrivateKey = oldKey
	cfg.KeyID = "k1"
	tokOld, err := mustSigner(t, cfg).Issue("7", "sid")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cfg.PrivateKey = hsKey
	cfg.KeyID = "k2"
	cfg.VerifyKeys = map[string][]byte{"k1": oldKey, "k2": hsKey}
	s := mustSigner(t, cfg)
	tokNew, err := s.Issue("7", "sid")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	for name, tok := range map[string]string{"old": tokOld, "new": tokNew} {
		if _, err := s.Parse(tok); err != nil {
			t.Fatalf("%s token: %v", name, err)
		}
	}

	// no kid at all is refused once rotation is on
	bare := hsConfig()
	tokBare, _ := mustSigner(t, bare).Issue("7", "sid")
	if _, err := s.Parse(tokBare); !errors.Is(err, ErrInvalidToken) || !errors.Is(err, errMissingKID) {
		t.Fatalf("kid-less token: %v", err)
	}

	delete(cfg.VerifyKeys, "k2")
	if _, err := NewSigner(cfg); err == nil {
		t.Fatal("KeyID outside VerifyKeys must be rejected")
	}
}

func TestNewSignerValidation(t *testing.T) {
	mutate := map[string]func(*Config){
		"ttl":         func(c *Config) { c.SessionTTL = 0 },
		"short key":   func(c *Config) { c.PrivateKey = []byte("short") },
		"leeway":      func(c *Config) { c.Leeway = time.Hour },
		"future":      func(c *Config) { c.MaxFutureIAT = 48 * time.Hour },
		"method":      func(c *Config) { c.SigningMethod = "rs256" },
		"empty kid":   func(c *Config) { c.VerifyKeys = map[string][]byte{" ": hsKey} },
		"ed no keys":  func(c *Config) { c.SigningMethod = MethodEd25519; c.PrivateKey = nil },
		"ed bad priv": func(c *Config) { c.SigningMethod = MethodEd25519; c.PrivateKey = []byte("nope") },
	}
	for name, fn := range mutate {
		cfg := hsConfig()
		fn(&cfg)
		if _, err := NewSigner(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
