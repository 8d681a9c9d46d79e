package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	ErrNoSigningKey = errors.New("jwt: no signing key configured")
	errMissingKID   = errors.New("jwt: token has no kid")
	errUnknownKID   = errors.New("jwt: unknown kid")
)

// keyring holds parsed keys. With rotation, verify maps kid to key and
// the token's kid header is required; otherwise single verifies all
// tokens whose kid, if any, matches signKID.
type keyring struct {
	method  jwt.SigningMethod
	sign    any
	signKID string
	single  any
	verify  map[string]any
}

func newKeyring(cfg Config) (*keyring, error) {
	k := &keyring{signKID: strings.TrimSpace(cfg.KeyID)}

	switch cfg.SigningMethod {
	case MethodHS256:
		k.method = jwt.SigningMethodHS256
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("jwt: hs256 needs a key of at least 32 bytes")
		}
		k.sign, k.single = cfg.PrivateKey, cfg.PrivateKey
	case MethodEd25519:
		k.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := edPrivate(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			k.sign = priv
			k.single = priv.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := edPublic(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			k.single = pub
		}
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		k.verify = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("jwt: verify key with empty kid")
			}
			key, err := k.verifyKey(raw)
			if err != nil {
				return nil, fmt.Errorf("jwt: verify key %q: %w", kid, err)
			}
			k.verify[kid] = key
		}
		if k.signKID != "" && k.verify[k.signKID] == nil {
			return nil, errors.New("jwt: KeyID is not among VerifyKeys")
		}
	} else if k.single == nil {
		return nil, errors.New("jwt: ed25519 needs a private, public or verify key")
	}
	return k, nil
}

func (k *keyring) verifyKey(raw []byte) (any, error) {
	if k.method == jwt.SigningMethodHS256 {
		if len(raw) < 32 {
			return nil, errors.New("hs256 key shorter than 32 bytes")
		}
		return raw, nil
	}
	return edPublic(raw)
}

// lookup is the jwt.Keyfunc.
func (k *keyring) lookup(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if k.verify != nil {
		if kid == "" {
			return nil, errMissingKID
		}
		if key, ok := k.verify[kid]; ok {
			return key, nil
		}
		return nil, errUnknownKID
	}
	if k.signKID != "" && kid != k.signKID {
		if kid == "" {
			return nil, errMissingKID
		}
		return nil, errUnknownKID
	}
	return k.single, nil
}

func edPrivate(raw []byte) (ed25519.PrivateKey, error) {
	if len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(raw), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: not an ed25519 private key")
	}
	return key, nil
}

func edPublic(raw []byte) (ed25519.PublicKey, error) {
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(raw)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: not an ed25519 public key")
	}
	return key, nil
}
