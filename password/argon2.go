package password

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

const (
	minMemoryKB   = 8 * 1024
	minSaltLength = 16
	minKeyLength  = 16
	minPassBytes  = 10

	// DefaultMaxPasswordBytes caps input length when Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024
)

var (
	ErrTooShort = errors.New("password: shorter than 10 bytes")
	ErrTooLong  = errors.New("password: exceeds maximum length")
)

// Config holds Argon2id cost parameters.
type Config struct {
	Memory           uint32 // KiB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// DefaultConfig returns the parameters used by the reference backend.
func DefaultConfig() Config {
	return Config{
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		SaltLength:       16,
		KeyLength:        32,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

func (c Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("password: memory must be >= %d KiB", minMemoryKB)
	case c.Time < 1:
		return errors.New("password: time must be >= 1")
	case c.Parallelism < 1:
		return errors.New("password: parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("password: salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("password: key length must be >= %d", minKeyLength)
	case c.MaxPasswordBytes < 0, c.MaxPasswordBytes > 0 && c.MaxPasswordBytes < minPassBytes:
		return fmt.Errorf("password: max bytes must be 0 or >= %d", minPassBytes)
	}
	return nil
}

// Result is the outcome of [Hasher.Check].
type Result struct {
	Match bool
	// Rehash is set on a match whose stored hash used weaker parameters
	// than the current Config.
	Rehash bool
}

// Hasher hashes and checks passwords. It is safe for concurrent use.
type Hasher struct {
	cfg   Config
	decoy phc
}

// New validates cfg and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	h := &Hasher{cfg: cfg}
	decoy, err := h.derive("decoy-password-never-matches")
	if err != nil {
		return nil, err
	}
	h.decoy = decoy
	return h, nil
}

// Hash returns the PHC string for pw. Bytes are hashed as given, without
// Unicode normalization.
func (h *Hasher) Hash(pw string) (string, error) {
	if len(pw) < minPassBytes {
		return "", ErrTooShort
	}
	if len(pw) > h.cfg.MaxPasswordBytes {
		return "", ErrTooLong
	}
	p, err := h.derive(pw)
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

func (h *Hasher) derive(pw string) (phc, error) {
	p := phc{
		memory:  h.cfg.Memory,
		time:    h.cfg.Time,
		threads: h.cfg.Parallelism,
		salt:    make([]byte, h.cfg.SaltLength),
		digest:  make([]byte, h.cfg.KeyLength),
	}
	if _, err := io.ReadFull(rand.Reader, p.salt); err != nil {
		return phc{}, err
	}
	p.digest = p.derive(pw)
	return p, nil
}

// Check compares pw with encoded in constant time. A malformed encoded
// value is an error, never a match.
func (h *Hasher) Check(pw, encoded string) (Result, error) {
	if len(pw) > h.cfg.MaxPasswordBytes {
		return Result{}, ErrTooLong
	}
	p, err := decodePHC(encoded)
	if err != nil {
		return Result{}, err
	}
	if subtle.ConstantTimeCompare(p.derive(pw), p.digest) != 1 {
		return Result{}, nil
	}
	return Result{Match: true, Rehash: p.weakerThan(h.cfg)}, nil
}

// Burn spends the same work as a Check against a stored hash. Call it when
// the username is unknown so both rejections take equal time.
func (h *Hasher) Burn(pw string) {
	if len(pw) > h.cfg.MaxPasswordBytes {
		return
	}
	_ = subtle.ConstantTimeCompare(h.decoy.derive(pw), h.decoy.digest)
}
