package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// SessionID names one server session. It is random and carries no data.
type SessionID [16]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

// String is the unpadded base64url form used in tokens and Redis keys.
func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// NewEventID returns the UUID clients use to drop duplicate push events.
func NewEventID() string {
	return uuid.NewString()
}

// NewSecret returns n random bytes, for signing keys and TOTP seeds.
func NewSecret(n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("secret size must be > 0")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
