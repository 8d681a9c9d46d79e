package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"strings"
	"unicode"
)

// BackupCodeAlphabet has 32 symbols and leaves out 0/O and 1/I.
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// BackupCode is one freshly issued code: Display is shown to the user once,
// Hash is what gets stored.
type BackupCode struct {
	Display string
	Hash    [32]byte
}

var (
	defaultRandomBytes = rand.Read
	randomBytes        = defaultRandomBytes
)

// NewBackupCodes issues count distinct codes of length symbols for userID.
func NewBackupCodes(userID string, count, length int) ([]BackupCode, error) {
	if count <= 0 || length < 4 {
		return nil, errors.New("backup codes: count must be > 0 and length >= 4")
	}
	seen := make(map[string]struct{}, count)
	out := make([]BackupCode, 0, count)
	buf := make([]byte, length)
	for len(out) < count {
		if _, err := randomBytes(buf); err != nil {
			return nil, err
		}
		// 256 is a multiple of 32, so masking keeps the draw uniform
		code := make([]byte, length)
		for i, b := range buf {
			code[i] = BackupCodeAlphabet[b&31]
		}
		s := string(code)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, BackupCode{Display: groupBackupCode(s), Hash: BackupCodeHash(userID, s)})
	}
	return out, nil
}

// groupBackupCode splits codes of eight or more symbols in two with a dash.
func groupBackupCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode uppercases and drops dashes and whitespace, so
// "abcd-efgh" and "ABCD EFGH" compare equal.
func CanonicalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-', unicode.IsSpace(r):
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return r
	}, code)
}

// BackupCodeHash binds a canonical code to its owner, so equal codes of
// different users never collide.
func BackupCodeHash(userID, canonical string) [32]byte {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(canonical))
	var sum [32]byte
	h.Sum(sum[:0])
	return sum
}
