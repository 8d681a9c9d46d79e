package password

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

var (
	errMalformed    = errors.New("password: malformed hash")
	errAlgorithm    = errors.New("password: unsupported algorithm")
	errVersion      = errors.New("password: unsupported argon2 version")
	errParameters   = errors.New("password: invalid hash parameters")
	errSaltOrDigest = errors.New("password: invalid salt or digest")
)

var b64 = base64.RawStdEncoding

// phc is one decoded $argon2id$ string.
type phc struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	digest  []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version, p.memory, p.time, p.threads,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.digest))
}

// derive runs Argon2id for pw with p's parameters and salt.
func (p phc) derive(pw string) []byte {
	return argon2.IDKey([]byte(pw), p.salt, p.time, p.memory, p.threads, uint32(len(p.digest)))
}

// weakerThan reports whether p was produced with cheaper settings than cfg.
func (p phc) weakerThan(cfg Config) bool {
	return p.memory < cfg.Memory ||
		p.time < cfg.Time ||
		p.threads < cfg.Parallelism ||
		uint32(len(p.digest)) != cfg.KeyLength
}

func decodePHC(s string) (phc, error) {
	// "", alg, version, params, salt, digest
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" {
		return phc{}, errMalformed
	}
	if fields[1] != algorithmID {
		return phc{}, errAlgorithm
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return phc{}, errMalformed
	}
	if version != argon2.Version {
		return phc{}, errVersion
	}

	var p phc
	var threads uint32
	n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &threads)
	if err != nil || n != 3 || fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.time, threads) != fields[3] {
		return phc{}, errParameters
	}
	if p.memory < minMemoryKB || p.time < 1 || threads < 1 || threads > 255 {
		return phc{}, errParameters
	}
	p.threads = uint8(threads)

	if p.salt, err = decodeB64(fields[4]); err != nil || len(p.salt) < minSaltLength {
		return phc{}, errSaltOrDigest
	}
	if p.digest, err = decodeB64(fields[5]); err != nil || len(p.digest) < minKeyLength {
		return phc{}, errSaltOrDigest
	}
	return p, nil
}

// decodeB64 accepts padded and unpadded standard base64; older records
// were written padded.
func decodeB64(s string) ([]byte, error) {
	return b64.DecodeString(strings.TrimRight(s, "="))
}
