package backend

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const totpSecretBytes = 20

var (
	totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
	pow10        = [...]uint32{1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000}
)

// totp implements RFC 6238 for one configuration.
type totp struct {
	issuer    string
	algorithm string
	newHash   func() hash.Hash
	digits    int
	period    int64
	skew      int64
}

func newTOTP(cfg TwoFactorConfig) (*totp, error) {
	alg := strings.ToUpper(cfg.Algorithm)
	if alg == "" {
		alg = "SHA1"
	}
	h, ok := map[string]func() hash.Hash{"SHA1": sha1.New, "SHA256": sha256.New, "SHA512": sha512.New}[alg]
	if !ok {
		return nil, fmt.Errorf("unsupported totp algorithm %q", cfg.Algorithm)
	}
	if cfg.Digits < 6 || cfg.Digits > 8 || cfg.Period <= 0 || cfg.Skew < 0 {
		return nil, errors.New("totp: digits must be 6-8, period > 0 and skew >= 0")
	}
	return &totp{
		issuer:    cfg.Issuer,
		algorithm: alg,
		newHash:   h,
		digits:    cfg.Digits,
		period:    int64(cfg.Period),
		skew:      int64(cfg.Skew),
	}, nil
}

// NewSecret returns a random seed and its unpadded base32 form.
func (t *totp) NewSecret() ([]byte, string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, totpEncoding.EncodeToString(raw), nil
}

// URI is the otpauth:// payload rendered into enrollment QR codes.
func (t *totp) URI(secretBase32, account string) string {
	q := url.Values{
		"secret":    {secretBase32},
		"issuer":    {t.issuer},
		"algorithm": {t.algorithm},
		"digits":    {strconv.Itoa(t.digits)},
		"period":    {strconv.FormatInt(t.period, 10)},
	}
	return "otpauth://totp/" + url.PathEscape(t.issuer+":"+account) + "?" + q.Encode()
}

// Match looks for code in the current time step, then outwards up to skew
// steps, and returns the matching counter for replay checks.
func (t *totp) Match(secret []byte, code string, now time.Time) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != t.digits || strings.Trim(code, "0123456789") != "" {
		return 0, false, nil
	}
	if len(secret) == 0 {
		return 0, false, errors.New("empty totp secret")
	}
	base := now.Unix() / t.period
	for d := int64(0); d <= t.skew; d++ {
		steps := []int64{base - d, base + d}
		if d == 0 {
			steps = steps[:1]
		}
		for _, c := range steps {
			if c < 0 {
				continue
			}
			if subtle.ConstantTimeCompare([]byte(hotp(t.newHash, secret, c, t.digits)), []byte(code)) == 1 {
				return c, true, nil
			}
		}
	}
	return 0, false, nil
}

// TOTPCode computes the six-digit SHA1 code with a 30 second period for a
// base32 secret as returned by [Service.BeginSetup].
func TOTPCode(secretBase32 string, now time.Time) (string, error) {
	secret, err := totpEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(secretBase32)))
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}
	return hotp(sha1.New, secret, now.Unix()/30, 6), nil
}

// hotp is RFC 4226 dynamic truncation.
func hotp(h func() hash.Hash, secret []byte, counter int64, digits int) string {
	mac := hmac.New(h, secret)
	_ = binary.Write(mac, binary.BigEndian, uint64(counter))
	sum := mac.Sum(nil)
	off := sum[len(sum)-1] & 0x0f
	v := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
	return fmt.Sprintf("%0*d", digits, v%pow10[digits])
}
