package rest

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"

	"github.com/MrEthical07/goElevate"
)

// payload is a decoded JSON object whose fields are addressed by their
// camelCase name and found under either naming convention.
type payload map[string]json.RawMessage

func decodePayload(data []byte) (payload, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return payload{}, nil
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p == nil {
		p = payload{}
	}
	return p, nil
}

func (p payload) raw(name string) (json.RawMessage, bool) {
	if v, ok := p[name]; ok && !isNull(v) {
		return v, true
	}
	if v, ok := p[snakeCase(name)]; ok && !isNull(v) {
		return v, true
	}
	return nil, false
}

func (p payload) has(name string) bool {
	_, ok := p.raw(name)
	return ok
}

func (p payload) str(name string) string {
	v, ok := p.raw(name)
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	// numeric ids are accepted as strings
	var n json.Number
	if json.Unmarshal(v, &n) == nil {
		return n.String()
	}
	return ""
}

func (p payload) boolean(name string) bool {
	v, ok := p.raw(name)
	if !ok {
		return false
	}
	var b bool
	if json.Unmarshal(v, &b) == nil {
		return b
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		b, _ = strconv.ParseBool(s)
	}
	return b
}

func (p payload) integer(name string) (int, bool) {
	v, ok := p.raw(name)
	if !ok {
		return 0, false
	}
	var f float64
	if json.Unmarshal(v, &f) == nil {
		return int(f), true
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func (p payload) object(name string) (payload, bool) {
	v, ok := p.raw(name)
	if !ok {
		return nil, false
	}
	var o payload
	if json.Unmarshal(v, &o) != nil || o == nil {
		return nil, false
	}
	return o, true
}

func (p payload) strs(name string) []string {
	v, ok := p.raw(name)
	if !ok {
		return nil
	}
	var out []string
	if json.Unmarshal(v, &out) != nil {
		return nil
	}
	return out
}

// identity reads the principal from a nested "user" object when present,
// otherwise from the top level. fallbackID fills an absent id.
func (p payload) identity(fallbackID string) goElevate.Identity {
	src := p
	if u, ok := p.object("user"); ok {
		src = u
	}
	id := goElevate.Identity{
		ID:                 src.str("id"),
		Username:           src.str("username"),
		IsAdmin:            src.boolean("isAdmin"),
		IsEmployee:         src.boolean("isEmployee"),
		IsContractor:       src.boolean("isContractor"),
		VerificationStatus: src.str("verificationStatus"),
	}
	if id.ID == "" {
		id.ID = src.str("userId")
	}
	if id.ID == "" {
		id.ID = fallbackID
	}
	return id
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || string(v) == "null"
}

// snakeCase maps "twoFactorEnabled" to "two_factor_enabled".
func snakeCase(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
