// Package payload encodes and decodes the opaque string rendered into a scannable
// credential. A decoded payload is only a hint: the code it carries is the sole
// field used server side, everything else exists for client-side pre-checks.
package payload

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/scan-attendance-service/internal/domain"
)

const (
	Version1 = 1
	Version2 = 2

	v2Prefix      = "ATT2."
	maxPayloadLen = 4096
	maxCodeLen    = 128
)

var ErrMalformed = errors.New("malformed")

type ProximityHint struct {
	Latitude     float64 `json:"lat"`
	Longitude    float64 `json:"lng"`
	RadiusMeters float64 `json:"r"`
}

// Constraints mirrors the session constraints at issuance time. Never authoritative.
type Constraints struct {
	ContextID      string         `json:"ctx,omitempty"`
	ExpiresAt      time.Time      `json:"-"`
	MaxRedemptions *int           `json:"max,omitempty"`
	Proximity      *ProximityHint `json:"prox,omitempty"`
}

type Decoded struct {
	Version     int
	Code        string
	TenantHint  string
	Nonce       string
	Constraints Constraints
}

type envelope struct {
	V      int            `json:"v"`
	Code   string         `json:"code"`
	Tenant string         `json:"tenant,omitempty"`
	Nonce  string         `json:"nonce,omitempty"`
	Exp    int64          `json:"exp,omitempty"`
	Ctx    string         `json:"ctx,omitempty"`
	Max    *int           `json:"max,omitempty"`
	Prox   *ProximityHint `json:"prox,omitempty"`
}

type Codec struct {
	version int
}

// NewCodec returns a codec that encodes with the given version. Decoding always
// accepts every supported version.
func NewCodec(version int) *Codec {
	if version != Version1 && version != Version2 {
		version = Version2
	}
	return &Codec{version: version}
}

func (c *Codec) Version() int { return c.version }

func (c *Codec) Encode(session *domain.CredentialSession, nonce string) (string, error) {
	if session == nil || session.Code == "" {
		return "", errors.New("encode payload: session code is required")
	}
	env := envelope{
		V:      c.version,
		Code:   session.Code,
		Tenant: session.TenantID,
		Nonce:  nonce,
		Exp:    session.ExpiresAt.Unix(),
	}
	if c.version == Version1 {
		raw, err := json.Marshal(env)
		if err != nil {
			return "", fmt.Errorf("encode payload: %w", err)
		}
		return string(raw), nil
	}

	env.Ctx = session.ContextID
	env.Max = session.MaxRedemptions
	if p, ok := session.Proximity(); ok {
		env.Prox = &ProximityHint{
			Latitude:     p.Reference.Latitude,
			Longitude:    p.Reference.Longitude,
			RadiusMeters: p.RadiusMeters,
		}
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return v2Prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses any supported payload version. It never returns a partially
// populated result: every failure is ErrMalformed.
func (c *Codec) Decode(raw string) (Decoded, error) {
	return Decode(raw)
}

func Decode(raw string) (Decoded, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Decoded{}, malformed("empty payload")
	}
	if len(raw) > maxPayloadLen {
		return Decoded{}, malformed("payload too large")
	}

	var (
		body    []byte
		version int
	)
	switch {
	case strings.HasPrefix(raw, v2Prefix):
		b, err := base64.RawURLEncoding.DecodeString(raw[len(v2Prefix):])
		if err != nil {
			return Decoded{}, malformed("invalid encoding")
		}
		body, version = b, Version2
	case strings.HasPrefix(raw, "{"):
		body, version = []byte(raw), Version1
	default:
		return Decoded{}, malformed("unrecognized format")
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Decoded{}, malformed("invalid json")
	}
	if env.V != version {
		return Decoded{}, malformed("unsupported version")
	}
	if !validCode(env.Code) {
		return Decoded{}, malformed("invalid code")
	}

	out := Decoded{
		Version:    version,
		Code:       env.Code,
		TenantHint: env.Tenant,
		Nonce:      env.Nonce,
		Constraints: Constraints{
			ContextID:      env.Ctx,
			MaxRedemptions: env.Max,
			Proximity:      env.Prox,
		},
	}
	if env.Exp > 0 {
		out.Constraints.ExpiresAt = time.Unix(env.Exp, 0).UTC()
	}
	return out, nil
}

func validCode(code string) bool {
	if code == "" || len(code) > maxCodeLen {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func malformed(detail string) error {
	return fmt.Errorf("%w: %s", ErrMalformed, detail)
}
