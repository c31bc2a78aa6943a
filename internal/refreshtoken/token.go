package refreshtoken

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"visitorid/go-backend/internal/principal"
)

// DefaultExpiry is the refresh window, 30 days.
const DefaultExpiry = 30 * 24 * time.Hour

var ErrNoPrincipal = errors.New("refresh token principal is required")

// Token is the cookie payload tying a browser back to its principal. It is
// never extended in place; every issuance replaces it.
type Token struct {
	Principal     principal.Principal `json:"principal"`
	ExpiryEpochMs int64               `json:"expiry_epoch_ms"`
}

type Codec struct {
	Expiry time.Duration
}

func (c Codec) expiry() time.Duration {
	if c.Expiry <= 0 {
		return DefaultExpiry
	}
	return c.Expiry
}

// Encode returns the JSON payload for p, expiring one refresh window after now.
// The cookie layer signs it.
func (c Codec) Encode(p principal.Principal, now time.Time) (string, error) {
	if p.IsZero() {
		return "", ErrNoPrincipal
	}
	raw, err := json.Marshal(Token{
		Principal:     p,
		ExpiryEpochMs: now.Add(c.expiry()).UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("encode refresh token: %w", err)
	}
	return string(raw), nil
}

// Decode returns the principal of a live token. Malformed and expired tokens
// are both reported as absent.
func (c Codec) Decode(value string, now time.Time) (principal.Principal, bool) {
	var token Token
	if err := json.Unmarshal([]byte(value), &token); err != nil {
		return principal.Principal{}, false
	}
	if token.Principal.IsZero() || now.UnixMilli() >= token.ExpiryEpochMs {
		return principal.Principal{}, false
	}
	return token.Principal, true
}
