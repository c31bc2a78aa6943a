package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"visitorid/go-backend/internal/contracts"
	"visitorid/go-backend/internal/cookie"
	"visitorid/go-backend/internal/identity"
	"visitorid/go-backend/pkg/models"
)

var (
	ErrNoBaseIdentity      = errors.New("base identity is required")
	ErrNonPositiveLifetime = errors.New("delegation lifetime must be positive")
)

// Delegate mints a session key and signs a delegation to it with base. The
// bundle carries the session secret, never the base secret.
func Delegate(base *identity.BaseIdentity, now time.Time, ttl time.Duration) (models.DelegatedIdentityWire, error) {
	if base == nil {
		return models.DelegatedIdentityWire{}, contracts.Signing(ErrNoBaseIdentity)
	}
	if ttl <= 0 {
		return models.DelegatedIdentityWire{}, contracts.Signing(ErrNonPositiveLifetime)
	}
	session, err := identity.GenerateSessionIdentity()
	if err != nil {
		return models.DelegatedIdentityWire{}, contracts.Signing(err)
	}
	delegation := models.Delegation{
		Pubkey:     session.PublicKeyDER(),
		Expiration: uint64(now.Add(ttl).UnixNano()),
		Targets:    nil,
	}
	signed, err := identity.Sign(base, delegation)
	if err != nil {
		return models.DelegatedIdentityWire{}, contracts.Signing(fmt.Errorf("sign delegation: %w", err))
	}
	return models.DelegatedIdentityWire{
		FromKey:         base.PublicKeyDER(),
		ToSecret:        session.ExportJWK(),
		DelegationChain: []models.SignedDelegation{signed},
	}, nil
}

// UpdateUserIdentity replaces the refresh cookie for base, writes it to sink
// as a Set-Cookie header and returns a fresh delegation.
func UpdateUserIdentity(sink cookie.HeaderSink, jar *cookie.Jar, base *identity.BaseIdentity, now time.Time, opts Options) (models.DelegatedIdentityWire, error) {
	opts = opts.withDefaults()
	if base == nil {
		return models.DelegatedIdentityWire{}, contracts.Signing(ErrNoBaseIdentity)
	}
	token, err := opts.codec().Encode(base.Principal(), now)
	if err != nil {
		return models.DelegatedIdentityWire{}, contracts.Encode(err)
	}
	jar.Add(cookie.Cookie{
		Name:     opts.CookieName,
		Value:    token,
		MaxAge:   opts.RefreshExpiry,
		HTTPOnly: true,
		Secure:   !opts.CookieInsecure,
		SameSite: http.SameSiteNoneMode,
	})
	jar.Flush(sink)
	return Delegate(base, now, opts.DelegationExpiry)
}
