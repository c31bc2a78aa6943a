package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"visitorid/go-backend/internal/contracts"
	"visitorid/go-backend/internal/cookie"
	"visitorid/go-backend/internal/identity"
	"visitorid/go-backend/internal/kvstore"
	"visitorid/go-backend/internal/principal"
)

var ErrIdentityMismatch = errors.New("stored identity does not match its principal")

// TryExtractIdentity recovers the base identity referenced by the refresh
// cookie. A missing, expired or forged cookie and a KV miss all return
// (nil, nil); a stored key that cannot be decoded is an error.
func TryExtractIdentity(ctx context.Context, jar *cookie.Jar, kv kvstore.Store, now time.Time, opts Options) (*identity.BaseIdentity, error) {
	opts = opts.withDefaults()
	value, ok := jar.Get(opts.CookieName)
	if !ok {
		return nil, nil
	}
	p, ok := opts.codec().Decode(value, now)
	if !ok {
		return nil, nil
	}
	return fetchIdentity(ctx, kv, p)
}

func fetchIdentity(ctx context.Context, kv kvstore.Store, p principal.Principal) (*identity.BaseIdentity, error) {
	raw, ok, err := kv.Read(ctx, p.Text())
	if err != nil {
		return nil, contracts.Storage(fmt.Errorf("read identity: %w", err))
	}
	if !ok {
		return nil, nil
	}
	base, err := identity.BaseIdentityFromJWK(raw)
	if err != nil {
		return nil, contracts.Decode(fmt.Errorf("stored identity: %w", err))
	}
	if !base.Principal().Equal(p) {
		return nil, contracts.Decode(fmt.Errorf("stored identity: %w", ErrIdentityMismatch))
	}
	return base, nil
}

// GenerateAndSaveIdentity mints a base identity and persists its JWK under
// the principal text. Principal collisions are not guarded against.
func GenerateAndSaveIdentity(ctx context.Context, kv kvstore.Store) (*identity.BaseIdentity, error) {
	base, err := identity.GenerateBaseIdentity()
	if err != nil {
		return nil, contracts.Signing(err)
	}
	jwk, err := base.ExportJWK()
	if err != nil {
		return nil, contracts.Encode(err)
	}
	if err := kv.Write(ctx, base.Principal().Text(), jwk); err != nil {
		return nil, contracts.Storage(fmt.Errorf("write identity: %w", err))
	}
	return base, nil
}
