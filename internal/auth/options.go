package auth

import (
	"time"

	"visitorid/go-backend/internal/config"
	"visitorid/go-backend/internal/refreshtoken"
)

type Options struct {
	CookieName string
	// CookieInsecure drops the Secure flag from the refresh cookie, for plain
	// HTTP development setups only.
	CookieInsecure   bool
	RefreshExpiry    time.Duration
	DelegationExpiry time.Duration
}

func DefaultOptions() Options {
	return Options{
		CookieName:       config.DefaultCookieName,
		RefreshExpiry:    config.DefaultRefreshExpiry,
		DelegationExpiry: config.DefaultDelegationExpiry,
	}
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		CookieName:       cfg.Cookie.Name,
		CookieInsecure:   !cfg.CookieSecure(),
		RefreshExpiry:    cfg.Cookie.RefreshExpiry,
		DelegationExpiry: cfg.Identity.DelegationExpiry,
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.CookieName == "" {
		o.CookieName = def.CookieName
	}
	if o.RefreshExpiry <= 0 {
		o.RefreshExpiry = def.RefreshExpiry
	}
	if o.DelegationExpiry <= 0 {
		o.DelegationExpiry = def.DelegationExpiry
	}
	return o
}

func (o Options) codec() refreshtoken.Codec {
	return refreshtoken.Codec{Expiry: o.RefreshExpiry}
}
