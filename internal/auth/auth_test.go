package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"visitorid/go-backend/internal/contracts"
	"visitorid/go-backend/internal/cookie"
	"visitorid/go-backend/internal/identity"
	"visitorid/go-backend/internal/kvstore"
	"visitorid/go-backend/internal/principal"
	"visitorid/go-backend/pkg/models"
)

var testNow = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

func mustKey(t *testing.T) cookie.Key {
	t.Helper()
	key, err := cookie.DeriveKey(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("derive cookie key: %v", err)
	}
	return key
}

func mustJar(t *testing.T, key cookie.Key, header http.Header) *cookie.Jar {
	t.Helper()
	jar, err := cookie.NewJar(key, header)
	if err != nil {
		t.Fatalf("new jar: %v", err)
	}
	return jar
}

// requestFromResponse replays the Set-Cookie headers of a response as the
// Cookie header of the next request.
func requestFromResponse(resp http.Header) http.Header {
	parsed := (&http.Response{Header: resp}).Cookies()
	parts := make([]string, 0, len(parsed))
	for _, c := range parsed {
		parts = append(parts, c.Name+"="+c.Value)
	}
	out := http.Header{}
	if len(parts) > 0 {
		out.Set("Cookie", strings.Join(parts, "; "))
	}
	return out
}

func wirePrincipal(t *testing.T, wire models.DelegatedIdentityWire) principal.Principal {
	t.Helper()
	p, err := principal.SelfAuthenticating(wire.FromKey)
	if err != nil {
		t.Fatalf("wire from_key: %v", err)
	}
	return p
}

func TestTryExtractIdentityWithoutCookieIsAbsent(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	base, err := TryExtractIdentity(context.Background(), mustJar(t, mustKey(t), http.Header{}), kv, testNow, DefaultOptions())
	if err != nil || base != nil {
		t.Fatalf("expected absent identity, got %v, %v", base, err)
	}
}

func TestGenerateAndSaveIdentityStoresJWK(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	base, err := GenerateAndSaveIdentity(context.Background(), kv)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	raw, ok, err := kv.Read(context.Background(), base.Principal().Text())
	if err != nil || !ok {
		t.Fatalf("identity not stored: %v", err)
	}
	restored, err := identity.BaseIdentityFromJWK(raw)
	if err != nil {
		t.Fatalf("stored jwk: %v", err)
	}
	if !restored.Principal().Equal(base.Principal()) {
		t.Fatal("stored key derives a different principal")
	}
}

func TestUpdateUserIdentityRoundTripsThroughCookie(t *testing.T) {
	key := mustKey(t)
	kv := kvstore.NewMemoryStore()
	base, err := GenerateAndSaveIdentity(context.Background(), kv)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	resp := http.Header{}
	wire, err := UpdateUserIdentity(resp, mustJar(t, key, http.Header{}), base, testNow, DefaultOptions())
	if err != nil {
		t.Fatalf("update identity: %v", err)
	}
	if !wirePrincipal(t, wire).Equal(base.Principal()) {
		t.Fatal("wire from_key does not match base identity")
	}

	setCookie := resp.Get("Set-Cookie")
	for _, attr := range []string{"user-identity=", "HttpOnly", "Secure", "SameSite=None", "Max-Age=2592000"} {
		if !strings.Contains(setCookie, attr) {
			t.Fatalf("set-cookie %q lacks %q", setCookie, attr)
		}
	}

	next := mustJar(t, key, requestFromResponse(resp))
	got, err := TryExtractIdentity(context.Background(), next, kv, testNow.Add(time.Hour), DefaultOptions())
	if err != nil || got == nil {
		t.Fatalf("expected recovered identity, got %v, %v", got, err)
	}
	if !got.Principal().Equal(base.Principal()) {
		t.Fatal("recovered a different identity")
	}
}

func TestRefreshCookieExpiresAtBoundary(t *testing.T) {
	key := mustKey(t)
	kv := kvstore.NewMemoryStore()
	base, _ := GenerateAndSaveIdentity(context.Background(), kv)
	resp := http.Header{}
	if _, err := UpdateUserIdentity(resp, mustJar(t, key, http.Header{}), base, testNow, DefaultOptions()); err != nil {
		t.Fatalf("update identity: %v", err)
	}
	req := requestFromResponse(resp)
	expiry := testNow.Add(DefaultOptions().RefreshExpiry)

	got, err := TryExtractIdentity(context.Background(), mustJar(t, key, req), kv, expiry.Add(-time.Millisecond), DefaultOptions())
	if err != nil || got == nil {
		t.Fatalf("token must be live 1ms before expiry: %v, %v", got, err)
	}
	got, err = TryExtractIdentity(context.Background(), mustJar(t, key, req), kv, expiry, DefaultOptions())
	if err != nil || got != nil {
		t.Fatalf("token must be absent at expiry: %v, %v", got, err)
	}
}

func TestTryExtractIdentityRejectsCorruptStoredKey(t *testing.T) {
	key := mustKey(t)
	kv := kvstore.NewMemoryStore()
	base, _ := GenerateAndSaveIdentity(context.Background(), kv)
	resp := http.Header{}
	if _, err := UpdateUserIdentity(resp, mustJar(t, key, http.Header{}), base, testNow, DefaultOptions()); err != nil {
		t.Fatalf("update identity: %v", err)
	}
	if err := kv.Write(context.Background(), base.Principal().Text(), "not a jwk"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	_, err := TryExtractIdentity(context.Background(), mustJar(t, key, requestFromResponse(resp)), kv, testNow, DefaultOptions())
	if !errors.Is(err, contracts.ErrDecode) || !errors.Is(err, identity.ErrInvalidJWK) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestTryExtractIdentityRejectsKeyStoredUnderOtherPrincipal(t *testing.T) {
	key := mustKey(t)
	kv := kvstore.NewMemoryStore()
	base, _ := GenerateAndSaveIdentity(context.Background(), kv)
	other, _ := identity.GenerateBaseIdentity()
	otherJWK, _ := other.ExportJWK()
	_ = kv.Write(context.Background(), base.Principal().Text(), otherJWK)

	resp := http.Header{}
	if _, err := UpdateUserIdentity(resp, mustJar(t, key, http.Header{}), base, testNow, DefaultOptions()); err != nil {
		t.Fatalf("update identity: %v", err)
	}
	_, err := TryExtractIdentity(context.Background(), mustJar(t, key, requestFromResponse(resp)), kv, testNow, DefaultOptions())
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("expected ErrIdentityMismatch, got %v", err)
	}
}

func TestDelegateSetsExactExpiration(t *testing.T) {
	base, _ := identity.GenerateBaseIdentity()
	wire, err := Delegate(base, testNow, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if len(wire.DelegationChain) != 1 {
		t.Fatalf("expected one link, got %d", len(wire.DelegationChain))
	}
	link := wire.DelegationChain[0]
	if want := uint64(testNow.Add(7 * 24 * time.Hour).UnixNano()); link.Delegation.Expiration != want {
		t.Fatalf("expiration = %d, want %d", link.Delegation.Expiration, want)
	}
	if link.Delegation.Targets != nil {
		t.Fatal("targets must be absent")
	}
	session, err := identity.SessionIdentityFromJWK(wire.ToSecret)
	if err != nil {
		t.Fatalf("to_secret: %v", err)
	}
	if !bytes.Equal(session.PublicKeyDER(), link.Delegation.Pubkey) {
		t.Fatal("to_secret is not the delegated key")
	}
	if session.Principal().Equal(base.Principal()) {
		t.Fatal("to_secret leaks the base key")
	}
	if _, err := identity.VerifyChain(wire.FromKey, wire.DelegationChain, testNow); err != nil {
		t.Fatalf("chain does not verify: %v", err)
	}
}

func TestDelegateTwiceYieldsDistinctSessions(t *testing.T) {
	base, _ := identity.GenerateBaseIdentity()
	first, err := Delegate(base, testNow, time.Hour)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	later := testNow.Add(10 * time.Minute)
	second, err := Delegate(base, later, time.Hour)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	for i, wire := range []models.DelegatedIdentityWire{first, second} {
		if _, err := identity.VerifyChain(wire.FromKey, wire.DelegationChain, later); err != nil {
			t.Fatalf("bundle %d does not verify: %v", i, err)
		}
	}
	if first.ToSecret.D == second.ToSecret.D {
		t.Fatal("session secrets must differ")
	}
	if !bytes.Equal(first.FromKey, second.FromKey) {
		t.Fatal("from_key must stay the base key")
	}
	if bytes.Equal(first.DelegationChain[0].Delegation.Pubkey, second.DelegationChain[0].Delegation.Pubkey) {
		t.Fatal("each delegation must use a fresh session key")
	}
}

func TestDelegateRejectsBadInput(t *testing.T) {
	if _, err := Delegate(nil, testNow, time.Hour); !errors.Is(err, ErrNoBaseIdentity) || !errors.Is(err, contracts.ErrSigning) {
		t.Fatalf("expected signing error for nil base, got %v", err)
	}
	base, _ := identity.GenerateBaseIdentity()
	if _, err := Delegate(base, testNow, 0); !errors.Is(err, ErrNonPositiveLifetime) {
		t.Fatalf("expected ErrNonPositiveLifetime, got %v", err)
	}
}
