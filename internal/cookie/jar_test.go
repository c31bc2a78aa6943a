package cookie

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func mustKey(t *testing.T) Key {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func mustJar(t *testing.T, key Key, header http.Header) *Jar {
	t.Helper()
	jar, err := NewJar(key, header)
	if err != nil {
		t.Fatalf("new jar: %v", err)
	}
	return jar
}

// requestHeaderFrom turns the Set-Cookie lines of a response into the Cookie
// header a browser would send back.
func requestHeaderFrom(resp http.Header) http.Header {
	out := http.Header{}
	for _, c := range (&http.Response{Header: resp}).Cookies() {
		out.Add("Cookie", c.Name+"="+c.Value)
	}
	return out
}

func TestJarRoundTripThroughHeaders(t *testing.T) {
	key := mustKey(t)
	jar := mustJar(t, key, http.Header{})
	jar.Add(Cookie{
		Name:     "user-identity",
		Value:    `{"principal":"aaaaa-aa","expiry_epoch_ms":1}`,
		MaxAge:   30 * 24 * time.Hour,
		HTTPOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	resp := http.Header{}
	if n := jar.Flush(resp); n != 1 {
		t.Fatalf("expected one Set-Cookie header, got %d", n)
	}
	line := resp.Get("Set-Cookie")
	for _, attr := range []string{"HttpOnly", "Secure", "SameSite=None", "Max-Age=2592000", "Path=/"} {
		if !strings.Contains(line, attr) {
			t.Fatalf("Set-Cookie %q is missing %s", line, attr)
		}
	}

	next := mustJar(t, key, requestHeaderFrom(resp))
	got, ok := next.Get("user-identity")
	if !ok || got != `{"principal":"aaaaa-aa","expiry_epoch_ms":1}` {
		t.Fatalf("unexpected cookie value %q ok=%v", got, ok)
	}
}

func TestJarRejectsTamperedAndForeignCookies(t *testing.T) {
	key := mustKey(t)
	jar := mustJar(t, key, http.Header{})
	jar.Add(Cookie{Name: "user-identity", Value: "payload"})
	resp := http.Header{}
	jar.Flush(resp)
	signed := (&http.Response{Header: resp}).Cookies()[0].Value

	_, sig, _ := strings.Cut(signed, ".")
	tampered := base64.RawURLEncoding.EncodeToString([]byte("forged")) + "." + sig
	cases := map[string]http.Header{
		"tampered":    {"Cookie": {"user-identity=" + tampered}},
		"unsigned":    {"Cookie": {"user-identity=payload"}},
		"renamed":     {"Cookie": {"other=" + signed}},
		"foreign key": requestHeaderFrom(resp),
	}
	for name, header := range cases {
		k := key
		if name == "foreign key" {
			k = mustKey(t)
		}
		j := mustJar(t, k, header)
		if _, ok := j.Get("user-identity"); ok {
			t.Fatalf("%s: cookie must not verify", name)
		}
		if _, ok := j.Get("other"); ok {
			t.Fatalf("%s: renamed cookie must not verify", name)
		}
	}
}

func TestJarAddIsVisibleAndFlushEmptiesQueue(t *testing.T) {
	jar := mustJar(t, mustKey(t), http.Header{})
	jar.Add(Cookie{Name: "a", Value: "1"})
	if got, ok := jar.Get("a"); !ok || got != "1" {
		t.Fatalf("expected added cookie to be visible, got %q", got)
	}
	resp := http.Header{}
	jar.Flush(resp)
	if n := jar.Flush(resp); n != 0 {
		t.Fatalf("second flush must be empty, got %d", n)
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	master := bytes.Repeat([]byte{7}, 32)
	a, err := DeriveKey(master)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, _ := DeriveKey(master)
	if !bytes.Equal(a.mac, b.mac) {
		t.Fatal("derived keys differ for the same master")
	}
	if bytes.Equal(a.mac, master) {
		t.Fatal("derived key must not equal the master secret")
	}
	if _, err := DeriveKey([]byte("short")); !errors.Is(err, ErrShortMasterKey) {
		t.Fatalf("expected ErrShortMasterKey, got %v", err)
	}
	if _, err := NewJar(Key{}, http.Header{}); !errors.Is(err, ErrNoKey) {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}
