package securestore

import (
	"errors"
	"testing"
)

var testParams = Params{Time: 1, MemoryKB: 1024, Threads: 1}

func mustSealer(t *testing.T, secret string) *Sealer {
	t.Helper()
	s, err := NewSealer(secret, testParams)
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	return s
}

func TestSealOpenRoundtrip(t *testing.T) {
	s := mustSealer(t, "pass")
	data, err := s.Seal("kv", []byte("secret"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	plain, err := s.Open("kv", data)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
}

func TestOpenTamperedFailsDeterministically(t *testing.T) {
	s := mustSealer(t, "pass")
	data, err := s.Seal("kv", []byte("secret"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	data[len(data)-2] ^= 0xFF
	_, err = s.Open("kv", data)
	if !errors.Is(err, ErrAuthFailed) && !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestOpenRejectsWrongLabelAndSecret(t *testing.T) {
	s := mustSealer(t, "pass")
	data, err := s.Seal("kv", []byte("secret"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := s.Open("other", data); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for wrong label, got %v", err)
	}
	if _, err := mustSealer(t, "wrong").Open("kv", data); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for wrong secret, got %v", err)
	}
}

func TestOpenRejectsKDFDowngrade(t *testing.T) {
	data, err := mustSealer(t, "pass").Seal("kv", []byte("secret"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	stronger, err := NewSealer("pass", Params{Time: 2, MemoryKB: 1024, Threads: 1})
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	if _, err := stronger.Open("kv", data); !errors.Is(err, ErrKDFMismatch) {
		t.Fatalf("expected ErrKDFMismatch, got %v", err)
	}
}

func TestOpenRejectsPlaintext(t *testing.T) {
	if _, err := mustSealer(t, "pass").Open("kv", []byte(`{"a":"b"}`)); !errors.Is(err, ErrPlaintext) {
		t.Fatalf("expected ErrPlaintext, got %v", err)
	}
	if _, err := NewSealer("  ", testParams); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}
