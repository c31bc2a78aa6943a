package cookie

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoCookieSigning = "visitorid/cookie/signing/v1"
	keySize               = 32
	minMasterSize         = 32
)

var ErrShortMasterKey = errors.New("cookie master key must be at least 32 bytes")

// Key authenticates cookie values. It is derived from a master secret so the
// same secret can be shared with other subkeys without reuse.
type Key struct {
	mac []byte
}

func DeriveKey(master []byte) (Key, error) {
	if len(master) < minMasterSize {
		return Key{}, ErrShortMasterKey
	}
	reader := hkdf.New(sha256.New, master, nil, []byte(hkdfInfoCookieSigning))
	out := make([]byte, keySize)
	if _, err := io.ReadFull(reader, out); err != nil {
		return Key{}, err
	}
	return Key{mac: out}, nil
}

// GenerateKey returns a key from fresh randomness, for tests and throwaway
// deployments where cookies need not survive a restart.
func GenerateKey() (Key, error) {
	master := make([]byte, minMasterSize)
	if _, err := rand.Read(master); err != nil {
		return Key{}, err
	}
	return DeriveKey(master)
}

func (k Key) IsZero() bool {
	return len(k.mac) == 0
}
