package securestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	filePrefix      = "VIDKV1\n"
	kdfName         = "argon2id"
)

var (
	ErrAuthFailed  = errors.New("securestore authentication failed")
	ErrInvalid     = errors.New("securestore envelope is invalid")
	ErrPlaintext   = errors.New("securestore data is not sealed")
	ErrKDFMismatch = errors.New("securestore kdf parameters do not match policy")
	ErrNoSecret    = errors.New("securestore secret is required")
)

// Params is the argon2id cost policy. Envelopes sealed under different
// parameters are rejected on open.
type Params struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

func DefaultParams() Params {
	return Params{Time: 2, MemoryKB: 64 * 1024, Threads: 1}
}

type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// Sealer encrypts blobs under a passphrase. The label is bound as associated
// data so a sealed blob cannot be replayed under a different name.
type Sealer struct {
	secret string
	params Params
}

func NewSealer(secret string, params Params) (*Sealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNoSecret
	}
	if params.Time == 0 || params.MemoryKB == 0 || params.Threads == 0 {
		params = DefaultParams()
	}
	return &Sealer{secret: secret, params: params}, nil
}

func (s *Sealer) Seal(label string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := s.deriveKey(salt)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	env := Envelope{
		Version:     envelopeVersion,
		KDF:         kdfName,
		KDFTime:     s.params.Time,
		KDFMemoryKB: s.params.MemoryKB,
		KDFThreads:  s.params.Threads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  aead.Seal(nil, nonce, plaintext, []byte(label)),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(filePrefix), raw...), nil
}

func (s *Sealer) Open(label string, data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return nil, ErrPlaintext
	}
	var env Envelope
	if err := json.Unmarshal(data[len(filePrefix):], &env); err != nil {
		return nil, ErrInvalid
	}
	if env.Version != envelopeVersion || env.KDF != kdfName {
		return nil, ErrInvalid
	}
	if env.KDFTime != s.params.Time || env.KDFMemoryKB != s.params.MemoryKB || env.KDFThreads != s.params.Threads {
		return nil, ErrKDFMismatch
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalid
	}
	key := s.deriveKey(env.Salt)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, []byte(label))
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func IsSealed(data []byte) bool {
	return strings.HasPrefix(string(data), filePrefix)
}

func (s *Sealer) deriveKey(salt []byte) []byte {
	return argon2.IDKey([]byte(s.secret), salt, s.params.Time, s.params.MemoryKB, s.params.Threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
