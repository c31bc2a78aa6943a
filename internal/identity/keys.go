package identity

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"visitorid/go-backend/internal/principal"
	"visitorid/go-backend/pkg/models"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

var (
	ErrInvalidPublicKey = errors.New("invalid secp256k1 public key")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMissingKey       = errors.New("identity has no private key")
)

const signatureSize = 64

// DER SubjectPublicKeyInfo header for an uncompressed secp256k1 point:
// SEQUENCE { SEQUENCE { id-ecPublicKey, secp256k1 }, BIT STRING }.
var spkiPrefix = []byte{
	0x30, 0x56, 0x30, 0x10, 0x06, 0x07, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x02, 0x01,
	0x06, 0x05, 0x2b, 0x81, 0x04, 0x00, 0x0a, 0x03, 0x42, 0x00,
}

// Signer is the capability shared by the two identity shapes this service
// handles. It is sealed: only BaseIdentity and SessionIdentity implement it.
type Signer interface {
	Principal() principal.Principal
	PublicKeyDER() []byte
	SignDelegation(d models.Delegation) ([]byte, error)
	sealed()
}

type keyPair struct {
	priv      *secp256k1.PrivateKey
	der       []byte
	principal principal.Principal
}

func newKeyPair(priv *secp256k1.PrivateKey) (keyPair, error) {
	if priv == nil || priv.Key.IsZero() {
		return keyPair{}, ErrMissingKey
	}
	der := MarshalPublicKeyDER(priv.PubKey())
	p, err := principal.SelfAuthenticating(der)
	if err != nil {
		return keyPair{}, err
	}
	return keyPair{priv: priv, der: der, principal: p}, nil
}

func generateKeyPair() (keyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return keyPair{}, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return newKeyPair(priv)
}

func (k keyPair) Principal() principal.Principal {
	return k.principal
}

func (k keyPair) PublicKeyDER() []byte {
	return append([]byte(nil), k.der...)
}

func (k keyPair) SignDelegation(d models.Delegation) ([]byte, error) {
	if k.priv == nil || k.priv.Key.IsZero() {
		return nil, ErrMissingKey
	}
	msg, err := DelegationSigningBytes(d)
	if err != nil {
		return nil, err
	}
	return k.sign(msg), nil
}

func (k keyPair) sign(msg []byte) []byte {
	digest := sha256.Sum256(msg)
	compact := ecdsa.SignCompact(k.priv, digest[:], false)
	// Drop the recovery byte and keep r||s.
	return compact[1:]
}

func (k keyPair) exportJWK() models.JWK {
	return privateJWK(k.priv)
}

func (keyPair) sealed() {}

// BaseIdentity is the long-lived key of a visitor. It is only ever handled
// server-side.
type BaseIdentity struct {
	keyPair
}

func GenerateBaseIdentity() (*BaseIdentity, error) {
	kp, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	return &BaseIdentity{keyPair: kp}, nil
}

func BaseIdentityFromJWK(raw string) (*BaseIdentity, error) {
	priv, err := ParsePrivateJWK(raw)
	if err != nil {
		return nil, err
	}
	kp, err := newKeyPair(priv)
	if err != nil {
		return nil, err
	}
	return &BaseIdentity{keyPair: kp}, nil
}

// ExportJWK returns the JWK string that is persisted in the KV store.
func (b *BaseIdentity) ExportJWK() (string, error) {
	return encodeJWK(b.exportJWK())
}

// SessionIdentity is an ephemeral key that only lives inside one wire bundle.
type SessionIdentity struct {
	keyPair
}

func GenerateSessionIdentity() (*SessionIdentity, error) {
	kp, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	return &SessionIdentity{keyPair: kp}, nil
}

func SessionIdentityFromJWK(key models.JWK) (*SessionIdentity, error) {
	priv, err := privateKeyFromJWK(key)
	if err != nil {
		return nil, err
	}
	kp, err := newKeyPair(priv)
	if err != nil {
		return nil, err
	}
	return &SessionIdentity{keyPair: kp}, nil
}

func (s *SessionIdentity) ExportJWK() models.JWK {
	return s.exportJWK()
}

// Sign signs an arbitrary message with the session key, e.g. a metadata
// write proof.
func (s *SessionIdentity) Sign(msg []byte) []byte {
	return s.sign(msg)
}

func MarshalPublicKeyDER(pub *secp256k1.PublicKey) []byte {
	out := make([]byte, 0, len(spkiPrefix)+65)
	out = append(out, spkiPrefix...)
	return append(out, pub.SerializeUncompressed()...)
}

func ParsePublicKeyDER(der []byte) (*secp256k1.PublicKey, error) {
	if len(der) != len(spkiPrefix)+65 || !bytes.HasPrefix(der, spkiPrefix) {
		return nil, ErrInvalidPublicKey
	}
	pub, err := secp256k1.ParsePubKey(der[len(spkiPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// VerifySignature checks a 64-byte r||s signature over sha256(msg).
func VerifySignature(publicKeyDER, msg, sig []byte) error {
	pub, err := ParsePublicKeyDER(publicKeyDER)
	if err != nil {
		return err
	}
	if len(sig) != signatureSize {
		return ErrInvalidSignature
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow || r.IsZero() {
		return ErrInvalidSignature
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow || s.IsZero() {
		return ErrInvalidSignature
	}
	digest := sha256.Sum256(msg)
	if !ecdsa.NewSignature(&r, &s).Verify(digest[:], pub) {
		return ErrInvalidSignature
	}
	return nil
}
