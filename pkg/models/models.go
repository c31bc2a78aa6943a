package models

import (
	"visitorid/go-backend/internal/principal"

	"github.com/fxamacker/cbor/v2"
)

// Delegation grants Pubkey signing authority until Expiration (unix nanoseconds).
// A nil Targets list means the delegation is valid against any target.
type Delegation struct {
	Pubkey     []byte                `json:"pubkey" cbor:"pubkey"`
	Expiration uint64                `json:"expiration" cbor:"expiration"`
	Targets    []principal.Principal `json:"targets" cbor:"targets"`
}

type SignedDelegation struct {
	Delegation Delegation `json:"delegation" cbor:"delegation"`
	Signature  []byte     `json:"signature" cbor:"signature"`
}

// JWK is an elliptic-curve JSON Web Key. D is omitted for public keys.
type JWK struct {
	Kty string `json:"kty" cbor:"kty"`
	Crv string `json:"crv" cbor:"crv"`
	X   string `json:"x" cbor:"x"`
	Y   string `json:"y" cbor:"y"`
	D   string `json:"d,omitempty" cbor:"d,omitempty"`
}

// DelegatedIdentityWire is what a client receives on every page load.
// ToSecret is always the session key, never the base key.
type DelegatedIdentityWire struct {
	FromKey         []byte             `json:"from_key" cbor:"from_key"`
	ToSecret        JWK                `json:"to_secret" cbor:"to_secret"`
	DelegationChain []SignedDelegation `json:"delegation_chain" cbor:"delegation_chain"`
}

// UserMetadata is an arbitrary JSON object owned by one principal.
type UserMetadata map[string]any

// MetadataWriteProof shows that the caller holds a session key delegated by
// the principal whose metadata is being written. IssuedAt (unix nanoseconds)
// is covered by Signature.
type MetadataWriteProof struct {
	FromKey         []byte             `json:"from_key"`
	DelegationChain []SignedDelegation `json:"delegation_chain"`
	IssuedAt        uint64             `json:"issued_at"`
	Signature       []byte             `json:"signature"`
}

func EncodeWireCBOR(wire DelegatedIdentityWire) ([]byte, error) {
	return cbor.Marshal(wire)
}

func DecodeWireCBOR(data []byte) (DelegatedIdentityWire, error) {
	var wire DelegatedIdentityWire
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return DelegatedIdentityWire{}, err
	}
	return wire, nil
}
