package identity

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"time"

	"visitorid/go-backend/pkg/models"
)

const delegationDomainSeparator = "\x1Aic-request-auth-delegation"

var (
	ErrDelegationExpired = errors.New("delegation expired")
	ErrEmptyChain        = errors.New("delegation chain is empty")
	ErrInvalidDelegation = errors.New("invalid delegation")
)

// DelegationSigningBytes returns the domain-separated, representation
// independent hash of d that the delegating key signs.
func DelegationSigningBytes(d models.Delegation) ([]byte, error) {
	if len(d.Pubkey) == 0 {
		return nil, fmt.Errorf("%w: missing pubkey", ErrInvalidDelegation)
	}
	fields := [][2][]byte{
		{[]byte("pubkey"), hashBlob(d.Pubkey)},
		{[]byte("expiration"), hashNat(d.Expiration)},
	}
	if d.Targets != nil {
		hashes := make([]byte, 0, len(d.Targets)*sha256.Size)
		for _, target := range d.Targets {
			hashes = append(hashes, hashBlob(target.Bytes())...)
		}
		fields = append(fields, [2][]byte{[]byte("targets"), hashBlob(hashes)})
	}
	sum := hashMap(fields)
	out := make([]byte, 0, len(delegationDomainSeparator)+len(sum))
	out = append(out, delegationDomainSeparator...)
	return append(out, sum...), nil
}

// Sign produces one link of a delegation chain.
func Sign(from Signer, d models.Delegation) (models.SignedDelegation, error) {
	sig, err := from.SignDelegation(d)
	if err != nil {
		return models.SignedDelegation{}, err
	}
	return models.SignedDelegation{Delegation: d, Signature: sig}, nil
}

// VerifyChain walks the chain starting at fromKey and returns the public key
// that the last link delegates to. Every link must be unexpired at now.
func VerifyChain(fromKey []byte, chain []models.SignedDelegation, now time.Time) ([]byte, error) {
	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}
	signer := fromKey
	nowNanos := uint64(now.UnixNano())
	for i, link := range chain {
		if link.Delegation.Expiration <= nowNanos {
			return nil, fmt.Errorf("link %d: %w", i, ErrDelegationExpired)
		}
		msg, err := DelegationSigningBytes(link.Delegation)
		if err != nil {
			return nil, fmt.Errorf("link %d: %w", i, err)
		}
		if err := VerifySignature(signer, msg, link.Signature); err != nil {
			return nil, fmt.Errorf("link %d: %w", i, err)
		}
		signer = link.Delegation.Pubkey
	}
	return append([]byte(nil), signer...), nil
}

func hashBlob(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

func hashNat(n uint64) []byte {
	return hashBlob(appendLEB128(nil, n))
}

func hashMap(fields [][2][]byte) []byte {
	pairs := make([][]byte, 0, len(fields))
	for _, f := range fields {
		pair := make([]byte, 0, 2*sha256.Size)
		pair = append(pair, hashBlob(f[0])...)
		pair = append(pair, f[1]...)
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i], pairs[j]) < 0 })
	return hashBlob(bytes.Join(pairs, nil))
}

func appendLEB128(dst []byte, n uint64) []byte {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}
