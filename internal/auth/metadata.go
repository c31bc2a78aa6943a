package auth

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"visitorid/go-backend/internal/contracts"
	"visitorid/go-backend/internal/identity"
	"visitorid/go-backend/internal/kvstore"
	"visitorid/go-backend/internal/principal"
	"visitorid/go-backend/pkg/models"
)

const (
	metadataKeySuffix       = "#metadata"
	metadataDomainSeparator = "\x14visitor-metadata-set"

	// MaxProofAge bounds how long a signed metadata write can be replayed.
	MaxProofAge = 5 * time.Minute
	// maxProofSkew tolerates client clocks running slightly ahead.
	maxProofSkew = time.Minute
)

var (
	ErrUnauthorized = errors.New("metadata write is not authorized")
	ErrNoPrincipal  = errors.New("principal is required")
)

// MetadataKey is the KV key of p's metadata document. Principal text never
// contains '#', so it cannot collide with an identity record.
func MetadataKey(p principal.Principal) string {
	return p.Text() + metadataKeySuffix
}

// GetUserMetadata returns p's metadata, or (nil, false, nil) when none was
// ever written.
func GetUserMetadata(ctx context.Context, kv kvstore.Store, p principal.Principal) (models.UserMetadata, bool, error) {
	if p.IsZero() {
		return nil, false, contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, ErrNoPrincipal)
	}
	metadata, ok, err := kvstore.ReadJSONMetadata(ctx, kv, MetadataKey(p))
	if err != nil {
		return nil, false, contracts.Storage(err)
	}
	return metadata, ok, nil
}

// SetUserMetadata overwrites p's metadata after checking that proof was
// produced by a session key p delegated to and that is still valid at now.
func SetUserMetadata(ctx context.Context, kv kvstore.Store, p principal.Principal, metadata models.UserMetadata, proof models.MetadataWriteProof, now time.Time) error {
	if err := VerifyMetadataWriteProof(p, metadata, proof, now); err != nil {
		return err
	}
	return SetUserMetadataUnchecked(ctx, kv, p, metadata)
}

// SetUserMetadataUnchecked overwrites p's metadata without any ownership
// check. It exists for operator tooling.
func SetUserMetadataUnchecked(ctx context.Context, kv kvstore.Store, p principal.Principal, metadata models.UserMetadata) error {
	if p.IsZero() {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, ErrNoPrincipal)
	}
	if err := kvstore.WriteJSONMetadata(ctx, kv, MetadataKey(p), metadata); err != nil {
		return contracts.Storage(err)
	}
	return nil
}

func VerifyMetadataWriteProof(p principal.Principal, metadata models.UserMetadata, proof models.MetadataWriteProof, now time.Time) error {
	if p.IsZero() {
		return contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, ErrNoPrincipal)
	}
	owner, err := principal.SelfAuthenticating(proof.FromKey)
	if err != nil || !owner.Equal(p) {
		return unauthorized("proof key does not belong to the principal")
	}
	for _, link := range proof.DelegationChain {
		if link.Delegation.Targets != nil {
			return unauthorized("target-restricted delegation")
		}
	}
	issuedAt := time.Unix(0, int64(proof.IssuedAt))
	if proof.IssuedAt == 0 || issuedAt.After(now.Add(maxProofSkew)) || now.Sub(issuedAt) > MaxProofAge {
		return unauthorized("proof issued at %s is outside the accepted window", issuedAt.UTC().Format(time.RFC3339))
	}
	sessionKey, err := identity.VerifyChain(proof.FromKey, proof.DelegationChain, now)
	if err != nil {
		return unauthorized("delegation chain: %v", err)
	}
	msg, err := MetadataWriteMessage(p, proof.IssuedAt, metadata)
	if err != nil {
		return err
	}
	if err := identity.VerifySignature(sessionKey, msg, proof.Signature); err != nil {
		return unauthorized("proof signature: %v", err)
	}
	return nil
}

// NewMetadataWriteProof signs a metadata write issued at now with the session
// key carried by wire. Clients build the same proof on their side.
func NewMetadataWriteProof(wire models.DelegatedIdentityWire, p principal.Principal, metadata models.UserMetadata, now time.Time) (models.MetadataWriteProof, error) {
	session, err := identity.SessionIdentityFromJWK(wire.ToSecret)
	if err != nil {
		return models.MetadataWriteProof{}, contracts.Decode(fmt.Errorf("session key: %w", err))
	}
	issuedAt := uint64(now.UnixNano())
	msg, err := MetadataWriteMessage(p, issuedAt, metadata)
	if err != nil {
		return models.MetadataWriteProof{}, err
	}
	return models.MetadataWriteProof{
		FromKey:         bytes.Clone(wire.FromKey),
		DelegationChain: wire.DelegationChain,
		IssuedAt:        issuedAt,
		Signature:       session.Sign(msg),
	}, nil
}

// MetadataWriteMessage is the byte string a metadata proof signs:
// separator || len(principal) || principal || issuedAt (u64 big endian) || json(metadata).
func MetadataWriteMessage(p principal.Principal, issuedAt uint64, metadata models.UserMetadata) ([]byte, error) {
	if metadata == nil {
		metadata = models.UserMetadata{}
	}
	doc, err := json.Marshal(metadata)
	if err != nil {
		return nil, contracts.Encode(fmt.Errorf("metadata: %w", err))
	}
	raw := p.Bytes()
	out := make([]byte, 0, len(metadataDomainSeparator)+1+len(raw)+8+len(doc))
	out = append(out, metadataDomainSeparator...)
	out = append(out, byte(len(raw)))
	out = append(out, raw...)
	out = binary.BigEndian.AppendUint64(out, issuedAt)
	return append(out, doc...), nil
}

func unauthorized(format string, args ...any) error {
	return contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, fmt.Errorf("%w: "+format, append([]any{ErrUnauthorized}, args...)...))
}
