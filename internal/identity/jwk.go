package identity

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"visitorid/go-backend/pkg/models"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	jwkKeyType = "EC"
	jwkCurve   = "secp256k1"
	scalarSize = 32
)

var ErrInvalidJWK = errors.New("invalid secp256k1 jwk")

func privateJWK(priv *secp256k1.PrivateKey) models.JWK {
	point := priv.PubKey().SerializeUncompressed()
	return models.JWK{
		Kty: jwkKeyType,
		Crv: jwkCurve,
		X:   base64.RawURLEncoding.EncodeToString(point[1 : 1+scalarSize]),
		Y:   base64.RawURLEncoding.EncodeToString(point[1+scalarSize:]),
		D:   base64.RawURLEncoding.EncodeToString(priv.Serialize()),
	}
}

func encodeJWK(key models.JWK) (string, error) {
	raw, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("encode jwk: %w", err)
	}
	return string(raw), nil
}

// ParsePrivateJWK imports a private key previously produced by ExportJWK.
func ParsePrivateJWK(raw string) (*secp256k1.PrivateKey, error) {
	var key models.JWK
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJWK, err)
	}
	return privateKeyFromJWK(key)
}

func privateKeyFromJWK(key models.JWK) (*secp256k1.PrivateKey, error) {
	if key.Kty != jwkKeyType || key.Crv != jwkCurve {
		return nil, fmt.Errorf("%w: unsupported key type %s/%s", ErrInvalidJWK, key.Kty, key.Crv)
	}
	d, err := base64.RawURLEncoding.DecodeString(key.D)
	if err != nil || len(d) != scalarSize {
		return nil, fmt.Errorf("%w: bad private scalar", ErrInvalidJWK)
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(d); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: private scalar out of range", ErrInvalidJWK)
	}
	priv := secp256k1.NewPrivateKey(&scalar)

	// A stored x/y pair must match the scalar, otherwise the record is corrupt.
	if key.X != "" || key.Y != "" {
		point := priv.PubKey().SerializeUncompressed()
		x, errX := base64.RawURLEncoding.DecodeString(key.X)
		y, errY := base64.RawURLEncoding.DecodeString(key.Y)
		if errX != nil || errY != nil ||
			!bytes.Equal(x, point[1:1+scalarSize]) ||
			!bytes.Equal(y, point[1+scalarSize:]) {
			return nil, fmt.Errorf("%w: public point mismatch", ErrInvalidJWK)
		}
	}
	return priv, nil
}
