package principal

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/multiformats/go-base32"
)

const (
	MaxLength             = 29
	selfAuthenticatingTag = 0x02
	textGroupSize         = 5
)

var (
	ErrInvalidText   = errors.New("invalid principal text")
	ErrInvalidLength = errors.New("invalid principal length")
	ErrEmptyKey      = errors.New("public key is required")
)

var textEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Principal is an immutable identifier. The zero value is the anonymous
// principal with no bytes and is never produced by SelfAuthenticating.
type Principal struct {
	raw string
}

// SelfAuthenticating derives the principal bound to a DER-encoded
// SubjectPublicKeyInfo.
func SelfAuthenticating(publicKeyDER []byte) (Principal, error) {
	if len(publicKeyDER) == 0 {
		return Principal{}, ErrEmptyKey
	}
	sum := sha256.Sum224(publicKeyDER)
	raw := make([]byte, 0, len(sum)+1)
	raw = append(raw, sum[:]...)
	raw = append(raw, selfAuthenticatingTag)
	return Principal{raw: string(raw)}, nil
}

func FromBytes(raw []byte) (Principal, error) {
	if len(raw) > MaxLength {
		return Principal{}, ErrInvalidLength
	}
	return Principal{raw: string(raw)}, nil
}

// Parse accepts the canonical text form in any letter case: correctly grouped
// and with a matching CRC-32 checksum.
func Parse(text string) (Principal, error) {
	compact := strings.ReplaceAll(text, "-", "")
	decoded, err := textEncoding.DecodeString(strings.ToUpper(compact))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidText, err)
	}
	if len(decoded) < 4 {
		return Principal{}, ErrInvalidText
	}
	p, err := FromBytes(decoded[4:])
	if err != nil {
		return Principal{}, err
	}
	if binary.BigEndian.Uint32(decoded[:4]) != crc32.ChecksumIEEE(decoded[4:]) {
		return Principal{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidText)
	}
	if p.Text() != strings.ToLower(text) {
		return Principal{}, fmt.Errorf("%w: not canonical", ErrInvalidText)
	}
	return p, nil
}

func (p Principal) Bytes() []byte {
	return []byte(p.raw)
}

func (p Principal) IsZero() bool {
	return p.raw == ""
}

func (p Principal) Equal(other Principal) bool {
	return p.raw == other.raw
}

// Text renders the checksummed, dash-grouped base32 form used as the
// storage key for everything owned by the principal.
func (p Principal) Text() string {
	buf := make([]byte, 4, 4+len(p.raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE([]byte(p.raw)))
	buf = append(buf, p.raw...)
	encoded := strings.ToLower(textEncoding.EncodeToString(buf))

	var b strings.Builder
	b.Grow(len(encoded) + len(encoded)/textGroupSize)
	for i := 0; i < len(encoded); i += textGroupSize {
		if i > 0 {
			b.WriteByte('-')
		}
		end := min(i+textGroupSize, len(encoded))
		b.WriteString(encoded[i:end])
	}
	return b.String()
}

func (p Principal) String() string {
	return p.Text()
}

func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.Text()), nil
}

func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Principal) MarshalBinary() ([]byte, error) {
	return p.Bytes(), nil
}

func (p *Principal) UnmarshalBinary(data []byte) error {
	parsed, err := FromBytes(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
