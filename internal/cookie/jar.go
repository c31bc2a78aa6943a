package cookie

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

var ErrNoKey = errors.New("cookie signing key is required")

// HeaderSink receives outbound headers; http.Header satisfies it.
type HeaderSink interface {
	Add(key, value string)
}

type Cookie struct {
	Name     string
	Value    string
	Path     string
	MaxAge   time.Duration
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
}

// Jar is a request-scoped signed cookie jar. Cookies whose signature does not
// verify are invisible to Get.
type Jar struct {
	key      Key
	incoming map[string]string
	pending  []*http.Cookie
}

// NewJar reads the Cookie headers of an inbound request.
func NewJar(key Key, header http.Header) (*Jar, error) {
	if key.IsZero() {
		return nil, ErrNoKey
	}
	j := &Jar{key: key, incoming: make(map[string]string)}
	req := http.Request{Header: header}
	for _, c := range req.Cookies() {
		if value, ok := j.verify(c.Name, c.Value); ok {
			j.incoming[c.Name] = value
		}
	}
	return j, nil
}

func (j *Jar) Get(name string) (string, bool) {
	value, ok := j.incoming[name]
	return value, ok
}

// Add signs c and queues it for the response. Later Gets in the same request
// observe the new value.
func (j *Jar) Add(c Cookie) {
	path := c.Path
	if path == "" {
		path = "/"
	}
	j.pending = append(j.pending, &http.Cookie{
		Name:     c.Name,
		Value:    j.sign(c.Name, c.Value),
		Path:     path,
		MaxAge:   int(c.MaxAge / time.Second),
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
	j.incoming[c.Name] = c.Value
}

// Flush writes one Set-Cookie header per queued cookie and empties the queue.
func (j *Jar) Flush(sink HeaderSink) int {
	n := 0
	for _, c := range j.pending {
		if line := c.String(); line != "" {
			sink.Add("Set-Cookie", line)
			n++
		}
	}
	j.pending = nil
	return n
}

func (j *Jar) sign(name, value string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(value)) + "." +
		base64.RawURLEncoding.EncodeToString(j.mac(name, value))
}

func (j *Jar) verify(name, signed string) (string, bool) {
	payloadPart, sigPart, ok := strings.Cut(signed, ".")
	if !ok {
		return "", false
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return "", false
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return "", false
	}
	if subtle.ConstantTimeCompare(sig, j.mac(name, string(payload))) != 1 {
		return "", false
	}
	return string(payload), true
}

func (j *Jar) mac(name, value string) []byte {
	h, err := blake2b.New256(j.key.mac)
	if err != nil {
		// Only reachable with a key longer than 64 bytes, which DeriveKey never returns.
		panic(err)
	}
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(value))
	return h.Sum(nil)
}
