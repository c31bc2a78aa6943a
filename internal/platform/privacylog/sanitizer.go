package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

var bootNonce = randomNonce()

// Policy names the attribute keys that must never reach a log sink verbatim.
// Keys containing any Redact fragment are replaced; keys listed in
// Fingerprint are replaced by a per-process keyed hash, so records about the
// same visitor still correlate within one process lifetime.
type Policy struct {
	Redact      []string
	Fingerprint map[string]struct{}
}

func DefaultPolicy() Policy {
	return Policy{
		Redact: []string{"secret", "token", "jwk", "cookie", "password", "authorization", "private"},
		Fingerprint: map[string]struct{}{
			"principal":   {},
			"client_key":  {},
			"remote_addr": {},
		},
	}
}

type SanitizingHandler struct {
	next   slog.Handler
	policy Policy
}

func WrapHandler(next slog.Handler) slog.Handler {
	return NewHandler(next, DefaultPolicy())
}

func NewHandler(next slog.Handler, policy Policy) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next, policy: policy}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.policy.SanitizeAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sanitized := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		sanitized = append(sanitized, h.policy.SanitizeAttr(attr))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(sanitized), policy: h.policy}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name), policy: h.policy}
}

func (p Policy) SanitizeAttr(attr slog.Attr) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lowerKey := strings.ToLower(key)
	switch {
	case p.redacts(lowerKey):
		return slog.String(key, redactedValue)
	case p.fingerprints(lowerKey):
		return slog.String(key+"_fp", FingerprintID(valueToString(attr.Value.Resolve())))
	case attr.Value.Kind() == slog.KindGroup:
		group := attr.Value.Group()
		out := make([]any, 0, len(group))
		for _, member := range group {
			out = append(out, p.SanitizeAttr(member))
		}
		return slog.Group(key, out...)
	default:
		return attr
	}
}

func FingerprintID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootNonce))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func (p Policy) fingerprints(key string) bool {
	_, ok := p.Fingerprint[key]
	return ok
}

func (p Policy) redacts(key string) bool {
	for _, part := range p.Redact {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindAny:
		if s, ok := v.Any().(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "fallback_nonce"
	}
	return hex.EncodeToString(buf)
}
