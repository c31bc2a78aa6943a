package auth

import (
	"crypto/rand"
	"strings"

	"visitorid/go-backend/internal/contracts"

	"github.com/mr-tron/base58"
)

const componentName = "auth"

// newCorrelationID returns a short base58 token that ties together the log
// lines of one call.
func newCorrelationID() string {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "n/a"
	}
	return base58.Encode(buf)
}

func (s *Service) logInfo(operation, correlationID, message string, attrs ...any) {
	base := []any{
		"component", componentName,
		"operation", strings.TrimSpace(operation),
		"correlation_id", strings.TrimSpace(correlationID),
	}
	s.logger.Info(message, append(base, attrs...)...)
}

func (s *Service) logWarn(operation, correlationID, message string, attrs ...any) {
	base := []any{
		"component", componentName,
		"operation", strings.TrimSpace(operation),
		"correlation_id", strings.TrimSpace(correlationID),
	}
	s.logger.Warn(message, append(base, attrs...)...)
}

func (s *Service) recordError(err error, operation, correlationID string, attrs ...any) {
	if err == nil {
		return
	}
	category := contracts.ErrorCategory(err)
	s.metrics.RecordError(category)
	base := []any{
		"component", componentName,
		"operation", strings.TrimSpace(operation),
		"category", category,
		"correlation_id", strings.TrimSpace(correlationID),
		"error", err.Error(),
	}
	s.logger.Error("auth error", append(base, attrs...)...)
}
