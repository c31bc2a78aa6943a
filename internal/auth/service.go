package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"visitorid/go-backend/internal/contracts"
	"visitorid/go-backend/internal/cookie"
	"visitorid/go-backend/internal/identity"
	"visitorid/go-backend/internal/kvstore"
	"visitorid/go-backend/internal/platform/privacylog"
	"visitorid/go-backend/internal/platform/ratelimiter"
	"visitorid/go-backend/internal/principal"
	"visitorid/go-backend/pkg/models"
)

const (
	opExtractOrGenerate = "identity.extract_or_generate"
	opMetadataGet       = "metadata.get"
	opMetadataSet       = "metadata.set"

	outcomeRecovered = "recovered"
	outcomeGenerated = "generated"
)

var ErrGenerationThrottled = errors.New("identity generation throttled")

type ServiceConfig struct {
	Options Options
	Logger  *slog.Logger
	Metrics *Metrics
	// Limiter throttles identity generation per client key. Nil disables it.
	Limiter *ratelimiter.KeyedLimiter
	Now     func() time.Time
}

// Service wires the identity operations to logging, metrics and throttling.
// It holds no per-visitor state; the KV store and cookie key are passed per
// call.
type Service struct {
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
	limiter *ratelimiter.KeyedLimiter
	now     func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(privacylog.WrapHandler(slog.DiscardHandler))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		opts:    cfg.Options.withDefaults(),
		logger:  logger,
		metrics: cfg.Metrics,
		limiter: cfg.Limiter,
		now:     now,
	}
}

// Request is the part of an inbound HTTP request the service looks at.
type Request struct {
	Header http.Header
	// ClientKey identifies the caller for throttling, typically the remote
	// address. Empty keys share one bucket, so unidentified callers are
	// throttled together.
	ClientKey string
}

// ExtractOrGenerateIdentity recovers the visitor's base identity from the
// refresh cookie, or generates and stores a new one, then refreshes the
// cookie through sink and returns a fresh delegation.
func (s *Service) ExtractOrGenerateIdentity(ctx context.Context, kv kvstore.Store, key cookie.Key, req Request, sink cookie.HeaderSink) (models.DelegatedIdentityWire, error) {
	correlationID := newCorrelationID()
	started := s.now()
	defer func() { s.metrics.RecordOp(opExtractOrGenerate, started, s.now()) }()

	jar, err := cookie.NewJar(key, req.Header)
	if err != nil {
		err = contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, err)
		s.recordError(err, opExtractOrGenerate, correlationID)
		return models.DelegatedIdentityWire{}, err
	}

	base, err := TryExtractIdentity(ctx, jar, kv, started, s.opts)
	if err != nil {
		s.recordError(err, opExtractOrGenerate, correlationID)
		return models.DelegatedIdentityWire{}, err
	}
	outcome := outcomeRecovered
	if base == nil {
		base, err = s.generate(ctx, kv, req.ClientKey, started, correlationID)
		if err != nil {
			return models.DelegatedIdentityWire{}, err
		}
		outcome = outcomeGenerated
	}

	wire, err := UpdateUserIdentity(sink, jar, base, started, s.opts)
	if err != nil {
		s.recordError(err, opExtractOrGenerate, correlationID, "principal", base.Principal().Text())
		return models.DelegatedIdentityWire{}, err
	}
	s.metrics.RecordIdentity(outcome)
	s.logInfo(opExtractOrGenerate, correlationID, "identity delegated",
		"outcome", outcome,
		"principal", base.Principal().Text(),
		"client_key", req.ClientKey,
	)
	return wire, nil
}

func (s *Service) generate(ctx context.Context, kv kvstore.Store, clientKey string, now time.Time, correlationID string) (*identity.BaseIdentity, error) {
	if !s.limiter.Allow(clientKey, now) {
		s.metrics.RecordThrottled()
		s.logWarn(opExtractOrGenerate, correlationID, "identity generation throttled", "client_key", clientKey)
		return nil, contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, ErrGenerationThrottled)
	}
	base, err := GenerateAndSaveIdentity(ctx, kv)
	if err != nil {
		s.recordError(err, opExtractOrGenerate, correlationID)
		return nil, err
	}
	return base, nil
}

func (s *Service) GetUserMetadata(ctx context.Context, kv kvstore.Store, p principal.Principal) (models.UserMetadata, bool, error) {
	correlationID := newCorrelationID()
	started := s.now()
	defer func() { s.metrics.RecordOp(opMetadataGet, started, s.now()) }()

	metadata, ok, err := GetUserMetadata(ctx, kv, p)
	if err != nil {
		s.recordError(err, opMetadataGet, correlationID, "principal", p.Text())
		return nil, false, err
	}
	return metadata, ok, nil
}

func (s *Service) SetUserMetadata(ctx context.Context, kv kvstore.Store, p principal.Principal, metadata models.UserMetadata, proof models.MetadataWriteProof) error {
	correlationID := newCorrelationID()
	started := s.now()
	defer func() { s.metrics.RecordOp(opMetadataSet, started, s.now()) }()

	err := SetUserMetadata(ctx, kv, p, metadata, proof, started)
	switch {
	case errors.Is(err, ErrUnauthorized):
		s.metrics.RecordMetadataWrite("rejected")
		s.logWarn(opMetadataSet, correlationID, "metadata write rejected", "principal", p.Text(), "reason", err.Error())
		return err
	case err != nil:
		s.recordError(err, opMetadataSet, correlationID, "principal", p.Text())
		return err
	}
	s.metrics.RecordMetadataWrite("accepted")
	s.logInfo(opMetadataSet, correlationID, "metadata written", "principal", p.Text(), "fields", len(metadata))
	return nil
}
