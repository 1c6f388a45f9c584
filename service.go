package bearerauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tokenforge/bearerauth/config"
	"github.com/tokenforge/bearerauth/identity"
	"github.com/tokenforge/bearerauth/jwks"
	"github.com/tokenforge/bearerauth/resultcache"
	"github.com/tokenforge/bearerauth/validator"
)

// TokenVerifier checks a raw token and returns its claims.
// *validator.Verifier is the production implementation.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*validator.ClaimSet, error)
}

// ResultCache memoizes successful verifications. *resultcache.Cache is the
// production implementation.
type ResultCache interface {
	Lookup(rawToken string) (*validator.ClaimSet, bool)
	Store(rawToken string, claims *validator.ClaimSet)
}

// Service is the bearer-token verification subsystem: result cache in front
// of the verifier, identity extraction behind it. One Service is constructed
// per process and shared by all request handlers.
type Service struct {
	verifier TokenVerifier
	results  ResultCache
	logger   Logger
	metrics  Metrics
	tracer   Tracer
}

// New builds a Service. WithVerifier is required; the result cache defaults
// to an in-memory cache with resultcache.DefaultTTL.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		logger:  NopLogger{},
		metrics: NopMetrics{},
		tracer:  NopTracer{},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	if s.verifier == nil {
		return nil, ErrVerifierNil
	}
	if s.results == nil {
		s.results = resultcache.New(resultcache.DefaultTTL)
	}

	return s, nil
}

// NewFromConfig wires the whole pipeline from a Config: fetcher (direct or
// discovering), key-set cache, verifier and result cache. Options are
// applied afterwards, so they can still override the logger, metrics,
// tracer or any component.
func NewFromConfig(cfg config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	fetcherOpts := []jwks.FetcherOption{
		jwks.WithMaxAttempts(cfg.FetchRetryCount),
		jwks.WithRetryBaseDelay(cfg.FetchRetryBaseDelay.Std()),
	}

	var source jwks.KeySource
	if cfg.JWKSEndpoint != "" {
		fetcher, err := jwks.NewFetcher(cfg.JWKSEndpoint, fetcherOpts...)
		if err != nil {
			return nil, err
		}
		source = fetcher
	} else {
		fetcher, err := jwks.NewDiscoveringFetcher(cfg.IssuerURL, &http.Client{Timeout: jwks.DefaultRequestTimeout}, fetcherOpts...)
		if err != nil {
			return nil, err
		}
		source = fetcher
	}

	keys, err := jwks.NewCache(source, jwks.WithTTL(cfg.KeySetTTL.Std()))
	if err != nil {
		return nil, err
	}

	verifier, err := validator.New(keys, cfg.IssuerURL, cfg.Audience, cfg.AllowedRoles,
		validator.WithLeeway(cfg.ClockSkewLeeway.Std()),
		validator.WithFutureIssuedAtWindow(cfg.FutureIssuedAtTolerance.Std()),
	)
	if err != nil {
		return nil, err
	}

	allOpts := append([]Option{
		WithVerifier(verifier),
		WithResultCache(resultcache.New(cfg.ResultCacheTTL.Std())),
	}, opts...)

	return New(allOpts...)
}

// Authenticate verifies the raw token and returns the normalized identity.
// The result cache is consulted first; a hit skips the signature check
// entirely. Failures are never cached and are returned as a uniform
// ErrTokenInvalid; the specific kind is only logged.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (identity.Record, error) {
	if rawToken == "" {
		return identity.Record{}, ErrTokenMissing
	}

	ctx, span := s.tracer.StartSpan(ctx, "bearerauth.Authenticate")
	defer span.Finish()

	if claims, ok := s.results.Lookup(rawToken); ok {
		s.metrics.IncCounter(MetricResultCacheTotal, map[string]string{"outcome": "hit"})
		span.SetTag("result_cache", "hit")
		return identity.Extract(claims), nil
	}
	s.metrics.IncCounter(MetricResultCacheTotal, map[string]string{"outcome": "miss"})

	start := time.Now()
	claims, err := s.verifier.Verify(ctx, rawToken)
	s.metrics.ObserveHistogram(MetricVerificationDuration, time.Since(start).Seconds(), nil)

	if err != nil {
		s.logger.Warnf("token verification failed: %v", err)
		s.metrics.IncCounter(MetricVerificationsTotal, map[string]string{"outcome": "failure"})
		span.SetTag("outcome", "failure")
		return identity.Record{}, &invalidError{details: err}
	}

	s.results.Store(rawToken, claims)
	s.metrics.IncCounter(MetricVerificationsTotal, map[string]string{"outcome": "success"})
	span.SetTag("outcome", "success")
	s.logger.Debugf("token verified for subject %s", claims.Subject)

	return identity.Extract(claims), nil
}
