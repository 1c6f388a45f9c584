package bearerauth

import (
	"errors"
)

// Option configures the Service.
// Options return errors to enable validation during construction.
type Option func(*Service) error

// Sentinel errors for configuration validation.
var (
	ErrVerifierNil    = errors.New("verifier cannot be nil (use WithVerifier)")
	ErrResultCacheNil = errors.New("result cache cannot be nil")
	ErrLoggerNil      = errors.New("logger cannot be nil")
	ErrMetricsNil     = errors.New("metrics cannot be nil")
	ErrTracerNil      = errors.New("tracer cannot be nil")
)

// WithVerifier sets the token verifier (REQUIRED unless NewFromConfig is
// used).
func WithVerifier(v TokenVerifier) Option {
	return func(s *Service) error {
		if v == nil {
			return ErrVerifierNil
		}
		s.verifier = v
		return nil
	}
}

// WithResultCache replaces the default validation-result cache.
func WithResultCache(c ResultCache) Option {
	return func(s *Service) error {
		if c == nil {
			return ErrResultCacheNil
		}
		s.results = c
		return nil
	}
}

// WithLogger sets the logger used for internal diagnostics.
//
// Default: NopLogger.
func WithLogger(l Logger) Option {
	return func(s *Service) error {
		if l == nil {
			return ErrLoggerNil
		}
		s.logger = l
		return nil
	}
}

// WithMetrics sets the metrics sink.
//
// Default: NopMetrics.
func WithMetrics(m Metrics) Option {
	return func(s *Service) error {
		if m == nil {
			return ErrMetricsNil
		}
		s.metrics = m
		return nil
	}
}

// WithTracer sets the tracer.
//
// Default: NopTracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) error {
		if t == nil {
			return ErrTracerNil
		}
		s.tracer = t
		return nil
	}
}
