package validator

import (
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
)

// Option is how options for the Verifier are set up.
// Options return errors to enable validation during construction.
type Option func(*Verifier) error

// WithLeeway sets the clock-skew tolerance applied when checking the exp
// claim.
//
// Default: DefaultLeeway (30 seconds).
func WithLeeway(leeway time.Duration) Option {
	return func(v *Verifier) error {
		if leeway < 0 {
			return errors.New("leeway cannot be negative")
		}
		v.leeway = leeway
		return nil
	}
}

// WithFutureIssuedAtWindow sets how far in the future an iat claim may be
// before the token is rejected.
//
// Default: DefaultFutureIssuedAtWindow (300 seconds).
func WithFutureIssuedAtWindow(window time.Duration) Option {
	return func(v *Verifier) error {
		if window < 0 {
			return errors.New("future issued-at window cannot be negative")
		}
		v.futureIATWindow = window
		return nil
	}
}

// WithAllowedAlgorithms replaces the set of signature algorithms a token
// header may declare. Only asymmetric algorithms should be listed here;
// the default set already excludes the HMAC family.
func WithAllowedAlgorithms(algs ...jwa.SignatureAlgorithm) Option {
	return func(v *Verifier) error {
		if len(algs) == 0 {
			return errors.New("at least one allowed algorithm is required")
		}
		allowed := make(map[jwa.SignatureAlgorithm]struct{}, len(algs))
		for _, alg := range algs {
			allowed[alg] = struct{}{}
		}
		v.allowedAlgorithms = allowed
		return nil
	}
}

// WithClock overrides the time source used for time-based claim checks.
// Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		v.now = now
		return nil
	}
}
