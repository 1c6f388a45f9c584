package validator

import (
	"errors"
	"fmt"
)

// Verification failure kinds. Every failure returned by Verifier.Verify
// wraps exactly one of these, so callers can distinguish the cause with
// errors.Is while still receiving a single error value.
var (
	// ErrMalformedToken is returned when the token cannot be parsed into
	// its header, payload and signature parts.
	ErrMalformedToken = errors.New("malformed token")

	// ErrUnknownKey is returned when the key id referenced by the token
	// header is not present in the key set, even after a forced refresh.
	ErrUnknownKey = errors.New("unknown signing key")

	// ErrAlgorithmMismatch is returned when the algorithm declared in the
	// token header does not match the published key's algorithm, or is not
	// an accepted signature algorithm. A token is never allowed to choose
	// a different algorithm than the key was published for.
	ErrAlgorithmMismatch = errors.New("signature algorithm mismatch")

	// ErrInvalidSignature is returned when the cryptographic signature does
	// not verify against the located public key.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrMissingClaim is returned when a required claim is absent from the
	// token payload. The returned error is a *MissingClaimError carrying
	// the claim name.
	ErrMissingClaim = errors.New("missing required claim")

	// ErrIssuerMismatch is returned when the iss claim does not equal the
	// configured issuer.
	ErrIssuerMismatch = errors.New("issuer mismatch")

	// ErrAudienceMismatch is returned when none of the aud values equal the
	// configured audience.
	ErrAudienceMismatch = errors.New("audience mismatch")

	// ErrTokenExpired is returned when the exp claim is in the past beyond
	// the configured leeway.
	ErrTokenExpired = errors.New("token expired")

	// ErrRoleNotAllowed is returned when the role claim is not in the
	// configured allow-list.
	ErrRoleNotAllowed = errors.New("role not allowed")

	// ErrIssuedInFuture is returned when the iat claim is further in the
	// future than the configured tolerance.
	ErrIssuedInFuture = errors.New("token issued in the future")
)

// MissingClaimError reports which required claim was absent.
type MissingClaimError struct {
	Claim string
}

func (e *MissingClaimError) Error() string {
	return fmt.Sprintf("missing required claim %q", e.Claim)
}

// Is allows the error to match ErrMissingClaim with errors.Is.
func (e *MissingClaimError) Is(target error) bool {
	return target == ErrMissingClaim
}
