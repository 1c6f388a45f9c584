package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// Default tolerances for time-based claim checks.
const (
	// DefaultLeeway absorbs clock skew when checking the exp claim.
	DefaultLeeway = 30 * time.Second

	// DefaultFutureIssuedAtWindow is how far in the future an iat claim may
	// be before the token is rejected.
	DefaultFutureIssuedAtWindow = 300 * time.Second
)

// maxTokenSize bounds raw token length before any parsing. Valid tokens are
// a few KB at most.
const maxTokenSize = 1 << 20

// KeyProvider supplies the current public key set. Get may serve a cached
// set; ForceRefresh must hit the key endpoint and never fall back to a stale
// set, since it is only used when a referenced key id was not found and a
// stale answer could vouch for a since-revoked key.
type KeyProvider interface {
	Get(ctx context.Context) (jwk.Set, error)
	ForceRefresh(ctx context.Context) (jwk.Set, error)
}

// Verifier checks a bearer token's signature and claim set against a single
// configured issuer, audience and role allow-list. It is safe for concurrent
// use.
type Verifier struct {
	keys              KeyProvider
	expectedIssuer    string
	expectedAudience  string
	allowedRoles      map[string]struct{}
	allowedAlgorithms map[jwa.SignatureAlgorithm]struct{}
	leeway            time.Duration
	futureIATWindow   time.Duration
	now               func() time.Time
}

// defaultAllowedAlgorithms lists the asymmetric signature algorithms a token
// header may declare when the matched key does not publish one. Symmetric
// algorithms are excluded: accepting them would let a token treat the public
// key material as an HMAC secret.
var defaultAllowedAlgorithms = map[jwa.SignatureAlgorithm]struct{}{
	jwa.ES256: {},
	jwa.ES384: {},
	jwa.ES512: {},
	jwa.RS256: {},
	jwa.RS384: {},
	jwa.RS512: {},
	jwa.PS256: {},
	jwa.PS384: {},
	jwa.PS512: {},
	jwa.EdDSA: {},
}

// New builds a Verifier. The key provider, issuer, audience and at least one
// allowed role are required.
func New(keys KeyProvider, issuer, audience string, allowedRoles []string, opts ...Option) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("key provider is required but was nil")
	}
	if issuer == "" {
		return nil, errors.New("issuer is required but was empty")
	}
	if audience == "" {
		return nil, errors.New("audience is required but was empty")
	}
	if len(allowedRoles) == 0 {
		return nil, errors.New("at least one allowed role is required")
	}

	roles := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		roles[role] = struct{}{}
	}

	v := &Verifier{
		keys:              keys,
		expectedIssuer:    issuer,
		expectedAudience:  audience,
		allowedRoles:      roles,
		allowedAlgorithms: defaultAllowedAlgorithms,
		leeway:            DefaultLeeway,
		futureIATWindow:   DefaultFutureIssuedAtWindow,
		now:               time.Now,
	}

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return v, nil
}

// Verify checks the raw token and returns its ClaimSet, or an error wrapping
// exactly one of the failure kinds in errors.go. Checks run in a fixed order
// and short-circuit on the first failure; nothing is retried except a single
// forced key-set refresh when the referenced key id is unknown.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*ClaimSet, error) {
	if err := checkTokenShape(rawToken); err != nil {
		return nil, err
	}

	msg, err := jws.Parse([]byte(rawToken))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one signature, got %d", ErrMalformedToken, len(sigs))
	}
	headers := sigs[0].ProtectedHeaders()

	kid := headers.KeyID()
	if kid == "" {
		return nil, fmt.Errorf("%w: token header carries no key id", ErrUnknownKey)
	}
	tokenAlg := headers.Algorithm()
	if tokenAlg == "" {
		return nil, fmt.Errorf("%w: token header carries no algorithm", ErrAlgorithmMismatch)
	}

	key, err := v.lookupKey(ctx, kid)
	if err != nil {
		return nil, err
	}

	if err := v.checkAlgorithm(tokenAlg, key); err != nil {
		return nil, err
	}

	// jws.Verify re-validates the original compact serialization in full;
	// the signing input is the exact header.payload bytes as received.
	payload, err := jws.Verify([]byte(rawToken), jws.WithKey(tokenAlg, key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	raw, err := decodeClaims(payload)
	if err != nil {
		return nil, err
	}
	if err := v.validateClaims(raw); err != nil {
		return nil, err
	}

	return raw.claimSet(), nil
}

// lookupKey finds the key id in the cached set. A miss forces exactly one
// refresh and retries the lookup once; a refresh failure propagates as a
// verification failure because the key's existence cannot be confirmed.
func (v *Verifier) lookupKey(ctx context.Context, kid string) (jwk.Key, error) {
	set, err := v.keys.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting key set: %w", err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}

	set, err = v.keys.ForceRefresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refreshing key set for key id %q: %w", kid, err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}

	return nil, fmt.Errorf("%w: key id %q", ErrUnknownKey, kid)
}

// checkAlgorithm pins the token's declared algorithm. It must always be an
// accepted signature algorithm, and when the key publishes its own alg it
// must match exactly. The token never gets to pick a weaker algorithm than
// the key was published for.
func (v *Verifier) checkAlgorithm(tokenAlg jwa.SignatureAlgorithm, key jwk.Key) error {
	if _, ok := v.allowedAlgorithms[tokenAlg]; !ok {
		return fmt.Errorf("%w: algorithm %q is not accepted", ErrAlgorithmMismatch, tokenAlg.String())
	}

	keyAlg := ""
	if a := key.Algorithm(); a != nil {
		keyAlg = a.String()
	}
	if keyAlg != "" && keyAlg != tokenAlg.String() {
		return fmt.Errorf("%w: token declares %q but key %q was published for %q",
			ErrAlgorithmMismatch, tokenAlg.String(), key.KeyID(), keyAlg)
	}

	return nil
}

// validateClaims applies the claim rules in order: required presence,
// issuer, audience, expiry with leeway, role allow-list, future iat window.
func (v *Verifier) validateClaims(raw *rawClaims) error {
	if err := raw.checkRequired(); err != nil {
		return err
	}

	now := v.now()

	if *raw.Issuer != v.expectedIssuer {
		return fmt.Errorf("%w: got %q", ErrIssuerMismatch, *raw.Issuer)
	}

	if !raw.Audience.Contains(v.expectedAudience) {
		return fmt.Errorf("%w: token audience %v", ErrAudienceMismatch, []string(*raw.Audience))
	}

	if expiry := time.Unix(*raw.Expiry, 0); now.After(expiry.Add(v.leeway)) {
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired, expiry.UTC().Format(time.RFC3339))
	}

	if _, ok := v.allowedRoles[*raw.Role]; !ok {
		return fmt.Errorf("%w: role %q", ErrRoleNotAllowed, *raw.Role)
	}

	if raw.IssuedAt != nil {
		if issuedAt := time.Unix(*raw.IssuedAt, 0); issuedAt.After(now.Add(v.futureIATWindow)) {
			return fmt.Errorf("%w: issued at %s", ErrIssuedInFuture, issuedAt.UTC().Format(time.RFC3339))
		}
	}

	return nil
}

// checkTokenShape rejects obviously bogus input before any cryptographic
// work: empty tokens, oversized tokens, and anything that is not three
// dot-separated parts.
func checkTokenShape(rawToken string) error {
	if rawToken == "" {
		return fmt.Errorf("%w: token is empty", ErrMalformedToken)
	}
	if len(rawToken) > maxTokenSize {
		return fmt.Errorf("%w: token exceeds %d bytes", ErrMalformedToken, maxTokenSize)
	}
	if strings.Count(rawToken, ".") != 2 {
		return fmt.Errorf("%w: token is not a compact three-part serialization", ErrMalformedToken)
	}
	return nil
}
