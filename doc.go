// Package bearerauth verifies bearer tokens signed by an external identity
// provider using the provider's published JSON Web Key Set.
//
// The provider's private key never reaches the verifying service. The
// subsystem fetches and caches the rotating public key set, verifies token
// signatures and a strict claim set, memoizes successful verifications, and
// degrades predictably when the provider is slow or unreachable.
//
// The pipeline, leaf first:
//
//   - jwks.Fetcher retrieves the key set over HTTP with bounded retries and
//     exponential backoff.
//   - jwks.Cache holds the latest key set with a TTL, coalesces concurrent
//     refreshes into a single in-flight fetch, and serves a stale set when a
//     routine refresh fails.
//   - validator.Verifier parses a token, selects the public key by key id,
//     pins the signature algorithm, verifies the signature over the original
//     bytes, and validates issuer, audience, expiry, role and timing claims
//     in a fixed order.
//   - resultcache.Cache memoizes successful verifications keyed by a SHA-256
//     digest of the raw token. Failures are never cached.
//   - identity.Extract maps a verified claim set into a normalized
//     identity.Record.
//
// Service ties the pieces together:
//
//	cfg := config.Default()
//	cfg.IssuerURL = "https://idp.example/auth"
//	cfg.Audience = "authenticated"
//	cfg.AllowedRoles = []string{"authenticated"}
//
//	svc, err := bearerauth.NewFromConfig(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rec, err := svc.Authenticate(ctx, rawToken)
//
// For HTTP servers, Middleware (or the gin/echo/grpc adapters under
// framework/) extracts the token, runs the Service and stores the identity
// in the request context:
//
//	mw, _ := bearerauth.NewMiddleware(svc)
//	http.Handle("/", mw.CheckToken(handler))
//
// All verification failures surface to callers as ErrTokenInvalid; the
// specific cause is retained in the wrapped error chain and in diagnostic
// logs only. A missing credential is reported separately as ErrTokenMissing
// so transports can map the two cases to different statuses.
package bearerauth
