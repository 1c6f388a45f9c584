package validator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://idp.example/auth"
	testAudience = "authenticated"
)

func generateKeyPair(t *testing.T, kid string, alg jwa.SignatureAlgorithm, crv elliptic.Curve) (jwk.Key, jwk.Key) {
	t.Helper()

	raw, err := ecdsa.GenerateKey(crv, rand.Reader)
	require.NoError(t, err)

	priv, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, kid))
	require.NoError(t, priv.Set(jwk.AlgorithmKey, alg))

	pub, err := jwk.PublicKeyOf(priv)
	require.NoError(t, err)

	return priv, pub
}

func keySetOf(t *testing.T, keys ...jwk.Key) jwk.Set {
	t.Helper()
	set := jwk.NewSet()
	for _, key := range keys {
		require.NoError(t, set.AddKey(key))
	}
	return set
}

func signToken(t *testing.T, priv jwk.Key, alg jwa.SignatureAlgorithm, claims map[string]any) string {
	t.Helper()

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	headers := jws.NewHeaders()
	require.NoError(t, headers.Set(jws.KeyIDKey, priv.KeyID()))

	signed, err := jws.Sign(payload, jws.WithKey(alg, priv, jws.WithProtectedHeaders(headers)))
	require.NoError(t, err)

	return string(signed)
}

func validClaims() map[string]any {
	now := time.Now().Unix()
	return map[string]any{
		"iss":  testIssuer,
		"aud":  testAudience,
		"exp":  now + 600,
		"iat":  now,
		"sub":  "user-123",
		"role": "authenticated",
	}
}

// fakeKeyProvider serves a fixed key set and optionally swaps to a rotated
// set on ForceRefresh.
type fakeKeyProvider struct {
	mu           sync.Mutex
	current      jwk.Set
	rotated      jwk.Set
	refreshErr   error
	getCalls     int
	refreshCalls int
}

func (p *fakeKeyProvider) Get(ctx context.Context) (jwk.Set, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls++
	return p.current, nil
}

func (p *fakeKeyProvider) ForceRefresh(ctx context.Context) (jwk.Set, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	if p.rotated != nil {
		p.current = p.rotated
	}
	return p.current, nil
}

func newTestVerifier(t *testing.T, provider KeyProvider, opts ...Option) *Verifier {
	t.Helper()
	v, err := New(provider, testIssuer, testAudience, []string{"authenticated", "service_role"}, opts...)
	require.NoError(t, err)
	return v
}

func TestNew_Validation(t *testing.T) {
	provider := &fakeKeyProvider{current: jwk.NewSet()}

	testCases := []struct {
		name  string
		setup func() (*Verifier, error)
	}{
		{
			name: "nil key provider",
			setup: func() (*Verifier, error) {
				return New(nil, testIssuer, testAudience, []string{"authenticated"})
			},
		},
		{
			name: "empty issuer",
			setup: func() (*Verifier, error) {
				return New(provider, "", testAudience, []string{"authenticated"})
			},
		},
		{
			name: "empty audience",
			setup: func() (*Verifier, error) {
				return New(provider, testIssuer, "", []string{"authenticated"})
			},
		},
		{
			name: "no allowed roles",
			setup: func() (*Verifier, error) {
				return New(provider, testIssuer, testAudience, nil)
			},
		},
		{
			name: "negative leeway",
			setup: func() (*Verifier, error) {
				return New(provider, testIssuer, testAudience, []string{"authenticated"}, WithLeeway(-time.Second))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.setup()
			assert.Error(t, err)
		})
	}
}

func TestVerify_Success(t *testing.T) {
	priv, pub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())
	provider := &fakeKeyProvider{current: keySetOf(t, pub)}
	v := newTestVerifier(t, provider)

	token := signToken(t, priv, jwa.ES256, validClaims())

	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, Audience{testAudience}, claims.Audience)
	assert.Equal(t, "authenticated", claims.Role)
	assert.Zero(t, provider.refreshCalls)
}

func TestVerify_Idempotent(t *testing.T) {
	priv, pub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())
	provider := &fakeKeyProvider{current: keySetOf(t, pub)}
	v := newTestVerifier(t, provider)

	c := validClaims()
	c["session_id"] = "sess-1"
	c["aal"] = "aal2"
	c["app_metadata"] = map[string]any{"provider": "email"}
	token := signToken(t, priv, jwa.ES256, c)

	first, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	second, err := v.Verify(context.Background(), token)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("claim sets differ between identical verifications (-first +second):\n%s", diff)
	}
}

func TestVerify_OptionalClaims(t *testing.T) {
	priv, pub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())
	provider := &fakeKeyProvider{current: keySetOf(t, pub)}
	v := newTestVerifier(t, provider)

	c := validClaims()
	c["email"] = "user@example.com"
	c["session_id"] = "sess-42"
	c["aal"] = "aal2"
	c["is_anonymous"] = true
	c["user_metadata"] = map[string]any{"name": "Pat"}
	token := signToken(t, priv, jwa.ES256, c)

	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.Equal(t, "sess-42", claims.SessionID)
	assert.Equal(t, "aal2", claims.AssuranceLevel)
	assert.True(t, claims.IsAnonymous)
	assert.Equal(t, "Pat", claims.UserMetadata["name"])
}

func TestVerify_ClaimRules(t *testing.T) {
	priv, pub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())
	provider := &fakeKeyProvider{current: keySetOf(t, pub)}
	v := newTestVerifier(t, provider)

	now := time.Now().Unix()

	testCases := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr error
	}{
		{
			name:    "expired beyond leeway",
			mutate:  func(c map[string]any) { c["exp"] = now - 60 },
			wantErr: ErrTokenExpired,
		},
		{
			name:   "expired within leeway",
			mutate: func(c map[string]any) { c["exp"] = now - 10 },
		},
		{
			name:    "issuer mismatch",
			mutate:  func(c map[string]any) { c["iss"] = "https://evil.example" },
			wantErr: ErrIssuerMismatch,
		},
		{
			name:    "audience mismatch",
			mutate:  func(c map[string]any) { c["aud"] = "other" },
			wantErr: ErrAudienceMismatch,
		},
		{
			name:   "audience array containing expected",
			mutate: func(c map[string]any) { c["aud"] = []string{"other", testAudience} },
		},
		{
			name:    "role not allowed",
			mutate:  func(c map[string]any) { c["role"] = "superadmin" },
			wantErr: ErrRoleNotAllowed,
		},
		{
			name:   "second allowed role",
			mutate: func(c map[string]any) { c["role"] = "service_role" },
		},
		{
			name:    "issued too far in the future",
			mutate:  func(c map[string]any) { c["iat"] = now + 600 },
			wantErr: ErrIssuedInFuture,
		},
		{
			name:   "issued slightly in the future",
			mutate: func(c map[string]any) { c["iat"] = now + 60 },
		},
		{
			name:   "absent iat",
			mutate: func(c map[string]any) { delete(c, "iat") },
		},
		{
			name:    "missing role",
			mutate:  func(c map[string]any) { delete(c, "role") },
			wantErr: ErrMissingClaim,
		},
		{
			name:    "missing subject",
			mutate:  func(c map[string]any) { delete(c, "sub") },
			wantErr: ErrMissingClaim,
		},
		{
			name:    "missing expiry",
			mutate:  func(c map[string]any) { delete(c, "exp") },
			wantErr: ErrMissingClaim,
		},
		{
			name:    "missing issuer",
			mutate:  func(c map[string]any) { delete(c, "iss") },
			wantErr: ErrMissingClaim,
		},
		{
			name:    "missing audience",
			mutate:  func(c map[string]any) { delete(c, "aud") },
			wantErr: ErrMissingClaim,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := validClaims()
			tc.mutate(c)
			token := signToken(t, priv, jwa.ES256, c)

			claims, err := v.Verify(context.Background(), token)
			if tc.wantErr == nil {
				require.NoError(t, err)
				assert.NotNil(t, claims)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, claims)
		})
	}
}

func TestVerify_MissingClaimCarriesName(t *testing.T) {
	priv, pub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())
	provider := &fakeKeyProvider{current: keySetOf(t, pub)}
	v := newTestVerifier(t, provider)

	c := validClaims()
	delete(c, "role")
	token := signToken(t, priv, jwa.ES256, c)

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)

	var missing *MissingClaimError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "role", missing.Claim)
}

func TestVerify_MalformedToken(t *testing.T) {
	provider := &fakeKeyProvider{current: jwk.NewSet()}
	v := newTestVerifier(t, provider)

	for _, token := range []string{
		"",
		"not-a-token",
		"only.two",
		"a.b.c.d",
	} {
		_, err := v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrMalformedToken, "token %q", token)
	}

	// Well-shaped but undecodable parts.
	_, err := v.Verify(context.Background(), "!!!.???.###")
	assert.ErrorIs(t, err, ErrMalformedToken)

	// No key lookup should have happened for any of them.
	assert.Zero(t, provider.getCalls)
}

func TestVerify_UnknownKey(t *testing.T) {
	priv, _ := generateKeyPair(t, "k2", jwa.ES256, elliptic.P256())
	_, otherPub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())

	provider := &fakeKeyProvider{current: keySetOf(t, otherPub)}
	v := newTestVerifier(t, provider)

	token := signToken(t, priv, jwa.ES256, validClaims())

	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Equal(t, 1, provider.refreshCalls, "exactly one forced refresh")
}

func TestVerify_KeyRotation(t *testing.T) {
	privOld, pubOld := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())
	privNew, pubNew := generateKeyPair(t, "k2", jwa.ES256, elliptic.P256())
	_ = privOld

	provider := &fakeKeyProvider{
		current: keySetOf(t, pubOld),
		rotated: keySetOf(t, pubOld, pubNew),
	}
	v := newTestVerifier(t, provider)

	token := signToken(t, privNew, jwa.ES256, validClaims())

	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, 1, provider.refreshCalls)
}

func TestVerify_ForcedRefreshFailureFailsVerification(t *testing.T) {
	priv, _ := generateKeyPair(t, "k2", jwa.ES256, elliptic.P256())
	_, stalePub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())

	refreshErr := errors.New("key endpoint unreachable")
	provider := &fakeKeyProvider{
		current:    keySetOf(t, stalePub),
		refreshErr: refreshErr,
	}
	v := newTestVerifier(t, provider)

	token := signToken(t, priv, jwa.ES256, validClaims())

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.ErrorIs(t, err, refreshErr, "fetch failure must propagate, not be absorbed")
	assert.NotErrorIs(t, err, ErrUnknownKey)
}

func TestVerify_InvalidSignature(t *testing.T) {
	_, pub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())
	imposter, _ := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())

	provider := &fakeKeyProvider{current: keySetOf(t, pub)}
	v := newTestVerifier(t, provider)

	// Same key id, different private key.
	token := signToken(t, imposter, jwa.ES256, validClaims())

	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_TamperedPayload(t *testing.T) {
	priv, pub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())
	provider := &fakeKeyProvider{current: keySetOf(t, pub)}
	v := newTestVerifier(t, provider)

	token := signToken(t, priv, jwa.ES256, validClaims())

	// Swap the payload for one with an elevated role, keeping the original
	// header and signature.
	c := validClaims()
	c["role"] = "service_role"
	forged, err := json.Marshal(c)
	require.NoError(t, err)

	parts := splitToken(t, token)
	parts[1] = base64.RawURLEncoding.EncodeToString(forged)
	tampered := parts[0] + "." + parts[1] + "." + parts[2]

	_, err = v.Verify(context.Background(), tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_AlgorithmConfusion(t *testing.T) {
	t.Run("token declares different algorithm than key", func(t *testing.T) {
		// Key is published for ES256; the token declares ES384 with a
		// matching kid. Rejected before any signature check.
		_, pub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())
		signer, _ := generateKeyPair(t, "k1", jwa.ES384, elliptic.P384())

		provider := &fakeKeyProvider{current: keySetOf(t, pub)}
		v := newTestVerifier(t, provider)

		token := signToken(t, signer, jwa.ES384, validClaims())

		_, err := v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrAlgorithmMismatch)
	})

	t.Run("symmetric algorithm is never accepted", func(t *testing.T) {
		_, pub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())
		provider := &fakeKeyProvider{current: keySetOf(t, pub)}
		v := newTestVerifier(t, provider)

		token := forgeToken(t, "k1", "HS256", validClaims())

		_, err := v.Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrAlgorithmMismatch)
	})
}

func TestVerify_ContextualKeyLookupOrder(t *testing.T) {
	priv, pub := generateKeyPair(t, "k1", jwa.ES256, elliptic.P256())
	provider := &fakeKeyProvider{current: keySetOf(t, pub)}
	v := newTestVerifier(t, provider)

	token := signToken(t, priv, jwa.ES256, validClaims())

	_, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.getCalls)
	assert.Zero(t, provider.refreshCalls, "no refresh when the key is present")
}

// forgeToken hand-assembles a compact token with an arbitrary header. The
// signature bytes are garbage; the algorithm check must fire before any
// signature verification.
func forgeToken(t *testing.T, kid, alg string, claims map[string]any) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": alg, "kid": kid, "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	enc := base64.RawURLEncoding
	return fmt.Sprintf("%s.%s.%s",
		enc.EncodeToString(header),
		enc.EncodeToString(payload),
		enc.EncodeToString([]byte("bogus-signature")))
}

func splitToken(t *testing.T, token string) []string {
	t.Helper()
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			parts = append(parts, token[start:i])
			start = i + 1
		}
	}
	parts = append(parts, token[start:])
	require.Len(t, parts, 3)
	return parts
}
