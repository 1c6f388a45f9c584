package bearerauth

import (
	"errors"
	"net/http"
	"strings"
)

// TokenExtractor pulls the raw bearer token out of a request. An absent
// credential is not an error: extractors return ("", nil) so the middleware
// can apply its own missing-token policy. An error means a credential was
// presented but was malformed at the transport level.
type TokenExtractor func(r *http.Request) (string, error)

// AuthHeaderTokenExtractor reads the token from an
// "Authorization: Bearer <token>" header. The scheme comparison is
// case-insensitive.
func AuthHeaderTokenExtractor(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", nil
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("Authorization header format must be Bearer {token}")
	}

	return parts[1], nil
}

// CookieTokenExtractor reads the token from the named cookie.
func CookieTokenExtractor(cookieName string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(cookieName)
		if err == http.ErrNoCookie {
			return "", nil
		}

		return cookie.Value, nil
	}
}

// ParameterTokenExtractor reads the token from the named query parameter.
func ParameterTokenExtractor(param string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		return r.URL.Query().Get(param), nil
	}
}

// MultiTokenExtractor tries each extractor in order and returns the first
// non-empty token. An extractor error stops the chain immediately.
func MultiTokenExtractor(extractors ...TokenExtractor) TokenExtractor {
	return func(r *http.Request) (string, error) {
		for _, ex := range extractors {
			token, err := ex(r)
			if err != nil {
				return "", err
			}

			if token != "" {
				return token, nil
			}
		}
		return "", nil
	}
}
