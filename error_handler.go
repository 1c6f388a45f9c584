package bearerauth

import (
	"errors"
	"net/http"
)

// ErrorHandler is called when authentication fails in the middleware. The
// err can be checked against ErrTokenMissing and ErrTokenInvalid. Custom
// handlers MUST keep the invalid-token response uniform: leaking the
// specific failure kind aids token-forgery probing.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// DefaultErrorHandler distinguishes a missing credential (400) from a bad
// one (401) and answers everything else with 500. The response body never
// carries the internal failure kind.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case errors.Is(err, ErrTokenMissing):
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"authentication required"}`))
	case errors.Is(err, ErrTokenInvalid):
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"authentication failed"}`))
	default:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"something went wrong while checking the token"}`))
	}
}
