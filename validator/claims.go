package validator

import (
	"encoding/json"
	"fmt"
)

// ClaimSet is the decoded payload of a verified token. It is only ever
// produced by Verifier.Verify after every claim rule has passed; a partially
// valid ClaimSet does not exist.
type ClaimSet struct {
	Issuer   string   `json:"iss"`
	Subject  string   `json:"sub"`
	Audience Audience `json:"aud"`
	Expiry   int64    `json:"exp"`
	Role     string   `json:"role"`

	// Optional claims. Zero values mean the claim was absent.
	IssuedAt       int64          `json:"iat,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	AssuranceLevel string         `json:"aal,omitempty"`
	Email          string         `json:"email,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	IsAnonymous    bool           `json:"is_anonymous,omitempty"`
	AppMetadata    map[string]any `json:"app_metadata,omitempty"`
	UserMetadata   map[string]any `json:"user_metadata,omitempty"`
}

// Audience is the aud claim, which providers serialize either as a single
// string or as an array of strings.
type Audience []string

// UnmarshalJSON accepts both the string and the array form.
func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("aud must be a string or an array of strings: %w", err)
	}
	*a = Audience(many)
	return nil
}

// Contains reports whether the audience includes the given value.
func (a Audience) Contains(value string) bool {
	for _, aud := range a {
		if aud == value {
			return true
		}
	}
	return false
}

// rawClaims mirrors ClaimSet with pointer fields so that required-claim
// presence can be checked before any value-level rule runs.
type rawClaims struct {
	Issuer   *string   `json:"iss"`
	Subject  *string   `json:"sub"`
	Audience *Audience `json:"aud"`
	Expiry   *int64    `json:"exp"`
	Role     *string   `json:"role"`

	IssuedAt       *int64         `json:"iat"`
	SessionID      string         `json:"session_id"`
	AssuranceLevel string         `json:"aal"`
	Email          string         `json:"email"`
	Phone          string         `json:"phone"`
	IsAnonymous    bool           `json:"is_anonymous"`
	AppMetadata    map[string]any `json:"app_metadata"`
	UserMetadata   map[string]any `json:"user_metadata"`
}

// decodeClaims unmarshals a verified payload. A payload that is not a JSON
// object is a malformed token.
func decodeClaims(payload []byte) (*rawClaims, error) {
	var raw rawClaims
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %v", ErrMalformedToken, err)
	}
	return &raw, nil
}

// checkRequired returns a MissingClaimError for the first absent required
// claim, in document order.
func (r *rawClaims) checkRequired() error {
	switch {
	case r.Issuer == nil:
		return &MissingClaimError{Claim: "iss"}
	case r.Audience == nil || len(*r.Audience) == 0:
		return &MissingClaimError{Claim: "aud"}
	case r.Expiry == nil:
		return &MissingClaimError{Claim: "exp"}
	case r.Subject == nil || *r.Subject == "":
		return &MissingClaimError{Claim: "sub"}
	case r.Role == nil:
		return &MissingClaimError{Claim: "role"}
	}
	return nil
}

// claimSet converts validated raw claims into the ClaimSet handed to
// callers. Must only be called after checkRequired has passed.
func (r *rawClaims) claimSet() *ClaimSet {
	cs := &ClaimSet{
		Issuer:         *r.Issuer,
		Subject:        *r.Subject,
		Audience:       *r.Audience,
		Expiry:         *r.Expiry,
		Role:           *r.Role,
		SessionID:      r.SessionID,
		AssuranceLevel: r.AssuranceLevel,
		Email:          r.Email,
		Phone:          r.Phone,
		IsAnonymous:    r.IsAnonymous,
		AppMetadata:    r.AppMetadata,
		UserMetadata:   r.UserMetadata,
	}
	if r.IssuedAt != nil {
		cs.IssuedAt = *r.IssuedAt
	}
	return cs
}
