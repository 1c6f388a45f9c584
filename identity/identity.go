// Package identity maps a verified claim set into the normalized record the
// rest of the application consumes.
package identity

import (
	"github.com/tokenforge/bearerauth/validator"
)

// DefaultAssuranceLevel is assumed when a token carries no aal claim.
const DefaultAssuranceLevel = "aal1"

// Record is the normalized identity produced for every successful
// verification. The issuer, audience and timing fields are carried through
// for audit purposes.
type Record struct {
	Subject        string
	Email          string
	Phone          string
	Role           string
	AssuranceLevel string
	Anonymous      bool
	SessionID      string

	AppMetadata  map[string]any
	UserMetadata map[string]any

	Issuer   string
	Audience []string
	IssuedAt int64
	Expiry   int64
}

// Extract builds a Record from a valid ClaimSet. It is a pure mapping with
// no failure mode: all validation already happened in the verifier. Absent
// optional fields get defensive defaults so consumers never see nil maps or
// an empty assurance level.
func Extract(claims *validator.ClaimSet) Record {
	rec := Record{
		Subject:        claims.Subject,
		Email:          claims.Email,
		Phone:          claims.Phone,
		Role:           claims.Role,
		AssuranceLevel: claims.AssuranceLevel,
		Anonymous:      claims.IsAnonymous,
		SessionID:      claims.SessionID,
		AppMetadata:    claims.AppMetadata,
		UserMetadata:   claims.UserMetadata,
		Issuer:         claims.Issuer,
		Audience:       append([]string(nil), claims.Audience...),
		IssuedAt:       claims.IssuedAt,
		Expiry:         claims.Expiry,
	}

	if rec.AssuranceLevel == "" {
		rec.AssuranceLevel = DefaultAssuranceLevel
	}
	if rec.AppMetadata == nil {
		rec.AppMetadata = map[string]any{}
	}
	if rec.UserMetadata == nil {
		rec.UserMetadata = map[string]any{}
	}

	return rec
}
