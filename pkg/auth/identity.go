// Package auth turns a raw HTTP request into an authenticated principal,
// its permission set, and its tenant scope.
package auth

import (
	"fmt"
	"time"
)

// Principal represents the authenticated identity making a request: a user,
// an API key acting for a user, or nobody (anonymous).
type Principal struct {
	// UserID is the user's unique identifier, if any.
	UserID string

	// Role is the principal's role within its tenant.
	Role string

	// APIKeyID is set when the request authenticated with a scoped API key.
	APIKeyID string
}

// ID returns the identifier used for authorization decisions: the user id
// when present, otherwise the API key id.
func (p Principal) ID() string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.APIKeyID
}

// IsAnonymous reports whether the principal carries no identity at all.
func (p Principal) IsAnonymous() bool {
	return p.UserID == "" && p.APIKeyID == ""
}

// IsAPIKey reports whether the request authenticated with a scoped API key
// rather than a full session. API key principals are subject to per-call
// authorization in the connection proxy; session principals are not.
func (p Principal) IsAPIKey() bool {
	return p.APIKeyID != ""
}

// String redacts nothing but keeps the representation compact for logs.
func (p Principal) String() string {
	if p.IsAnonymous() {
		return "Principal{anonymous}"
	}
	return fmt.Sprintf("Principal{user:%q apiKey:%q role:%q}", p.UserID, p.APIKeyID, p.Role)
}

// TenantScope is the multi-tenancy boundary a request operates in.
// A nil *TenantScope means system-level scope.
type TenantScope struct {
	ID   string
	Slug string
	Name string
}

// RequestMetadata is captured once per request and attached to audit
// records and delegated credentials.
type RequestMetadata struct {
	RequestID string
	Timestamp time.Time
	UserAgent string
	ClientIP  string
}
