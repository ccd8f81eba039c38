package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/decocms/mesh/pkg/authz"
)

// Session is an identity-provider session. OAuth sessions carry a scope
// string; browser sessions carry the active organization instead.
type Session struct {
	// UserID is the authenticated user.
	UserID string

	// Role is the user's role within the active organization.
	Role string

	// Scope is the whitespace-separated OAuth scope string, e.g.
	// "openid profile self:TOOL_A". Empty for browser sessions.
	Scope string

	// ActiveOrganizationID is the browser session's active organization,
	// if one is selected.
	ActiveOrganizationID string
}

// APIKey is a verified scoped API key.
type APIKey struct {
	// ID is the key's unique identifier.
	ID string

	// UserID is the user the key acts for, if bound to one.
	UserID string

	// Permissions is the key's stored permission set, used verbatim.
	Permissions authz.PermissionSet

	// Tenant is the tenant metadata embedded in the key, if any.
	Tenant *TenantScope
}

// Tenant is a tenant as known to the identity provider.
type Tenant struct {
	ID   string
	Slug string
	Name string
}

// DelegatedCredentialRequest asks the identity provider to mint a
// short-lived, narrowly scoped credential for downstream calls made on the
// principal's behalf.
type DelegatedCredentialRequest struct {
	PrincipalID string
	Permissions authz.PermissionSet
	Metadata    map[string]any
	TTL         time.Duration
}

// IdentityProvider is the external identity backend the gateway consumes.
// Any concrete provider (hosted IdP, local development provider) sits
// behind this interface.
//
// Verify methods return (nil, nil) when the request simply does not carry
// that kind of credential; an error indicates a transport failure, which
// the resolver treats as non-fatal.
type IdentityProvider interface {
	// VerifyOAuthSession validates an OAuth session from request headers.
	VerifyOAuthSession(ctx context.Context, header http.Header) (*Session, error)

	// VerifyAPIKey validates a raw API key.
	VerifyAPIKey(ctx context.Context, key string) (*APIKey, error)

	// VerifyBrowserSession validates a browser session from request headers.
	VerifyBrowserSession(ctx context.Context, header http.Header) (*Session, error)

	// ActiveTenant resolves the active tenant for an OAuth session.
	ActiveTenant(ctx context.Context, header http.Header) (*Tenant, error)

	// CheckPermission delegates an authorization decision to the provider's
	// policy service. May fail; failure is not a denial.
	CheckPermission(ctx context.Context, principalID, role string, request authz.PermissionSet) (bool, error)

	// IssueDelegatedCredential mints a short-lived delegated credential.
	// May fail; issuance failure never aborts the carrying request.
	IssueDelegatedCredential(ctx context.Context, req DelegatedCredentialRequest) (string, error)
}
