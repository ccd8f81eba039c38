// Package auth resolves the calling identity for each gateway request.
//
// Three credential kinds are recognized, tried in a fixed order: an OAuth
// session token, an API key carried as a bearer token, and a browser
// session cookie. The first method that yields an identity wins; a request
// carrying none of them resolves to an anonymous principal rather than an
// error, leaving rejection to the authorization layer.
package auth

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/decocms/mesh/pkg/authz"
	"github.com/decocms/mesh/pkg/logger"
)

const (
	// HeaderAuthorization carries "Bearer <token>" for API keys.
	HeaderAuthorization = "Authorization"

	bearerPrefix = "Bearer "
)

// Result is the outcome of identity resolution for a single request. It is
// always non-nil; an unauthenticated request yields an anonymous principal
// with empty permissions.
type Result struct {
	Principal   Principal
	Permissions authz.PermissionSet
	// Tenant is nil for system-scope principals.
	Tenant   *TenantScope
	Checker  *authz.Checker
	Metadata RequestMetadata
}

// Resolver turns incoming HTTP requests into authenticated results using a
// backing identity provider.
type Resolver struct {
	provider IdentityProvider
}

// NewResolver creates a resolver backed by the given provider.
func NewResolver(provider IdentityProvider) *Resolver {
	return &Resolver{provider: provider}
}

// Resolve determines the caller's identity for r. Methods are attempted in
// order: OAuth session, API key, browser session. A verification failure in
// one method is logged and resolution falls through to the next; only the
// absence of any usable credential produces the anonymous result.
func (rs *Resolver) Resolve(r *http.Request) *Result {
	ctx := r.Context()
	meta := requestMetadata(r)

	session, err := rs.provider.VerifyOAuthSession(ctx, r.Header)
	if err != nil {
		logger.Debugf("oauth session verification failed: %v", err)
	} else if session != nil {
		res := &Result{
			Principal:   Principal{UserID: session.UserID, Role: session.Role},
			Permissions: ParseScopes(session.Scope),
			Tenant:      rs.lookupTenant(r),
			Metadata:    meta,
		}
		rs.attachChecker(res)
		return res
	}

	if token := bearerFromHeader(r.Header); token != "" {
		key, err := rs.provider.VerifyAPIKey(ctx, token)
		if err != nil {
			logger.Debugf("api key verification failed: %v", err)
		} else if key != nil {
			res := &Result{
				Principal:   Principal{UserID: key.UserID, APIKeyID: key.ID},
				Permissions: key.Permissions.Clone(),
				Tenant:      key.Tenant,
				Metadata:    meta,
			}
			rs.attachChecker(res)
			return res
		}
	}

	session, err = rs.provider.VerifyBrowserSession(ctx, r.Header)
	if err != nil {
		logger.Debugf("browser session verification failed: %v", err)
	} else if session != nil {
		// The session itself names the active organization; no provider
		// round trip, so a lookup outage cannot widen the scope.
		var tenant *TenantScope
		if session.ActiveOrganizationID != "" {
			tenant = &TenantScope{ID: session.ActiveOrganizationID}
		}
		res := &Result{
			Principal: Principal{UserID: session.UserID, Role: session.Role},
			// Browser sessions get full access to the user's own
			// resources; fine-grained scoping is an OAuth concern.
			Permissions: authz.PermissionSet{authz.ResourceSelf: {authz.Wildcard}},
			Tenant:      tenant,
			Metadata:    meta,
		}
		rs.attachChecker(res)
		return res
	}

	res := &Result{
		Principal:   Principal{},
		Permissions: make(authz.PermissionSet),
		Metadata:    meta,
	}
	rs.attachChecker(res)
	return res
}

// lookupTenant resolves the request's active tenant. Failures are
// tolerated: the caller proceeds without tenant scoping.
func (rs *Resolver) lookupTenant(r *http.Request) *TenantScope {
	tenant, err := rs.provider.ActiveTenant(r.Context(), r.Header)
	if err != nil {
		logger.Debugf("active tenant lookup failed: %v", err)
		return nil
	}
	if tenant == nil {
		return nil
	}
	return &TenantScope{ID: tenant.ID, Slug: tenant.Slug, Name: tenant.Name}
}

func (rs *Resolver) attachChecker(res *Result) {
	res.Checker = authz.NewChecker(authz.Config{
		PrincipalID: res.Principal.ID(),
		Role:        res.Principal.Role,
		Permissions: res.Permissions,
		Policy:      rs.provider,
	})
}

func bearerFromHeader(header http.Header) string {
	value := header.Get(HeaderAuthorization)
	if !strings.HasPrefix(value, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(value, bearerPrefix))
}

func requestMetadata(r *http.Request) RequestMetadata {
	return RequestMetadata{
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
		UserAgent: r.UserAgent(),
		ClientIP:  clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
