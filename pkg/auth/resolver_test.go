package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decocms/mesh/pkg/authz"
)

// stubProvider lets each test control exactly what every method returns.
type stubProvider struct {
	oauthSession   *Session
	oauthErr       error
	apiKey         *APIKey
	apiKeyErr      error
	browserSession *Session
	browserErr     error
	tenant         *Tenant
	tenantErr      error

	checkAllowed bool
	checkErr     error
	checkCalls   int
}

func (s *stubProvider) VerifyOAuthSession(context.Context, http.Header) (*Session, error) {
	return s.oauthSession, s.oauthErr
}

func (s *stubProvider) VerifyAPIKey(context.Context, string) (*APIKey, error) {
	return s.apiKey, s.apiKeyErr
}

func (s *stubProvider) VerifyBrowserSession(context.Context, http.Header) (*Session, error) {
	return s.browserSession, s.browserErr
}

func (s *stubProvider) ActiveTenant(context.Context, http.Header) (*Tenant, error) {
	return s.tenant, s.tenantErr
}

func (s *stubProvider) CheckPermission(context.Context, string, string, authz.PermissionSet) (bool, error) {
	s.checkCalls++
	return s.checkAllowed, s.checkErr
}

func (s *stubProvider) IssueDelegatedCredential(context.Context, DelegatedCredentialRequest) (string, error) {
	return "", errors.New("not implemented")
}

func newRequest(t *testing.T, mutate func(*http.Request)) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/conn_1/mcp", nil)
	r.Header.Set("User-Agent", "mesh-test/1.0")
	if mutate != nil {
		mutate(r)
	}
	return r
}

func TestResolverOAuthSession(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		oauthSession: &Session{UserID: "user_1", Role: "member", Scope: "openid self:TOOL_A"},
		tenant:       &Tenant{ID: "org_1", Slug: "acme", Name: "Acme"},
	}
	resolver := NewResolver(provider)

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.Header.Set(HeaderAuthorization, "Bearer session-token")
	}))

	require.NotNil(t, result)
	assert.Equal(t, "user_1", result.Principal.UserID)
	assert.Equal(t, "member", result.Principal.Role)
	assert.False(t, result.Principal.IsAPIKey())
	assert.Equal(t, authz.PermissionSet{"self": {"TOOL_A"}}, result.Permissions)
	require.NotNil(t, result.Tenant)
	assert.Equal(t, "acme", result.Tenant.Slug)
	require.NotNil(t, result.Checker)
}

func TestResolverAPIKey(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		apiKey: &APIKey{
			ID:          "key_1",
			UserID:      "user_2",
			Permissions: authz.PermissionSet{"conn_1": {"SEND"}},
			Tenant:      &TenantScope{ID: "org_2"},
		},
	}
	resolver := NewResolver(provider)

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.Header.Set(HeaderAuthorization, "Bearer mk_secret")
	}))

	assert.True(t, result.Principal.IsAPIKey())
	assert.Equal(t, "user_2", result.Principal.ID(), "user id takes precedence over key id")
	assert.Equal(t, authz.PermissionSet{"conn_1": {"SEND"}}, result.Permissions)
	require.NotNil(t, result.Tenant)
	assert.Equal(t, "org_2", result.Tenant.ID)
}

func TestResolverAPIKeyPermissionsAreCloned(t *testing.T) {
	t.Parallel()

	stored := authz.PermissionSet{"conn_1": {"SEND"}}
	provider := &stubProvider{apiKey: &APIKey{ID: "key_1", Permissions: stored}}
	resolver := NewResolver(provider)

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.Header.Set(HeaderAuthorization, "Bearer mk_secret")
	}))

	result.Permissions["conn_1"][0] = "mutated"
	assert.Equal(t, "SEND", stored["conn_1"][0])
}

func TestResolverBrowserSession(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		browserSession: &Session{UserID: "user_3", Role: "member", ActiveOrganizationID: "org_1"},
	}
	resolver := NewResolver(provider)

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-value"})
	}))

	assert.Equal(t, "user_3", result.Principal.UserID)
	assert.Equal(t, authz.PermissionSet{authz.ResourceSelf: {authz.Wildcard}}, result.Permissions,
		"browser sessions get wildcard access to own resources")
	require.NotNil(t, result.Tenant)
	assert.Equal(t, "org_1", result.Tenant.ID)
	assert.Empty(t, result.Tenant.Slug)
	assert.Empty(t, result.Tenant.Name)
}

func TestResolverBrowserSessionTenantFromSessionField(t *testing.T) {
	t.Parallel()

	// The tenant lookup being down must not strip the scope the session
	// itself names; otherwise the caller would degrade to system scope.
	provider := &stubProvider{
		browserSession: &Session{UserID: "user_3", ActiveOrganizationID: "org_1"},
		tenantErr:      errors.New("tenant service down"),
	}
	resolver := NewResolver(provider)

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-value"})
	}))

	require.NotNil(t, result.Tenant, "tenant comes from the session's active organization, not a lookup")
	assert.Equal(t, "org_1", result.Tenant.ID)
}

func TestResolverBrowserSessionWithoutOrganization(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		browserSession: &Session{UserID: "user_3"},
		tenant:         &Tenant{ID: "org_9", Slug: "other"},
	}
	resolver := NewResolver(provider)

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-value"})
	}))

	assert.Nil(t, result.Tenant, "a session naming no organization stays unscoped")
}

func TestResolverAnonymous(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(&stubProvider{})

	result := resolver.Resolve(newRequest(t, nil))

	require.NotNil(t, result)
	assert.True(t, result.Principal.IsAnonymous())
	assert.Empty(t, result.Permissions)
	require.NotNil(t, result.Checker)
	err := result.Checker.Check(t.Context(), "TOOL_A")
	assert.Error(t, err, "anonymous principals are refused by the checker, not the resolver")
}

func TestResolverPrecedence(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		oauthSession:   &Session{UserID: "session-user"},
		apiKey:         &APIKey{ID: "key_1"},
		browserSession: &Session{UserID: "browser-user"},
	}
	resolver := NewResolver(provider)

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.Header.Set(HeaderAuthorization, "Bearer anything")
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie"})
	}))

	assert.Equal(t, "session-user", result.Principal.UserID,
		"oauth session wins over api key and browser session")
}

func TestResolverFailureFallsThrough(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		oauthErr: errors.New("idp unreachable"),
		apiKey:   &APIKey{ID: "key_1", Permissions: authz.PermissionSet{}},
	}
	resolver := NewResolver(provider)

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.Header.Set(HeaderAuthorization, "Bearer mk_secret")
	}))

	assert.Equal(t, "key_1", result.Principal.APIKeyID,
		"session verification failure does not abort resolution")
}

func TestResolverAllFailuresYieldAnonymous(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		oauthErr:   errors.New("down"),
		apiKeyErr:  errors.New("down"),
		browserErr: errors.New("down"),
	}
	resolver := NewResolver(provider)

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.Header.Set(HeaderAuthorization, "Bearer x")
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "y"})
	}))

	assert.True(t, result.Principal.IsAnonymous())
}

func TestResolverTenantLookupFailureTolerated(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		oauthSession: &Session{UserID: "user_1", Scope: "self:*"},
		tenantErr:    errors.New("tenant service down"),
	}
	resolver := NewResolver(provider)

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.Header.Set(HeaderAuthorization, "Bearer t")
	}))

	assert.Equal(t, "user_1", result.Principal.UserID)
	assert.Nil(t, result.Tenant, "request proceeds without tenant scoping")
}

func TestResolverRequestMetadata(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(&stubProvider{})

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.RemoteAddr = "203.0.113.7:49152"
	}))

	assert.NotEmpty(t, result.Metadata.RequestID)
	assert.False(t, result.Metadata.Timestamp.IsZero())
	assert.Equal(t, "mesh-test/1.0", result.Metadata.UserAgent)
	assert.Equal(t, "203.0.113.7", result.Metadata.ClientIP)
}

func TestResolverClientIPFromForwardedFor(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(&stubProvider{})

	result := resolver.Resolve(newRequest(t, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
		r.RemoteAddr = "10.0.0.1:1234"
	}))

	assert.Equal(t, "198.51.100.4", result.Metadata.ClientIP)
}

func TestMiddlewareStoresResult(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{oauthSession: &Session{UserID: "user_1"}}
	handler := Middleware(NewResolver(provider))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, ok := ResultFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, "user_1", result.Principal.UserID)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(t, func(r *http.Request) {
		r.Header.Set(HeaderAuthorization, "Bearer t")
	}))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
