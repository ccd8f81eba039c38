package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decocms/mesh/pkg/authz"
)

func newLocalProvider() *LocalProvider {
	return NewLocalProvider([]byte("local-test-signing-key"))
}

func bearerHeader(token string) http.Header {
	h := http.Header{}
	h.Set(HeaderAuthorization, "Bearer "+token)
	return h
}

func TestLocalProviderOAuthSession(t *testing.T) {
	t.Parallel()

	provider := newLocalProvider()
	provider.RegisterSession("tok-1", &Session{UserID: "user_1", Scope: "self:*"})

	session, err := provider.VerifyOAuthSession(t.Context(), bearerHeader("tok-1"))
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "user_1", session.UserID)

	session, err = provider.VerifyOAuthSession(t.Context(), bearerHeader("unknown"))
	require.NoError(t, err)
	assert.Nil(t, session, "unknown token is absence, not an error")

	session, err = provider.VerifyOAuthSession(t.Context(), http.Header{})
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestLocalProviderAPIKey(t *testing.T) {
	t.Parallel()

	provider := newLocalProvider()
	provider.RegisterAPIKey("mk_secret", &APIKey{
		ID:          "key_1",
		Permissions: authz.PermissionSet{"conn_1": {"SEND"}},
	})

	key, err := provider.VerifyAPIKey(t.Context(), "mk_secret")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, "key_1", key.ID)

	key, err = provider.VerifyAPIKey(t.Context(), "wrong")
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestLocalProviderBrowserSession(t *testing.T) {
	t.Parallel()

	provider := newLocalProvider()
	provider.RegisterBrowserSession("cookie-1", &Session{UserID: "user_2", ActiveOrganizationID: "org_1"})
	provider.RegisterTenant(&Tenant{ID: "org_1", Slug: "acme", Name: "Acme"})

	header := http.Header{}
	header.Set("Cookie", SessionCookieName+"=cookie-1")

	session, err := provider.VerifyBrowserSession(t.Context(), header)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "user_2", session.UserID)

	tenant, err := provider.ActiveTenant(t.Context(), header)
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.Equal(t, "acme", tenant.Slug)
}

func TestLocalProviderActiveTenantAbsent(t *testing.T) {
	t.Parallel()

	provider := newLocalProvider()
	provider.RegisterSession("tok-1", &Session{UserID: "user_1"})

	tenant, err := provider.ActiveTenant(t.Context(), bearerHeader("tok-1"))
	require.NoError(t, err)
	assert.Nil(t, tenant, "session without an active organization has no tenant")
}

func TestLocalProviderCheckPermission(t *testing.T) {
	t.Parallel()

	provider := newLocalProvider()
	provider.GrantPermissions("user_1", authz.PermissionSet{
		"self":   {"TOOL_A"},
		"conn_1": {"*"},
	})

	testCases := []struct {
		name        string
		principalID string
		role        string
		request     authz.PermissionSet
		want        bool
	}{
		{
			name:        "granted tool",
			principalID: "user_1",
			request:     authz.PermissionSet{"self": {"TOOL_A"}},
			want:        true,
		},
		{
			name:        "ungranted tool",
			principalID: "user_1",
			request:     authz.PermissionSet{"self": {"TOOL_B"}},
			want:        false,
		},
		{
			name:        "wildcard connection entry",
			principalID: "user_1",
			request:     authz.PermissionSet{"conn_1": {"ANYTHING"}},
			want:        true,
		},
		{
			name:        "unknown principal denied",
			principalID: "stranger",
			request:     authz.PermissionSet{"self": {"TOOL_A"}},
			want:        false,
		},
		{
			name:        "admin bypass",
			principalID: "stranger",
			role:        authz.RoleAdmin,
			request:     authz.PermissionSet{"self": {"TOOL_A"}},
			want:        true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			allowed, err := provider.CheckPermission(t.Context(), tc.principalID, tc.role, tc.request)
			require.NoError(t, err)
			assert.Equal(t, tc.want, allowed)
		})
	}
}

func TestDelegatedCredentialRoundTrip(t *testing.T) {
	t.Parallel()

	provider := newLocalProvider()

	token, err := provider.IssueDelegatedCredential(t.Context(), DelegatedCredentialRequest{
		PrincipalID: "user_1",
		Permissions: authz.PermissionSet{"self": {"TOOL_A"}},
		Metadata:    map[string]any{"connection_id": "conn_1"},
		TTL:         5 * time.Minute,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	session, err := provider.VerifyOAuthSession(t.Context(), bearerHeader(token))
	require.NoError(t, err)
	require.NotNil(t, session, "a credential this gateway minted is accepted back")
	assert.Equal(t, "user_1", session.UserID)
	assert.Equal(t, authz.PermissionSet{"self": {"TOOL_A"}}, ParseScopes(session.Scope))
}

func TestDelegatedCredentialExpiry(t *testing.T) {
	t.Parallel()

	provider := newLocalProvider()

	token, err := provider.IssueDelegatedCredential(t.Context(), DelegatedCredentialRequest{
		PrincipalID: "user_1",
		Permissions: authz.PermissionSet{"self": {"*"}},
		TTL:         -time.Minute,
	})
	require.NoError(t, err)

	session, err := provider.VerifyOAuthSession(t.Context(), bearerHeader(token))
	require.NoError(t, err)
	assert.Nil(t, session, "expired credentials are treated as absent")
}

func TestDelegatedCredentialWrongKeyRejected(t *testing.T) {
	t.Parallel()

	issuer := NewLocalProvider([]byte("issuer-key"))
	verifier := NewLocalProvider([]byte("different-key"))

	token, err := issuer.IssueDelegatedCredential(t.Context(), DelegatedCredentialRequest{
		PrincipalID: "user_1",
		Permissions: authz.PermissionSet{"self": {"*"}},
		TTL:         time.Minute,
	})
	require.NoError(t, err)

	session, err := verifier.VerifyOAuthSession(t.Context(), bearerHeader(token))
	require.NoError(t, err)
	assert.Nil(t, session)
}
