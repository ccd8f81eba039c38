package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/decocms/mesh/pkg/authz"
	gwerr "github.com/decocms/mesh/pkg/errors"
)

const (
	// SessionCookieName is the browser session cookie.
	SessionCookieName = "mesh_session"

	// delegatedIssuer is the "iss" claim on credentials this gateway mints.
	delegatedIssuer = "mesh-gateway"
)

// LocalProvider is a self-contained IdentityProvider for development and
// tests. Sessions and API keys are registered in memory; delegated
// credentials are minted and verified as HS256 JWTs, so a credential issued
// by one gateway instance is accepted back as an OAuth session by any
// instance sharing the signing key.
type LocalProvider struct {
	signingKey []byte

	mu              sync.RWMutex
	sessions        map[string]*Session
	browserSessions map[string]*Session
	apiKeys         map[string]*APIKey
	tenants         map[string]*Tenant
	grants          map[string]authz.PermissionSet
}

// NewLocalProvider creates an empty provider signing delegated credentials
// with the given key.
func NewLocalProvider(signingKey []byte) *LocalProvider {
	return &LocalProvider{
		signingKey:      signingKey,
		sessions:        make(map[string]*Session),
		browserSessions: make(map[string]*Session),
		apiKeys:         make(map[string]*APIKey),
		tenants:         make(map[string]*Tenant),
		grants:          make(map[string]authz.PermissionSet),
	}
}

// RegisterSession registers an OAuth session under the given bearer token.
func (p *LocalProvider) RegisterSession(token string, session *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[token] = session
}

// RegisterBrowserSession registers a browser session under the given cookie
// value.
func (p *LocalProvider) RegisterBrowserSession(cookie string, session *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.browserSessions[cookie] = session
}

// RegisterAPIKey registers an API key under its raw secret.
func (p *LocalProvider) RegisterAPIKey(secret string, key *APIKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apiKeys[secret] = key
}

// RegisterTenant registers a tenant for ActiveTenant lookups.
func (p *LocalProvider) RegisterTenant(t *Tenant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tenants[t.ID] = t
}

// GrantPermissions records the authoritative permission set the policy
// check evaluates for a principal.
func (p *LocalProvider) GrantPermissions(principalID string, perms authz.PermissionSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants[principalID] = perms.Clone()
}

// VerifyOAuthSession accepts either a registered session token or a
// delegated credential previously minted by IssueDelegatedCredential.
func (p *LocalProvider) VerifyOAuthSession(_ context.Context, header http.Header) (*Session, error) {
	token := bearerFromHeader(header)
	if token == "" {
		return nil, nil
	}

	p.mu.RLock()
	session, ok := p.sessions[token]
	p.mu.RUnlock()
	if ok {
		return session, nil
	}

	claims, err := p.parseDelegated(token)
	if err != nil {
		return nil, nil
	}
	return &Session{
		UserID: claims.Subject,
		Scope:  scopeFromPermissions(claims.Permissions),
	}, nil
}

func (p *LocalProvider) VerifyAPIKey(_ context.Context, key string) (*APIKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.apiKeys[key], nil
}

func (p *LocalProvider) VerifyBrowserSession(_ context.Context, header http.Header) (*Session, error) {
	cookie := sessionCookie(header)
	if cookie == "" {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.browserSessions[cookie], nil
}

// ActiveTenant resolves the tenant selected by the request's session, if
// the session names one and it is registered.
func (p *LocalProvider) ActiveTenant(ctx context.Context, header http.Header) (*Tenant, error) {
	session, err := p.VerifyOAuthSession(ctx, header)
	if err != nil || session == nil {
		session, err = p.VerifyBrowserSession(ctx, header)
	}
	if err != nil || session == nil || session.ActiveOrganizationID == "" {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tenants[session.ActiveOrganizationID], nil
}

// CheckPermission evaluates the request against the principal's granted
// permission set. A principal with no recorded grants is denied, not
// errored: the local policy store is authoritative.
func (p *LocalProvider) CheckPermission(_ context.Context, principalID, role string, request authz.PermissionSet) (bool, error) {
	if role == authz.RoleAdmin || role == authz.RoleOwner {
		return true, nil
	}

	p.mu.RLock()
	granted, ok := p.grants[principalID]
	p.mu.RUnlock()
	if !ok {
		return false, nil
	}

	for connectionID, resources := range request {
		for _, resource := range resources {
			if !authz.Evaluate(granted, resource, connectionID) {
				return false, nil
			}
		}
	}
	return true, nil
}

// delegatedClaims is the claim set carried by delegated credentials.
type delegatedClaims struct {
	jwt.RegisteredClaims
	Permissions authz.PermissionSet `json:"permissions,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// IssueDelegatedCredential mints a short-lived HS256 JWT scoped to the
// requested permissions.
func (p *LocalProvider) IssueDelegatedCredential(_ context.Context, req DelegatedCredentialRequest) (string, error) {
	now := time.Now()
	claims := delegatedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    delegatedIssuer,
			Subject:   req.PrincipalID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.TTL)),
		},
		Permissions: req.Permissions,
		Metadata:    req.Metadata,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return "", gwerr.NewInternalError("signing delegated credential", err)
	}
	return signed, nil
}

func (p *LocalProvider) parseDelegated(token string) (*delegatedClaims, error) {
	claims := &delegatedClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return p.signingKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(delegatedIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing delegated credential: %w", err)
	}
	return claims, nil
}

// scopeFromPermissions flattens a permission set back into the scope string
// form used by OAuth sessions.
func scopeFromPermissions(perms authz.PermissionSet) string {
	var scope string
	for key, actions := range perms {
		for _, action := range actions {
			if scope != "" {
				scope += " "
			}
			scope += key + ":" + action
		}
	}
	return scope
}

func sessionCookie(header http.Header) string {
	r := http.Request{Header: header}
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
