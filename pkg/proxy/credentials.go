package proxy

import (
	"context"
	"strings"
	"time"

	"github.com/decocms/mesh/pkg/auth"
	"github.com/decocms/mesh/pkg/authz"
	"github.com/decocms/mesh/pkg/connections"
	"github.com/decocms/mesh/pkg/logger"
)

// delegatedTTL bounds the validity of credentials minted for downstream
// calls.
const delegatedTTL = 5 * time.Minute

// delegatedPermissions derives the permission set a delegated credential
// should carry from a connection's configuration. Each scope entry has the
// form "KEY::SCOPE": KEY indexes into the configuration state, and when the
// state value is an object with a nested string "value" that value is taken
// as a downstream connection id and SCOPE is appended to its action list.
// Malformed entries and unresolvable keys are skipped.
func delegatedPermissions(cfg *connections.Configuration) authz.PermissionSet {
	if cfg == nil || len(cfg.State) == 0 || len(cfg.Scopes) == 0 {
		return nil
	}

	perms := make(authz.PermissionSet)
	for _, entry := range cfg.Scopes {
		key, scope, found := strings.Cut(entry, "::")
		if !found || key == "" || scope == "" {
			continue
		}
		object, ok := cfg.State[key].(map[string]any)
		if !ok {
			continue
		}
		value, ok := object["value"].(string)
		if !ok || value == "" {
			continue
		}
		perms[value] = append(perms[value], scope)
	}

	if len(perms) == 0 {
		return nil
	}
	return perms
}

// issueDelegatedCredential mints the credential forwarded downstream on
// behalf of the acting principal. Returns "" when the connection's
// configuration yields no permissions, the caller is anonymous, or
// issuance fails; failure never aborts the carrying request.
func (p *ConnectionProxy) issueDelegatedCredential(ctx context.Context, conn *connections.Connection, principalID string) string {
	perms := delegatedPermissions(conn.Configuration)
	if perms == nil || principalID == "" {
		return ""
	}

	token, err := p.provider.IssueDelegatedCredential(ctx, auth.DelegatedCredentialRequest{
		PrincipalID: principalID,
		Permissions: perms,
		TTL:         delegatedTTL,
		Metadata: map[string]any{
			"state":         conn.Configuration.State,
			"gateway_url":   p.baseURL,
			"connection_id": conn.ID,
		},
	})
	if err != nil {
		logger.Debugf("delegated credential issuance failed for connection %s: %v", conn.ID, err)
		return ""
	}
	return token
}
