package auth

import (
	"strings"

	"github.com/decocms/mesh/pkg/authz"
)

// ParseScopes converts an OAuth scope string into a PermissionSet. The
// string is split on whitespace; each token is split on the first ":" into
// (resource key, action) and actions accumulate per key in order. Tokens
// without a ":" (plain OIDC scopes like "openid" or "profile") contribute
// no permission entry.
//
//	"openid profile self:*"          -> {self: ["*"]}
//	"openid self:TOOL_A self:TOOL_B" -> {self: ["TOOL_A", "TOOL_B"]}
func ParseScopes(scope string) authz.PermissionSet {
	perms := make(authz.PermissionSet)
	for _, token := range strings.Fields(scope) {
		key, action, found := strings.Cut(token, ":")
		if !found || key == "" {
			continue
		}
		perms[key] = append(perms[key], action)
	}
	return perms
}
