// Package authz provides the per-request authorization decision engine.
//
// A request carries a PermissionSet resolved during authentication; a
// Checker bound to that set decides whether the acting principal may
// perform an action, optionally delegating to an external policy service
// with silent local fallback.
package authz

import "slices"

const (
	// Wildcard matches any action within a permission entry.
	Wildcard = "*"

	// ResourceSelf is the permission key for the gateway's own tool
	// surface, as opposed to a specific downstream connection.
	ResourceSelf = "self"
)

// Roles that bypass permission evaluation entirely.
const (
	RoleAdmin = "admin"
	RoleOwner = "owner"
)

// PermissionSet maps a resource key ("self" or a connection id) to the
// ordered list of action names allowed on it. An entry authorizes action A
// iff A is literally in the list or the list contains the wildcard.
type PermissionSet map[string][]string

// Clone returns a deep copy so a caller can build derived sets without
// mutating the request's resolved permissions.
func (p PermissionSet) Clone() PermissionSet {
	if p == nil {
		return nil
	}
	out := make(PermissionSet, len(p))
	for key, actions := range p {
		out[key] = slices.Clone(actions)
	}
	return out
}

// Evaluate is the local permission evaluator. It scans every entry whose
// key matches the connection filter (or all entries when the filter is
// empty) and grants when the entry's key literally equals resource with a
// non-empty action list, when resource is in the action list, or when the
// list contains the wildcard.
func Evaluate(perms PermissionSet, resource, connectionFilter string) bool {
	for key, actions := range perms {
		if connectionFilter != "" && key != connectionFilter {
			continue
		}
		if key == resource && len(actions) > 0 {
			return true
		}
		if slices.Contains(actions, resource) || slices.Contains(actions, Wildcard) {
			return true
		}
	}
	return false
}
