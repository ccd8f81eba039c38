package authz

import (
	"context"
	"fmt"
	"strings"

	gwerr "github.com/decocms/mesh/pkg/errors"
	"github.com/decocms/mesh/pkg/logger"
)

// PolicyChecker is the external policy collaborator. A transport failure
// from the collaborator is never treated as a denial; the Checker falls
// back to local evaluation instead.
type PolicyChecker interface {
	CheckPermission(ctx context.Context, principalID, role string, request PermissionSet) (bool, error)
}

// Config configures a Checker for one request.
type Config struct {
	// PrincipalID identifies the acting principal (user id or API key id).
	// Empty means unauthenticated.
	PrincipalID string

	// Role is the principal's role. Admin and owner bypass all checks.
	Role string

	// ToolName is the currently bound tool name; a bare Check() with no
	// explicit resources falls back to it. Usually bound later via BindTool.
	ToolName string

	// ConnectionID filters which permission entries apply. Defaults to
	// ResourceSelf when empty.
	ConnectionID string

	// Permissions is the request's resolved permission set.
	Permissions PermissionSet

	// Policy is the optional external policy collaborator.
	Policy PolicyChecker
}

// Checker decides whether the bound principal may perform actions. It is
// derived fresh per request and discarded afterwards, so it needs no
// locking: a single request goroutine owns it.
//
// The instance is a one-way state machine: once granted (explicitly or by
// a successful Check) later checks short-circuit without re-evaluating.
// Only releasing the grant token resets it.
type Checker struct {
	principalID  string
	role         string
	toolName     string
	connectionID string
	permissions  PermissionSet
	policy       PolicyChecker

	granted bool
}

// NewChecker builds a Checker in the NOT_GRANTED state.
func NewChecker(cfg Config) *Checker {
	connectionID := cfg.ConnectionID
	if connectionID == "" {
		connectionID = ResourceSelf
	}
	return &Checker{
		principalID:  cfg.PrincipalID,
		role:         cfg.Role,
		toolName:     cfg.ToolName,
		connectionID: connectionID,
		permissions:  cfg.Permissions,
		policy:       cfg.Policy,
	}
}

// BindTool binds the current tool name so a bare Check() defaults to it.
func (c *Checker) BindTool(name string) {
	c.toolName = name
}

// ForConnection returns a new NOT_GRANTED Checker with the same principal
// and permissions but filtered to the given connection id.
func (c *Checker) ForConnection(connectionID string) *Checker {
	return NewChecker(Config{
		PrincipalID:  c.principalID,
		Role:         c.role,
		ToolName:     c.toolName,
		ConnectionID: connectionID,
		Permissions:  c.permissions,
		Policy:       c.policy,
	})
}

// Grant is a disposable token returned by Checker.Grant. Releasing it
// resets the Checker to NOT_GRANTED, supporting temporary scoped grants
// with try/finally-style cleanup at the call site.
type Grant struct {
	checker  *Checker
	released bool
}

// Release resets the owning Checker's state. Safe to call more than once.
func (g *Grant) Release() {
	if g.released {
		return
	}
	g.released = true
	g.checker.granted = false
}

// Grant unconditionally transitions the Checker to GRANTED and returns the
// token that undoes it.
func (c *Checker) Grant() *Grant {
	c.granted = true
	return &Grant{checker: c}
}

// Granted reports whether the Checker is currently in the GRANTED state.
func (c *Checker) Granted() bool {
	return c.granted
}

// Check decides whether the principal may act on any of the given
// resources (OR semantics, evaluated in order). With no arguments the
// bound tool name is the single candidate. The first success grants and
// short-circuits; once granted, later calls return immediately without
// re-evaluating or contacting the policy collaborator.
func (c *Checker) Check(ctx context.Context, resources ...string) error {
	if c.granted {
		return nil
	}

	if c.principalID == "" && len(c.permissions) == 0 {
		return gwerr.NewUnauthorizedError("no authenticated principal", nil)
	}

	candidates := resources
	if len(candidates) == 0 && c.toolName != "" {
		candidates = []string{c.toolName}
	}
	if len(candidates) == 0 {
		return gwerr.NewForbiddenError("no resources specified", nil)
	}

	for _, resource := range candidates {
		if c.checkResource(ctx, resource) {
			c.Grant()
			return nil
		}
	}

	return gwerr.NewForbiddenError(
		fmt.Sprintf("not authorized for %s", strings.Join(candidates, ", ")), nil)
}

// checkResource evaluates a single candidate resource.
func (c *Checker) checkResource(ctx context.Context, resource string) bool {
	// Admin and owner roles bypass evaluation entirely, even with an
	// empty permission set.
	if c.role == RoleAdmin || c.role == RoleOwner {
		return true
	}

	request := PermissionSet{c.connectionID: {resource}}

	if c.policy != nil && c.principalID != "" {
		allowed, err := c.policy.CheckPermission(ctx, c.principalID, c.role, request)
		if err == nil {
			return allowed
		}
		// Policy service unavailability is not a denial. Fall back to
		// evaluating the request-local permission set.
		logger.Debugf("policy check failed for %s, falling back to local evaluation: %v", c.principalID, err)
	}

	return Evaluate(c.permissions, resource, c.connectionID)
}
