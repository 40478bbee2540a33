// Package authz decides which staff roles may perform which admin operations.
package authz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Objects guarded by the policy.
const (
	ObjectOrders         = "orders"
	ObjectOrderStatus    = "order.status"
	ObjectReconciliation = "reconciliation"
)

// ActionRead is the action used for read-only objects.
const ActionRead = "read"

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// DefaultPolicies lets staff fulfil paid orders and reserves payment decisions for admins.
var DefaultPolicies = [][]string{
	{"staff", ObjectOrders, ActionRead},
	{"staff", ObjectOrderStatus, "shipped"},
	{"staff", ObjectOrderStatus, "delivered"},
	{"admin", ObjectOrderStatus, "paid"},
	{"admin", ObjectOrderStatus, "cancelled"},
	{"admin", ObjectReconciliation, ActionRead},
}

// DefaultRoleInheritance makes admin a superset of staff.
var DefaultRoleInheritance = [][]string{
	{"admin", "staff"},
}

// Policy wraps a casbin enforcer over the role model.
type Policy struct {
	enforcer *casbin.Enforcer
}

// NewPolicy builds the enforcer from the embedded model, the default rules and any
// extra rules given as "role, object, action" lines.
func NewPolicy(extra ...string) (*Policy, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz: load model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz: create enforcer: %w", err)
	}
	if _, err := enforcer.AddPolicies(DefaultPolicies); err != nil {
		return nil, fmt.Errorf("authz: add policies: %w", err)
	}
	if _, err := enforcer.AddGroupingPolicies(DefaultRoleInheritance); err != nil {
		return nil, fmt.Errorf("authz: add role inheritance: %w", err)
	}
	for _, line := range extra {
		rule, err := parseRule(line)
		if err != nil {
			return nil, err
		}
		if _, err := enforcer.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
			return nil, fmt.Errorf("authz: add rule %q: %w", line, err)
		}
	}
	return &Policy{enforcer: enforcer}, nil
}

// Allowed reports whether any of roles may perform act on obj.
func (p *Policy) Allowed(roles []string, obj, act string) (bool, error) {
	if p == nil || p.enforcer == nil {
		return false, errors.New("authz: policy not initialised")
	}
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		ok, err := p.enforcer.Enforce(role, obj, act)
		if err != nil {
			return false, fmt.Errorf("authz: enforce: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// CanTransition reports whether roles may request the target order status.
func (p *Policy) CanTransition(roles []string, target string) (bool, error) {
	return p.Allowed(roles, ObjectOrderStatus, strings.ToLower(strings.TrimSpace(target)))
}

func parseRule(line string) ([]string, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("authz: rule %q must be role, object, action", line)
	}
	for i := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(parts[i]))
		if parts[i] == "" {
			return nil, fmt.Errorf("authz: rule %q has an empty field", line)
		}
	}
	return parts, nil
}
