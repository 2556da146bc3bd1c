package store

import (
	"errors"
	"fmt"
)

// Role is a caller-supplied privilege label. The set is closed; anything
// outside it is rejected before a connection is opened.
type Role string

const (
	RoleAnalyst Role = "analyst"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// ErrUnknownRole is returned for roles outside the closed set.
var ErrUnknownRole = errors.New("unknown role")

// Policy describes everything role-dependent about store access: which
// view a read queries, whether returned values need decryption, and
// whether the role may truncate the table. Adding a role is a data change
// here, not new branching in the read/write paths.
type Policy struct {
	View          string // relation queried by Read
	DecryptOnRead bool   // false when the view already returns non-sensitive values
	CanDelete     bool
}

// policies is the single role-to-behavior lookup table.
// The analyst reads the masked view, which exposes redacted values and
// therefore skips decryption; manager and admin read the raw table and
// decrypt. Only admin may delete.
var policies = map[Role]Policy{
	RoleAnalyst: {View: "masked_users", DecryptOnRead: false, CanDelete: false},
	RoleManager: {View: "users", DecryptOnRead: true, CanDelete: false},
	RoleAdmin:   {View: "users", DecryptOnRead: true, CanDelete: true},
}

// PolicyFor resolves a role to its policy, failing with ErrUnknownRole for
// anything outside the closed set.
func PolicyFor(role Role) (Policy, error) {
	p, ok := policies[role]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return p, nil
}

// ParseRole maps a request parameter to a Role. An absent value defaults
// to the lowest-privilege role.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleAnalyst, nil
	}
	role := Role(s)
	if _, ok := policies[role]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return role, nil
}

// Roles returns the closed role set in privilege order.
func Roles() []Role {
	return []Role{RoleAnalyst, RoleManager, RoleAdmin}
}
