// Package identity models the authenticated caller handed to the attendance
// engine by the auth collaborator: who they are, their role and, for managers,
// the workers assigned to them.
package identity

import (
	"context"
	"slices"
	"strings"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleHR      Role = "hr"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
)

func ParseRole(v string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(v))); r {
	case RoleAdmin, RoleHR, RoleManager, RoleUser:
		return r, true
	default:
		return "", false
	}
}

type Identity struct {
	UserID        string
	Role          Role
	AssignedUsers []string
}

func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// Manages reports whether userID is on the caller's team.
func (i Identity) Manages(userID string) bool {
	return slices.Contains(i.AssignedUsers, userID)
}

// IsReviewer reports whether the role may verify attendance at all.
func (i Identity) IsReviewer() bool {
	switch i.Role {
	case RoleAdmin, RoleHR, RoleManager:
		return true
	default:
		return false
	}
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok && !id.IsZero()
}
