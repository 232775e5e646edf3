package identity

import (
	"context"
	"fmt"
)

// Resolver turns verified token claims into an Identity. Team membership is
// read on every call since assignments may change between requests.
type Resolver interface {
	Resolve(ctx context.Context, userID, role string) (Identity, error)
}

var ErrUnknownRole = fmt.Errorf("unknown role")

type resolver struct {
	teams TeamRepository
}

func NewResolver(teams TeamRepository) Resolver {
	return &resolver{teams: teams}
}

func (r *resolver) Resolve(ctx context.Context, userID, role string) (Identity, error) {
	parsed, ok := ParseRole(role)
	if !ok {
		return Identity{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	id := Identity{UserID: userID, Role: parsed}
	if parsed != RoleManager {
		return id, nil
	}

	assigned, err := r.teams.FindAssignedUserIDs(ctx, userID)
	if err != nil {
		return Identity{}, fmt.Errorf("load team assignments: %w", err)
	}
	id.AssignedUsers = assigned
	return id, nil
}
