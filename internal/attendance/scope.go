package attendance

import (
	attendanceerrors "go-attendance/internal/attendance/errors"
	"go-attendance/internal/identity"

	"gorm.io/gorm"
)

// Scope is the set of users whose records a caller may see. The zero value
// matches nothing.
type Scope struct {
	all     bool
	userIDs []string
}

// ResolveScope translates the caller into a record predicate. It does no I/O
// and keeps no state; team membership is taken from the identity as given.
//
// Managers asking for someone outside their team get an empty scope rather
// than an error so team composition is not disclosed. Workers asking for
// another user are refused.
func ResolveScope(caller identity.Identity, requestedUserID string) (Scope, error) {
	if caller.IsZero() {
		return Scope{}, attendanceerrors.ErrUnauthenticated
	}

	switch caller.Role {
	case identity.RoleAdmin, identity.RoleHR:
		if requestedUserID != "" {
			return Scope{userIDs: []string{requestedUserID}}, nil
		}
		return Scope{all: true}, nil

	case identity.RoleManager:
		if requestedUserID != "" {
			if !caller.Manages(requestedUserID) {
				return Scope{}, nil
			}
			return Scope{userIDs: []string{requestedUserID}}, nil
		}
		team := make([]string, len(caller.AssignedUsers))
		copy(team, caller.AssignedUsers)
		return Scope{userIDs: team}, nil

	case identity.RoleUser:
		if requestedUserID != "" && requestedUserID != caller.UserID {
			return Scope{}, attendanceerrors.ErrForbidden
		}
		return Scope{userIDs: []string{caller.UserID}}, nil

	default:
		return Scope{}, attendanceerrors.ErrForbidden
	}
}

// CanAccess reports whether the caller may read or change userID's records.
func CanAccess(caller identity.Identity, userID string) bool {
	switch caller.Role {
	case identity.RoleAdmin, identity.RoleHR:
		return true
	case identity.RoleManager:
		return caller.Manages(userID)
	case identity.RoleUser:
		return caller.UserID == userID
	default:
		return false
	}
}

// CanReview reports whether the caller may verify userID's records.
func CanReview(caller identity.Identity, userID string) bool {
	switch caller.Role {
	case identity.RoleAdmin, identity.RoleHR:
		return true
	case identity.RoleManager:
		return caller.Manages(userID)
	default:
		return false
	}
}

func (s Scope) Empty() bool {
	return !s.all && len(s.userIDs) == 0
}

func (s Scope) Unrestricted() bool {
	return s.all
}

// UserIDs returns the explicit user set, or nil for an unrestricted scope.
func (s Scope) UserIDs() []string {
	if s.all {
		return nil
	}
	out := make([]string, len(s.userIDs))
	copy(out, s.userIDs)
	return out
}

func (s Scope) Allows(userID string) bool {
	if s.all {
		return true
	}
	for _, id := range s.userIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Apply is a gorm scope restricting a query on attendance_records.
func (s Scope) Apply(db *gorm.DB) *gorm.DB {
	switch {
	case s.all:
		return db
	case len(s.userIDs) == 0:
		return db.Where("1 = 0")
	case len(s.userIDs) == 1:
		return db.Where("user_id = ?", s.userIDs[0])
	default:
		return db.Where("user_id IN ?", s.userIDs)
	}
}
