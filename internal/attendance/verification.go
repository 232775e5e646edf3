package attendance

import (
	"strings"
	"time"

	attendanceerrors "go-attendance/internal/attendance/errors"
	"go-attendance/internal/identity"

	"github.com/google/uuid"
)

type VerifyAction string

const (
	ActionApprove VerifyAction = "approve"
	ActionReject  VerifyAction = "reject"
)

func ParseVerifyAction(v string) (VerifyAction, error) {
	switch a := VerifyAction(strings.ToLower(strings.TrimSpace(v))); a {
	case ActionApprove, ActionReject:
		return a, nil
	default:
		return "", attendanceerrors.ErrInvalidAction
	}
}

// Verify applies a reviewer decision. Only pending records can be verified and
// a decision is never re-applied.
func (r *Record) Verify(reviewer identity.Identity, action VerifyAction, notes string, now time.Time) error {
	if !CanReview(reviewer, r.UserID.String()) {
		return attendanceerrors.ErrForbidden
	}
	if r.Status != StatusPending {
		return attendanceerrors.ErrAlreadyVerified
	}
	reviewerID, err := uuid.Parse(reviewer.UserID)
	if err != nil {
		return attendanceerrors.ErrInvalidReviewer
	}

	switch action {
	case ActionApprove:
		r.Status = StatusApproved
		r.IsVerified = true
	case ActionReject:
		r.Status = StatusRejected
		r.IsVerified = false
	default:
		return attendanceerrors.ErrInvalidAction
	}

	verifiedAt := now
	r.VerifiedBy = &reviewerID
	r.VerifiedAt = &verifiedAt
	if notes = strings.TrimSpace(notes); notes != "" {
		r.VerificationNotes = &notes
	} else {
		r.VerificationNotes = nil
	}
	return nil
}
