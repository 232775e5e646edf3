package attendance

import (
	"strings"

	attendanceerrors "go-attendance/internal/attendance/errors"
)

// DisplayStatus maps the canonical status onto the labels clients know.
func DisplayStatus(s Status) string {
	switch s {
	case StatusPending:
		return "marked"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	default:
		return "not_marked"
	}
}

// ParseStatusFilter accepts both canonical names and display aliases.
// present is a synonym of marked and absent of not_marked.
func ParseStatusFilter(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "marked", "present", "pending":
		return StatusPending, nil
	case "approved":
		return StatusApproved, nil
	case "rejected":
		return StatusRejected, nil
	case "not_marked", "absent", "unmarked":
		return StatusUnmarked, nil
	default:
		return "", attendanceerrors.ErrInvalidStatus
	}
}
