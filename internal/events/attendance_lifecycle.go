package events

import "time"

const AttendanceLifecycleTopic = "hr.attendance.lifecycle.v1"

const (
	AttendanceCheckedIn      = "attendance.checked_in"
	AttendanceCheckedOut     = "attendance.checked_out"
	AttendanceMarked         = "attendance.marked"
	AttendanceAutoCheckedOut = "attendance.auto_checked_out"
	AttendanceVerified       = "attendance.verified"
)

// AttendanceEvent is the payload published on AttendanceLifecycleTopic.
type AttendanceEvent struct {
	EventType    string    `json:"event_type"`
	RequestID    string    `json:"request_id,omitempty"`
	RecordID     string    `json:"record_id"`
	UserID       string    `json:"user_id"`
	Date         string    `json:"date"`
	Status       string    `json:"status"`
	IsOnline     bool      `json:"is_online"`
	TotalHours   float64   `json:"total_hours"`
	LastActivity time.Time `json:"last_activity"`
	OccurredAt   time.Time `json:"occurred_at"`
}
