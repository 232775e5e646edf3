package attendance

import (
	"time"

	"go-attendance/internal/user"
)

type MarkAttendanceRequest struct {
	CheckIn  string  `json:"check_in" binding:"required"`
	CheckOut *string `json:"check_out"`
	Notes    string  `json:"notes"`
	UserID   string  `json:"user_id" binding:"omitempty,uuid"`
}

type CheckInRequest struct {
	Notes string `json:"notes"`
}

type CheckOutRequest struct {
	Notes string `json:"notes"`
}

type VerifyRequest struct {
	Action string `json:"action" binding:"required,oneof=approve reject"`
	Notes  string `json:"notes"`
}

type ListRecordsQuery struct {
	Date   string `form:"date"`
	From   string `form:"from"`
	To     string `form:"to"`
	UserID string `form:"user_id"`
	Status string `form:"status"`
}

type StatsQuery struct {
	Date   string `form:"date"`
	From   string `form:"from"`
	To     string `form:"to"`
	UserID string `form:"user_id"`
	Days   int    `form:"days"`
	Top    int    `form:"top"`
}

type RecordResponse struct {
	ID                string     `json:"id,omitempty"`
	UserID            string     `json:"user_id"`
	UserName          string     `json:"user_name,omitempty"`
	UserEmail         string     `json:"user_email,omitempty"`
	Date              string     `json:"date"`
	Status            string     `json:"status"`
	Sessions          []Session  `json:"sessions"`
	TotalHours        float64    `json:"total_hours"`
	CheckIn           *string    `json:"check_in,omitempty"`
	CheckOut          *string    `json:"check_out,omitempty"`
	IsOnline          bool       `json:"is_online"`
	LastActivity      *time.Time `json:"last_activity,omitempty"`
	MarkedBy          string     `json:"marked_by,omitempty"`
	IsVerified        bool       `json:"is_verified"`
	VerifiedBy        *string    `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	VerificationNotes *string    `json:"verification_notes,omitempty"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

type StatusResponse struct {
	Date          string    `json:"date"`
	HasAttendance bool      `json:"has_attendance"`
	IsOnline      bool      `json:"is_online"`
	Status        string    `json:"status"`
	TotalHours    float64   `json:"total_hours"`
	Sessions      []Session `json:"sessions"`
}

type HeartbeatResponse struct {
	IsOnline     bool      `json:"is_online"`
	LastActivity time.Time `json:"last_activity"`
}

type SweepItem struct {
	RecordID   string  `json:"record_id"`
	UserID     string  `json:"user_id"`
	CheckOut   string  `json:"check_out"`
	TotalHours float64 `json:"total_hours"`
}

type SweepResult struct {
	ProcessedCount int         `json:"processed_count"`
	Results        []SweepItem `json:"results"`
}

type StatsSummary struct {
	TotalRecords int     `json:"total_records"`
	Marked       int     `json:"marked"`
	Approved     int     `json:"approved"`
	Rejected     int     `json:"rejected"`
	Online       int     `json:"online"`
	TotalHours   float64 `json:"total_hours"`
	AverageHours float64 `json:"average_hours"`
}

type RoleBreakdown struct {
	Role       string  `json:"role"`
	Users      int     `json:"users"`
	Records    int     `json:"records"`
	TotalHours float64 `json:"total_hours"`
}

type TrendPoint struct {
	Date       string  `json:"date"`
	Records    int     `json:"records"`
	Approved   int     `json:"approved"`
	TotalHours float64 `json:"total_hours"`
}

type TopUser struct {
	UserID     string  `json:"user_id"`
	UserName   string  `json:"user_name,omitempty"`
	Days       int     `json:"days"`
	TotalHours float64 `json:"total_hours"`
}

type StatsResponse struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Summary  StatsSummary    `json:"summary"`
	ByRole   []RoleBreakdown `json:"by_role"`
	Trend    []TrendPoint    `json:"trend"`
	TopUsers []TopUser       `json:"top_users"`
}

type PresenceEntry struct {
	UserID       string    `json:"user_id"`
	RecordID     string    `json:"record_id"`
	IsOnline     bool      `json:"is_online"`
	Status       string    `json:"status"`
	TotalHours   float64   `json:"total_hours"`
	LastEvent    string    `json:"last_event"`
	LastActivity time.Time `json:"last_activity"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func mapToResponse(r Record, u *user.Summary) RecordResponse {
	sessions := make([]Session, len(r.Sessions))
	copy(sessions, r.Sessions)

	resp := RecordResponse{
		ID:                r.ID.String(),
		UserID:            r.UserID.String(),
		Date:              r.Date,
		Status:            DisplayStatus(r.Status),
		Sessions:          sessions,
		TotalHours:        r.TotalHours,
		CheckIn:           r.CheckIn,
		CheckOut:          r.CheckOut,
		IsOnline:          r.IsOnline,
		MarkedBy:          string(r.MarkedBy),
		IsVerified:        r.IsVerified,
		VerifiedAt:        r.VerifiedAt,
		VerificationNotes: r.VerificationNotes,
	}
	if !r.LastActivity.IsZero() {
		la := r.LastActivity
		resp.LastActivity = &la
	}
	if r.VerifiedBy != nil {
		v := r.VerifiedBy.String()
		resp.VerifiedBy = &v
	}
	if !r.CreatedAt.IsZero() {
		ca, ua := r.CreatedAt, r.UpdatedAt
		resp.CreatedAt, resp.UpdatedAt = &ca, &ua
	}
	if u != nil {
		resp.UserName = u.Name
		resp.UserEmail = u.Email
	}
	return resp
}

// notMarkedResponse is the virtual row for a user with no record on date.
func notMarkedResponse(userID, date string, u *user.Summary) RecordResponse {
	resp := RecordResponse{
		UserID:   userID,
		Date:     date,
		Status:   DisplayStatus(StatusUnmarked),
		Sessions: []Session{},
	}
	if u != nil {
		resp.UserName = u.Name
		resp.UserEmail = u.Email
	}
	return resp
}

func mapToStatusResponse(date string, r *Record) StatusResponse {
	if r == nil {
		return StatusResponse{
			Date:     date,
			Status:   DisplayStatus(StatusUnmarked),
			Sessions: []Session{},
		}
	}
	sessions := make([]Session, len(r.Sessions))
	copy(sessions, r.Sessions)
	return StatusResponse{
		Date:          date,
		HasAttendance: true,
		IsOnline:      r.IsOnline,
		Status:        DisplayStatus(r.Status),
		TotalHours:    r.TotalHours,
		Sessions:      sessions,
	}
}
