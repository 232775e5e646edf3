package attendance

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Status is the canonical verification state of a record. Legacy labels
// (marked, present, absent, not_marked) only exist at the API boundary.
type Status string

const (
	StatusUnmarked Status = "unmarked"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type MarkedBy string

const (
	MarkedBySelf    MarkedBy = "self"
	MarkedByManager MarkedBy = "manager"
	MarkedBySystem  MarkedBy = "system"
)

// Session is one check-in/check-out interval. Times are HH:MM in the
// service timezone; CheckOut is nil while the session is open.
type Session struct {
	ID       string  `json:"id"`
	CheckIn  string  `json:"check_in"`
	CheckOut *string `json:"check_out"`
	Hours    float64 `json:"hours"`
	Notes    string  `json:"notes,omitempty"`
}

func (s Session) IsOpen() bool {
	return s.CheckOut == nil
}

// Record is the per-user, per-day attendance aggregate.
type Record struct {
	ID                uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID            uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;uniqueIndex:uq_attendance_user_date,priority:1"`
	Date              string                      `gorm:"column:date;type:varchar(10);not null;uniqueIndex:uq_attendance_user_date,priority:2;index:idx_attendance_date_online,priority:1"`
	Status            Status                      `gorm:"column:status;type:varchar(20);not null;default:pending"`
	Sessions          datatypes.JSONSlice[Session] `gorm:"column:sessions;type:jsonb;not null"`
	TotalHours        float64                     `gorm:"column:total_hours;not null;default:0"`
	CheckIn           *string                     `gorm:"column:check_in;type:varchar(5)"`
	CheckOut          *string                     `gorm:"column:check_out;type:varchar(5)"`
	IsOnline          bool                        `gorm:"column:is_online;not null;default:false;index:idx_attendance_date_online,priority:2"`
	LastActivity      time.Time                   `gorm:"column:last_activity;type:timestamptz;not null"`
	MarkedBy          MarkedBy                    `gorm:"column:marked_by;type:varchar(10);not null;default:self"`
	IsVerified        bool                        `gorm:"column:is_verified;not null;default:false"`
	VerifiedBy        *uuid.UUID                  `gorm:"column:verified_by;type:uuid"`
	VerifiedAt        *time.Time                  `gorm:"column:verified_at;type:timestamptz"`
	VerificationNotes *string                     `gorm:"column:verification_notes;type:text"`
	CreatedAt         time.Time                   `gorm:"column:created_at"`
	UpdatedAt         time.Time                   `gorm:"column:updated_at"`
}

func (Record) TableName() string {
	return "attendance_records"
}

func newRecord(userID uuid.UUID, date string, markedBy MarkedBy) *Record {
	return &Record{
		ID:       uuid.New(),
		UserID:   userID,
		Date:     date,
		Status:   StatusPending,
		Sessions: datatypes.JSONSlice[Session]{},
		MarkedBy: markedBy,
	}
}
