package user

import (
	"time"

	"github.com/google/uuid"
)

// User is the read-only slice of the user directory this service joins on.
// The table is owned by the user administration service.
type User struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;type:varchar(255)"`
	Email     string    `gorm:"column:email;type:text"`
	Role      string    `gorm:"column:role;type:varchar(50)"`
	IsActive  bool      `gorm:"column:is_active"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (User) TableName() string {
	return "users"
}
