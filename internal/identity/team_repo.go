package identity

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TeamAssignment links a manager to one worker on their team.
type TeamAssignment struct {
	ManagerID uuid.UUID `gorm:"column:manager_id;type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey;index"`
}

func (TeamAssignment) TableName() string {
	return "team_assignments"
}

type TeamRepository interface {
	FindAssignedUserIDs(ctx context.Context, managerID string) ([]string, error)
}

type teamRepository struct {
	db *gorm.DB
}

func NewTeamRepository(db *gorm.DB) TeamRepository {
	return &teamRepository{db: db}
}

func (r *teamRepository) FindAssignedUserIDs(ctx context.Context, managerID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&TeamAssignment{}).
		Where("manager_id = ?", managerID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}
