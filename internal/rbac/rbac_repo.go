package rbac

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	GetRolePermissions(ctx context.Context) ([]RolePermissionRow, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type RolePermissionRow struct {
	Role     string `gorm:"column:role"`
	Resource string `gorm:"column:resource"`
	Action   string `gorm:"column:action"`
}

func (RolePermissionRow) TableName() string {
	return "role_permissions"
}

func (r *repository) GetRolePermissions(ctx context.Context) ([]RolePermissionRow, error) {
	var result []RolePermissionRow
	err := r.db.WithContext(ctx).
		Order("role, resource, action").
		Find(&result).Error
	return result, err
}
