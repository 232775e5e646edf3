package attendance

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// Filter narrows FindAll. Dates are inclusive YYYY-MM-DD bounds.
type Filter struct {
	Scope    Scope
	DateFrom string
	DateTo   string
	Status   *Status
}

type Repository interface {
	WithTx(tx *sql.Tx) Repository
	Create(ctx context.Context, r *Record) error
	FindByID(ctx context.Context, id string) (*Record, error)
	FindByUserAndDate(ctx context.Context, userID, date string) (*Record, error)
	FindAll(ctx context.Context, f Filter) ([]Record, error)
	FindOnlineByDate(ctx context.Context, date string) ([]Record, error)
	Update(ctx context.Context, r *Record) error
}

type repository struct {
	db *gorm.DB
	tx *sql.Tx
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *sql.Tx) Repository {
	return &repository{db: r.db, tx: tx}
}

// conn runs statements on the bound *sql.Tx when there is one.
func (r *repository) conn(ctx context.Context) *gorm.DB {
	db := r.db.WithContext(ctx)
	if r.tx != nil {
		db = db.Session(&gorm.Session{NewDB: true, Context: ctx})
		db.Statement.ConnPool = r.tx
	}
	return db
}

func (r *repository) Create(ctx context.Context, rec *Record) error {
	return r.conn(ctx).Create(rec).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := r.conn(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) FindByUserAndDate(ctx context.Context, userID, date string) (*Record, error) {
	var rec Record
	err := r.conn(ctx).
		Where("user_id = ?", userID).
		Where("date = ?", date).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) FindAll(ctx context.Context, f Filter) ([]Record, error) {
	q := r.conn(ctx).Scopes(f.Scope.Apply)
	if f.DateFrom != "" {
		q = q.Where("date >= ?", f.DateFrom)
	}
	if f.DateTo != "" {
		q = q.Where("date <= ?", f.DateTo)
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}

	var rows []Record
	err := q.Order("date DESC, last_activity DESC").Find(&rows).Error
	return rows, err
}

func (r *repository) FindOnlineByDate(ctx context.Context, date string) ([]Record, error) {
	var rows []Record
	err := r.conn(ctx).
		Where("date = ?", date).
		Where("is_online = ?", true).
		Order("last_activity ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) Update(ctx context.Context, rec *Record) error {
	return r.conn(ctx).Save(rec).Error
}
