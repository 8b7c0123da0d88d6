package relationship

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrAlreadyLinked = errors.New("trainer and client are already linked")
	ErrNotLinked     = errors.New("trainer and client are not linked")
	ErrSelfLink      = errors.New("cannot link a user to themselves")
)

// Link mirrors one trainer↔client edge of the user directory.
type Link struct {
	TrainerID int64     `gorm:"column:trainer_id;primaryKey;autoIncrement:false" json:"trainer_id"`
	ClientID  int64     `gorm:"column:client_id;primaryKey;autoIncrement:false;index" json:"client_id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Link) TableName() string { return "trainer_client_links" }

// Repository handles persistence for trainer↔client links
type Repository interface {
	Link(ctx context.Context, trainerID, clientID int64) error
	Unlink(ctx context.Context, trainerID, clientID int64) error
	// IsLinked checks both directions: a is the trainer of b or b is the trainer of a.
	IsLinked(ctx context.Context, a, b int64) (bool, error)
	TrainersOf(ctx context.Context, clientID int64) ([]int64, error)
	ClientsOf(ctx context.Context, trainerID int64) ([]int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Link(ctx context.Context, trainerID, clientID int64) error {
	link := &Link{
		TrainerID: trainerID,
		ClientID:  clientID,
		CreatedAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Create(link).Error
	if isDuplicateError(err) {
		return ErrAlreadyLinked
	}
	return err
}

func (r *repository) Unlink(ctx context.Context, trainerID, clientID int64) error {
	result := r.db.WithContext(ctx).
		Where("trainer_id = ? AND client_id = ?", trainerID, clientID).
		Delete(&Link{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotLinked
	}
	return nil
}

func (r *repository) IsLinked(ctx context.Context, a, b int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Link{}).
		Where("(trainer_id = ? AND client_id = ?) OR (trainer_id = ? AND client_id = ?)", a, b, b, a).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) TrainersOf(ctx context.Context, clientID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&Link{}).
		Where("client_id = ?", clientID).
		Order("trainer_id ASC").
		Pluck("trainer_id", &ids).Error
	return ids, err
}

func (r *repository) ClientsOf(ctx context.Context, trainerID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&Link{}).
		Where("trainer_id = ?", trainerID).
		Order("client_id ASC").
		Pluck("client_id", &ids).Error
	return ids, err
}

// isDuplicateError recognises unique violations from postgres (23505) and sqlite.
func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
