package artifact

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// Create persists an artifact together with its variants in one transaction.
	Create(ctx context.Context, a *StoredArtifact) error
	GetByID(ctx context.Context, id string) (*StoredArtifact, error)
	// Delete removes the artifact, its variants and references. Reports whether a row existed.
	Delete(ctx context.Context, id string) (bool, error)
	// ListOrphans returns artifacts created before cutoff with no references,
	// ordered by id and starting strictly after afterID.
	ListOrphans(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*StoredArtifact, error)
	// DeleteOrphan removes the artifact and its variants only while nothing references it.
	// Reports whether it was removed.
	DeleteOrphan(ctx context.Context, id string) (bool, error)
	HasReferences(ctx context.Context, artifactID string) (bool, error)
	// AddReference returns ErrNotFound when the artifact row is gone.
	AddReference(ctx context.Context, ref *Reference) error
	RemoveReference(ctx context.Context, ref *Reference) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, a *StoredArtifact) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(a).Error
	})
}

func (r *repository) GetByID(ctx context.Context, id string) (*StoredArtifact, error) {
	var a StoredArtifact
	err := r.db.WithContext(ctx).
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("max_width ASC") }).
		Where("id = ?", id).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repository) Delete(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("artifact_id = ?", id).Delete(&Variant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("artifact_id = ?", id).Delete(&Reference{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&StoredArtifact{})
		if res.Error != nil {
			return res.Error
		}
		existed = res.RowsAffected > 0
		return nil
	})
	return existed, err
}

const deleteOrphanSQL = `DELETE FROM artifacts WHERE id = ?
	AND NOT EXISTS (SELECT 1 FROM artifact_references r WHERE r.artifact_id = artifacts.id)`

// lockArtifact takes the row lock that orders DeleteOrphan against AddReference.
// sqlite has no row locks and serialises writers instead.
func lockArtifact(tx *gorm.DB, id string) (bool, error) {
	var ids []string
	err := tx.Model(&StoredArtifact{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Limit(1).
		Pluck("id", &ids).Error
	return len(ids) > 0, err
}

func (r *repository) DeleteOrphan(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := lockArtifact(tx, id)
		if err != nil || !exists {
			return err
		}
		// A fresh statement after the lock sees references committed while we waited.
		res := tx.Exec(deleteOrphanSQL, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Where("artifact_id = ?", id).Delete(&Variant{}).Error
	})
	return deleted, err
}

func (r *repository) ListOrphans(ctx context.Context, cutoff time.Time, afterID string, limit int) ([]*StoredArtifact, error) {
	var items []*StoredArtifact
	err := r.db.WithContext(ctx).
		Preload("Variants").
		Where("created_at < ?", cutoff).
		Where("id > ?", afterID).
		Where("NOT EXISTS (SELECT 1 FROM artifact_references r WHERE r.artifact_id = artifacts.id)").
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *repository) HasReferences(ctx context.Context, artifactID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Reference{}).
		Where("artifact_id = ?", artifactID).
		Count(&count).Error
	return count > 0, err
}

// AddReference is idempotent: re-attaching the same reference is a no-op.
func (r *repository) AddReference(ctx context.Context, ref *Reference) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := lockArtifact(tx, ref.ArtifactID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ref).Error
	})
	if isForeignKeyError(err) {
		return ErrNotFound
	}
	return err
}

func (r *repository) RemoveReference(ctx context.Context, ref *Reference) error {
	return r.db.WithContext(ctx).
		Where("artifact_id = ? AND ref_type = ? AND ref_id = ?", ref.ArtifactID, ref.RefType, ref.RefID).
		Delete(&Reference{}).Error
}

// isForeignKeyError recognises foreign key violations from postgres (23503) and sqlite.
func isForeignKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint")
}
