package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/types"
)

// ArtifactRepo is the saved-library collection: a single keyed table of
// artifacts addressed by id. Each operation is independent and atomic at the
// single-record level.
type ArtifactRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, artifact *types.SavedArtifact) (*types.SavedArtifact, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SavedArtifact, error)
	GetAll(ctx context.Context, tx *gorm.DB) ([]*types.SavedArtifact, error)
}

type artifactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArtifactRepo(db *gorm.DB, baseLog *logger.Logger) ArtifactRepo {
	return &artifactRepo{db: db, log: baseLog.With("repo", "ArtifactRepo")}
}

func (ar *artifactRepo) Upsert(ctx context.Context, tx *gorm.DB, artifact *types.SavedArtifact) (*types.SavedArtifact, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}

	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(artifact).Error; err != nil {
		return nil, err
	}
	return artifact, nil
}

func (ar *artifactRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}

	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.SavedArtifact{}).Error
}

func (ar *artifactRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SavedArtifact, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}

	var result types.SavedArtifact
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (ar *artifactRepo) GetAll(ctx context.Context, tx *gorm.DB) ([]*types.SavedArtifact, error) {
	transaction := tx
	if transaction == nil {
		transaction = ar.db
	}

	var results []*types.SavedArtifact
	if err := transaction.WithContext(ctx).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
