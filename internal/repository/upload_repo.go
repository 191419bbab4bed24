package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// UploadRepository persists metadata about uploaded files.
type UploadRepository interface {
	Create(ctx context.Context, record *models.UploadRecord) error
	FindByChecksum(ctx context.Context, userID *uint, checksum string) (models.UploadRecord, error)
}

type uploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository constructs a repository for upload records.
func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &uploadRepository{db: db}
}

func (r *uploadRepository) Create(ctx context.Context, record *models.UploadRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByChecksum returns an earlier upload of the same content by the same user.
func (r *uploadRepository) FindByChecksum(ctx context.Context, userID *uint, checksum string) (models.UploadRecord, error) {
	query := r.db.WithContext(ctx).Where("checksum = ?", checksum)
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	} else {
		query = query.Where("user_id IS NULL")
	}

	var record models.UploadRecord
	if err := query.Order("id DESC").First(&record).Error; err != nil {
		return models.UploadRecord{}, err
	}
	return record, nil
}
