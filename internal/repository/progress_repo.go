package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// ProgressRepository stores per-user category statistics.
type ProgressRepository interface {
	Get(ctx context.Context, userID, categoryID uint) (models.UserCategoryProgress, error)
	Save(ctx context.Context, progress *models.UserCategoryProgress) error
}

type progressRepository struct {
	db *gorm.DB
}

// NewProgressRepository creates a progress repository.
func NewProgressRepository(db *gorm.DB) ProgressRepository {
	return &progressRepository{db: db}
}

func (r *progressRepository) Get(ctx context.Context, userID, categoryID uint) (models.UserCategoryProgress, error) {
	var progress models.UserCategoryProgress
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND category_id = ?", userID, categoryID).
		First(&progress).Error; err != nil {
		return models.UserCategoryProgress{}, err
	}
	return progress, nil
}

// Save upserts the derived columns keyed by user and category.
func (r *progressRepository) Save(ctx context.Context, progress *models.UserCategoryProgress) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "category_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"solve_time", "progress_rate", "test_accuracy", "updated_at"}),
	}).Create(progress).Error
}

// ReportRepository stores score snapshots and generated reports.
type ReportRepository interface {
	LatestForUser(ctx context.Context, userID uint) (models.UserReport, error)
	Create(ctx context.Context, report *models.UserReport) error
	CreateScoreStat(ctx context.Context, stat *models.UserScoreStat) error
}

type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository creates a report repository.
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

func (r *reportRepository) LatestForUser(ctx context.Context, userID uint) (models.UserReport, error) {
	var report models.UserReport
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		First(&report).Error; err != nil {
		return models.UserReport{}, err
	}
	return report, nil
}

func (r *reportRepository) Create(ctx context.Context, report *models.UserReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *reportRepository) CreateScoreStat(ctx context.Context, stat *models.UserScoreStat) error {
	return r.db.WithContext(ctx).Create(stat).Error
}
