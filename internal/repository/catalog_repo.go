package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// MaxCategoryDepth caps ancestor walks.
const MaxCategoryDepth = 32

// CategoryRepository provides access to the curriculum tree.
type CategoryRepository interface {
	All(ctx context.Context) ([]models.Category, error)
	GetByID(ctx context.Context, id uint) (models.Category, error)
	Ancestors(ctx context.Context, id uint) ([]models.Category, error)
	UpdateAvgAccuracy(ctx context.Context, id uint, value float64) error
}

type categoryRepository struct {
	db *gorm.DB
}

// NewCategoryRepository creates a category repository.
func NewCategoryRepository(db *gorm.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Category{})
}

func (r *categoryRepository) All(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	if err := r.baseQuery(ctx).Order("id ASC").Find(&categories).Error; err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *categoryRepository) GetByID(ctx context.Context, id uint) (models.Category, error) {
	var category models.Category
	if err := r.baseQuery(ctx).First(&category, id).Error; err != nil {
		return models.Category{}, err
	}
	return category, nil
}

// Ancestors returns the category followed by each of its parents up to the root.
func (r *categoryRepository) Ancestors(ctx context.Context, id uint) ([]models.Category, error) {
	chain := make([]models.Category, 0, 4)
	seen := make(map[uint]struct{})

	next := &id
	for next != nil && len(chain) < MaxCategoryDepth {
		if _, ok := seen[*next]; ok {
			break
		}

		var category models.Category
		if err := r.baseQuery(ctx).First(&category, *next).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) && len(chain) > 0 {
				break
			}
			return nil, err
		}

		seen[category.ID] = struct{}{}
		chain = append(chain, category)
		next = category.ParentID
	}

	return chain, nil
}

func (r *categoryRepository) UpdateAvgAccuracy(ctx context.Context, id uint, value float64) error {
	return r.baseQuery(ctx).Where("id = ?", id).Update("avg_accuracy", value).Error
}

// ProblemStats are the rounded averages stored on a problem.
type ProblemStats struct {
	AvgAccuracy       float64
	AvgTotalSolveTime int
	AvgUnderstandTime int
	AvgSolveTime      int
	AvgReviewTime     int
}

// ProblemRepository provides access to problems.
type ProblemRepository interface {
	GetByID(ctx context.Context, id uint) (models.Problem, error)
	ListByCategory(ctx context.Context, categoryID uint) ([]models.Problem, error)
	CountByCategory(ctx context.Context, categoryID uint) (int64, error)
	UpdateStats(ctx context.Context, id uint, stats ProblemStats) error
}

type problemRepository struct {
	db *gorm.DB
}

// NewProblemRepository creates a problem repository.
func NewProblemRepository(db *gorm.DB) ProblemRepository {
	return &problemRepository{db: db}
}

func (r *problemRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Problem{})
}

func (r *problemRepository) GetByID(ctx context.Context, id uint) (models.Problem, error) {
	var problem models.Problem
	if err := r.baseQuery(ctx).
		Preload("Book").
		Preload("Category").
		First(&problem, id).Error; err != nil {
		return models.Problem{}, err
	}
	return problem, nil
}

func (r *problemRepository) ListByCategory(ctx context.Context, categoryID uint) ([]models.Problem, error) {
	var problems []models.Problem
	if err := r.baseQuery(ctx).
		Where("category_id = ?", categoryID).
		Order("inner_no ASC").
		Order("id ASC").
		Find(&problems).Error; err != nil {
		return nil, err
	}
	return problems, nil
}

func (r *problemRepository) CountByCategory(ctx context.Context, categoryID uint) (int64, error) {
	var count int64
	if err := r.baseQuery(ctx).Where("category_id = ?", categoryID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *problemRepository) UpdateStats(ctx context.Context, id uint, stats ProblemStats) error {
	return r.baseQuery(ctx).Where("id = ?", id).Updates(map[string]interface{}{
		"avg_accuracy":         stats.AvgAccuracy,
		"avg_total_solve_time": stats.AvgTotalSolveTime,
		"avg_understand_time":  stats.AvgUnderstandTime,
		"avg_solve_time":       stats.AvgSolveTime,
		"avg_review_time":      stats.AvgReviewTime,
	}).Error
}
