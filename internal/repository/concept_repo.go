package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// ConceptRepository exposes concepts, their quizzes and quiz submissions.
type ConceptRepository interface {
	ListByCategory(ctx context.Context, categoryID uint) ([]models.Concept, error)
	GetQuiz(ctx context.Context, id uint) (models.ConceptQuiz, error)
	CreateQuizSubmission(ctx context.Context, submission *models.ConceptQuizSubmission) error
}

type conceptRepository struct {
	db *gorm.DB
}

// NewConceptRepository creates a concept repository.
func NewConceptRepository(db *gorm.DB) ConceptRepository {
	return &conceptRepository{db: db}
}

func (r *conceptRepository) ListByCategory(ctx context.Context, categoryID uint) ([]models.Concept, error) {
	var concepts []models.Concept
	if err := r.db.WithContext(ctx).
		Preload("Quizzes", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC").Order("id ASC")
		}).
		Preload("Quizzes.Blanks", func(db *gorm.DB) *gorm.DB {
			return db.Order("blank_index ASC")
		}).
		Where("category_id = ?", categoryID).
		Order("display_order ASC").
		Order("id ASC").
		Find(&concepts).Error; err != nil {
		return nil, err
	}
	return concepts, nil
}

func (r *conceptRepository) GetQuiz(ctx context.Context, id uint) (models.ConceptQuiz, error) {
	var quiz models.ConceptQuiz
	if err := r.db.WithContext(ctx).
		Preload("Blanks", func(db *gorm.DB) *gorm.DB {
			return db.Order("blank_index ASC")
		}).
		First(&quiz, id).Error; err != nil {
		return models.ConceptQuiz{}, err
	}
	return quiz, nil
}

func (r *conceptRepository) CreateQuizSubmission(ctx context.Context, submission *models.ConceptQuizSubmission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}
