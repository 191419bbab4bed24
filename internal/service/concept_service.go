package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/repository"
)

// ConceptService serves concept quizzes and grades answers to them.
type ConceptService interface {
	CategoryQuizzes(ctx context.Context, categoryID uint) (dto.CategoryConceptsResponse, error)
	SubmitQuiz(ctx context.Context, userID, quizID uint, payload dto.QuizSubmissionRequest) (dto.QuizSubmissionResponse, error)
}

type conceptService struct {
	repo      repository.ConceptRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewConceptService constructs the concept service.
func NewConceptService(repo repository.ConceptRepository, validate *validator.Validate, logger zerolog.Logger) ConceptService {
	return &conceptService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "concept_service").Logger(),
	}
}

func (s *conceptService) CategoryQuizzes(ctx context.Context, categoryID uint) (dto.CategoryConceptsResponse, error) {
	concepts, err := s.repo.ListByCategory(ctx, categoryID)
	if err != nil {
		return dto.CategoryConceptsResponse{}, err
	}
	if len(concepts) == 0 {
		return dto.CategoryConceptsResponse{}, ErrConceptsNotFound
	}
	return dto.NewCategoryConceptsResponse(categoryID, concepts), nil
}

// SubmitQuiz grades the answers and records them. A quiz is correct only when every
// blank receives its answer index.
func (s *conceptService) SubmitQuiz(ctx context.Context, userID, quizID uint, payload dto.QuizSubmissionRequest) (dto.QuizSubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.QuizSubmissionResponse{}, err
	}

	quiz, err := s.repo.GetQuiz(ctx, quizID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.QuizSubmissionResponse{}, ErrQuizNotFound
		}
		return dto.QuizSubmissionResponse{}, err
	}

	answers, err := json.Marshal(payload.Answers)
	if err != nil {
		return dto.QuizSubmissionResponse{}, err
	}

	submission := models.ConceptQuizSubmission{
		UserID:        userID,
		ConceptQuizID: quiz.ID,
		IsCorrect:     gradeQuiz(quiz.Blanks, payload.Answers),
		Answers:       datatypes.JSON(answers),
	}
	if err := s.repo.CreateQuizSubmission(ctx, &submission); err != nil {
		return dto.QuizSubmissionResponse{}, err
	}

	s.logger.Debug().
		Uint("quiz_id", quiz.ID).
		Uint("user_id", userID).
		Bool("is_correct", submission.IsCorrect).
		Msg("quiz submission graded")

	return dto.QuizSubmissionResponse{IsCorrect: submission.IsCorrect, QuizSubmissionID: submission.ID}, nil
}

func gradeQuiz(blanks []models.ConceptQuizBlank, answers []dto.QuizAnswer) bool {
	if len(blanks) == 0 {
		return false
	}

	given := make(map[int]int, len(answers))
	for _, answer := range answers {
		given[answer.BlankIndex] = answer.AnswerIndex
	}

	for _, blank := range blanks {
		choice, ok := given[blank.BlankIndex]
		if !ok || choice != blank.AnswerIndex {
			return false
		}
	}
	return true
}
