package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/repository"
)

// ProblemService exposes problems and a user's attempts at them.
type ProblemService interface {
	Get(ctx context.Context, id uint) (dto.ProblemResponse, error)
	ListByCategory(ctx context.Context, categoryID uint) ([]dto.ProblemSummary, error)
	SubmissionIDs(ctx context.Context, userID, problemID uint) (dto.SubmissionIDsResponse, error)
}

type problemService struct {
	problems    repository.ProblemRepository
	categories  repository.CategoryRepository
	submissions repository.SubmissionRepository
	logger      zerolog.Logger
}

// NewProblemService constructs the problem service.
func NewProblemService(problems repository.ProblemRepository, categories repository.CategoryRepository, submissions repository.SubmissionRepository, logger zerolog.Logger) ProblemService {
	return &problemService{
		problems:    problems,
		categories:  categories,
		submissions: submissions,
		logger:      logger.With().Str("component", "problem_service").Logger(),
	}
}

func (s *problemService) Get(ctx context.Context, id uint) (dto.ProblemResponse, error) {
	problem, err := s.problems.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ProblemResponse{}, ErrProblemNotFound
		}
		return dto.ProblemResponse{}, err
	}
	return dto.NewProblemResponse(problem), nil
}

func (s *problemService) ListByCategory(ctx context.Context, categoryID uint) ([]dto.ProblemSummary, error) {
	if _, err := s.categories.GetByID(ctx, categoryID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}

	problems, err := s.problems.ListByCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	return dto.NewProblemSummaries(problems), nil
}

func (s *problemService) SubmissionIDs(ctx context.Context, userID, problemID uint) (dto.SubmissionIDsResponse, error) {
	if _, err := s.problems.GetByID(ctx, problemID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionIDsResponse{}, ErrProblemNotFound
		}
		return dto.SubmissionIDsResponse{}, err
	}

	ids, err := s.submissions.ListIDs(ctx, userID, problemID)
	if err != nil {
		return dto.SubmissionIDsResponse{}, err
	}
	if ids == nil {
		ids = []uint{}
	}

	return dto.SubmissionIDsResponse{ProblemID: problemID, SubmissionIDs: ids}, nil
}
