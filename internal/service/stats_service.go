package service

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/repository"
)

// StatsService recomputes derived statistics after a submission is graded.
type StatsService interface {
	RefreshProblem(ctx context.Context, problemID uint) (repository.ProblemStats, error)
	RefreshUserCategory(ctx context.Context, userID, categoryID uint) (models.UserCategoryProgress, error)
	RefreshCategory(ctx context.Context, categoryID uint) (float64, error)
}

type statsService struct {
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	categories  repository.CategoryRepository
	progress    repository.ProgressRepository
	logger      zerolog.Logger
}

// NewStatsService constructs the statistics service.
func NewStatsService(submissions repository.SubmissionRepository, problems repository.ProblemRepository, categories repository.CategoryRepository, progress repository.ProgressRepository, logger zerolog.Logger) StatsService {
	return &statsService{
		submissions: submissions,
		problems:    problems,
		categories:  categories,
		progress:    progress,
		logger:      logger.With().Str("component", "stats_service").Logger(),
	}
}

// RefreshProblem averages every submission of the problem. Accuracy keeps one decimal,
// times are whole seconds and missing values become zero.
func (s *statsService) RefreshProblem(ctx context.Context, problemID uint) (repository.ProblemStats, error) {
	aggregate, err := s.submissions.ProblemAggregate(ctx, problemID)
	if err != nil {
		return repository.ProblemStats{}, fmt.Errorf("aggregate problem %d: %w", problemID, err)
	}

	stats := repository.ProblemStats{
		AvgAccuracy:       roundTenth(valueOrZero(aggregate.AvgAccuracy)),
		AvgTotalSolveTime: roundInt(aggregate.AvgTotalSolveTime),
		AvgUnderstandTime: roundInt(aggregate.AvgUnderstandTime),
		AvgSolveTime:      roundInt(aggregate.AvgSolveTime),
		AvgReviewTime:     roundInt(aggregate.AvgReviewTime),
	}

	if err := s.problems.UpdateStats(ctx, problemID, stats); err != nil {
		return repository.ProblemStats{}, fmt.Errorf("update problem %d stats: %w", problemID, err)
	}
	return stats, nil
}

func (s *statsService) RefreshUserCategory(ctx context.Context, userID, categoryID uint) (models.UserCategoryProgress, error) {
	aggregate, err := s.submissions.UserCategoryAggregate(ctx, userID, categoryID)
	if err != nil {
		return models.UserCategoryProgress{}, fmt.Errorf("aggregate user category: %w", err)
	}
	total, err := s.problems.CountByCategory(ctx, categoryID)
	if err != nil {
		return models.UserCategoryProgress{}, fmt.Errorf("count category problems: %w", err)
	}

	progressRate := roundTenth(percent(aggregate.SolvedProblems, total))
	testAccuracy := roundTenth(percent(aggregate.Correct, aggregate.Submissions))

	progress := models.UserCategoryProgress{
		UserID:       userID,
		CategoryID:   categoryID,
		SolveTime:    int(aggregate.TotalSolveTime),
		ProgressRate: &progressRate,
		TestAccuracy: &testAccuracy,
	}
	if err := s.progress.Save(ctx, &progress); err != nil {
		return models.UserCategoryProgress{}, fmt.Errorf("save user category progress: %w", err)
	}
	return progress, nil
}

func (s *statsService) RefreshCategory(ctx context.Context, categoryID uint) (float64, error) {
	accuracy, err := s.submissions.CategoryAccuracy(ctx, categoryID)
	if err != nil {
		return 0, fmt.Errorf("aggregate category %d: %w", categoryID, err)
	}

	value := roundTenth(valueOrZero(accuracy))
	if err := s.categories.UpdateAvgAccuracy(ctx, categoryID, value); err != nil {
		return 0, fmt.Errorf("update category %d accuracy: %w", categoryID, err)
	}
	return value, nil
}

func percent(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

func roundTenth(value float64) float64 {
	return math.Round(value*10) / 10
}

func roundInt(value *float64) int {
	if value == nil {
		return 0
	}
	return int(math.Round(*value))
}

func valueOrZero(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}
