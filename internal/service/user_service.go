package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/repository"
)

// UserService exposes the current user's profile and progress.
type UserService interface {
	Profile(ctx context.Context, userID uint) (dto.UserProfileResponse, error)
	CategoryStats(ctx context.Context, userID, categoryID uint) (dto.CategoryStatsResponse, error)
}

type userService struct {
	users    repository.UserRepository
	progress repository.ProgressRepository
	logger   zerolog.Logger
}

// NewUserService constructs the user service.
func NewUserService(users repository.UserRepository, progress repository.ProgressRepository, logger zerolog.Logger) UserService {
	return &userService{
		users:    users,
		progress: progress,
		logger:   logger.With().Str("component", "user_service").Logger(),
	}
}

func (s *userService) Profile(ctx context.Context, userID uint) (dto.UserProfileResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.UserProfileResponse{}, ErrUserNotFound
		}
		return dto.UserProfileResponse{}, err
	}
	return dto.NewUserProfileResponse(user), nil
}

// CategoryStats returns an all-null document when the user has no progress in the category.
func (s *userService) CategoryStats(ctx context.Context, userID, categoryID uint) (dto.CategoryStatsResponse, error) {
	progress, err := s.progress.Get(ctx, userID, categoryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CategoryStatsResponse{}, nil
		}
		return dto.CategoryStatsResponse{}, err
	}
	return dto.NewCategoryStatsResponse(progress), nil
}
