package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// UserRepository defines persistence for users and their identity links.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (models.User, error)
	ListIDs(ctx context.Context) ([]uint, error)
	NicknameTaken(ctx context.Context, nickname string) (bool, error)
	FindAuthentication(ctx context.Context, provider, providerID string) (models.UserAuthentication, error)
	GetAuthentication(ctx context.Context, userID uint, provider string) (models.UserAuthentication, error)
	Register(ctx context.Context, user *models.User, auth *models.UserAuthentication, folders []models.NoteFolder) error
	UpdateRefreshToken(ctx context.Context, authID uint, token *string) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *userRepository) ListIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&models.User{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *userRepository) NicknameTaken(ctx context.Context, nickname string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("nickname = ?", nickname).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *userRepository) FindAuthentication(ctx context.Context, provider, providerID string) (models.UserAuthentication, error) {
	var auth models.UserAuthentication
	if err := r.db.WithContext(ctx).
		Preload("User").
		Where("provider = ? AND provider_id = ?", provider, providerID).
		First(&auth).Error; err != nil {
		return models.UserAuthentication{}, err
	}
	return auth, nil
}

func (r *userRepository) GetAuthentication(ctx context.Context, userID uint, provider string) (models.UserAuthentication, error) {
	var auth models.UserAuthentication
	if err := r.db.WithContext(ctx).
		Preload("User").
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&auth).Error; err != nil {
		return models.UserAuthentication{}, err
	}
	return auth, nil
}

// Register stores a new user, its identity link and its starter folders atomically.
func (r *userRepository) Register(ctx context.Context, user *models.User, auth *models.UserAuthentication, folders []models.NoteFolder) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Authentications").Create(user).Error; err != nil {
			return err
		}

		auth.UserID = user.ID
		if err := tx.Omit("User").Create(auth).Error; err != nil {
			return err
		}

		for i := range folders {
			folders[i].UserID = &user.ID
		}
		if len(folders) > 0 {
			if err := tx.Create(&folders).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *userRepository) UpdateRefreshToken(ctx context.Context, authID uint, token *string) error {
	return r.db.WithContext(ctx).
		Model(&models.UserAuthentication{}).
		Where("id = ?", authID).
		Update("refresh_token", token).Error
}
