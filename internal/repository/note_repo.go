package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// ErrUnknownFolderType is returned for folder fields other than favourite and wrong note.
var ErrUnknownFolderType = errors.New("unknown folder type")

// FolderColumn maps a folder type to the user_problems column that references it.
func FolderColumn(folderType int) (string, error) {
	switch folderType {
	case models.FolderTypeFavorite:
		return "favorite_folder_id", nil
	case models.FolderTypeWrongNote:
		return "wrong_note_folder_id", nil
	default:
		return "", ErrUnknownFolderType
	}
}

// NoteFolderRepository manages note folders.
type NoteFolderRepository interface {
	VisibleTo(ctx context.Context, userID uint, folderType *int) ([]models.NoteFolder, error)
	GetByID(ctx context.Context, id uint) (models.NoteFolder, error)
	FindCategoryFolder(ctx context.Context, categoryID uint, folderType int) (models.NoteFolder, error)
	Create(ctx context.Context, folder *models.NoteFolder) error
	Rename(ctx context.Context, id uint, name string) error
	Reorder(ctx context.Context, folder models.NoteFolder, newOrder int) error
	Delete(ctx context.Context, id uint) error
}

type noteFolderRepository struct {
	db *gorm.DB
}

// NewNoteFolderRepository creates a folder repository.
func NewNoteFolderRepository(db *gorm.DB) NoteFolderRepository {
	return &noteFolderRepository{db: db}
}

func (r *noteFolderRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.NoteFolder{})
}

// VisibleTo returns the user's folders, optionally of one type, plus every common folder.
func (r *noteFolderRepository) VisibleTo(ctx context.Context, userID uint, folderType *int) ([]models.NoteFolder, error) {
	query := r.baseQuery(ctx)
	if folderType != nil {
		query = query.Where("(user_id = ? AND type = ?) OR user_id IS NULL", userID, *folderType)
	} else {
		query = query.Where("user_id = ? OR user_id IS NULL", userID)
	}

	var folders []models.NoteFolder
	if err := query.Order("sort_order ASC").Order("id ASC").Find(&folders).Error; err != nil {
		return nil, err
	}
	return folders, nil
}

func (r *noteFolderRepository) GetByID(ctx context.Context, id uint) (models.NoteFolder, error) {
	var folder models.NoteFolder
	if err := r.baseQuery(ctx).First(&folder, id).Error; err != nil {
		return models.NoteFolder{}, err
	}
	return folder, nil
}

func (r *noteFolderRepository) FindCategoryFolder(ctx context.Context, categoryID uint, folderType int) (models.NoteFolder, error) {
	var folder models.NoteFolder
	if err := r.baseQuery(ctx).
		Where("category_id = ? AND type = ?", categoryID, folderType).
		Order("id ASC").
		First(&folder).Error; err != nil {
		return models.NoteFolder{}, err
	}
	return folder, nil
}

// Create appends the folder after its existing siblings.
func (r *noteFolderRepository) Create(ctx context.Context, folder *models.NoteFolder) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		siblings := tx.Model(&models.NoteFolder{}).Where("user_id = ?", folder.UserID)
		if folder.ParentID != nil {
			siblings = siblings.Where("parent_id = ?", *folder.ParentID)
		} else {
			siblings = siblings.Where("parent_id IS NULL")
		}

		var result struct {
			MaxOrder *int `gorm:"column:max_order"`
		}
		if err := siblings.Select("MAX(sort_order) AS max_order").Scan(&result).Error; err != nil {
			return err
		}

		folder.SortOrder = 0
		if result.MaxOrder != nil {
			folder.SortOrder = *result.MaxOrder + 1
		}
		return tx.Create(folder).Error
	})
}

func (r *noteFolderRepository) Rename(ctx context.Context, id uint, name string) error {
	return r.baseQuery(ctx).Where("id = ?", id).Update("name", name).Error
}

// Reorder moves the folder to newOrder and shifts the siblings in between.
func (r *noteFolderRepository) Reorder(ctx context.Context, folder models.NoteFolder, newOrder int) error {
	original := folder.SortOrder
	if original == newOrder {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		siblings := tx.Model(&models.NoteFolder{}).
			Where("user_id = ? AND id <> ?", folder.UserID, folder.ID)
		if folder.ParentID != nil {
			siblings = siblings.Where("parent_id = ?", *folder.ParentID)
		} else {
			siblings = siblings.Where("parent_id IS NULL")
		}

		var shift *gorm.DB
		if newOrder < original {
			shift = siblings.
				Where("sort_order >= ? AND sort_order < ?", newOrder, original).
				Update("sort_order", gorm.Expr("sort_order + 1"))
		} else {
			shift = siblings.
				Where("sort_order > ? AND sort_order <= ?", original, newOrder).
				Update("sort_order", gorm.Expr("sort_order - 1"))
		}
		if shift.Error != nil {
			return fmt.Errorf("shift sibling folders: %w", shift.Error)
		}

		return tx.Model(&models.NoteFolder{}).Where("id = ?", folder.ID).Update("sort_order", newOrder).Error
	})
}

// Delete removes the folder and clears any problem references to it.
func (r *noteFolderRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, column := range []string{"favorite_folder_id", "wrong_note_folder_id"} {
			if err := tx.Model(&models.UserProblem{}).Where(column+" = ?", id).Update(column, nil).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.NoteFolder{}, id).Error
	})
}

// NoteContentRepository stores handwriting for user problems.
type NoteContentRepository interface {
	GetByUserProblem(ctx context.Context, userProblemID uint) (models.NoteContent, error)
	Upsert(ctx context.Context, content *models.NoteContent) error
}

type noteContentRepository struct {
	db *gorm.DB
}

// NewNoteContentRepository creates a note content repository.
func NewNoteContentRepository(db *gorm.DB) NoteContentRepository {
	return &noteContentRepository{db: db}
}

func (r *noteContentRepository) GetByUserProblem(ctx context.Context, userProblemID uint) (models.NoteContent, error) {
	var content models.NoteContent
	if err := r.db.WithContext(ctx).Where("user_problem_id = ?", userProblemID).First(&content).Error; err != nil {
		return models.NoteContent{}, err
	}
	return content, nil
}

func (r *noteContentRepository) Upsert(ctx context.Context, content *models.NoteContent) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_problem_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"solution_strokes", "concept_strokes", "updated_at"}),
	}).Create(content).Error
}
