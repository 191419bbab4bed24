package models

import (
	"time"

	"gorm.io/datatypes"
)

// Folder types.
const (
	FolderTypeFavorite  = 1
	FolderTypeWrongNote = 2
)

// NoteFolder organises a user's favourite and wrong-answer problems. Folders
// without an owner are common folders shared by every user.
type NoteFolder struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     *uint     `gorm:"index" json:"user_id"`
	CategoryID *uint     `gorm:"index" json:"category_id"`
	Type       int       `gorm:"not null" json:"type"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	ParentID   *uint     `gorm:"index" json:"parent_id"`
	SortOrder  int       `gorm:"default:0" json:"sort_order"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsFavoriteRoot reports whether the folder is a top-level favourites folder.
func (f NoteFolder) IsFavoriteRoot() bool {
	return f.Type == FolderTypeFavorite && f.ParentID == nil
}

// IsCommon reports whether the folder is shared by every user.
func (f NoteFolder) IsCommon() bool {
	return f.UserID == nil
}

// NoteContent stores handwriting strokes drawn over a problem in the note view.
type NoteContent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	UserProblemID   uint           `gorm:"not null;uniqueIndex" json:"user_problem_id"`
	SolutionStrokes datatypes.JSON `json:"solution_strokes"`
	ConceptStrokes  datatypes.JSON `json:"concept_strokes"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
