package models

import (
	"time"

	"gorm.io/datatypes"
)

// Book is the workbook a problem was taken from.
type Book struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Publisher string    `gorm:"size:255" json:"publisher"`
	Year      *int      `json:"year"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Category is a node in the curriculum tree (subject, unit, section).
type Category struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Type        int        `gorm:"not null" json:"type"`
	Name        string     `gorm:"size:255;not null" json:"name"`
	ParentID    *uint      `gorm:"index" json:"parent_id"`
	AvgAccuracy *float64   `json:"avg_accuracy"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Children    []Category `gorm:"foreignKey:ParentID" json:"children,omitempty"`
}

// Problem is a single exercise with its answer key and running statistics.
type Problem struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	CategoryID          uint           `gorm:"not null;index" json:"category_id"`
	BookID              uint           `gorm:"not null;index" json:"book_id"`
	ProblemNo           string         `gorm:"size:50" json:"problem_no"`
	InnerNo             int            `gorm:"not null" json:"inner_no"`
	Type                int            `gorm:"not null" json:"type"`
	Content             string         `gorm:"type:text;not null" json:"content"`
	Choice              datatypes.JSON `json:"choice"`
	ProblemImageURL     string         `gorm:"size:255" json:"problem_image_url"`
	Answer              string         `gorm:"size:255;not null" json:"answer"`
	Explanation         string         `gorm:"type:text" json:"explanation"`
	ExplanationImageURL string         `gorm:"size:255" json:"explanation_image_url"`
	AvgAccuracy         *float64       `json:"avg_accuracy"`
	AvgTotalSolveTime   *int           `json:"avg_total_solve_time"`
	AvgUnderstandTime   *int           `json:"avg_understand_time"`
	AvgSolveTime        *int           `json:"avg_solve_time"`
	AvgReviewTime       *int           `json:"avg_review_time"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	Category            Category       `json:"category"`
	Book                Book           `json:"book"`
}
