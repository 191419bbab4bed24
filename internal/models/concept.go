package models

import (
	"time"

	"gorm.io/datatypes"
)

// Concept groups explanatory material and fill-in-the-blank quizzes for a category.
type Concept struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CategoryID  uint           `gorm:"not null;index" json:"category_id"`
	Title       string         `gorm:"size:255;not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Order       int            `gorm:"column:display_order;default:0" json:"order"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Images      []ConceptImage `json:"images,omitempty"`
	Quizzes     []ConceptQuiz  `json:"quizzes,omitempty"`
}

// ConceptImage is an illustration attached to a concept.
type ConceptImage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ConceptID uint      `gorm:"not null;index" json:"concept_id"`
	ImageURL  string    `gorm:"size:255;not null" json:"image_url"`
	Order     int       `gorm:"column:display_order;default:0" json:"order"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConceptQuiz is a sentence with one or more blanks.
type ConceptQuiz struct {
	ID        uint               `gorm:"primaryKey" json:"id"`
	ConceptID uint               `gorm:"not null;index" json:"concept_id"`
	Content   string             `gorm:"type:text;not null" json:"content"`
	Order     *int               `gorm:"column:display_order" json:"order"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Blanks    []ConceptQuizBlank `json:"blanks,omitempty"`
}

// ConceptQuizBlank is one blank of a quiz together with its choices and answer.
type ConceptQuizBlank struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	ConceptQuizID uint           `gorm:"not null;index" json:"concept_quiz_id"`
	BlankIndex    int            `gorm:"not null" json:"blank_index"`
	AnswerIndex   int            `gorm:"not null" json:"answer_index"`
	Choice        datatypes.JSON `json:"choice"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ConceptQuizSubmission records a user's answers for a quiz.
type ConceptQuizSubmission struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UserID        uint           `gorm:"not null;index" json:"user_id"`
	ConceptQuizID uint           `gorm:"not null;index" json:"concept_quiz_id"`
	IsCorrect     bool           `json:"is_correct"`
	Answers       datatypes.JSON `json:"answers"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
