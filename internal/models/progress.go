package models

import (
	"time"

	"gorm.io/datatypes"
)

// UserProblem aggregates a user's attempts at one problem and its folder placement.
type UserProblem struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"not null;uniqueIndex:idx_user_problem" json:"user_id"`
	ProblemID         uint      `gorm:"not null;uniqueIndex:idx_user_problem" json:"problem_id"`
	WrongNoteFolderID *uint     `gorm:"index" json:"wrong_note_folder_id"`
	FavoriteFolderID  *uint     `gorm:"index" json:"favorite_folder_id"`
	TryCount          int       `gorm:"not null;default:0" json:"try_count"`
	CorrectCount      int       `gorm:"not null;default:0" json:"correct_count"`
	LastSubmissionID  *uint     `json:"last_submission_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Problem           Problem   `json:"problem"`
}

// UserCategoryProgress holds a user's derived statistics for one category.
type UserCategoryProgress struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;uniqueIndex:idx_user_category" json:"user_id"`
	CategoryID    uint      `gorm:"not null;uniqueIndex:idx_user_category" json:"category_id"`
	SolveTime     int       `gorm:"not null;default:0" json:"solve_time"`
	ProgressRate  *float64  `json:"progress_rate"`
	TestAccuracy  *float64  `json:"test_accuracy"`
	Understanding *int      `json:"understanding"`
	ConceptRate   *float64  `json:"concept_rate"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UserReport is an AI-written learning diagnosis with a study plan.
type UserReport struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	AIDiagnosis string         `gorm:"type:text;not null" json:"ai_diagnosis"`
	StudyPlan   datatypes.JSON `json:"study_plan"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// UserScoreStat is a snapshot of the weekly learning scores fed into reports.
type UserScoreStat struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             uint      `gorm:"not null;index" json:"user_id"`
	CorrectScore       float64   `json:"correct_score"`
	ParticipationScore float64   `json:"participation_score"`
	SpeedScore         float64   `json:"speed_score"`
	ReviewScore        float64   `json:"review_score"`
	SincerityScore     float64   `json:"sincerity_score"`
	ReflectionScore    float64   `json:"reflection_score"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
