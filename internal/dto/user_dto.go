package dto

import (
	"time"

	"gorm.io/datatypes"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// UserProfileResponse is the authenticated user's profile.
type UserProfileResponse struct {
	ID           uint      `json:"id"`
	Nickname     string    `json:"nickname"`
	ProfileImage string    `json:"profile_image"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// CategoryStatsResponse holds a user's progress in one category. Every field is null
// when the user has not solved anything there yet.
type CategoryStatsResponse struct {
	Accuracy      *float64 `json:"accuracy"`
	ProgressRate  *float64 `json:"progress_rate"`
	SolveTime     *int     `json:"solve_time"`
	ConceptRate   *float64 `json:"concept_rate"`
	Understanding *int     `json:"understanding"`
}

// NewUserProfileResponse converts a user model.
func NewUserProfileResponse(model models.User) UserProfileResponse {
	return UserProfileResponse{
		ID:           model.ID,
		Nickname:     model.Nickname,
		ProfileImage: model.ProfileImage,
		Role:         model.Role,
		CreatedAt:    model.CreatedAt,
	}
}

// NewCategoryStatsResponse converts a progress row.
func NewCategoryStatsResponse(model models.UserCategoryProgress) CategoryStatsResponse {
	solveTime := model.SolveTime
	return CategoryStatsResponse{
		Accuracy:      model.TestAccuracy,
		ProgressRate:  model.ProgressRate,
		SolveTime:     &solveTime,
		ConceptRate:   model.ConceptRate,
		Understanding: model.Understanding,
	}
}

// Scores are the weekly learning indicators sent to report generation.
type Scores struct {
	CorrectScore       float64 `json:"correct_score" validate:"gte=0,lte=100"`
	ParticipationScore float64 `json:"participation_score" validate:"gte=0,lte=100"`
	SpeedScore         float64 `json:"speed_score" validate:"gte=0,lte=100"`
	ReviewScore        float64 `json:"review_score" validate:"gte=0,lte=100"`
	SincerityScore     float64 `json:"sincerity_score" validate:"gte=0,lte=100"`
	ReflectionScore    float64 `json:"reflection_score" validate:"gte=0,lte=100"`
}

// ReportCreateRequest asks for a report generated from the given scores.
type ReportCreateRequest struct {
	Scores Scores `json:"scores" validate:"required"`
}

// ReportCreateResponse returns the id of a stored report.
type ReportCreateResponse struct {
	ReportID uint `json:"report_id"`
}

// ReportResponse is a stored learning report.
type ReportResponse struct {
	ReportID    uint           `json:"report_id"`
	AIDiagnosis string         `json:"ai_diagnosis"`
	StudyPlan   datatypes.JSON `json:"study_plan"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewReportResponse converts a report model.
func NewReportResponse(model models.UserReport) ReportResponse {
	return ReportResponse{
		ReportID:    model.ID,
		AIDiagnosis: model.AIDiagnosis,
		StudyPlan:   model.StudyPlan,
		CreatedAt:   model.CreatedAt,
	}
}
