package models

import "time"

// Analysis states reported to polling clients.
const (
	AnalysisStatusProcessing = "processing"
	AnalysisStatusCompleted  = "completed"
	AnalysisStatusFailed     = "failed"
)

// Submission is one attempt by a user at a problem.
type Submission struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	UserID           uint             `gorm:"not null;index" json:"user_id"`
	ProblemID        uint             `gorm:"not null;index" json:"problem_id"`
	TotalSolveTime   *int             `json:"total_solve_time"`
	UnderstandTime   *int             `json:"understand_time"`
	SolveTime        *int             `json:"solve_time"`
	ReviewTime       *int             `json:"review_time"`
	AnswerImageURL   string           `gorm:"size:512" json:"answer_image_url"`
	FullStepImageURL string           `gorm:"size:512" json:"full_step_image_url"`
	AnswerConvert    *string          `gorm:"size:255" json:"answer_convert"`
	IsCorrect        *bool            `json:"is_correct"`
	AIAnalysis       *string          `gorm:"type:text" json:"ai_analysis"`
	Weakness         *string          `gorm:"type:text" json:"weakness"`
	EngineUsed       string           `gorm:"size:50" json:"engine_used"`
	AnalysisFailed   *bool            `json:"analysis_failed"`
	CreatedAt        time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Problem          Problem          `gorm:"constraint:OnDelete:CASCADE" json:"problem"`
	Steps            []SubmissionStep `gorm:"constraint:OnDelete:CASCADE" json:"steps"`
}

// AnalysisStatus derives the polling status from the analysis columns.
func (s Submission) AnalysisStatus() string {
	if s.AnalysisFailed != nil && *s.AnalysisFailed {
		return AnalysisStatusFailed
	}
	if s.AIAnalysis != nil && *s.AIAnalysis != "" && s.Weakness != nil && *s.Weakness != "" {
		return AnalysisStatusCompleted
	}
	return AnalysisStatusProcessing
}

// SubmissionStep is one intermediate step image of a submission.
type SubmissionStep struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uint      `gorm:"not null;index" json:"submission_id"`
	StepNumber   int       `gorm:"not null" json:"step_number"`
	StepTime     *int      `json:"step_time"`
	FileName     string    `gorm:"size:255" json:"file_name"`
	StepImageURL string    `gorm:"size:512" json:"step_image_url"`
	IsValid      *bool     `json:"is_valid"`
	Latex        *string   `gorm:"type:text" json:"latex"`
	CurrentLatex *string   `gorm:"type:text" json:"current_latex"`
	StepFeedback *string   `gorm:"type:text" json:"step_feedback"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
