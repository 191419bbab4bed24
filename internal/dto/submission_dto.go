package dto

import (
	"time"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// SubmissionFileRef points at one of the uploaded files by its original name.
type SubmissionFileRef struct {
	FileName string `json:"file_name" validate:"required"`
}

// SubmissionStepInput describes a solving step sent with a submission.
type SubmissionStepInput struct {
	StepNumber int    `json:"step_number" validate:"gte=1"`
	StepTime   *int   `json:"step_time" validate:"omitempty,gte=0"`
	FileName   string `json:"file_name" validate:"required"`
}

// SubmissionCreateRequest is decoded from the multipart submission form.
type SubmissionCreateRequest struct {
	UserID         uint                  `validate:"required,gt=0"`
	ProblemID      uint                  `form:"problem_id" validate:"required,gt=0"`
	Answer         SubmissionFileRef     `validate:"required"`
	FullStep       *SubmissionFileRef    `validate:"omitempty"`
	Steps          []SubmissionStepInput `validate:"dive"`
	TotalSolveTime *int                  `validate:"omitempty,gte=0"`
	UnderstandTime *int                  `validate:"omitempty,gte=0"`
	SolveTime      *int                  `validate:"omitempty,gte=0"`
	ReviewTime     *int                  `validate:"omitempty,gte=0"`
}

// SubmissionCreateResponse summarises grading and the refreshed problem averages.
type SubmissionCreateResponse struct {
	SubmissionID      uint     `json:"submissionId"`
	IsCorrect         *bool    `json:"is_correct"`
	AvgAccuracy       *float64 `json:"avg_accuracy"`
	AvgTotalSolveTime *int     `json:"avg_total_solve_time"`
	AvgUnderstandTime *int     `json:"avg_understand_time"`
	AvgSolveTime      *int     `json:"avg_solve_time"`
	AvgReviewTime     *int     `json:"avg_review_time"`
}

// SubmissionStepResponse serialises one analysed step.
type SubmissionStepResponse struct {
	StepNumber       int     `json:"step_number"`
	StepImageURL     string  `json:"step_image_url"`
	StepTime         *int    `json:"step_time"`
	StepValid        *bool   `json:"step_valid"`
	StepFeedback     *string `json:"step_feedback"`
	StepLatex        *string `json:"step_latex"`
	StepCurrentLatex *string `json:"step_current_latex"`
}

// SubmissionTimes groups the solving durations in seconds.
type SubmissionTimes struct {
	TotalSolveTime *int `json:"total_solve_time"`
	UnderstandTime *int `json:"understand_time"`
	SolveTime      *int `json:"solve_time"`
	ReviewTime     *int `json:"review_time"`
}

// SubmissionExplanation carries the answer key of the submitted problem.
type SubmissionExplanation struct {
	Answer              string `json:"explanation_answer"`
	Description         string `json:"explanation_description"`
	ExplanationImageURL string `json:"explanation_image_url"`
}

// SubmissionAnalysisResponse is the polling document for a submission.
type SubmissionAnalysisResponse struct {
	SubmissionID     uint                     `json:"submissionId"`
	ProblemID        uint                     `json:"problem_id"`
	AnswerImageURL   string                   `json:"answer_image_url"`
	FullStepImageURL string                   `json:"full_step_image_url"`
	AnswerConvert    *string                  `json:"answer_convert"`
	IsCorrect        *bool                    `json:"is_correct"`
	Steps            []SubmissionStepResponse `json:"steps"`
	Time             SubmissionTimes          `json:"time"`
	Explanation      SubmissionExplanation    `json:"explanation"`
	AIAnalysis       *string                  `json:"ai_analysis"`
	Weakness         *string                  `json:"weakness"`
	Status           string                   `json:"status"`
	RetryAfter       *int                     `json:"retry_after,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

// Terminal reports whether clients can stop polling.
func (r SubmissionAnalysisResponse) Terminal() bool {
	return r.Status == models.AnalysisStatusCompleted || r.Status == models.AnalysisStatusFailed
}

// SubmissionIDsResponse lists a user's submissions for a problem, newest first.
type SubmissionIDsResponse struct {
	ProblemID     uint   `json:"problem_id"`
	SubmissionIDs []uint `json:"submission_ids"`
}

// NewSubmissionStepResponses converts step models into DTOs.
func NewSubmissionStepResponses(steps []models.SubmissionStep) []SubmissionStepResponse {
	responses := make([]SubmissionStepResponse, 0, len(steps))
	for _, step := range steps {
		responses = append(responses, SubmissionStepResponse{
			StepNumber:       step.StepNumber,
			StepImageURL:     step.StepImageURL,
			StepTime:         step.StepTime,
			StepValid:        step.IsValid,
			StepFeedback:     step.StepFeedback,
			StepLatex:        step.Latex,
			StepCurrentLatex: step.CurrentLatex,
		})
	}
	return responses
}

// NewSubmissionAnalysisResponse converts a submission with its steps and problem.
func NewSubmissionAnalysisResponse(model models.Submission, retryAfter int) SubmissionAnalysisResponse {
	response := SubmissionAnalysisResponse{
		SubmissionID:     model.ID,
		ProblemID:        model.ProblemID,
		AnswerImageURL:   model.AnswerImageURL,
		FullStepImageURL: model.FullStepImageURL,
		AnswerConvert:    model.AnswerConvert,
		IsCorrect:        model.IsCorrect,
		Steps:            NewSubmissionStepResponses(model.Steps),
		Time: SubmissionTimes{
			TotalSolveTime: model.TotalSolveTime,
			UnderstandTime: model.UnderstandTime,
			SolveTime:      model.SolveTime,
			ReviewTime:     model.ReviewTime,
		},
		Explanation: SubmissionExplanation{
			Answer:              model.Problem.Answer,
			Description:         model.Problem.Explanation,
			ExplanationImageURL: model.Problem.ExplanationImageURL,
		},
		AIAnalysis: model.AIAnalysis,
		Weakness:   model.Weakness,
		Status:     model.AnalysisStatus(),
		CreatedAt:  model.CreatedAt,
	}

	if response.Status == models.AnalysisStatusProcessing && retryAfter > 0 {
		response.RetryAfter = &retryAfter
	}

	return response
}
