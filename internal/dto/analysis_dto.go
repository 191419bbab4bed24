package dto

// AnalysisStepRequest is one step image handed to the analysis job.
type AnalysisStepRequest struct {
	StepNumber   int    `json:"step_number" validate:"gte=1"`
	StepTime     *int   `json:"step_time" validate:"omitempty,gte=0"`
	StepImageURL string `json:"step_image_url" validate:"required"`
}

// AnalysisJobPayload is the body of an analysis.analyze job and of the analysis proxy request.
type AnalysisJobPayload struct {
	SubmissionID   uint                  `json:"submission_id" validate:"required,gt=0"`
	ProblemID      uint                  `json:"problem_id" validate:"required,gt=0"`
	AnswerImageURL string                `json:"answer_image_url" validate:"required"`
	Steps          []AnalysisStepRequest `json:"steps" validate:"dive"`
	TotalSolveTime *int                  `json:"total_solve_time" validate:"omitempty,gte=0"`
	UnderstandTime *int                  `json:"understand_time" validate:"omitempty,gte=0"`
	SolveTime      *int                  `json:"solve_time" validate:"omitempty,gte=0"`
	ReviewTime     *int                  `json:"review_time" validate:"omitempty,gte=0"`
}

// AnalysisEnqueueResponse acknowledges a queued analysis.
type AnalysisEnqueueResponse struct {
	JobID        string `json:"job_id"`
	SubmissionID uint   `json:"submission_id"`
	Status       string `json:"status"`
}

// OCRAnswerRequest asks the data service to transcribe an answer image.
type OCRAnswerRequest struct {
	AnswerImageURL string `json:"answer_image_url" validate:"required,url"`
}

// OCRAnswerResponse carries the transcribed answer.
type OCRAnswerResponse struct {
	AnswerConvert string `json:"answer_convert"`
}
