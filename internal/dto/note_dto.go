package dto

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// FolderNode is a note folder with its children and the number of problems filed under it.
type FolderNode struct {
	ID           uint          `json:"id"`
	Name         string        `json:"name"`
	Type         int           `json:"type"`
	ProblemCount int           `json:"problem_count"`
	Children     []*FolderNode `json:"children"`
	ParentID     *uint         `json:"parent_id"`
}

// FolderCreateRequest creates a folder under an optional parent.
type FolderCreateRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Type     int    `json:"type" validate:"required,oneof=1 2"`
	ParentID *uint  `json:"parent_id" validate:"omitempty,gt=0"`
}

// FolderCreateResponse returns the id of a new folder.
type FolderCreateResponse struct {
	FolderID uint `json:"folder_id"`
}

// FolderRenameRequest renames a folder.
type FolderRenameRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// FolderReorderRequest moves a folder to a new position among its siblings.
type FolderReorderRequest struct {
	SortOrder *int `json:"sort_order" validate:"required,gte=0"`
}

// FolderProblemRequest files a problem into a folder.
type FolderProblemRequest struct {
	ProblemID uint `json:"problemId" validate:"required,gt=0"`
	FolderID  uint `json:"folderId" validate:"required,min=4"`
	Type      int  `json:"type" validate:"required"`
}

// FolderProblemRemoveRequest clears a problem's folder of the given type.
type FolderProblemRemoveRequest struct {
	ProblemID uint `json:"problemId" validate:"required,gt=0"`
	Type      int  `json:"type" validate:"required"`
}

// UserProblemResponse describes the folder placement of a user's problem.
type UserProblemResponse struct {
	ID                uint  `json:"id"`
	ProblemID         uint  `json:"problem_id"`
	FavoriteFolderID  *uint `json:"favorite_folder_id"`
	WrongNoteFolderID *uint `json:"wrong_note_folder_id"`
	TryCount          int   `json:"try_count"`
	CorrectCount      int   `json:"correct_count"`
	LastSubmissionID  *uint `json:"last_submission_id"`
}

// FolderProblemUser holds a user's attempt counters for a filed problem.
type FolderProblemUser struct {
	TryCount         int   `json:"try_count"`
	CorrectCount     int   `json:"correct_count"`
	LastSubmissionID *uint `json:"last_submission_id"`
}

// FolderProblemResponse is a problem listed inside a folder.
type FolderProblemResponse struct {
	ProblemID     uint              `json:"problem_id"`
	UserProblemID uint              `json:"user_problem_id"`
	CategoryName  string            `json:"category_name"`
	InnerNo       int               `json:"inner_no"`
	ProblemType   int               `json:"problem_type"`
	Content       string            `json:"content"`
	Choice        datatypes.JSON    `json:"choice"`
	User          FolderProblemUser `json:"user"`
}

// StrokePoint is one sampled pen position.
type StrokePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NoteStrokes holds the handwriting layers of a note.
type NoteStrokes struct {
	SolutionStrokes [][]StrokePoint `json:"solution_strokes" validate:"required"`
	ConceptStrokes  [][]StrokePoint `json:"concept_strokes" validate:"required"`
}

// NoteProblemDetail is the full review view of a problem in the notes.
type NoteProblemDetail struct {
	ProblemID           uint                     `json:"problem_id"`
	Content             string                   `json:"content"`
	Choice              datatypes.JSON           `json:"choice"`
	ProblemImageURL     string                   `json:"problem_image_url"`
	Answer              string                   `json:"answer"`
	Explanation         string                   `json:"explanation"`
	ExplanationImageURL string                   `json:"explanation_image_url"`
	InnerNo             int                      `json:"inner_no"`
	SolutionStrokes     json.RawMessage          `json:"solution_strokes"`
	ConceptStrokes      json.RawMessage          `json:"concept_strokes"`
	BookName            string                   `json:"book_name"`
	Publisher           string                   `json:"publisher"`
	Year                *int                     `json:"year"`
	Category            *CategoryHierarchy       `json:"category"`
	TotalSolveTime      *int                     `json:"total_solve_time"`
	UnderstandTime      *int                     `json:"understand_time"`
	SolveTime           *int                     `json:"solve_time"`
	ReviewTime          *int                     `json:"review_time"`
	AnswerConvert       *string                  `json:"answer_convert"`
	FullStepImageURL    *string                  `json:"full_step_image_url"`
	IsCorrect           *bool                    `json:"is_correct"`
	AIAnalysis          *string                  `json:"ai_analysis"`
	Weakness            *string                  `json:"weakness"`
	SubmittedAt         *time.Time               `json:"submitted_at"`
	SubmissionSteps     []SubmissionStepResponse `json:"submission_steps"`
}
