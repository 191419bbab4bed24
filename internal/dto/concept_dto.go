package dto

import (
	"gorm.io/datatypes"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// ConceptQuizBlankResponse is one blank of a concept quiz.
type ConceptQuizBlankResponse struct {
	BlankID     uint           `json:"blank_id"`
	BlankIndex  int            `json:"blank_index"`
	AnswerIndex int            `json:"answer_index"`
	Choice      datatypes.JSON `json:"choice"`
}

// ConceptQuizResponse is a quiz with its blanks ordered by index.
type ConceptQuizResponse struct {
	QuizID  uint                       `json:"quiz_id"`
	Content string                     `json:"content"`
	Order   *int                       `json:"order"`
	Blanks  []ConceptQuizBlankResponse `json:"blanks"`
}

// ConceptResponse is a concept with its quizzes.
type ConceptResponse struct {
	ConceptID uint                  `json:"concept_id"`
	Title     string                `json:"title"`
	Quizzes   []ConceptQuizResponse `json:"quizzes"`
}

// CategoryConceptsResponse lists the concepts of a category.
type CategoryConceptsResponse struct {
	CategoryID uint              `json:"category_id"`
	Concepts   []ConceptResponse `json:"concepts"`
}

// QuizAnswer selects a choice for one blank.
type QuizAnswer struct {
	BlankIndex  int `json:"blank_index" validate:"gte=0"`
	AnswerIndex int `json:"answer_index" validate:"gte=0"`
}

// QuizSubmissionRequest carries a user's answers for a quiz.
type QuizSubmissionRequest struct {
	Answers []QuizAnswer `json:"answers" validate:"required,min=1,dive"`
}

// QuizSubmissionResponse reports the grading of a quiz submission.
type QuizSubmissionResponse struct {
	IsCorrect        bool `json:"is_correct"`
	QuizSubmissionID uint `json:"quiz_submission_id"`
}

// NewCategoryConceptsResponse converts concepts loaded with quizzes and blanks.
func NewCategoryConceptsResponse(categoryID uint, concepts []models.Concept) CategoryConceptsResponse {
	response := CategoryConceptsResponse{CategoryID: categoryID, Concepts: make([]ConceptResponse, 0, len(concepts))}
	for _, concept := range concepts {
		quizzes := make([]ConceptQuizResponse, 0, len(concept.Quizzes))
		for _, quiz := range concept.Quizzes {
			blanks := make([]ConceptQuizBlankResponse, 0, len(quiz.Blanks))
			for _, blank := range quiz.Blanks {
				blanks = append(blanks, ConceptQuizBlankResponse{
					BlankID:     blank.ID,
					BlankIndex:  blank.BlankIndex,
					AnswerIndex: blank.AnswerIndex,
					Choice:      blank.Choice,
				})
			}
			quizzes = append(quizzes, ConceptQuizResponse{
				QuizID:  quiz.ID,
				Content: quiz.Content,
				Order:   quiz.Order,
				Blanks:  blanks,
			})
		}
		response.Concepts = append(response.Concepts, ConceptResponse{
			ConceptID: concept.ID,
			Title:     concept.Title,
			Quizzes:   quizzes,
		})
	}
	return response
}
