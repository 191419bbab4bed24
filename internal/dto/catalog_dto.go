package dto

import (
	"gorm.io/datatypes"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// CategoryNode is one node of the curriculum tree.
type CategoryNode struct {
	ID       uint           `json:"id"`
	Name     string         `json:"name"`
	Type     int            `json:"type"`
	Children []CategoryNode `json:"children"`
}

// CategoryHierarchy describes a category together with its chain of parents.
type CategoryHierarchy struct {
	ID     uint               `json:"id"`
	Name   string             `json:"name"`
	Type   int                `json:"type"`
	Parent *CategoryHierarchy `json:"parent"`
}

// BookSummary names the workbook of a problem.
type BookSummary struct {
	BookName  string `json:"book_name"`
	Publisher string `json:"publisher"`
	Year      *int   `json:"year"`
}

// ProblemResponse is the public problem detail.
type ProblemResponse struct {
	ProblemID       uint           `json:"problem_id"`
	CategoryID      uint           `json:"category_id"`
	ProblemNo       string         `json:"problem_no"`
	InnerNo         int            `json:"inner_no"`
	Type            int            `json:"type"`
	Content         string         `json:"content"`
	Choice          datatypes.JSON `json:"choice"`
	ProblemImageURL string         `json:"problem_image_url"`
	AvgAccuracy     *float64       `json:"avg_accuracy"`
	Book            BookSummary    `json:"book"`
}

// ProblemSummary is a problem listed under a category.
type ProblemSummary struct {
	ProblemID   uint     `json:"problem_id"`
	ProblemNo   string   `json:"problem_no"`
	InnerNo     int      `json:"inner_no"`
	Type        int      `json:"type"`
	Content     string   `json:"content"`
	AvgAccuracy *float64 `json:"avg_accuracy"`
}

// NewProblemResponse converts a problem loaded with its book.
func NewProblemResponse(model models.Problem) ProblemResponse {
	return ProblemResponse{
		ProblemID:       model.ID,
		CategoryID:      model.CategoryID,
		ProblemNo:       model.ProblemNo,
		InnerNo:         model.InnerNo,
		Type:            model.Type,
		Content:         model.Content,
		Choice:          model.Choice,
		ProblemImageURL: model.ProblemImageURL,
		AvgAccuracy:     model.AvgAccuracy,
		Book: BookSummary{
			BookName:  model.Book.Name,
			Publisher: model.Book.Publisher,
			Year:      model.Book.Year,
		},
	}
}

// NewProblemSummaries converts problems for category listings.
func NewProblemSummaries(items []models.Problem) []ProblemSummary {
	summaries := make([]ProblemSummary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, ProblemSummary{
			ProblemID:   item.ID,
			ProblemNo:   item.ProblemNo,
			InnerNo:     item.InnerNo,
			Type:        item.Type,
			Content:     item.Content,
			AvgAccuracy: item.AvgAccuracy,
		})
	}
	return summaries
}
