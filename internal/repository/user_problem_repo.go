package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// Attempt describes one graded submission folded into a user's problem record.
type Attempt struct {
	UserID       uint
	ProblemID    uint
	SubmissionID uint
	Correct      bool
	// WrongNoteFolderID is applied only when set.
	WrongNoteFolderID *uint
}

// UserProblemRepository manages per-user problem records.
type UserProblemRepository interface {
	Get(ctx context.Context, userID, problemID uint) (models.UserProblem, error)
	GetByID(ctx context.Context, id uint) (models.UserProblem, error)
	RecordAttempt(ctx context.Context, attempt Attempt) error
	SetFolder(ctx context.Context, id uint, column string, folderID *uint) error
	ListByFolder(ctx context.Context, userID uint, column string, folderID uint) ([]models.UserProblem, error)
	CountByFolders(ctx context.Context, userID uint, column string, folderIDs []uint) (map[uint]int, error)
}

type userProblemRepository struct {
	db *gorm.DB
}

// NewUserProblemRepository creates a user problem repository.
func NewUserProblemRepository(db *gorm.DB) UserProblemRepository {
	return &userProblemRepository{db: db}
}

func (r *userProblemRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.UserProblem{})
}

func (r *userProblemRepository) Get(ctx context.Context, userID, problemID uint) (models.UserProblem, error) {
	var record models.UserProblem
	if err := r.baseQuery(ctx).Where("user_id = ? AND problem_id = ?", userID, problemID).First(&record).Error; err != nil {
		return models.UserProblem{}, err
	}
	return record, nil
}

func (r *userProblemRepository) GetByID(ctx context.Context, id uint) (models.UserProblem, error) {
	var record models.UserProblem
	if err := r.baseQuery(ctx).
		Preload("Problem.Book").
		Preload("Problem.Category").
		First(&record, id).Error; err != nil {
		return models.UserProblem{}, err
	}
	return record, nil
}

// RecordAttempt inserts the record or bumps its counters in a single upsert.
func (r *userProblemRepository) RecordAttempt(ctx context.Context, attempt Attempt) error {
	correct := 0
	if attempt.Correct {
		correct = 1
	}

	submissionID := attempt.SubmissionID
	record := models.UserProblem{
		UserID:           attempt.UserID,
		ProblemID:        attempt.ProblemID,
		TryCount:         1,
		CorrectCount:     correct,
		LastSubmissionID: &submissionID,
	}

	updates := clause.Set{
		{Column: clause.Column{Name: "try_count"}, Value: gorm.Expr("user_problems.try_count + 1")},
		{Column: clause.Column{Name: "correct_count"}, Value: gorm.Expr("user_problems.correct_count + ?", correct)},
		{Column: clause.Column{Name: "last_submission_id"}, Value: submissionID},
		{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("CURRENT_TIMESTAMP")},
	}
	if attempt.WrongNoteFolderID != nil {
		record.WrongNoteFolderID = attempt.WrongNoteFolderID
		updates = append(updates, clause.Assignment{Column: clause.Column{Name: "wrong_note_folder_id"}, Value: *attempt.WrongNoteFolderID})
	}

	return r.db.WithContext(ctx).
		Omit("Problem").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "problem_id"}},
			DoUpdates: updates,
		}).
		Create(&record).Error
}

func (r *userProblemRepository) SetFolder(ctx context.Context, id uint, column string, folderID *uint) error {
	return r.baseQuery(ctx).Where("id = ?", id).Update(column, folderID).Error
}

func (r *userProblemRepository) ListByFolder(ctx context.Context, userID uint, column string, folderID uint) ([]models.UserProblem, error) {
	var records []models.UserProblem
	if err := r.baseQuery(ctx).
		Preload("Problem.Category").
		Where("user_id = ?", userID).
		Where(column+" = ?", folderID).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *userProblemRepository) CountByFolders(ctx context.Context, userID uint, column string, folderIDs []uint) (map[uint]int, error) {
	counts := make(map[uint]int, len(folderIDs))
	if len(folderIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		FolderID uint `gorm:"column:folder_id"`
		Total    int  `gorm:"column:total"`
	}
	if err := r.baseQuery(ctx).
		Select(column+" AS folder_id, COUNT(*) AS total").
		Where("user_id = ?", userID).
		Where(column+" IN ?", folderIDs).
		Group(column).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	for _, row := range rows {
		counts[row.FolderID] = row.Total
	}
	return counts, nil
}
