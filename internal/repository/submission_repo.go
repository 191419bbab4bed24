package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/models"
)

// ProblemAggregate holds raw averages over every submission of a problem.
type ProblemAggregate struct {
	AvgAccuracy       *float64 `gorm:"column:avg_accuracy"`
	AvgTotalSolveTime *float64 `gorm:"column:avg_total_solve_time"`
	AvgUnderstandTime *float64 `gorm:"column:avg_understand_time"`
	AvgSolveTime      *float64 `gorm:"column:avg_solve_time"`
	AvgReviewTime     *float64 `gorm:"column:avg_review_time"`
}

// UserCategoryAggregate summarises a user's submissions within one category.
type UserCategoryAggregate struct {
	Submissions    int64 `gorm:"column:submissions"`
	Correct        int64 `gorm:"column:correct"`
	SolvedProblems int64 `gorm:"column:solved_problems"`
	TotalSolveTime int64 `gorm:"column:total_solve_time"`
}

// WeeklyActivity counts the signals behind a user's learning scores for a period.
type WeeklyActivity struct {
	Problems             int64
	CorrectProblems      int64
	FastCorrect          int64
	Resubmissions        int64
	CorrectResubmissions int64
	NotedProblems        int64
	RetriedProblems      int64
}

// StepResult is the analysis outcome for one submission step.
type StepResult struct {
	StepNumber   int
	IsValid      *bool
	Feedback     *string
	Latex        *string
	CurrentLatex *string
}

// AnalysisWrite is the full analysis outcome written back to a submission.
type AnalysisWrite struct {
	AIAnalysis string
	Weakness   string
	Steps      []StepResult
}

// SubmissionRepository defines data operations for submissions and their steps.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	AttachFiles(ctx context.Context, id uint, answerURL, fullStepURL string, steps []models.SubmissionStep) error
	SetGrading(ctx context.Context, id uint, answerConvert *string, isCorrect *bool) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	ListIDs(ctx context.Context, userID, problemID uint) ([]uint, error)
	ProblemAggregate(ctx context.Context, problemID uint) (ProblemAggregate, error)
	CategoryAccuracy(ctx context.Context, categoryID uint) (*float64, error)
	UserCategoryAggregate(ctx context.Context, userID, categoryID uint) (UserCategoryAggregate, error)
	ApplyAnalysis(ctx context.Context, id uint, result AnalysisWrite) (bool, error)
	MarkAnalysisFailed(ctx context.Context, id uint) (bool, error)
	ReopenAnalysis(ctx context.Context, id uint) (bool, error)
	Discard(ctx context.Context, id uint) error
	WeeklyActivity(ctx context.Context, userID uint, since time.Time) (WeeklyActivity, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Submission{})
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit("Problem", "Steps").Create(submission).Error
}

// AttachFiles stores the uploaded image URLs and inserts the step rows.
func (r *submissionRepository) AttachFiles(ctx context.Context, id uint, answerURL, fullStepURL string, steps []models.SubmissionStep) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Submission{}).Where("id = ?", id).Updates(map[string]interface{}{
			"answer_image_url":    answerURL,
			"full_step_image_url": fullStepURL,
		}).Error; err != nil {
			return err
		}

		if len(steps) == 0 {
			return nil
		}
		for i := range steps {
			steps[i].SubmissionID = id
		}
		return tx.Create(&steps).Error
	})
}

func (r *submissionRepository) SetGrading(ctx context.Context, id uint, answerConvert *string, isCorrect *bool) error {
	return r.baseQuery(ctx).Where("id = ?", id).Updates(map[string]interface{}{
		"answer_convert": answerConvert,
		"is_correct":     isCorrect,
	}).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number ASC")
		}).
		Preload("Problem").
		First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) ListIDs(ctx context.Context, userID, problemID uint) ([]uint, error) {
	var ids []uint
	if err := r.baseQuery(ctx).
		Where("user_id = ? AND problem_id = ?", userID, problemID).
		Order("id DESC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *submissionRepository) ProblemAggregate(ctx context.Context, problemID uint) (ProblemAggregate, error) {
	var aggregate ProblemAggregate
	err := r.baseQuery(ctx).
		Select(`AVG(CASE WHEN is_correct IS NULL THEN NULL WHEN is_correct THEN 100.0 ELSE 0.0 END) AS avg_accuracy,
			AVG(total_solve_time) AS avg_total_solve_time,
			AVG(understand_time) AS avg_understand_time,
			AVG(solve_time) AS avg_solve_time,
			AVG(review_time) AS avg_review_time`).
		Where("problem_id = ?", problemID).
		Scan(&aggregate).Error
	return aggregate, err
}

func (r *submissionRepository) CategoryAccuracy(ctx context.Context, categoryID uint) (*float64, error) {
	var result struct {
		AvgAccuracy *float64 `gorm:"column:avg_accuracy"`
	}
	err := r.db.WithContext(ctx).
		Table("submissions AS s").
		Select("AVG(CASE WHEN s.is_correct THEN 100.0 ELSE 0.0 END) AS avg_accuracy").
		Joins("JOIN problems AS p ON p.id = s.problem_id").
		Where("p.category_id = ? AND s.is_correct IS NOT NULL", categoryID).
		Scan(&result).Error
	return result.AvgAccuracy, err
}

func (r *submissionRepository) UserCategoryAggregate(ctx context.Context, userID, categoryID uint) (UserCategoryAggregate, error) {
	var aggregate UserCategoryAggregate
	err := r.db.WithContext(ctx).
		Table("submissions AS s").
		Select(`COUNT(*) AS submissions,
			COALESCE(SUM(CASE WHEN s.is_correct THEN 1 ELSE 0 END), 0) AS correct,
			COUNT(DISTINCT s.problem_id) AS solved_problems,
			COALESCE(SUM(s.total_solve_time), 0) AS total_solve_time`).
		Joins("JOIN problems AS p ON p.id = s.problem_id").
		Where("s.user_id = ? AND p.category_id = ?", userID, categoryID).
		Scan(&aggregate).Error
	return aggregate, err
}

// ApplyAnalysis writes an analysis result unless one was already stored or the
// submission was flagged as failed. It reports whether the write happened.
func (r *submissionRepository) ApplyAnalysis(ctx context.Context, id uint, result AnalysisWrite) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&models.Submission{}).
			Where("id = ?", id).
			Where("ai_analysis IS NULL").
			Where("(analysis_failed IS NULL OR analysis_failed = ?)", false).
			Updates(map[string]interface{}{
				"ai_analysis": result.AIAnalysis,
				"weakness":    result.Weakness,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return nil
		}

		for _, step := range result.Steps {
			if err := tx.Model(&models.SubmissionStep{}).
				Where("submission_id = ? AND step_number = ?", id, step.StepNumber).
				Updates(map[string]interface{}{
					"is_valid":      step.IsValid,
					"step_feedback": step.Feedback,
					"latex":         step.Latex,
					"current_latex": step.CurrentLatex,
				}).Error; err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	return applied && err == nil, err
}

// MarkAnalysisFailed flags a submission whose analysis never completed.
func (r *submissionRepository) MarkAnalysisFailed(ctx context.Context, id uint) (bool, error) {
	update := r.baseQuery(ctx).
		Where("id = ? AND ai_analysis IS NULL", id).
		Update("analysis_failed", true)
	return update.RowsAffected > 0, update.Error
}

// ReopenAnalysis clears the failure flag so a re-run can store its result.
func (r *submissionRepository) ReopenAnalysis(ctx context.Context, id uint) (bool, error) {
	update := r.baseQuery(ctx).
		Where("id = ? AND ai_analysis IS NULL AND analysis_failed = ?", id, true).
		Update("analysis_failed", nil)
	return update.RowsAffected > 0, update.Error
}

// Discard removes a submission and its steps.
func (r *submissionRepository) Discard(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("submission_id = ?", id).Delete(&models.SubmissionStep{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Submission{}, id).Error
	})
}

func (r *submissionRepository) WeeklyActivity(ctx context.Context, userID uint, since time.Time) (WeeklyActivity, error) {
	var activity WeeklyActivity
	db := r.db.WithContext(ctx)

	window := func() *gorm.DB {
		return db.Table("submissions AS s").Where("s.user_id = ? AND s.created_at >= ?", userID, since)
	}

	if err := window().Distinct("s.problem_id").Count(&activity.Problems).Error; err != nil {
		return WeeklyActivity{}, err
	}
	if err := window().Where("s.is_correct = ?", true).Distinct("s.problem_id").Count(&activity.CorrectProblems).Error; err != nil {
		return WeeklyActivity{}, err
	}
	if err := window().
		Joins("JOIN problems AS p ON p.id = s.problem_id").
		Where("s.is_correct = ? AND s.solve_time < p.avg_solve_time", true).
		Count(&activity.FastCorrect).Error; err != nil {
		return WeeklyActivity{}, err
	}

	var total int64
	if err := window().Count(&total).Error; err != nil {
		return WeeklyActivity{}, err
	}
	activity.Resubmissions = total - activity.Problems

	firsts := db.Table("submissions AS f").
		Select("MIN(f.id)").
		Where("f.user_id = ? AND f.created_at >= ?", userID, since).
		Group("f.problem_id")
	if err := window().
		Where("s.is_correct = ?", true).
		Where("s.id NOT IN (?)", firsts).
		Count(&activity.CorrectResubmissions).Error; err != nil {
		return WeeklyActivity{}, err
	}

	if err := db.Table("user_problems AS up").
		Joins("JOIN note_contents AS nc ON nc.user_problem_id = up.id").
		Where("up.user_id = ? AND nc.created_at >= ?", userID, since).
		Count(&activity.NotedProblems).Error; err != nil {
		return WeeklyActivity{}, err
	}

	retried := window().Select("s.problem_id").Group("s.problem_id").Having("COUNT(*) > 1")
	if err := db.Table("(?) AS retried", retried).Count(&activity.RetriedProblems).Error; err != nil {
		return WeeklyActivity{}, err
	}

	return activity, nil
}
