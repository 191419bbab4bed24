package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/repository"
)

func TestCategoryTreeIsCached(t *testing.T) {
	db := setupServiceDB(t)
	f := seedCatalog(t, db)
	cache, mr := setupRedis(t)
	svc := NewCategoryService(repository.NewCategoryRepository(db), cache, 0, testLogger())
	ctx := context.Background()

	tree, err := svc.Tree(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, f.subject.ID, tree[0].ID)
	require.Len(t, tree[0].Children, 1)
	require.Len(t, tree[0].Children[0].Children, 1)
	assert.Equal(t, "Power rules", tree[0].Children[0].Children[0].Name)
	assert.Empty(t, tree[0].Children[0].Children[0].Children)
	assert.True(t, mr.Exists(categoryTreeCacheKey))

	require.NoError(t, db.Create(&models.Category{Type: 1, Name: "Math II"}).Error)
	cached, err := svc.Tree(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	svc.InvalidateTree(ctx)
	fresh, err := svc.Tree(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestCategoryAncestors(t *testing.T) {
	db := setupServiceDB(t)
	f := seedCatalog(t, db)
	svc := NewCategoryService(repository.NewCategoryRepository(db), nil, 0, testLogger())

	hierarchy, err := svc.Ancestors(context.Background(), f.section.ID)
	require.NoError(t, err)
	assert.Equal(t, f.section.ID, hierarchy.ID)
	require.NotNil(t, hierarchy.Parent)
	assert.Equal(t, "Exponents", hierarchy.Parent.Name)
	require.NotNil(t, hierarchy.Parent.Parent)
	assert.Equal(t, f.subject.ID, hierarchy.Parent.Parent.ID)
	assert.Nil(t, hierarchy.Parent.Parent.Parent)

	_, err = svc.Ancestors(context.Background(), 9999)
	require.ErrorIs(t, err, ErrCategoryNotFound)
}

func TestBuildCategoryTreeDropsOrphans(t *testing.T) {
	missing := uint(77)
	tree := buildCategoryTree([]models.Category{
		{ID: 1, Name: "root", Type: 1},
		{ID: 2, Name: "orphan", Type: 2, ParentID: &missing},
	})
	require.Len(t, tree, 1)
	assert.Empty(t, tree[0].Children)
}

func TestProblemService(t *testing.T) {
	db := setupServiceDB(t)
	f := seedCatalog(t, db)
	submissions := repository.NewSubmissionRepository(db)
	svc := NewProblemService(repository.NewProblemRepository(db), repository.NewCategoryRepository(db), submissions, testLogger())
	ctx := context.Background()

	problem, err := svc.Get(ctx, f.problem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ssen Math", problem.Book.BookName)
	assert.JSONEq(t, `["6","8"]`, string(problem.Choice))

	_, err = svc.Get(ctx, 9999)
	require.ErrorIs(t, err, ErrProblemNotFound)

	listed, err := svc.ListByCategory(ctx, f.section.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 1, listed[0].InnerNo)

	_, err = svc.ListByCategory(ctx, 9999)
	require.ErrorIs(t, err, ErrCategoryNotFound)

	for i := 0; i < 2; i++ {
		require.NoError(t, submissions.Create(ctx, &models.Submission{UserID: f.student.ID, ProblemID: f.problem.ID}))
	}
	require.NoError(t, submissions.Create(ctx, &models.Submission{UserID: f.other.ID, ProblemID: f.problem.ID}))

	ids, err := svc.SubmissionIDs(ctx, f.student.ID, f.problem.ID)
	require.NoError(t, err)
	require.Len(t, ids.SubmissionIDs, 2)
	assert.Greater(t, ids.SubmissionIDs[0], ids.SubmissionIDs[1])
}

func TestConceptQuizzes(t *testing.T) {
	db := setupServiceDB(t)
	f := seedCatalog(t, db)
	svc := NewConceptService(repository.NewConceptRepository(db), newValidator(), testLogger())
	ctx := context.Background()

	_, err := svc.CategoryQuizzes(ctx, f.section.ID)
	require.ErrorIs(t, err, ErrConceptsNotFound)

	concept := models.Concept{CategoryID: f.section.ID, Title: "Power of a power"}
	require.NoError(t, db.Create(&concept).Error)
	quiz := models.ConceptQuiz{ConceptID: concept.ID, Content: "(a^m)^n = a^{__ __}", Order: intPtr(1)}
	require.NoError(t, db.Create(&quiz).Error)
	for _, blank := range []models.ConceptQuizBlank{
		{ConceptQuizID: quiz.ID, BlankIndex: 0, AnswerIndex: 1, Choice: datatypes.JSON(`["m+n","mn"]`)},
		{ConceptQuizID: quiz.ID, BlankIndex: 1, AnswerIndex: 0, Choice: datatypes.JSON(`["x","y"]`)},
	} {
		b := blank
		require.NoError(t, db.Create(&b).Error)
	}

	listed, err := svc.CategoryQuizzes(ctx, f.section.ID)
	require.NoError(t, err)
	require.Len(t, listed.Concepts, 1)
	require.Len(t, listed.Concepts[0].Quizzes, 1)
	assert.Len(t, listed.Concepts[0].Quizzes[0].Blanks, 2)

	graded, err := svc.SubmitQuiz(ctx, f.student.ID, quiz.ID, dto.QuizSubmissionRequest{Answers: []dto.QuizAnswer{{BlankIndex: 0, AnswerIndex: 1}, {BlankIndex: 1, AnswerIndex: 0}}})
	require.NoError(t, err)
	assert.True(t, graded.IsCorrect)
	assert.NotZero(t, graded.QuizSubmissionID)

	graded, err = svc.SubmitQuiz(ctx, f.student.ID, quiz.ID, dto.QuizSubmissionRequest{Answers: []dto.QuizAnswer{{BlankIndex: 0, AnswerIndex: 1}}})
	require.NoError(t, err)
	assert.False(t, graded.IsCorrect)

	_, err = svc.SubmitQuiz(ctx, f.student.ID, 9999, dto.QuizSubmissionRequest{Answers: []dto.QuizAnswer{{BlankIndex: 0, AnswerIndex: 0}}})
	require.ErrorIs(t, err, ErrQuizNotFound)

	_, err = svc.SubmitQuiz(ctx, f.student.ID, quiz.ID, dto.QuizSubmissionRequest{})
	require.Error(t, err)
}

func TestGradeQuizRequiresEveryBlank(t *testing.T) {
	blanks := []models.ConceptQuizBlank{{BlankIndex: 0, AnswerIndex: 2}, {BlankIndex: 1, AnswerIndex: 0}}

	assert.True(t, gradeQuiz(blanks, []dto.QuizAnswer{{BlankIndex: 1, AnswerIndex: 0}, {BlankIndex: 0, AnswerIndex: 2}}))
	assert.False(t, gradeQuiz(blanks, []dto.QuizAnswer{{BlankIndex: 0, AnswerIndex: 2}, {BlankIndex: 1, AnswerIndex: 1}}))
	assert.False(t, gradeQuiz(nil, []dto.QuizAnswer{{BlankIndex: 0, AnswerIndex: 0}}))
}

func TestStatsRefresh(t *testing.T) {
	db := setupServiceDB(t)
	f := seedCatalog(t, db)
	submissions := repository.NewSubmissionRepository(db)
	problems := repository.NewProblemRepository(db)
	progress := repository.NewProgressRepository(db)
	svc := NewStatsService(submissions, problems, repository.NewCategoryRepository(db), progress, testLogger())
	ctx := context.Background()

	for _, s := range []models.Submission{
		{UserID: f.student.ID, ProblemID: f.problem.ID, IsCorrect: boolPtr(true), TotalSolveTime: intPtr(100), SolveTime: intPtr(61)},
		{UserID: f.student.ID, ProblemID: f.problem.ID, IsCorrect: boolPtr(false), TotalSolveTime: intPtr(51), SolveTime: intPtr(30)},
		{UserID: f.student.ID, ProblemID: f.problem.ID, IsCorrect: boolPtr(false), TotalSolveTime: intPtr(30)},
		{UserID: f.student.ID, ProblemID: f.problem.ID, TotalSolveTime: intPtr(10)},
	} {
		sub := s
		require.NoError(t, submissions.Create(ctx, &sub))
	}

	stats, err := svc.RefreshProblem(ctx, f.problem.ID)
	require.NoError(t, err)
	assert.InDelta(t, 33.3, stats.AvgAccuracy, 0.0001)
	assert.Equal(t, 48, stats.AvgTotalSolveTime)
	assert.Equal(t, 46, stats.AvgSolveTime)
	assert.Equal(t, 0, stats.AvgReviewTime)

	stored, err := problems.GetByID(ctx, f.problem.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AvgAccuracy)
	assert.InDelta(t, 33.3, *stored.AvgAccuracy, 0.0001)

	row, err := svc.RefreshUserCategory(ctx, f.student.ID, f.section.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, *row.ProgressRate, 0.0001)
	assert.InDelta(t, 25.0, *row.TestAccuracy, 0.0001)
	assert.Equal(t, 191, row.SolveTime)

	accuracy, err := svc.RefreshCategory(ctx, f.section.ID)
	require.NoError(t, err)
	assert.InDelta(t, 33.3, accuracy, 0.0001)

	users := NewUserService(repository.NewUserRepository(db), progress, testLogger())
	categoryStats, err := users.CategoryStats(ctx, f.student.ID, f.section.ID)
	require.NoError(t, err)
	require.NotNil(t, categoryStats.Accuracy)
	assert.InDelta(t, 25.0, *categoryStats.Accuracy, 0.0001)
	assert.Equal(t, 191, *categoryStats.SolveTime)

	empty, err := users.CategoryStats(ctx, f.other.ID, f.section.ID)
	require.NoError(t, err)
	assert.Nil(t, empty.Accuracy)
	assert.Nil(t, empty.SolveTime)
}

func TestUserProfile(t *testing.T) {
	db := setupServiceDB(t)
	f := seedCatalog(t, db)
	svc := NewUserService(repository.NewUserRepository(db), repository.NewProgressRepository(db), testLogger())

	profile, err := svc.Profile(context.Background(), f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, "minji", profile.Nickname)
	assert.Equal(t, models.UserRoleStudent, profile.Role)

	_, err = svc.Profile(context.Background(), 9999)
	require.ErrorIs(t, err, ErrUserNotFound)
}
