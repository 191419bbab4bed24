package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/queue"
	"github.com/souffle-edu/souffle-api/internal/repository"
	"github.com/souffle-edu/souffle-api/pkg/storage"
)

type submissionHarness struct {
	db       *gorm.DB
	catalog  catalog
	data     *fakeDataService
	store    *storage.Memory
	queue    *queue.Queue
	worker   *queue.Worker
	events   EventService
	service  SubmissionService
	analysis AnalysisService
	deps     SubmissionDeps
}

func newSubmissionHarness(t *testing.T, ocrAnswer string) *submissionHarness {
	t.Helper()

	db := setupServiceDB(t)
	fixtures := seedCatalog(t, db)
	fake, client := newFakeDataService(t, ocrAnswer)
	redisClient, _ := setupRedis(t)

	q := queue.New(redisClient, "analysis-test", queue.Options{Attempts: 3, Backoff: time.Millisecond, Timeout: time.Second})
	worker := queue.NewWorker(q, queue.WorkerConfig{Concurrency: 1}, testLogger())

	submissions := repository.NewSubmissionRepository(db)
	problems := repository.NewProblemRepository(db)
	categories := repository.NewCategoryRepository(db)
	events := NewEventService(nil, nil, "test", testLogger())

	analysis := NewAnalysisService(q, client, submissions, problems, events, newValidator(), testLogger())
	analysis.Register(worker)

	store := storage.NewMemory("https://cdn.example.com")
	deps := SubmissionDeps{
		Submissions:  submissions,
		Problems:     problems,
		UserProblems: repository.NewUserProblemRepository(db),
		Folders:      repository.NewNoteFolderRepository(db),
		Storage:      store,
		Converter:    client,
		Analysis:     analysis,
		Stats:        NewStatsService(submissions, problems, categories, repository.NewProgressRepository(db), testLogger()),
		Events:       events,
		Validator:    newValidator(),
		MaxFileMB:    1,
	}

	return &submissionHarness{
		db:       db,
		catalog:  fixtures,
		data:     fake,
		store:    store,
		queue:    q,
		worker:   worker,
		events:   events,
		service:  NewSubmissionService(deps, testLogger()),
		analysis: analysis,
		deps:     deps,
	}
}

// serviceWith builds a submission service sharing the harness collaborators except
// for what change replaces.
func (h *submissionHarness) serviceWith(change func(*SubmissionDeps)) SubmissionService {
	deps := h.deps
	change(&deps)
	return NewSubmissionService(deps, testLogger())
}

type failingStorage struct{}

func (failingStorage) Put(context.Context, storage.Object, io.Reader) (string, error) {
	return "", errors.New("bucket unreachable")
}

// failingStats refreshes nothing.
type failingStats struct {
	StatsService
}

func (failingStats) RefreshProblem(context.Context, uint) (repository.ProblemStats, error) {
	return repository.ProblemStats{}, errors.New("stats table locked")
}

func (failingStats) RefreshUserCategory(context.Context, uint, uint) (models.UserCategoryProgress, error) {
	return models.UserCategoryProgress{}, errors.New("stats table locked")
}

func (failingStats) RefreshCategory(context.Context, uint) (float64, error) {
	return 0, errors.New("stats table locked")
}

func (h *submissionHarness) request(problemID uint) dto.SubmissionCreateRequest {
	return dto.SubmissionCreateRequest{
		UserID:         h.catalog.student.ID,
		ProblemID:      problemID,
		Answer:         dto.SubmissionFileRef{FileName: "answer.png"},
		FullStep:       &dto.SubmissionFileRef{FileName: "full.png"},
		Steps:          []dto.SubmissionStepInput{{StepNumber: 1, StepTime: intPtr(20), FileName: "step1.png"}, {StepNumber: 2, StepTime: intPtr(40), FileName: "step2.png"}},
		TotalSolveTime: intPtr(120),
		UnderstandTime: intPtr(20),
		SolveTime:      intPtr(80),
		ReviewTime:     intPtr(20),
	}
}

func submissionFiles(t *testing.T) map[string][]byte {
	t.Helper()
	return map[string][]byte{
		"answer.png": pngHeader,
		"full.png":   pngHeader,
		"step1.png":  pngHeader,
		"step2.png":  pngHeader,
	}
}

// drain runs the worker until the queue is empty or the deadline passes.
func (h *submissionHarness) drain(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		processed, err := h.worker.ProcessNext(context.Background())
		require.NoError(t, err)
		if processed {
			continue
		}
		stats, err := h.queue.Stats(context.Background())
		require.NoError(t, err)
		if stats.Waiting == 0 && stats.Delayed == 0 && stats.Active == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("queue did not drain")
}

func TestSubmissionCreateGradesAnswerAndQueuesAnalysis(t *testing.T) {
	h := newSubmissionHarness(t, "8")
	ctx := context.Background()

	resp, err := h.service.Create(ctx, h.request(h.catalog.problem.ID), buildFileHeaders(t, submissionFiles(t)))
	require.NoError(t, err)
	require.NotZero(t, resp.SubmissionID)
	require.NotNil(t, resp.IsCorrect)
	assert.True(t, *resp.IsCorrect)
	require.NotNil(t, resp.AvgAccuracy)
	assert.InDelta(t, 100.0, *resp.AvgAccuracy, 0.001)
	assert.Equal(t, 120, *resp.AvgTotalSolveTime)
	assert.Len(t, h.store.Keys(), 4)

	polled, err := h.service.GetAnalysis(ctx, Viewer{UserID: h.catalog.student.ID}, resp.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusProcessing, polled.Status)
	require.NotNil(t, polled.RetryAfter)
	assert.Equal(t, PollRetryAfterSeconds, *polled.RetryAfter)
	require.NotNil(t, polled.AnswerConvert)
	assert.Equal(t, "8", *polled.AnswerConvert)
	require.Len(t, polled.Steps, 2)
	assert.Contains(t, polled.Steps[0].StepImageURL, "https://cdn.example.com/")
	assert.Equal(t, "8", polled.Explanation.Answer)

	record, err := repository.NewUserProblemRepository(h.db).Get(ctx, h.catalog.student.ID, h.catalog.problem.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, record.TryCount)
	assert.Equal(t, 1, record.CorrectCount)
	assert.Nil(t, record.WrongNoteFolderID)

	h.drain(t)

	polled, err = h.service.GetAnalysis(ctx, Viewer{UserID: h.catalog.student.ID}, resp.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusCompleted, polled.Status)
	assert.Nil(t, polled.RetryAfter)
	require.NotNil(t, polled.AIAnalysis)
	assert.Equal(t, "Solid grasp of powers", *polled.AIAnalysis)
	require.NotNil(t, polled.Steps[0].StepFeedback)
	assert.Equal(t, "good start", *polled.Steps[0].StepFeedback)
	require.NotNil(t, polled.Steps[1].StepValid)
	assert.False(t, *polled.Steps[1].StepValid)
	assert.Equal(t, int32(1), h.data.analysisCalls.Load())
}

func TestSubmissionCreateFilesWrongAnswerIntoCategoryFolder(t *testing.T) {
	h := newSubmissionHarness(t, "7")
	ctx := context.Background()

	resp, err := h.service.Create(ctx, h.request(h.catalog.problem.ID), buildFileHeaders(t, submissionFiles(t)))
	require.NoError(t, err)
	require.NotNil(t, resp.IsCorrect)
	assert.False(t, *resp.IsCorrect)
	assert.InDelta(t, 0.0, *resp.AvgAccuracy, 0.001)

	record, err := repository.NewUserProblemRepository(h.db).Get(ctx, h.catalog.student.ID, h.catalog.problem.ID)
	require.NoError(t, err)
	require.NotNil(t, record.WrongNoteFolderID)
	assert.Equal(t, h.catalog.wrong.ID, *record.WrongNoteFolderID)
	assert.Equal(t, 0, record.CorrectCount)
}

func TestSubmissionCreateLeavesGradeEmptyWhenOCRFails(t *testing.T) {
	h := newSubmissionHarness(t, "8")
	h.data.setAnswerStatus(http.StatusServiceUnavailable)
	ctx := context.Background()

	resp, err := h.service.Create(ctx, h.request(h.catalog.problem.ID), buildFileHeaders(t, submissionFiles(t)))
	require.NoError(t, err)
	assert.Nil(t, resp.IsCorrect)

	var stored models.Submission
	require.NoError(t, h.db.First(&stored, resp.SubmissionID).Error)
	assert.Nil(t, stored.IsCorrect)
	assert.Nil(t, stored.AnswerConvert)

	record, err := repository.NewUserProblemRepository(h.db).Get(ctx, h.catalog.student.ID, h.catalog.problem.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, record.TryCount)
	assert.Nil(t, record.WrongNoteFolderID)
}

func TestSubmissionCreateValidatesInput(t *testing.T) {
	h := newSubmissionHarness(t, "8")
	ctx := context.Background()

	_, err := h.service.Create(ctx, h.request(9999), buildFileHeaders(t, submissionFiles(t)))
	require.ErrorIs(t, err, ErrProblemNotFound)

	files := submissionFiles(t)
	delete(files, "step2.png")
	_, err = h.service.Create(ctx, h.request(h.catalog.problem.ID), buildFileHeaders(t, files))
	require.ErrorIs(t, err, ErrSubmissionFileMissing)

	files = submissionFiles(t)
	files["answer.png"] = []byte("not an image at all")
	_, err = h.service.Create(ctx, h.request(h.catalog.problem.ID), buildFileHeaders(t, files))
	require.ErrorIs(t, err, ErrUploadTypeNotAllowed)

	missingUser := h.request(h.catalog.problem.ID)
	missingUser.UserID = 0
	_, err = h.service.Create(ctx, missingUser, buildFileHeaders(t, submissionFiles(t)))
	require.Error(t, err)

	var count int64
	require.NoError(t, h.db.Model(&models.Submission{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubmissionCreateSurvivesQueueOutage(t *testing.T) {
	db := setupServiceDB(t)
	fixtures := seedCatalog(t, db)
	_, client := newFakeDataService(t, "8")
	redisClient, mr := setupRedis(t)
	mr.Close()

	q := queue.New(redisClient, "analysis-down", queue.Options{})
	submissions := repository.NewSubmissionRepository(db)
	problems := repository.NewProblemRepository(db)
	events := NewEventService(nil, nil, "test", testLogger())
	svc := NewSubmissionService(SubmissionDeps{
		Submissions:  submissions,
		Problems:     problems,
		UserProblems: repository.NewUserProblemRepository(db),
		Folders:      repository.NewNoteFolderRepository(db),
		Storage:      storage.NewMemory(""),
		Converter:    client,
		Analysis:     NewAnalysisService(q, client, submissions, problems, events, newValidator(), testLogger()),
		Stats:        NewStatsService(submissions, problems, repository.NewCategoryRepository(db), repository.NewProgressRepository(db), testLogger()),
		Events:       events,
		Validator:    newValidator(),
	}, testLogger())

	request := dto.SubmissionCreateRequest{
		UserID:    fixtures.student.ID,
		ProblemID: fixtures.problem.ID,
		Answer:    dto.SubmissionFileRef{FileName: "answer.png"},
	}
	stream, stop := events.Subscribe(1)
	defer stop()

	resp, err := svc.Create(context.Background(), request, buildFileHeaders(t, map[string][]byte{"answer.png": pngHeader}))
	require.NoError(t, err)
	require.NotNil(t, resp.IsCorrect)
	assert.True(t, *resp.IsCorrect)
	require.Equal(t, uint(1), resp.SubmissionID)

	polled, err := svc.GetAnalysis(context.Background(), Viewer{UserID: fixtures.student.ID}, resp.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusFailed, polled.Status)
	assert.Nil(t, polled.RetryAfter)

	seen := make([]string, 0, 2)
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case event := <-stream:
			seen = append(seen, event.Type)
		case <-timeout:
			t.Fatalf("expected created and failed events, got %v", seen)
		}
	}
	assert.Equal(t, []string{EventSubmissionCreated, EventAnalysisFailed}, seen)
}

func TestSubmissionCreateDiscardsRowWhenStorageFails(t *testing.T) {
	h := newSubmissionHarness(t, "8")
	svc := h.serviceWith(func(deps *SubmissionDeps) { deps.Storage = failingStorage{} })

	_, err := svc.Create(context.Background(), h.request(h.catalog.problem.ID), buildFileHeaders(t, submissionFiles(t)))
	require.Error(t, err)

	var submissions, steps int64
	require.NoError(t, h.db.Model(&models.Submission{}).Count(&submissions).Error)
	require.NoError(t, h.db.Model(&models.SubmissionStep{}).Count(&steps).Error)
	assert.Zero(t, submissions)
	assert.Zero(t, steps)

	stats, err := h.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting)
}

func TestSubmissionCreateSurvivesStatsFailure(t *testing.T) {
	h := newSubmissionHarness(t, "8")
	svc := h.serviceWith(func(deps *SubmissionDeps) { deps.Stats = failingStats{} })

	resp, err := svc.Create(context.Background(), h.request(h.catalog.problem.ID), buildFileHeaders(t, submissionFiles(t)))
	require.NoError(t, err)
	require.NotZero(t, resp.SubmissionID)
	assert.Nil(t, resp.AvgAccuracy)

	stats, err := h.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)

	h.drain(t)
	polled, err := svc.GetAnalysis(context.Background(), Viewer{UserID: h.catalog.student.ID}, resp.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusCompleted, polled.Status)
}

func TestSubmissionAnalysisIsScopedToOwner(t *testing.T) {
	h := newSubmissionHarness(t, "8")
	ctx := context.Background()

	resp, err := h.service.Create(ctx, h.request(h.catalog.problem.ID), buildFileHeaders(t, submissionFiles(t)))
	require.NoError(t, err)

	_, err = h.service.GetAnalysis(ctx, Viewer{UserID: h.catalog.other.ID}, resp.SubmissionID)
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	_, err = h.service.GetAnalysis(ctx, Viewer{UserID: h.catalog.other.ID, Admin: true}, resp.SubmissionID)
	require.NoError(t, err)

	_, err = h.service.GetAnalysis(ctx, Viewer{UserID: h.catalog.student.ID}, 4242)
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestAnalysisRetriesThenFlagsFailure(t *testing.T) {
	h := newSubmissionHarness(t, "8")
	h.data.analysisFails.Store(10)
	ctx := context.Background()

	resp, err := h.service.Create(ctx, h.request(h.catalog.problem.ID), buildFileHeaders(t, submissionFiles(t)))
	require.NoError(t, err)

	stream, stop := h.events.Subscribe(resp.SubmissionID)
	defer stop()

	h.drain(t)

	assert.Equal(t, int32(3), h.data.analysisCalls.Load())
	keys := h.data.idempotencyKeys()
	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[1], keys[2])

	polled, err := h.service.GetAnalysis(ctx, Viewer{UserID: h.catalog.student.ID}, resp.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusFailed, polled.Status)
	assert.Nil(t, polled.RetryAfter)

	select {
	case event := <-stream:
		assert.Equal(t, EventAnalysisFailed, event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected failure event")
	}

	failed, err := h.queue.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, JobAnalyzeSubmission, failed[0].Name)
}

func TestAnalysisManualRetryCompletesFailedSubmission(t *testing.T) {
	h := newSubmissionHarness(t, "8")
	h.data.analysisFails.Store(3)
	ctx := context.Background()

	resp, err := h.service.Create(ctx, h.request(h.catalog.problem.ID), buildFileHeaders(t, submissionFiles(t)))
	require.NoError(t, err)
	h.drain(t)

	polled, err := h.service.GetAnalysis(ctx, Viewer{UserID: h.catalog.student.ID}, resp.SubmissionID)
	require.NoError(t, err)
	require.Equal(t, models.AnalysisStatusFailed, polled.Status)

	failed, err := h.queue.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	stream, stop := h.events.Subscribe(resp.SubmissionID)
	defer stop()

	retried, err := h.queue.Retry(ctx, failed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Retries)
	h.drain(t)

	assert.Equal(t, int32(4), h.data.analysisCalls.Load())
	polled, err = h.service.GetAnalysis(ctx, Viewer{UserID: h.catalog.student.ID}, resp.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusCompleted, polled.Status)
	require.NotNil(t, polled.AIAnalysis)

	select {
	case event := <-stream:
		assert.Equal(t, EventAnalysisCompleted, event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected completion event")
	}

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Failed)
}

func TestAnalysisDuplicateResultIsIgnored(t *testing.T) {
	h := newSubmissionHarness(t, "8")
	ctx := context.Background()

	resp, err := h.service.Create(ctx, h.request(h.catalog.problem.ID), buildFileHeaders(t, submissionFiles(t)))
	require.NoError(t, err)
	h.drain(t)

	// A redelivered job must not overwrite the stored analysis.
	_, err = h.analysis.Enqueue(ctx, dto.AnalysisJobPayload{
		SubmissionID:   resp.SubmissionID,
		ProblemID:      h.catalog.problem.ID,
		AnswerImageURL: "https://cdn.example.com/answer.png",
	})
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&models.Submission{}).Where("id = ?", resp.SubmissionID).Update("weakness", "kept").Error)
	h.drain(t)

	var stored models.Submission
	require.NoError(t, h.db.First(&stored, resp.SubmissionID).Error)
	require.NotNil(t, stored.Weakness)
	assert.Equal(t, "kept", *stored.Weakness)

	// A late permanent failure cannot flip a completed submission either.
	h.analysis.HandleFailure(ctx, queue.Job{Name: JobAnalyzeSubmission, Payload: []byte(`{"submission_id":` + strconv.FormatUint(uint64(resp.SubmissionID), 10) + `,"problem_id":1}`)}, errors.New("late"))
	polled, err := h.service.GetAnalysis(ctx, Viewer{UserID: h.catalog.student.ID}, resp.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusCompleted, polled.Status)
}

func TestAnalysisProcessRejectsMalformedJobsPermanently(t *testing.T) {
	h := newSubmissionHarness(t, "8")

	err := h.analysis.Process(context.Background(), queue.Job{ID: "x", Name: JobAnalyzeSubmission, Payload: []byte(`{`)})
	require.ErrorIs(t, err, queue.ErrPermanent)

	err = h.analysis.Process(context.Background(), queue.Job{ID: "y", Name: JobAnalyzeSubmission, Payload: []byte(`{"submission_id":1,"problem_id":999}`)})
	require.ErrorIs(t, err, queue.ErrPermanent)
	require.ErrorIs(t, err, ErrProblemNotFound)
}

func TestAnalysisEnqueueReportsBrokerOutage(t *testing.T) {
	db := setupServiceDB(t)
	redisClient, mr := setupRedis(t)
	mr.Close()

	svc := NewAnalysisService(queue.New(redisClient, "down", queue.Options{}), nil, repository.NewSubmissionRepository(db), repository.NewProblemRepository(db), NewEventService(nil, nil, "", testLogger()), newValidator(), testLogger())
	_, err := svc.Enqueue(context.Background(), dto.AnalysisJobPayload{SubmissionID: 1, ProblemID: 1, AnswerImageURL: "https://cdn.example.com/a.png"})
	require.ErrorIs(t, err, queue.ErrQueueUnavailable)
}
