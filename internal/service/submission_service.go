package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/observability"
	"github.com/souffle-edu/souffle-api/internal/repository"
	"github.com/souffle-edu/souffle-api/pkg/storage"
)

// PollRetryAfterSeconds is the polling hint returned while analysis is running.
const PollRetryAfterSeconds = 3

const submissionUploadConcurrency = 4

// AnswerConverter transcribes an answer image.
type AnswerConverter interface {
	ConvertAnswer(ctx context.Context, answerImageURL string) (string, error)
}

// SubmissionService records graded submissions and serves their analysis.
type SubmissionService interface {
	Create(ctx context.Context, payload dto.SubmissionCreateRequest, files []*multipart.FileHeader) (dto.SubmissionCreateResponse, error)
	GetAnalysis(ctx context.Context, viewer Viewer, id uint) (dto.SubmissionAnalysisResponse, error)
}

// Viewer identifies the caller of a read.
type Viewer struct {
	UserID uint
	Admin  bool
}

// SubmissionDeps groups the collaborators of the submission service.
type SubmissionDeps struct {
	Submissions  repository.SubmissionRepository
	Problems     repository.ProblemRepository
	UserProblems repository.UserProblemRepository
	Folders      repository.NoteFolderRepository
	Storage      storage.Storage
	Converter    AnswerConverter
	Analysis     AnalysisService
	Stats        StatsService
	Events       EventService
	Validator    *validator.Validate
	MaxFileMB    int
}

type submissionService struct {
	submissions  repository.SubmissionRepository
	problems     repository.ProblemRepository
	userProblems repository.UserProblemRepository
	folders      repository.NoteFolderRepository
	storage      storage.Storage
	converter    AnswerConverter
	analysis     AnalysisService
	stats        StatsService
	events       EventService
	validator    *validator.Validate
	maxSize      int64
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewSubmissionService constructs the submission service.
func NewSubmissionService(deps SubmissionDeps, logger zerolog.Logger) SubmissionService {
	if deps.MaxFileMB <= 0 {
		deps.MaxFileMB = 10
	}
	return &submissionService{
		submissions:  deps.Submissions,
		problems:     deps.Problems,
		userProblems: deps.UserProblems,
		folders:      deps.Folders,
		storage:      deps.Storage,
		converter:    deps.Converter,
		analysis:     deps.Analysis,
		stats:        deps.Stats,
		events:       deps.Events,
		validator:    deps.Validator,
		maxSize:      int64(deps.MaxFileMB) * 1024 * 1024,
		logger:       logger.With().Str("component", "submission_service").Logger(),
		tracer:       observability.Tracer("service/submission"),
		now:          time.Now,
	}
}

type uploadedImage struct {
	data        []byte
	contentType string
}

// Create persists the submission, stores its images, grades the answer through OCR,
// queues the step analysis and refreshes the statistics. A submission that cannot
// be completed up to the analysis hand-off is discarded.
func (s *submissionService) Create(ctx context.Context, payload dto.SubmissionCreateRequest, files []*multipart.FileHeader) (dto.SubmissionCreateResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionCreateResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "submission.create", trace.WithAttributes(
		attribute.Int("submission.problem_id", int(payload.ProblemID)),
		attribute.Int("submission.user_id", int(payload.UserID)),
		attribute.Int("submission.files", len(files)),
	))
	defer span.End()

	fail := func(err error, msg string) (dto.SubmissionCreateResponse, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return dto.SubmissionCreateResponse{}, err
	}

	problem, err := s.problems.GetByID(ctx, payload.ProblemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(ErrProblemNotFound, "problem not found")
		}
		return fail(err, "problem lookup failed")
	}

	images, err := s.readImages(payload, files)
	if err != nil {
		return fail(err, "invalid files")
	}

	submission := models.Submission{
		UserID:         payload.UserID,
		ProblemID:      problem.ID,
		TotalSolveTime: payload.TotalSolveTime,
		UnderstandTime: payload.UnderstandTime,
		SolveTime:      payload.SolveTime,
		ReviewTime:     payload.ReviewTime,
	}
	if err := s.submissions.Create(ctx, &submission); err != nil {
		return fail(err, "persist failed")
	}
	span.SetAttributes(attribute.Int("submission.id", int(submission.ID)))

	abandon := func(err error, msg string) (dto.SubmissionCreateResponse, error) {
		s.discard(ctx, submission.ID)
		return fail(err, msg)
	}

	urls, err := s.storeImages(ctx, submission, images)
	if err != nil {
		return abandon(fmt.Errorf("store submission images: %w", err), "storage failed")
	}

	answerURL := urls[payload.Answer.FileName]
	fullStepURL := ""
	if payload.FullStep != nil {
		fullStepURL = urls[payload.FullStep.FileName]
	}

	steps := make([]models.SubmissionStep, 0, len(payload.Steps))
	for _, step := range payload.Steps {
		steps = append(steps, models.SubmissionStep{
			StepNumber:   step.StepNumber,
			StepTime:     step.StepTime,
			FileName:     step.FileName,
			StepImageURL: urls[step.FileName],
		})
	}
	if err := s.submissions.AttachFiles(ctx, submission.ID, answerURL, fullStepURL, steps); err != nil {
		return abandon(err, "attach files failed")
	}

	answerConvert, isCorrect := s.grade(ctx, answerURL, problem.Answer)
	if err := s.submissions.SetGrading(ctx, submission.ID, answerConvert, isCorrect); err != nil {
		return abandon(err, "grading update failed")
	}

	attempt := repository.Attempt{
		UserID:       payload.UserID,
		ProblemID:    problem.ID,
		SubmissionID: submission.ID,
		Correct:      isCorrect != nil && *isCorrect,
	}
	if isCorrect != nil && !*isCorrect {
		attempt.WrongNoteFolderID = s.wrongNoteFolder(ctx, problem.CategoryID)
	}
	if err := s.userProblems.RecordAttempt(ctx, attempt); err != nil {
		return abandon(err, "user problem update failed")
	}

	s.events.Publish(ctx, SubmissionEvent{
		Type:         EventSubmissionCreated,
		SubmissionID: submission.ID,
		UserID:       payload.UserID,
		ProblemID:    problem.ID,
	})

	s.queueAnalysis(ctx, submission, problem.ID, answerURL, steps)

	response := dto.SubmissionCreateResponse{
		SubmissionID: submission.ID,
		IsCorrect:    isCorrect,
	}
	s.refreshStats(ctx, payload.UserID, problem, &response)

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("problem_id", problem.ID).
		Interface("is_correct", isCorrect).
		Msg("submission recorded")

	span.SetStatus(codes.Ok, "recorded")
	return response, nil
}

// refreshStats never fails the submission. On error the averages stay empty and the
// next submission of the problem recomputes them.
func (s *submissionService) refreshStats(ctx context.Context, userID uint, problem models.Problem, response *dto.SubmissionCreateResponse) {
	logger := s.logger.With().Uint("submission_id", response.SubmissionID).Uint("problem_id", problem.ID).Logger()

	stats, err := s.stats.RefreshProblem(ctx, problem.ID)
	if err != nil {
		logger.Error().Err(err).Msg("problem stats refresh failed")
	} else {
		response.AvgAccuracy = &stats.AvgAccuracy
		response.AvgTotalSolveTime = &stats.AvgTotalSolveTime
		response.AvgUnderstandTime = &stats.AvgUnderstandTime
		response.AvgSolveTime = &stats.AvgSolveTime
		response.AvgReviewTime = &stats.AvgReviewTime
	}
	if _, err := s.stats.RefreshUserCategory(ctx, userID, problem.CategoryID); err != nil {
		logger.Error().Err(err).Uint("category_id", problem.CategoryID).Msg("progress stats refresh failed")
	}
	if _, err := s.stats.RefreshCategory(ctx, problem.CategoryID); err != nil {
		logger.Error().Err(err).Uint("category_id", problem.CategoryID).Msg("category stats refresh failed")
	}
}

func (s *submissionService) discard(ctx context.Context, id uint) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.submissions.Discard(cleanupCtx, id); err != nil {
		s.logger.Error().Err(err).Uint("submission_id", id).Msg("failed to discard incomplete submission")
	}
}

// GetAnalysis returns ErrSubmissionNotFound for submissions owned by someone else.
func (s *submissionService) GetAnalysis(ctx context.Context, viewer Viewer, id uint) (dto.SubmissionAnalysisResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionAnalysisResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionAnalysisResponse{}, err
	}
	if !viewer.Admin && submission.UserID != viewer.UserID {
		return dto.SubmissionAnalysisResponse{}, ErrSubmissionNotFound
	}

	return dto.NewSubmissionAnalysisResponse(submission, PollRetryAfterSeconds), nil
}

// readImages loads every referenced file and checks it is an image within the size limit.
func (s *submissionService) readImages(payload dto.SubmissionCreateRequest, files []*multipart.FileHeader) (map[string]uploadedImage, error) {
	byName := make(map[string]*multipart.FileHeader, len(files))
	for _, file := range files {
		if file != nil {
			byName[file.Filename] = file
		}
	}

	referenced := []string{payload.Answer.FileName}
	if payload.FullStep != nil {
		referenced = append(referenced, payload.FullStep.FileName)
	}
	for _, step := range payload.Steps {
		referenced = append(referenced, step.FileName)
	}

	images := make(map[string]uploadedImage, len(referenced))
	for _, name := range referenced {
		if _, done := images[name]; done {
			continue
		}
		file, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSubmissionFileMissing, name)
		}
		image, err := s.readImage(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		images[name] = image
	}
	return images, nil
}

func (s *submissionService) readImage(file *multipart.FileHeader) (uploadedImage, error) {
	if file.Size > s.maxSize {
		observability.UploadRejected().WithLabelValues("size").Inc()
		return uploadedImage{}, ErrUploadTooLarge
	}

	handle, err := file.Open()
	if err != nil {
		return uploadedImage{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		return uploadedImage{}, err
	}
	if int64(buf.Len()) > s.maxSize {
		observability.UploadRejected().WithLabelValues("size").Inc()
		return uploadedImage{}, ErrUploadTooLarge
	}

	mime := mimetype.Detect(buf.Bytes())
	if normalizeMime(mime.String()) != "image" {
		observability.UploadRejected().WithLabelValues("type").Inc()
		return uploadedImage{}, ErrUploadTypeNotAllowed
	}

	return uploadedImage{data: buf.Bytes(), contentType: mime.String()}, nil
}

func (s *submissionService) storeImages(ctx context.Context, submission models.Submission, images map[string]uploadedImage) (map[string]string, error) {
	var mu sync.Mutex
	urls := make(map[string]string, len(images))
	at := s.now()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(submissionUploadConcurrency)
	for name, image := range images {
		group.Go(func() error {
			start := time.Now()
			defer func() {
				observability.UploadLatency().Observe(time.Since(start).Seconds())
			}()

			url, err := s.storage.Put(groupCtx, storage.Object{
				Key:         storage.SubmissionKey(submission.ProblemID, submission.UserID, submission.ID, name, at),
				Size:        int64(len(image.data)),
				ContentType: image.contentType,
			}, bytes.NewReader(image.data))
			if err != nil {
				observability.UploadRejected().WithLabelValues("storage").Inc()
				return fmt.Errorf("upload %s: %w", name, err)
			}

			mu.Lock()
			urls[name] = url
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

// grade leaves both values nil when the answer could not be transcribed.
func (s *submissionService) grade(ctx context.Context, answerURL, expected string) (*string, *bool) {
	if s.converter == nil || answerURL == "" {
		return nil, nil
	}

	converted, err := s.converter.ConvertAnswer(ctx, answerURL)
	if err != nil {
		s.logger.Warn().Err(err).Str("answer_image_url", answerURL).Msg("answer transcription failed, leaving submission ungraded")
		return nil, nil
	}

	correct := strings.TrimSpace(converted) == strings.TrimSpace(expected)
	return &converted, &correct
}

func (s *submissionService) wrongNoteFolder(ctx context.Context, categoryID uint) *uint {
	folder, err := s.folders.FindCategoryFolder(ctx, categoryID, models.FolderTypeWrongNote)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn().Err(err).Uint("category_id", categoryID).Msg("wrong note folder lookup failed")
		}
		return nil
	}
	return &folder.ID
}

// queueAnalysis never fails the submission. When the job cannot be queued the
// submission is flagged as failed so pollers stop waiting for it.
func (s *submissionService) queueAnalysis(ctx context.Context, submission models.Submission, problemID uint, answerURL string, steps []models.SubmissionStep) {
	if s.analysis == nil {
		return
	}

	payload := dto.AnalysisJobPayload{
		SubmissionID:   submission.ID,
		ProblemID:      problemID,
		AnswerImageURL: answerURL,
		Steps:          make([]dto.AnalysisStepRequest, 0, len(steps)),
		TotalSolveTime: submission.TotalSolveTime,
		UnderstandTime: submission.UnderstandTime,
		SolveTime:      submission.SolveTime,
		ReviewTime:     submission.ReviewTime,
	}
	for _, step := range steps {
		payload.Steps = append(payload.Steps, dto.AnalysisStepRequest{
			StepNumber:   step.StepNumber,
			StepTime:     step.StepTime,
			StepImageURL: step.StepImageURL,
		})
	}

	_, err := s.analysis.Enqueue(ctx, payload)
	if err == nil {
		return
	}

	logger := s.logger.With().Uint("submission_id", submission.ID).Logger()
	logger.Error().Err(err).Msg("failed to queue submission analysis")
	flagged, markErr := s.submissions.MarkAnalysisFailed(ctx, submission.ID)
	if markErr != nil {
		logger.Error().Err(markErr).Msg("failed to flag unqueued submission")
		return
	}
	if flagged {
		s.events.Publish(ctx, SubmissionEvent{
			Type:         EventAnalysisFailed,
			SubmissionID: submission.ID,
			UserID:       submission.UserID,
			ProblemID:    problemID,
		})
	}
}
