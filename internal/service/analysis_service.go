package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/observability"
	"github.com/souffle-edu/souffle-api/internal/queue"
	"github.com/souffle-edu/souffle-api/internal/repository"
	"github.com/souffle-edu/souffle-api/pkg/ai"
	"github.com/souffle-edu/souffle-api/pkg/dataservice"
)

// JobAnalyzeSubmission is the queue job name for step analysis.
const JobAnalyzeSubmission = "analysis.analyze"

// JobEnqueuer hands jobs to the broker.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, name string, payload interface{}) (queue.Job, error)
}

// JobRegistrar routes job names to handlers.
type JobRegistrar interface {
	Handle(name string, handler queue.Handler)
	OnFailed(name string, hook queue.FailureHook)
}

// AnalysisService queues submissions for AI analysis and processes the resulting jobs.
type AnalysisService interface {
	Enqueue(ctx context.Context, payload dto.AnalysisJobPayload) (dto.AnalysisEnqueueResponse, error)
	Process(ctx context.Context, job queue.Job) error
	HandleFailure(ctx context.Context, job queue.Job, cause error)
	Register(worker JobRegistrar)
}

type analysisService struct {
	jobs        JobEnqueuer
	analyzer    ai.Analyzer
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	events      EventService
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewAnalysisService constructs the analysis service. The analyzer is the data service
// client or one of the LLM analyzers.
func NewAnalysisService(jobs JobEnqueuer, analyzer ai.Analyzer, submissions repository.SubmissionRepository, problems repository.ProblemRepository, events EventService, validate *validator.Validate, logger zerolog.Logger) AnalysisService {
	return &analysisService{
		jobs:        jobs,
		analyzer:    analyzer,
		submissions: submissions,
		problems:    problems,
		events:      events,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "analysis_service").Logger(),
		tracer:      observability.Tracer("service/analysis"),
	}
}

// Enqueue returns an error wrapping queue.ErrQueueUnavailable when the broker is down.
func (s *analysisService) Enqueue(ctx context.Context, payload dto.AnalysisJobPayload) (dto.AnalysisEnqueueResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AnalysisEnqueueResponse{}, err
	}
	if payload.Steps == nil {
		payload.Steps = []dto.AnalysisStepRequest{}
	}

	job, err := s.jobs.Enqueue(ctx, JobAnalyzeSubmission, payload)
	if err != nil {
		return dto.AnalysisEnqueueResponse{}, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Uint("submission_id", payload.SubmissionID).
		Msg("analysis job queued")

	return dto.AnalysisEnqueueResponse{
		JobID:        job.ID,
		SubmissionID: payload.SubmissionID,
		Status:       job.State,
	}, nil
}

func (s *analysisService) Register(worker JobRegistrar) {
	worker.Handle(JobAnalyzeSubmission, s.Process)
	worker.OnFailed(JobAnalyzeSubmission, s.HandleFailure)
}

// Process runs one attempt. The job id doubles as the idempotency key so the analyzer
// can drop repeated requests, and the conditional write keeps only the first result.
func (s *analysisService) Process(ctx context.Context, job queue.Job) error {
	var payload dto.AnalysisJobPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("%w: %w", queue.ErrPermanent, err)
	}

	ctx, span := s.tracer.Start(ctx, "analysis.process", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("job.attempt", job.Attempts),
		attribute.Int("submission.id", int(payload.SubmissionID)),
	))
	defer span.End()

	logger := s.logger.With().Str("job_id", job.ID).Uint("submission_id", payload.SubmissionID).Int("attempt", job.Attempts).Logger()

	// A job re-run from the failed set clears the flag its own failure left behind.
	if job.Retries > 0 {
		reopened, err := s.submissions.ReopenAnalysis(ctx, payload.SubmissionID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "reopen failed")
			return err
		}
		if reopened {
			logger.Info().Int("retries", job.Retries).Msg("failed analysis reopened")
		}
	}

	problem, err := s.problems.GetByID(ctx, payload.ProblemID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "problem lookup failed")
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %w", queue.ErrPermanent, ErrProblemNotFound)
		}
		return err
	}

	result, err := s.analyzer.Analyze(ctx, job.ID, toAnalysisRequest(payload, problem.Content, problem.Answer))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		return err
	}

	write := repository.AnalysisWrite{
		AIAnalysis: s.clean(result.AIAnalysis),
		Weakness:   s.clean(result.Weakness),
		Steps:      make([]repository.StepResult, 0, len(result.Steps)),
	}
	if write.AIAnalysis == "" || write.Weakness == "" {
		err := fmt.Errorf("%w: empty analysis text", dataservice.ErrInvalidResponse)
		span.RecordError(err)
		span.SetStatus(codes.Error, "empty analysis")
		return err
	}
	for _, step := range result.Steps {
		write.Steps = append(write.Steps, repository.StepResult{
			StepNumber:   step.StepNumber,
			IsValid:      step.StepValid,
			Feedback:     s.cleanPtr(step.StepFeedback),
			Latex:        step.Latex,
			CurrentLatex: step.CurrentLatex,
		})
	}

	applied, err := s.submissions.ApplyAnalysis(ctx, payload.SubmissionID, write)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return err
	}
	if !applied {
		logger.Info().Msg("analysis result discarded, submission already settled")
		return nil
	}

	logger.Info().Int("steps", len(write.Steps)).Msg("analysis stored")
	s.events.Publish(ctx, SubmissionEvent{
		Type:         EventAnalysisCompleted,
		SubmissionID: payload.SubmissionID,
		ProblemID:    payload.ProblemID,
	})
	return nil
}

// HandleFailure flags the submission once every attempt has failed.
func (s *analysisService) HandleFailure(ctx context.Context, job queue.Job, cause error) {
	var payload dto.AnalysisJobPayload
	if err := job.Decode(&payload); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("cannot decode failed analysis job")
		return
	}

	logger := s.logger.With().Str("job_id", job.ID).Uint("submission_id", payload.SubmissionID).Logger()

	flagged, err := s.submissions.MarkAnalysisFailed(ctx, payload.SubmissionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to flag submission analysis as failed")
		return
	}
	if !flagged {
		logger.Info().Msg("submission already analysed, failure ignored")
		return
	}

	logger.Error().Err(cause).Int("attempts", job.Attempts).Msg("analysis failed permanently")
	s.events.Publish(ctx, SubmissionEvent{
		Type:         EventAnalysisFailed,
		SubmissionID: payload.SubmissionID,
		ProblemID:    payload.ProblemID,
	})
}

func (s *analysisService) clean(text string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(text))
}

func (s *analysisService) cleanPtr(text *string) *string {
	if text == nil {
		return nil
	}
	cleaned := s.clean(*text)
	return &cleaned
}

func toAnalysisRequest(payload dto.AnalysisJobPayload, content, answer string) dataservice.AnalysisRequest {
	steps := make([]dataservice.AnalysisStep, 0, len(payload.Steps))
	for _, step := range payload.Steps {
		steps = append(steps, dataservice.AnalysisStep{
			StepNumber:   step.StepNumber,
			StepTime:     step.StepTime,
			StepImageURL: step.StepImageURL,
		})
	}

	return dataservice.AnalysisRequest{
		ProblemID:      payload.ProblemID,
		AnswerImageURL: payload.AnswerImageURL,
		Steps:          steps,
		TotalSolveTime: payload.TotalSolveTime,
		UnderstandTime: payload.UnderstandTime,
		SolveTime:      payload.SolveTime,
		ReviewTime:     payload.ReviewTime,
		ProblemContent: content,
		ExpectedAnswer: answer,
	}
}
