package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/models"
	"github.com/souffle-edu/souffle-api/internal/observability"
	"github.com/souffle-edu/souffle-api/internal/queue"
	"github.com/souffle-edu/souffle-api/internal/repository"
	"github.com/souffle-edu/souffle-api/pkg/dataservice"
)

// JobGenerateReport is the queue job name for a user's scheduled report.
const JobGenerateReport = "report.generate"

const (
	scoreWindow           = 7 * 24 * time.Hour
	reflectionTarget      = 20
	participationPerSolve = 2
)

// ReportWriter generates a diagnosis and study plan from weekly scores.
type ReportWriter interface {
	CreateReport(ctx context.Context, scores dataservice.Scores) (dataservice.ReportResult, error)
}

// ReportService computes weekly learning scores and stores generated reports.
type ReportService interface {
	Scores(ctx context.Context, userID uint) (dto.Scores, error)
	Create(ctx context.Context, userID uint, payload dto.ReportCreateRequest) (dto.ReportCreateResponse, error)
	Latest(ctx context.Context, userID uint) (dto.ReportResponse, error)
	Generate(ctx context.Context, userID uint) (dto.ReportCreateResponse, error)
	EnqueueAll(ctx context.Context) (int, error)
	Process(ctx context.Context, job queue.Job) error
	Register(worker JobRegistrar)
}

type reportJobPayload struct {
	UserID uint `json:"user_id"`
}

type reportService struct {
	reports     repository.ReportRepository
	submissions repository.SubmissionRepository
	users       repository.UserRepository
	writer      ReportWriter
	jobs        JobEnqueuer
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewReportService constructs the report service. jobs may be nil when scheduling is
// not needed.
func NewReportService(reports repository.ReportRepository, submissions repository.SubmissionRepository, users repository.UserRepository, writer ReportWriter, jobs JobEnqueuer, validate *validator.Validate, logger zerolog.Logger) ReportService {
	return &reportService{
		reports:     reports,
		submissions: submissions,
		users:       users,
		writer:      writer,
		jobs:        jobs,
		validator:   validate,
		logger:      logger.With().Str("component", "report_service").Logger(),
		tracer:      observability.Tracer("service/report"),
		now:         time.Now,
	}
}

// Scores derives the six learning indicators from the last seven days of activity.
// Each ratio is zero when nothing was attempted.
func (s *reportService) Scores(ctx context.Context, userID uint) (dto.Scores, error) {
	activity, err := s.submissions.WeeklyActivity(ctx, userID, s.now().Add(-scoreWindow))
	if err != nil {
		return dto.Scores{}, fmt.Errorf("weekly activity: %w", err)
	}

	reflection := 100.0
	if activity.RetriedProblems < reflectionTarget {
		reflection = math.Round(float64(activity.RetriedProblems) / reflectionTarget * 100)
	}

	return dto.Scores{
		CorrectScore:       roundTenth(percent(activity.CorrectProblems, activity.Problems)),
		ParticipationScore: math.Min(float64(activity.Problems*participationPerSolve), 100),
		SpeedScore:         roundTenth(math.Min(percent(activity.FastCorrect, activity.Problems), 100)),
		ReviewScore:        roundTenth(percent(activity.CorrectResubmissions, activity.Resubmissions)),
		SincerityScore:     roundTenth(math.Min(percent(activity.NotedProblems, activity.Problems), 100)),
		ReflectionScore:    reflection,
	}, nil
}

func (s *reportService) Create(ctx context.Context, userID uint, payload dto.ReportCreateRequest) (dto.ReportCreateResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ReportCreateResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "report.create", trace.WithAttributes(attribute.Int("user.id", int(userID))))
	defer span.End()

	result, err := s.writer.CreateReport(ctx, dataservice.Scores{
		CorrectScore:       payload.Scores.CorrectScore,
		ParticipationScore: payload.Scores.ParticipationScore,
		SpeedScore:         payload.Scores.SpeedScore,
		ReviewScore:        payload.Scores.ReviewScore,
		SincerityScore:     payload.Scores.SincerityScore,
		ReflectionScore:    payload.Scores.ReflectionScore,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report generation failed")
		return dto.ReportCreateResponse{}, err
	}

	report := models.UserReport{
		UserID:      userID,
		AIDiagnosis: result.AIDiagnosis,
		StudyPlan:   datatypes.JSON(result.StudyPlan),
	}
	if err := s.reports.Create(ctx, &report); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return dto.ReportCreateResponse{}, err
	}

	s.logger.Info().Uint("user_id", userID).Uint("report_id", report.ID).Msg("report stored")
	return dto.ReportCreateResponse{ReportID: report.ID}, nil
}

func (s *reportService) Latest(ctx context.Context, userID uint) (dto.ReportResponse, error) {
	report, err := s.reports.LatestForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ReportResponse{}, ErrReportNotFound
		}
		return dto.ReportResponse{}, err
	}
	return dto.NewReportResponse(report), nil
}

// Generate snapshots the user's scores and asks for a new report.
func (s *reportService) Generate(ctx context.Context, userID uint) (dto.ReportCreateResponse, error) {
	scores, err := s.Scores(ctx, userID)
	if err != nil {
		return dto.ReportCreateResponse{}, err
	}

	stat := models.UserScoreStat{
		UserID:             userID,
		CorrectScore:       scores.CorrectScore,
		ParticipationScore: scores.ParticipationScore,
		SpeedScore:         scores.SpeedScore,
		ReviewScore:        scores.ReviewScore,
		SincerityScore:     scores.SincerityScore,
		ReflectionScore:    scores.ReflectionScore,
	}
	if err := s.reports.CreateScoreStat(ctx, &stat); err != nil {
		return dto.ReportCreateResponse{}, fmt.Errorf("save score snapshot: %w", err)
	}

	return s.Create(ctx, userID, dto.ReportCreateRequest{Scores: scores})
}

// EnqueueAll queues one report job per user and returns how many were queued.
func (s *reportService) EnqueueAll(ctx context.Context) (int, error) {
	if s.jobs == nil {
		return 0, errors.New("report scheduling requires a job queue")
	}

	ids, err := s.users.ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, id := range ids {
		if _, err := s.jobs.Enqueue(ctx, JobGenerateReport, reportJobPayload{UserID: id}); err != nil {
			return queued, err
		}
		queued++
	}

	s.logger.Info().Int("users", queued).Msg("daily reports queued")
	return queued, nil
}

func (s *reportService) Process(ctx context.Context, job queue.Job) error {
	var payload reportJobPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("%w: %w", queue.ErrPermanent, err)
	}
	if payload.UserID == 0 {
		return fmt.Errorf("%w: report job without user", queue.ErrPermanent)
	}

	_, err := s.Generate(ctx, payload.UserID)
	return err
}

func (s *reportService) Register(worker JobRegistrar) {
	worker.Handle(JobGenerateReport, s.Process)
	worker.OnFailed(JobGenerateReport, func(ctx context.Context, job queue.Job, cause error) {
		s.logger.Error().Err(cause).Str("job_id", job.ID).Msg("report generation failed permanently")
	})
}

// RunDaily calls fn every day at hour:minute local time until ctx is cancelled.
func RunDaily(ctx context.Context, hour, minute int, logger zerolog.Logger, fn func(context.Context) error) {
	for {
		wait := time.Until(nextDailyRun(time.Now(), hour, minute))
		logger.Info().Dur("in", wait).Msg("next scheduled run")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("scheduled run failed")
		}
	}
}

func nextDailyRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
