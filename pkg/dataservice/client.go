// Package dataservice talks to the external data service that performs OCR,
// step-by-step solution analysis and report generation.
package dataservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/souffle-edu/souffle-api/internal/observability"
)

// Endpoint paths on the data service.
const (
	AnswerPath   = "/data/api/v1/ocr/answer"
	AnalysisPath = "/data/api/v1/ocr/analysis"
	ReportPath   = "/data/api/v1/report/latest"
)

// IdempotencyHeader carries the job id so the data service can drop duplicate analysis requests.
const IdempotencyHeader = "Idempotency-Key"

var (
	// ErrUnavailable indicates the data service could not be reached or answered with a 5xx.
	ErrUnavailable = errors.New("data service unavailable")
	// ErrInvalidResponse indicates the data service answered with a body that failed validation.
	ErrInvalidResponse = errors.New("data service returned an invalid response")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("data service %s returned %d: %s", e.Endpoint, e.Status, e.Body)
}

// Unwrap lets errors.Is(err, ErrUnavailable) match server-side failures.
func (e *StatusError) Unwrap() error {
	if e.Status >= http.StatusInternalServerError {
		return ErrUnavailable
	}
	return nil
}

// AnalysisStep is one step image sent for analysis.
type AnalysisStep struct {
	StepNumber   int    `json:"step_number"`
	StepTime     *int   `json:"step_time"`
	StepImageURL string `json:"step_image_url"`
}

// AnalysisRequest is the body sent to the analysis endpoint.
type AnalysisRequest struct {
	ProblemID      uint           `json:"problem_id"`
	AnswerImageURL string         `json:"answer_image_url"`
	Steps          []AnalysisStep `json:"steps"`
	TotalSolveTime *int           `json:"total_solve_time"`
	UnderstandTime *int           `json:"understand_time"`
	SolveTime      *int           `json:"solve_time"`
	ReviewTime     *int           `json:"review_time"`

	// Problem text and expected answer are only used by LLM analyzers.
	ProblemContent string `json:"-"`
	ExpectedAnswer string `json:"-"`
}

// StepResult is the per-step verdict returned by the analysis endpoint.
type StepResult struct {
	StepNumber   int     `json:"step_number"`
	StepValid    *bool   `json:"step_valid"`
	StepFeedback *string `json:"step_feedback"`
	Latex        *string `json:"latex"`
	CurrentLatex *string `json:"current_latex"`
}

// AnalysisResult is the body returned by the analysis endpoint.
type AnalysisResult struct {
	Steps      []StepResult `json:"steps"`
	AIAnalysis string       `json:"ai_analysis"`
	Weakness   string       `json:"weakness"`
}

// Scores is the weekly score set sent for report generation.
type Scores struct {
	CorrectScore       float64 `json:"correct_score"`
	ParticipationScore float64 `json:"participation_score"`
	SpeedScore         float64 `json:"speed_score"`
	ReviewScore        float64 `json:"review_score"`
	SincerityScore     float64 `json:"sincerity_score"`
	ReflectionScore    float64 `json:"reflection_score"`
}

// ReportResult is the body returned by the report endpoint.
type ReportResult struct {
	AIDiagnosis string          `json:"ai_diagnosis"`
	StudyPlan   json.RawMessage `json:"study_plan"`
}

// Config configures the client.
type Config struct {
	BaseURL         string
	OCRTimeout      time.Duration
	AnalysisTimeout time.Duration
	HTTPClient      *http.Client
}

// Client calls the data service over HTTP/JSON.
type Client struct {
	baseURL         string
	http            *http.Client
	ocrTimeout      time.Duration
	analysisTimeout time.Duration
	schemas         schemaSet
	logger          zerolog.Logger
	tracer          trace.Tracer
}

// New builds a data service client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("data service url is required")
	}
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = 10 * time.Second
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = 55 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	schemas, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("compile data service schemas: %w", err)
	}

	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		http:            httpClient,
		ocrTimeout:      cfg.OCRTimeout,
		analysisTimeout: cfg.AnalysisTimeout,
		schemas:         schemas,
		logger:          logger.With().Str("component", "dataservice_client").Logger(),
		tracer:          otel.Tracer("github.com/souffle-edu/souffle-api/pkg/dataservice"),
	}, nil
}

// ConvertAnswer runs OCR on the answer image and returns the recognised answer.
func (c *Client) ConvertAnswer(ctx context.Context, answerImageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ocrTimeout)
	defer cancel()

	var raw map[string]interface{}
	body := map[string]string{"answer_image_url": answerImageURL}
	if err := c.post(ctx, "ocr_answer", AnswerPath, nil, body, c.schemas.answer, &raw); err != nil {
		return "", err
	}

	switch value := raw["answer_convert"].(type) {
	case string:
		return strings.TrimSpace(value), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	default:
		return strings.TrimSpace(fmt.Sprint(value)), nil
	}
}

// Analyze submits the solution for step-by-step analysis.
func (c *Client) Analyze(ctx context.Context, idempotencyKey string, req AnalysisRequest) (AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.analysisTimeout)
	defer cancel()

	headers := map[string]string{}
	if idempotencyKey != "" {
		headers[IdempotencyHeader] = idempotencyKey
	}

	var result AnalysisResult
	if err := c.post(ctx, "ocr_analysis", AnalysisPath, headers, req, c.schemas.analysis, &result); err != nil {
		return AnalysisResult{}, err
	}
	return result, nil
}

// CreateReport asks the data service for a diagnosis and study plan based on weekly scores.
func (c *Client) CreateReport(ctx context.Context, scores Scores) (ReportResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.analysisTimeout)
	defer cancel()

	var result ReportResult
	body := map[string]Scores{"scores": scores}
	if err := c.post(ctx, "report", ReportPath, nil, body, c.schemas.report, &result); err != nil {
		return ReportResult{}, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, endpoint, path string, headers map[string]string, body interface{}, schema *jsonschema.Schema, target interface{}) (err error) {
	ctx, span := c.tracer.Start(ctx, "dataservice."+endpoint, trace.WithAttributes(
		attribute.String("dataservice.path", path),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.DataServiceCalls().WithLabelValues(endpoint, result).Inc()
		observability.DataServiceLatency().WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %w", ErrUnavailable, endpoint, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &StatusError{Endpoint: endpoint, Status: resp.StatusCode, Body: snippet}
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var document interface{}
	if err := decoder.Decode(&document); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, endpoint, err)
	}
	if err := schema.Validate(document); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("data service response failed schema validation")
		return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, endpoint, err)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidResponse, endpoint, err)
	}
	return nil
}
