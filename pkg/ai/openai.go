package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/souffle-edu/souffle-api/pkg/dataservice"
)

// OpenAIConfig defines configuration options for the OpenAI analyzer.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIAnalyzer implements Analyzer against the OpenAI chat completion API.
type OpenAIAnalyzer struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIAnalyzer builds a new analyzer using the provided configuration.
func NewOpenAIAnalyzer(cfg OpenAIConfig) (*OpenAIAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIAnalyzer{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/souffle-edu/souffle-api/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_analyzer").Logger(),
	}, nil
}

// Analyze sends the step images to OpenAI and parses the structured reply.
func (a *OpenAIAnalyzer) Analyze(parent context.Context, idempotencyKey string, req dataservice.AnalysisRequest) (dataservice.AnalysisResult, error) {
	ctx, span := a.tracer.Start(parent, "openai.analyze", trace.WithAttributes(
		attribute.String("model", a.cfg.Model),
		attribute.String("job_id", idempotencyKey),
	))
	defer span.End()

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: buildUserPrompt(req)}}
	for _, step := range req.Steps {
		if step.StepImageURL == "" {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: step.StepImageURL, Detail: openai.ImageURLDetailAuto},
		})
	}

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analyzerSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	aiDuration.WithLabelValues("openai", a.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return a.fail(span, fmt.Errorf("openai analyze: %w", err))
	}

	if len(resp.Choices) == 0 {
		return a.fail(span, fmt.Errorf("no choices returned from openai"))
	}

	result, err := parseAnalysisResponse(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err != nil {
		return a.fail(span, err)
	}

	a.logger.Debug().Int("total_tokens", resp.Usage.TotalTokens).Msg("openai analysis completed")
	return result, nil
}

func (a *OpenAIAnalyzer) fail(span trace.Span, err error) (dataservice.AnalysisResult, error) {
	aiFailures.WithLabelValues("openai", a.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return dataservice.AnalysisResult{}, err
}
