package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/souffle-edu/souffle-api/pkg/dataservice"
)

const (
	anthropicDefaultURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
)

// AnthropicConfig configures the Anthropic Messages API analyzer.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// AnthropicAnalyzer implements Analyzer over the Anthropic Messages HTTP API.
type AnthropicAnalyzer struct {
	cfg    AnthropicConfig
	http   *http.Client
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewAnthropicAnalyzer constructs a new analyzer.
func NewAnthropicAnalyzer(cfg AnthropicConfig) (*AnthropicAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-latest"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicDefaultURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &AnthropicAnalyzer{
		cfg:    cfg,
		http:   client,
		tracer: otel.Tracer("github.com/souffle-edu/souffle-api/pkg/ai/anthropic"),
		logger: cfg.Logger.With().Str("component", "anthropic_analyzer").Logger(),
	}, nil
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Analyze sends the step images to Claude and parses the structured reply.
func (a *AnthropicAnalyzer) Analyze(parent context.Context, idempotencyKey string, req dataservice.AnalysisRequest) (dataservice.AnalysisResult, error) {
	ctx, span := a.tracer.Start(parent, "anthropic.analyze", trace.WithAttributes(
		attribute.String("model", a.cfg.Model),
		attribute.String("job_id", idempotencyKey),
	))
	defer span.End()

	content := []anthropicContent{{Type: "text", Text: buildUserPrompt(req)}}
	for _, step := range req.Steps {
		if step.StepImageURL == "" {
			continue
		}
		content = append(content, anthropicContent{
			Type:   "image",
			Source: &anthropicSource{Type: "url", URL: step.StepImageURL},
		})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    analyzerSystemPrompt(),
		Messages:  []anthropicMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return a.fail(span, fmt.Errorf("encode anthropic request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return a.fail(span, err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	resp, err := a.http.Do(httpReq)
	aiDuration.WithLabelValues("anthropic", a.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return a.fail(span, fmt.Errorf("anthropic analyze: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return a.fail(span, fmt.Errorf("read anthropic response: %w", err))
	}

	var decoded anthropicResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return a.fail(span, fmt.Errorf("decode anthropic response (status %d): %w", resp.StatusCode, err))
	}
	if resp.StatusCode != http.StatusOK {
		message := http.StatusText(resp.StatusCode)
		if decoded.Error != nil {
			message = decoded.Error.Message
		}
		return a.fail(span, fmt.Errorf("anthropic returned %d: %s", resp.StatusCode, message))
	}

	var text strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	result, err := parseAnalysisResponse(text.String())
	if err != nil {
		return a.fail(span, err)
	}
	return result, nil
}

func (a *AnthropicAnalyzer) fail(span trace.Span, err error) (dataservice.AnalysisResult, error) {
	aiFailures.WithLabelValues("anthropic", a.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	a.logger.Warn().Err(err).Msg("anthropic analysis failed")
	return dataservice.AnalysisResult{}, err
}
