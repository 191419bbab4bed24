// Package ai provides LLM-backed step analyzers used when the data service
// analysis endpoint is replaced by a hosted model.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/souffle-edu/souffle-api/pkg/dataservice"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "souffle",
		Subsystem: "ai",
		Name:      "analysis_duration_seconds",
		Help:      "Duration of LLM analysis requests",
	}, []string{"provider", "model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "souffle",
		Subsystem: "ai",
		Name:      "analysis_failures_total",
		Help:      "Number of LLM analysis failures",
	}, []string{"provider", "model"})
)

// Analyzer produces per-step verdicts and an overall diagnosis for a submission.
type Analyzer interface {
	Analyze(ctx context.Context, idempotencyKey string, req dataservice.AnalysisRequest) (dataservice.AnalysisResult, error)
}

func analyzerSystemPrompt() string {
	return "You are a math tutor reviewing a student's handwritten solution, one image per step. " +
		"Respond with a JSON object: steps (array of {step_number, step_valid, step_feedback, latex, current_latex}), " +
		"ai_analysis (overall feedback) and weakness (the concept the student should review)."
}

func buildUserPrompt(req dataservice.AnalysisRequest) string {
	builder := strings.Builder{}
	builder.WriteString("# Problem\n")
	builder.WriteString(req.ProblemContent)
	if req.ExpectedAnswer != "" {
		builder.WriteString("\n\n## Expected Answer\n")
		builder.WriteString(req.ExpectedAnswer)
	}
	builder.WriteString("\n\n## Timings (seconds)\n")
	builder.WriteString("total=" + intOrDash(req.TotalSolveTime))
	builder.WriteString(" understand=" + intOrDash(req.UnderstandTime))
	builder.WriteString(" solve=" + intOrDash(req.SolveTime))
	builder.WriteString(" review=" + intOrDash(req.ReviewTime))
	builder.WriteString("\n\n## Steps\n")
	for _, step := range req.Steps {
		builder.WriteString(fmt.Sprintf("- step %d (%ss): %s\n", step.StepNumber, intOrDash(step.StepTime), step.StepImageURL))
	}
	builder.WriteString("\n## Final Answer Image\n")
	builder.WriteString(req.AnswerImageURL)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func intOrDash(value *int) string {
	if value == nil {
		return "-"
	}
	return strconv.Itoa(*value)
}

// parseAnalysisResponse extracts the JSON object from a model reply.
func parseAnalysisResponse(content string) (dataservice.AnalysisResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var result dataservice.AnalysisResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return dataservice.AnalysisResult{}, fmt.Errorf("parse analysis json: %w", err)
	}
	if strings.TrimSpace(result.AIAnalysis) == "" || strings.TrimSpace(result.Weakness) == "" {
		return dataservice.AnalysisResult{}, fmt.Errorf("analysis response is missing ai_analysis or weakness")
	}
	return result, nil
}
