package ai

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souffle-edu/souffle-api/pkg/dataservice"
)

const analysisReply = `{"steps":[{"step_number":1,"step_valid":false,"step_feedback":"sign error","latex":"x=-2","current_latex":"x=2"}],"ai_analysis":"Check signs.","weakness":"linear equations"}`

func sampleRequest() dataservice.AnalysisRequest {
	total := 90
	return dataservice.AnalysisRequest{
		ProblemID:      3,
		AnswerImageURL: "https://cdn.example.com/answer.png",
		Steps:          []dataservice.AnalysisStep{{StepNumber: 1, StepImageURL: "https://cdn.example.com/s1.png"}},
		TotalSolveTime: &total,
		ProblemContent: "Solve x + 2 = 0",
		ExpectedAnswer: "-2",
	}
}

func TestParseAnalysisResponse(t *testing.T) {
	result, err := parseAnalysisResponse("```json\n" + analysisReply + "\n```")
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	assert.False(t, *result.Steps[0].StepValid)
	assert.Equal(t, "linear equations", result.Weakness)

	_, err = parseAnalysisResponse(`{"steps":[],"ai_analysis":"","weakness":""}`)
	assert.Error(t, err)

	_, err = parseAnalysisResponse("not json")
	assert.Error(t, err)
}

func TestBuildUserPrompt(t *testing.T) {
	prompt := buildUserPrompt(sampleRequest())
	assert.Contains(t, prompt, "Solve x + 2 = 0")
	assert.Contains(t, prompt, "total=90 understand=-")
	assert.Contains(t, prompt, "step 1 (-s): https://cdn.example.com/s1.png")
}

func TestOpenAIAnalyzer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]interface{}{{"index": 0, "message": map[string]string{"role": "assistant", "content": analysisReply}}},
			"usage":   map[string]int{"total_tokens": 10},
		})
	}))
	defer server.Close()

	analyzer, err := NewOpenAIAnalyzer(OpenAIConfig{APIKey: "test", BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	result, err := analyzer.Analyze(t.Context(), "job-1", sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "Check signs.", result.AIAnalysis)
}

func TestAnthropicAnalyzer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		var body anthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Messages[0].Content, 2)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": analysisReply}},
		})
	}))
	defer server.Close()

	analyzer, err := NewAnthropicAnalyzer(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	result, err := analyzer.Analyze(t.Context(), "job-2", sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "linear equations", result.Weakness)
}

func TestAnthropicAnalyzerSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	analyzer, err := NewAnthropicAnalyzer(AnthropicConfig{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = analyzer.Analyze(t.Context(), "", sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
}

func TestConstructorsRequireKeys(t *testing.T) {
	_, err := NewOpenAIAnalyzer(OpenAIConfig{})
	assert.Error(t, err)
	_, err = NewAnthropicAnalyzer(AnthropicConfig{})
	assert.Error(t, err)
}
