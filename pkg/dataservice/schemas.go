package dataservice

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const answerSchema = `{
  "type": "object",
  "required": ["answer_convert"],
  "properties": {
    "answer_convert": {"type": ["string", "number"]}
  }
}`

const analysisSchema = `{
  "type": "object",
  "required": ["steps", "ai_analysis", "weakness"],
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["step_number"],
        "properties": {
          "step_number": {"type": "integer", "minimum": 1},
          "step_valid": {"type": ["boolean", "null"]},
          "step_feedback": {"type": ["string", "null"]},
          "latex": {"type": ["string", "null"]},
          "current_latex": {"type": ["string", "null"]}
        }
      }
    },
    "ai_analysis": {"type": "string"},
    "weakness": {"type": "string"}
  }
}`

const reportSchema = `{
  "type": "object",
  "required": ["ai_diagnosis", "study_plan"],
  "properties": {
    "ai_diagnosis": {"type": "string"},
    "study_plan": {}
  }
}`

type schemaSet struct {
	answer   *jsonschema.Schema
	analysis *jsonschema.Schema
	report   *jsonschema.Schema
}

func compileSchemas() (schemaSet, error) {
	compiler := jsonschema.NewCompiler()
	sources := map[string]string{
		"mem://answer.json":   answerSchema,
		"mem://analysis.json": analysisSchema,
		"mem://report.json":   reportSchema,
	}
	for url, source := range sources {
		if err := compiler.AddResource(url, strings.NewReader(source)); err != nil {
			return schemaSet{}, fmt.Errorf("add schema %s: %w", url, err)
		}
	}

	var set schemaSet
	var err error
	if set.answer, err = compiler.Compile("mem://answer.json"); err != nil {
		return schemaSet{}, err
	}
	if set.analysis, err = compiler.Compile("mem://analysis.json"); err != nil {
		return schemaSet{}, err
	}
	if set.report, err = compiler.Compile("mem://report.json"); err != nil {
		return schemaSet{}, err
	}
	return set, nil
}
