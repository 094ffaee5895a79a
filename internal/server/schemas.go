package server

import (
	"github.com/mwiater/ragguard/internal/evaluation"
	"github.com/mwiater/ragguard/internal/schema"
)

const maxBatchItems = 100

var stringMap = map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}}

var chatSchema = schema.Object(map[string]any{
	"query":            schema.String(1),
	"session_id":       map[string]any{"type": "string", "maxLength": 128},
	"filter":           stringMap,
	"reference_answer": map[string]any{"type": "string"},
}, "query")

var textSchema = schema.Object(map[string]any{
	"text": map[string]any{"type": "string"},
}, "text")

var evaluateInputSchema = evaluation.InputSchema()

var batchSchema = schema.Object(map[string]any{
	"items": map[string]any{
		"type":     "array",
		"minItems": 1,
		"maxItems": maxBatchItems,
		"items":    evaluateInputSchema,
	},
}, "items")

var documentSchema = schema.Object(map[string]any{
	"document_id": map[string]any{"type": "string"},
	"source":      map[string]any{"type": "string"},
	"content":     schema.String(1),
	"metadata":    stringMap,
}, "content")

var policySchema = schema.Object(map[string]any{
	"enabled":           map[string]any{"type": "boolean"},
	"strictMode":        map[string]any{"type": "boolean"},
	"maxInputLength":    map[string]any{"type": "integer", "minimum": 1},
	"minKeywordMatches": map[string]any{"type": "integer", "minimum": 0},
	"profile":           map[string]any{"type": "string", "enum": []string{"general", "medical"}},
	"contentFilters":    map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "boolean"}},
	"extraPatterns":     map[string]any{"type": "object", "additionalProperties": schema.StringArray()},
	"allowedTopics":     schema.StringArray(),
	"domainKeywords":    schema.StringArray(),
	"unsafeOutput":      schema.StringArray(),
}, "enabled", "maxInputLength", "contentFilters")

var goldenSchema = evaluation.GoldenExampleSchema()
