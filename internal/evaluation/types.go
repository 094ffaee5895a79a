package evaluation

import (
	"context"
	"time"

	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/schema"
)

// Dimension names one sub-score of an evaluation.
type Dimension string

const (
	Relevance          Dimension = "relevance"
	Accuracy           Dimension = "accuracy"
	Completeness       Dimension = "completeness"
	Safety             Dimension = "safety"
	ContextUtilization Dimension = "context_utilization"
)

// Dimensions lists every dimension in reporting order.
var Dimensions = []Dimension{Relevance, Accuracy, Completeness, Safety, ContextUtilization}

// Methods recorded on a Record.
const (
	MethodHeuristic = "heuristic"
	MethodModel     = "model"
	MethodFallback  = "fallback"
)

// Input is one (query, answer, reference, context) tuple to score.
type Input struct {
	Query            string   `json:"query"`
	GeneratedAnswer  string   `json:"generated_answer"`
	ReferenceAnswer  string   `json:"reference_answer,omitempty"`
	RetrievedContext []string `json:"retrieved_context,omitempty"`
}

var inputSchema = schema.Object(map[string]any{
	"query":             schema.String(1),
	"generated_answer":  schema.String(1),
	"reference_answer":  map[string]any{"type": "string"},
	"retrieved_context": schema.StringArray(),
}, "query", "generated_answer")

// InputSchema is the JSON Schema for one Input.
func InputSchema() map[string]any { return inputSchema }

// Record is a scored evaluation. Scores omits dimensions that did not apply.
type Record struct {
	Query           string                `json:"query"`
	GeneratedAnswer string                `json:"generated_answer"`
	ReferenceAnswer string                `json:"reference_answer,omitempty"`
	Scores          map[Dimension]float64 `json:"scores"`
	OverallScore    float64               `json:"overall_score"`
	Method          string                `json:"evaluation_method"`
	Details         map[string]any        `json:"details,omitempty"`
	Timestamp       time.Time             `json:"timestamp"`
}

// BatchResult holds independent evaluations plus per-dimension means.
type BatchResult struct {
	Records        []Record              `json:"records"`
	Averages       map[Dimension]float64 `json:"average_scores"`
	AverageOverall float64               `json:"average_overall"`
	Count          int                   `json:"count"`
}

// Evaluator scores generated answers. Evaluate never fails; internal errors
// produce a fallback record.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) Record
	EvaluateBatch(ctx context.Context, inputs []Input) BatchResult
}

func weightOf(w appconfig.Weights, d Dimension) float64 {
	switch d {
	case Relevance:
		return w.Relevance
	case Accuracy:
		return w.Accuracy
	case Completeness:
		return w.Completeness
	case Safety:
		return w.Safety
	case ContextUtilization:
		return w.ContextUtilization
	}
	return 0
}

// Overall combines scores with weights, renormalizing over the dimensions
// present in scores. The result lies between the lowest and highest score.
func Overall(w appconfig.Weights, scores map[Dimension]float64) float64 {
	total, weightSum := 0.0, 0.0
	for _, d := range Dimensions {
		score, ok := scores[d]
		if !ok {
			continue
		}
		weight := weightOf(w, d)
		total += weight * score
		weightSum += weight
	}
	if weightSum == 0 {
		return 0
	}
	return clamp(total / weightSum)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
