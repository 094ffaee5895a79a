// Package evaluation scores generated answers on relevance, accuracy,
// completeness, safety, and context use, and keeps a running history.
package evaluation

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/providers"
)

// Strategies select how relevance, accuracy, and completeness are scored.
const (
	StrategyHeuristic = "heuristic"
	StrategyModel     = "model"
)

const gradeInstruction = "Respond with only a number between 0.0 and 1.0."

var scorePattern = regexp.MustCompile(`-?\d*\.?\d+`)

// Options wires a Service.
type Options struct {
	Weights   appconfig.Weights
	Strategy  string
	Generator providers.Generator
	Golden    *GoldenSet
	History   *History
}

var _ Evaluator = (*Service)(nil)

// Service is the Evaluator used by the pipeline and the API.
type Service struct {
	weights  atomic.Pointer[appconfig.Weights]
	strategy string
	grader   providers.Generator
	golden   *GoldenSet
	history  *History
}

// New validates the weights and builds a Service. The model strategy needs a
// Generator; without one the heuristic strategy is used.
func New(opts Options) (*Service, error) {
	if err := appconfig.ValidateWeights(opts.Weights); err != nil {
		return nil, err
	}
	strategy := opts.Strategy
	switch strategy {
	case "", StrategyHeuristic:
		strategy = StrategyHeuristic
	case StrategyModel:
		if opts.Generator == nil {
			logging.LogEvent("[EVAL] model strategy requested without a generator; using heuristic scoring")
			strategy = StrategyHeuristic
		}
	default:
		return nil, &appconfig.ConfigurationError{Field: "evaluation.strategy", Reason: fmt.Sprintf("unknown strategy %q", opts.Strategy)}
	}

	s := &Service{strategy: strategy, grader: opts.Generator, golden: opts.Golden, history: opts.History}
	w := opts.Weights
	s.weights.Store(&w)
	return s, nil
}

// Reconfigure swaps the weights after validating them.
func (s *Service) Reconfigure(w appconfig.Weights) error {
	if err := appconfig.ValidateWeights(w); err != nil {
		return err
	}
	s.weights.Store(&w)
	return nil
}

// Weights returns the active weights.
func (s *Service) Weights() appconfig.Weights { return *s.weights.Load() }

// Strategy returns the active strategy name.
func (s *Service) Strategy() string { return s.strategy }

// History returns the evaluation history, or nil when none is kept.
func (s *Service) History() *History { return s.history }

// Golden returns the golden dataset, or nil when none is loaded.
func (s *Service) Golden() *GoldenSet { return s.golden }

// Evaluate scores one answer. A panic while scoring yields a fallback record.
func (s *Service) Evaluate(ctx context.Context, in Input) (rec Record) {
	weights := s.Weights()
	defer func() {
		if r := recover(); r != nil {
			logging.LogEvent("[EVAL] evaluation failed, using fallback scores: %v", r)
			rec = fallbackRecord(weights, in, fmt.Sprint(r))
		}
		if s.history != nil {
			s.history.Record(rec)
		}
	}()
	return s.score(ctx, weights, in)
}

// EvaluateBatch evaluates each input independently and averages the results.
func (s *Service) EvaluateBatch(ctx context.Context, inputs []Input) BatchResult {
	result := BatchResult{
		Records:  make([]Record, 0, len(inputs)),
		Averages: make(map[Dimension]float64, len(Dimensions)),
	}
	sums := make(map[Dimension]float64, len(Dimensions))
	counts := make(map[Dimension]int, len(Dimensions))
	overall := 0.0
	for _, in := range inputs {
		rec := s.Evaluate(ctx, in)
		result.Records = append(result.Records, rec)
		for d, score := range rec.Scores {
			sums[d] += score
			counts[d]++
		}
		overall += rec.OverallScore
	}
	result.Count = len(result.Records)
	for _, d := range Dimensions {
		if counts[d] > 0 {
			result.Averages[d] = round3(sums[d] / float64(counts[d]))
		}
	}
	if result.Count > 0 {
		result.AverageOverall = round3(overall / float64(result.Count))
	}
	return result
}

func (s *Service) score(ctx context.Context, weights appconfig.Weights, in Input) Record {
	details := map[string]any{}
	reference := strings.TrimSpace(in.ReferenceAnswer)
	if reference == "" && s.golden != nil {
		if ref, ok := s.golden.FindReference(in.Query); ok {
			reference = ref
			details["reference_source"] = "golden_dataset"
		}
	}

	scores := make(map[Dimension]float64, len(Dimensions))
	scores[Relevance] = s.grade(ctx, Relevance, relevancePrompt(in.Query, in.GeneratedAnswer), details, func() float64 {
		return HeuristicRelevance(in.Query, in.GeneratedAnswer)
	})
	if reference != "" {
		scores[Accuracy] = s.grade(ctx, Accuracy, accuracyPrompt(in.GeneratedAnswer, reference), details, func() float64 {
			return HeuristicAccuracy(in.GeneratedAnswer, reference)
		})
	} else {
		details["accuracy"] = "skipped: no reference answer"
	}
	scores[Completeness] = s.grade(ctx, Completeness, completenessPrompt(in.Query, in.GeneratedAnswer), details, func() float64 {
		return HeuristicCompleteness(in.GeneratedAnswer)
	})
	scores[Safety] = HeuristicSafety(in.GeneratedAnswer)
	scores[ContextUtilization] = HeuristicContextUtilization(in.GeneratedAnswer, in.RetrievedContext)

	method := MethodHeuristic
	if s.strategy == StrategyModel {
		method = MethodModel
	}
	details["evaluation_method"] = method
	details["context_chunks"] = len(in.RetrievedContext)

	return Record{
		Query:           in.Query,
		GeneratedAnswer: in.GeneratedAnswer,
		ReferenceAnswer: reference,
		Scores:          scores,
		OverallScore:    Overall(weights, scores),
		Method:          method,
		Details:         details,
		Timestamp:       time.Now().UTC(),
	}
}

// grade asks the generator for a score under the model strategy and falls
// back to heuristic when grading fails or returns something unparsable.
func (s *Service) grade(ctx context.Context, d Dimension, prompt string, details map[string]any, heuristic func() float64) float64 {
	if s.strategy != StrategyModel {
		return heuristic()
	}
	out, err := s.grader.Complete(ctx, providers.CompletionRequest{
		UserPrompt:  prompt,
		Temperature: 0,
		MaxTokens:   10,
	})
	if err == nil {
		if score, ok := parseScore(out); ok {
			return score
		}
		err = fmt.Errorf("unparsable grade %q", strings.TrimSpace(out))
	}
	logging.LogEvent("[EVAL] model grading of %s failed, using heuristic: %v", d, err)
	details[string(d)+"_fallback"] = err.Error()
	return heuristic()
}

// parseScore reads the first number in a grader reply and clamps it to [0, 1].
func parseScore(out string) (float64, bool) {
	trimmed := strings.TrimSpace(out)
	if v, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(v) {
		return clamp(v), true
	}
	match := scorePattern.FindString(trimmed)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return clamp(v), true
}

func fallbackRecord(weights appconfig.Weights, in Input, cause string) Record {
	scores := map[Dimension]float64{
		Relevance:          0.5,
		Accuracy:           0.5,
		Completeness:       0.5,
		Safety:             0.8,
		ContextUtilization: 0.5,
	}
	return Record{
		Query:           in.Query,
		GeneratedAnswer: in.GeneratedAnswer,
		ReferenceAnswer: in.ReferenceAnswer,
		Scores:          scores,
		OverallScore:    Overall(weights, scores),
		Method:          MethodFallback,
		Details:         map[string]any{"error": cause, "evaluation_method": MethodFallback},
		Timestamp:       time.Now().UTC(),
	}
}

func relevancePrompt(query, answer string) string {
	return fmt.Sprintf(`Evaluate how relevant this answer is to the given question on a scale of 0.0 to 1.0.

Question: %s
Answer: %s

Consider:
- Does the answer directly address the question?
- Is the information provided relevant to what was asked?
- Are there any off-topic elements?

%s`, query, answer, gradeInstruction)
}

func accuracyPrompt(answer, reference string) string {
	return fmt.Sprintf(`Compare these two answers and rate how accurate the generated answer is compared to the reference on a scale of 0.0 to 1.0.

Reference answer: %s
Generated answer: %s

Consider:
- Are the facts in the generated answer consistent with the reference?
- Is any key information missing or contradicted?

%s`, reference, answer, gradeInstruction)
}

func completenessPrompt(query, answer string) string {
	return fmt.Sprintf(`Evaluate how complete this answer is for the given question on a scale of 0.0 to 1.0.

Question: %s
Answer: %s

Consider:
- Does the answer address all parts of the question?
- Are key details provided?
- Is the explanation thorough enough?

%s`, query, answer, gradeInstruction)
}
