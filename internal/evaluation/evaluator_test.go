package evaluation

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/mwiater/ragguard/internal/appconfig"
	"github.com/mwiater/ragguard/internal/providers"
)

var testWeights = appconfig.Weights{
	Relevance:          0.25,
	Accuracy:           0.30,
	Completeness:       0.20,
	Safety:             0.15,
	ContextUtilization: 0.10,
}

type fakeGrader struct {
	mu      sync.Mutex
	replies []string
	err     error
	panics  bool
	prompts []string
}

func (f *fakeGrader) Complete(_ context.Context, req providers.CompletionRequest) (string, error) {
	if f.panics {
		panic("grader exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.UserPrompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeGrader) Model() string { return "grader" }

func newHeuristic(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Options{Weights: testWeights})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return svc
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEvaluateIdenticalAnswerAndReference(t *testing.T) {
	answer := "Rotate the token because it expired and the gateway rejects it."
	rec := newHeuristic(t).Evaluate(context.Background(), Input{
		Query:           "why is my token rejected",
		GeneratedAnswer: answer,
		ReferenceAnswer: answer,
	})
	if !approx(rec.Scores[Accuracy], 1.0) {
		t.Fatalf("expected accuracy 1.0, got %v", rec.Scores[Accuracy])
	}
	if rec.Method != MethodHeuristic {
		t.Fatalf("expected heuristic method, got %s", rec.Method)
	}
}

func TestEvaluateScoresInRange(t *testing.T) {
	rec := newHeuristic(t).Evaluate(context.Background(), Input{
		Query:            "what causes timeouts",
		GeneratedAnswer:  "Timeouts happen because the upstream is slow. Consult the documentation such as the runbook.",
		ReferenceAnswer:  "Slow upstream services cause timeouts.",
		RetrievedContext: []string{"upstream is slow", "runbook documentation"},
	})
	if len(rec.Scores) != len(Dimensions) {
		t.Fatalf("expected all dimensions, got %v", rec.Scores)
	}
	min, max := 1.0, 0.0
	for d, s := range rec.Scores {
		if s < 0 || s > 1 {
			t.Fatalf("%s out of range: %v", d, s)
		}
		min = math.Min(min, s)
		max = math.Max(max, s)
	}
	if rec.OverallScore < min-1e-9 || rec.OverallScore > max+1e-9 {
		t.Fatalf("overall %v outside [%v, %v]", rec.OverallScore, min, max)
	}
}

func TestEvaluateMissingReferenceRenormalizes(t *testing.T) {
	rec := newHeuristic(t).Evaluate(context.Background(), Input{
		Query:           "how do I retry",
		GeneratedAnswer: "Retry with backoff.",
	})
	if _, ok := rec.Scores[Accuracy]; ok {
		t.Fatal("expected accuracy to be skipped without a reference")
	}
	want := (0.25*rec.Scores[Relevance] + 0.20*rec.Scores[Completeness] + 0.15*rec.Scores[Safety] + 0.10*rec.Scores[ContextUtilization]) / 0.70
	if !approx(rec.OverallScore, want) {
		t.Fatalf("expected renormalized overall %v, got %v", want, rec.OverallScore)
	}
	if rec.Scores[ContextUtilization] != 0 {
		t.Fatalf("expected zero context utilization without context, got %v", rec.Scores[ContextUtilization])
	}
}

func TestOverallIsConvexCombination(t *testing.T) {
	cases := []map[Dimension]float64{
		{Relevance: 0, Accuracy: 1, Completeness: 0.5, Safety: 0.2, ContextUtilization: 0.9},
		{Relevance: 0.7, Completeness: 0.7, Safety: 0.7},
		{Safety: 0.4},
	}
	for _, scores := range cases {
		lo, hi := 1.0, 0.0
		for _, s := range scores {
			lo = math.Min(lo, s)
			hi = math.Max(hi, s)
		}
		got := Overall(testWeights, scores)
		if got < lo-1e-9 || got > hi+1e-9 {
			t.Fatalf("Overall(%v) = %v, outside [%v, %v]", scores, got, lo, hi)
		}
	}
	if Overall(testWeights, nil) != 0 {
		t.Fatal("expected zero overall for no scores")
	}
}

func TestGoldenReferenceLookup(t *testing.T) {
	svc, err := New(Options{Weights: testWeights, Golden: NewGoldenSet(defaultGoldenExamples)})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	rec := svc.Evaluate(context.Background(), Input{
		Query:           "I get 401 unauthorized on authentication",
		GeneratedAnswer: "Check your bearer token.",
	})
	if _, ok := rec.Scores[Accuracy]; !ok {
		t.Fatal("expected accuracy scored from golden reference")
	}
	if rec.Details["reference_source"] != "golden_dataset" {
		t.Fatalf("expected golden reference source, got %v", rec.Details)
	}
}

func TestModelStrategyUsesGrader(t *testing.T) {
	grader := &fakeGrader{replies: []string{"0.9", "Score: 0.4", "not a number"}}
	svc, err := New(Options{Weights: testWeights, Strategy: StrategyModel, Generator: grader})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	in := Input{Query: "q words", GeneratedAnswer: "a short answer", ReferenceAnswer: "a short answer"}
	rec := svc.Evaluate(context.Background(), in)

	if rec.Method != MethodModel {
		t.Fatalf("expected model method, got %s", rec.Method)
	}
	if !approx(rec.Scores[Relevance], 0.9) || !approx(rec.Scores[Accuracy], 0.4) {
		t.Fatalf("unexpected graded scores: %v", rec.Scores)
	}
	if !approx(rec.Scores[Completeness], HeuristicCompleteness(in.GeneratedAnswer)) {
		t.Fatalf("expected completeness heuristic fallback, got %v", rec.Scores[Completeness])
	}
	if _, ok := rec.Details["completeness_fallback"]; !ok {
		t.Fatalf("expected fallback detail, got %v", rec.Details)
	}
	for _, p := range grader.prompts {
		if !strings.Contains(p, gradeInstruction) {
			t.Fatalf("prompt missing instruction: %q", p)
		}
	}
}

func TestModelStrategyGraderError(t *testing.T) {
	grader := &fakeGrader{err: errors.New("backend down")}
	svc, err := New(Options{Weights: testWeights, Strategy: StrategyModel, Generator: grader})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	in := Input{Query: "retry policy", GeneratedAnswer: "use retry policy"}
	rec := svc.Evaluate(context.Background(), in)
	if !approx(rec.Scores[Relevance], HeuristicRelevance(in.Query, in.GeneratedAnswer)) {
		t.Fatalf("expected heuristic relevance, got %v", rec.Scores[Relevance])
	}
}

func TestEvaluatePanicYieldsFallback(t *testing.T) {
	history := NewHistory("")
	svc, err := New(Options{Weights: testWeights, Strategy: StrategyModel, Generator: &fakeGrader{panics: true}, History: history})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	rec := svc.Evaluate(context.Background(), Input{Query: "q", GeneratedAnswer: "a"})
	if rec.Method != MethodFallback || rec.Details["evaluation_method"] != MethodFallback {
		t.Fatalf("expected fallback record, got %+v", rec)
	}
	if rec.Scores[Safety] != 0.8 || rec.Scores[Relevance] != 0.5 {
		t.Fatalf("unexpected fallback scores: %v", rec.Scores)
	}
	want := 0.25*0.5 + 0.30*0.5 + 0.20*0.5 + 0.15*0.8 + 0.10*0.5
	if !approx(rec.OverallScore, want) {
		t.Fatalf("expected overall %v, got %v", want, rec.OverallScore)
	}
	if _, ok := rec.Details["error"]; !ok {
		t.Fatal("expected error detail")
	}
	if history.Metrics().TotalEvaluations != 1 {
		t.Fatal("expected fallback record to be kept in history")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	bad := testWeights
	bad.Safety = 0.5
	var cfgErr *appconfig.ConfigurationError
	if _, err := New(Options{Weights: bad}); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for weights, got %v", err)
	}
	if _, err := New(Options{Weights: testWeights, Strategy: "magic"}); !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for strategy, got %v", err)
	}
	svc, err := New(Options{Weights: testWeights, Strategy: StrategyModel})
	if err != nil || svc.Strategy() != StrategyHeuristic {
		t.Fatalf("expected heuristic without generator, got %v, %v", svc, err)
	}
}

func TestEvaluateBatchMeans(t *testing.T) {
	svc := newHeuristic(t)
	res := svc.EvaluateBatch(context.Background(), []Input{
		{Query: "alpha beta", GeneratedAnswer: "alpha beta", ReferenceAnswer: "alpha beta"},
		{Query: "alpha beta", GeneratedAnswer: "gamma delta"},
	})
	if res.Count != 2 || len(res.Records) != 2 {
		t.Fatalf("unexpected batch size: %+v", res)
	}
	wantRel := round3((res.Records[0].Scores[Relevance] + res.Records[1].Scores[Relevance]) / 2)
	if res.Averages[Relevance] != wantRel {
		t.Fatalf("expected relevance mean %v, got %v", wantRel, res.Averages[Relevance])
	}
	if res.Averages[Accuracy] != 1 {
		t.Fatalf("expected accuracy mean over scored records only, got %v", res.Averages[Accuracy])
	}
	if empty := svc.EvaluateBatch(context.Background(), nil); empty.Count != 0 || empty.AverageOverall != 0 {
		t.Fatalf("unexpected empty batch: %+v", empty)
	}
}

func TestReconfigureWeights(t *testing.T) {
	svc := newHeuristic(t)
	next := appconfig.Weights{Relevance: 1}
	if err := svc.Reconfigure(next); err != nil {
		t.Fatalf("Reconfigure error: %v", err)
	}
	rec := svc.Evaluate(context.Background(), Input{Query: "alpha", GeneratedAnswer: "alpha"})
	if !approx(rec.OverallScore, rec.Scores[Relevance]) {
		t.Fatalf("expected relevance-only overall, got %v", rec.OverallScore)
	}
	if err := svc.Reconfigure(appconfig.Weights{Relevance: 0.5}); err == nil {
		t.Fatal("expected invalid weights to be rejected")
	}
}

func TestParseScore(t *testing.T) {
	cases := map[string]float64{"0.85": 0.85, " 1 ": 1, "Score: 0.3": 0.3, "1.7": 1, ".5": 0.5, "Score: -0.4": 0, "-2": 0, "score -.5 of 1": 0}
	for in, want := range cases {
		got, ok := parseScore(in)
		if !ok || !approx(got, want) {
			t.Fatalf("parseScore(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	for _, in := range []string{"", "none", "NaN"} {
		if _, ok := parseScore(in); ok {
			t.Fatalf("expected parse failure for %q", in)
		}
	}
}
