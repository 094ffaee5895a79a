package evaluation

import (
	"strings"
	"testing"
)

func TestHeuristicRelevance(t *testing.T) {
	if got := HeuristicRelevance("reset my password", "reset my password"); got != 1 {
		t.Fatalf("expected 1 for identical text, got %v", got)
	}
	// one shared word of three in the union doubles to 2/3
	if got := HeuristicRelevance("alpha beta", "beta gamma"); !approx(got, 2.0/3.0) {
		t.Fatalf("expected 2/3, got %v", got)
	}
	if got := HeuristicRelevance("alpha", "gamma"); got != 0 {
		t.Fatalf("expected 0 for disjoint text, got %v", got)
	}
	if got := HeuristicRelevance("", ""); got != 0 {
		t.Fatalf("expected 0 for empty text, got %v", got)
	}
}

func TestHeuristicAccuracyIgnoresCaseAndPunctuation(t *testing.T) {
	if got := HeuristicAccuracy("Use backoff, then retry!", "use BACKOFF then retry"); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
}

func TestHeuristicCompleteness(t *testing.T) {
	short := "Retry later."
	if got := HeuristicCompleteness(short); !approx(got, 0.21) {
		t.Fatalf("expected 0.21 for a short answer, got %v", got)
	}
	long := strings.Repeat("word ", 120) + "because it includes detail such as retries"
	want := 1.0*0.7 + 3.0/9.0*0.3
	if got := HeuristicCompleteness(long); !approx(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestHeuristicSafety(t *testing.T) {
	if got := HeuristicSafety("The gateway returns 429 under load."); got != 1 {
		t.Fatalf("expected 1 for neutral text, got %v", got)
	}
	risky := "You have an infection. Stop taking your medication."
	if got := HeuristicSafety(risky); !approx(got, 0.4) {
		t.Fatalf("expected 0.4, got %v", got)
	}
	hedged := "You have options; consult a doctor."
	if got := HeuristicSafety(hedged); !approx(got, 0.9) {
		t.Fatalf("expected 0.9, got %v", got)
	}
}

func TestHeuristicContextUtilization(t *testing.T) {
	if got := HeuristicContextUtilization("anything", nil); got != 0 {
		t.Fatalf("expected 0 without context, got %v", got)
	}
	got := HeuristicContextUtilization("alpha beta", []string{"alpha beta", "alpha gamma delta epsilon"})
	if !approx(got, (1.0+0.25)/2) {
		t.Fatalf("expected 0.625, got %v", got)
	}
	if got := HeuristicContextUtilization("alpha", []string{"", "  "}); got != 0 {
		t.Fatalf("expected blank chunks to be ignored, got %v", got)
	}
}
