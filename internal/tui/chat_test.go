// internal/tui/chat_test.go
package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mwiater/ragguard/internal/conversation"
	"github.com/mwiater/ragguard/internal/evaluation"
	"github.com/mwiater/ragguard/internal/guardrails"
	"github.com/mwiater/ragguard/internal/pipeline"
)

type fakeQuerier struct {
	resp     pipeline.Response
	err      error
	requests []pipeline.Request
}

func (f *fakeQuerier) ProcessQuery(_ context.Context, req pipeline.Request) (pipeline.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return pipeline.Response{}, f.err
	}
	return f.resp, nil
}

func TestChatTurn_StateTransitions_And_View(t *testing.T) {
	q := &fakeQuerier{resp: pipeline.Response{
		SessionID:       "s-1",
		Response:        "Use a bearer token.",
		ConfidenceScore: 0.82,
		Outcome:         pipeline.OutcomeAnswered,
		Evaluation:      &evaluation.Record{OverallScore: 0.82},
		Sources:         []conversation.SourceSnapshot{{Source: "auth.md", Ordinal: 0}},
		Trace:           []pipeline.State{pipeline.StateReceived, pipeline.StateResponded},
	}}
	m := initialModel(context.Background(), q, Options{Backend: "ollama", Status: "ready", Debug: true})

	_, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})

	m.textArea.SetValue("how do I authenticate?")
	m2, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = m2.(*model)
	if !m.isLoading {
		t.Fatalf("expected loading after sending a message")
	}
	if len(m.turns) != 1 || m.turns[0].role != "user" {
		t.Fatalf("expected one user turn, got %+v", m.turns)
	}
	if m.textArea.Value() != "" {
		t.Fatalf("expected input to be cleared, got %q", m.textArea.Value())
	}
	if cmd == nil {
		t.Fatalf("expected a command to be scheduled")
	}

	msg := askCmd(context.Background(), q, m.sessionID, "how do I authenticate?")()
	answer, ok := msg.(answerMsg)
	if !ok {
		t.Fatalf("expected answerMsg, got %T", msg)
	}
	m2, _ = m.Update(answer)
	m = m2.(*model)
	if m.isLoading {
		t.Fatalf("expected loading to stop after the answer")
	}
	if m.sessionID != "s-1" {
		t.Fatalf("expected session id to be adopted, got %q", m.sessionID)
	}
	if len(m.turns) != 2 || m.turns[1].role != "assistant" {
		t.Fatalf("expected assistant turn, got %+v", m.turns)
	}

	out := m.View()
	for _, want := range []string{"You:", "Assistant:", "Outcome: answered", "Status: ready"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in view output:\n%s", want, out)
		}
	}
}

func TestChatTurn_SessionIsReused(t *testing.T) {
	q := &fakeQuerier{resp: pipeline.Response{SessionID: "abc", Outcome: pipeline.OutcomeAnswered}}
	m := initialModel(context.Background(), q, Options{SessionID: "abc"})
	_ = askCmd(context.Background(), q, m.sessionID, "first")()
	_ = askCmd(context.Background(), q, m.sessionID, "second")()

	if len(q.requests) != 2 {
		t.Fatalf("expected two requests, got %d", len(q.requests))
	}
	for _, req := range q.requests {
		if req.SessionID != "abc" {
			t.Fatalf("expected session abc, got %q", req.SessionID)
		}
	}
}

func TestChatTurn_ErrorIsShown(t *testing.T) {
	q := &fakeQuerier{err: errors.New("store offline")}
	m := initialModel(context.Background(), q, Options{})
	_, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 20})

	msg := askCmd(context.Background(), q, "", "hello")()
	if _, ok := msg.(answerErr); !ok {
		t.Fatalf("expected answerErr, got %T", msg)
	}
	m.isLoading = true
	m2, _ := m.Update(msg)
	m = m2.(*model)
	if m.isLoading || m.err == nil {
		t.Fatalf("expected error state, loading=%v err=%v", m.isLoading, m.err)
	}
	if !strings.Contains(m.View(), "store offline") {
		t.Fatalf("expected error in view")
	}
}

func TestBlankInputIsIgnored(t *testing.T) {
	q := &fakeQuerier{}
	m := initialModel(context.Background(), q, Options{})
	m.textArea.SetValue("   ")
	m2, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = m2.(*model)
	if m.isLoading || len(m.turns) != 0 {
		t.Fatalf("expected blank input to be ignored")
	}
}

func TestQuitKeys(t *testing.T) {
	m := initialModel(context.Background(), &fakeQuerier{}, Options{})
	for _, key := range []tea.KeyMsg{{Type: tea.KeyEsc}, {Type: tea.KeyCtrlC}} {
		_, cmd := m.Update(key)
		if cmd == nil {
			t.Fatalf("expected quit command for %q", key.String())
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("expected tea.QuitMsg for %q", key.String())
		}
	}
}

func TestFormatMeta_ShowsBlockedCategory(t *testing.T) {
	resp := pipeline.Response{
		Outcome: pipeline.OutcomeRejected,
		Verdict: &guardrails.Verdict{Category: guardrails.CategoryPromptInjection, Reason: "blocked"},
	}
	out := formatMeta(resp, false)
	if !strings.Contains(out, "Outcome: rejected") || !strings.Contains(out, "Blocked: prompt_injection") {
		t.Fatalf("unexpected meta line %q", out)
	}
	if strings.Contains(out, "Trace") {
		t.Fatalf("trace should only be shown in debug mode: %q", out)
	}
}

func TestStatusBadge(t *testing.T) {
	cases := map[string]string{"ready": "Status: ready", "degraded": "Status: degraded", "": "Status: unknown"}
	for in, want := range cases {
		if got := formatStatusIndicator(in); got != want {
			t.Fatalf("formatStatusIndicator(%q) = %q, want %q", in, got, want)
		}
		if !strings.Contains(renderStatusBadge(in), want) {
			t.Fatalf("badge for %q missing %q", in, want)
		}
	}
}
