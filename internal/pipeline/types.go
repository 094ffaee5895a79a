// Package pipeline runs one query through the guardrails, retrieval,
// generation, evaluation, and persistence steps.
package pipeline

import (
	"context"
	"time"

	"github.com/mwiater/ragguard/internal/conversation"
	"github.com/mwiater/ragguard/internal/evaluation"
	"github.com/mwiater/ragguard/internal/guardrails"
	"github.com/mwiater/ragguard/internal/rag"
)

// State is a step of a query transaction.
type State string

const (
	StateReceived       State = "RECEIVED"
	StateInputFiltered  State = "INPUT_FILTERED"
	StateRejected       State = "REJECTED"
	StateRetrieved      State = "RETRIEVED"
	StateOutOfContext   State = "OUT_OF_CONTEXT"
	StateGenerated      State = "GENERATED"
	StateOutputFiltered State = "OUTPUT_FILTERED"
	StateEvaluated      State = "EVALUATED"
	StatePersisted      State = "PERSISTED"
	StateResponded      State = "RESPONDED"
	StateFailed         State = "FAILED"
)

// Outcome classifies the answer the caller received.
type Outcome string

const (
	OutcomeAnswered     Outcome = "answered"
	OutcomeDegraded     Outcome = "degraded"
	OutcomeRejected     Outcome = "rejected"
	OutcomeOutOfContext Outcome = "out_of_context"
	OutcomeFailed       Outcome = "failed"
)

// Fixed replies for the paths that never reach the generator.
const (
	OutOfContextMessage  = "Sorry!! The query is out of my context or knowledge base. Please ask questions related to the indexed documentation."
	InputRejectedMessage = "Sorry! Your query contains inappropriate content. Please rephrase your question."
	OutputBlockedMessage = "Sorry! The generated answer did not pass our content checks. Please rephrase your question."
	FailureMessage       = "I apologize, but I'm experiencing technical difficulties. Please try again later."
	degradedPreamble     = "I can't reach the language model right now. The most relevant passage I found is:"
)

const defaultSystemPrompt = `You are a troubleshooting assistant. Your role is to:

1. Answer questions using only the provided CONTEXT
2. Provide clear, actionable solutions
3. Cite the [doc:...] sources you relied on
4. If the CONTEXT does not cover the question, say so plainly

Be concise but thorough.`

// Guard screens queries and answers.
type Guard interface {
	CheckInput(text string) guardrails.Verdict
	CheckOutput(text string) guardrails.OutputResult
}

// Retriever finds context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, filter map[string]string) (rag.RetrievalResult, error)
}

// Settings are the request-time knobs. They can be swapped with Reconfigure.
type Settings struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	// HistoryTurns is how many earlier messages are sent to the generator.
	HistoryTurns int
	// Timeout bounds each embedder and generator call.
	Timeout time.Duration
}

// Request is one user query.
type Request struct {
	SessionID       string            `json:"session_id,omitempty"`
	Query           string            `json:"query"`
	Filter          map[string]string `json:"filter,omitempty"`
	ReferenceAnswer string            `json:"reference_answer,omitempty"`
}

// Response is what the caller sees.
type Response struct {
	SessionID       string                        `json:"session_id"`
	Response        string                        `json:"response"`
	ContextUsed     bool                          `json:"context_used"`
	ConfidenceScore float64                       `json:"confidence_score"`
	Outcome         Outcome                       `json:"outcome"`
	State           State                         `json:"state"`
	Verdict         *guardrails.Verdict           `json:"verdict,omitempty"`
	Sources         []conversation.SourceSnapshot `json:"sources,omitempty"`
	Evaluation      *evaluation.Record            `json:"evaluation,omitempty"`
	Trace           []State                       `json:"trace"`
}
