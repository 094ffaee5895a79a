package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mwiater/ragguard/internal/conversation"
	"github.com/mwiater/ragguard/internal/evaluation"
	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/providers"
	"github.com/mwiater/ragguard/internal/rag"
)

const excerptRunes = 200

// ErrEmptyQuery is returned by ProcessQuery for a blank query.
var ErrEmptyQuery = errors.New("query is empty")

// Pipeline wires the components a query passes through. Every dependency is
// passed in; the pipeline holds no other shared state.
type Pipeline struct {
	guard     Guard
	retriever Retriever
	generator providers.Generator
	evaluator evaluation.Evaluator
	store     conversation.Store
	settings  atomic.Pointer[Settings]
	sessions  sessionLocks
}

// sessionLocks serializes transactions on the same session. Entries are
// dropped once no transaction holds or waits on them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sessionLock)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sessionLock{}
		l.locks[id] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// New returns a Pipeline. All dependencies are required.
func New(guard Guard, retriever Retriever, generator providers.Generator, evaluator evaluation.Evaluator, store conversation.Store, settings Settings) (*Pipeline, error) {
	switch {
	case guard == nil:
		return nil, errors.New("pipeline: guard is required")
	case retriever == nil:
		return nil, errors.New("pipeline: retriever is required")
	case generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case evaluator == nil:
		return nil, errors.New("pipeline: evaluator is required")
	case store == nil:
		return nil, errors.New("pipeline: store is required")
	}
	p := &Pipeline{guard: guard, retriever: retriever, generator: generator, evaluator: evaluator, store: store}
	p.Reconfigure(settings)
	return p, nil
}

// Reconfigure swaps the request-time settings. Requests already running keep
// the settings they started with.
func (p *Pipeline) Reconfigure(s Settings) {
	if strings.TrimSpace(s.SystemPrompt) == "" {
		s.SystemPrompt = defaultSystemPrompt
	}
	if s.HistoryTurns < 0 {
		s.HistoryTurns = 0
	}
	p.settings.Store(&s)
}

// Settings returns the active settings.
func (p *Pipeline) Settings() Settings { return *p.settings.Load() }

// transaction carries one query through the states.
type transaction struct {
	req      Request
	settings Settings
	resp     Response
}

func (t *transaction) enter(s State) {
	t.resp.Trace = append(t.resp.Trace, s)
	t.resp.State = s
	logging.LogDebug("[PIPELINE] session=%s state=%s", t.resp.SessionID, s)
}

// ProcessQuery answers req. Policy rejections, missing context, and backend
// failures all produce a Response; only a blank query or a storage failure
// returns an error. Queries on the same session run one at a time, from the
// history read to the persisted exchange.
func (p *Pipeline) ProcessQuery(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Response{}, ErrEmptyQuery
	}
	t := &transaction{req: req, settings: p.Settings()}
	t.resp.SessionID = strings.TrimSpace(req.SessionID)
	if t.resp.SessionID == "" {
		t.resp.SessionID = uuid.NewString()
	}
	unlock := p.sessions.lock(t.resp.SessionID)
	defer unlock()
	t.enter(StateReceived)

	verdict := p.guard.CheckInput(req.Query)
	t.enter(StateInputFiltered)
	if !verdict.Allowed {
		t.resp.Verdict = &verdict
		t.resp.Outcome = OutcomeRejected
		t.resp.Response = InputRejectedMessage
		t.enter(StateRejected)
		return p.finish(ctx, t)
	}

	history, err := p.store.History(ctx, t.resp.SessionID, t.settings.HistoryTurns)
	if err != nil {
		return t.resp, fmt.Errorf("loading history for session %s: %w", t.resp.SessionID, err)
	}

	retrieved, err := p.retrieve(ctx, t)
	if err != nil {
		logging.LogEvent("[PIPELINE] retrieval failed for session %s: %v", t.resp.SessionID, err)
		return p.fail(ctx, t)
	}
	t.enter(StateRetrieved)
	if len(retrieved.Hits) == 0 {
		t.resp.Outcome = OutcomeOutOfContext
		t.resp.Response = OutOfContextMessage
		t.enter(StateOutOfContext)
		return p.finish(ctx, t)
	}
	t.resp.ContextUsed = true
	t.resp.Sources = snapshots(retrieved.Hits)

	answer, err := p.generate(ctx, t, history, retrieved)
	switch {
	case err == nil:
		t.resp.Outcome = OutcomeAnswered
	case isTimeout(err):
		logging.LogEvent("[PIPELINE] generation timed out for session %s: %v", t.resp.SessionID, err)
		return p.fail(ctx, t)
	default:
		logging.LogEvent("[PIPELINE] generation failed for session %s, answering from context: %v", t.resp.SessionID, err)
		answer = extractiveAnswer(retrieved.Hits[0])
		t.resp.Outcome = OutcomeDegraded
	}
	t.enter(StateGenerated)

	screened := p.guard.CheckOutput(answer)
	t.enter(StateOutputFiltered)
	if !screened.Allowed {
		t.resp.Verdict = &screened.Verdict
		t.resp.Outcome = OutcomeRejected
		t.resp.Response = OutputBlockedMessage
		if screened.Substituted {
			t.resp.Response = screened.Text
		}
		t.enter(StateRejected)
		return p.finish(ctx, t)
	}
	t.resp.Response = screened.Text

	rec := p.evaluator.Evaluate(ctx, evaluation.Input{
		Query:            req.Query,
		GeneratedAnswer:  answer,
		ReferenceAnswer:  req.ReferenceAnswer,
		RetrievedContext: rag.ContextTexts(retrieved.Hits),
	})
	t.resp.Evaluation = &rec
	t.resp.ConfidenceScore = rec.OverallScore
	t.enter(StateEvaluated)
	return p.finish(ctx, t)
}

func (p *Pipeline) retrieve(ctx context.Context, t *transaction) (rag.RetrievalResult, error) {
	callCtx, cancel := p.withTimeout(ctx, t.settings)
	defer cancel()
	return p.retriever.Retrieve(callCtx, t.req.Query, t.req.Filter)
}

func (p *Pipeline) generate(ctx context.Context, t *transaction, history []conversation.Message, retrieved rag.RetrievalResult) (string, error) {
	callCtx, cancel := p.withTimeout(ctx, t.settings)
	defer cancel()

	req := providers.CompletionRequest{
		SystemPrompt: t.settings.SystemPrompt,
		History:      chatHistory(history),
		UserPrompt:   userPrompt(t.req.Query, retrieved.Context),
		Temperature:  t.settings.Temperature,
		MaxTokens:    t.settings.MaxTokens,
	}
	answer, err := p.generator.Complete(callCtx, req)
	if err != nil {
		if cerr := callCtx.Err(); cerr != nil && !errors.Is(err, cerr) {
			err = fmt.Errorf("%w: %w", cerr, err)
		}
		return "", err
	}
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%w: empty completion from %s", providers.ErrBackend, p.generator.Model())
	}
	return answer, nil
}

func (p *Pipeline) withTimeout(ctx context.Context, s Settings) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Timeout)
}

func (p *Pipeline) fail(ctx context.Context, t *transaction) (Response, error) {
	t.resp.Outcome = OutcomeFailed
	t.resp.Response = FailureMessage
	t.resp.ContextUsed = false
	t.resp.Sources = nil
	t.enter(StateFailed)
	return p.finish(ctx, t)
}

// finish persists the user turn and the reply, then marks the transaction
// responded. The terminal state reported to the caller is the last decisive
// state, not PERSISTED or RESPONDED.
func (p *Pipeline) finish(ctx context.Context, t *transaction) (Response, error) {
	terminal := t.resp.State
	if terminal == StateEvaluated {
		terminal = StateResponded
	}

	// Persistence outlives a cancelled request so the session stays consistent.
	storeCtx := context.WithoutCancel(ctx)
	query := conversation.Message{Role: conversation.RoleUser, Content: t.req.Query}
	reply := conversation.Message{
		Role:            conversation.RoleAssistant,
		Content:         t.resp.Response,
		ContextUsed:     t.resp.ContextUsed,
		ConfidenceScore: conversation.Float(t.resp.ConfidenceScore),
		Sources:         t.resp.Sources,
	}
	if _, err := p.store.Append(storeCtx, t.resp.SessionID, query, reply); err != nil {
		return t.resp, fmt.Errorf("persisting exchange: %w", err)
	}
	t.enter(StatePersisted)
	t.enter(StateResponded)
	t.resp.State = terminal
	return t.resp, nil
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func chatHistory(messages []conversation.Message) []providers.ChatMessage {
	out := make([]providers.ChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, providers.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func userPrompt(query, contextBlock string) string {
	return fmt.Sprintf(`Answer the question using the CONTEXT below. If the CONTEXT does not contain the answer, say so.

%s

Question: %s`, contextBlock, query)
}

func extractiveAnswer(hit rag.RetrievalHit) string {
	return fmt.Sprintf("%s\n\n[%s] %s", degradedPreamble, rag.Citation(hit.Chunk), strings.TrimSpace(hit.Chunk.Text))
}

func snapshots(hits []rag.RetrievalHit) []conversation.SourceSnapshot {
	out := make([]conversation.SourceSnapshot, 0, len(hits))
	for _, h := range hits {
		out = append(out, conversation.SourceSnapshot{
			ChunkID:    h.Chunk.ID,
			DocumentID: h.Chunk.DocumentID,
			Source:     h.Chunk.Source(),
			Ordinal:    h.Chunk.Ordinal,
			Similarity: h.Similarity,
			Excerpt:    excerpt(h.Chunk.Text),
		})
	}
	return out
}

func excerpt(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= excerptRunes {
		return string(runes)
	}
	return string(runes[:excerptRunes]) + "..."
}
