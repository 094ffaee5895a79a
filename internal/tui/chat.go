// internal/tui/chat.go
// Package tui provides the interactive terminal chat client.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mwiater/ragguard/internal/logging"
	"github.com/mwiater/ragguard/internal/pipeline"
)

// Querier answers one chat turn. *pipeline.Pipeline satisfies it.
type Querier interface {
	ProcessQuery(ctx context.Context, req pipeline.Request) (pipeline.Response, error)
}

// Options configures the chat client.
type Options struct {
	SessionID string
	Backend   string
	Status    string
	Debug     bool
}

// turn is one rendered exchange entry.
type turn struct {
	role     string
	content  string
	response *pipeline.Response
}

// model is the Bubble Tea model for the chat client.
type model struct {
	ctx              context.Context
	querier          Querier
	opts             Options
	sessionID        string
	isLoading        bool
	err              error
	textArea         textarea.Model
	viewport         viewport.Model
	spinner          spinner.Model
	turns            []turn
	width, height    int
	requestStartTime time.Time
}

// answerMsg carries a finished pipeline response.
type answerMsg struct{ resp pipeline.Response }

// answerErr is sent when the pipeline returns an error.
type answerErr struct{ error }

// tickMsg drives the elapsed timer while a request is in flight.
type tickMsg time.Time

func initialModel(ctx context.Context, q Querier, opts Options) *model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ta := textarea.New()
	ta.Placeholder = "Ask about the indexed documentation..."
	ta.Focus()
	ta.Prompt = "Ask Anything: "
	ta.ShowLineNumbers = false
	ta.CharLimit = -1
	ta.SetHeight(1)
	ta.KeyMap.InsertNewline.SetEnabled(false)

	return &model{
		ctx:       ctx,
		querier:   q,
		opts:      opts,
		sessionID: opts.SessionID,
		spinner:   s,
		textArea:  ta,
		viewport:  viewport.New(100, 5),
	}
}

// askCmd runs one query through the pipeline off the UI goroutine.
func askCmd(ctx context.Context, q Querier, sessionID, query string) tea.Cmd {
	return func() tea.Msg {
		logging.LogDebug("[TUI] asking session=%s query=%q", sessionID, query)
		resp, err := q.ProcessQuery(ctx, pipeline.Request{SessionID: sessionID, Query: query})
		if err != nil {
			return answerErr{error: err}
		}
		return answerMsg{resp: resp}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the spinner animation.
func (m *model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles key presses, resizes, and pipeline results.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.textArea.SetWidth(msg.Width - 3)
		headerHeight := 3
		footerHeight := 4
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-headerHeight-footerHeight, 1)

	case answerMsg:
		m.isLoading = false
		if msg.resp.SessionID != "" {
			m.sessionID = msg.resp.SessionID
		}
		resp := msg.resp
		m.turns = append(m.turns, turn{role: "assistant", content: resp.Response, response: &resp})
		m.textArea.Focus()
		m.viewport.GotoBottom()
		return m, nil

	case answerErr:
		m.isLoading = false
		m.err = msg.error
		m.textArea.Focus()
		return m, nil

	case tickMsg:
		if m.isLoading {
			return m, tickCmd()
		}
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	if !m.isLoading {
		m.textArea, cmd = m.textArea.Update(msg)
		cmds = append(cmds, cmd)
	}

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" && !m.isLoading {
		userInput := strings.TrimSpace(m.textArea.Value())
		if userInput != "" {
			m.turns = append(m.turns, turn{role: "user", content: userInput})
			m.textArea.Reset()
			m.isLoading = true
			m.err = nil
			m.requestStartTime = time.Now()
			cmds = append(cmds, m.spinner.Tick, askCmd(m.ctx, m.querier, m.sessionID, userInput), tickCmd())
		}
	}

	if m.isLoading {
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the header, transcript, and input line.
func (m *model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var builder strings.Builder
	labelStyle := lipgloss.NewStyle().Background(lipgloss.Color("0")).Foreground(lipgloss.Color("255")).Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230")).Padding(0, 1).MarginLeft(1)

	session := m.sessionID
	if session == "" {
		session = "new"
	}
	status := lipgloss.JoinHorizontal(lipgloss.Top,
		labelStyle.Render("ragguard"),
		headerStyle.Render("Backend: "+m.opts.Backend),
		renderStatusBadge(m.opts.Status),
		headerStyle.Render("Session: "+session),
	)
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render(" (enter to send, esc to quit)")
	builder.WriteString(status + help + "\n\n")

	var historyBuilder strings.Builder
	userStyle := lipgloss.NewStyle().Bold(true)
	assistantStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	width := max(m.width-2, 10)

	for _, t := range m.turns {
		var role string
		if t.role == "assistant" {
			role = assistantStyle.Render("Assistant: ")
		} else {
			role = userStyle.Render("You: ")
		}
		wrapped := lipgloss.NewStyle().Width(max(width-lipgloss.Width(role), 10)).Render(t.content)
		historyBuilder.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, role, wrapped) + "\n")
		if t.response != nil {
			historyBuilder.WriteString(formatMeta(*t.response, m.opts.Debug) + "\n")
		}
	}

	m.viewport.SetContent(historyBuilder.String())
	builder.WriteString(m.viewport.View())

	if m.err != nil {
		errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
		builder.WriteString("\n" + errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	if m.isLoading {
		timer := fmt.Sprintf("%.1f", time.Since(m.requestStartTime).Seconds())
		builder.WriteString("\n" + m.spinner.View() + fmt.Sprintf(" Assistant is thinking... %ss", timer))
	} else {
		builder.WriteString("\n" + m.textArea.View())
	}

	return builder.String()
}

// formatMeta renders the outcome line under an answer. Debug adds the state trace.
func formatMeta(resp pipeline.Response, debug bool) string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	parts := []string{fmt.Sprintf("[Outcome: %s]", resp.Outcome)}
	if resp.Evaluation != nil {
		parts = append(parts, fmt.Sprintf("[Confidence: %.2f]", resp.ConfidenceScore))
	}
	if len(resp.Sources) > 0 {
		names := make([]string, 0, len(resp.Sources))
		for _, s := range resp.Sources {
			names = append(names, fmt.Sprintf("%s#%d", s.Source, s.Ordinal))
		}
		parts = append(parts, "[Sources: "+strings.Join(names, ", ")+"]")
	}
	if resp.Verdict != nil && !resp.Verdict.Allowed {
		parts = append(parts, fmt.Sprintf("[Blocked: %s]", resp.Verdict.Category))
	}
	if debug {
		trace := make([]string, 0, len(resp.Trace))
		for _, s := range resp.Trace {
			trace = append(trace, string(s))
		}
		parts = append(parts, "[Trace: "+strings.Join(trace, " > ")+"]")
	}
	return style.Render("  >>> " + strings.Join(parts, " "))
}

// Start runs the chat client until the user quits.
func Start(ctx context.Context, q Querier, opts Options) error {
	m := initialModel(ctx, q, opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running chat: %w", err)
	}
	return nil
}
