// Package tui provides the full-screen Bubble Tea editor.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/manash/promptbridge/internal/display"
	"github.com/manash/promptbridge/internal/session"
	"github.com/manash/promptbridge/pkg/models"
)

const (
	minWidth    = 40
	inputHeight = 8
	barWidth    = 16
)

// stateChangedMsg tells the model to re-read the controller snapshot.
type stateChangedMsg struct{}

type optimizeDoneMsg struct{ err error }

// Model is the root Bubble Tea model for the editor.
type Model struct {
	ctx       context.Context
	ctrl      *session.Controller
	changes   chan struct{}
	clipboard func(string) error

	input   textarea.Model
	output  viewport.Model
	spinner spinner.Model

	state       session.State
	flash       string
	flashIsErr  bool
	templateIdx int
	width       int
	height      int
}

type Option func(*Model)

// WithClipboard sets the function used by the copy key.
func WithClipboard(fn func(string) error) Option {
	return func(m *Model) { m.clipboard = fn }
}

// New creates the editor model and subscribes it to controller changes.
func New(ctx context.Context, ctrl *session.Controller, opts ...Option) *Model {
	ta := textarea.New()
	ta.Placeholder = "Describe what you want the AI to do..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.Focus()

	m := &Model{
		ctx:         ctx,
		ctrl:        ctrl,
		changes:     make(chan struct{}, 1),
		input:       ta,
		output:      viewport.New(80, 10),
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		templateIdx: -1,
	}
	for _, o := range opts {
		o(m)
	}

	ctrl.OnChange(func(session.State) {
		select {
		case m.changes <- struct{}{}:
		default:
		}
	})
	m.refresh()
	return m
}

// Run starts the editor full screen and blocks until the user quits.
func Run(ctx context.Context, ctrl *session.Controller, opts ...Option) error {
	p := tea.NewProgram(New(ctx, ctrl, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.waitForChange())
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return stateChangedMsg{}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case stateChangedMsg:
		m.refresh()
		return m, m.waitForChange()

	case optimizeDoneMsg:
		m.refresh()
		switch {
		case msg.err == nil:
			m.setFlash("Optimized.", false)
		case errors.Is(msg.err, session.ErrSuperseded):
			m.setFlash("Discarded a response for an older prompt.", false)
		case errors.Is(msg.err, session.ErrBusy):
			m.setFlash("Still working on the previous request.", true)
		default:
			m.setFlash(msg.err.Error(), true)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	var cmds []tea.Cmd
	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	if after := m.input.Value(); after != before {
		m.flash = ""
		m.ctrl.SetInput(after)
		m.refresh()
	}

	m.output, cmd = m.output.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit, true

	case key.Matches(msg, keys.Optimize):
		if strings.TrimSpace(m.input.Value()) == "" {
			m.setFlash("Please enter a prompt to optimize.", true)
			return nil, true
		}
		if m.state.Status == models.StatusLoading {
			m.setFlash("Still working on the previous request.", true)
			return nil, true
		}
		m.flash = ""
		return m.optimize(), true

	case key.Matches(msg, keys.Mode):
		next := m.state.Config.Mode.Next()
		if err := m.ctrl.SetMode(m.ctx, next); err != nil {
			m.setFlash(err.Error(), true)
		} else {
			m.setFlash("Mode: "+string(next), false)
		}

	case key.Matches(msg, keys.Target):
		next := m.state.Config.Target.Next()
		if err := m.ctrl.SetTarget(m.ctx, next); err != nil {
			m.setFlash(err.Error(), true)
		} else {
			m.setFlash("Target: "+string(next), false)
		}

	case key.Matches(msg, keys.Auto):
		m.ctrl.SetAutoIterate(!m.state.AutoIterate)
		if m.state.AutoIterate {
			m.setFlash("Auto-iterate off.", false)
		} else {
			m.setFlash(fmt.Sprintf("Auto-iterate on (up to %d rounds).", session.MaxIterations), false)
		}

	case key.Matches(msg, keys.Template):
		all := session.Templates()
		m.templateIdx = (m.templateIdx + 1) % len(all)
		t, err := m.ctrl.LoadTemplate(all[m.templateIdx].ID)
		if err != nil {
			m.setFlash(err.Error(), true)
		} else {
			m.setFlash("Template: "+t.Name, false)
		}

	case key.Matches(msg, keys.Copy):
		m.copyOutput()

	case key.Matches(msg, keys.Clear):
		m.ctrl.Clear()
		m.setFlash("Cleared.", false)

	case key.Matches(msg, keys.Restore):
		records := m.ctrl.History()
		if len(records) == 0 {
			m.setFlash("No history yet.", true)
			break
		}
		if _, err := m.ctrl.Restore(records[0].ID); err != nil {
			m.setFlash(err.Error(), true)
		} else {
			m.setFlash("Restored the latest optimization.", false)
		}

	default:
		return nil, false
	}

	m.refresh()
	return nil, true
}

func (m *Model) optimize() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return optimizeDoneMsg{err: ctrl.Optimize(ctx)}
	}
}

func (m *Model) copyOutput() {
	out, err := m.ctrl.Output()
	if err != nil {
		m.setFlash("Nothing to copy yet.", true)
		return
	}
	if m.clipboard == nil {
		m.setFlash("Clipboard is not available.", true)
		return
	}
	if err := m.clipboard(out); err != nil {
		m.setFlash("Copy failed: "+err.Error(), true)
		return
	}
	m.setFlash("Copied to clipboard.", false)
}

func (m *Model) setFlash(s string, isErr bool) {
	m.flash = s
	m.flashIsErr = isErr
}

// refresh pulls the latest snapshot and syncs the widgets to it.
func (m *Model) refresh() {
	m.state = m.ctrl.Snapshot()
	if m.state.Input != m.input.Value() {
		m.input.SetValue(m.state.Input)
	}
	m.output.SetContent(m.outputContent())
}

func (m *Model) outputContent() string {
	switch {
	case m.state.Output != "":
		return m.state.Output
	case m.state.Status == models.StatusLoading:
		return dimStyle.Render("Optimizing...")
	default:
		return dimStyle.Render("Press ctrl+s to optimize your prompt.")
	}
}

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	inner := max(w-4, minWidth)
	m.input.SetWidth(inner)

	// title, status, input panel, analysis panel, flash, help
	used := 1 + 1 + (inputHeight + 2) + 8 + 1 + 1 + 2
	m.output.Width = inner
	m.output.Height = max(h-used, 3)
	m.output.SetContent(m.outputContent())
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("PromptBridge"))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.analysisView()))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render("Optimized"))
	b.WriteString("\n")
	b.WriteString(m.output.View())
	b.WriteString("\n")
	if m.flash != "" {
		if m.flashIsErr {
			b.WriteString(errStyle.Render(m.flash))
		} else {
			b.WriteString(okStyle.Render(m.flash))
		}
	}
	b.WriteString("\n")
	b.WriteString(helpLine())
	return b.String()
}

func (m *Model) statusLine() string {
	s := m.state
	status := dimStyle.Render(s.Status.String())
	switch s.Status {
	case models.StatusLoading:
		status = warnStyle.Render(m.spinner.View() + " loading")
	case models.StatusSuccess:
		status = okStyle.Render("success")
	case models.StatusError:
		status = errStyle.Render("error: " + s.ErrorMessage)
	}

	auto := "off"
	if s.AutoIterate {
		auto = fmt.Sprintf("on %d/%d", s.Iteration, session.MaxIterations)
	}

	return strings.Join([]string{
		labelStyle.Render("mode ") + string(s.Config.Mode),
		labelStyle.Render("target ") + string(s.Config.Target),
		labelStyle.Render("auto ") + auto,
		status,
	}, dimStyle.Render("  |  "))
}

func (m *Model) analysisView() string {
	a := m.state.Analysis
	if a == nil {
		return dimStyle.Render("Analysis appears once the prompt is longer than 10 characters.")
	}

	rows := []string{headerStyle.Render("Analysis")}
	for _, r := range []struct {
		name  string
		value float64
	}{
		{"Clarity", a.Clarity},
		{"Specificity", a.Specificity},
		{"Structure", a.Structure},
		{"Completeness", a.Completeness},
	} {
		rows = append(rows, fmt.Sprintf("%-13s %s %3.0f%%", r.name, scoreStyle(r.value).Render(display.Bar(r.value, barWidth)), r.value))
	}
	for _, s := range a.Suggestions {
		rows = append(rows, dimStyle.Render("• "+s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func helpLine() string {
	parts := make([]string, 0, len(keys.all()))
	for _, k := range keys.all() {
		h := k.Help()
		parts = append(parts, helpKeyStyle.Render(h.Key)+" "+helpDescStyle.Render(h.Desc))
	}
	return strings.Join(parts, "  ")
}
