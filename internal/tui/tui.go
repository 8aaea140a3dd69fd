// Package tui provides a Bubble Tea view of a traced file with its
// annotations, updated live while a session runs.
package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/wolf/internal/annotate"
	"github.com/fakeyudi/wolf/internal/pipeline"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	annotationStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	diagnosticStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// maxDiagnostics is how many diagnostic lines the bottom panel keeps.
const maxDiagnostics = 6

// ── Messages ────────────

// ViewMsg carries a new annotated view of the traced file.
type ViewMsg pipeline.View

// ClearMsg removes all annotations.
type ClearMsg struct{}

// NoticeMsg is an informational message for the status line.
type NoticeMsg string

// DiagnosticMsg is tracer error output.
type DiagnosticMsg string

// ── Model ────────────

// SourceReader returns the lines of the file at path.
type SourceReader func(path string) ([]string, error)

// ReadLines reads path from disk.
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

// Model is the root Bubble Tea model.
type Model struct {
	file        string
	read        SourceReader
	source      []string
	view        pipeline.View
	hasView     bool
	hideGutter  bool
	notice      string
	diagnostics []string
	vp          viewport.Model
	width       int
	height      int
	ready       bool
}

// New creates a model for file. read defaults to ReadLines.
func New(file string, read SourceReader) Model {
	if read == nil {
		read = ReadLines
	}
	m := Model{file: file, read: read}
	m.source, _ = read(file)
	return m
}

// WithView returns m showing v, for displaying a stored result.
func (m Model) WithView(v pipeline.View) Model {
	m.view = v
	m.hasView = true
	return m
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "p":
			m.hideGutter = !m.hideGutter
			m.refresh()
			return m, nil
		case "c":
			m.diagnostics = nil
			m.notice = ""
			m.resize()
			return m, nil
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.vp = viewport.New(m.width, 1)
		m.resize()
		m.refresh()
		return m, nil

	case ViewMsg:
		m.view = pipeline.View(msg)
		m.hasView = true
		if src, err := m.read(m.view.Doc); err == nil {
			m.source = src
		}
		m.refresh()
		return m, nil

	case ClearMsg:
		m.view = pipeline.View{}
		m.hasView = false
		m.refresh()
		return m, nil

	case NoticeMsg:
		m.notice = string(msg)
		return m, nil

	case DiagnosticMsg:
		m.diagnostics = append(m.diagnostics, strings.Split(strings.TrimRight(string(msg), "\n"), "\n")...)
		if n := len(m.diagnostics); n > maxDiagnostics {
			m.diagnostics = m.diagnostics[n-maxDiagnostics:]
		}
		m.resize()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	// ── Row 1: title bar ──────────────────────────────────────────────────────
	label := "  wolf  " + filepath.Base(m.file)
	if m.hasView {
		label += fmt.Sprintf("  · run %d", m.view.Generation)
		if m.view.Stale {
			label += " (edited)"
		}
	}
	title := titleStyle.Width(m.width).Render(label)

	// ── Row 2…N-1: annotated source and diagnostics ───────────────────────────
	rows := []string{title, m.vp.View()}
	for _, d := range m.diagnostics {
		rows = append(rows, diagnosticStyle.Render("  "+annotate.Truncate(d, m.width-2)))
	}

	// ── Row N: status / hint bar ──────────────────────────────────────────────
	hint := "  ↑/↓ scroll  p paw prints  c clear messages  q quit"
	if m.notice != "" {
		hint = "  " + noticeStyle.Render(m.notice)
	}
	pct := fmt.Sprintf("%3.0f%%", m.vp.ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	rows = append(rows, statusBarStyle.Width(m.width).Render(hint+strings.Repeat(" ", pad)+pct))

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) resize() {
	if !m.ready {
		return
	}
	// title(1) + statusBar(1) + diagnostics
	h := m.height - 2 - len(m.diagnostics)
	if h < 1 {
		h = 1
	}
	m.vp.Width = m.width
	m.vp.Height = h
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.vp.SetContent(m.render())
}

// render draws the source with annotations, colouring the annotation text.
func (m *Model) render() string {
	if len(m.source) == 0 {
		return dimStyle.Render("  (empty file)")
	}
	var anns []annotate.Annotation
	gutter := !m.hideGutter
	if m.hasView {
		anns = m.view.Annotations
		gutter = gutter && m.view.Gutter
	}
	plain := annotate.Render(m.source, anns, annotate.RenderOptions{Width: m.width, Gutter: gutter})

	stale := make(map[int]bool, len(anns))
	annotated := make(map[int]bool, len(anns))
	for _, a := range anns {
		annotated[a.Line] = true
		stale[a.Line] = a.Stale
	}
	lines := strings.Split(strings.TrimSuffix(plain, "\n"), "\n")
	for i, line := range lines {
		n := i + 1
		if !annotated[n] {
			continue
		}
		cut := strings.LastIndex(line, "  # ")
		if cut < 0 {
			continue
		}
		style := annotationStyle
		if stale[n] {
			style = staleStyle
		}
		lines[i] = line[:cut] + style.Render(line[cut:])
	}
	return strings.Join(lines, "\n")
}

// ── Running ───────────────────────────────────────────────────────────────────

// NewProgram returns a full-screen program for m that exits when ctx ends.
func NewProgram(ctx context.Context, m Model) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
}

// Run shows m until the user quits.
func Run(m Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
