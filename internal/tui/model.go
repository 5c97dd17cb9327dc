package tui

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"imgsearch/internal/domain"
)

// searchResultMsg carries the outcome of an async query. The sequence number
// identifies which submission produced it; results from a superseded query
// are discarded.
type searchResultMsg struct {
	seq     int
	results []domain.SearchResult
	err     error
}

// openResultMsg reports a failed attempt to open an image externally.
type openResultMsg struct {
	path string
	err  error
}

// Model is the Bubble Tea model for the image search viewer.
type Model struct {
	searcher domain.Searcher
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	results   []domain.SearchResult
	cursor    int
	topK      int
	total     int
	seq       int
	searching bool
	status    string
	ready     bool
	lastQuery string
}

// New creates a new viewer model. total is the number of indexed images.
func New(searcher domain.Searcher, topK, total int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type query and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	vp := viewport.New(0, 0)
	return Model{
		searcher: searcher,
		input:    ti,
		viewport: vp,
		spinner:  sp,
		topK:     topK,
		total:    total,
		status:   fmt.Sprintf("%d images indexed. Type to search.", total),
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window, and search-result events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderResults())
		return m, nil

	case searchResultMsg:
		if msg.seq != m.seq {
			// A newer query is in flight; drop this result.
			return m, nil
		}
		m.searching = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d results for %q", len(msg.results), m.lastQuery)
			m.results = msg.results
			m.cursor = 0
		}
		m.viewport.SetContent(m.renderResults())
		m.viewport.GotoTop()
		return m, nil

	case openResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("could not open %s: %v", msg.path, msg.err)
		}
		return m, nil

	case spinner.TickMsg:
		if !m.searching {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" {
				m.seq++
				m.searching = true
				m.lastQuery = q
				m.status = fmt.Sprintf("Searching for %q...", q)
				return m, tea.Batch(m.spinner.Tick, searchCmd(m.searcher, q, m.topK, m.seq))
			}
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.syncViewport()
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.syncViewport()
				return m, nil
			}
		case "ctrl+o":
			if len(m.results) > 0 {
				return m, openCmd(m.results[m.cursor].Path)
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the viewer layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("imgsearch")
	summary := summaryStyle.Render(fmt.Sprintf("%d images · top %d · up/down select · ctrl+o open · ctrl+c quit", m.total, m.topK))
	results := resultBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := m.status
	if m.searching {
		status = m.spinner.View() + status
	}
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + statusStyle.Render(status)
}

func searchCmd(searcher domain.Searcher, query string, topK, seq int) tea.Cmd {
	return func() tea.Msg {
		res, err := searcher.Query(context.Background(), query, topK)
		return searchResultMsg{seq: seq, results: res, err: err}
	}
}

// openCmd opens the image with the platform's default viewer.
func openCmd(path string) tea.Cmd {
	return func() tea.Msg {
		var cmd *exec.Cmd
		switch runtime.GOOS {
		case "windows":
			cmd = exec.Command("explorer", path)
		case "darwin":
			cmd = exec.Command("open", path)
		default:
			cmd = exec.Command("xdg-open", path)
		}
		return openResultMsg{path: path, err: cmd.Start()}
	}
}

func (m *Model) syncViewport() {
	m.viewport.SetContent(m.renderResults())
	if m.cursor < m.viewport.YOffset {
		m.viewport.SetYOffset(m.cursor)
	} else if m.cursor >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(m.cursor - m.viewport.Height + 1)
	}
}

func (m Model) renderResults() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	var b strings.Builder
	for i, r := range m.results {
		line := fmt.Sprintf("%3d  %.4f  %s", i+1, r.Score, displayName(r.Path))
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		if i < len(m.results)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func displayName(path string) string {
	base := filepath.Base(path)
	dir := filepath.Dir(path)
	return base + "  " + dimStyle.Render(dir)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	selectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	summaryStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
