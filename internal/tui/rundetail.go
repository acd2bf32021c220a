package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/conductor/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// RunDetailModel shows one run: its plan steps and per-domain results.
type RunDetailModel struct {
	run    *models.PlanRun
	height int
	scroll int
}

// NewRunDetailModel creates an empty run detail view.
func NewRunDetailModel() *RunDetailModel {
	return &RunDetailModel{}
}

// SetRun sets the run to display.
func (m *RunDetailModel) SetRun(run *models.PlanRun) {
	m.run = run
	m.scroll = 0
}

// SetHeight sets the number of visible lines.
func (m *RunDetailModel) SetHeight(h int) {
	m.height = h
}

// Update handles scrolling.
func (m *RunDetailModel) Update(msg tea.Msg) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "j", "down":
			m.scroll++
		case "k", "up":
			if m.scroll > 0 {
				m.scroll--
			}
		}
	}
}

// View renders the run.
func (m *RunDetailModel) View() string {
	if m.run == nil {
		return "Loading run..."
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(truncate(m.run.Request, 80)))
	b.WriteString("\n\n")

	b.WriteString(m.renderField("ID", m.run.ID))
	b.WriteString(m.renderField("Status", formatRunStatus(m.run.Status)))
	b.WriteString(m.renderField("Created", m.run.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	if m.run.Error != "" {
		b.WriteString(m.renderField("Error", m.run.Error))
	}

	if len(m.run.Plan.Steps) > 0 {
		b.WriteString(sectionStyle.Render("Plan"))
		b.WriteString("\n")
		for i, step := range m.run.Plan.Steps {
			mode := "sequential"
			if step.Parallel {
				mode = "parallel"
			}
			b.WriteString(fmt.Sprintf("  %d. [p%d %s] %s\n", i+1, step.Priority, mode, strings.Join(step.Tasks, ", ")))
		}
	}

	if len(m.run.Results) > 0 {
		b.WriteString(sectionStyle.Render("Results"))
		b.WriteString("\n")
		names := make([]string, 0, len(m.run.Results))
		for name := range m.run.Results {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r := m.run.Results[name]
			if r.Failed() {
				b.WriteString(fmt.Sprintf("  %s %s\n", statusFailed.Render("✗ "+name), truncate(r.Error, 100)))
				continue
			}
			b.WriteString(fmt.Sprintf("  %s %s\n", statusOK.Render("✓ "+name), truncate(string(r.Value), 100)))
		}
	}

	lines := strings.Split(b.String(), "\n")
	if m.scroll >= len(lines) {
		m.scroll = len(lines) - 1
	}
	visible := lines[m.scroll:]
	if m.height > 0 && len(visible) > m.height {
		visible = visible[:m.height]
	}
	return strings.Join(visible, "\n")
}

func (m *RunDetailModel) renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
