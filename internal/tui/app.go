// Package tui provides the terminal dashboard for a running conductor fleet.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/supervisor"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#EF4444")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

const refreshInterval = 5 * time.Second

// App is the dashboard model.
type App struct {
	client       *Client
	snapshotPath string
	watcher      *SnapshotWatcher

	table   table.Model
	spinner spinner.Model
	input   textinput.Model
	detail  *RunDetailModel

	mode    string // "fleet", "runs", "detail"
	procs   []supervisor.ProcessStatus
	runs    []models.PlanRun
	runIdx  int
	online  bool
	loading bool
	message string
	width   int
	height  int
}

// New creates the dashboard. watcher may be nil, in which case the fleet is
// only refreshed on a timer.
func New(apiAddr, snapshotPath string, watcher *SnapshotWatcher) *App {
	columns := []table.Column{
		{Title: "ID", Width: 20},
		{Title: "KIND", Width: 11},
		{Title: "STATE", Width: 10},
		{Title: "PID", Width: 7},
		{Title: "PORT", Width: 6},
		{Title: "RESTARTS", Width: 8},
		{Title: "UPTIME", Width: 10},
		{Title: "LAST ERROR", Width: 30},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
		table.WithWidth(110),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(cyanColor)
	styles.Selected = styles.Selected.Foreground(fgColor).Background(primaryColor)
	t.SetStyles(styles)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primaryColor)

	ti := textinput.New()
	ti.Placeholder = "Press / and type a request to plan and run it"
	ti.CharLimit = 512
	ti.Width = 80

	return &App{
		client:       NewClient(apiAddr),
		snapshotPath: snapshotPath,
		watcher:      watcher,
		table:        t,
		spinner:      sp,
		input:        ti,
		detail:       NewRunDetailModel(),
		mode:         "fleet",
		loading:      true,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.spinner.Tick,
		a.fetchFleet(),
		a.waitForSnapshot(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if a.input.Focused() {
			return a, a.updateInput(msg)
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit

		case "esc":
			if a.mode == "detail" {
				a.mode = "runs"
			}

		case "tab":
			if a.mode == "fleet" {
				a.mode = "runs"
				return a, a.fetchRuns()
			}
			a.mode = "fleet"
			return a, a.fetchFleet()

		case "/":
			a.input.Focus()
			return a, textinput.Blink

		case "r":
			if a.mode == "runs" {
				return a, a.fetchRuns()
			}
			return a, a.fetchFleet()

		case "up", "k":
			if a.mode == "runs" && a.runIdx > 0 {
				a.runIdx--
			}

		case "down", "j":
			if a.mode == "runs" && a.runIdx < len(a.runs)-1 {
				a.runIdx++
			}

		case "enter":
			if a.mode == "runs" && len(a.runs) > 0 {
				a.mode = "detail"
				a.detail.SetRun(nil)
				return a, a.fetchRun(a.runs[a.runIdx].ID)
			}
		}

		switch a.mode {
		case "fleet":
			var cmd tea.Cmd
			a.table, cmd = a.table.Update(msg)
			cmds = append(cmds, cmd)
		case "detail":
			a.detail.Update(msg)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 6
		a.table.SetWidth(msg.Width)
		a.table.SetHeight(max(3, msg.Height-10))
		a.detail.SetHeight(max(3, msg.Height-8))

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case fleetLoadedMsg:
		a.loading = false
		a.online = msg.online
		a.procs = msg.procs
		a.table.SetRows(processRows(a.procs, time.Now()))

	case runsLoadedMsg:
		a.runs = msg.runs
		if a.runIdx >= len(a.runs) {
			a.runIdx = max(0, len(a.runs)-1)
		}

	case runLoadedMsg:
		a.detail.SetRun(msg.run)

	case planSubmittedMsg:
		a.loading = false
		a.message = fmt.Sprintf("Run %s: %s", shortID(msg.run.ID), msg.run.Status)
		if msg.run.Error != "" {
			a.message = fmt.Sprintf("Error: run %s rejected: %s", shortID(msg.run.ID), msg.run.Error)
		}
		a.mode = "detail"
		a.detail.SetRun(msg.run)

	case snapshotChangedMsg:
		cmds = append(cmds, a.fetchFleet(), a.waitForSnapshot())

	case tickMsg:
		cmds = append(cmds, a.tickCmd())
		if a.mode == "fleet" {
			cmds = append(cmds, a.fetchFleet())
		}

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	return a, tea.Batch(cmds...)
}

func (a *App) updateInput(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit
	case "esc":
		a.input.Blur()
		a.input.SetValue("")
		return nil
	case "enter":
		request := strings.TrimSpace(a.input.Value())
		a.input.Blur()
		a.input.SetValue("")
		if request == "" {
			return nil
		}
		a.loading = true
		a.message = "Running: " + truncate(request, 60)
		return a.submitPlan(request)
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return cmd
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	coordinator := onlineStyle.Render("● COORDINATOR")
	if !a.online {
		coordinator = offlineStyle.Render("○ COORDINATOR (snapshot)")
	}
	live, failed := countProcesses(a.procs)

	header := titleStyle.Render("CONDUCTOR")
	header += "  " + coordinator
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[%d live, %d failed]", live, failed))
	if a.loading {
		header += "  " + a.spinner.View()
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 20)) + "\n")

	switch a.mode {
	case "fleet":
		if len(a.procs) == 0 && !a.loading {
			b.WriteString("\n  No processes. Start the fleet with: conductor run\n")
		} else {
			b.WriteString(a.table.View() + "\n")
		}
	case "runs":
		b.WriteString(a.renderRuns())
	case "detail":
		b.WriteString(a.detail.View() + "\n")
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	b.WriteString("\n")

	var status string
	switch a.mode {
	case "fleet":
		status = fmt.Sprintf(" Processes: %d | ↑↓:nav | Tab:runs | /:request | r:refresh | q:quit", len(a.procs))
	case "runs":
		status = fmt.Sprintf(" Runs: %d | ↑↓:nav | Enter:open | Tab:fleet | /:request | q:quit", len(a.runs))
	default:
		status = " ↑↓:scroll | Esc:back | q:quit"
	}
	b.WriteString(statusBarStyle.Width(max(a.width, 20)).Render(status))

	return b.String()
}

func (a *App) renderRuns() string {
	if len(a.runs) == 0 {
		return "\n  No runs yet. Press / to submit a request.\n"
	}

	var lines []string
	for i, run := range a.runs {
		text := fmt.Sprintf("%s  %s  %s", shortID(run.ID), formatRunStatus(run.Status), truncate(run.Request, 60))
		if i == a.runIdx {
			lines = append(lines, selectedStyle.Render("▶ "+text))
		} else {
			lines = append(lines, itemStyle.Render("  "+text))
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// --- Commands ---

func (a *App) fetchFleet() tea.Cmd {
	return func() tea.Msg {
		if a.client.Online() {
			procs, err := a.client.Processes()
			if err == nil {
				return fleetLoadedMsg{procs: procs, online: true}
			}
		}
		snap, err := supervisor.ReadSnapshot(a.snapshotPath)
		if err != nil {
			return errMsg{err}
		}
		return fleetLoadedMsg{procs: snapshotProcesses(snap)}
	}
}

func (a *App) fetchRuns() tea.Cmd {
	return func() tea.Msg {
		runs, err := a.client.ListRuns(50)
		if err != nil {
			return errMsg{err}
		}
		return runsLoadedMsg{runs}
	}
}

func (a *App) fetchRun(id string) tea.Cmd {
	return func() tea.Msg {
		run, err := a.client.GetRun(id)
		if err != nil {
			return errMsg{err}
		}
		return runLoadedMsg{run}
	}
}

func (a *App) submitPlan(request string) tea.Cmd {
	return func() tea.Msg {
		run, err := a.client.SubmitPlan(request)
		if err != nil {
			return errMsg{err}
		}
		return planSubmittedMsg{run}
	}
}

func (a *App) waitForSnapshot() tea.Cmd {
	if a.watcher == nil {
		return nil
	}
	ch := a.watcher.Changed()
	return func() tea.Msg {
		<-ch
		return snapshotChangedMsg{}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// --- Helpers ---

// snapshotProcesses converts the on-disk snapshot into status rows. The
// snapshot only carries live processes.
func snapshotProcesses(snap models.ProcessSnapshot) []supervisor.ProcessStatus {
	out := make([]supervisor.ProcessStatus, 0, len(snap))
	for id, e := range snap {
		out = append(out, supervisor.ProcessStatus{
			ID:        id,
			Kind:      e.Kind,
			PID:       e.PID,
			Port:      e.LaunchConfig.Port,
			State:     models.ProcessRunning,
			StartedAt: e.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func processRows(procs []supervisor.ProcessStatus, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(procs))
	for _, p := range procs {
		pid, port, uptime := "-", "-", "-"
		if p.PID > 0 {
			pid = fmt.Sprintf("%d", p.PID)
		}
		if p.Port > 0 {
			port = fmt.Sprintf("%d", p.Port)
		}
		if !p.StartedAt.IsZero() && p.State != models.ProcessFailed {
			uptime = now.Sub(p.StartedAt).Round(time.Second).String()
		}
		rows = append(rows, table.Row{
			p.ID,
			string(p.Kind),
			string(p.State),
			pid,
			port,
			fmt.Sprintf("%d", p.Attempts),
			uptime,
			truncate(p.LastError, 30),
		})
	}
	return rows
}

func countProcesses(procs []supervisor.ProcessStatus) (live, failed int) {
	for _, p := range procs {
		if p.State == models.ProcessFailed {
			failed++
		} else {
			live++
		}
	}
	return live, failed
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
