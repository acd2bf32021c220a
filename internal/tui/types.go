package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/supervisor"
)

var (
	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	statusWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
)

func formatRunStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render("● running")
	case models.RunStatusCompleted:
		return statusOK.Render("● completed")
	case models.RunStatusPartial:
		return statusWarn.Render("● partial")
	case models.RunStatusRejected:
		return statusFailed.Render("● rejected")
	default:
		return string(status)
	}
}

type fleetLoadedMsg struct {
	procs  []supervisor.ProcessStatus
	online bool
}

type runsLoadedMsg struct {
	runs []models.PlanRun
}

type runLoadedMsg struct {
	run *models.PlanRun
}

type planSubmittedMsg struct {
	run *models.PlanRun
}

type snapshotChangedMsg struct{}

type tickMsg struct{}

type errMsg struct {
	err error
}
