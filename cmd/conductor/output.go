package main

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/fentz26/conductor/internal/models"
)

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

func errorLabel() string {
	return color.New(color.FgRed, color.Bold).Sprint("error:")
}

func hintLabel() string {
	return color.New(color.FgYellow).Sprint("hint:")
}

func runStatusColor(status models.RunStatus) color.Attribute {
	switch status {
	case models.RunStatusCompleted:
		return color.FgGreen
	case models.RunStatusPartial:
		return color.FgYellow
	case models.RunStatusRejected:
		return color.FgRed
	default:
		return color.FgCyan
	}
}

func printPlan(plan models.ExecutionPlan) {
	for i, step := range plan.Steps {
		mode := "sequential"
		if step.Parallel {
			mode = "parallel"
		}
		fmt.Printf("  %d. [priority %d, %s] %v\n", i+1, step.Priority, mode, step.Tasks)
	}
}

func printRun(run *models.PlanRun) {
	c := color.New(runStatusColor(run.Status))
	fmt.Printf("Run %s  %s\n", run.ID, c.Sprint(run.Status))
	fmt.Printf("Request: %s\n", run.Request)
	if run.Error != "" {
		fmt.Printf("Error:   %s\n", color.RedString(run.Error))
	}
	if len(run.Plan.Steps) > 0 {
		fmt.Println("Plan:")
		printPlan(run.Plan)
	}
	if len(run.Results) == 0 {
		return
	}
	fmt.Println("Results:")
	for _, name := range run.Plan.Tasks() {
		r, ok := run.Results[name]
		if !ok {
			continue
		}
		if r.Failed() {
			fmt.Printf("  %s %s: %s\n", color.RedString("✗"), name, r.Error)
			continue
		}
		fmt.Printf("  %s %s: %s\n", color.GreenString("✓"), name, string(r.Value))
	}
}
