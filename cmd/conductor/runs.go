package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fentz26/conductor/internal/models"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "List recent runs, or show one run with its results",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		body, err := apiGet("/runs/" + args[0])
		if err != nil {
			return err
		}
		var run models.PlanRun
		if err := json.Unmarshal(body, &run); err != nil {
			return fmt.Errorf("failed to parse run: %w", err)
		}
		printRun(&run)
		return nil
	}

	body, err := apiGet(fmt.Sprintf("/runs?limit=%d", runsLimit))
	if err != nil {
		return err
	}
	var runs []models.PlanRun
	if err := json.Unmarshal(body, &runs); err != nil {
		return fmt.Errorf("failed to parse runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}
	for _, run := range runs {
		c := color.New(runStatusColor(run.Status))
		fmt.Printf("%s  %-10s  %s  %s\n", run.ID, c.Sprint(run.Status), run.CreatedAt.Local().Format("2006-01-02 15:04:05"), run.Request)
	}
	return nil
}
