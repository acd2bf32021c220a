package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fentz26/conductor/internal/models"
)

var planDryRun bool

var planCmd = &cobra.Command{
	Use:   "plan <request>",
	Short: "Plan a request and run it on the fleet",
	Long: `Selects the domains relevant to the request, orders them into steps and
executes them on the running fleet. With --dry-run the plan is computed
locally from the manifests and nothing is executed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planDryRun, "dry-run", false, "Only print the plan")
}

func runPlan(cmd *cobra.Command, args []string) error {
	request := strings.Join(args, " ")

	if planDryRun {
		m, err := loadManifests(cfg)
		if err != nil {
			return err
		}
		sched := newScheduler(cfg, m)
		selected := sched.SelectRelevant(request)
		fmt.Printf("Selected: %v\n", selected)
		plan, err := sched.BuildPlan(selected)
		if err != nil {
			return err
		}
		printPlan(plan)
		return nil
	}

	body, status, err := apiPostPlan(request)
	if err != nil {
		return err
	}

	var run models.PlanRun
	if err := json.Unmarshal(body, &run); err != nil {
		return fmt.Errorf("failed to parse run: %w", err)
	}
	printRun(&run)

	if status != http.StatusCreated || run.Status != models.RunStatusCompleted {
		return errors.New("run did not complete")
	}
	return nil
}
