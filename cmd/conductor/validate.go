package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fentz26/conductor/internal/launcher"
	"github.com/fentz26/conductor/internal/models"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check config, manifests and environment without starting anything",
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	printStatus("✓", "Config loaded", color.FgGreen)

	m, err := loadManifests(cfg)
	if err != nil {
		printStatus("✗", err.Error(), color.FgRed)
		return errors.New("validation failed")
	}
	printStatus("✓", fmt.Sprintf("Fleet: %d coordinator, %d specialist(s), %d leaf worker(s), ports %v",
		len(m.fleet.Layer(models.KindCoordinator)),
		len(m.fleet.Layer(models.KindSpecialist)),
		len(m.fleet.Layer(models.KindLeaf)),
		m.fleet.Ports(),
	), color.FgGreen)

	failed := false

	// Every domain planned together must order; this catches dependency cycles.
	sched := newScheduler(cfg, m)
	if plan, err := sched.BuildPlan(m.registry.Names()); err != nil {
		printStatus("✗", fmt.Sprintf("Domains: %v", err), color.FgRed)
		failed = true
	} else {
		printStatus("✓", fmt.Sprintf("Domains: %d, full plan has %d step(s)", len(m.registry.Names()), len(plan.Steps)), color.FgGreen)
	}

	l := launcher.New(launcherConfig(cfg), m.fleet.Processes, launcherEnvironment(cfg), nil, nil)
	if err := l.ValidateEnvironment(); err != nil {
		printStatus("✗", err.Error(), color.FgRed)
		var envErr *launcher.EnvError
		if errors.As(err, &envErr) && envErr.Suggestion() != "" {
			printStatus("⚠", envErr.Suggestion(), color.FgYellow)
		}
		failed = true
	} else {
		printStatus("✓", "Environment ready", color.FgGreen)
	}

	if failed {
		return errors.New("validation failed")
	}
	fmt.Printf("\n%s Ready to run\n", color.GreenString("✓"))
	return nil
}
