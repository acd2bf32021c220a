package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fentz26/conductor/internal/audit"
	"github.com/fentz26/conductor/internal/connectors/inproc"
	"github.com/fentz26/conductor/internal/controlplane"
	"github.com/fentz26/conductor/internal/dispatch"
	"github.com/fentz26/conductor/internal/launcher"
	"github.com/fentz26/conductor/internal/metrics"
	"github.com/fentz26/conductor/internal/scheduler"
	"github.com/fentz26/conductor/internal/store"
	"github.com/fentz26/conductor/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the fleet and supervise it until interrupted",
	Long: `Validates the environment, reclaims declared ports, starts the coordinator,
specialist and leaf layers in order and supervises them until SIGINT or SIGTERM.`,
	RunE: runFleet,
}

func runFleet(cmd *cobra.Command, args []string) error {
	log.Println("Starting conductor...")

	m, err := loadManifests(cfg)
	if err != nil {
		return err
	}

	// Initialize store
	s, err := store.New(cfg.Paths.DB)
	if err != nil {
		return err
	}
	defer func() {
		log.Println("Closing database connection...")
		if err := s.Close(); err != nil {
			log.Printf("Database close error: %v", err)
		}
	}()

	// Initialize components
	pdr := audit.NewWriter(s)
	mc := metrics.NewCollector("conductor")
	inp := inproc.New()
	strategies := newStrategies(cfg, inp)

	sup := supervisor.New(supervisorConfig(cfg), strategies,
		supervisor.WithEventRecorder(s),
		supervisor.WithAudit(pdr),
		supervisor.WithMetricsCollector(mc),
	)

	sched := newScheduler(cfg, m, scheduler.WithMetricsCollector(mc))
	exec := dispatch.NewHTTPExecutor(sup, cfg.Scheduler.TaskTimeout, dispatch.Synthesis{})

	// The coordinator API runs in-process and is supervised like any worker
	service := controlplane.NewService(sched, exec, s, pdr, sup)
	server := controlplane.NewServer(service, cfg.Listen, mc.Handler())
	inp.Register(coordinatorRunnable, server.Run)

	l := launcher.New(launcherConfig(cfg), m.fleet.Processes, launcherEnvironment(cfg), strategies, sup,
		launcher.WithStateHook(mc.LauncherState),
	)

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := l.Run(ctx); err != nil {
		var envErr *launcher.EnvError
		if errors.As(err, &envErr) && envErr.Suggestion() != "" {
			fmt.Fprintf(os.Stderr, "%s %s\n", hintLabel(), envErr.Suggestion())
		}
		return err
	}

	if failed := sup.Failed(); len(failed) > 0 {
		log.Printf("Processes that exhausted their restarts: %v", failed)
	}
	log.Println("Shutdown complete")
	return nil
}
