package main

import (
	"fmt"

	"github.com/fentz26/conductor/internal/config"
	"github.com/fentz26/conductor/internal/connectors"
	"github.com/fentz26/conductor/internal/connectors/inproc"
	"github.com/fentz26/conductor/internal/connectors/localexec"
	"github.com/fentz26/conductor/internal/launcher"
	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/routing"
	"github.com/fentz26/conductor/internal/scheduler"
	"github.com/fentz26/conductor/internal/supervisor"
)

// coordinatorRunnable is the in-process name of the coordinator API.
const coordinatorRunnable = "coordinator"

// manifests holds the parsed fleet and domain registry.
type manifests struct {
	fleet    *config.Fleet
	domains  *config.Domains
	registry *scheduler.Registry
	router   *routing.KeywordRouter
}

func loadManifests(cfg *config.Config) (*manifests, error) {
	fleet, err := config.LoadFleet(cfg.Paths.Fleet)
	if err != nil {
		return nil, err
	}
	domains, err := config.LoadDomains(cfg.Paths.Domains)
	if err != nil {
		return nil, err
	}
	reg, err := scheduler.NewRegistry(domains.Domains, domains.Default)
	if err != nil {
		return nil, fmt.Errorf("invalid domain manifest: %w", err)
	}
	for _, d := range domains.Domains {
		if d.Worker == "" {
			continue
		}
		if _, ok := fleet.Get(d.Worker); !ok {
			return nil, fmt.Errorf("invalid domain manifest: domain %s: worker %s is not in the fleet", d.Name, d.Worker)
		}
	}
	router, err := routing.NewRouter(domains.Domains)
	if err != nil {
		return nil, fmt.Errorf("invalid domain manifest: %w", err)
	}
	return &manifests{fleet: fleet, domains: domains, registry: reg, router: router}, nil
}

func newScheduler(cfg *config.Config, m *manifests, opts ...scheduler.Option) *scheduler.Scheduler {
	return scheduler.New(m.registry, m.router, &scheduler.Config{
		MaxParallel: cfg.Scheduler.MaxParallel,
		TaskTimeout: cfg.Scheduler.TaskTimeout,
	}, opts...)
}

func newStrategies(cfg *config.Config, inp *inproc.InProc) connectors.Strategies {
	return connectors.Strategies{
		models.LaunchSubprocess: localexec.New(cfg.Launch.AllowedExecutables, cfg.Paths.Logs),
		models.LaunchInProcess:  inp,
	}
}

func supervisorConfig(cfg *config.Config) *supervisor.Config {
	return &supervisor.Config{
		HealthPath:   cfg.Health.Path,
		ProbeTimeout: cfg.Health.ProbeTimeout,
		Cooldown:     cfg.Restart.Cooldown,
		BaseDelay:    cfg.Restart.BaseDelay,
		MaxDelay:     cfg.Restart.MaxDelay,
		MaxAttempts:  cfg.Restart.MaxAttempts,
		GracePeriod:  cfg.Shutdown.GracePeriod,
		SnapshotPath: cfg.Paths.Snapshot,
	}
}

func launcherConfig(cfg *config.Config) *launcher.Config {
	lc := launcher.DefaultConfig()
	lc.Stagger = cfg.Launch.Stagger
	lc.ReadyTimeout = cfg.Launch.ReadyTimeout
	lc.MinSpecialists = cfg.Launch.MinSpecialists
	lc.HealthInterval = cfg.Health.Interval
	lc.HealthPath = cfg.Health.Path
	lc.ProbeTimeout = cfg.Health.ProbeTimeout
	return lc
}

func launcherEnvironment(cfg *config.Config) launcher.Environment {
	return launcher.Environment{
		Values: cfg.RequiredValues(),
		Dirs:   []string{cfg.Paths.WorkersDir},
	}
}
