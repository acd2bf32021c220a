package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/conductor/internal/config"
)

const testFleet = `
processes:
  - id: coordinator
    kind: coordinator
    mode: inprocess
    command: coordinator
    port: 7466
  - id: market-worker
    kind: specialist
    command: python3
    args: [-m, workers.market]
    port: 8101
`

const testDomains = `
default: [market]
domains:
  - name: market
    priority: 1
    worker: market-worker
    keywords: [price]
  - name: summary
    priority: 9
    synthesis: true
`

func writeManifests(t *testing.T, fleet, domains string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Fleet = filepath.Join(dir, "fleet.yaml")
	cfg.Paths.Domains = filepath.Join(dir, "domains.yaml")
	require.NoError(t, os.WriteFile(cfg.Paths.Fleet, []byte(fleet), 0644))
	require.NoError(t, os.WriteFile(cfg.Paths.Domains, []byte(domains), 0644))
	return cfg
}

func TestLoadManifests(t *testing.T) {
	cfg := writeManifests(t, testFleet, testDomains)

	m, err := loadManifests(cfg)
	require.NoError(t, err)
	assert.Len(t, m.fleet.Processes, 2)
	assert.Equal(t, "summary", m.registry.Synthesis())

	sched := newScheduler(cfg, m)
	assert.Equal(t, []string{"market"}, sched.SelectRelevant("what is the price"))
}

func TestLoadManifests_UnknownWorker(t *testing.T) {
	domains := `
default: [market]
domains:
  - name: market
    worker: ghost
`
	cfg := writeManifests(t, testFleet, domains)

	_, err := loadManifests(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker ghost")
}

func TestLoadManifests_UnknownDependency(t *testing.T) {
	domains := `
default: [market]
domains:
  - name: market
    depends_on: [ledger]
`
	cfg := writeManifests(t, testFleet, domains)

	_, err := loadManifests(cfg)
	assert.Error(t, err)
}

func TestLauncherConfigFromConfig(t *testing.T) {
	cfg := config.Default()
	lc := launcherConfig(cfg)

	assert.Equal(t, cfg.Launch.Stagger, lc.Stagger)
	assert.Equal(t, cfg.Launch.MinSpecialists, lc.MinSpecialists)
	assert.Equal(t, cfg.Health.Interval, lc.HealthInterval)

	sc := supervisorConfig(cfg)
	assert.Equal(t, cfg.Restart.MaxAttempts, sc.MaxAttempts)
	assert.Equal(t, cfg.Paths.Snapshot, sc.SnapshotPath)
}
