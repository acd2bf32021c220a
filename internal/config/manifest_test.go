package config

import (
	"testing"

	"github.com/fentz26/conductor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fleetYAML = `
processes:
  - id: coordinator
    kind: coordinator
    mode: inprocess
    command: control-api
    port: 7466
  - id: analyst-market
    kind: specialist
    command: python3
    args: [-m, workers.market]
    dir: /srv/workers
    port: 8101
    env:
      LOG_LEVEL: info
  - id: analyst-news
    kind: specialist
    command: python3
    args: [-m, workers.news]
    port: 8102
  - id: fetcher
    kind: leaf
    command: python3
    args: [-m, workers.fetch]
`

func TestParseFleet(t *testing.T) {
	f, err := ParseFleet([]byte(fleetYAML))
	require.NoError(t, err)
	require.Len(t, f.Processes, 4)

	market, ok := f.Get("analyst-market")
	require.True(t, ok)
	assert.Equal(t, models.KindSpecialist, market.Kind)
	assert.Equal(t, models.LaunchSubprocess, market.Launch.Mode, "mode defaults to subprocess")
	assert.Equal(t, []string{"-m", "workers.market"}, market.Launch.Args)
	assert.Equal(t, "/srv/workers", market.Launch.Dir)
	assert.Equal(t, 8101, market.Launch.Port)
	assert.Equal(t, "info", market.Launch.Env["LOG_LEVEL"])

	assert.Len(t, f.Layer(models.KindSpecialist), 2)
	assert.Len(t, f.Layer(models.KindLeaf), 1)
	assert.Equal(t, []int{7466, 8101, 8102}, f.Ports())
}

func TestParseFleet_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing id", "processes:\n  - kind: leaf\n    command: x\n"},
		{"duplicate id", "processes:\n  - {id: a, kind: leaf, command: x}\n  - {id: a, kind: leaf, command: y}\n"},
		{"bad kind", "processes:\n  - {id: a, kind: boss, command: x}\n"},
		{"bad mode", "processes:\n  - {id: a, kind: leaf, mode: docker, command: x}\n"},
		{"missing command", "processes:\n  - {id: a, kind: leaf}\n"},
		{"shared port", "processes:\n  - {id: a, kind: leaf, command: x, port: 9000}\n  - {id: b, kind: leaf, command: y, port: 9000}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFleet([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseDomains(t *testing.T) {
	d, err := ParseDomains([]byte(`
default: [market]
domains:
  - name: market
    priority: 1
    worker: analyst-market
    keywords: [price, stock]
  - name: news
    priority: 1
    pattern: "head(line|lines)"
  - name: risk
    priority: 2
    depends_on: [market, news]
  - name: synthesis
    priority: 9
    synthesis: true
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"market"}, d.Default)
	require.Len(t, d.Domains, 4)
	assert.Equal(t, []string{"market", "news"}, d.Domains[2].Dependencies)
	assert.Equal(t, "analyst-market", d.Domains[0].Worker)
	assert.True(t, d.Domains[3].Synthesis)
	assert.Equal(t, "head(line|lines)", d.Domains[1].Pattern)
}

func TestParseDomains_Empty(t *testing.T) {
	_, err := ParseDomains([]byte("default: [a]\n"))
	assert.Error(t, err)
}
