package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/conductor/internal/models"
)

// Fleet is the declared set of worker processes, in manifest order.
type Fleet struct {
	Processes []models.ProcessSpec `yaml:"processes"`
}

// Layer returns the processes of one kind, preserving manifest order.
func (f *Fleet) Layer(kind models.Kind) []models.ProcessSpec {
	var out []models.ProcessSpec
	for _, p := range f.Processes {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// Ports returns every declared port.
func (f *Fleet) Ports() []int {
	var out []int
	for _, p := range f.Processes {
		if p.Launch.Port > 0 {
			out = append(out, p.Launch.Port)
		}
	}
	return out
}

// Get returns the process with the given id.
func (f *Fleet) Get(id string) (models.ProcessSpec, bool) {
	for _, p := range f.Processes {
		if p.ID == id {
			return p, true
		}
	}
	return models.ProcessSpec{}, false
}

// Validate checks that ids are unique and every entry can be launched.
func (f *Fleet) Validate() error {
	seen := make(map[string]bool)
	ports := make(map[int]string)
	for i, p := range f.Processes {
		if p.ID == "" {
			return fmt.Errorf("process %d: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("process %s: duplicate id", p.ID)
		}
		seen[p.ID] = true

		if !p.Kind.Valid() {
			return fmt.Errorf("process %s: invalid kind %q, must be: coordinator, specialist, or leaf", p.ID, p.Kind)
		}
		switch p.Launch.Mode {
		case "", models.LaunchSubprocess, models.LaunchInProcess:
		default:
			return fmt.Errorf("process %s: invalid mode %q, must be: subprocess or inprocess", p.ID, p.Launch.Mode)
		}
		if p.Launch.Command == "" {
			return fmt.Errorf("process %s: command is required", p.ID)
		}
		if p.Launch.Port < 0 || p.Launch.Port > 65535 {
			return fmt.Errorf("process %s: port %d out of range", p.ID, p.Launch.Port)
		}
		if p.Launch.Port > 0 {
			if other, ok := ports[p.Launch.Port]; ok {
				return fmt.Errorf("process %s: port %d already used by %s", p.ID, p.Launch.Port, other)
			}
			ports[p.Launch.Port] = p.ID
		}
	}
	return nil
}

// LoadFleet loads the fleet manifest from a YAML file.
func LoadFleet(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fleet manifest: %w", err)
	}
	return ParseFleet(data)
}

// ParseFleet parses and validates a fleet manifest.
func ParseFleet(data []byte) (*Fleet, error) {
	f := &Fleet{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parsing fleet manifest: %w", err)
	}
	for i := range f.Processes {
		if f.Processes[i].Launch.Mode == "" {
			f.Processes[i].Launch.Mode = models.LaunchSubprocess
		}
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fleet manifest: %w", err)
	}
	return f, nil
}

// Domains is the static DomainTask registry as declared on disk.
type Domains struct {
	// Default is selected when no domain matches a request.
	Default []string            `yaml:"default"`
	Domains []models.DomainTask `yaml:"domains"`
}

// LoadDomains loads the domain registry manifest from a YAML file.
// Structural checks (unknown names, duplicate domains) are left to the scheduler registry.
func LoadDomains(path string) (*Domains, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading domain manifest: %w", err)
	}
	return ParseDomains(data)
}

// ParseDomains parses a domain registry manifest.
func ParseDomains(data []byte) (*Domains, error) {
	d := &Domains{}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("parsing domain manifest: %w", err)
	}
	if len(d.Domains) == 0 {
		return nil, fmt.Errorf("invalid domain manifest: no domains declared")
	}
	return d, nil
}
