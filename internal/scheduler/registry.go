package scheduler

import (
	"fmt"

	"github.com/fentz26/conductor/internal/models"
)

// Registry is the read-only DomainTask table.
type Registry struct {
	tasks     map[string]models.DomainTask
	order     []string
	defaults  []string
	synthesis string
}

// NewRegistry validates the domain table. Names must be unique, every
// dependency must name a registered domain, at most one domain may be the
// synthesis step, nothing may depend on it, and the default selection must
// be non-empty.
// Dependency cycles are reported by BuildPlan.
func NewRegistry(tasks []models.DomainTask, defaults []string) (*Registry, error) {
	r := &Registry{tasks: make(map[string]models.DomainTask, len(tasks))}

	for _, t := range tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("domain with empty name")
		}
		if _, dup := r.tasks[t.Name]; dup {
			return nil, fmt.Errorf("domain %s: duplicate name", t.Name)
		}
		if t.Synthesis {
			if r.synthesis != "" {
				return nil, fmt.Errorf("domain %s: %s is already the synthesis domain", t.Name, r.synthesis)
			}
			r.synthesis = t.Name
		}
		t.Dependencies = append([]string(nil), t.Dependencies...)
		r.tasks[t.Name] = t
		r.order = append(r.order, t.Name)
	}

	for _, name := range r.order {
		for _, dep := range r.tasks[name].Dependencies {
			if _, ok := r.tasks[dep]; !ok {
				return nil, fmt.Errorf("domain %s: %w: dependency %s", name, ErrUnknownDomain, dep)
			}
			if dep == r.synthesis {
				return nil, fmt.Errorf("domain %s: depends on synthesis domain %s", name, dep)
			}
		}
	}

	if len(defaults) == 0 {
		return nil, fmt.Errorf("default domain selection must not be empty")
	}
	for _, name := range defaults {
		t, ok := r.tasks[name]
		if !ok {
			return nil, fmt.Errorf("default selection: %w: %s", ErrUnknownDomain, name)
		}
		if t.Synthesis {
			return nil, fmt.Errorf("default selection: %s is the synthesis domain", name)
		}
	}
	r.defaults = append([]string(nil), defaults...)

	return r, nil
}

// Get returns a copy of the named task.
func (r *Registry) Get(name string) (models.DomainTask, bool) {
	t, ok := r.tasks[name]
	if !ok {
		return models.DomainTask{}, false
	}
	t.Dependencies = append([]string(nil), t.Dependencies...)
	return t, true
}

// Names returns every domain in declaration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Defaults returns the selection used when nothing matches.
func (r *Registry) Defaults() []string {
	return append([]string(nil), r.defaults...)
}

// Synthesis returns the synthesis domain name, or "".
func (r *Registry) Synthesis() string {
	return r.synthesis
}

// Tasks returns every domain in declaration order.
func (r *Registry) Tasks() []models.DomainTask {
	out := make([]models.DomainTask, 0, len(r.order))
	for _, name := range r.order {
		t, _ := r.Get(name)
		out = append(out, t)
	}
	return out
}
