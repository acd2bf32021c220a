package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/conductor/internal/models"
)

// Classifier decides which domains a request is relevant to.
type Classifier interface {
	Match(request string) []string
}

// Executor runs one DomainTask. upstream holds the results of every task
// that finished in an earlier step.
type Executor interface {
	Execute(ctx context.Context, task models.DomainTask, request string, upstream map[string]models.TaskResult) (json.RawMessage, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task models.DomainTask, request string, upstream map[string]models.TaskResult) (json.RawMessage, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task models.DomainTask, request string, upstream map[string]models.TaskResult) (json.RawMessage, error) {
	return f(ctx, task, request, upstream)
}

// MetricsCollector receives scheduling observations.
type MetricsCollector interface {
	PlanBuilt(steps, tasks int)
	PlanRejected()
	TaskFinished(domain string, duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) PlanBuilt(int, int)                        {}
func (noopMetrics) PlanRejected()                             {}
func (noopMetrics) TaskFinished(string, time.Duration, error) {}

// Scheduler plans and executes domain work for requests.
type Scheduler struct {
	registry   *Registry
	classifier Classifier
	config     *Config
	metrics    MetricsCollector

	mu     sync.Mutex
	active int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(s *Scheduler) {
		s.metrics = mc
	}
}

// New creates a scheduler over a fixed registry.
func New(reg *Registry, classifier Classifier, cfg *Config, opts ...Option) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	s := &Scheduler{
		registry:   reg,
		classifier: classifier,
		config:     cfg,
		metrics:    noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the domain registry.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// SelectRelevant returns the domains a request needs, in registry order. When
// nothing matches, the registry defaults are used, so the selection is never
// empty. The selection is closed over dependencies, and the synthesis domain
// is added when more than one domain is selected.
func (s *Scheduler) SelectRelevant(request string) []string {
	chosen := make(map[string]bool)
	if s.classifier != nil {
		for _, name := range s.classifier.Match(request) {
			if t, ok := s.registry.tasks[name]; ok && !t.Synthesis {
				chosen[name] = true
			}
		}
	}
	if len(chosen) == 0 {
		log.Printf("No domain matched request, using defaults: %v", s.registry.defaults)
		for _, name := range s.registry.defaults {
			chosen[name] = true
		}
	}

	queue := make([]string, 0, len(chosen))
	for name := range chosen {
		queue = append(queue, name)
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dep := range s.registry.tasks[name].Dependencies {
			if !chosen[dep] {
				chosen[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	if syn := s.registry.synthesis; syn != "" && !chosen[syn] && len(chosen) > 1 {
		chosen[syn] = true
	}

	selected := make([]string, 0, len(chosen))
	for _, name := range s.registry.order {
		if chosen[name] {
			selected = append(selected, name)
		}
	}
	return selected
}

// dependencies returns the effective dependencies of name within selected.
// The synthesis domain depends on every other selected domain.
func (s *Scheduler) dependencies(name string, selected map[string]bool) []string {
	t := s.registry.tasks[name]
	if !t.Synthesis {
		return t.Dependencies
	}
	deps := append([]string(nil), t.Dependencies...)
	for other := range selected {
		if other != name {
			deps = append(deps, other)
		}
	}
	return deps
}

// BuildPlan layers the selection topologically. Each iteration takes every
// unscheduled task whose dependencies are already scheduled and emits one
// step per distinct priority, lowest first. If an iteration makes no
// progress the whole plan is discarded with a *PlanError.
func (s *Scheduler) BuildPlan(selected []string) (models.ExecutionPlan, error) {
	set := make(map[string]bool, len(selected))
	for _, name := range selected {
		if _, ok := s.registry.tasks[name]; !ok {
			s.metrics.PlanRejected()
			return models.ExecutionPlan{}, fmt.Errorf("build plan: %w: %s", ErrUnknownDomain, name)
		}
		set[name] = true
	}

	scheduled := make(map[string]bool, len(set))
	var plan models.ExecutionPlan

	for len(scheduled) < len(set) {
		byPriority := make(map[int][]string)
		for name := range set {
			if scheduled[name] {
				continue
			}
			ready := true
			for _, dep := range s.dependencies(name, set) {
				if !scheduled[dep] {
					ready = false
					break
				}
			}
			if ready {
				p := s.registry.tasks[name].Priority
				byPriority[p] = append(byPriority[p], name)
			}
		}

		if len(byPriority) == 0 {
			err := s.unsatisfiable(set, scheduled)
			log.Printf("Plan rejected: %v", err)
			s.metrics.PlanRejected()
			return models.ExecutionPlan{}, err
		}

		priorities := make([]int, 0, len(byPriority))
		for p := range byPriority {
			priorities = append(priorities, p)
		}
		sort.Ints(priorities)

		for _, p := range priorities {
			names := byPriority[p]
			sort.Strings(names)
			plan.Steps = append(plan.Steps, models.Step{
				Priority: p,
				Tasks:    names,
				Parallel: len(names) > 1,
			})
		}
		for _, names := range byPriority {
			for _, name := range names {
				scheduled[name] = true
			}
		}
	}

	log.Printf("Plan built: steps=%d tasks=%d", len(plan.Steps), len(set))
	s.metrics.PlanBuilt(len(plan.Steps), len(set))
	return plan, nil
}

func (s *Scheduler) unsatisfiable(set, scheduled map[string]bool) *PlanError {
	pe := &PlanError{}
	missing := make(map[string]bool)
	for name := range set {
		if scheduled[name] {
			continue
		}
		pe.Blocked = append(pe.Blocked, name)
		for _, dep := range s.dependencies(name, set) {
			if !set[dep] {
				missing[dep] = true
			}
		}
	}
	for dep := range missing {
		pe.Missing = append(pe.Missing, dep)
	}
	sort.Strings(pe.Blocked)
	sort.Strings(pe.Missing)
	return pe
}

// ExecutePlan runs the steps in order and returns one result per task.
// Tasks of a parallel step run concurrently, bounded by MaxParallel; a failed
// or panicking task is recorded as an error marker and never affects its
// siblings. Failed tasks are not retried.
func (s *Scheduler) ExecutePlan(ctx context.Context, request string, plan models.ExecutionPlan, exec Executor) map[string]models.TaskResult {
	results := make(map[string]models.TaskResult)

	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			for _, name := range step.Tasks {
				results[name] = models.TaskResult{Error: fmt.Sprintf("not run: %v", err)}
			}
			continue
		}

		upstream := make(map[string]models.TaskResult, len(results))
		for k, v := range results {
			upstream[k] = v
		}

		log.Printf("Executing step %d/%d: tasks=%v parallel=%v", i+1, len(plan.Steps), step.Tasks, step.Parallel)

		if !step.Parallel || len(step.Tasks) == 1 {
			for _, name := range step.Tasks {
				results[name] = s.runTask(ctx, name, request, upstream, exec)
			}
			continue
		}

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			sem = make(chan struct{}, s.config.MaxParallel)
		)
		for _, name := range step.Tasks {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				r := s.runTask(ctx, name, request, upstream, exec)
				mu.Lock()
				results[name] = r
				mu.Unlock()
			}(name)
		}
		wg.Wait()
	}

	return results
}

// errTaskFailed marks a failed task whose error carried no message.
const errTaskFailed = "task failed"

func (s *Scheduler) runTask(ctx context.Context, name, request string, upstream map[string]models.TaskResult, exec Executor) (result models.TaskResult) {
	task, ok := s.registry.Get(name)
	if !ok {
		return models.TaskResult{Error: fmt.Sprintf("%v: %s", ErrUnknownDomain, name)}
	}

	s.mu.Lock()
	s.active++
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = models.TaskResult{Error: fmt.Sprintf("panic: %v", r)}
		}

		s.mu.Lock()
		s.active--
		s.mu.Unlock()

		var err error
		if result.Failed() {
			err = fmt.Errorf("%s", result.Error)
			log.Printf("Task %s failed: %s", name, result.Error)
		} else {
			log.Printf("Task %s completed in %s", name, time.Since(start).Round(time.Millisecond))
		}
		s.metrics.TaskFinished(name, time.Since(start), err)
	}()

	taskCtx := ctx
	if timeout := s.config.GetTaskTimeout(name); timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	value, err := exec.Execute(taskCtx, task, request, upstream)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = errTaskFailed
		}
		return models.TaskResult{Error: msg}
	}
	return models.TaskResult{Value: value}
}

// GetStats returns current scheduler statistics.
func (s *Scheduler) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"active_tasks": s.active,
		"max_parallel": s.config.MaxParallel,
		"domains":      len(s.registry.order),
	}
}
