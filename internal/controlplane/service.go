// Package controlplane provides the coordinator's HTTP API and service layer.
package controlplane

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/fentz26/conductor/internal/audit"
	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/scheduler"
	"github.com/fentz26/conductor/internal/store"
	"github.com/fentz26/conductor/internal/supervisor"
)

// ProcessSource reports the supervised fleet.
type ProcessSource interface {
	Status() []supervisor.ProcessStatus
}

// Preview is a plan computed without executing it.
type Preview struct {
	Request  string               `json:"request"`
	Selected []string             `json:"selected"`
	Plan     models.ExecutionPlan `json:"plan"`
}

// Service provides the control plane business logic.
type Service struct {
	sched *scheduler.Scheduler
	exec  scheduler.Executor
	store *store.Store
	pdr   *audit.Writer
	procs ProcessSource
}

// NewService creates a new control plane service. procs may be nil when the
// coordinator runs without a supervisor.
func NewService(sched *scheduler.Scheduler, exec scheduler.Executor, s *store.Store, pdr *audit.Writer, procs ProcessSource) *Service {
	return &Service{
		sched: sched,
		exec:  exec,
		store: s,
		pdr:   pdr,
		procs: procs,
	}
}

// --- Plan Operations ---

// Preview selects domains and builds the plan for request without running it.
func (s *Service) Preview(request string) (*Preview, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, ErrEmptyRequest
	}

	selected := s.sched.SelectRelevant(request)
	plan, err := s.sched.BuildPlan(selected)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanRejected, err)
	}
	return &Preview{Request: request, Selected: selected, Plan: plan}, nil
}

// Submit plans and executes request. A plan that cannot be ordered is stored
// as a rejected run and returned together with an ErrPlanRejected error; no
// domain is executed in that case.
func (s *Service) Submit(ctx context.Context, request string) (*models.PlanRun, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, ErrEmptyRequest
	}

	selected := s.sched.SelectRelevant(request)
	plan, err := s.sched.BuildPlan(selected)
	if err != nil {
		run, storeErr := s.store.CreatePlanRun(request, models.ExecutionPlan{}, models.RunStatusRejected, err.Error())
		if storeErr != nil {
			return nil, storeErr
		}
		s.pdr.Record("plan.reject", map[string]interface{}{"request": request, "selected": selected}, "rejected", run.ID, err.Error())
		return run, fmt.Errorf("%w: %v", ErrPlanRejected, err)
	}

	run, err := s.store.CreatePlanRun(request, plan, models.RunStatusRunning, "")
	if err != nil {
		return nil, err
	}
	s.pdr.Record("plan.build", map[string]interface{}{"request": request, "selected": selected}, "success", run.ID, "")

	results := s.sched.ExecutePlan(ctx, request, plan, s.exec)

	status, err := s.store.FinishPlanRun(run.ID, results)
	if err != nil {
		return nil, err
	}
	s.pdr.Record("plan.finish", map[string]interface{}{"run_id": run.ID, "tasks": plan.Tasks()}, string(status), run.ID, "")
	log.Printf("Run %s finished: %s (%d domain(s))", run.ID, status, len(results))

	return s.store.GetPlanRun(run.ID)
}

// GetRun retrieves a run with its results.
func (s *Service) GetRun(id string) (*models.PlanRun, error) {
	run, err := s.store.GetPlanRun(id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns the most recent runs.
func (s *Service) ListRuns(limit int) ([]models.PlanRun, error) {
	return s.store.ListPlanRuns(limit)
}

// --- Fleet Operations ---

// Processes returns the supervised fleet, or nil without a supervisor.
func (s *Service) Processes() []supervisor.ProcessStatus {
	if s.procs == nil {
		return nil
	}
	return s.procs.Status()
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Stats returns scheduler statistics.
func (s *Service) Stats() map[string]interface{} {
	return s.sched.GetStats()
}
