package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/conductor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticClassifier matches a fixed set of domains regardless of the request.
type staticClassifier []string

func (c staticClassifier) Match(string) []string { return c }

func newTestScheduler(t *testing.T, tasks []models.DomainTask, defaults []string, matched ...string) *Scheduler {
	t.Helper()
	reg, err := NewRegistry(tasks, defaults)
	require.NoError(t, err)
	return New(reg, staticClassifier(matched), nil)
}

func abcTasks() []models.DomainTask {
	return []models.DomainTask{
		{Name: "A", Priority: 1},
		{Name: "B", Priority: 1},
		{Name: "C", Priority: 2, Dependencies: []string{"A", "B"}},
	}
}

func TestBuildPlan_ABC(t *testing.T) {
	s := newTestScheduler(t, abcTasks(), []string{"A"})

	plan, err := s.BuildPlan([]string{"A", "B", "C"})
	require.NoError(t, err)

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, models.Step{Priority: 1, Tasks: []string{"A", "B"}, Parallel: true}, plan.Steps[0])
	assert.Equal(t, models.Step{Priority: 2, Tasks: []string{"C"}, Parallel: false}, plan.Steps[1])
}

func TestBuildPlan_OneStepPerPriority(t *testing.T) {
	s := newTestScheduler(t, []models.DomainTask{
		{Name: "fast", Priority: 1},
		{Name: "slow", Priority: 3},
		{Name: "mid", Priority: 2},
		{Name: "mid2", Priority: 2},
	}, []string{"fast"})

	plan, err := s.BuildPlan([]string{"slow", "mid", "fast", "mid2"})
	require.NoError(t, err)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, []string{"fast"}, plan.Steps[0].Tasks)
	assert.Equal(t, []string{"mid", "mid2"}, plan.Steps[1].Tasks)
	assert.True(t, plan.Steps[1].Parallel)
	assert.Equal(t, []string{"slow"}, plan.Steps[2].Tasks)
}

func TestBuildPlan_DependencyBeatsPriority(t *testing.T) {
	// A low-priority dependency still runs before its higher-priority dependent.
	s := newTestScheduler(t, []models.DomainTask{
		{Name: "base", Priority: 5},
		{Name: "top", Priority: 1, Dependencies: []string{"base"}},
	}, []string{"base"})

	plan, err := s.BuildPlan([]string{"top", "base"})
	require.NoError(t, err)
	assert.Less(t, plan.StepIndex("base"), plan.StepIndex("top"))
}

func TestBuildPlan_Cycle(t *testing.T) {
	s := newTestScheduler(t, []models.DomainTask{
		{Name: "root", Priority: 1},
		{Name: "x", Priority: 2, Dependencies: []string{"y"}},
		{Name: "y", Priority: 2, Dependencies: []string{"x"}},
	}, []string{"root"})

	plan, err := s.BuildPlan([]string{"root", "x", "y"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPlanUnsatisfiable))
	assert.Empty(t, plan.Steps, "the whole plan is discarded")

	var pe *PlanError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, []string{"x", "y"}, pe.Blocked)
	assert.True(t, pe.Cycle())
}

func TestBuildPlan_MissingDependency(t *testing.T) {
	s := newTestScheduler(t, abcTasks(), []string{"A"})

	_, err := s.BuildPlan([]string{"A", "C"})

	var pe *PlanError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, []string{"C"}, pe.Blocked)
	assert.Equal(t, []string{"B"}, pe.Missing)
	assert.False(t, pe.Cycle())
}

func TestBuildPlan_UnknownDomain(t *testing.T) {
	s := newTestScheduler(t, abcTasks(), []string{"A"})

	_, err := s.BuildPlan([]string{"A", "Z"})
	assert.True(t, errors.Is(err, ErrUnknownDomain))
}

func TestBuildPlan_SynthesisRunsLast(t *testing.T) {
	s := newTestScheduler(t, []models.DomainTask{
		{Name: "market", Priority: 1},
		{Name: "news", Priority: 1},
		{Name: "risk", Priority: 2, Dependencies: []string{"market"}},
		{Name: "synthesis", Priority: 0, Synthesis: true},
	}, []string{"market"})

	plan, err := s.BuildPlan([]string{"market", "news", "risk", "synthesis"})
	require.NoError(t, err)

	last := plan.Steps[len(plan.Steps)-1]
	assert.Equal(t, []string{"synthesis"}, last.Tasks)
}

// randomDAG builds n tasks where task i may only depend on tasks < i.
func randomDAG(r *rand.Rand, n int) []models.DomainTask {
	tasks := make([]models.DomainTask, n)
	for i := 0; i < n; i++ {
		tasks[i] = models.DomainTask{Name: fmt.Sprintf("t%02d", i), Priority: r.Intn(4)}
		for j := 0; j < i; j++ {
			if r.Float64() < 0.2 {
				tasks[i].Dependencies = append(tasks[i].Dependencies, tasks[j].Name)
			}
		}
	}
	return tasks
}

func TestBuildPlan_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for iter := 0; iter < 50; iter++ {
		tasks := randomDAG(r, 2+r.Intn(15))
		names := make([]string, len(tasks))
		for i, task := range tasks {
			names[i] = task.Name
		}
		s := newTestScheduler(t, tasks, names[:1])

		plan, err := s.BuildPlan(names)
		require.NoError(t, err)

		got := plan.Tasks()
		sort.Strings(got)
		assert.Equal(t, names, got, "every task exactly once")

		for i, step := range plan.Steps {
			require.NotEmpty(t, step.Tasks)
			assert.Equal(t, len(step.Tasks) > 1, step.Parallel)
			for _, name := range step.Tasks {
				task, _ := s.Registry().Get(name)
				assert.Equal(t, step.Priority, task.Priority, "step shares one priority")
				for _, dep := range task.Dependencies {
					assert.Less(t, plan.StepIndex(dep), i, "%s scheduled before its dependency %s", name, dep)
				}
			}
		}
	}
}

func TestSelectRelevant(t *testing.T) {
	tasks := []models.DomainTask{
		{Name: "market", Priority: 1},
		{Name: "news", Priority: 1},
		{Name: "risk", Priority: 2, Dependencies: []string{"market"}},
		{Name: "synthesis", Priority: 9, Synthesis: true},
	}

	t.Run("defaults when nothing matches", func(t *testing.T) {
		s := newTestScheduler(t, tasks, []string{"news"})
		assert.Equal(t, []string{"news"}, s.SelectRelevant("hello"))
	})

	t.Run("single match has no synthesis", func(t *testing.T) {
		s := newTestScheduler(t, tasks, []string{"news"}, "news")
		assert.Equal(t, []string{"news"}, s.SelectRelevant("q"))
	})

	t.Run("dependencies are pulled in", func(t *testing.T) {
		s := newTestScheduler(t, tasks, []string{"news"}, "risk")
		assert.Equal(t, []string{"market", "risk", "synthesis"}, s.SelectRelevant("q"))
	})

	t.Run("synthesis appended for several", func(t *testing.T) {
		s := newTestScheduler(t, tasks, []string{"news"}, "news", "market")
		assert.Equal(t, []string{"market", "news", "synthesis"}, s.SelectRelevant("q"))
	})

	t.Run("unknown and synthesis matches are ignored", func(t *testing.T) {
		s := newTestScheduler(t, tasks, []string{"news"}, "ghost", "synthesis")
		assert.Equal(t, []string{"news"}, s.SelectRelevant("q"))
	})
}

func TestSelectRelevant_AlwaysPlannable(t *testing.T) {
	tasks := []models.DomainTask{
		{Name: "market", Priority: 1},
		{Name: "risk", Priority: 2, Dependencies: []string{"market"}},
		{Name: "synthesis", Priority: 9, Synthesis: true},
	}
	s := newTestScheduler(t, tasks, []string{"market"}, "risk")

	plan, err := s.BuildPlan(s.SelectRelevant("risk please"))
	require.NoError(t, err)
	assert.Equal(t, []string{"market", "risk", "synthesis"}, plan.Tasks())
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		tasks    []models.DomainTask
		defaults []string
	}{
		{"empty defaults", abcTasks(), nil},
		{"unknown default", abcTasks(), []string{"Z"}},
		{"duplicate", []models.DomainTask{{Name: "A"}, {Name: "A"}}, []string{"A"}},
		{"unknown dependency", []models.DomainTask{{Name: "A", Dependencies: []string{"Z"}}}, []string{"A"}},
		{"two synthesis", []models.DomainTask{{Name: "A"}, {Name: "S1", Synthesis: true}, {Name: "S2", Synthesis: true}}, []string{"A"}},
		{"synthesis default", []models.DomainTask{{Name: "A"}, {Name: "S", Synthesis: true}}, []string{"S"}},
		{"empty name", []models.DomainTask{{Name: ""}}, []string{"A"}},
		{"depends on synthesis", []models.DomainTask{
			{Name: "A"},
			{Name: "S", Synthesis: true},
			{Name: "report", Dependencies: []string{"S"}},
		}, []string{"A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.tasks, tt.defaults)
			assert.Error(t, err)
		})
	}
}

func TestExecutePlan_FailureIsolation(t *testing.T) {
	s := newTestScheduler(t, abcTasks(), []string{"A"})
	plan, err := s.BuildPlan([]string{"A", "B", "C"})
	require.NoError(t, err)

	var mu sync.Mutex
	var seenUpstream map[string]models.TaskResult
	exec := ExecutorFunc(func(ctx context.Context, task models.DomainTask, request string, upstream map[string]models.TaskResult) (json.RawMessage, error) {
		switch task.Name {
		case "A":
			return nil, errors.New("worker unavailable")
		case "C":
			mu.Lock()
			seenUpstream = upstream
			mu.Unlock()
		}
		return json.RawMessage(fmt.Sprintf("%q", task.Name)), nil
	})

	results := s.ExecutePlan(context.Background(), "q", plan, exec)

	require.Len(t, results, 3)
	assert.Equal(t, "worker unavailable", results["A"].Error)
	assert.JSONEq(t, `"B"`, string(results["B"].Value))
	assert.False(t, results["C"].Failed(), "dependents still run after a failed dependency")
	require.Contains(t, seenUpstream, "A")
	assert.True(t, seenUpstream["A"].Failed())
	assert.False(t, seenUpstream["B"].Failed())
}

func TestExecutePlan_EmptyErrorIsFailure(t *testing.T) {
	s := newTestScheduler(t, abcTasks(), []string{"A"})
	plan := models.ExecutionPlan{Steps: []models.Step{{Priority: 1, Tasks: []string{"A", "B"}, Parallel: true}}}

	exec := ExecutorFunc(func(ctx context.Context, task models.DomainTask, request string, upstream map[string]models.TaskResult) (json.RawMessage, error) {
		if task.Name == "A" {
			return nil, errors.New("")
		}
		return json.RawMessage(`1`), nil
	})

	results := s.ExecutePlan(context.Background(), "q", plan, exec)

	require.Len(t, results, 2)
	assert.True(t, results["A"].Failed())
	assert.Equal(t, errTaskFailed, results["A"].Error)
	assert.False(t, results["B"].Failed())
}

func TestExecutePlan_PanicIsContained(t *testing.T) {
	s := newTestScheduler(t, abcTasks(), []string{"A"})
	plan := models.ExecutionPlan{Steps: []models.Step{{Priority: 1, Tasks: []string{"A", "B"}, Parallel: true}}}

	exec := ExecutorFunc(func(ctx context.Context, task models.DomainTask, request string, upstream map[string]models.TaskResult) (json.RawMessage, error) {
		if task.Name == "A" {
			panic("nil map")
		}
		return json.RawMessage(`1`), nil
	})

	results := s.ExecutePlan(context.Background(), "q", plan, exec)
	assert.Contains(t, results["A"].Error, "panic")
	assert.False(t, results["B"].Failed())
}

func TestExecutePlan_TaskTimeout(t *testing.T) {
	reg, err := NewRegistry(abcTasks(), []string{"A"})
	require.NoError(t, err)
	s := New(reg, nil, &Config{MaxParallel: 2, TaskTimeout: time.Second, ByDomain: map[string]time.Duration{"A": 20 * time.Millisecond}})
	plan := models.ExecutionPlan{Steps: []models.Step{{Priority: 1, Tasks: []string{"A", "B"}, Parallel: true}}}

	exec := ExecutorFunc(func(ctx context.Context, task models.DomainTask, request string, upstream map[string]models.TaskResult) (json.RawMessage, error) {
		if task.Name == "A" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return json.RawMessage(`1`), nil
	})

	results := s.ExecutePlan(context.Background(), "q", plan, exec)
	assert.Contains(t, results["A"].Error, "deadline exceeded")
	assert.False(t, results["B"].Failed())
}

func TestExecutePlan_SingleTaskStepRunsAlone(t *testing.T) {
	s := newTestScheduler(t, abcTasks(), []string{"A"})
	plan := models.ExecutionPlan{Steps: []models.Step{
		{Priority: 1, Tasks: []string{"A"}},
		{Priority: 2, Tasks: []string{"B"}},
	}}

	var mu sync.Mutex
	var order []string
	exec := ExecutorFunc(func(ctx context.Context, task models.DomainTask, request string, upstream map[string]models.TaskResult) (json.RawMessage, error) {
		mu.Lock()
		order = append(order, task.Name+":start")
		mu.Unlock()
		if task.Name == "A" {
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		order = append(order, task.Name+":end")
		mu.Unlock()
		return json.RawMessage(`1`), nil
	})

	s.ExecutePlan(context.Background(), "q", plan, exec)
	assert.Equal(t, []string{"A:start", "A:end", "B:start", "B:end"}, order)
}

func TestExecutePlan_Cancelled(t *testing.T) {
	s := newTestScheduler(t, abcTasks(), []string{"A"})
	plan, err := s.BuildPlan([]string{"A", "B", "C"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	exec := ExecutorFunc(func(ctx context.Context, task models.DomainTask, request string, upstream map[string]models.TaskResult) (json.RawMessage, error) {
		called = true
		return nil, nil
	})

	results := s.ExecutePlan(ctx, "q", plan, exec)
	assert.False(t, called)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Failed())
	}
}

func TestPlanErrorMessage(t *testing.T) {
	assert.Contains(t, (&PlanError{Blocked: []string{"x", "y"}}).Error(), "dependency cycle among x, y")
	assert.Contains(t, (&PlanError{Blocked: []string{"c"}, Missing: []string{"b"}}).Error(), "missing dependencies b")
}
