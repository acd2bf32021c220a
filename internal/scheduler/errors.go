package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownDomain is returned for names missing from the registry.
	ErrUnknownDomain = errors.New("unknown domain")
	// ErrPlanUnsatisfiable is returned when no valid ordering exists.
	ErrPlanUnsatisfiable = errors.New("plan unsatisfiable")
)

// PlanError reports why a selection could not be ordered. The whole plan is
// discarded; no step is executed.
type PlanError struct {
	// Blocked lists the tasks that could never be scheduled.
	Blocked []string
	// Missing lists dependencies that are not part of the selection.
	Missing []string
}

func (e *PlanError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: missing dependencies %s for %s",
			ErrPlanUnsatisfiable, strings.Join(e.Missing, ", "), strings.Join(e.Blocked, ", "))
	}
	return fmt.Sprintf("%s: dependency cycle among %s", ErrPlanUnsatisfiable, strings.Join(e.Blocked, ", "))
}

// Unwrap returns ErrPlanUnsatisfiable for errors.Is.
func (e *PlanError) Unwrap() error {
	return ErrPlanUnsatisfiable
}

// Cycle reports whether the plan failed because of a dependency cycle.
func (e *PlanError) Cycle() bool {
	return len(e.Missing) == 0
}
