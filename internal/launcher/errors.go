package launcher

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEnvironmentInvalid is returned when preconditions fail before anything starts.
	ErrEnvironmentInvalid = errors.New("environment invalid")
	// ErrNotViable is returned when the minimum viable fleet did not come up.
	ErrNotViable = errors.New("fleet not viable")
	// ErrToolUnavailable is returned when port introspection is not possible on this host.
	ErrToolUnavailable = errors.New("port introspection tool unavailable")
)

// EnvError describes every failed precondition at once.
type EnvError struct {
	// MissingValues names required configuration values that are empty.
	MissingValues []string
	// MissingDirs lists required directories that do not exist.
	MissingDirs []string
	// Problems holds other layout failures, such as a fleet without a coordinator.
	Problems []string
}

func (e *EnvError) Error() string {
	var parts []string
	if len(e.MissingValues) > 0 {
		parts = append(parts, fmt.Sprintf("missing values: %s", strings.Join(e.MissingValues, ", ")))
	}
	if len(e.MissingDirs) > 0 {
		parts = append(parts, fmt.Sprintf("missing directories: %s", strings.Join(e.MissingDirs, ", ")))
	}
	parts = append(parts, e.Problems...)
	return fmt.Sprintf("%s: %s", ErrEnvironmentInvalid, strings.Join(parts, "; "))
}

// Unwrap returns ErrEnvironmentInvalid for errors.Is.
func (e *EnvError) Unwrap() error {
	return ErrEnvironmentInvalid
}

// Suggestion returns actionable guidance for the operator.
func (e *EnvError) Suggestion() string {
	var hints []string
	for _, v := range e.MissingValues {
		if strings.Contains(v, ".") {
			hints = append(hints, fmt.Sprintf("set %s in conductor.yaml or CONDUCTOR_%s", v, strings.ToUpper(strings.ReplaceAll(v, ".", "_"))))
		} else {
			hints = append(hints, fmt.Sprintf("export %s", v))
		}
	}
	for _, d := range e.MissingDirs {
		hints = append(hints, fmt.Sprintf("mkdir -p %s", d))
	}
	return strings.Join(hints, "; ")
}

func (e *EnvError) empty() bool {
	return len(e.MissingValues) == 0 && len(e.MissingDirs) == 0 && len(e.Problems) == 0
}
