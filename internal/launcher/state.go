package launcher

import (
	"github.com/fentz26/conductor/internal/models"
)

// State is the launcher's lifecycle phase.
type State int

const (
	StateNotStarted State = iota
	StateValidating
	StateReclaimingPorts
	StateStartingCoordinator
	StateStartingSpecialists
	StateStartingLeaves
	StateOperational
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateValidating:
		return "VALIDATING"
	case StateReclaimingPorts:
		return "RECLAIMING_PORTS"
	case StateStartingCoordinator:
		return "STARTING_COORDINATOR"
	case StateStartingSpecialists:
		return "STARTING_SPECIALISTS"
	case StateStartingLeaves:
		return "STARTING_LEAVES"
	case StateOperational:
		return "OPERATIONAL"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Readiness selects how a layer treats a worker that declares a port.
type Readiness int

const (
	// ReadinessBestEffort probes the port and only warns if it never answers.
	ReadinessBestEffort Readiness = iota
	// ReadinessRequired treats a worker that never answers as not started.
	ReadinessRequired
)

// layerPolicy is the per-kind start-up behaviour.
type layerPolicy struct {
	state     State
	readiness Readiness
}

var layerPolicies = map[models.Kind]layerPolicy{
	models.KindCoordinator: {state: StateStartingCoordinator, readiness: ReadinessRequired},
	models.KindSpecialist:  {state: StateStartingSpecialists, readiness: ReadinessBestEffort},
	models.KindLeaf:        {state: StateStartingLeaves, readiness: ReadinessBestEffort},
}
