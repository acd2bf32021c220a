package supervisor

import (
	"time"

	"github.com/fentz26/conductor/internal/models"
)

// MetricsCollector receives supervisor lifecycle observations.
type MetricsCollector interface {
	ProcessRegistered(id string, kind models.Kind)
	ProcessUnhealthy(id string)
	ProcessRestart(id string, err error)
	ProcessBackoff(id string, delay time.Duration)
	ProcessFailed(id string)
	ProcessCounts(live, failed int)
}

type noopMetrics struct{}

func (noopMetrics) ProcessRegistered(string, models.Kind) {}
func (noopMetrics) ProcessUnhealthy(string)               {}
func (noopMetrics) ProcessRestart(string, error)          {}
func (noopMetrics) ProcessBackoff(string, time.Duration)  {}
func (noopMetrics) ProcessFailed(string)                  {}
func (noopMetrics) ProcessCounts(int, int)                {}
