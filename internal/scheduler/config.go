// Package scheduler selects the domains relevant to a request, orders them
// into dependency-respecting steps and executes those steps.
package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// MaxParallel is the maximum number of tasks running at once within a step.
	MaxParallel int `yaml:"max_parallel"`
	// TaskTimeout bounds a single DomainTask execution.
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// ByDomain overrides TaskTimeout for individual domains.
	ByDomain map[string]time.Duration `yaml:"by_domain"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxParallel: 8,
		TaskTimeout: 60 * time.Second,
	}
}

// GetTaskTimeout returns the execution timeout for a domain.
func (c *Config) GetTaskTimeout(domain string) time.Duration {
	if d, ok := c.ByDomain[domain]; ok {
		return d
	}
	return c.TaskTimeout
}
