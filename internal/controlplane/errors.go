package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrEmptyRequest = errors.New("request text required")
	ErrPlanRejected = errors.New("plan rejected")
	ErrRunNotFound  = errors.New("run not found")
)
