package dispatch

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/fentz26/conductor/internal/models"
)

// Synthesis is the in-process fallback for domains without a worker. It
// merges the upstream results into one object keyed by domain and reports
// which domains failed.
type Synthesis struct{}

type synthesisResult struct {
	Request string                     `json:"request"`
	Results map[string]json.RawMessage `json:"results"`
	Failed  []string                   `json:"failed,omitempty"`
}

// Execute implements scheduler.Executor.
func (Synthesis) Execute(ctx context.Context, task models.DomainTask, request string, upstream map[string]models.TaskResult) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := synthesisResult{
		Request: request,
		Results: make(map[string]json.RawMessage, len(upstream)),
	}
	for name, r := range upstream {
		if r.Failed() {
			out.Failed = append(out.Failed, name)
			continue
		}
		if len(r.Value) == 0 {
			out.Results[name] = json.RawMessage(`null`)
			continue
		}
		out.Results[name] = r.Value
	}
	sort.Strings(out.Failed)

	return json.Marshal(out)
}
