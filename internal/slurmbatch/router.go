package slurmbatch

import (
	"fmt"

	"github.com/dendro-project/compute-resource-daemon/internal/launcher"
)

// Router implements dispatch.SlurmForwarder by keying a set of per-
// processor Handlers. One Router is built once at startup from the
// registry's SLURM-backed processor list (spec.md §2 load order), so a
// missing entry here is always an InvariantViolation, never a normal
// runtime condition.
type Router struct {
	handlers map[string]*Handler
}

// NewRouter builds a Router from a processor-name-to-Handler map.
func NewRouter(handlers map[string]*Handler) *Router {
	return &Router{handlers: handlers}
}

// ForwardToHandler enqueues req into the cohort for processorName.
func (r *Router) ForwardToHandler(processorName string, req launcher.StartRequest) error {
	h, ok := r.handlers[processorName]
	if !ok {
		return fmt.Errorf("no SLURM cohort handler registered for processor %s", processorName)
	}
	h.AddJob(req)
	return nil
}

// Handlers returns the underlying handler set, for the orchestrator to
// call DoWork on each tick.
func (r *Router) Handlers() []*Handler {
	out := make([]*Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}
