// Package orchestrator implements the steady-state event loop (spec.md
// component C8) that ties the pub/sub client, dispatcher, and SLURM
// cohort handlers together.
package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/dendro-project/compute-resource-daemon/internal/dispatch"
	"github.com/dendro-project/compute-resource-daemon/internal/pubsub"
	"github.com/dendro-project/compute-resource-daemon/internal/slurmbatch"
)

// WorkBackstop is the safety net against a lost pub/sub hint: a tick does
// dispatcher work unconditionally once this much wall-clock time has
// passed since the last work-tick, scaled by TestHooks.ClockScale.
const WorkBackstop = 10 * time.Minute

// baseAdaptiveInterval is the nominal sleep between loop iterations.
const baseAdaptiveInterval = 2 * time.Second

// TestHooks overrides production timing and collaborators for tests.
// This replaces a package-level mock-mode flag: tests build an
// Orchestrator with a ClockScale that compresses the 10-minute backstop
// down to something a unit test can observe within its own timeout, and
// inject fakes for the pub/sub and control-plane dependents the
// Dispatcher/pubsub.Client already take as constructor arguments.
type TestHooks struct {
	// ClockScale divides every duration this package sleeps or compares
	// against (WorkBackstop, the adaptive interval). 1 means production
	// timing; higher values compress time for tests. Zero is treated as 1.
	ClockScale float64
}

func (h TestHooks) scale() float64 {
	if h.ClockScale <= 0 {
		return 1
	}
	return h.ClockScale
}

func (h TestHooks) scaleDuration(d time.Duration) time.Duration {
	return time.Duration(float64(d) / h.scale())
}

// Orchestrator runs the C8 event loop: drain pub/sub, conditionally tick
// the dispatcher, run every SLURM cohort handler's doWork, sleep, repeat.
type Orchestrator struct {
	pubsubClient  *pubsub.Client
	dispatcher    *dispatch.Dispatcher
	slurmHandlers []*slurmbatch.Handler
	hooks         TestHooks

	lastWorkTick time.Time
}

// New builds an Orchestrator. hooks may be the zero value for production
// timing.
func New(pubsubClient *pubsub.Client, dispatcher *dispatch.Dispatcher, slurmHandlers []*slurmbatch.Handler, hooks TestHooks) *Orchestrator {
	return &Orchestrator{
		pubsubClient:  pubsubClient,
		dispatcher:    dispatcher,
		slurmHandlers: slurmHandlers,
		hooks:         hooks,
		lastWorkTick:  time.Now(),
	}
}

// Run executes the event loop until ctx is cancelled or timeout elapses
// (timeout <= 0 means run forever, the production mode; tests pass a
// bounded timeout as the loop's exit condition, per spec.md §4.8's
// "testing hook").
func (o *Orchestrator) Run(ctx context.Context, timeout time.Duration) {
	started := time.Now()
	backstop := o.hooks.scaleDuration(WorkBackstop)
	interval := o.hooks.scaleDuration(baseAdaptiveInterval)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs := o.pubsubClient.Drain()
		trigger := false
		for _, m := range msgs {
			switch m.Kind {
			case pubsub.EventNewPendingJob, pubsub.EventJobStatusChanged:
				trigger = true
			}
		}
		if !trigger && time.Since(o.lastWorkTick) > backstop {
			trigger = true
		}

		if trigger {
			if err := o.dispatcher.Tick(ctx); err != nil {
				log.Printf("orchestrator: dispatcher tick error: %v", err)
			}
			o.lastWorkTick = time.Now()
		}

		for _, h := range o.slurmHandlers {
			h.DoWork(ctx)
		}

		if timeout > 0 && time.Since(started) > timeout {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
