// Package dispatch implements the job poller & dispatcher (spec.md
// component C5): the hot core that fetches unfinished jobs, partitions
// them by execution backend, and starts each one at most once.
package dispatch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dendro-project/compute-resource-daemon/internal/controlplane"
	"github.com/dendro-project/compute-resource-daemon/internal/errorkinds"
	"github.com/dendro-project/compute-resource-daemon/internal/launcher"
	"github.com/dendro-project/compute-resource-daemon/internal/registry"
)

// ControlPlane is the narrow slice of controlplane.Client the dispatcher
// needs. Production code passes a real *controlplane.Client; tests pass a
// fake, following the TestHooks pattern used throughout this daemon
// instead of a global mock-mode flag.
type ControlPlane interface {
	GetUnfinishedJobs(ctx context.Context) ([]controlplane.Job, error)
	SetJobStatus(ctx context.Context, jobID, jobPrivateKey, status, errMsg string) error
}

// SlurmForwarder is the narrow capability the dispatcher needs from C6:
// enqueue a job into the processor's cohort. A missing handler for a
// processor the registry says is SLURM-backed is an InvariantViolation —
// it should not occur given correct load order (§2).
type SlurmForwarder interface {
	ForwardToHandler(processorName string, req launcher.StartRequest) error
}

// Dispatcher is C5. It owns the attempted-start set (I3) and the local
// admission accounting (I4) for the lifetime of the process.
type Dispatcher struct {
	cp       ControlPlane
	reg      *registry.Registry
	local    launcher.Launcher
	awsBatch launcher.Launcher
	slurm    SlurmForwarder

	maxSimultaneousLocalJobs int
	rootDir                  string

	mu             sync.Mutex
	attemptedStart map[string]bool
}

// New builds a Dispatcher. rootDir is the directory job working
// directories are created under (<rootDir>/jobs/<jobId>).
func New(cp ControlPlane, reg *registry.Registry, local, awsBatch launcher.Launcher, slurmFwd SlurmForwarder, maxSimultaneousLocalJobs int, rootDir string) *Dispatcher {
	return &Dispatcher{
		cp:                       cp,
		reg:                      reg,
		local:                    local,
		awsBatch:                 awsBatch,
		slurm:                    slurmFwd,
		maxSimultaneousLocalJobs: maxSimultaneousLocalJobs,
		rootDir:                  rootDir,
		attemptedStart:           make(map[string]bool),
	}
}

// SetSlurmForwarder wires the SLURM cohort router in after construction,
// since the router's handlers need this Dispatcher as their
// launcher.JobLaunchContext and so must themselves be built after it.
func (d *Dispatcher) SetSlurmForwarder(slurmFwd SlurmForwarder) {
	d.slurm = slurmFwd
}

// WorkingDirectory implements launcher.JobLaunchContext.
func (d *Dispatcher) WorkingDirectory(jobID string) (string, error) {
	dir := filepath.Join(d.rootDir, "jobs", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// ReportStatus implements launcher.JobLaunchContext.
func (d *Dispatcher) ReportStatus(ctx context.Context, jobID, jobPrivateKey, status, errMsg string) error {
	return d.cp.SetJobStatus(ctx, jobID, jobPrivateKey, status, errMsg)
}

// classified groups one tick's unfinished jobs by backend.
type classified struct {
	local    []controlplane.Job
	awsBatch []controlplane.Job
	slurm    []controlplane.Job
}

// Tick performs one dispatcher pass: fetch, partition, admit, start.
// Errors from individual jobs (unknown processor, launcher failure) are
// handled per spec.md §7 and never propagate out of Tick; only a
// transport-level failure to even fetch the job list is returned, so the
// caller can treat it as a TransientTransportError and retry next tick.
func (d *Dispatcher) Tick(ctx context.Context) error {
	jobs, err := d.cp.GetUnfinishedJobs(ctx)
	if err != nil {
		return &errorkinds.TransientTransportError{Op: "fetch unfinished jobs", Err: err}
	}

	groups := d.partition(ctx, jobs)

	d.admitLocal(ctx, groups.local)

	for _, job := range groups.awsBatch {
		d.startJob(ctx, job, registry.BackendAWSBatch)
	}

	for _, job := range groups.slurm {
		if job.Status != "pending" {
			continue
		}
		d.startJob(ctx, job, registry.BackendSlurm)
	}

	return nil
}

// partition classifies each job by its owning app's backend. A job whose
// processorName does not resolve to any loaded app is marked failed
// immediately and dropped from all groups.
func (d *Dispatcher) partition(ctx context.Context, jobs []controlplane.Job) classified {
	var groups classified
	for _, job := range jobs {
		app, err := d.reg.AppByProcessor(job.ProcessorName)
		if err != nil {
			log.Printf("dispatch: %v", err)
			if rerr := d.cp.SetJobStatus(ctx, job.JobID, job.JobPrivateKey, "failed", err.Error()); rerr != nil {
				log.Printf("dispatch: could not report unknown-processor failure for job %s: %v", job.JobID, rerr)
			}
			continue
		}

		switch app.Backend() {
		case registry.BackendAWSBatch:
			groups.awsBatch = append(groups.awsBatch, job)
		case registry.BackendSlurm:
			groups.slurm = append(groups.slurm, job)
		default:
			groups.local = append(groups.local, job)
		}
	}
	return groups
}

// admitLocal implements I4: start local jobs in timestampCreated order up
// to the admission cap, counting any local job not in "pending" status as
// already occupying a slot.
func (d *Dispatcher) admitLocal(ctx context.Context, localJobs []controlplane.Job) {
	numBusy := 0
	var pending []controlplane.Job
	for _, job := range localJobs {
		if job.Status != "pending" {
			numBusy++
			continue
		}
		pending = append(pending, job)
	}

	slots := d.maxSimultaneousLocalJobs - numBusy
	if slots <= 0 {
		return
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].TimestampCreated < pending[j].TimestampCreated
	})

	if slots > len(pending) {
		slots = len(pending)
	}
	for _, job := range pending[:slots] {
		d.startJob(ctx, job, registry.BackendLocal)
	}
}

// startJob is the start-job operation: at-most-once per jobId (I3), with
// the attempted-start set updated before the launcher is invoked.
func (d *Dispatcher) startJob(ctx context.Context, job controlplane.Job, backend registry.Backend) {
	d.mu.Lock()
	if d.attemptedStart[job.JobID] {
		d.mu.Unlock()
		return
	}
	d.attemptedStart[job.JobID] = true
	d.mu.Unlock()

	app, err := d.reg.AppByProcessor(job.ProcessorName)
	if err != nil {
		d.failJob(ctx, job, err)
		return
	}

	req := launcher.StartRequest{
		JobID:           job.JobID,
		JobPrivateKey:   job.JobPrivateKey,
		ProcessorName:   job.ProcessorName,
		InputFiles:      job.InputFiles,
		InputParameters: job.InputParameters,
		OutputFiles:     job.OutputFiles,
		ExecutablePath:  app.ExecutablePath,
		Container:       app.Container,
	}
	if app.AWSBatch != nil {
		req.AWSBatchJobQueue = app.AWSBatch.JobQueue
		req.AWSBatchJobDefinition = app.AWSBatch.JobDefinition
	}

	switch backend {
	case registry.BackendLocal:
		if err := d.local.Start(ctx, d, req); err != nil {
			d.failJob(ctx, job, &errorkinds.LauncherError{JobID: job.JobID, Err: err})
		}
	case registry.BackendAWSBatch:
		if err := d.awsBatch.Start(ctx, d, req); err != nil {
			d.failJob(ctx, job, &errorkinds.LauncherError{JobID: job.JobID, Err: err})
		}
	case registry.BackendSlurm:
		if err := d.slurm.ForwardToHandler(job.ProcessorName, req); err != nil {
			log.Printf("dispatch: invariant violation: %v", errorkinds.NewInvariantViolation("%v", err))
		}
	}
}

func (d *Dispatcher) failJob(ctx context.Context, job controlplane.Job, cause error) {
	log.Printf("dispatch: job %s failed to start: %v", job.JobID, cause)
	if err := d.cp.SetJobStatus(ctx, job.JobID, job.JobPrivateKey, "failed", cause.Error()); err != nil {
		log.Printf("dispatch: could not report failure for job %s: %v", job.JobID, err)
	}
}

// AttemptedCount reports the size of the attempted-start set, for tests.
func (d *Dispatcher) AttemptedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attemptedStart)
}

// HasAttempted reports whether jobID is in the attempted-start set, for
// tests asserting I3.
func (d *Dispatcher) HasAttempted(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attemptedStart[jobID]
}
