// Package slurmbatch implements the per-processor SLURM cohort batching
// handler (spec.md component C6): jobs for the same processor accumulate
// briefly, then are submitted to SLURM as one array-like batch rather
// than one sbatch call per job.
package slurmbatch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	slurm "github.com/jontk/slurm-client"

	"github.com/dendro-project/compute-resource-daemon/internal/launcher"
	"github.com/dendro-project/compute-resource-daemon/internal/registry"
)

// JobSubmitter is the narrow slice of slurm.JobManager this package needs.
// Callers pass client.Jobs() rather than the whole slurm.SlurmClient, which
// keeps this package's tests from having to fake the entire SLURM API
// surface.
type JobSubmitter interface {
	Submit(ctx context.Context, job *slurm.JobSubmission) (*slurm.JobSubmitResponse, error)
}

const (
	// MaxCohortSize caps how many jobs flush together in one sbatch call.
	MaxCohortSize = 8

	// QuiescenceWindow is how long the handler waits for more jobs of the
	// same processor to show up before flushing a partial cohort.
	QuiescenceWindow = 5 * time.Second

	// HardWaitCeiling is the maximum time a job may sit in a cohort before
	// it's flushed regardless of how recently a sibling arrived.
	HardWaitCeiling = 60 * time.Second
)

// pendingJob is one job waiting inside a cohort.
type pendingJob struct {
	req      launcher.StartRequest
	queuedAt time.Time
}

// Handler batches jobs for a single processor backed by SLURM. One Handler
// exists per SLURM-backed processor name (I5: cohort integrity — a batch
// never mixes jobs from different processors).
type Handler struct {
	processorName string
	opts          *registry.SlurmOpts
	jobs          JobSubmitter
	lctx          launcher.JobLaunchContext

	mu      sync.Mutex
	pending []pendingJob
}

// NewHandler builds a cohort handler bound to one processor's SLURM
// options and a shared SLURM job manager.
func NewHandler(processorName string, opts *registry.SlurmOpts, jobs JobSubmitter, lctx launcher.JobLaunchContext) *Handler {
	return &Handler{
		processorName: processorName,
		opts:          opts,
		jobs:          jobs,
		lctx:          lctx,
	}
}

// AddJob enqueues a job into this processor's cohort. It does not submit
// immediately — DoWork decides when a cohort is ready to flush.
func (h *Handler) AddJob(req launcher.StartRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, pendingJob{req: req, queuedAt: time.Now()})
}

// DoWork flushes the cohort if any flush condition holds: the cohort has
// reached MaxCohortSize, the newest arrival is older than
// QuiescenceWindow, or the oldest arrival has hit HardWaitCeiling. Safe to
// call on every dispatcher tick; a no-op when no flush condition holds.
func (h *Handler) DoWork(ctx context.Context) {
	h.mu.Lock()
	if len(h.pending) == 0 {
		h.mu.Unlock()
		return
	}

	now := time.Now()
	oldest := h.pending[0].queuedAt
	newest := h.pending[len(h.pending)-1].queuedAt

	ready := len(h.pending) >= MaxCohortSize ||
		now.Sub(newest) >= QuiescenceWindow ||
		now.Sub(oldest) >= HardWaitCeiling

	if !ready {
		h.mu.Unlock()
		return
	}

	cohort := h.pending
	h.pending = nil
	h.mu.Unlock()

	h.flush(ctx, cohort)
}

// flush performs at most one sbatch-equivalent submission for the whole
// cohort: a single driver script that runs each job in the cohort in
// turn, each line carrying that job's own environment inline, so the
// target cluster need not support job arrays. Only the partition and
// cpus-per-task options are passed to SLURM, and the allocation id in the
// response is not kept. This
// keeps cohort submission atomic, matching I5: either every job in the
// cohort is accepted by SLURM together, or every job is marked failed
// together.
func (h *Handler) flush(ctx context.Context, cohort []pendingJob) {
	script, err := h.writeDriverScript(cohort)
	if err != nil {
		h.failAll(ctx, cohort, fmt.Errorf("prepare cohort driver script: %w", err))
		return
	}

	submission := &slurm.JobSubmission{
		Name:      fmt.Sprintf("dendro-%s-cohort", h.processorName),
		Command:   script,
		Partition: h.opts.Partition,
		CPUs:      h.opts.CPUsPerTask,
	}

	if _, err := h.jobs.Submit(ctx, submission); err != nil {
		h.failAll(ctx, cohort, fmt.Errorf("submit cohort to SLURM: %w", err))
		return
	}

	for _, job := range cohort {
		if err := h.lctx.ReportStatus(ctx, job.req.JobID, job.req.JobPrivateKey, "queued", ""); err != nil {
			log.Printf("slurmbatch: could not report queued status for job %s: %v", job.req.JobID, err)
		}
	}
}

// writeDriverScript materializes a shell script that runs each cohort
// job's executable with its own per-job environment and working
// directory, one after another.
func (h *Handler) writeDriverScript(cohort []pendingJob) (string, error) {
	var b strings.Builder
	b.WriteString("#!/bin/sh\nset -e\n")
	for _, job := range cohort {
		workDir, err := h.lctx.WorkingDirectory(job.req.JobID)
		if err != nil {
			return "", fmt.Errorf("resolve working directory for job %s: %w", job.req.JobID, err)
		}
		fmt.Fprintf(&b, "(cd %q && env %s=%s %s=%s %s=0 %s=%s %s=%s %q)\n",
			workDir,
			launcher.EnvJobID, job.req.JobID,
			launcher.EnvJobPrivateKey, job.req.JobPrivateKey,
			launcher.EnvJobInternal,
			launcher.EnvAppExecutable, job.req.ExecutablePath,
			launcher.EnvProcessorName, job.req.ProcessorName,
			job.req.ExecutablePath)
	}

	scriptDir, err := h.lctx.WorkingDirectory("cohort-" + h.processorName)
	if err != nil {
		return "", err
	}
	scriptPath := filepath.Join(scriptDir, fmt.Sprintf("driver-%d.sh", time.Now().UnixNano()))
	if err := os.WriteFile(scriptPath, []byte(b.String()), 0o700); err != nil {
		return "", fmt.Errorf("write driver script: %w", err)
	}
	return scriptPath, nil
}

func (h *Handler) failAll(ctx context.Context, cohort []pendingJob, cause error) {
	log.Printf("slurmbatch: cohort for processor %s failed: %v", h.processorName, cause)
	for _, job := range cohort {
		if err := h.lctx.ReportStatus(ctx, job.req.JobID, job.req.JobPrivateKey, "failed", cause.Error()); err != nil {
			log.Printf("slurmbatch: could not report failure for job %s: %v", job.req.JobID, err)
		}
	}
}

// PendingCount reports how many jobs are currently queued, for tests and
// diagnostics.
func (h *Handler) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
