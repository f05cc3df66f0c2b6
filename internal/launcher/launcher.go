// Package launcher implements the three job-start backends (spec.md
// component C5's launcher abstraction): local subprocess, AWS Batch, and
// SLURM (the SLURM launcher lives in internal/slurmbatch, since a SLURM
// job is launched as part of a cohort rather than one at a time).
package launcher

import (
	"context"
)

// JobLaunchContext is the narrow capability a Launcher needs from the
// dispatcher: just enough to resolve a job's working directory and report
// its outcome, without a back-reference to the whole daemon. This
// replaces the cyclic Daemon<->SlurmJobHandler reference flagged in the
// original design.
type JobLaunchContext interface {
	// WorkingDirectory returns (creating if necessary) the job's scratch
	// directory, e.g. jobs/<jobId>.
	WorkingDirectory(jobID string) (string, error)

	// ReportStatus pushes a job status update to the control plane,
	// authenticated with the job's own private key.
	ReportStatus(ctx context.Context, jobID, jobPrivateKey, status, errMsg string) error
}

// StartRequest carries everything a Launcher needs to start one job.
type StartRequest struct {
	JobID           string
	JobPrivateKey   string
	ProcessorName   string
	InputFiles      []byte // raw JSON, passed through to the processor unopened
	InputParameters []byte
	OutputFiles     []byte

	ExecutablePath string // local backend
	Container      string // carried from the app; no launcher here reads it

	AWSBatchJobQueue      string
	AWSBatchJobDefinition string
}

// Launcher starts a job on one backend. Start must be idempotent-safe to
// call only once per job: the dispatcher's attempted-start set (I3)
// guarantees it is never called twice for the same jobId, so a Launcher
// need not guard against that itself.
type Launcher interface {
	Start(ctx context.Context, lctx JobLaunchContext, req StartRequest) error
}
