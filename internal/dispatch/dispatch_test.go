package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dendro-project/compute-resource-daemon/internal/controlplane"
	"github.com/dendro-project/compute-resource-daemon/internal/launcher"
	"github.com/dendro-project/compute-resource-daemon/internal/registry"
)

type fakeControlPlane struct {
	mu       sync.Mutex
	jobs     []controlplane.Job
	statuses map[string]string
}

func (f *fakeControlPlane) GetUnfinishedJobs(context.Context) ([]controlplane.Job, error) {
	return f.jobs, nil
}

func (f *fakeControlPlane) SetJobStatus(_ context.Context, jobID, _, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = map[string]string{}
	}
	f.statuses[jobID] = status
	return nil
}

func (f *fakeControlPlane) statusOf(jobID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[jobID]
}

type countingLauncher struct {
	mu     sync.Mutex
	starts []string
	fail   bool
}

func (l *countingLauncher) Start(_ context.Context, _ launcher.JobLaunchContext, req launcher.StartRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts = append(l.starts, req.JobID)
	if l.fail {
		return fmt.Errorf("launcher exploded")
	}
	return nil
}

func (l *countingLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.starts)
}

type noopSlurmForwarder struct {
	forwarded []string
	missing   bool
}

func (n *noopSlurmForwarder) ForwardToHandler(processorName string, req launcher.StartRequest) error {
	if n.missing {
		return fmt.Errorf("no handler registered for processor %s", processorName)
	}
	n.forwarded = append(n.forwarded, req.JobID)
	return nil
}

// newTestRegistry builds a Registry where each processor name maps to a
// distinct single-processor app using the given backend.
func newTestRegistry(procBackends map[string]registry.Backend) *registry.Registry {
	var apps []*registry.AppConfig
	for procName, backend := range procBackends {
		app := &registry.AppConfig{
			Name:           procName + "-app",
			ExecutablePath: "/bin/true",
			Spec:           &registry.AppSpecDocument{Processors: []registry.ProcessorSpec{{Name: procName}}},
		}
		switch backend {
		case registry.BackendAWSBatch:
			app.AWSBatch = &registry.AWSBatchOpts{JobQueue: "q", JobDefinition: "d"}
		case registry.BackendSlurm:
			app.Slurm = &registry.SlurmOpts{Partition: "batch"}
		}
		apps = append(apps, app)
	}
	reg, err := registry.Build(apps)
	if err != nil {
		panic(err)
	}
	return reg
}

func newLocalJob(id string, status string, ts float64) controlplane.Job {
	return controlplane.Job{JobID: id, ProcessorName: "local-proc", Status: status, TimestampCreated: ts, JobPrivateKey: "priv-" + id}
}

func TestDispatcher_AdmitLocal_RespectsCapAndOrder(t *testing.T) {
	reg := newTestRegistry(map[string]registry.Backend{"local-proc": registry.BackendLocal})
	cp := &fakeControlPlane{jobs: []controlplane.Job{
		newLocalJob("j5", "pending", 5),
		newLocalJob("j1", "pending", 1),
		newLocalJob("j3", "pending", 3),
		newLocalJob("j2", "pending", 2),
		newLocalJob("j4", "pending", 4),
	}}
	local := &countingLauncher{}
	aws := &countingLauncher{}
	d := New(cp, reg, local, aws, &noopSlurmForwarder{}, 2, t.TempDir())

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}

	if local.count() != 2 {
		t.Fatalf("started %d local jobs, want 2", local.count())
	}
	if !d.HasAttempted("j1") || !d.HasAttempted("j2") {
		t.Errorf("expected j1 and j2 (earliest timestamps) to be started, got %v", local.starts)
	}
	if d.HasAttempted("j3") || d.HasAttempted("j4") || d.HasAttempted("j5") {
		t.Errorf("expected j3-j5 to remain unstarted, got %v", local.starts)
	}
}

func TestDispatcher_StartJob_IsIdempotent(t *testing.T) {
	reg := newTestRegistry(map[string]registry.Backend{"local-proc": registry.BackendLocal})
	cp := &fakeControlPlane{jobs: []controlplane.Job{newLocalJob("j1", "pending", 1)}}
	local := &countingLauncher{}
	d := New(cp, reg, local, &countingLauncher{}, &noopSlurmForwarder{}, 2, t.TempDir())

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("first Tick() error: %v", err)
	}
	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick() error: %v", err)
	}

	if local.count() != 1 {
		t.Errorf("launcher invoked %d times, want exactly 1 (I3)", local.count())
	}
}

func TestDispatcher_LauncherFailure_MarksJobFailed(t *testing.T) {
	reg := newTestRegistry(map[string]registry.Backend{"local-proc": registry.BackendLocal})
	cp := &fakeControlPlane{jobs: []controlplane.Job{newLocalJob("j1", "pending", 1)}}
	local := &countingLauncher{fail: true}
	d := New(cp, reg, local, &countingLauncher{}, &noopSlurmForwarder{}, 2, t.TempDir())

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}

	if got := cp.statusOf("j1"); got != "failed" {
		t.Errorf("job status = %q, want failed", got)
	}
	if !d.HasAttempted("j1") {
		t.Error("job should still be in the attempted-start set even after launcher failure")
	}
}

func TestDispatcher_UnknownProcessor_MarksJobFailed(t *testing.T) {
	reg := newTestRegistry(map[string]registry.Backend{})
	job := newLocalJob("j1", "pending", 1)
	job.ProcessorName = "does-not-exist"
	cp := &fakeControlPlane{jobs: []controlplane.Job{job}}
	d := New(cp, reg, &countingLauncher{}, &countingLauncher{}, &noopSlurmForwarder{}, 2, t.TempDir())

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if got := cp.statusOf("j1"); got != "failed" {
		t.Errorf("job status = %q, want failed", got)
	}
}

func TestDispatcher_AWSBatch_AttemptsEveryJob(t *testing.T) {
	reg := newTestRegistry(map[string]registry.Backend{"aws-proc": registry.BackendAWSBatch})
	cp := &fakeControlPlane{jobs: []controlplane.Job{
		{JobID: "a1", ProcessorName: "aws-proc", Status: "pending", TimestampCreated: 1},
		{JobID: "a2", ProcessorName: "aws-proc", Status: "starting", TimestampCreated: 2},
	}}
	aws := &countingLauncher{}
	d := New(cp, reg, &countingLauncher{}, aws, &noopSlurmForwarder{}, 2, t.TempDir())

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if aws.count() != 2 {
		t.Errorf("AWS Batch launcher invoked %d times, want 2 (admission delegated to AWS)", aws.count())
	}
}

func TestDispatcher_Slurm_OnlyForwardsPendingJobs(t *testing.T) {
	reg := newTestRegistry(map[string]registry.Backend{"slurm-proc": registry.BackendSlurm})
	cp := &fakeControlPlane{jobs: []controlplane.Job{
		{JobID: "s1", ProcessorName: "slurm-proc", Status: "pending", TimestampCreated: 1},
		{JobID: "s2", ProcessorName: "slurm-proc", Status: "running", TimestampCreated: 2},
	}}
	fwd := &noopSlurmForwarder{}
	d := New(cp, reg, &countingLauncher{}, &countingLauncher{}, fwd, 2, t.TempDir())

	if err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error: %v", err)
	}
	if len(fwd.forwarded) != 1 || fwd.forwarded[0] != "s1" {
		t.Errorf("forwarded = %v, want only [s1]", fwd.forwarded)
	}
}
