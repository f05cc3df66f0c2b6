package slurmbatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	slurm "github.com/jontk/slurm-client"

	"github.com/dendro-project/compute-resource-daemon/internal/launcher"
	"github.com/dendro-project/compute-resource-daemon/internal/registry"
)

type fakeJobSubmitter struct {
	mu      sync.Mutex
	submits []*slurm.JobSubmission
	failAll bool
}

func (f *fakeJobSubmitter) Submit(_ context.Context, job *slurm.JobSubmission) (*slurm.JobSubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, fmt.Errorf("slurm cluster unreachable")
	}
	f.submits = append(f.submits, job)
	return &slurm.JobSubmitResponse{JobId: int32(len(f.submits))}, nil
}

func (f *fakeJobSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

type fakeLaunchContext struct {
	dir      string
	mu       sync.Mutex
	statuses map[string]string
}

func newFakeLaunchContext(t *testing.T) *fakeLaunchContext {
	t.Helper()
	return &fakeLaunchContext{dir: t.TempDir(), statuses: map[string]string{}}
}

func (f *fakeLaunchContext) WorkingDirectory(jobID string) (string, error) {
	dir := filepath.Join(f.dir, "jobs", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (f *fakeLaunchContext) ReportStatus(_ context.Context, jobID, _, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = status
	return nil
}

func TestHandler_FlushesOnMaxCohortSize(t *testing.T) {
	jobs := &fakeJobSubmitter{}
	lctx := newFakeLaunchContext(t)
	h := NewHandler("proc1", &registry.SlurmOpts{Partition: "batch"}, jobs, lctx)

	for i := 0; i < MaxCohortSize; i++ {
		h.AddJob(launcher.StartRequest{JobID: fmt.Sprintf("job-%d", i), ExecutablePath: "/bin/true"})
	}

	h.DoWork(context.Background())

	if got := jobs.count(); got != 1 {
		t.Errorf("submitted %d cohort batches, want 1", got)
	}
	if got := h.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d, want 0 after flush", got)
	}

	lctx.mu.Lock()
	defer lctx.mu.Unlock()
	for i := 0; i < MaxCohortSize; i++ {
		id := fmt.Sprintf("job-%d", i)
		if lctx.statuses[id] != "queued" {
			t.Errorf("job %s status = %q, want queued", id, lctx.statuses[id])
		}
	}
}

func TestHandler_DoesNotFlushBelowThresholds(t *testing.T) {
	jobs := &fakeJobSubmitter{}
	lctx := newFakeLaunchContext(t)
	h := NewHandler("proc1", &registry.SlurmOpts{}, jobs, lctx)

	h.AddJob(launcher.StartRequest{JobID: "job-1", ExecutablePath: "/bin/true"})
	h.DoWork(context.Background())

	if got := jobs.count(); got != 0 {
		t.Errorf("submitted %d jobs, want 0 (should still be quiescing)", got)
	}
	if got := h.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d, want 1", got)
	}
}

func TestHandler_FlushesAfterQuiescenceWindow(t *testing.T) {
	jobs := &fakeJobSubmitter{}
	lctx := newFakeLaunchContext(t)
	h := NewHandler("proc1", &registry.SlurmOpts{}, jobs, lctx)

	h.mu.Lock()
	h.pending = append(h.pending, pendingJob{
		req:      launcher.StartRequest{JobID: "job-1", ExecutablePath: "/bin/true"},
		queuedAt: time.Now().Add(-QuiescenceWindow - time.Second),
	})
	h.mu.Unlock()

	h.DoWork(context.Background())

	if got := jobs.count(); got != 1 {
		t.Errorf("submitted %d jobs, want 1 after quiescence window elapsed", got)
	}
}

func TestHandler_ClusterFailureFailsWholeCohort(t *testing.T) {
	jobs := &fakeJobSubmitter{failAll: true}
	lctx := newFakeLaunchContext(t)
	h := NewHandler("proc1", &registry.SlurmOpts{}, jobs, lctx)

	for i := 0; i < MaxCohortSize; i++ {
		h.AddJob(launcher.StartRequest{JobID: fmt.Sprintf("job-%d", i), ExecutablePath: "/bin/true"})
	}
	h.DoWork(context.Background())

	lctx.mu.Lock()
	defer lctx.mu.Unlock()
	for i := 0; i < MaxCohortSize; i++ {
		id := fmt.Sprintf("job-%d", i)
		if lctx.statuses[id] != "failed" {
			t.Errorf("job %s status = %q, want failed", id, lctx.statuses[id])
		}
	}
}
