package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/dendro-project/compute-resource-daemon/internal/controlplane"
	"github.com/dendro-project/compute-resource-daemon/internal/dispatch"
	"github.com/dendro-project/compute-resource-daemon/internal/launcher"
	"github.com/dendro-project/compute-resource-daemon/internal/pubsub"
	"github.com/dendro-project/compute-resource-daemon/internal/registry"
)

type fakeControlPlane struct {
	calls int
}

func (f *fakeControlPlane) GetUnfinishedJobs(context.Context) ([]controlplane.Job, error) {
	f.calls++
	return nil, nil
}

func (f *fakeControlPlane) SetJobStatus(context.Context, string, string, string, string) error {
	return nil
}

type noopLauncher struct{}

func (noopLauncher) Start(context.Context, launcher.JobLaunchContext, launcher.StartRequest) error {
	return nil
}

type noopSlurmForwarder struct{}

func (noopSlurmForwarder) ForwardToHandler(string, launcher.StartRequest) error { return nil }

func TestOrchestrator_Run_RespectsTimeoutAndTicksOnMockedBackstop(t *testing.T) {
	cp := &fakeControlPlane{}
	reg, err := registry.Build(nil)
	if err != nil {
		t.Fatalf("registry.Build() error: %v", err)
	}
	d := dispatch.New(cp, reg, noopLauncher{}, noopLauncher{}, noopSlurmForwarder{}, 2, t.TempDir())

	sub := &controlplane.PubsubSubscription{SubscribeKey: pubsub.MockSubscribeKey}
	pc, err := pubsub.Connect(context.Background(), sub, "ws://example.invalid")
	if err != nil {
		t.Fatalf("pubsub.Connect() error: %v", err)
	}

	o := New(pc, d, nil, TestHooks{ClockScale: 100000})

	o.Run(context.Background(), 50*time.Millisecond)

	if cp.calls == 0 {
		t.Error("expected at least one dispatcher tick within the bounded run (compressed backstop should have fired)")
	}
}

func TestOrchestrator_Run_StopsOnContextCancel(t *testing.T) {
	cp := &fakeControlPlane{}
	reg, _ := registry.Build(nil)
	d := dispatch.New(cp, reg, noopLauncher{}, noopLauncher{}, noopSlurmForwarder{}, 2, t.TempDir())

	sub := &controlplane.PubsubSubscription{SubscribeKey: pubsub.MockSubscribeKey}
	pc, _ := pubsub.Connect(context.Background(), sub, "ws://example.invalid")

	o := New(pc, d, nil, TestHooks{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx, 0)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return promptly after context cancellation")
	}
}
