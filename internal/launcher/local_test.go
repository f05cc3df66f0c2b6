package launcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeLaunchContext struct {
	dir string
}

func (f *fakeLaunchContext) WorkingDirectory(jobID string) (string, error) {
	dir := filepath.Join(f.dir, "jobs", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (f *fakeLaunchContext) ReportStatus(ctx context.Context, jobID, jobPrivateKey, status, errMsg string) error {
	return nil
}

func TestLocalLauncher_StartWritesInputsAndDetaches(t *testing.T) {
	lctx := &fakeLaunchContext{dir: t.TempDir()}
	l := NewLocal()

	req := StartRequest{
		JobID:           "job-1",
		JobPrivateKey:   "priv",
		ProcessorName:   "proc1",
		ExecutablePath:  "/bin/true",
		InputFiles:      []byte(`{}`),
		InputParameters: []byte(`{}`),
		OutputFiles:     []byte(`{}`),
	}

	if err := l.Start(context.Background(), lctx, req); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	workDir := filepath.Join(lctx.dir, "jobs", "job-1")
	for _, f := range []string{"input_files.json", "input_parameters.json", "output_files.json", "output.log"} {
		if _, err := os.Stat(filepath.Join(workDir, f)); err != nil {
			t.Errorf("expected %s to exist: %v", f, err)
		}
	}
}

func TestLocalLauncher_MissingExecutablePath(t *testing.T) {
	lctx := &fakeLaunchContext{dir: t.TempDir()}
	l := NewLocal()

	err := l.Start(context.Background(), lctx, StartRequest{JobID: "job-2"})
	if err == nil {
		t.Fatal("expected error for missing ExecutablePath")
	}
}
