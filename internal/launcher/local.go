package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// EnvJobID etc. are the environment variables a spawned job process is
// started with — the process's only way to learn which job it's running.
// JOB_ID, JOB_PRIVATE_KEY, JOB_INTERNAL, and APP_EXECUTABLE are exactly the
// names App.run() reads in the original SDK; EnvProcessorName and
// EnvWorkingDir are this daemon's own additions, carrying context the
// original App.run() doesn't need but a launched process may still find
// useful.
const (
	EnvJobID         = "JOB_ID"
	EnvJobPrivateKey = "JOB_PRIVATE_KEY"
	// EnvJobInternal, always set to "0" here, tells App.run() to take the
	// top-level branch that itself talks to the control plane (status,
	// console output, cancellation) rather than the direct-run shortcut —
	// this daemon's launchers only start the process, they never supervise
	// it once running.
	EnvJobInternal   = "JOB_INTERNAL"
	EnvAppExecutable = "APP_EXECUTABLE"
	EnvProcessorName = "DENDRO_PROCESSOR_NAME"
	EnvWorkingDir    = "DENDRO_WORKING_DIR"
)

// LocalLauncher starts a job as a detached child OS process. Per spec.md's
// scheduling model, the dispatcher never wait()s on the child; its
// liveness is observed only indirectly via status updates the child
// itself pushes to the control plane.
type LocalLauncher struct{}

// NewLocal builds a LocalLauncher.
func NewLocal() *LocalLauncher { return &LocalLauncher{} }

func (l *LocalLauncher) Start(ctx context.Context, lctx JobLaunchContext, req StartRequest) error {
	if req.ExecutablePath == "" {
		return fmt.Errorf("app has no executablePath configured for local execution")
	}

	workDir, err := lctx.WorkingDirectory(req.JobID)
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(workDir, "input_files.json"), req.InputFiles, 0o600); err != nil {
		return fmt.Errorf("write input_files.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "input_parameters.json"), req.InputParameters, 0o600); err != nil {
		return fmt.Errorf("write input_parameters.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "output_files.json"), req.OutputFiles, 0o600); err != nil {
		return fmt.Errorf("write output_files.json: %w", err)
	}

	cmd := exec.Command(req.ExecutablePath)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		EnvJobID+"="+req.JobID,
		EnvJobPrivateKey+"="+req.JobPrivateKey,
		EnvJobInternal+"=0",
		EnvAppExecutable+"="+req.ExecutablePath,
		EnvProcessorName+"="+req.ProcessorName,
		EnvWorkingDir+"="+workDir,
	)

	logFile, err := os.Create(filepath.Join(workDir, "output.log"))
	if err != nil {
		return fmt.Errorf("create output.log: %w", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	// Detach: the subprocess outlives this call regardless of what the
	// dispatcher does next. Start, don't Run — the dispatcher never waits.
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("start local process for %s: %w", req.ExecutablePath, err)
	}

	go func() {
		defer logFile.Close()
		_ = cmd.Wait()
	}()

	return nil
}
