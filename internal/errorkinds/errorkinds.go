// Package errorkinds defines the small set of error kinds the compute
// resource daemon distinguishes between, so callers can decide whether to
// stay alive or exit without resorting to string matching.
package errorkinds

import "fmt"

// ConfigError indicates the daemon cannot safely operate: a missing
// identity, an app with both AWS Batch and SLURM options, or a duplicate
// processor name. Always fatal at startup.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// NewConfigError builds a ConfigError with a formatted message.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// TransientTransportError wraps an HTTP or pub-sub blip. The tick that hit
// it returns early; the next tick retries.
type TransientTransportError struct {
	Op  string
	Err error
}

func (e *TransientTransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientTransportError) Unwrap() error { return e.Err }

// UnknownProcessorError means a job's processorName does not resolve to any
// loaded app. The job is marked failed; the dispatcher continues.
type UnknownProcessorError struct {
	ProcessorName string
}

func (e *UnknownProcessorError) Error() string {
	return fmt.Sprintf("could not find app with processor name %s", e.ProcessorName)
}

// LauncherError wraps any exception raised by a backend launcher. Same
// treatment as UnknownProcessorError: mark the job failed, log, don't
// propagate.
type LauncherError struct {
	JobID string
	Err   error
}

func (e *LauncherError) Error() string {
	return fmt.Sprintf("failed to start job %s: %v", e.JobID, e.Err)
}

func (e *LauncherError) Unwrap() error { return e.Err }

// InvariantViolation marks a condition that should not occur given correct
// registry load order (e.g. a pending SLURM job with no handler for its
// processor). The dispatcher logs it where it is detected and continues;
// it is not returned to the orchestrator.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string { return e.Msg }

// NewInvariantViolation builds an InvariantViolation with a formatted message.
func NewInvariantViolation(format string, args ...any) *InvariantViolation {
	return &InvariantViolation{Msg: fmt.Sprintf(format, args...)}
}
