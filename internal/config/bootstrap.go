// Package config implements the per-directory bootstrap (spec.md §4.1,
// component C1) and the ambient, environment-driven daemon configuration
// (spec.md §2 ambient stack expansion) in the shape of the teacher's
// internal/config/config.go: env vars first, with sane defaults. The
// DaemonConfig values are not validated here.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dendro-project/compute-resource-daemon/internal/identity"
)

// BootstrapFileName is the per-directory config file a human operator's
// registration step writes. Reading it is in scope; writing it is not.
const BootstrapFileName = ".dendro-compute-resource-node.yaml"

// Bootstrap reads <dir>/.dendro-compute-resource-node.yaml if present and
// exports any of the recognized keys into the process environment. A
// missing file is not an error; a key already set in the environment is
// left untouched (the environment always wins over the file).
func Bootstrap(dir string) error {
	fname := filepath.Join(dir, BootstrapFileName)
	data, err := os.ReadFile(fname)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}

	for _, key := range identity.EnvVarKeys {
		value, ok := raw[key]
		if !ok || value == "" {
			continue
		}
		if os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

// RuntimeConfig holds the nominal timing/behavior values named in spec.md.
// Only MaxSimultaneousLocalJobs is read (by the serve command, for the
// dispatcher); the orchestrator and janitor use their own package
// constants (orchestrator.WorkBackstop, janitor.TTL, janitor.PollInterval),
// which these fields mirror.
type RuntimeConfig struct {
	// MaxSimultaneousLocalJobs is the local admission cap (I4). Default 2.
	MaxSimultaneousLocalJobs int

	// WorkHandlingBackstop mirrors orchestrator.WorkBackstop: how long the
	// dispatcher can go without a pub/sub hint before it polls anyway
	// (spec.md §4.5 item 1). Default 10m.
	WorkHandlingBackstop time.Duration

	// JanitorJobTTL mirrors janitor.TTL: how old a jobs/<jobId> working
	// directory must be before the janitor deletes it. Default 24h.
	JanitorJobTTL time.Duration

	// JanitorPollInterval mirrors janitor.PollInterval: how often the
	// janitor re-scans jobs/. Default 60s.
	JanitorPollInterval time.Duration
}

// DefaultRuntimeConfig returns the nominal (non-mock) production values
// named throughout spec.md.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		MaxSimultaneousLocalJobs: 2,
		WorkHandlingBackstop:     10 * time.Minute,
		JanitorJobTTL:            24 * time.Hour,
		JanitorPollInterval:      60 * time.Second,
	}
}
