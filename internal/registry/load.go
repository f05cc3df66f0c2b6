package registry

import (
	"context"
	"fmt"

	"github.com/dendro-project/compute-resource-daemon/internal/controlplane"
	"github.com/dendro-project/compute-resource-daemon/internal/errorkinds"
)

// Registry is the loaded, validated set of apps this compute resource
// serves, indexed for fast processor-name lookup during dispatch.
type Registry struct {
	Apps           []*AppConfig
	byProcessor    map[string]*AppConfig
	slurmProcessors map[string]*AppConfig
}

// AppByProcessor returns the app that owns processorName, or
// (nil, UnknownProcessorError).
func (r *Registry) AppByProcessor(processorName string) (*AppConfig, error) {
	app, ok := r.byProcessor[processorName]
	if !ok {
		return nil, &errorkinds.UnknownProcessorError{ProcessorName: processorName}
	}
	return app, nil
}

// SlurmProcessorNames lists the processor names backed by SLURM, used by
// C6 to set up one cohort handler per processor.
func (r *Registry) SlurmProcessorNames() []string {
	names := make([]string, 0, len(r.slurmProcessors))
	for name := range r.slurmProcessors {
		names = append(names, name)
	}
	return names
}

// Load fetches the app list from the control plane, resolves each app's
// spec document, and builds the validated Registry via Build.
func Load(ctx context.Context, cp *controlplane.Client, fetcher SpecFetcher) (*Registry, error) {
	rawApps, err := cp.GetApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("load apps: %w", err)
	}

	var apps []*AppConfig
	for _, raw := range rawApps {
		app := &AppConfig{
			Name:           raw.Name,
			SpecURI:        raw.SpecURI,
			Container:      derefStr(raw.Container),
			ExecutablePath: derefStr(raw.ExecutablePath),
		}
		if raw.AWSBatch != nil {
			app.AWSBatch = &AWSBatchOpts{JobQueue: raw.AWSBatch.JobQueue, JobDefinition: raw.AWSBatch.JobDefinition}
		}
		if raw.Slurm != nil {
			app.Slurm = &SlurmOpts{
				Partition:   derefStr(raw.Slurm.Partition),
				Time:        derefStr(raw.Slurm.Time),
				CPUsPerTask: derefInt(raw.Slurm.CPUsPerTask),
				OtherOpts:   derefStr(raw.Slurm.OtherOpts),
			}
		}

		spec, err := fetcher.Fetch(ctx, app.SpecURI)
		if err != nil {
			return nil, fmt.Errorf("resolve spec for app %s: %w", app.Name, err)
		}
		if err := validateSpec(spec); err != nil {
			return nil, errorkinds.NewConfigError("invalid spec for app %s: %v", app.Name, err)
		}
		app.Spec = spec

		apps = append(apps, app)
	}

	return Build(apps)
}

// Build indexes a resolved list of AppConfigs into a Registry, enforcing
// I1 (processor name uniqueness across all apps) and I2 (an app has at
// most one non-local backend configured). Any violation is a ConfigError
// and Build fails closed: a daemon must never start serving jobs against
// an inconsistent registry. Exported so tests can construct a Registry
// directly from in-memory AppConfigs without a control-plane round trip.
func Build(apps []*AppConfig) (*Registry, error) {
	reg := &Registry{
		byProcessor:     make(map[string]*AppConfig),
		slurmProcessors: make(map[string]*AppConfig),
	}

	for _, app := range apps {
		if app.AWSBatch != nil && app.Slurm != nil {
			return nil, errorkinds.NewConfigError("app %s declares both awsBatch and slurm options; an app may use exactly one backend", app.Name)
		}

		if app.Spec != nil {
			for _, proc := range app.Spec.Processors {
				if existing, ok := reg.byProcessor[proc.Name]; ok {
					return nil, errorkinds.NewConfigError("processor name %s is declared by both app %s and app %s", proc.Name, existing.Name, app.Name)
				}
				reg.byProcessor[proc.Name] = app
				if app.Backend() == BackendSlurm {
					reg.slurmProcessors[proc.Name] = app
				}
			}
		}

		reg.Apps = append(reg.Apps, app)
	}

	return reg, nil
}

// validateSpec rejects a spec document using a parameter type this daemon
// does not recognize. Only parameters carry a type; inputs and outputs
// (ProcessorIO) have none and are never checked here.
func validateSpec(spec *AppSpecDocument) error {
	for _, proc := range spec.Processors {
		for _, p := range proc.Parameters {
			if !knownParameterTypes[p.Type] {
				return fmt.Errorf("processor %s: unknown parameter type %q on %s", proc.Name, p.Type, p.Name)
			}
		}
	}
	return nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}
