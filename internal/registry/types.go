// Package registry loads and validates the set of Apps a compute resource
// serves, and materializes the processor spec reported back to the
// control plane (spec.md component C2/C3). Types here mirror
// dendro_types.py field-for-field.
package registry

// ParameterType is the closed set of processor parameter types a spec may
// declare. Unlike the Python SDK, this repo never authors processors —
// it only parses specs produced elsewhere — so this is a closed enum
// rather than an extensible registry.
type ParameterType string

const (
	ParamStr       ParameterType = "str"
	ParamInt       ParameterType = "int"
	ParamFloat     ParameterType = "float"
	ParamBool      ParameterType = "bool"
	ParamListStr   ParameterType = "List[str]"
	ParamListInt   ParameterType = "List[int]"
	ParamListFloat ParameterType = "List[float]"
	ParamListBool  ParameterType = "List[bool]"
)

// knownParameterTypes is used by validateSpec to reject a spec using a
// parameter type this daemon does not understand.
var knownParameterTypes = map[ParameterType]bool{
	ParamStr:       true,
	ParamInt:       true,
	ParamFloat:     true,
	ParamBool:      true,
	ParamListStr:   true,
	ParamListInt:   true,
	ParamListFloat: true,
	ParamListBool:  true,
}

// ProcessorParameter mirrors AppProcessorParameter.get_spec()'s wire shape.
// Only parameters carry a type and an enum whitelist — inputs and outputs
// do not (see ProcessorIO).
type ProcessorParameter struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Type        ParameterType `json:"type"`
	Default     any           `json:"default,omitempty"`
	// Options is the enum whitelist: List[str] or List[int] in the
	// original SDK, so this is left untyped rather than forced into a
	// Go-native list type.
	Options any  `json:"options,omitempty"`
	Secret  bool `json:"secret,omitempty"`
}

// ProcessorIO mirrors AppProcessorInput/AppProcessorOutput.get_spec(): a
// name and description only, plus the input-only "accepts a list of
// files" flag. Neither carries a type or an enum whitelist.
type ProcessorIO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	List        bool   `json:"list,omitempty"`
}

// AttributeSpec mirrors ComputeResourceSpecProcessorAttribute.
type AttributeSpec struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// TagSpec mirrors ComputeResourceSpecProcessorTag.
type TagSpec struct {
	Tag string `json:"tag"`
}

// ProcessorSpec mirrors ComputeResourceSpecProcessor — one entry inside an
// app's spec document.
type ProcessorSpec struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Label       string               `json:"label,omitempty"`
	Inputs      []ProcessorIO        `json:"inputs"`
	Outputs     []ProcessorIO        `json:"outputs"`
	Parameters  []ProcessorParameter `json:"parameters"`
	Attributes  []AttributeSpec      `json:"attributes,omitempty"`
	Tags        []TagSpec            `json:"tags,omitempty"`
}

// AppSpecDocument is the JSON document a spec URI resolves to — the
// top-level object produced by App.get_spec() in the original SDK.
type AppSpecDocument struct {
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	AppImage      string          `json:"appImage,omitempty"`
	AppExecutable string          `json:"appExecutable,omitempty"`
	Processors    []ProcessorSpec `json:"processors"`
}

// Backend identifies which of the three execution backends an App uses.
// Exactly one of AWSBatch/Slurm may be set on an AppConfig; the zero value
// (neither set) means local subprocess execution.
type Backend int

const (
	BackendLocal Backend = iota
	BackendAWSBatch
	BackendSlurm
)

func (b Backend) String() string {
	switch b {
	case BackendAWSBatch:
		return "aws_batch"
	case BackendSlurm:
		return "slurm"
	default:
		return "local"
	}
}

// AWSBatchOpts mirrors ComputeResourceAwsBatchOpts.
type AWSBatchOpts struct {
	JobQueue      string
	JobDefinition string
}

// SlurmOpts mirrors ComputeResourceSlurmOpts.
type SlurmOpts struct {
	Partition   string
	Time        string
	CPUsPerTask int
	OtherOpts   string
}

// AppConfig is one entry from GET .../apps, after spec resolution: the
// control-plane-provided backend selection plus the fetched spec document.
type AppConfig struct {
	Name           string
	SpecURI        string
	ExecutablePath string
	Container      string
	AWSBatch       *AWSBatchOpts
	Slurm          *SlurmOpts
	Spec           *AppSpecDocument
}

// PublicSpec builds the aggregated processor spec document this daemon
// reports back to the control plane (spec.md §4.3, §6 PUT .../spec):
// `{ "apps": [...] }`, where each entry is an app's own resolved,
// already-public AppSpecDocument. Placement options, the spec URI, and
// every other internal routing field on AppConfig are deliberately left
// out — only what App.get_spec() itself would have produced ever goes on
// the wire.
func PublicSpec(apps []*AppConfig) map[string]any {
	docs := make([]*AppSpecDocument, 0, len(apps))
	for _, app := range apps {
		if app.Spec != nil {
			docs = append(docs, app.Spec)
		}
	}
	return map[string]any{"apps": docs}
}

// Backend resolves which of the three execution paths this app uses. It
// does not check I2 itself; Build rejects an app with both AWS Batch and
// SLURM options.
func (a *AppConfig) Backend() Backend {
	if a.AWSBatch != nil {
		return BackendAWSBatch
	}
	if a.Slurm != nil {
		return BackendSlurm
	}
	return BackendLocal
}
