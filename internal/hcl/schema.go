package hcl

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// --- Pipeline File Structures ---

// SettingsBlock represents the run-wide `settings` block of a pipeline file.
type SettingsBlock struct {
	WorkDir       string `hcl:"work_dir,optional"`
	GPUs          []int  `hcl:"gpus,optional"`
	ThreadsPerGPU int    `hcl:"threads_per_gpu,optional"`
	UseMPI        bool   `hcl:"use_mpi,optional"`
}

// TiltSeriesBlock represents a `tilt_series` block: one aligned stack plus
// its acquisition metadata.
type TiltSeriesBlock struct {
	ID      string  `hcl:"id,label"`
	Stack   string  `hcl:"stack"`
	Angles  string  `hcl:"angles"`
	PixSize float64 `hcl:"pix_size"`
	Voltage float64 `hcl:"voltage,optional"`
	SphAber float64 `hcl:"sph_aber,optional"`
	AmpCont float64 `hcl:"amp_cont,optional"`
	Defocus string  `hcl:"defocus,optional"`
}

// StepArgs represents the content of the 'arguments' block within a step.
type StepArgs struct {
	Body hcl.Body `hcl:",remain"`
}

// Step represents a `step` block from a pipeline file: a runnable instance
// of a registered protocol.
type Step struct {
	ProtocolType string    `hcl:"protocol_type,label"`
	Name         string    `hcl:"instance_name,label"`
	Arguments    *StepArgs `hcl:"arguments,block"`
	DependsOn    []string  `hcl:"depends_on,optional"`
}

// --- Protocol Manifest Structures ---

// InputDefinition defines a single input argument of a protocol manifest.
type InputDefinition struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type"`
	Description string         `hcl:"description,optional"`
	Default     *cty.Value     `hcl:"default,optional"`
}

// OutputDefinition defines a single output value of a protocol manifest.
type OutputDefinition struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type,optional"`
	Description string         `hcl:"description,optional"`
}

// ProtocolDefinition represents the HCL manifest for a protocol type.
type ProtocolDefinition struct {
	Type        string              `hcl:"type,label"`
	Description string              `hcl:"description,optional"`
	Handler     string              `hcl:"handler"`
	Inputs      []*InputDefinition  `hcl:"input,block"`
	Outputs     []*OutputDefinition `hcl:"output,block"`
}

// fileRoot decodes all possible top-level blocks from any file, so pipeline
// definitions and protocol manifests may be mixed freely.
type fileRoot struct {
	Settings   *SettingsBlock        `hcl:"settings,block"`
	TiltSeries []*TiltSeriesBlock    `hcl:"tilt_series,block"`
	Steps      []*Step               `hcl:"step,block"`
	Protocols  []*ProtocolDefinition `hcl:"protocol,block"`
	Remain     hcl.Body              `hcl:",remain"`
}
