package config

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Model is the unified, format-agnostic representation of everything the
// bridge needs to run: the protocol manifests and the user's pipeline.
type Model struct {
	Protocols map[string]*ProtocolDefinition
	Pipeline  *Pipeline
}

// Pipeline represents the user's processing pipeline definition.
type Pipeline struct {
	Settings   *Settings
	TiltSeries []*TiltSeries
	Steps      []*Step
}

// Settings holds run-wide execution options shared by every step.
type Settings struct {
	WorkDir       string
	GPUs          []int
	ThreadsPerGPU int
	UseMPI        bool
}

// TiltSeries is the format-agnostic representation of a `tilt_series` block:
// a stack reference plus the acquisition metadata SUSAN needs.
type TiltSeries struct {
	ID          string
	Stack       string
	Angles      string
	PixSize     float64
	Voltage     float64
	SphAber     float64
	AmpCont     float64
	DefocusFile string
}

// Step is the format-agnostic representation of a `step` block.
type Step struct {
	ProtocolType string
	Name         string
	Arguments    map[string]hcl.Expression
	DependsOn    []string
}

// --- Protocol Manifest Models ---

// ProtocolDefinition is the format-agnostic representation of a protocol's
// manifest: its declared inputs, outputs, and the Go handler bound to it.
type ProtocolDefinition struct {
	Type        string
	Description string
	Handler     string
	Inputs      map[string]*InputDefinition
	Outputs     map[string]*OutputDefinition
}

// InputDefinition defines a single input argument for a protocol.
type InputDefinition struct {
	Name        string
	Type        cty.Type
	Description string
	Default     *cty.Value
	Optional    bool
}

// OutputDefinition defines a single output value produced by a protocol.
type OutputDefinition struct {
	Name        string
	Type        cty.Type
	Description string
}
