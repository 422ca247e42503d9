package executor

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/emtools/susanbridge/internal/config"
)

// outputStore collects the outputs of completed steps and exposes them to
// later steps as the HCL `step` variable:
//
//	step.<protocol_type>.<instance_name>.output.<field>
type outputStore struct {
	// map[protocol_type] -> map[instance_name] -> wrapped output
	byProtocol map[string]map[string]cty.Value
}

func newOutputStore() *outputStore {
	return &outputStore{byProtocol: make(map[string]map[string]cty.Value)}
}

func (s *outputStore) put(step *config.Step, output any) {
	val, ok := output.(cty.Value)
	if !ok || val == cty.NilVal {
		val = cty.EmptyObjectVal
	}
	if _, ok := s.byProtocol[step.ProtocolType]; !ok {
		s.byProtocol[step.ProtocolType] = make(map[string]cty.Value)
	}
	s.byProtocol[step.ProtocolType][step.Name] = cty.ObjectVal(map[string]cty.Value{
		"output": val,
	})
}

// evalContext builds the HCL evaluation context holding every completed
// step's output.
func (s *outputStore) evalContext() *hcl.EvalContext {
	finalStepOutputs := make(map[string]cty.Value)
	for protocolType, instances := range s.byProtocol {
		finalStepOutputs[protocolType] = cty.ObjectVal(instances)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"step": cty.ObjectVal(finalStepOutputs),
		},
	}
}
