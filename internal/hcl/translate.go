// This file contains the logic for translating HCL schema structs into the
// format-agnostic configuration model defined in the config package.

package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/emtools/susanbridge/internal/config"
)

// Acquisition defaults applied when a tilt_series block leaves them out:
// 300 kV, 2.7 mm spherical aberration, 0.07 amplitude contrast.
const (
	defaultVoltage = 300.0
	defaultSphAber = 2.7
	defaultAmpCont = 0.07
)

func (l *Loader) translateSettings(s *SettingsBlock) *config.Settings {
	out := defaultSettings()
	if s.WorkDir != "" {
		out.WorkDir = s.WorkDir
	}
	if len(s.GPUs) > 0 {
		out.GPUs = s.GPUs
	}
	if s.ThreadsPerGPU > 0 {
		out.ThreadsPerGPU = s.ThreadsPerGPU
	}
	out.UseMPI = s.UseMPI
	return out
}

func (l *Loader) translateTiltSeries(s *TiltSeriesBlock) *config.TiltSeries {
	ts := &config.TiltSeries{
		ID:          s.ID,
		Stack:       s.Stack,
		Angles:      s.Angles,
		PixSize:     s.PixSize,
		Voltage:     s.Voltage,
		SphAber:     s.SphAber,
		AmpCont:     s.AmpCont,
		DefocusFile: s.Defocus,
	}
	if ts.Voltage == 0 {
		ts.Voltage = defaultVoltage
	}
	if ts.SphAber == 0 {
		ts.SphAber = defaultSphAber
	}
	if ts.AmpCont == 0 {
		ts.AmpCont = defaultAmpCont
	}
	return ts
}

// translateStep converts the HCL-specific step schema into the agnostic model.
func (l *Loader) translateStep(s *Step) *config.Step {
	return &config.Step{
		ProtocolType: s.ProtocolType,
		Name:         s.Name,
		Arguments:    l.extractBodyAttributes(s.Arguments),
		DependsOn:    s.DependsOn,
	}
}

// translateProtocolDefinition converts the HCL-specific manifest schema into
// the agnostic model, resolving type expressions and defaults.
func (l *Loader) translateProtocolDefinition(ctx context.Context, s *ProtocolDefinition) (*config.ProtocolDefinition, error) {
	p := &config.ProtocolDefinition{
		Type:        s.Type,
		Description: s.Description,
		Handler:     s.Handler,
		Inputs:      make(map[string]*config.InputDefinition),
		Outputs:     make(map[string]*config.OutputDefinition),
	}

	for _, in := range s.Inputs {
		inputType, err := typeExprToCtyType(ctx, in.Type)
		if err != nil {
			return nil, fmt.Errorf("invalid type for input %q of protocol %q: %w", in.Name, s.Type, err)
		}

		var defaultVal *cty.Value
		var isOptional bool
		if in.Default != nil && !in.Default.IsNull() {
			val := *in.Default
			if inputType != cty.DynamicPseudoType {
				converted, err := convert.Convert(val, inputType)
				if err != nil {
					return nil, fmt.Errorf("default for input %q of protocol %q does not match its declared type: %w", in.Name, s.Type, err)
				}
				val = converted
			}
			defaultVal = &val
			isOptional = true
		}

		p.Inputs[in.Name] = &config.InputDefinition{
			Name:        in.Name,
			Type:        inputType,
			Description: in.Description,
			Default:     defaultVal,
			Optional:    isOptional,
		}
	}

	for _, out := range s.Outputs {
		outputType, err := typeExprToCtyType(ctx, out.Type)
		if err != nil {
			return nil, fmt.Errorf("invalid type for output %q of protocol %q: %w", out.Name, s.Type, err)
		}
		p.Outputs[out.Name] = &config.OutputDefinition{
			Name:        out.Name,
			Type:        outputType,
			Description: out.Description,
		}
	}
	return p, nil
}

// extractBodyAttributes flattens an arguments block into a map of named
// expressions, deferring evaluation until execution time.
func (l *Loader) extractBodyAttributes(args *StepArgs) map[string]hcl.Expression {
	if args == nil || args.Body == nil {
		return nil
	}
	attrs, _ := args.Body.JustAttributes()
	if attrs == nil {
		return nil
	}
	exprMap := make(map[string]hcl.Expression)
	for name, attr := range attrs {
		exprMap[name] = attr.Expr
	}
	return exprMap
}
