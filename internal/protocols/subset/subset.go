// Package subset implements the particle subset protocol wrapping
// susan_subset: filtering substacks by reference class or by
// cross-correlation score.
package subset

import (
	"context"
	_ "embed"
	"reflect"

	"github.com/emtools/susanbridge/internal/ctxlog"
	"github.com/emtools/susanbridge/internal/objects"
	"github.com/emtools/susanbridge/internal/proto"
	"github.com/emtools/susanbridge/internal/registry"
	"github.com/emtools/susanbridge/internal/susan"
)

//go:embed manifest.hcl
var manifest []byte

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments of the susan_subset protocol.
type Input struct {
	Substacks  string  `susan:"substacks"`
	SelectRefs bool    `susan:"select_refs"`
	RefsList   []int   `susan:"refs_list"`
	FilterCC   bool    `susan:"filter_cc"`
	CCMin      float64 `susan:"cc_min"`
	CCMax      float64 `susan:"cc_max"`
}

// Output describes the filtered substacks.
type Output struct {
	Substacks    string `cty:"substacks"`
	NumParticles int    `cty:"num_particles"`
	NumRefs      int    `cty:"num_refs"`
}

func (in *Input) validate(orig *susan.PtclsInfo) error {
	if !in.SelectRefs && !in.FilterCC {
		return susan.NewConfigError("select_refs", "no filter chosen, enable select_refs or filter_cc")
	}
	if in.SelectRefs {
		if len(in.RefsList) == 0 {
			return susan.NewConfigError("refs_list", "reference filtering needs at least one reference number")
		}
		for _, ref := range in.RefsList {
			if ref < 1 || ref > int(orig.NumRefs) {
				return susan.NewConfigError("refs_list",
					"reference %d is outside the input range 1..%d", ref, orig.NumRefs)
			}
		}
	}
	if in.FilterCC && in.CCMin >= in.CCMax {
		return susan.NewConfigError("cc_min", "cross-correlation range is empty: %g..%g", in.CCMin, in.CCMax)
	}
	return nil
}

// OnRunSubset is the handler for the susan_subset protocol.
func OnRunSubset(ctx context.Context, env *proto.Env, input *Input) (any, error) {
	logger := ctxlog.FromContext(ctx)

	orig, err := susan.ReadPtclsInfo(input.Substacks)
	if err != nil {
		return nil, err
	}
	if err := input.validate(orig); err != nil {
		return nil, err
	}

	params := susan.SubsetParams{
		InputParts: susan.Abs(input.Substacks),
		CCMin:      input.CCMin,
		CCMax:      input.CCMax,
		SelectRefs: input.SelectRefs,
		DoThrCC:    input.FilterCC,
		RefsList:   input.RefsList,
	}
	paramsFn := env.TmpPath("params.json")
	if err := susan.WriteParams(paramsFn, &params); err != nil {
		return nil, err
	}

	cmd, err := env.Program(susan.ProgSubset, susan.Abs(paramsFn))
	if err != nil {
		return nil, err
	}
	if err := env.Runner.Run(ctx, cmd); err != nil {
		return nil, err
	}

	outFn := env.ExtraPath("particles.ptclsraw")
	info, err := susan.ReadPtclsInfo(outFn)
	if err != nil {
		return nil, err
	}

	sub := &objects.SubStacks{
		FileName:     outFn,
		NumParticles: int(info.NumParticles),
		NumRefs:      int(info.NumRefs),
	}
	logger.Info("✅ Created a subset from input substacks.", "result", sub.String())
	return &Output{
		Substacks:    sub.FileName,
		NumParticles: sub.NumParticles,
		NumRefs:      sub.NumRefs,
	}, nil
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("OnRunSubset", &registry.Handler{
		NewInput:  func() any { return new(Input) },
		InputType: reflect.TypeOf(Input{}),
		Fn:        OnRunSubset,
	})
}

// Manifest returns the protocol's HCL manifest source.
func (m *Module) Manifest() []byte { return manifest }
