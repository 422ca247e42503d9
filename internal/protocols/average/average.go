// Package average implements the reconstruction protocol wrapping
// susan_reconstruct: a subtomogram average from picked coordinates or from
// the particle metadata of a previous alignment run.
package average

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/emtools/susanbridge/internal/ctxlog"
	"github.com/emtools/susanbridge/internal/objects"
	"github.com/emtools/susanbridge/internal/proto"
	"github.com/emtools/susanbridge/internal/protocols/base"
	"github.com/emtools/susanbridge/internal/registry"
	"github.com/emtools/susanbridge/internal/susan"
)

//go:embed manifest.hcl
var manifest []byte

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments of the susan_average protocol.
type Input struct {
	TiltSeries    []string `susan:"tilt_series"`
	Coordinates   string   `susan:"coordinates"`
	CoordsPixSize float64  `susan:"coords_pix_size"`
	TomoThickness int      `susan:"tomo_thickness"`
	BoxSize       int      `susan:"box_size"`
	Symmetry      string   `susan:"symmetry"`
	CtfCorrAvg    string   `susan:"ctf_corr_avg"`
	Padding       string   `susan:"padding"`
	DoHalfsets    bool     `susan:"do_halfsets"`
	Continue      bool     `susan:"continue"`
	Substacks     string   `susan:"substacks"`
}

// Output lists the reconstructed averages.
type Output struct {
	Averages     []string `cty:"averages"`
	HalfMaps     []string `cty:"half_maps"`
	NumRefs      int      `cty:"num_refs"`
	NumParticles int      `cty:"num_particles"`
}

func (in *Input) validate() error {
	if err := susan.ValidateChoice("ctf_corr_avg", in.CtfCorrAvg, susan.AveragerCtfChoices); err != nil {
		return err
	}
	if err := susan.ValidateChoice("padding", in.Padding, susan.PaddingChoices); err != nil {
		return err
	}
	if in.BoxSize <= 0 {
		return susan.NewConfigError("box_size", "box size must be positive, got %d", in.BoxSize)
	}
	if in.Continue {
		if in.Substacks == "" {
			return susan.NewConfigError("substacks", "continue mode needs the substacks of a previous alignment")
		}
	} else if in.Coordinates == "" {
		return susan.NewConfigError("coordinates", "a particle table is required")
	}
	return nil
}

// OnRunAverage is the handler for the susan_average protocol.
func OnRunAverage(ctx context.Context, env *proto.Env, input *Input) (any, error) {
	logger := ctxlog.FromContext(ctx)
	if err := input.validate(); err != nil {
		return nil, err
	}

	// Tilt series are staged in both modes. A continued reconstruction may
	// use stacks with a different binning than the alignment run.
	project, err := base.Stage(env, input.TiltSeries, input.TomoThickness)
	if err != nil {
		return nil, err
	}
	hasCtf := project.HasDefocus()
	if input.CtfCorrAvg != "none" && !hasCtf {
		return nil, susan.NewConfigError("ctf_corr_avg",
			"CTF correction requires defocus estimates for every tilt series")
	}

	if err := os.MkdirAll(env.ExtraPath("input"), 0755); err != nil {
		return nil, err
	}
	if err := project.WriteTomos(env.ExtraPath("input", "input_tomos.tomostxt"), hasCtf); err != nil {
		return nil, err
	}

	ptclsFn := env.ExtraPath("input", "input_particles.ptclsraw")
	numRefs := 1
	var numParticles int
	if input.Continue {
		info, err := susan.ReadPtclsInfo(input.Substacks)
		if err != nil {
			return nil, err
		}
		if err := copyFile(input.Substacks, ptclsFn); err != nil {
			return nil, fmt.Errorf("failed to stage substacks: %w", err)
		}
		numRefs = int(info.NumRefs)
		numParticles = int(info.NumParticles)
	} else {
		numParticles, err = project.StageCoordinates(env, input.Coordinates, input.CoordsPixSize)
		if err != nil {
			return nil, err
		}
		if err := project.WritePtcls(ptclsFn, numParticles, 1); err != nil {
			return nil, err
		}
	}

	params := susan.AvgParams{
		Continue:      input.Continue,
		TsNums:        project.IDs,
		InputStacks:   project.Stacks,
		InputAngles:   project.Tilts,
		NumTilts:      project.NumTilts,
		PixSize:       project.PixSize,
		TomoSize:      project.TomoSize,
		BoxSize:       input.BoxSize,
		GPUs:          env.Settings.GPUs,
		Voltage:       project.Voltage,
		SphAber:       project.SphAber,
		AmpCont:       project.AmpCont,
		ThreadsPerGPU: env.Settings.ThreadsPerGPU,
		HasCtf:        hasCtf,
		CtfCorrAvg:    input.CtfCorrAvg,
		DoHalfsets:    input.DoHalfsets,
		Symmetry:      input.Symmetry,
		Padding:       input.Padding,
	}
	paramsFn := env.TmpPath("params.json")
	if err := susan.WriteParams(paramsFn, &params); err != nil {
		return nil, err
	}

	cmd, err := env.Program(susan.ProgReconstruct, susan.Abs(paramsFn))
	if err != nil {
		return nil, err
	}
	if err := env.Runner.Run(ctx, cmd); err != nil {
		return nil, err
	}

	out := &Output{NumRefs: numRefs, NumParticles: numParticles, HalfMaps: []string{}}
	for i := 1; i <= numRefs; i++ {
		avg := objects.AverageVolume{
			FileName:  env.ExtraPath(fmt.Sprintf("average_class%03d.mrc", i)),
			PixelSize: project.PixSize,
			ClassID:   i,
		}
		if err := susan.CheckFile("averages", avg.FileName); err != nil {
			return nil, susan.NewParseError(avg.FileName, "reconstruction produced no average for class %d", i)
		}
		if input.DoHalfsets {
			avg.HalfMaps = []string{
				env.ExtraPath(fmt.Sprintf("average_class%03d_half1.mrc", i)),
				env.ExtraPath(fmt.Sprintf("average_class%03d_half2.mrc", i)),
			}
			out.HalfMaps = append(out.HalfMaps, avg.HalfMaps...)
		}
		out.Averages = append(out.Averages, avg.FileName)
	}
	logger.Info("✅ Reconstruction finished.", "classes", numRefs, "particles", numParticles)
	return out, nil
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0644)
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("OnRunAverage", &registry.Handler{
		NewInput:  func() any { return new(Input) },
		InputType: reflect.TypeOf(Input{}),
		Fn:        OnRunAverage,
	})
}

// Manifest returns the protocol's HCL manifest source.
func (m *Module) Manifest() []byte { return manifest }
