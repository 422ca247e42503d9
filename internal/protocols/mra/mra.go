// Package mra implements the multi-reference alignment protocol wrapping
// susan_aligner and susan_reconstruct.
package mra

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"reflect"

	"github.com/emtools/susanbridge/internal/ctxlog"
	"github.com/emtools/susanbridge/internal/objects"
	"github.com/emtools/susanbridge/internal/proto"
	"github.com/emtools/susanbridge/internal/protocols/base"
	"github.com/emtools/susanbridge/internal/registry"
	"github.com/emtools/susanbridge/internal/susan"
	"github.com/emtools/susanbridge/internal/susan/mrc"
)

//go:embed manifest.hcl
var manifest []byte

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments of the susan_mra protocol.
type Input struct {
	TiltSeries      []string  `susan:"tilt_series"`
	Coordinates     string    `susan:"coordinates"`
	CoordsPixSize   float64   `susan:"coords_pix_size"`
	TomoThickness   int       `susan:"tomo_thickness"`
	BoxSize         int       `susan:"box_size"`
	Symmetry        string    `susan:"symmetry"`
	Iterations      int       `susan:"iterations"`
	CtfCorrAln      string    `susan:"ctf_corr_aln"`
	CtfCorrAvg      string    `susan:"ctf_corr_avg"`
	Padding         string    `susan:"padding"`
	DoHalfsets      bool      `susan:"do_halfsets"`
	GenerateRefs    bool      `susan:"generate_refs"`
	RefRadii        []float64 `susan:"ref_radii"`
	MaskRadii       []float64 `susan:"mask_radii"`
	Refs            []string  `susan:"refs"`
	Masks           []string  `susan:"masks"`
	ConeRange       int       `susan:"cone_range"`
	ConeSampling    int       `susan:"cone_sampling"`
	InplaneRange    int       `susan:"inplane_range"`
	InplaneSampling int       `susan:"inplane_sampling"`
	Refine          int       `susan:"refine"`
	RefineFactor    int       `susan:"refine_factor"`
	AllowDrift      bool      `susan:"allow_drift"`
	OffsetRange     int       `susan:"offset_range"`
	OffsetStep      int       `susan:"offset_step"`
	CCThreshold     float64   `susan:"cc"`
	Low             int       `susan:"low"`
	High            int       `susan:"high"`
	IncLowpass      bool      `susan:"inc_lowpass"`
	Randomize       bool      `susan:"randomize"`
	Continue        bool      `susan:"continue"`
	PreviousStep    string    `susan:"previous_step"`
}

// Output lists the reconstructed averages and the aligned particle metadata.
type Output struct {
	Averages     []string `cty:"averages"`
	HalfMaps     []string `cty:"half_maps"`
	Substacks    string   `cty:"substacks"`
	NumRefs      int      `cty:"num_refs"`
	NumParticles int      `cty:"num_particles"`
}

func (in *Input) validate() error {
	if err := susan.ValidateChoice("ctf_corr_aln", in.CtfCorrAln, susan.AlignerCtfChoices); err != nil {
		return err
	}
	if err := susan.ValidateChoice("ctf_corr_avg", in.CtfCorrAvg, susan.AveragerCtfChoices); err != nil {
		return err
	}
	if err := susan.ValidateChoice("padding", in.Padding, susan.PaddingChoices); err != nil {
		return err
	}
	if in.BoxSize <= 0 {
		return susan.NewConfigError("box_size", "box size must be positive, got %d", in.BoxSize)
	}
	if in.Iterations < 1 {
		return susan.NewConfigError("iterations", "at least one iteration is required, got %d", in.Iterations)
	}
	if in.Iterations == 1 && in.IncLowpass {
		return susan.NewConfigError("inc_lowpass", "cannot increase the lowpass when doing only 1 iteration")
	}
	if in.Continue {
		if in.PreviousStep == "" {
			return susan.NewConfigError("previous_step", "continue mode needs the previous step name")
		}
		return nil
	}
	if in.Coordinates == "" {
		return susan.NewConfigError("coordinates", "a particle table is required")
	}
	if in.GenerateRefs {
		if len(in.RefRadii) == 0 {
			return susan.NewConfigError("ref_radii", "generated references need at least one radius")
		}
		if len(in.RefRadii) != len(in.MaskRadii) {
			return susan.NewConfigError("mask_radii",
				"number of references and masks must be the same: %d vs %d",
				len(in.RefRadii), len(in.MaskRadii))
		}
	} else {
		if len(in.Refs) == 0 {
			return susan.NewConfigError("refs", "at least one reference volume is required")
		}
		if len(in.Refs) != len(in.Masks) {
			return susan.NewConfigError("masks",
				"number of references and masks must be the same: %d vs %d",
				len(in.Refs), len(in.Masks))
		}
	}
	return nil
}

func (in *Input) numRefs() int {
	if in.GenerateRefs {
		return len(in.RefRadii)
	}
	return len(in.Refs)
}

// OnRunMRA is the handler for the susan_mra protocol.
func OnRunMRA(ctx context.Context, env *proto.Env, input *Input) (any, error) {
	logger := ctxlog.FromContext(ctx)
	if err := input.validate(); err != nil {
		return nil, err
	}

	params := susan.MraParams{
		Continue:      input.Continue,
		GenerateRefs:  input.GenerateRefs,
		BoxSize:       input.BoxSize,
		GPUs:          env.Settings.GPUs,
		ThreadsPerGPU: env.Settings.ThreadsPerGPU,
		CtfCorrAvg:    input.CtfCorrAvg,
		CtfCorrAln:    input.CtfCorrAln,
		DoHalfsets:    input.DoHalfsets,
		Symmetry:      input.Symmetry,
		Padding:       input.Padding,
		Iterations:    input.Iterations,
		AllowDrift:    input.AllowDrift,
		CCThreshold:   input.CCThreshold,
		Low:           input.Low,
		High:          input.High,
		Refine:        input.Refine,
		RefineFactor:  input.RefineFactor,
		IncLowpass:    input.IncLowpass,
		Angles:        [4]int{input.ConeRange, input.ConeSampling, input.InplaneRange, input.InplaneSampling},
		Offsets:       [2]int{input.OffsetRange, input.OffsetStep},
		Randomize:     input.Randomize,
	}

	if input.Continue {
		prev, err := continueProject(env, input)
		if err != nil {
			return nil, err
		}
		params.TsNums = prev.TsNums
		params.InputStacks = prev.InputStacks
		params.InputAngles = prev.InputAngles
		params.InputRefs = prev.InputRefs
		params.InputMasks = prev.InputMasks
		params.NumRefs = prev.NumRefs
		params.NumTilts = prev.NumTilts
		params.TomoSize = prev.TomoSize
		params.PixSize = prev.PixSize
		params.Voltage = prev.Voltage
		params.SphAber = prev.SphAber
		params.AmpCont = prev.AmpCont
	} else {
		project, err := base.Stage(env, input.TiltSeries, input.TomoThickness)
		if err != nil {
			return nil, err
		}
		if doCtf(input) && !project.HasDefocus() {
			return nil, susan.NewConfigError("ctf_corr_aln",
				"CTF correction requires defocus estimates for every tilt series")
		}

		numParticles, err := project.StageCoordinates(env, input.Coordinates, input.CoordsPixSize)
		if err != nil {
			return nil, err
		}
		refs, err := stageRefs(env, input, project.PixSize)
		if err != nil {
			return nil, err
		}

		withDefocus := input.CtfCorrAln != "none"
		if err := project.WriteTomos(env.ExtraPath("input_tomos.tomostxt"), withDefocus); err != nil {
			return nil, err
		}
		if err := project.WritePtcls(env.ExtraPath("input_particles.ptclsraw"), numParticles, input.numRefs()); err != nil {
			return nil, err
		}
		if err := susan.WriteRefsFile(env.ExtraPath("input_refs.refstxt"), refs); err != nil {
			return nil, err
		}

		params.TsNums = project.IDs
		params.InputStacks = project.Stacks
		params.InputAngles = project.Tilts
		params.NumRefs = input.numRefs()
		params.NumTilts = project.NumTilts
		params.TomoSize = project.TomoSize
		params.PixSize = project.PixSize
		params.Voltage = project.Voltage
		params.SphAber = project.SphAber
		params.AmpCont = project.AmpCont
		for _, r := range refs {
			params.InputRefs = append(params.InputRefs, r.Map)
			params.InputMasks = append(params.InputMasks, r.Mask)
		}
	}

	paramsFn := env.TmpPath("params.json")
	if err := susan.WriteParams(paramsFn, &params); err != nil {
		return nil, err
	}

	aligner := susan.ProgAligner
	if env.Settings.UseMPI {
		// The MPI build is known to misbehave with more than one host.
		logger.Warn("MPI execution of the aligner is untested, expect problems.")
		aligner = susan.ProgAlignerMPI
	}
	for _, prog := range []string{aligner, susan.ProgReconstruct} {
		cmd, err := env.Program(prog, susan.Abs(paramsFn))
		if err != nil {
			return nil, err
		}
		if err := env.Runner.Run(ctx, cmd); err != nil {
			return nil, err
		}
	}

	return collectOutputs(ctx, env, input, params.NumRefs)
}

// continueProject copies the alignment project of a previous run into this
// step so the aligner picks up where it stopped, and returns the previous
// run's parameters so the geometry carries over unchanged.
func continueProject(env *proto.Env, input *Input) (*susan.MraParams, error) {
	prevMra := env.StepPath(input.PreviousStep, "mra")
	if fi, err := os.Stat(prevMra); err != nil || !fi.IsDir() {
		return nil, susan.NewConfigError("previous_step",
			"step %q has no alignment project to continue", input.PreviousStep)
	}
	if err := os.CopyFS(env.ExtraPath("mra"), os.DirFS(prevMra)); err != nil {
		return nil, fmt.Errorf("failed to copy previous project: %w", err)
	}
	for _, name := range []string{"input_tomos.tomostxt", "input_refs.refstxt", "input_particles.ptclsraw"} {
		src := env.StepPath(input.PreviousStep, name)
		if err := copyFile(src, env.ExtraPath(name)); err != nil {
			return nil, fmt.Errorf("failed to copy previous project: %w", err)
		}
	}
	if _, err := susan.ReadPtclsInfo(env.ExtraPath("input_particles.ptclsraw")); err != nil {
		return nil, err
	}
	prev := new(susan.MraParams)
	if err := susan.ReadParams(env.StepTmpPath(input.PreviousStep, "params.json"), prev); err != nil {
		return nil, susan.NewConfigError("previous_step",
			"step %q kept no parameter file: %v", input.PreviousStep, err)
	}
	return prev, nil
}

// stageRefs resolves or generates the reference and mask volumes. Provided
// volumes must be cubes matching the output box size.
func stageRefs(env *proto.Env, input *Input, pixSize float64) ([]susan.Reference, error) {
	var refs []susan.Reference
	if input.GenerateRefs {
		for i := range input.RefRadii {
			ref := env.TmpPath(fmt.Sprintf("ref%d.mrc", i+1))
			mask := env.TmpPath(fmt.Sprintf("mask%d.mrc", i+1))
			if err := mrc.WriteSphere(ref, input.BoxSize, input.RefRadii[i], pixSize); err != nil {
				return nil, susan.NewConfigError("ref_radii", "cannot generate reference %d: %v", i+1, err)
			}
			if err := mrc.WriteSphere(mask, input.BoxSize, input.MaskRadii[i], pixSize); err != nil {
				return nil, susan.NewConfigError("mask_radii", "cannot generate mask %d: %v", i+1, err)
			}
			refs = append(refs, susan.Reference{Map: susan.Abs(ref), Mask: susan.Abs(mask)})
		}
		return refs, nil
	}
	for i := range input.Refs {
		for field, path := range map[string]string{"refs": input.Refs[i], "masks": input.Masks[i]} {
			hdr, err := mrc.ReadHeader(path)
			if err != nil {
				return nil, susan.NewConfigError(field, "%v", err)
			}
			if !hdr.IsCube(input.BoxSize) {
				return nil, susan.NewConfigError(field,
					"%s is %dx%dx%d, expected a cube of %d voxels",
					path, hdr.NX, hdr.NY, hdr.NZ, input.BoxSize)
			}
		}
		refs = append(refs, susan.Reference{Map: susan.Abs(input.Refs[i]), Mask: susan.Abs(input.Masks[i])})
	}
	return refs, nil
}

// collectOutputs verifies the averages written by susan_reconstruct and the
// last-iteration particle metadata. Both are consumed by later steps, so a
// missing or corrupt file fails the step.
func collectOutputs(ctx context.Context, env *proto.Env, input *Input, numRefs int) (*Output, error) {
	logger := ctxlog.FromContext(ctx)
	out := &Output{
		Substacks: env.ExtraPath("mra", fmt.Sprintf("ite_%04d", input.Iterations), "particles.ptclsraw"),
		NumRefs:   numRefs,
		HalfMaps:  []string{},
	}
	for i := 1; i <= numRefs; i++ {
		avg := objects.AverageVolume{
			FileName: env.ExtraPath(fmt.Sprintf("average_class%03d.mrc", i)),
			ClassID:  i,
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

	info, err := susan.ReadPtclsInfo(out.Substacks)
	if err != nil {
		return nil, err
	}
	out.NumParticles = int(info.NumParticles)
	sub := &objects.SubStacks{FileName: out.Substacks, NumParticles: int(info.NumParticles), NumRefs: int(info.NumRefs)}
	logger.Info("✅ Alignment finished.", "result", sub.String())
	return out, nil
}

func doCtf(in *Input) bool {
	return in.CtfCorrAln != "none" || in.CtfCorrAvg != "none"
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0644)
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("OnRunMRA", &registry.Handler{
		NewInput:  func() any { return new(Input) },
		InputType: reflect.TypeOf(Input{}),
		Fn:        OnRunMRA,
	})
}

// Manifest returns the protocol's HCL manifest source.
func (m *Module) Manifest() []byte { return manifest }
