// Package ctf implements the CTF estimation protocol: one susan_estimate_ctf
// run per tilt series, followed by the import of the fitted defocus files.
package ctf

import (
	"context"
	_ "embed"
	"fmt"
	"reflect"

	"github.com/emtools/susanbridge/internal/config"
	"github.com/emtools/susanbridge/internal/ctxlog"
	"github.com/emtools/susanbridge/internal/objects"
	"github.com/emtools/susanbridge/internal/proto"
	"github.com/emtools/susanbridge/internal/registry"
	"github.com/emtools/susanbridge/internal/stage"
	"github.com/emtools/susanbridge/internal/susan"
	"github.com/emtools/susanbridge/internal/susan/mrc"
)

//go:embed manifest.hcl
var manifest []byte

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments of the susan_ctf protocol.
type Input struct {
	TiltSeries    []string `susan:"tilt_series"`
	TomoThickness int      `susan:"tomo_thickness"`
	Sampling      int      `susan:"sampling"`
	Binning       float64  `susan:"binning"`
	MinRes        float64  `susan:"min_res"`
	MaxRes        float64  `susan:"max_res"`
	DefMin        float64  `susan:"def_min"`
	DefMax        float64  `susan:"def_max"`
	PatchSize     int      `susan:"patch_size"`
}

// Output lists the estimated defocus files keyed by tilt-series ID.
type Output struct {
	DefocusFiles map[string]string `cty:"defocus_files"`
	NumSeries    int               `cty:"num_series"`
}

func (in *Input) validate() error {
	if in.Sampling <= 0 {
		return susan.NewConfigError("sampling", "grid sampling must be positive, got %d", in.Sampling)
	}
	if in.PatchSize <= 0 {
		return susan.NewConfigError("patch_size", "FFT box size must be positive, got %d", in.PatchSize)
	}
	if in.MinRes <= in.MaxRes {
		return susan.NewConfigError("min_res",
			"resolution range is inverted: min %g must be a lower resolution (larger value) than max %g",
			in.MinRes, in.MaxRes)
	}
	if in.DefMin >= in.DefMax {
		return susan.NewConfigError("def_min",
			"defocus search range is empty: %g..%g", in.DefMin, in.DefMax)
	}
	if in.Binning <= 0 {
		return susan.NewConfigError("binning", "downsampling factor must be positive, got %g", in.Binning)
	}
	return nil
}

// OnRunEstimateCtf is the handler for the susan_ctf protocol.
func OnRunEstimateCtf(ctx context.Context, env *proto.Env, input *Input) (any, error) {
	logger := ctxlog.FromContext(ctx)
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.TomoThickness <= 0 {
		return nil, susan.NewConfigError("tomo_thickness", "non-positive tomogram thickness %d", input.TomoThickness)
	}

	list, err := env.TiltSeries(input.TiltSeries)
	if err != nil {
		return nil, err
	}

	out := &Output{DefocusFiles: make(map[string]string, len(list))}
	for i, ts := range list {
		series, err := stage.TiltSeries(ts, i+1, env.TmpDir())
		if err != nil {
			return nil, err
		}
		ctfSeries, err := estimateSeries(ctx, env, input, ts, series)
		if err != nil {
			return nil, fmt.Errorf("CTF estimation failed for series %s: %w", ts.ID, err)
		}
		logger.Info("✅ Estimated CTF.", "series", ts.ID, "tilts", ctfSeries.Size())
		out.DefocusFiles[ts.ID] = defocusPath(env, series.Num)
		out.NumSeries++
	}
	return out, nil
}

// estimateSeries runs susan_estimate_ctf for one staged series and imports
// the fitted defocus values back into the series tomostxt.
func estimateSeries(ctx context.Context, env *proto.Env, input *Input, ts *config.TiltSeries, series *stage.Series) (*objects.CTFSeries, error) {
	hdr, err := mrc.ReadHeader(series.Stack)
	if err != nil {
		return nil, err
	}
	tomoSize := [3]int{int(hdr.NX), int(hdr.NY), input.TomoThickness}

	tomosFn := env.ExtraPath(fmt.Sprintf("tomo%d.tomostxt", series.Num))
	tomo := series.Tomogram(ts, tomoSize)
	tomo.Defocus = nil
	if err := susan.WriteTomosFile(tomosFn, []susan.Tomogram{tomo}); err != nil {
		return nil, err
	}

	// 2D patch grid covering every projection at the requested spacing.
	nx, ny := int(hdr.NX)/input.Sampling, int(hdr.NY)/input.Sampling
	if nx < 1 || ny < 1 {
		return nil, susan.NewConfigError("sampling",
			"grid sampling %d exceeds the %dx%d stack extent", input.Sampling, hdr.NX, hdr.NY)
	}
	gridFn := env.ExtraPath("grid_ctf.ptclsraw")
	err = susan.WritePtclsInfo(gridFn, &susan.PtclsInfo{
		NumParticles: uint32(nx * ny),
		NumProjs:     uint32(len(series.Angles)),
		NumRefs:      1,
	}, nil)
	if err != nil {
		return nil, err
	}

	tiltFn := env.TmpPath(ts.ID + ".tlt")
	params := susan.CtfParams{
		TsNum:       series.Num,
		InputStack:  susan.Abs(series.Stack),
		InputAngles: susan.Abs(tiltFn),
		OutputDir:   susan.Abs(env.ExtraDir()),
		NumTilts:    len(series.Angles),
		PixSize:     ts.PixSize,
		TomoSize:    tomoSize,
		Sampling:    input.Sampling,
		Binning:     input.Binning,
		GPUs:        env.Settings.GPUs,
		MinRes:      input.MinRes,
		MaxRes:      input.MaxRes,
		DefMin:      input.DefMin,
		DefMax:      input.DefMax,
		PatchSize:   input.PatchSize,
	}
	paramsFn := env.ExtraPath(fmt.Sprintf("tomo%d.json", series.Num))
	if err := susan.WriteParams(paramsFn, &params); err != nil {
		return nil, err
	}

	cmd, err := env.Program(susan.ProgEstimateCtf, susan.Abs(paramsFn))
	if err != nil {
		return nil, err
	}
	if err := env.Runner.Run(ctx, cmd); err != nil {
		return nil, err
	}

	rows, err := susan.ParseDefocusFile(defocusPath(env, series.Num))
	if err != nil {
		return nil, err
	}
	if len(rows) != len(series.Angles) {
		return nil, susan.NewParseError(defocusPath(env, series.Num),
			"%d defocus rows for %d tilts", len(rows), len(series.Angles))
	}

	// Attach the estimates so that later steps can reuse the tomostxt as is.
	tomo.Defocus = rows
	if err := susan.WriteTomosFile(tomosFn, []susan.Tomogram{tomo}); err != nil {
		return nil, err
	}
	return &objects.CTFSeries{TsID: ts.ID, Rows: rows}, nil
}

func defocusPath(env *proto.Env, num int) string {
	return env.ExtraPath("ctf_grid", fmt.Sprintf("Tomo%03d", num), "defocus.txt")
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("OnRunEstimateCtf", &registry.Handler{
		NewInput:  func() any { return new(Input) },
		InputType: reflect.TypeOf(Input{}),
		Fn:        OnRunEstimateCtf,
	})
}

// Manifest returns the protocol's HCL manifest source.
func (m *Module) Manifest() []byte { return manifest }
