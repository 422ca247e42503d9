package mra_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emtools/susanbridge/internal/proto"
	"github.com/emtools/susanbridge/internal/protocols/mra"
	"github.com/emtools/susanbridge/internal/susan"
	"github.com/emtools/susanbridge/internal/susan/mrc"
	"github.com/emtools/susanbridge/internal/susanexec"
	"github.com/emtools/susanbridge/internal/testutil"
)

func defaultInput(t *testing.T) *mra.Input {
	table := filepath.Join(t.TempDir(), "picks.tbl")
	testutil.MakeDynTable(t, table, 10)
	return &mra.Input{
		Coordinates:     table,
		TomoThickness:   300,
		BoxSize:         32,
		Symmetry:        "c1",
		Iterations:      3,
		CtfCorrAln:      "on_reference",
		CtfCorrAvg:      "wiener",
		Padding:         "noise",
		GenerateRefs:    true,
		RefRadii:        []float64{10},
		MaskRadii:       []float64{12},
		ConeRange:       360,
		ConeSampling:    60,
		InplaneRange:    360,
		InplaneSampling: 45,
		Refine:          5,
		RefineFactor:    2,
		AllowDrift:      true,
		OffsetRange:     20,
		OffsetStep:      2,
		CCThreshold:     0.8,
		Low:             32,
		High:            2,
	}
}

// fabricateAlignment mimics a successful aligner + reconstruct run for the
// given class count and iteration.
func fabricateAlignment(env *proto.Env, numRefs, iterations, numParticles int, halfsets bool) func(cmd susanexec.Command) error {
	return func(cmd susanexec.Command) error {
		if filepath.Base(cmd.Program) != susan.ProgReconstruct {
			iteDir := env.ExtraPath("mra", fmt.Sprintf("ite_%04d", iterations))
			if err := os.MkdirAll(iteDir, 0755); err != nil {
				return err
			}
			info := &susan.PtclsInfo{NumParticles: uint32(numParticles), NumProjs: 3, NumRefs: uint32(numRefs)}
			return susan.WritePtclsInfo(filepath.Join(iteDir, "particles.ptclsraw"), info, nil)
		}
		for i := 1; i <= numRefs; i++ {
			names := []string{fmt.Sprintf("average_class%03d.mrc", i)}
			if halfsets {
				names = append(names,
					fmt.Sprintf("average_class%03d_half1.mrc", i),
					fmt.Sprintf("average_class%03d_half2.mrc", i))
			}
			for _, name := range names {
				if err := mrc.WriteHeader(env.ExtraPath(name), 32, 32, 32, 2.62); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

func TestOnRunMRAGeneratedRefs(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, true)
	env, runner := testutil.StepEnv(t, "susan_mra", "align", ts)
	in := defaultInput(t)
	// The aligner drops below the staged 10 particles; the output count
	// must come from what it actually wrote.
	runner.OnRun = fabricateAlignment(env, 1, in.Iterations, 7, false)

	out, err := mra.OnRunMRA(context.Background(), env, in)
	require.NoError(t, err)

	output, ok := out.(*mra.Output)
	require.True(t, ok)
	assert.Equal(t, 1, output.NumRefs)
	assert.Equal(t, 7, output.NumParticles)
	require.Len(t, output.Averages, 1)
	assert.Empty(t, output.HalfMaps)
	assert.Equal(t, env.ExtraPath("mra", "ite_0003", "particles.ptclsraw"), output.Substacks)

	assert.Equal(t, []string{susan.ProgAligner, susan.ProgReconstruct}, runner.Ran())

	// The project files the SUSAN tools consume.
	for _, name := range []string{"input_tomos.tomostxt", "input_particles.ptclsraw", "input_refs.refstxt"} {
		_, err := os.Stat(env.ExtraPath(name))
		require.NoError(t, err, name)
	}
	_, err = os.Stat(env.TmpPath("params.json"))
	require.NoError(t, err)
	_, err = os.Stat(env.TmpPath("input_particles.tbl"))
	require.NoError(t, err)

	// Generated references are real sphere volumes matching the box.
	hdr, err := mrc.ReadHeader(env.TmpPath("ref1.mrc"))
	require.NoError(t, err)
	assert.True(t, hdr.IsCube(32))

	info, err := susan.ReadPtclsInfo(env.ExtraPath("input_particles.ptclsraw"))
	require.NoError(t, err)
	assert.Equal(t, uint32(10), info.NumParticles)
	assert.Equal(t, uint32(1), info.NumRefs)
}

func TestOnRunMRAProvidedRefs(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, true)
	env, runner := testutil.StepEnv(t, "susan_mra", "align", ts)

	refDir := t.TempDir()
	ref := filepath.Join(refDir, "ref.mrc")
	mask := filepath.Join(refDir, "mask.mrc")
	require.NoError(t, mrc.WriteHeader(ref, 32, 32, 32, 2.62))
	require.NoError(t, mrc.WriteSphere(mask, 32, 12, 2.62))

	in := defaultInput(t)
	in.GenerateRefs = false
	in.RefRadii, in.MaskRadii = nil, nil
	in.Refs = []string{ref}
	in.Masks = []string{mask}
	in.DoHalfsets = true
	runner.OnRun = fabricateAlignment(env, 1, in.Iterations, 10, true)

	out, err := mra.OnRunMRA(context.Background(), env, in)
	require.NoError(t, err)

	output := out.(*mra.Output)
	require.Len(t, output.HalfMaps, 2)
	assert.Contains(t, output.HalfMaps[0], "average_class001_half1.mrc")
}

func TestOnRunMRAProvidedRefsWrongBox(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, true)
	env, runner := testutil.StepEnv(t, "susan_mra", "align", ts)

	ref := filepath.Join(t.TempDir(), "ref.mrc")
	require.NoError(t, mrc.WriteHeader(ref, 64, 64, 64, 2.62))

	in := defaultInput(t)
	in.GenerateRefs = false
	in.RefRadii, in.MaskRadii = nil, nil
	in.Refs = []string{ref}
	in.Masks = []string{ref}

	_, err := mra.OnRunMRA(context.Background(), env, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a cube of 32 voxels")
	assert.Empty(t, runner.Ran())
}

func TestOnRunMRAMPI(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, true)
	env, runner := testutil.StepEnv(t, "susan_mra", "align", ts)
	env.Settings.UseMPI = true

	in := defaultInput(t)
	runner.OnRun = fabricateAlignment(env, 1, in.Iterations, 10, false)

	_, err := mra.OnRunMRA(context.Background(), env, in)
	require.NoError(t, err)
	assert.Equal(t, []string{susan.ProgAlignerMPI, susan.ProgReconstruct}, runner.Ran())
}

func TestOnRunMRACtfWithoutEstimates(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, false)
	env, runner := testutil.StepEnv(t, "susan_mra", "align", ts)

	_, err := mra.OnRunMRA(context.Background(), env, defaultInput(t))
	var cfgErr *susan.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "CTF correction requires defocus estimates")
	assert.Empty(t, runner.Ran())
}

func TestOnRunMRANoCtfSkipsDefocus(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, false)
	env, runner := testutil.StepEnv(t, "susan_mra", "align", ts)

	in := defaultInput(t)
	in.CtfCorrAln = "none"
	in.CtfCorrAvg = "none"
	runner.OnRun = fabricateAlignment(env, 1, in.Iterations, 10, false)

	_, err := mra.OnRunMRA(context.Background(), env, in)
	require.NoError(t, err)

	data, err := os.ReadFile(env.ExtraPath("input_tomos.tomostxt"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "-999", "uncorrected runs write no defocus columns")
}

func TestOnRunMRAContinue(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, true)
	env, runner := testutil.StepEnv(t, "susan_mra", "align_2", ts)

	fabricatePreviousRun(t, env, "align_1")

	in := defaultInput(t)
	in.Continue = true
	in.PreviousStep = "align_1"
	runner.OnRun = fabricateAlignment(env, 1, in.Iterations, 10, false)

	out, err := mra.OnRunMRA(context.Background(), env, in)
	require.NoError(t, err)

	output := out.(*mra.Output)
	assert.Equal(t, 10, output.NumParticles)

	// The previous project was copied into this step.
	for _, name := range []string{
		"input_tomos.tomostxt", "input_refs.refstxt", "input_particles.ptclsraw",
		filepath.Join("mra", "ite_0003", "particles.ptclsraw"),
	} {
		_, err := os.Stat(env.ExtraPath(name))
		require.NoError(t, err, name)
	}

	// The new parameter file carries the previous run's geometry.
	written := new(susan.MraParams)
	require.NoError(t, susan.ReadParams(env.TmpPath("params.json"), written))
	assert.True(t, written.Continue)
	assert.Equal(t, 2.62, written.PixSize)
	assert.Equal(t, [3]int{96, 64, 300}, written.TomoSize)
	assert.Equal(t, 300.0, written.Voltage)
	assert.Equal(t, []int{1}, written.TsNums)
	assert.Equal(t, []string{"/data/ts01.mrcs"}, written.InputStacks)
}

// fabricatePreviousRun lays out a finished alignment step next to the
// current one: project files, last-iteration particles, and the parameter
// file the continued run inherits its geometry from.
func fabricatePreviousRun(t *testing.T, env *proto.Env, stepName string) {
	t.Helper()
	prevExtra := env.StepPath(stepName)
	require.NoError(t, os.MkdirAll(filepath.Join(prevExtra, "mra", "ite_0003"), 0755))
	info := &susan.PtclsInfo{NumParticles: 10, NumProjs: 3, NumRefs: 1}
	require.NoError(t, susan.WritePtclsInfo(filepath.Join(prevExtra, "mra", "ite_0003", "particles.ptclsraw"), info, nil))
	require.NoError(t, susan.WritePtclsInfo(filepath.Join(prevExtra, "input_particles.ptclsraw"), info, nil))
	require.NoError(t, os.WriteFile(filepath.Join(prevExtra, "input_tomos.tomostxt"), []byte("num_tomos:1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(prevExtra, "input_refs.refstxt"), []byte("num_refs:1\n"), 0644))

	prevTmp := env.StepTmpPath(stepName)
	require.NoError(t, os.MkdirAll(prevTmp, 0755))
	prevParams := &susan.MraParams{
		TsNums:      []int{1},
		NumRefs:     1,
		NumTilts:    3,
		InputStacks: []string{"/data/ts01.mrcs"},
		InputAngles: []string{"/data/ts01.tlt"},
		PixSize:     2.62,
		TomoSize:    [3]int{96, 64, 300},
		Voltage:     300,
		SphAber:     2.7,
		AmpCont:     0.07,
	}
	require.NoError(t, susan.WriteParams(filepath.Join(prevTmp, "params.json"), prevParams))
}

func TestOnRunMRAContinueWithoutProject(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, true)
	env, runner := testutil.StepEnv(t, "susan_mra", "align_2", ts)

	in := defaultInput(t)
	in.Continue = true
	in.PreviousStep = "no_such_step"

	_, err := mra.OnRunMRA(context.Background(), env, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no alignment project to continue")
	assert.Empty(t, runner.Ran())
}

func TestOnRunMRAContinueWithoutParams(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, true)
	env, runner := testutil.StepEnv(t, "susan_mra", "align_2", ts)

	fabricatePreviousRun(t, env, "align_1")
	require.NoError(t, os.Remove(env.StepTmpPath("align_1", "params.json")))

	in := defaultInput(t)
	in.Continue = true
	in.PreviousStep = "align_1"

	_, err := mra.OnRunMRA(context.Background(), env, in)
	var cfgErr *susan.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "previous_step", cfgErr.Field)
	assert.Empty(t, runner.Ran())
}

func TestOnRunMRAMissingAlignedParticles(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, true)
	env, runner := testutil.StepEnv(t, "susan_mra", "align", ts)

	in := defaultInput(t)
	// The reconstruction leaves its averages but the aligner wrote no
	// last-iteration particle file.
	runner.OnRun = func(cmd susanexec.Command) error {
		if filepath.Base(cmd.Program) != susan.ProgReconstruct {
			return nil
		}
		return mrc.WriteHeader(env.ExtraPath("average_class001.mrc"), 32, 32, 32, 2.62)
	}

	_, err := mra.OnRunMRA(context.Background(), env, in)
	var parseErr *susan.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Path, filepath.Join("ite_0003", "particles.ptclsraw"))
}

func TestOnRunMRAMissingAverage(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, true)
	// The runner succeeds but fabricates nothing.
	env, _ := testutil.StepEnv(t, "susan_mra", "align", ts)

	_, err := mra.OnRunMRA(context.Background(), env, defaultInput(t))
	require.Error(t, err)
	var parseErr *susan.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestInputValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(in *mra.Input)
		want   string
	}{
		{"bad aligner ctf", func(in *mra.Input) { in.CtfCorrAln = "sideways" }, "ctf_corr_aln"},
		{"bad averager ctf", func(in *mra.Input) { in.CtfCorrAvg = "sideways" }, "ctf_corr_avg"},
		{"bad padding", func(in *mra.Input) { in.Padding = "mirror" }, "padding"},
		{"zero box", func(in *mra.Input) { in.BoxSize = 0 }, "box_size"},
		{"zero iterations", func(in *mra.Input) { in.Iterations = 0 }, "iterations"},
		{"lowpass with one iteration", func(in *mra.Input) { in.Iterations = 1; in.IncLowpass = true },
			"cannot increase the lowpass when doing only 1 iteration"},
		{"continue without step", func(in *mra.Input) { in.Continue = true }, "previous_step"},
		{"no coordinates", func(in *mra.Input) { in.Coordinates = "" }, "coordinates"},
		{"no radii", func(in *mra.Input) { in.RefRadii = nil }, "ref_radii"},
		{"radii count mismatch", func(in *mra.Input) { in.MaskRadii = []float64{12, 14} },
			"number of references and masks must be the same: 1 vs 2"},
		{"no refs", func(in *mra.Input) { in.GenerateRefs = false }, "refs"},
		{"refs count mismatch", func(in *mra.Input) {
			in.GenerateRefs = false
			in.Refs = []string{"a.mrc", "b.mrc"}
			in.Masks = []string{"m.mrc"}
		}, "number of references and masks must be the same: 2 vs 1"},
	}

	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, true)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, runner := testutil.StepEnv(t, "susan_mra", "align", ts)
			in := defaultInput(t)
			tc.mutate(in)

			_, err := mra.OnRunMRA(context.Background(), env, in)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Empty(t, runner.Ran())
		})
	}
}
