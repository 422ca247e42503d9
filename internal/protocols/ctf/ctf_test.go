package ctf_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emtools/susanbridge/internal/protocols/ctf"
	"github.com/emtools/susanbridge/internal/susan"
	"github.com/emtools/susanbridge/internal/susanexec"
	"github.com/emtools/susanbridge/internal/testutil"
)

func defaultInput() *ctf.Input {
	return &ctf.Input{
		TomoThickness: 800,
		Sampling:      32,
		Binning:       1,
		MinRes:        30,
		MaxRes:        5,
		DefMin:        5000,
		DefMax:        50000,
		PatchSize:     512,
	}
}

// fabricateDefocus mimics susan_estimate_ctf: it drops a defocus.txt with
// one row per tilt into the grid output directory.
func fabricateDefocus(t *testing.T, numTilts int) func(cmd susanexec.Command) error {
	t.Helper()
	return func(cmd susanexec.Command) error {
		for num := 1; ; num++ {
			gridDir := filepath.Join(cmd.Dir, "ctf_grid", fmt.Sprintf("Tomo%03d", num))
			if _, err := os.Stat(gridDir); err == nil {
				continue
			}
			if err := os.MkdirAll(gridDir, 0755); err != nil {
				return err
			}
			rows := strings.Repeat("21000 20500 45 0 0 0 4.5 0.9\n", numTilts)
			return os.WriteFile(filepath.Join(gridDir, "defocus.txt"), []byte(rows), 0644)
		}
	}
}

func TestOnRunEstimateCtf(t *testing.T) {
	dir := t.TempDir()
	ts1 := testutil.MakeTiltSeries(t, dir, "ts01", 3, false)
	ts2 := testutil.MakeTiltSeries(t, dir, "ts02", 3, false)
	env, runner := testutil.StepEnv(t, "susan_ctf", "ctf_1", ts1, ts2)
	runner.OnRun = fabricateDefocus(t, 3)

	out, err := ctf.OnRunEstimateCtf(context.Background(), env, defaultInput())
	require.NoError(t, err)

	output, ok := out.(*ctf.Output)
	require.True(t, ok)
	assert.Equal(t, 2, output.NumSeries)
	require.Contains(t, output.DefocusFiles, "ts01")
	require.Contains(t, output.DefocusFiles, "ts02")

	// One estimator run per series.
	assert.Equal(t, []string{susan.ProgEstimateCtf, susan.ProgEstimateCtf}, runner.Ran())

	// The fitted values are imported back into the per-series tomostxt.
	data, err := os.ReadFile(env.ExtraPath("tomo1.tomostxt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "21000.0000")

	rows, err := susan.ParseDefocusFile(output.DefocusFiles["ts01"])
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// The estimator consumed a params file and the patch grid.
	_, err = os.Stat(env.ExtraPath("tomo1.json"))
	require.NoError(t, err)
	info, err := susan.ReadPtclsInfo(env.ExtraPath("grid_ctf.ptclsraw"))
	require.NoError(t, err)
	assert.Equal(t, uint32(3*2), info.NumParticles, "96x64 stack at sampling 32 gives a 3x2 grid")
}

func TestOnRunEstimateCtfParams(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, false)
	env, runner := testutil.StepEnv(t, "susan_ctf", "ctf_1", ts)
	runner.OnRun = fabricateDefocus(t, 3)

	in := defaultInput()
	in.TiltSeries = []string{"ts01"}
	_, err := ctf.OnRunEstimateCtf(context.Background(), env, in)
	require.NoError(t, err)

	data, err := os.ReadFile(env.ExtraPath("tomo1.json"))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `"ts_num": 1`)
	assert.Contains(t, text, `"num_tilts": 3`)
	assert.Contains(t, text, `"patch_size": 512`)
	assert.Contains(t, text, `"def_min": 5000`)
	assert.Contains(t, text, `"pix_size": 2.62`)
}

func TestOnRunEstimateCtfValidation(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, false)

	cases := []struct {
		name   string
		mutate func(in *ctf.Input)
		field  string
	}{
		{"zero sampling", func(in *ctf.Input) { in.Sampling = 0 }, "sampling"},
		{"zero patch size", func(in *ctf.Input) { in.PatchSize = 0 }, "patch_size"},
		{"inverted resolution range", func(in *ctf.Input) { in.MinRes, in.MaxRes = 5, 30 }, "min_res"},
		{"empty defocus range", func(in *ctf.Input) { in.DefMin, in.DefMax = 50000, 5000 }, "def_min"},
		{"zero binning", func(in *ctf.Input) { in.Binning = 0 }, "binning"},
		{"zero thickness", func(in *ctf.Input) { in.TomoThickness = 0 }, "tomo_thickness"},
		{"unknown series", func(in *ctf.Input) { in.TiltSeries = []string{"ts99"} }, "tilt_series"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, runner := testutil.StepEnv(t, "susan_ctf", "ctf_1", ts)
			in := defaultInput()
			tc.mutate(in)

			_, err := ctf.OnRunEstimateCtf(context.Background(), env, in)
			var cfgErr *susan.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
			assert.Empty(t, runner.Ran(), "no process may start on invalid input")
		})
	}
}

func TestOnRunEstimateCtfSamplingTooCoarse(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, false)
	env, runner := testutil.StepEnv(t, "susan_ctf", "ctf_1", ts)

	in := defaultInput()
	in.Sampling = 128 // larger than the 96x64 test stack

	_, err := ctf.OnRunEstimateCtf(context.Background(), env, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
	assert.Empty(t, runner.Ran())
}

func TestOnRunEstimateCtfMissingOutput(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, false)
	env, _ := testutil.StepEnv(t, "susan_ctf", "ctf_1", ts)

	// Default FakeRunner leaves no defocus.txt behind.
	_, err := ctf.OnRunEstimateCtf(context.Background(), env, defaultInput())
	require.Error(t, err)
	var parseErr *susan.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestOnRunEstimateCtfRowCountMismatch(t *testing.T) {
	dir := t.TempDir()
	ts := testutil.MakeTiltSeries(t, dir, "ts01", 3, false)
	env, runner := testutil.StepEnv(t, "susan_ctf", "ctf_1", ts)
	runner.OnRun = fabricateDefocus(t, 2)

	_, err := ctf.OnRunEstimateCtf(context.Background(), env, defaultInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 defocus rows for 3 tilts")
}
