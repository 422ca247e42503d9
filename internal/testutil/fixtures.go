package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emtools/susanbridge/internal/config"
	"github.com/emtools/susanbridge/internal/proto"
	"github.com/emtools/susanbridge/internal/susan"
	"github.com/emtools/susanbridge/internal/susan/mrc"
)

// MakeTiltSeries fabricates a tilt series on disk: a stack with a real MRC
// header, a .tlt file with numTilts angles, and optionally a matching
// defocus file.
func MakeTiltSeries(t *testing.T, dir, id string, numTilts int, withDefocus bool) *config.TiltSeries {
	t.Helper()

	stack := filepath.Join(dir, id+".mrcs")
	require.NoError(t, mrc.WriteHeader(stack, 96, 64, numTilts, 2.62))

	var angles []string
	for i := 0; i < numTilts; i++ {
		angles = append(angles, "-60.0")
	}
	tilts := filepath.Join(dir, id+".tlt")
	require.NoError(t, os.WriteFile(tilts, []byte(strings.Join(angles, "\n")+"\n"), 0644))

	ts := &config.TiltSeries{
		ID: id, Stack: stack, Angles: tilts,
		PixSize: 2.62, Voltage: 300, SphAber: 2.7, AmpCont: 0.07,
	}
	if withDefocus {
		defocus := filepath.Join(dir, id+"_defocus.txt")
		rows := strings.Repeat("21000 20500 45 0 0 0 4.5 0.9\n", numTilts)
		require.NoError(t, os.WriteFile(defocus, []byte(rows), 0644))
		ts.DefocusFile = defocus
	}
	return ts
}

// MakeDynTable writes a Dynamo particle table with the given number of
// particles, all assigned to tomogram 1.
func MakeDynTable(t *testing.T, path string, numParticles int) {
	t.Helper()

	var sb strings.Builder
	for p := 1; p <= numParticles; p++ {
		cols := make([]string, 35)
		for i := range cols {
			cols[i] = "0"
		}
		cols[0] = strconv.Itoa(p)
		cols[19] = "1"
		cols[23] = "48"
		cols[24] = "32"
		cols[25] = "15"
		sb.WriteString(strings.Join(cols, " ") + "\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0644))
}

// StepEnv builds a ready step environment backed by a FakeRunner. SUSAN_HOME
// is cleared so program names resolve to their bare form.
func StepEnv(t *testing.T, stepType, stepName string, series ...*config.TiltSeries) (*proto.Env, *FakeRunner) {
	t.Helper()
	t.Setenv(susan.EnvHome, "")

	pipeline := &config.Pipeline{
		Settings:   &config.Settings{WorkDir: t.TempDir(), GPUs: []int{0}, ThreadsPerGPU: 1},
		TiltSeries: series,
	}
	step := &config.Step{ProtocolType: stepType, Name: stepName}
	runner := &FakeRunner{}
	env := proto.NewEnv(pipeline.Settings.WorkDir, step, pipeline, pipeline.Settings, runner)
	require.NoError(t, env.MakeDirs())
	return env, runner
}
