package susan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHome(t *testing.T) {
	t.Setenv(EnvHome, "/opt/susan")
	home, err := Home()
	require.NoError(t, err)
	assert.Equal(t, "/opt/susan", home)

	t.Setenv(EnvHome, "")
	_, err = Home()
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, EnvHome, cfgErr.Field)
}

func TestEnviron(t *testing.T) {
	t.Setenv(EnvHome, "/opt/susan")
	t.Setenv(EnvMPIBin, "/opt/mpi/bin")
	t.Setenv(EnvCudaLib, "/opt/cuda/lib64")
	t.Setenv(EnvMPILib, "")

	sep := string(os.PathListSeparator)
	base := []string{
		"HOME=/home/user",
		"PATH=/usr/bin" + sep + "/bin",
		"LD_LIBRARY_PATH=/usr/lib",
		"PYTHONPATH=/home/user/conda",
	}

	env := Environ(base)

	assert.Contains(t, env, "HOME=/home/user")
	assert.Contains(t, env, "PATH=/opt/mpi/bin"+sep+"/opt/susan/bin"+sep+"/usr/bin"+sep+"/bin")
	assert.Contains(t, env, "LD_LIBRARY_PATH=/opt/cuda/lib64"+sep+"/usr/lib")
	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, "PYTHONPATH="), "PYTHONPATH must be dropped")
	}
}

func TestEnvironWithoutSusanVars(t *testing.T) {
	t.Setenv(EnvHome, "")
	t.Setenv(EnvMPIBin, "")
	t.Setenv(EnvCudaLib, "")
	t.Setenv(EnvMPILib, "")

	env := Environ([]string{"PATH=/usr/bin"})
	assert.Contains(t, env, "PATH=/usr/bin")
	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, "LD_LIBRARY_PATH="))
	}
}

func TestProgram(t *testing.T) {
	home := t.TempDir()
	binDir := filepath.Join(home, "bin")
	require.NoError(t, os.MkdirAll(binDir, 0755))
	bin := filepath.Join(binDir, ProgEstimateCtf)
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))

	t.Setenv(EnvHome, home)
	got, err := Program(ProgEstimateCtf)
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	_, err = Program(ProgAligner)
	require.Error(t, err)

	t.Setenv(EnvHome, "")
	got, err = Program(ProgAligner)
	require.NoError(t, err)
	assert.Equal(t, ProgAligner, got)
}

func TestCheckFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "stack.mrc", "data")

	require.NoError(t, CheckFile("stack", path))
	require.Error(t, CheckFile("stack", ""))
	require.Error(t, CheckFile("stack", filepath.Join(dir, "missing.mrc")))
	require.Error(t, CheckFile("stack", dir))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "2.6200", FormatFloat(2.62))
	assert.Equal(t, "-60.0000", FormatFloat(-60))
}

func TestValidateChoice(t *testing.T) {
	require.NoError(t, ValidateChoice("padding", "noise", PaddingChoices))

	err := ValidateChoice("padding", "mirror", PaddingChoices)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "padding", cfgErr.Field)
}

func TestWriteParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.json")

	params := &SubsetParams{InputParts: "particles.ptclsraw", CCMin: 0.2, CCMax: 0.9, DoThrCC: true}
	require.NoError(t, WriteParams(path, params))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `"input_parts": "particles.ptclsraw"`)
	assert.Contains(t, text, `"do_thr_cc": true`)
	assert.Contains(t, text, `"cc_min": 0.2`)
}
