// Package install builds SUSAN from source following an embedded recipe:
// clone the repository and its eigen dependency, configure with cmake, and
// compile. The CUDA toolchain is picked up from the build environment.
package install

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	_ "embed"

	"github.com/emtools/susanbridge/internal/ctxlog"
	"github.com/emtools/susanbridge/internal/susan"
	"github.com/emtools/susanbridge/internal/susanexec"
)

//go:embed recipe.yaml
var recipeSrc []byte

// Step is one command of the build recipe.
type Step struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// SkipIf names a path whose existence makes the step a no-op, so a
	// partially finished installation can be resumed.
	SkipIf string `yaml:"skip_if"`
}

// Recipe is the full build description.
type Recipe struct {
	Version        string   `yaml:"version"`
	Source         string   `yaml:"source"`
	Sentinel       string   `yaml:"sentinel"`
	NeededPrograms []string `yaml:"needed_programs"`
	Steps          []Step   `yaml:"steps"`
}

// Load parses the embedded recipe.
func Load() (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(recipeSrc, &r); err != nil {
		return nil, fmt.Errorf("failed to parse install recipe: %w", err)
	}
	return &r, nil
}

// Install builds SUSAN under prefix. An empty prefix falls back to
// SUSAN_HOME. Already finished stages are skipped, so the command can resume
// after a failure.
func Install(ctx context.Context, runner susanexec.Runner, prefix string) error {
	logger := ctxlog.FromContext(ctx)

	recipe, err := Load()
	if err != nil {
		return err
	}
	prefix, err = resolvePrefix(prefix)
	if err != nil {
		return err
	}

	for _, prog := range recipe.NeededPrograms {
		if _, err := exec.LookPath(prog); err != nil {
			return susan.NewConfigError("needed_programs",
				"build tool %q not found on PATH", prog)
		}
	}

	if done, err := sentinelExists(recipe, prefix); err != nil {
		return err
	} else if done {
		logger.Info("SUSAN is already built, nothing to do.", "prefix", prefix)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(prefix), 0755); err != nil {
		return fmt.Errorf("failed to create installation directory: %w", err)
	}

	logger.Info("🚀 Building SUSAN from source.",
		"version", recipe.Version, "source", recipe.Source, "prefix", prefix)
	vars := map[string]string{
		"{prefix}": prefix,
		"{jobs}":   strconv.Itoa(runtime.NumCPU()),
	}
	for _, step := range recipe.Steps {
		if skip := expand(step.SkipIf, vars); skip != "" {
			if _, err := os.Stat(skip); err == nil {
				logger.Info("Skipping finished stage.", "stage", step.Name)
				continue
			}
		}
		logger.Info("▶️ Running build stage.", "stage", step.Name)
		cmd := susanexec.Command{
			Program: step.Command,
			Args:    expandAll(step.Args, vars),
			Env:     os.Environ(),
		}
		if err := runner.Run(ctx, cmd); err != nil {
			return fmt.Errorf("build stage %q failed: %w", step.Name, err)
		}
	}

	if done, err := sentinelExists(recipe, prefix); err != nil {
		return err
	} else if !done {
		return fmt.Errorf("build finished but %s is missing under %s", recipe.Sentinel, prefix)
	}
	logger.Info("✅ SUSAN built successfully.", "prefix", prefix)
	return nil
}

// Check verifies an existing installation: the sentinel binary and every
// program the bridge invokes.
func Check(prefix string) error {
	recipe, err := Load()
	if err != nil {
		return err
	}
	prefix, err = resolvePrefix(prefix)
	if err != nil {
		return err
	}
	if done, err := sentinelExists(recipe, prefix); err != nil {
		return err
	} else if !done {
		return susan.NewConfigError(susan.EnvHome,
			"no SUSAN build found under %s, run the install command first", prefix)
	}
	for _, prog := range []string{
		susan.ProgEstimateCtf,
		susan.ProgAligner,
		susan.ProgAlignerMPI,
		susan.ProgReconstruct,
		susan.ProgSubset,
	} {
		if _, err := os.Stat(filepath.Join(prefix, "bin", prog)); err != nil {
			return susan.NewConfigError(susan.EnvHome,
				"executable %s missing under %s", prog, prefix)
		}
	}
	return nil
}

func resolvePrefix(prefix string) (string, error) {
	if prefix != "" {
		return susan.Abs(prefix), nil
	}
	home, err := susan.Home()
	if err != nil {
		return "", susan.NewConfigError(susan.EnvHome,
			"no installation prefix given and %s is not set", susan.EnvHome)
	}
	return home, nil
}

func sentinelExists(r *Recipe, prefix string) (bool, error) {
	if r.Sentinel == "" {
		return false, fmt.Errorf("install recipe declares no sentinel")
	}
	_, err := os.Stat(filepath.Join(prefix, r.Sentinel))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func expand(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, k, v)
	}
	return s
}

func expandAll(args []string, vars map[string]string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = expand(a, vars)
	}
	return out
}
