// Package proto defines the execution environment handed to every protocol
// handler: the step-private directory layout, the run-wide settings, the
// pipeline's input entities, and the process runner used to launch SUSAN.
package proto

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/emtools/susanbridge/internal/config"
	"github.com/emtools/susanbridge/internal/susan"
	"github.com/emtools/susanbridge/internal/susanexec"
)

// Env is the per-step environment. Handlers receive a fresh Env whose
// directories are already created.
type Env struct {
	StepName string
	StepType string
	Settings *config.Settings
	Pipeline *config.Pipeline
	Runner   susanexec.Runner

	root string
}

// NewEnv builds the environment for one step under the run's working
// directory.
func NewEnv(workDir string, step *config.Step, pipeline *config.Pipeline, settings *config.Settings, runner susanexec.Runner) *Env {
	return &Env{
		StepName: step.Name,
		StepType: step.ProtocolType,
		Settings: settings,
		Pipeline: pipeline,
		Runner:   runner,
		root:     filepath.Join(workDir, step.Name),
	}
}

// MakeDirs creates the step's directory layout: tmp for staged inputs,
// extra for results, logs for captured tool output.
func (e *Env) MakeDirs() error {
	for _, dir := range []string{e.TmpDir(), e.ExtraDir(), e.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create step directory %s: %w", dir, err)
		}
	}
	return nil
}

// Root returns the step's private directory.
func (e *Env) Root() string { return e.root }

// TmpDir returns the staging directory for converted inputs.
func (e *Env) TmpDir() string { return filepath.Join(e.root, "tmp") }

// ExtraDir returns the results directory; SUSAN runs with this as its
// working directory.
func (e *Env) ExtraDir() string { return filepath.Join(e.root, "extra") }

// LogsDir returns the directory for auxiliary log files.
func (e *Env) LogsDir() string { return filepath.Join(e.root, "logs") }

// TmpPath joins path elements under the staging directory.
func (e *Env) TmpPath(elem ...string) string {
	return filepath.Join(append([]string{e.TmpDir()}, elem...)...)
}

// ExtraPath joins path elements under the results directory.
func (e *Env) ExtraPath(elem ...string) string {
	return filepath.Join(append([]string{e.ExtraDir()}, elem...)...)
}

// StepPath resolves a path inside another step's results directory, used by
// continue-style protocols that consume a previous run's project.
func (e *Env) StepPath(stepName string, elem ...string) string {
	base := filepath.Join(filepath.Dir(e.root), stepName, "extra")
	return filepath.Join(append([]string{base}, elem...)...)
}

// StepTmpPath resolves a path inside another step's staging directory.
func (e *Env) StepTmpPath(stepName string, elem ...string) string {
	base := filepath.Join(filepath.Dir(e.root), stepName, "tmp")
	return filepath.Join(append([]string{base}, elem...)...)
}

// TiltSeries resolves tilt-series IDs against the pipeline. An empty list
// selects every declared series. Unknown IDs are a configuration error.
func (e *Env) TiltSeries(ids []string) ([]*config.TiltSeries, error) {
	if len(ids) == 0 {
		if len(e.Pipeline.TiltSeries) == 0 {
			return nil, susan.NewConfigError("tilt_series", "pipeline declares no tilt series")
		}
		return e.Pipeline.TiltSeries, nil
	}
	var out []*config.TiltSeries
	for _, id := range ids {
		found := false
		for _, ts := range e.Pipeline.TiltSeries {
			if ts.ID == id {
				out = append(out, ts)
				found = true
				break
			}
		}
		if !found {
			return nil, susan.NewConfigError("tilt_series", "unknown tilt series %q", id)
		}
	}
	return out, nil
}

// Program resolves a SUSAN executable and wraps it into a ready Command
// running inside the results directory with the SUSAN environment.
func (e *Env) Program(name string, args ...string) (susanexec.Command, error) {
	bin, err := susan.Program(name)
	if err != nil {
		return susanexec.Command{}, err
	}
	return susanexec.Command{
		Program: bin,
		Args:    args,
		Dir:     e.ExtraDir(),
		Env:     susan.Environ(os.Environ()),
	}, nil
}
