package susan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables recognized by the bridge. SUSAN_HOME points at the
// root of a SUSAN installation; the rest tune the library and MPI search
// paths of the spawned processes.
const (
	EnvHome    = "SUSAN_HOME"
	EnvCudaLib = "SUSAN_CUDA_LIB"
	EnvMPIBin  = "SUSAN_MPI_BIN"
	EnvMPILib  = "SUSAN_MPI_LIB"
)

// Home returns the SUSAN installation root from the environment.
func Home() (string, error) {
	home := os.Getenv(EnvHome)
	if home == "" {
		return "", NewConfigError(EnvHome, "environment variable is not set")
	}
	return home, nil
}

// Environ builds the environment for a SUSAN process on top of the given
// base environment (usually os.Environ). SUSAN_MPI_BIN is prepended to PATH,
// SUSAN_CUDA_LIB and SUSAN_MPI_LIB are prepended to LD_LIBRARY_PATH, and any
// inherited PYTHONPATH is dropped so the tool's own interpreter setup wins.
func Environ(base []string) []string {
	path := splitList(lookup(base, "PATH"))
	ldPath := splitList(lookup(base, "LD_LIBRARY_PATH"))

	if home := os.Getenv(EnvHome); home != "" {
		path = prepend(path, filepath.Join(home, "bin"))
	}
	if mpiBin := os.Getenv(EnvMPIBin); mpiBin != "" {
		path = prepend(path, mpiBin)
	}
	if cudaLib := os.Getenv(EnvCudaLib); cudaLib != "" {
		ldPath = prepend(ldPath, cudaLib)
	}
	if mpiLib := os.Getenv(EnvMPILib); mpiLib != "" {
		ldPath = prepend(ldPath, mpiLib)
	}

	env := make([]string, 0, len(base)+2)
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		switch key {
		case "PATH", "LD_LIBRARY_PATH", "PYTHONPATH":
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "PATH="+joinList(path))
	if len(ldPath) > 0 {
		env = append(env, "LD_LIBRARY_PATH="+joinList(ldPath))
	}
	return env
}

func lookup(env []string, key string) string {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, string(os.PathListSeparator))
}

func joinList(parts []string) string {
	return strings.Join(parts, string(os.PathListSeparator))
}

// prepend puts dir at the front of the list, dropping an existing entry for
// the same dir so repeated calls stay idempotent.
func prepend(list []string, dir string) []string {
	out := []string{dir}
	for _, p := range list {
		if p != dir {
			out = append(out, p)
		}
	}
	return out
}

// CheckFile verifies that a required input file exists and is readable.
func CheckFile(field, path string) error {
	if path == "" {
		return NewConfigError(field, "no file given")
	}
	info, err := os.Stat(path)
	if err != nil {
		return NewConfigError(field, "cannot read %s: %v", path, err)
	}
	if info.IsDir() {
		return NewConfigError(field, "%s is a directory, expected a file", path)
	}
	return nil
}

// Abs resolves path into an absolute one, as every path written into a SUSAN
// configuration file must be absolute (the tool is run from a step-private
// working directory).
func Abs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// FormatFloat renders a float the way SUSAN's own text files do.
func FormatFloat(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
