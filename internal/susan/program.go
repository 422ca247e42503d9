package susan

import (
	"os"
	"path/filepath"
)

// Names of the SUSAN executables invoked by the bridge. All of them live
// under $SUSAN_HOME/bin in a source build.
const (
	ProgEstimateCtf = "susan_estimate_ctf"
	ProgAligner     = "susan_aligner"
	ProgAlignerMPI  = "susan_aligner_mpi"
	ProgReconstruct = "susan_reconstruct"
	ProgSubset      = "susan_subset"
)

// Program resolves the path of a SUSAN executable. If SUSAN_HOME is set the
// binary must exist under its bin directory; otherwise the bare name is
// returned and resolution is left to PATH lookup at spawn time.
func Program(name string) (string, error) {
	home := os.Getenv(EnvHome)
	if home == "" {
		return name, nil
	}
	bin := filepath.Join(home, "bin", name)
	if _, err := os.Stat(bin); err != nil {
		return "", NewConfigError(EnvHome, "executable %s not found under %s", name, home)
	}
	return bin, nil
}
