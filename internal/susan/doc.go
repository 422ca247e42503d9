// Package susan implements the file-format shims between the bridge and the
// external SUSAN toolkit: writers for the tomostxt/refstxt configuration
// files and per-invocation JSON parameter files, readers for the defocus
// tables and binary particle files SUSAN emits, and the environment assembly
// for spawned SUSAN processes.
//
// The package performs no subtomogram-averaging computation of any kind.
// Consistency beyond "the file exists and matches the expected layout" is
// the external tool's responsibility.
package susan
