// Package config defines the format-agnostic configuration model for the
// bridge, along with the core interfaces (Loader, Converter) for loading
// and interpreting configuration from various sources.
//
// The `config.Model` is the single source of truth for the `executor`
// package. The concrete HCL implementation of the interfaces lives in the
// `hcl` package.
package config
