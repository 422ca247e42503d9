package config

import (
	"context"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads manifests and pipeline files from the given paths,
	// translates them into the format-agnostic model, and returns a
	// matching Converter.
	Load(ctx context.Context, paths ...string) (*Model, Converter, error)
}

// Converter is the interface for a format-specific data binding and type
// conversion implementation. It bridges raw configuration expressions and
// the Go input structs used by protocol handlers.
type Converter interface {
	// DecodeBody decodes a raw `arguments` block into a target Go struct,
	// applying manifest defaults and required-argument checks.
	DecodeBody(
		ctx context.Context,
		inputStruct any,
		args map[string]hcl.Expression,
		defs map[string]*InputDefinition,
		evalCtx *hcl.EvalContext,
	) error

	// ToCtyValue converts a native Go value (a protocol's output struct)
	// into its equivalent cty.Value so later steps can reference it.
	ToCtyValue(v any) (cty.Value, error)
}
