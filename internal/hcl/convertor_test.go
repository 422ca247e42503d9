package hcl

import (
	"context"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/emtools/susanbridge/internal/config"
)

type subsetInput struct {
	Substacks string    `susan:"substacks"`
	CCMin     float64   `susan:"cc_min"`
	SelectRef bool      `susan:"select_refs"`
	RefsList  []int     `susan:"refs_list"`
	Ignored   string    // no matching definition
	padding   [8]byte   // unexported, must be skipped
	Radii     []float64 `susan:"ref_radii"`
}

func parseExpr(t *testing.T, src string) hcl.Expression {
	t.Helper()
	expr, diags := hclsyntax.ParseExpression([]byte(src), "test.hcl", hcl.InitialPos)
	require.False(t, diags.HasErrors(), diags.Error())
	return expr
}

func subsetDefs() map[string]*config.InputDefinition {
	def := func(name string, ty cty.Type, dflt *cty.Value) *config.InputDefinition {
		return &config.InputDefinition{Name: name, Type: ty, Default: dflt, Optional: dflt != nil}
	}
	zero := cty.NumberFloatVal(0.5)
	off := cty.False
	empty := cty.ListValEmpty(cty.Number)
	return map[string]*config.InputDefinition{
		"substacks":   def("substacks", cty.String, nil),
		"cc_min":      def("cc_min", cty.Number, &zero),
		"select_refs": def("select_refs", cty.Bool, &off),
		"refs_list":   def("refs_list", cty.List(cty.Number), &empty),
		"ref_radii":   def("ref_radii", cty.List(cty.Number), &empty),
	}
}

func TestDecodeBody(t *testing.T) {
	args := map[string]hcl.Expression{
		"substacks":   parseExpr(t, `"particles.ptclsraw"`),
		"select_refs": parseExpr(t, `true`),
		"refs_list":   parseExpr(t, `[1, 3]`),
	}

	var in subsetInput
	err := NewConverter().DecodeBody(context.Background(), &in, args, subsetDefs(), nil)
	require.NoError(t, err)

	assert.Equal(t, "particles.ptclsraw", in.Substacks)
	assert.True(t, in.SelectRef)
	assert.Equal(t, []int{1, 3}, in.RefsList)
	// Unset arguments fall back to their manifest defaults.
	assert.Equal(t, 0.5, in.CCMin)
	assert.Empty(t, in.Radii)
}

func TestDecodeBodyMissingRequired(t *testing.T) {
	var in subsetInput
	err := NewConverter().DecodeBody(context.Background(), &in, nil, subsetDefs(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing required argument "substacks"`)
}

func TestDecodeBodyTypeMismatch(t *testing.T) {
	args := map[string]hcl.Expression{
		"substacks": parseExpr(t, `"p.ptclsraw"`),
		"cc_min":    parseExpr(t, `"not a number"`),
	}

	var in subsetInput
	err := NewConverter().DecodeBody(context.Background(), &in, args, subsetDefs(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"cc_min"`)
}

func TestDecodeBodyEvalContext(t *testing.T) {
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"step": cty.ObjectVal(map[string]cty.Value{
				"susan_mra": cty.ObjectVal(map[string]cty.Value{
					"align": cty.ObjectVal(map[string]cty.Value{
						"output": cty.ObjectVal(map[string]cty.Value{
							"substacks": cty.StringVal("work/align/extra/mra/ite_0003/particles.ptclsraw"),
						}),
					}),
				}),
			}),
		},
	}

	args := map[string]hcl.Expression{
		"substacks": parseExpr(t, `step.susan_mra.align.output.substacks`),
	}

	var in subsetInput
	err := NewConverter().DecodeBody(context.Background(), &in, args, subsetDefs(), evalCtx)
	require.NoError(t, err)
	assert.Equal(t, "work/align/extra/mra/ite_0003/particles.ptclsraw", in.Substacks)
}

func TestDecodeBodyNotAPointer(t *testing.T) {
	err := NewConverter().DecodeBody(context.Background(), subsetInput{}, nil, subsetDefs(), nil)
	require.Error(t, err)
}

func TestToCtyValue(t *testing.T) {
	type output struct {
		Averages     []string `cty:"averages"`
		NumParticles int      `cty:"num_particles"`
	}

	val, err := NewConverter().ToCtyValue(&output{
		Averages:     []string{"extra/average_class001.mrc"},
		NumParticles: 1200,
	})
	require.NoError(t, err)

	require.True(t, val.Type().IsObjectType())
	assert.Equal(t, cty.StringVal("extra/average_class001.mrc"), val.GetAttr("averages").Index(cty.NumberIntVal(0)))

	n, _ := val.GetAttr("num_particles").AsBigFloat().Int64()
	assert.Equal(t, int64(1200), n)
}

func TestToCtyValueNil(t *testing.T) {
	val, err := NewConverter().ToCtyValue(nil)
	require.NoError(t, err)
	assert.Equal(t, cty.NilVal, val)
}
