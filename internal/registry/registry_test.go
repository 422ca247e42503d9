package registry

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/emtools/susanbridge/internal/config"
)

type fakeInput struct {
	BoxSize  int      `susan:"box_size"`
	Symmetry string   `susan:"symmetry"`
	Refs     []string `susan:"refs"`
	internal bool
}

func fakeHandler() *Handler {
	return &Handler{
		NewInput:  func() any { return &fakeInput{} },
		InputType: reflect.TypeOf(fakeInput{}),
		Fn:        func() {},
	}
}

func definition(inputs map[string]cty.Type) *config.ProtocolDefinition {
	def := &config.ProtocolDefinition{
		Type:    "susan_fake",
		Handler: "OnRunFake",
		Inputs:  make(map[string]*config.InputDefinition),
		Outputs: make(map[string]*config.OutputDefinition),
	}
	for name, ty := range inputs {
		def.Inputs[name] = &config.InputDefinition{Name: name, Type: ty}
	}
	return def
}

func matchingDefinition() *config.ProtocolDefinition {
	return definition(map[string]cty.Type{
		"box_size": cty.Number,
		"symmetry": cty.String,
		"refs":     cty.List(cty.String),
	})
}

func TestRegisterHandler(t *testing.T) {
	r := New()
	r.RegisterHandler("OnRunFake", fakeHandler())
	require.Contains(t, r.HandlerRegistry, "OnRunFake")

	assert.Panics(t, func() {
		r.RegisterHandler("OnRunFake", fakeHandler())
	})
}

func TestPopulateDefinitionsFromModel(t *testing.T) {
	r := New()
	fromModule := matchingDefinition()
	r.AddDefinition(fromModule)

	fromModel := matchingDefinition()
	r.PopulateDefinitionsFromModel(&config.Model{
		Protocols: map[string]*config.ProtocolDefinition{
			"susan_fake":  fromModel,
			"susan_other": definition(nil),
		},
	})

	// Module registrations win over definitions found in config files.
	assert.Same(t, fromModule, r.DefinitionRegistry["susan_fake"])
	assert.Contains(t, r.DefinitionRegistry, "susan_other")
}

func TestValidateRegistry(t *testing.T) {
	r := New()
	r.RegisterHandler("OnRunFake", fakeHandler())
	r.AddDefinition(matchingDefinition())

	require.NoError(t, r.ValidateRegistry(context.Background()))
}

func TestValidateRegistryMissingHandler(t *testing.T) {
	r := New()
	r.AddDefinition(matchingDefinition())

	err := r.ValidateRegistry(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestValidateRegistryUndeclaredField(t *testing.T) {
	r := New()
	r.RegisterHandler("OnRunFake", fakeHandler())
	def := matchingDefinition()
	delete(def.Inputs, "refs")
	r.AddDefinition(def)

	err := r.ValidateRegistry(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared in manifest")
}

func TestValidateRegistryMissingField(t *testing.T) {
	r := New()
	r.RegisterHandler("OnRunFake", fakeHandler())
	def := matchingDefinition()
	def.Inputs["extra"] = &config.InputDefinition{Name: "extra", Type: cty.String}
	r.AddDefinition(def)

	err := r.ValidateRegistry(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'extra'")
}

func TestValidateRegistryTypeMismatch(t *testing.T) {
	r := New()
	r.RegisterHandler("OnRunFake", fakeHandler())
	def := matchingDefinition()
	def.Inputs["box_size"].Type = cty.String
	r.AddDefinition(def)

	err := r.ValidateRegistry(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type mismatch")
}

func TestValidateRegistryAnyDisablesCheck(t *testing.T) {
	r := New()
	r.RegisterHandler("OnRunFake", fakeHandler())
	def := matchingDefinition()
	def.Inputs["box_size"].Type = cty.DynamicPseudoType
	r.AddDefinition(def)

	require.NoError(t, r.ValidateRegistry(context.Background()))
}
