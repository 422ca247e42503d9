package registry

import (
	"github.com/emtools/susanbridge/internal/config"
)

// Module is the interface every protocol package implements to plug itself
// into the bridge: an embedded HCL manifest plus the Go handler registration.
type Module interface {
	// Manifest returns the protocol's HCL manifest source.
	Manifest() []byte
	// Register binds the protocol's Go handlers into the registry.
	Register(r *Registry)
}

// Registry holds the registered handlers and protocol definitions for a
// single application instance.
type Registry struct {
	HandlerRegistry    map[string]*Handler
	DefinitionRegistry map[string]*config.ProtocolDefinition
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		HandlerRegistry:    make(map[string]*Handler),
		DefinitionRegistry: make(map[string]*config.ProtocolDefinition),
	}
}

// AddDefinition stores a parsed protocol manifest for execution-time lookup.
func (r *Registry) AddDefinition(def *config.ProtocolDefinition) {
	r.DefinitionRegistry[def.Type] = def
}

// PopulateDefinitionsFromModel copies protocol definitions found in loaded
// configuration files into the registry, overriding nothing that a module
// already registered.
func (r *Registry) PopulateDefinitionsFromModel(model *config.Model) {
	for key, val := range model.Protocols {
		if _, exists := r.DefinitionRegistry[key]; !exists {
			r.DefinitionRegistry[key] = val
		}
	}
}
