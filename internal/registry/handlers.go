package registry

import (
	"fmt"
	"log/slog"
	"reflect"
)

// Handler holds the compiled Go parts of a protocol: the input struct
// factory, the reflected input type for manifest parity checks, and the
// handler function itself with signature
//
//	func(ctx context.Context, env *proto.Env, input *Input) (any, error)
type Handler struct {
	NewInput  func() any
	InputType reflect.Type
	Fn        any
}

// RegisterHandler registers a Go function for a protocol's run event.
func (r *Registry) RegisterHandler(name string, handler *Handler) {
	if _, exists := r.HandlerRegistry[name]; exists {
		panic(fmt.Sprintf("protocol handler with name '%s' already registered", name))
	}
	slog.Debug("Registering protocol handler.", "name", name)
	r.HandlerRegistry[name] = handler
}
