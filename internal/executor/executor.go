// Package executor runs the pipeline's steps in declaration order. Every
// step wraps exactly one external SUSAN invocation chain, so execution is
// strictly sequential; the GPU pool is handed to one tool at a time.
package executor

import (
	"context"
	"fmt"
	"reflect"

	"github.com/emtools/susanbridge/internal/config"
	"github.com/emtools/susanbridge/internal/ctxlog"
	"github.com/emtools/susanbridge/internal/proto"
	"github.com/emtools/susanbridge/internal/registry"
	"github.com/emtools/susanbridge/internal/susanexec"
)

// Executor orchestrates the end-to-end execution of a pipeline.
type Executor struct {
	registry  *registry.Registry
	converter config.Converter
	runner    susanexec.Runner
	model     *config.Model
}

// New creates an executor for the given model.
func New(r *registry.Registry, converter config.Converter, runner susanexec.Runner, model *config.Model) *Executor {
	return &Executor{
		registry:  r,
		converter: converter,
		runner:    runner,
		model:     model,
	}
}

// Execute validates the step list and runs every step in order. The first
// failing step aborts the pipeline.
func (e *Executor) Execute(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if err := e.ValidateSteps(); err != nil {
		return err
	}

	outputs := newOutputStore()
	for _, step := range e.model.Pipeline.Steps {
		stepLogger := ctxlog.FromContext(ctx).With("step", step.Name)
		stepCtx := ctxlog.WithLogger(ctx, stepLogger)
		stepLogger.Info("▶️ Starting step", "protocol", step.ProtocolType)

		output, err := e.runStep(stepCtx, step, outputs)
		if err != nil {
			return fmt.Errorf("step '%s' failed: %w", step.Name, err)
		}
		outputs.put(step, output)
		stepLogger.Info("✅ Finished step")
	}
	logger.Info("All pipeline steps finished.", "steps", len(e.model.Pipeline.Steps))
	return nil
}

// ValidateSteps checks name uniqueness, protocol types, and that every
// depends_on reference points at an earlier step.
func (e *Executor) ValidateSteps() error {
	seen := make(map[string]struct{})
	for _, step := range e.model.Pipeline.Steps {
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("duplicate step name '%s'", step.Name)
		}
		def, ok := e.registry.DefinitionRegistry[step.ProtocolType]
		if !ok {
			return fmt.Errorf("step '%s': unknown protocol type '%s'", step.Name, step.ProtocolType)
		}
		if _, ok := e.registry.HandlerRegistry[def.Handler]; !ok {
			return fmt.Errorf("step '%s': handler '%s' not registered", step.Name, def.Handler)
		}
		for _, dep := range step.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("step '%s' depends on '%s', which is not an earlier step", step.Name, dep)
			}
		}
		seen[step.Name] = struct{}{}
	}
	return nil
}

// runStep decodes a step's arguments against its manifest and calls the
// registered handler.
func (e *Executor) runStep(ctx context.Context, step *config.Step, outputs *outputStore) (any, error) {
	def := e.registry.DefinitionRegistry[step.ProtocolType]
	handler := e.registry.HandlerRegistry[def.Handler]

	inputStruct := handler.NewInput()
	if inputStruct != nil {
		evalCtx := outputs.evalContext()
		if err := e.converter.DecodeBody(ctx, inputStruct, step.Arguments, def.Inputs, evalCtx); err != nil {
			return nil, fmt.Errorf("failed to decode arguments: %w", err)
		}
	}

	env := proto.NewEnv(e.model.Pipeline.Settings.WorkDir, step, e.model.Pipeline, e.model.Pipeline.Settings, e.runner)
	if err := env.MakeDirs(); err != nil {
		return nil, err
	}

	handlerFunc := reflect.ValueOf(handler.Fn)
	callArgs := []reflect.Value{
		reflect.ValueOf(ctx),
		reflect.ValueOf(env),
	}
	if inputStruct == nil {
		callArgs = append(callArgs, reflect.Zero(handlerFunc.Type().In(2)))
	} else {
		callArgs = append(callArgs, reflect.ValueOf(inputStruct))
	}

	results := handlerFunc.Call(callArgs)
	nativeOutput, errResult := results[0].Interface(), results[1].Interface()
	if errResult != nil {
		return nil, errResult.(error)
	}

	ctyOutput, err := e.converter.ToCtyValue(nativeOutput)
	if err != nil {
		return nil, fmt.Errorf("failed to convert handler output: %w", err)
	}
	return ctyOutput, nil
}
