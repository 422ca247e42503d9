package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/emtools/susanbridge/internal/config"
	"github.com/emtools/susanbridge/internal/ctxlog"
	"github.com/emtools/susanbridge/internal/hcl"
	"github.com/emtools/susanbridge/internal/registry"
	"github.com/emtools/susanbridge/internal/susanexec"
)

// AppConfig holds all the necessary configuration for an App instance to run.
type AppConfig struct {
	PipelinePath  string
	ProtocolsPath string
	LogFormat     string
	LogLevel      string
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	registry  *registry.Registry
	config    *config.Model
	converter config.Converter
	runner    susanexec.Runner
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Startup errors are programmer or configuration errors, so it panics; the
// entrypoint recovers and turns the panic into an exit code.
func NewApp(outW io.Writer, appConfig *AppConfig, loader config.Loader, runner susanexec.Runner, modules ...registry.Module) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	var configPaths []string
	if appConfig.PipelinePath != "" {
		configPaths = append(configPaths, appConfig.PipelinePath)
	}
	if appConfig.ProtocolsPath != "" {
		configPaths = append(configPaths, appConfig.ProtocolsPath)
	}

	// Load all configuration into the format-agnostic model first.
	cfgModel, converter, err := loader.Load(ctx, configPaths...)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	logger.Debug("Configuration loaded and translated into unified model.")

	// Register the built-in protocols: Go handlers plus embedded manifests.
	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
		def, err := hcl.ParseManifest(ctx, fmt.Sprintf("%T", mod), mod.Manifest())
		if err != nil {
			panic(fmt.Errorf("failed to parse embedded manifest: %w", err))
		}
		reg.AddDefinition(def)
	}
	logger.Debug("All protocol modules registered.", "count", len(modules))

	// Manifests found in configuration files fill the gaps, never override.
	reg.PopulateDefinitionsFromModel(cfgModel)
	logger.Debug("Registry definitions populated from config model.")

	if err := reg.ValidateRegistry(ctx); err != nil {
		// A mismatch between a manifest and its Go handler is a programmer
		// error, not a user one.
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	return &App{
		outW:      outW,
		logger:    logger,
		registry:  reg,
		config:    cfgModel,
		converter: converter,
		runner:    runner,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Model returns the loaded configuration model. This is primarily for testing.
func (a *App) Model() *config.Model {
	return a.config
}
