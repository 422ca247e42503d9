package hcl

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/emtools/susanbridge/internal/config"
	"github.com/emtools/susanbridge/internal/ctxlog"
	"github.com/emtools/susanbridge/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load orchestrates the HCL configuration loading process. It accepts files
// and directories, parses every .hcl file found, and merges all discovered
// blocks into a single model.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, config.Converter, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	model := &config.Model{
		Protocols: make(map[string]*config.ProtocolDefinition),
		Pipeline: &config.Pipeline{
			Settings: defaultSettings(),
		},
	}

	hclFiles, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	parser := hclparse.NewParser()

	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		if err := l.mergeRoot(ctx, model, &root); err != nil {
			return nil, nil, fmt.Errorf("invalid configuration in %s: %w", file, err)
		}
	}

	logger.Debug("HCL loading complete.",
		"protocols", len(model.Protocols),
		"tilt_series", len(model.Pipeline.TiltSeries),
		"steps", len(model.Pipeline.Steps),
	)
	return model, NewConverter(), nil
}

// ParseManifest decodes a protocol manifest from an in-memory buffer. It is
// used for the manifests embedded in the protocol packages.
func ParseManifest(ctx context.Context, filename string, src []byte) (*config.ProtocolDefinition, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filename, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", filename, diags)
	}
	if len(root.Protocols) != 1 {
		return nil, fmt.Errorf("manifest %s must contain exactly one protocol block, found %d", filename, len(root.Protocols))
	}
	return (&Loader{}).translateProtocolDefinition(ctx, root.Protocols[0])
}

// mergeRoot folds the blocks of one parsed file into the model.
func (l *Loader) mergeRoot(ctx context.Context, model *config.Model, root *fileRoot) error {
	for _, p := range root.Protocols {
		def, err := l.translateProtocolDefinition(ctx, p)
		if err != nil {
			return err
		}
		if _, exists := model.Protocols[def.Type]; exists {
			return fmt.Errorf("duplicate protocol definition %q", def.Type)
		}
		model.Protocols[def.Type] = def
	}
	if root.Settings != nil {
		model.Pipeline.Settings = l.translateSettings(root.Settings)
	}
	for _, ts := range root.TiltSeries {
		for _, existing := range model.Pipeline.TiltSeries {
			if existing.ID == ts.ID {
				return fmt.Errorf("duplicate tilt_series %q", ts.ID)
			}
		}
		model.Pipeline.TiltSeries = append(model.Pipeline.TiltSeries, l.translateTiltSeries(ts))
	}
	for _, step := range root.Steps {
		model.Pipeline.Steps = append(model.Pipeline.Steps, l.translateStep(step))
	}
	return nil
}

// findAllHCLFiles walks all given paths and returns a flat list of all .hcl
// files found, de-duplicated and in stable order.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // It's not an error if a configured path doesn't exist.
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if info.IsDir() {
			found, err := fsutil.FindFilesByExtension(path, ".hcl")
			if err != nil {
				return nil, err
			}
			for _, p := range found {
				if _, wasSeen := seen[p]; !wasSeen {
					allFiles = append(allFiles, p)
					seen[p] = struct{}{}
				}
			}
		} else {
			if _, wasSeen := seen[path]; !wasSeen {
				allFiles = append(allFiles, path)
				seen[path] = struct{}{}
			}
		}
	}
	return allFiles, nil
}

func defaultSettings() *config.Settings {
	return &config.Settings{
		WorkDir:       "work",
		GPUs:          []int{0},
		ThreadsPerGPU: 1,
	}
}
