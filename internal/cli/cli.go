package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emtools/susanbridge/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Commands understood by the susanbridge binary.
const (
	CmdRun     = "run"
	CmdCheck   = "check"
	CmdInstall = "install"
)

// Options is the parsed command line: the chosen command plus the
// application configuration it needs.
type Options struct {
	Command       string
	App           app.AppConfig
	InstallPrefix string
}

// Parse processes command-line arguments. It returns the populated options,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*Options, bool, error) {
	slog.Debug("CLI parser started.")

	command := CmdRun
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = args[0]
		args = args[1:]
	}
	switch command {
	case CmdRun, CmdCheck, CmdInstall:
	default:
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q, expected run, check, or install", command)}
	}

	flagSet := flag.NewFlagSet("susanbridge", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
susanbridge - run SUSAN subtomogram averaging pipelines.

Usage:
  susanbridge [run|check] [options] [PIPELINE_PATH]
  susanbridge install [options]

Arguments:
  PIPELINE_PATH
    Path to a single .hcl pipeline file or a directory of .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	pipelineFlag := flagSet.String("pipeline", "", "Path to the pipeline file or directory.")
	pFlag := flagSet.String("p", "", "Path to the pipeline file or directory (shorthand).")
	protocolsFlag := flagSet.String("protocols-path", "", "Optional directory with extra protocol manifests.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	prefixFlag := flagSet.String("prefix", "", "Installation prefix for the install command. Defaults to $SUSAN_HOME.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *pipelineFlag != "" {
		path = *pipelineFlag
	} else if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}

	if path == "" && command != CmdInstall {
		slog.Debug("No pipeline path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	return &Options{
		Command: command,
		App: app.AppConfig{
			PipelinePath:  path,
			ProtocolsPath: *protocolsFlag,
			LogFormat:     logFormat,
			LogLevel:      logLevel,
		},
		InstallPrefix: *prefixFlag,
	}, false, nil
}
