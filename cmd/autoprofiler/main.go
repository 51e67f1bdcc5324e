// AutoProfiler infers personal attributes of a user from their comment
// history with a team of cooperating LLM agents, and scores the result
// against ground truth.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	autoprofiler profile <user>...   Infer attributes for one or more users
//	autoprofiler evaluate <user>...  Score saved attributes against ground truth
//	autoprofiler runs [user|id]      List recorded sessions, or show one
//	autoprofiler usage [window]      Report token usage and cost (default 24h)
//	autoprofiler init [dir]          Write an example config and dataset directory
//	autoprofiler version             Print version and build information
//	autoprofiler -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/zealscott/autoprofiler/internal/buildinfo"
	"github.com/zealscott/autoprofiler/internal/config"
)

// main only builds the OS-level environment and delegates to [run], so
// the whole command can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// options are the global flags.
type options struct {
	configPath string
	outputFmt  string // text or json
	model      string // overrides models.default
}

// run is the real entry point. Logs go to stderr; results go to stdout.
// Arguments are parsed by hand: the flag package's globals get in the
// way of calling run from parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-model" && i+1 < len(args):
			opts.model = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-model="):
			opts.model = strings.TrimPrefix(args[i], "-model=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "profile":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: autoprofiler profile <user>...")
		}
		return runProfile(ctx, stdout, stderr, opts, cmdArgs)
	case "evaluate":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: autoprofiler evaluate <user>...")
		}
		return runEvaluate(ctx, stdout, stderr, opts, cmdArgs)
	case "runs":
		var arg string
		if len(cmdArgs) > 0 {
			arg = cmdArgs[0]
		}
		return runRuns(ctx, stdout, stderr, opts, arg)
	case "usage":
		var window string
		if len(cmdArgs) > 0 {
			window = cmdArgs[0]
		}
		return runUsage(ctx, stdout, stderr, opts, window)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "AutoProfiler - multi-agent attribute inference")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: autoprofiler [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  profile <user>...   Infer attributes from each user's comment history")
	fmt.Fprintln(w, "  evaluate <user>...  Score saved attributes against ground truth")
	fmt.Fprintln(w, "  runs [user|id]      List recent sessions, or show one session")
	fmt.Fprintln(w, "  usage [window]      Token usage and cost over a window (default 24h)")
	fmt.Fprintln(w, "  init [dir]          Create a workspace with an example config")
	fmt.Fprintln(w, "  version             Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -model <name>     Model to use (default: models.default)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/autoprofiler/config.yaml, /etc/autoprofiler/config.yaml")
	return nil
}

// loadConfig locates and parses the config file. With no explicit path
// and no file in the search paths, the built-in defaults are used.
func loadConfig(explicit string, logger *slog.Logger) (*config.Config, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, err
		}
		logger.Info("no config file found, using defaults")
		return config.Default(), nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	logger.Info("config loaded", "path", cfgPath)
	return cfg, nil
}

// setup loads the config and builds the logger it asks for.
func setup(stderr io.Writer, opts options) (*config.Config, *slog.Logger, error) {
	boot := config.NewLogger(stderr, slog.LevelInfo, "text")
	cfg, err := loadConfig(opts.configPath, boot)
	if err != nil {
		return nil, nil, err
	}
	if opts.model != "" {
		cfg.Models.Default = opts.model
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, config.NewLogger(stderr, level, cfg.LogFormat), nil
}
