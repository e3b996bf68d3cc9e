// Buddy is a retrieval-augmented conversational agent with long-term
// memory.
//
// It runs a bounded decide/retrieve/grade/rewrite loop over a local or
// hosted language model, checkpoints every conversation thread, and
// remembers durable facts about each user across sessions.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	buddy chat               Start an interactive conversation
//	buddy ask <question>     Ask a single question (for testing)
//	buddy ingest <path>      Import markdown into the knowledge base
//	buddy init [dir]         Initialize a working directory with defaults
//	buddy version            Print version and build information
//	buddy -o json version    Output version information as JSON
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

	"github.com/buddy-ai/buddy/internal/buildinfo"
	"github.com/buddy-ai/buddy/internal/config"
)

// main constructs the OS-level environment and delegates to [run],
// keeping os.Exit and os.Args out of the application logic so the
// lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments by hand. The flag package relies on
// package-level globals, which makes it impossible to call run()
// concurrently from tests; the argument surface is small enough that
// manual parsing is clearer than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
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

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "chat":
		return runChat(ctx, stdout, stderr, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: buddy ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: buddy ingest <file.md or dir>")
		}
		return runIngest(ctx, stdout, configPath, cmdArgs[0])
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Buddy - Conversational Agent with Long-Term Memory")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: buddy [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat          Start an interactive conversation")
	fmt.Fprintln(w, "  ask           Ask a single question (for testing)")
	fmt.Fprintln(w, "  ingest        Import markdown into the knowledge base")
	fmt.Fprintln(w, "  init [dir]    Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version       Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// newLogger builds the process logger from config values.
func newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return config.NewLogger(w, level, cfg.Logging.Format), nil
}

// loadConfig discovers and loads the config file, returning the config
// and the path it came from.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, path, nil
}
