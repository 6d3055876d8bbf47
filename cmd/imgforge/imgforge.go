package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/cruciblehq/imgforge/internal"
	"github.com/cruciblehq/imgforge/internal/cli"
)

// The entry point for imgforge.
//
// Initializes logging, displays startup information, and executes the root
// command. A container that exits non-zero under 'imgforge run' passes its
// status through; any other error exits with 1.
func main() {
	slog.SetDefault(logger())

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("imgforge is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// Creates a logger seeded from build-time linker flags.
//
// The logger is reconfigured after flag parsing via cli.Execute.
func logger() *slog.Logger {
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Prefix: internal.Name,
		Level:  logLevel(),
	})
	return slog.New(handler)
}

// Returns the log level derived from build-time linker flags.
func logLevel() log.Level {
	if internal.IsDebug() {
		return log.DebugLevel
	}
	if internal.IsQuiet() {
		return log.WarnLevel
	}
	return log.InfoLevel
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
