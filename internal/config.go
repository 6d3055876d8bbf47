package internal

import (
	"strconv"
	"sync/atomic"
)

const (

	// Program name, used for the binary, log prefix, and containerd namespace.
	Name = "imgforge"

	// Default containerd socket address.
	DefaultContainerdAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace for images, containers, and cache layers.
	DefaultContainerdNamespace = Name
)

var (
	quietMode   atomic.Bool // Only warnings and errors are logged.
	debugMode   atomic.Bool // Debug records are logged.
	verboseMode atomic.Bool // Records carry timestamps and callers.
)

// Seeds the logging modes from linker flags.
//
// rawQuiet, rawDebug, and rawVerbose are set with -ldflags -X at build time
// and default to "false". Unparseable values leave the mode disabled.
func init() {
	for _, m := range []struct {
		raw  string
		mode *atomic.Bool
	}{
		{rawQuiet, &quietMode},
		{rawDebug, &debugMode},
		{rawVerbose, &verboseMode},
	} {
		if v, err := strconv.ParseBool(m.raw); err == nil {
			m.mode.Store(v)
		}
	}
}

// Enables or disables quiet mode.
func SetQuiet(enabled bool) { quietMode.Store(enabled) }

// Returns true if quiet mode is enabled.
func IsQuiet() bool { return quietMode.Load() }

// Enables or disables debug mode.
func SetDebug(enabled bool) { debugMode.Store(enabled) }

// Returns true if debug mode is enabled.
func IsDebug() bool { return debugMode.Load() }

// Enables or disables verbose logging.
func SetVerbose(enabled bool) { verboseMode.Store(enabled) }

// Returns true if verbose logging is enabled.
func IsVerbose() bool { return verboseMode.Load() }
