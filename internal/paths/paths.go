package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Subdirectory name under each XDG base directory.
	appName = "imgforge"

	// Directory, relative to the build context, that receives image archives.
	outputDir = ".imgforge"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/imgforge or /run/user/<uid>/imgforge
//	macOS:   ~/Library/Caches/imgforge/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, appName)
	}
	return filepath.Join(xdg.CacheHome, appName, "run")
}

// Default Unix socket of the daemon.
func Socket() string {
	return filepath.Join(Runtime(), "imgforged.sock")
}

// Default PID file of the daemon.
func PIDFile() string {
	return filepath.Join(Runtime(), "imgforged.pid")
}

// Default output directory for a build context.
func Output(context string) string {
	return filepath.Join(context, outputDir)
}
