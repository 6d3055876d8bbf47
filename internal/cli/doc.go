// Parses flags and dispatches the imgforge commands.
//
// Global flags:
//
//	-q, --quiet        Suppress informational output.
//	-v, --verbose      Enable verbose output.
//	-d, --debug        Enable debug output.
//	    --containerd   Containerd socket address ($IMGFORGE_CONTAINERD).
//	    --namespace    Containerd namespace ($IMGFORGE_NAMESPACE).
//	-s, --socket       Daemon Unix socket path.
//
// Commands are build, plan, run, serve, status, and version. Flags override
// build-time defaults set via linker flags. After parsing, the global logger
// is reconfigured to reflect the final level and verbosity before the
// command runs.
package cli
