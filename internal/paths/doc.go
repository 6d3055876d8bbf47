// Locations used by imgforge on the host.
//
// Runtime files (daemon socket, PID file) follow XDG conventions on Linux
// and fall back to the cache directory where no runtime directory exists,
// as on macOS. Build outputs default to a directory inside the build
// context so that archives land next to the sources they were built from.
package paths
