// Package server implements the imgforge daemon.
//
// The daemon listens on a Unix domain socket for JSON-encoded commands.
// Each connection carries a single request-response exchange: the client
// sends a newline-delimited JSON envelope, the server dispatches the
// command, and writes the result back before closing the connection.
//
// Supported commands are building an image, querying daemon status, and
// initiating shutdown. Build commands are delegated to the build package,
// which in turn uses the runtime package for container operations against
// containerd. When a metrics address is configured, build, phase, and
// cache collectors are served over HTTP at /metrics.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    ContainerdAddress:   "/run/containerd/containerd.sock",
//	    ContainerdNamespace: "imgforge",
//	    MetricsAddress:      "127.0.0.1:9464",
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Wait()
package server
