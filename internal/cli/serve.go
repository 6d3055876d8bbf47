package cli

import (
	"context"
	"log/slog"

	"github.com/cruciblehq/imgforge/internal/server"
)

// Represents the 'imgforge serve' command.
type ServeCmd struct {
	Metrics string `help:"Serve Prometheus metrics at /metrics on this address." placeholder:"ADDR"`
}

// Executes the serve command.
//
// Starts the daemon on a Unix domain socket and blocks until the context
// is cancelled (e.g. via SIGINT or SIGTERM) or a shutdown command arrives.
func (c *ServeCmd) Run(ctx context.Context) error {
	srv, err := server.New(server.Config{
		SocketPath:          RootCmd.Socket,
		ContainerdAddress:   RootCmd.Containerd,
		ContainerdNamespace: RootCmd.Namespace,
		MetricsAddress:      c.Metrics,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("imgforge daemon is running")

	select {
	case <-ctx.Done():
	case <-srv.Done():
	}

	slog.Info("shutting down")
	return srv.Stop()
}
