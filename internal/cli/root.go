package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/cruciblehq/imgforge/internal"
	"github.com/cruciblehq/imgforge/internal/paths"
)

// Represents the root command for imgforge.
var RootCmd struct {
	Quiet      bool       `short:"q" help:"Suppress informational output."`
	Verbose    bool       `short:"v" help:"Enable verbose output."`
	Debug      bool       `short:"d" help:"Enable debug output."`
	Containerd string     `help:"Containerd socket address." env:"IMGFORGE_CONTAINERD" default:"${containerd}" placeholder:"PATH"`
	Namespace  string     `help:"Containerd namespace for images, containers, and cached layers." env:"IMGFORGE_NAMESPACE" default:"${namespace}"`
	Socket     string     `short:"s" help:"Override the default daemon Unix socket path." placeholder:"PATH"`
	Build      BuildCmd   `cmd:"" help:"Build an image from a recipe."`
	Plan       PlanCmd    `cmd:"" help:"Show the build phases, an equivalent Dockerfile, or the resolved recipe."`
	Run        RunCmd     `cmd:"" help:"Run an image's entrypoint and exit with its status."`
	Serve      ServeCmd   `cmd:"" help:"Run the build daemon."`
	Status     StatusCmd  `cmd:"" help:"Show daemon status."`
	Version    VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	parser, err := newParser(ctx)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	configureLogger()

	return kongCtx.Run()
}

// Builds the kong parser for [RootCmd] with ctx bound for commands.
func newParser(ctx context.Context, options ...kong.Option) (*kong.Kong, error) {
	return kong.New(&RootCmd, append([]kong.Option{
		kong.Name(internal.Name),
		kong.Description("Builds and launches application images with containerd.\n\nA recipe names a base image, a working directory, a dependency manifest\nand its install commands, the source tree, and the entrypoint."),
		kong.UsageOnError(),
		kong.Vars{
			"version":    internal.VersionString(),
			"containerd": internal.DefaultContainerdAddress,
			"namespace":  internal.DefaultContainerdNamespace,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	}, options...)...)
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	logger, ok := slog.Default().Handler().(*log.Logger)
	if !ok {
		return // Not a charmbracelet logger, nothing to configure
	}

	debug := RootCmd.Debug || internal.IsDebug()
	quiet := RootCmd.Quiet || internal.IsQuiet()
	verbose := RootCmd.Verbose || internal.IsVerbose()

	switch {
	case debug:
		logger.SetLevel(log.DebugLevel)
	case quiet:
		logger.SetLevel(log.WarnLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	logger.SetReportTimestamp(verbose)
	logger.SetReportCaller(verbose)
}

// Returns the daemon socket path from the flags or the default.
func socketPath() string {
	if RootCmd.Socket != "" {
		return RootCmd.Socket
	}
	return paths.Socket()
}
