package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cruciblehq/imgforge/internal"
	"github.com/cruciblehq/imgforge/internal/runtime"
	"github.com/google/uuid"
)

// Signals delivered to the entrypoint instead of stopping imgforge.
var forwardedSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGQUIT,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
}

// Represents the 'imgforge run' command.
type RunCmd struct {
	Image string `arg:"" help:"Image name, as given to 'build --tag'."`
	ID    string `help:"Container ID. Defaults to a generated one."`
}

// Executes the run command.
//
// The image's entrypoint runs with no arguments added and the terminal's
// stdio attached. Forwarded signals reach the process unchanged, so
// SIGINT and SIGTERM are the process's to handle. The command exits with
// the process's exit code.
func (c *RunCmd) Run(ctx context.Context) error {
	rt, err := runtime.New(RootCmd.Containerd, RootCmd.Namespace)
	if err != nil {
		return err
	}
	defer rt.Close()

	id := c.ID
	if id == "" {
		id = fmt.Sprintf("%s-run-%s", internal.Name, uuid.NewString()[:8])
	}

	sigc := make(chan os.Signal, len(forwardedSignals))
	signal.Notify(sigc, forwardedSignals...)
	defer signal.Stop(sigc)

	signals := make(chan syscall.Signal)
	done := make(chan struct{})
	defer close(done)
	go relaySignals(sigc, signals, done)

	// Cancellation of ctx follows SIGINT/SIGTERM, which are forwarded
	// instead; the process decides when to exit.
	code, err := rt.Run(context.WithoutCancel(ctx), c.Image, id, signals)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// Converts OS signals to syscall signals until done is closed.
func relaySignals(in <-chan os.Signal, out chan<- syscall.Signal, done <-chan struct{}) {
	for {
		select {
		case sig := <-in:
			s, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			select {
			case out <- s:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}
