package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
)

// Runs an image's default process to completion.
//
// The container is created from the image config alone: its entrypoint
// runs with no arguments added, attached to the caller's stdio. Signals
// received on signals are delivered to the process unchanged. Cancelling
// ctx kills the process. The returned code is the process exit code; a
// process terminated by a signal reports 128 plus the signal number. The
// container is destroyed before returning.
func (rt *Runtime) Run(ctx context.Context, name, id string, signals <-chan syscall.Signal) (int, error) {
	platform := DefaultPlatform()

	if err := rt.unpackImage(ctx, name, platform); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	image, err := rt.resolveImage(ctx, name, platform)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	c := &Container{client: rt.client, id: id, platform: platform}
	c.remove(ctx)

	ctr, err := c.create(ctx, image)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer c.Destroy(context.WithoutCancel(ctx))

	task, err := ctr.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	// Waiting must outlive ctx so the exit status is still collected after
	// a cancellation kills the process.
	waitCtx := context.WithoutCancel(ctx)

	statusC, err := task.Wait(waitCtx)
	if err != nil {
		task.Delete(waitCtx)
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := task.Start(ctx); err != nil {
		task.Delete(waitCtx)
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("entrypoint started", "id", id, "image", name, "pid", task.Pid())

	return supervise(waitCtx, ctx.Done(), task, statusC, signals)
}

// Process that can receive signals, satisfied by containerd tasks.
type signalTarget interface {
	Kill(ctx context.Context, sig syscall.Signal, opts ...containerd.KillOpts) error
	Delete(ctx context.Context, opts ...containerd.ProcessDeleteOpts) (*containerd.ExitStatus, error)
}

// Forwards signals to the process until it exits and returns its exit code.
// A closed done channel kills the process.
func supervise(ctx context.Context, done <-chan struct{}, proc signalTarget, statusC <-chan containerd.ExitStatus, signals <-chan syscall.Signal) (int, error) {
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			slog.Debug("forwarding signal", "signal", sig)
			if err := proc.Kill(ctx, sig); err != nil {
				slog.Warn("failed to forward signal", "signal", sig, "error", err)
			}

		case <-done:
			done = nil
			proc.Kill(ctx, syscall.SIGKILL)

		case status := <-statusC:
			proc.Delete(ctx)
			code, _, err := status.Result()
			if err != nil {
				return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
			}
			return int(code), nil
		}
	}
}
