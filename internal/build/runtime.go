package build

import (
	"context"
	"io"

	"github.com/cruciblehq/imgforge/internal/runtime"
)

// Image and container operations needed by a build.
type Runtime interface {
	Pull(ctx context.Context, ref, platform string) (runtime.Image, error)
	HasImage(ctx context.Context, name string) (bool, error)
	RemoveImage(ctx context.Context, name string) error
	StartContainer(ctx context.Context, image, id, platform string) (Container, error)
}

// Running build container.
type Container interface {
	ID() string
	Exec(ctx context.Context, shell, command string, env []string, workdir string) (*runtime.ExecResult, error)
	MkdirAll(ctx context.Context, path string) error
	Chmod(ctx context.Context, mode uint32, recursive bool, paths ...string) error
	CopyTo(ctx context.Context, r io.Reader, destDir string) error
	Stop(ctx context.Context) error
	Destroy(ctx context.Context)
	Commit(ctx context.Context, name string, cfg runtime.ImageConfig) (runtime.Image, error)
	Export(ctx context.Context, path, name string, cfg runtime.ImageConfig) error
}

// Adapts the containerd runtime to [Runtime].
func NewRuntime(rt *runtime.Runtime) Runtime {
	return containerdRuntime{rt}
}

type containerdRuntime struct {
	*runtime.Runtime
}

func (r containerdRuntime) StartContainer(ctx context.Context, image, id, platform string) (Container, error) {
	ctr, err := r.Runtime.StartContainer(ctx, image, id, platform)
	if err != nil {
		return nil, err
	}
	return ctr, nil
}
