package runtime

import (
	"context"
	"fmt"
	"io"
)

// Creates a directory inside the container, including parents.
func (c *Container) MkdirAll(ctx context.Context, path string) error {
	return c.mustExec(ctx, "mkdir", nil, "mkdir", "-p", path)
}

// Sets permission bits on paths inside the container.
//
// With recursive set, the mode is applied to every file and directory
// beneath each path as well.
func (c *Container) Chmod(ctx context.Context, mode uint32, recursive bool, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := []string{"chmod"}
	if recursive {
		args = append(args, "-R")
	}
	args = append(args, fmt.Sprintf("%04o", mode))
	args = append(args, paths...)
	return c.mustExec(ctx, "chmod", nil, args...)
}

// Copies a tar stream into the container's filesystem.
//
// The contents of r are extracted into destDir by piping them to "tar xf -
// -C destDir" inside the container. Existing files are overwritten.
func (c *Container) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	return c.mustExec(ctx, "tar extract", r, "tar", "xf", "-", "-C", destDir)
}

// Runs a command inside the container and fails when it exits non-zero.
// desc names the operation in the error.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, args ...string) error {
	exitCode, stderr, err := c.execCommand(ctx, stdin, nil, nil, "", args...)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: %s exited with code %d (%s)", ErrCommand, desc, exitCode, stderr)
	}
	return nil
}
