package build

import (
	"context"
	"fmt"
	"path"
	"slices"

	"github.com/cruciblehq/imgforge/internal/recipe"
)

// Creates the working directory and the writable paths, then applies the
// recipe mode to each writable path.
func establishWorkdir(ctx context.Context, ctr Container, r *recipe.Recipe) error {
	writable, err := r.WritablePaths()
	if err != nil {
		return err
	}

	dirs := writable
	if root := path.Clean(r.Workdir.Path); !slices.Contains(writable, root) {
		dirs = append([]string{root}, writable...)
	}

	for _, dir := range dirs {
		if err := ctr.MkdirAll(ctx, dir); err != nil {
			return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
		}
	}

	if err := ctr.Chmod(ctx, uint32(r.Workdir.Mode), false, writable...); err != nil {
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	return nil
}

// Copies only the manifest into the working directory.
func stageManifest(ctx context.Context, ctr Container, r *recipe.Recipe, root string) error {
	return copyFile(ctx, ctr, root, r.Manifest, r.Workdir.Path)
}

// Runs the packaging tool upgrade. An empty command is a no-op.
func upgradeTool(ctx context.Context, ctr Container, r *recipe.Recipe, state *stepState) error {
	if r.Upgrade == "" {
		return nil
	}
	return state.run(ctx, ctr, r.Upgrade)
}

// Runs the dependency install against the staged manifest.
func installDeps(ctx context.Context, ctr Container, r *recipe.Recipe, state *stepState) error {
	return state.run(ctx, ctr, r.Install)
}

// Copies the source tree into the working directory over the staged
// manifest, then reapplies the mode recursively so every copied file under
// a writable path carries it.
func copySource(ctx context.Context, ctr Container, r *recipe.Recipe, root string, ex excluder) error {
	src := r.Source
	if src == "" {
		src = recipe.DefaultSource
	}

	if err := copyTree(ctx, ctr, root, path.Clean(src), r.Workdir.Path, ex); err != nil {
		return err
	}

	writable, err := r.WritablePaths()
	if err != nil {
		return err
	}
	if err := ctr.Chmod(ctx, uint32(r.Workdir.Mode), true, writable...); err != nil {
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	return nil
}
