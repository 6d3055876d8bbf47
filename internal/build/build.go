package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cruciblehq/imgforge/internal"
	"github.com/cruciblehq/imgforge/internal/metrics"
	"github.com/cruciblehq/imgforge/internal/paths"
	"github.com/cruciblehq/imgforge/internal/recipe"
	"github.com/cruciblehq/imgforge/internal/runtime"
	"github.com/opencontainers/go-digest"
)

// Controls an image build.
type Options struct {
	Recipe    *recipe.Recipe   // Recipe to build.
	Name      string           // Prefix for container IDs. Defaults to the program name.
	Root      string           // Build context, for resolving the manifest and source.
	Output    string           // Directory for the exported archive.
	Tag       string           // Image name to register in containerd. Single platform only.
	Platforms []string         // Target platforms (e.g., ["linux/amd64"]). Defaults to host.
	NoCache   bool             // Skip the cache lookup. A fresh entry is still written.
	Metrics   *metrics.Metrics // Optional collectors.
}

// Returned after a successful build.
type Result struct {
	Output string  // Directory containing the exported archives.
	Tag    string  // Image name registered in containerd, if any.
	Images []Image // One entry per platform, in build order.
}

// Outcome of a build for a single platform.
type Image struct {
	Platform string        // OCI platform, e.g. "linux/amd64".
	Archive  string        // Path of the exported OCI archive.
	CacheKey digest.Digest // Key of the dependency layer.
	CacheHit bool          // Whether the dependency layer came from the cache.
	Phases   []Phase       // Phases reached, in order.
}

// Builds the recipe against the container runtime.
//
// Platforms are built one after another, each running the full phase
// chain. The first failure stops the build and is returned wrapping
// [ErrBuild] with the platform and the phase that failed. Every container
// started by the build is destroyed before returning.
func Run(ctx context.Context, rt Runtime, opts Options) (*Result, error) {
	if opts.Recipe == nil {
		return nil, fmt.Errorf("%w: no recipe", ErrBuild)
	}
	if err := opts.Recipe.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}
	if opts.Name == "" {
		opts.Name = internal.Name
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.Output == "" {
		opts.Output = paths.Output(opts.Root)
	}
	if len(opts.Platforms) == 0 {
		opts.Platforms = []string{runtime.DefaultPlatform()}
	}
	if opts.Tag != "" && len(opts.Platforms) > 1 {
		return nil, fmt.Errorf("%w: a tag needs a single platform, got %d", ErrBuild, len(opts.Platforms))
	}

	slog.Info("building image",
		"base", opts.Recipe.Base,
		"context", opts.Root,
		"output", opts.Output,
		"platforms", opts.Platforms,
	)

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	result, err := newPipeline(rt, opts).build(ctx)
	if err != nil {
		opts.Metrics.BuildFinished(metrics.ResultFailure)
		return nil, err
	}

	opts.Metrics.BuildFinished(metrics.ResultSuccess)
	return result, nil
}
