package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cruciblehq/imgforge/internal/paths"
	"github.com/cruciblehq/imgforge/internal/recipe"
	"github.com/cruciblehq/imgforge/internal/runtime"
	"github.com/google/uuid"
)

// Holds shared state for building a recipe on every platform.
type pipeline struct {
	rt         Runtime
	opts       Options
	recipe     *recipe.Recipe
	state      *stepState
	id         string          // Distinguishes this build's staged archives.
	containers []Container     // Containers still alive, destroyed when the build completes.
	staged     []stagedArchive // Exported archives not yet moved into place.
	tagged     bool            // Whether opts.Tag was committed.
}

// Archive written under a hidden name until the whole build succeeds.
type stagedArchive struct {
	staging string
	final   string
}

// Creates a new [pipeline] from the given options.
func newPipeline(rt Runtime, opts Options) *pipeline {
	return &pipeline{
		rt:     rt,
		opts:   opts,
		recipe: opts.Recipe,
		state:  newStepState(opts.Recipe),
		id:     uuid.NewString()[:8],
	}
}

// Builds every platform in order. All containers are destroyed when the
// build completes, successfully or not.
//
// Archives are published only once every platform, and the tag commit,
// succeeded. A failed build leaves no archive and no tag behind.
func (p *pipeline) build(ctx context.Context) (_ *Result, err error) {
	defer p.destroyContainers(context.WithoutCancel(ctx))
	defer func() {
		if err != nil {
			p.discard(context.WithoutCancel(ctx))
		}
	}()

	ex, err := newExcluder(p.recipe, p.opts.Root, p.opts.Output)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	result := &Result{Output: p.opts.Output, Tag: p.opts.Tag}
	for _, platform := range p.opts.Platforms {
		img, err := p.buildPlatform(ctx, platform, ex)
		if err != nil {
			return nil, err
		}
		result.Images = append(result.Images, *img)
	}

	if err := p.publish(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, err)
	}

	return result, nil
}

// Moves every staged archive to its final name. Archives already moved
// are removed again if a later one fails.
func (p *pipeline) publish() error {
	for i, a := range p.staged {
		if err := os.Rename(a.staging, a.final); err != nil {
			for _, done := range p.staged[:i] {
				os.Remove(done.final)
			}
			return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
		}
		slog.Info("image exported", "path", a.final)
	}
	p.staged = nil
	return nil
}

// Removes staged archives and the tag of a failed build.
func (p *pipeline) discard(ctx context.Context) {
	for _, a := range p.staged {
		if err := os.Remove(a.staging); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove staged archive", "path", a.staging, "error", err)
		}
	}
	p.staged = nil

	if p.tagged {
		if err := p.rt.RemoveImage(ctx, p.opts.Tag); err != nil {
			slog.Warn("failed to remove tag of failed build", "image", p.opts.Tag, "error", err)
		}
		p.tagged = false
	}
}

// Progress of the phase chain for one platform.
type platformBuild struct {
	*pipeline
	platform string
	image    *Image
	since    time.Time // When the previous phase was reached.
}

// Runs the phase chain for a single platform. Errors returned from here
// already carry the failing phase.
func (p *pipeline) buildPlatform(ctx context.Context, platform string, ex excluder) (*Image, error) {
	slog.Info("building platform", "platform", platform)

	b := &platformBuild{
		pipeline: p,
		platform: platform,
		image:    &Image{Platform: platform},
		since:    time.Now(),
	}

	base, err := p.rt.Pull(ctx, p.recipe.Base, platform)
	if err != nil {
		return nil, b.fail(BaseSelected, err)
	}
	b.reach(BaseSelected)

	ctr, err := b.dependencyLayer(ctx, base)
	if err != nil {
		return nil, err
	}

	if err := copySource(ctx, ctr, p.recipe, p.opts.Root, ex); err != nil {
		return nil, b.fail(SourceCopied, err)
	}
	b.reach(SourceCopied)

	archive, err := b.declareEntrypoint(ctx, ctr, p.platformOutput(platform))
	if err != nil {
		return nil, b.fail(EntrypointSet, err)
	}
	b.image.Archive = archive
	b.reach(EntrypointSet)

	return b.image, nil
}

// Provides a running container holding the dependency layer.
//
// On a cache hit the container starts from the cached layer. A cached
// layer that cannot be started is removed and rebuilt. On a miss the
// working directory, manifest, upgrade, and install phases run in a fresh
// container from the base image, whose filesystem is then committed as the
// cache entry and restarted from it. DepsInstalled is reached once the
// restarted container runs.
func (b *platformBuild) dependencyLayer(ctx context.Context, base runtime.Image) (Container, error) {
	manifest, err := readManifest(b.opts.Root, b.recipe.Manifest)
	if err != nil {
		return nil, b.fail(ManifestStaged, err)
	}

	key, err := cacheKey(b.recipe, base.Digest, b.platform, manifest)
	if err != nil {
		return nil, b.fail(DirReady, err)
	}
	b.image.CacheKey = key
	tag := cacheTag(key)

	if !b.opts.NoCache {
		if ctr, ok := b.fromCache(ctx, tag); ok {
			return ctr, nil
		}
	}

	ctr, err := b.startContainer(ctx, base.Name, "deps")
	if err != nil {
		return nil, b.fail(DirReady, err)
	}

	if err := establishWorkdir(ctx, ctr, b.recipe); err != nil {
		return nil, b.fail(DirReady, err)
	}
	b.reach(DirReady)

	if err := stageManifest(ctx, ctr, b.recipe, b.opts.Root); err != nil {
		return nil, b.fail(ManifestStaged, err)
	}
	b.reach(ManifestStaged)

	if err := upgradeTool(ctx, ctr, b.recipe, b.state); err != nil {
		return nil, b.fail(ToolUpgraded, err)
	}
	b.reach(ToolUpgraded)

	if err := installDeps(ctx, ctr, b.recipe, b.state); err != nil {
		return nil, b.fail(DepsInstalled, err)
	}

	if err := ctr.Stop(ctx); err != nil {
		return nil, b.fail(DepsInstalled, fmt.Errorf("%w: %w", ErrCache, err))
	}
	if _, err := ctr.Commit(ctx, tag, runtime.ImageConfig{}); err != nil {
		return nil, b.fail(DepsInstalled, fmt.Errorf("%w: %w", ErrCache, err))
	}
	slog.Info("dependency layer cached", "image", tag, "platform", b.platform)
	b.release(ctx, ctr)

	ctr, err = b.startContainer(ctx, tag, "source")
	if err != nil {
		return nil, b.fail(DepsInstalled, err)
	}
	b.reach(DepsInstalled)

	return ctr, nil
}

// Starts a container from the cached dependency layer, if present.
func (b *platformBuild) fromCache(ctx context.Context, tag string) (Container, bool) {
	hit, err := b.rt.HasImage(ctx, tag)
	if err != nil {
		slog.Warn("cache lookup failed", "image", tag, "error", err)
		return nil, false
	}
	b.opts.Metrics.CacheLookup(hit)
	if !hit {
		slog.Debug("cache miss", "image", tag)
		return nil, false
	}

	ctr, err := b.startContainer(ctx, tag, "source")
	if err != nil {
		slog.Warn("cached layer unusable, rebuilding", "image", tag, "error", err)
		if err := b.rt.RemoveImage(ctx, tag); err != nil {
			slog.Warn("failed to remove cached layer", "image", tag, "error", err)
		}
		return nil, false
	}

	slog.Info("dependency layer from cache", "image", tag, "platform", b.platform)
	b.image.CacheHit = true
	for _, phase := range []Phase{DirReady, ManifestStaged, ToolUpgraded, DepsInstalled} {
		b.image.Phases = append(b.image.Phases, phase)
	}
	b.since = time.Now()
	return ctr, true
}

// Stops the container and exports it with the recipe's entrypoint,
// working directory, and environment. The image is also committed under
// the tag when one is set.
//
// The archive is written under a staging name in output; the returned
// final path only exists once the whole build has succeeded.
func (b *platformBuild) declareEntrypoint(ctx context.Context, ctr Container, output string) (string, error) {
	cfg := runtime.ImageConfig{
		Entrypoint: b.recipe.Entrypoint,
		WorkingDir: b.recipe.Workdir.Path,
		Env:        b.recipe.Environ(),
	}

	if err := os.MkdirAll(output, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	if err := ctr.Stop(ctx); err != nil {
		return "", err
	}

	archive := stagedArchive{
		staging: filepath.Join(output, fmt.Sprintf(".%s-%s", runtime.ExportFilename, b.id)),
		final:   filepath.Join(output, runtime.ExportFilename),
	}
	b.staged = append(b.staged, archive)

	if err := ctr.Export(ctx, archive.staging, b.imageName(), cfg); err != nil {
		return "", err
	}

	if b.opts.Tag != "" {
		img, err := ctr.Commit(ctx, b.opts.Tag, cfg)
		if err != nil {
			return "", err
		}
		b.tagged = true
		slog.Info("image tagged", "image", img.Name, "digest", img.Digest)
	}

	return archive.final, nil
}

// Starts a container tracked for destruction.
func (b *platformBuild) startContainer(ctx context.Context, image, role string) (Container, error) {
	ctr, err := b.rt.StartContainer(ctx, image, b.containerID(role), b.platform)
	if err != nil {
		return nil, err
	}
	b.containers = append(b.containers, ctr)
	return ctr, nil
}

// Records that a phase was reached.
func (b *platformBuild) reach(phase Phase) {
	now := time.Now()
	b.opts.Metrics.PhaseDone(phase.String(), now.Sub(b.since))
	b.since = now

	b.image.Phases = append(b.image.Phases, phase)
	slog.Info("phase reached", "phase", phase, "platform", b.platform)
}

// Marks the platform build failed at phase and wraps err with it.
func (b *platformBuild) fail(phase Phase, err error) error {
	slog.Error("phase failed", "phase", phase, "platform", b.platform, "error", err)
	return fmt.Errorf("%w: platform %s, phase %s: %w", ErrBuild, b.platform, phase, err)
}

// Destroys a container and stops tracking it.
func (p *pipeline) release(ctx context.Context, ctr Container) {
	ctr.Destroy(context.WithoutCancel(ctx))
	for i, c := range p.containers {
		if c == ctr {
			p.containers = append(p.containers[:i], p.containers[i+1:]...)
			break
		}
	}
}

// Destroys all tracked containers.
func (p *pipeline) destroyContainers(ctx context.Context) {
	for _, ctr := range p.containers {
		ctr.Destroy(ctx)
	}
	p.containers = nil
}

// Returns a unique container ID for a role, scoped to this build and
// platform.
func (b *platformBuild) containerID(role string) string {
	return fmt.Sprintf("%s-%s-%s-%s", b.opts.Name, platformSlug(b.platform), role, uuid.NewString()[:8])
}

// Returns the name recorded in the exported archive.
func (p *pipeline) imageName() string {
	if p.opts.Tag != "" {
		return p.opts.Tag
	}
	return p.opts.Name + ":latest"
}

// Returns the output directory for a specific platform.
//
// When building for a single platform, the output directory is left as-is
// to preserve the {output}/image.tar convention. For multi-platform
// builds, each platform gets a subdirectory (e.g., {output}/linux-amd64).
func (p *pipeline) platformOutput(platform string) string {
	if len(p.opts.Platforms) == 1 {
		return p.opts.Output
	}
	return filepath.Join(p.opts.Output, platformSlug(platform))
}

// Converts a platform string to a filesystem-safe slug.
//
// Replaces slashes with dashes (e.g., "linux/amd64" becomes "linux-amd64").
func platformSlug(platform string) string {
	return strings.ReplaceAll(platform, "/", "-")
}
