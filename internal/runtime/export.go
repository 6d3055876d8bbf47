package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/images/archive"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Filename of the exported OCI archive within an output directory.
const ExportFilename = "image.tar"

// Image config fields set on a committed or exported image.
//
// Zero fields leave the base image's values in place, except that a
// non-empty Entrypoint always clears Cmd so the entrypoint runs with no
// additional arguments.
type ImageConfig struct {
	Entrypoint []string // Default process.
	WorkingDir string   // Directory the default process starts in.
	Env        []string // "key=value" entries merged over the base env.
}

// Applies the config to an OCI image config.
func (ic ImageConfig) apply(config *ocispec.ImageConfig) {
	if len(ic.Entrypoint) > 0 {
		config.Entrypoint = append([]string{}, ic.Entrypoint...)
		config.Cmd = nil
	}
	if ic.WorkingDir != "" {
		config.WorkingDir = ic.WorkingDir
	}
	if len(ic.Env) > 0 {
		config.Env = mergeEnv(config.Env, ic.Env)
	}
}

// Commits the container's filesystem changes as a new image in the
// namespace.
//
// The diff between the container's snapshot and its parent becomes a new
// layer on top of the container's image. The image record is created under
// name, or retargeted when it already exists. The container's task should
// be stopped first so the filesystem is quiescent.
func (c *Container) Commit(ctx context.Context, name string, cfg ImageConfig) (Image, error) {
	// The lease keeps the new layer and the ephemeral blobs from being
	// garbage collected before something references them.
	ctx, done, err := c.client.WithLease(ctx)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer done(context.Background())

	info, layer, diffID, err := c.diff(ctx)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	target, err := c.buildTarget(ctx, info.Image, name, layer, diffID, cfg)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := tagImage(ctx, c.client.ImageService(), name, target); err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("image committed", "image", name, "digest", target.Digest)
	return Image{Name: name, Digest: target.Digest}, nil
}

// Commits the container's filesystem changes and writes the result as an
// OCI archive at path, annotated with the given image name.
//
// The stored image record of the container is never modified. The mutated
// manifest, config, and index are written to the content store as
// ephemeral blobs protected by a lease until the archive is written. On
// failure nothing is left at path.
func (c *Container) Export(ctx context.Context, path, name string, cfg ImageConfig) error {
	// The lease keeps the new layer and the ephemeral blobs from being
	// garbage collected before something references them.
	ctx, done, err := c.client.WithLease(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	defer done(context.Background())

	info, layer, diffID, err := c.diff(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	target, err := c.buildTarget(ctx, info.Image, name, layer, diffID, cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.exportImage(ctx, target, name, path); err != nil {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("image exported", "path", path)
	return nil
}

// Loads the container record and computes the diff between its snapshot
// and the parent.
func (c *Container) diff(ctx context.Context) (containers.Container, ocispec.Descriptor, digest.Digest, error) {
	loaded, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return containers.Container{}, ocispec.Descriptor{}, "", err
	}

	info, err := loaded.Info(ctx)
	if err != nil {
		return containers.Container{}, ocispec.Descriptor{}, "", err
	}

	layer, err := rootfs.CreateDiff(ctx,
		info.SnapshotKey,
		c.client.SnapshotService(info.Snapshotter),
		c.client.DiffService(),
	)
	if err != nil {
		return containers.Container{}, ocispec.Descriptor{}, "", err
	}

	diffID, err := images.GetDiffID(ctx, c.client.ContentStore(), layer)
	if err != nil {
		return containers.Container{}, ocispec.Descriptor{}, "", err
	}

	return info, layer, diffID, nil
}

// Builds the descriptor of the container image plus one layer, with the
// config changes applied. ref prefixes the content store references of
// the written blobs.
func (c *Container) buildTarget(ctx context.Context, imageName, ref string, layer ocispec.Descriptor, diffID digest.Digest, cfg ImageConfig) (ocispec.Descriptor, error) {
	img, err := c.client.ImageService().Get(ctx, imageName)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	target, index, err := c.resolveManifestDescriptor(ctx, img.Target, imageName)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	newManifest, err := c.mutateManifest(ctx, target, ref, func(manifest *ocispec.Manifest, config *ocispec.Image) {
		manifest.Layers = append(manifest.Layers, layer)
		config.RootFS.DiffIDs = append(config.RootFS.DiffIDs, diffID)
		cfg.apply(&config.Config)
	})
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	if index == nil {
		return newManifest, nil
	}

	// Other platforms' layers are not in the content store; the new index
	// references only the updated manifest.
	index.Manifests = []ocispec.Descriptor{newManifest}
	return c.writeBlob(ctx, img.Target.MediaType, index, ref+"-index", content.WithLabels(indexGCLabels(*index)))
}

// Writes the image to an OCI tar archive at the given path, keeping only
// the container's platform. A partly written archive is removed.
func (c *Container) exportImage(ctx context.Context, target ocispec.Descriptor, imageName, path string) (err error) {
	p, err := platforms.Parse(c.platform)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	return c.client.Export(ctx, f,
		archive.WithManifest(target, imageName),
		archive.WithPlatform(platforms.Only(p)),
	)
}

// Resolves the image root descriptor to a platform-specific manifest.
//
// When the root is an OCI index, the manifest matching the container's
// platform is selected and the index is returned alongside it. Registries
// such as Docker Hub may omit platform metadata from index entries; those
// entries are probed through their image config.
func (c *Container) resolveManifestDescriptor(ctx context.Context, root ocispec.Descriptor, imageName string) (ocispec.Descriptor, *ocispec.Index, error) {
	if !images.IsIndexType(root.MediaType) {
		return root, nil, nil
	}

	var idx ocispec.Index
	if err := c.readJSON(ctx, root, &idx); err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	p, err := platforms.Parse(c.platform)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	if i, ok := c.matchManifest(ctx, idx, platforms.OnlyStrict(p)); ok {
		return idx.Manifests[i], &idx, nil
	}

	if len(idx.Manifests) == 0 {
		return ocispec.Descriptor{}, nil, fmt.Errorf("%w: %s", ErrEmptyIndex, imageName)
	}
	return idx.Manifests[0], &idx, nil
}

// Searches the index for a manifest matching the platform. Entries with
// explicit platform metadata are checked before entries without.
func (c *Container) matchManifest(ctx context.Context, idx ocispec.Index, matcher platforms.MatchComparer) (int, bool) {
	for i, m := range idx.Manifests {
		if m.Platform != nil && matcher.Match(*m.Platform) {
			return i, true
		}
	}
	for i, m := range idx.Manifests {
		if m.Platform != nil || !images.IsManifestType(m.MediaType) {
			continue
		}
		if p, ok := c.configPlatform(ctx, m); ok && matcher.Match(p) {
			return i, true
		}
	}
	return 0, false
}

// Reads the platform declared in a manifest's image config.
func (c *Container) configPlatform(ctx context.Context, desc ocispec.Descriptor) (ocispec.Platform, bool) {
	var manifest ocispec.Manifest
	if err := c.readJSON(ctx, desc, &manifest); err != nil {
		return ocispec.Platform{}, false
	}
	var config ocispec.Image
	if err := c.readJSON(ctx, manifest.Config, &config); err != nil {
		return ocispec.Platform{}, false
	}
	return ocispec.Platform{
		OS:           config.OS,
		Architecture: config.Architecture,
		Variant:      config.Variant,
	}, true
}

// Reads the manifest and config, applies the mutation, and writes both
// back to the content store.
func (c *Container) mutateManifest(ctx context.Context, target ocispec.Descriptor, ref string, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	var manifest ocispec.Manifest
	if err := c.readJSON(ctx, target, &manifest); err != nil {
		return ocispec.Descriptor{}, err
	}

	var config ocispec.Image
	if err := c.readJSON(ctx, manifest.Config, &config); err != nil {
		return ocispec.Descriptor{}, err
	}

	mutate(&manifest, &config)

	configDesc, err := c.writeBlob(ctx, manifest.Config.MediaType, config, ref+"-config")
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	manifest.Config = configDesc

	return c.writeBlob(ctx, target.MediaType, manifest, ref+"-manifest", content.WithLabels(manifestGCLabels(manifest)))
}

// Decodes a JSON blob from the content store.
func (c *Container) readJSON(ctx context.Context, desc ocispec.Descriptor, v any) error {
	b, err := content.ReadBlob(ctx, c.client.ContentStore(), desc)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Serializes a value into the content store and returns its descriptor.
func (c *Container) writeBlob(ctx context.Context, mediaType string, v any, ref string, opts ...content.Opt) (ocispec.Descriptor, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}
	if err := content.WriteBlob(ctx, c.client.ContentStore(), ref, bytes.NewReader(b), desc, opts...); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// Containerd GC reference labels from a manifest to its config and layers.
func manifestGCLabels(m ocispec.Manifest) map[string]string {
	labels := map[string]string{
		"containerd.io/gc.ref.content.config": m.Config.Digest.String(),
	}
	for i, layer := range m.Layers {
		labels[fmt.Sprintf("containerd.io/gc.ref.content.l.%d", i)] = layer.Digest.String()
	}
	return labels
}

// Containerd GC reference labels from an index to its manifests.
func indexGCLabels(idx ocispec.Index) map[string]string {
	labels := make(map[string]string, len(idx.Manifests))
	for i, m := range idx.Manifests {
		labels[fmt.Sprintf("containerd.io/gc.ref.content.m.%d", i)] = m.Digest.String()
	}
	return labels
}
