package runtime

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (

	// Snapshotter used for container filesystems. fuse-overlayfs provides
	// overlay semantics without mount(2), so imgforge runs as a regular user.
	snapshotter = "fuse-overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Manages the containerd client and provides image and container operations.
type Runtime struct {
	client *containerd.Client
}

// An image stored in the containerd namespace.
type Image struct {
	Name   string        // Fully qualified name, e.g. "docker.io/library/alpine:3.20".
	Digest digest.Digest // Digest of the image's root descriptor.
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all images and containers. The runtime must be
// closed when no longer needed.
func New(address, namespace string) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return &Runtime{client: client}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Fetches an image from its registry and unpacks it for the platform.
//
// Short references are normalized the way Docker does it ("alpine" becomes
// "docker.io/library/alpine:latest"). An unresolvable reference fails with
// [ErrPull]; there is no retry.
func (rt *Runtime) Pull(ctx context.Context, ref, platform string) (Image, error) {
	named, err := reference.ParseDockerRef(ref)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %s: %w", ErrPull, ref, err)
	}

	img, err := rt.client.Pull(ctx, named.String(),
		containerd.WithPlatform(platform),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(snapshotter),
	)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %s: %w", ErrPull, named, err)
	}

	slog.Debug("image pulled", "image", img.Name(), "digest", img.Target().Digest)

	return Image{Name: img.Name(), Digest: img.Target().Digest}, nil
}

// Reports whether an image with the given name exists in the namespace.
func (rt *Runtime) HasImage(ctx context.Context, name string) (bool, error) {
	if _, err := rt.client.ImageService().Get(ctx, name); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return true, nil
}

// Removes an image record. Removing a missing image is not an error.
func (rt *Runtime) RemoveImage(ctx context.Context, name string) error {
	if err := rt.client.ImageService().Delete(ctx, name); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	slog.Debug("image removed", "image", name)
	return nil
}

// Starts a build container from an image in the namespace.
//
// The image is unpacked for the platform (a no-op for layers already in
// the snapshotter), a container is created with a fresh snapshot, and a
// long-running task (sleep infinity) is started so that later Exec calls
// have a running process to attach to. Any container left over with the
// same ID is removed first. Building for a platform other than the host
// requires QEMU / binfmt_misc support in the kernel.
func (rt *Runtime) StartContainer(ctx context.Context, name, id, platform string) (*Container, error) {
	if err := rt.unpackImage(ctx, name, platform); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	c := &Container{
		client:   rt.client,
		id:       id,
		platform: platform,
	}

	c.remove(ctx)

	image, err := rt.resolveImage(ctx, name, platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	ctr, err := c.create(ctx, image, buildProcess)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", name, "platform", platform)

	return c, nil
}

// Unpacks the image layers for the target platform into the snapshotter.
func (rt *Runtime) unpackImage(ctx context.Context, name, platform string) error {
	image, err := rt.resolveImage(ctx, name, platform)
	if err != nil {
		return err
	}

	return image.Unpack(ctx, snapshotter)
}

// Looks up an image and selects the manifest for the given platform.
func (rt *Runtime) resolveImage(ctx context.Context, name, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := rt.client.ImageService().Get(ctx, name)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(rt.client, img, platforms.Only(p)), nil
}

// Points an image name at a target descriptor, creating or updating the
// record.
func tagImage(ctx context.Context, is images.Store, name string, target ocispec.Descriptor) error {
	img := images.Image{
		Name:   name,
		Target: target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	return nil
}

// Returns the OCI platform of the host, e.g. "linux/amd64".
func DefaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}
