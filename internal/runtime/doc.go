// Package runtime manages build containers backed by containerd.
//
// A [Runtime] connects to a containerd daemon. It pulls base images from
// registries, starts long-running build containers from any image in the
// namespace, and runs images with their own default process. Snapshots use
// fuse-overlayfs so the daemon does not need root.
//
// Each [Container] wraps a running containerd task. Commands run inside it
// through a shell, files are copied in as tar streams, and the filesystem
// can be committed as a new tagged image (used for dependency layer caching)
// or exported as an OCI archive with an updated image config. Containers
// must be destroyed when no longer needed to release their snapshot and
// task resources.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "imgforge")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	base, err := rt.Pull(ctx, "mysterysd/wzmlx:latest", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//
//	ctr, err := rt.StartContainer(ctx, base.Name, "build-1", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//	defer ctr.Destroy(ctx)
//
//	if err := ctr.MkdirAll(ctx, "/usr/src/app"); err != nil {
//	    return err
//	}
//
//	if err := ctr.Stop(ctx); err != nil {
//	    return err
//	}
//	err = ctr.Export(ctx, "dist/image.tar", "app:latest", runtime.ImageConfig{Entrypoint: []string{"bash", "start.sh"}})
package runtime
