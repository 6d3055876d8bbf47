// Package build assembles an application image from a recipe.
//
// A build is a linear chain of phases executed inside a containerd
// container: select the base image, establish the working directory and
// its permissions, stage the dependency manifest, upgrade the packaging
// tool, install dependencies, copy the source tree, and declare the
// entrypoint. Any failure aborts the chain and no image is exported.
//
// The phases up to dependency installation form the dependency layer. It
// is committed as a cache image keyed by the base image digest, the
// manifest contents, and every recipe field that affects those phases, so
// a source-only change reuses it while a manifest change always rebuilds
// it. Multi-platform builds repeat the chain per platform, writing each
// archive to a platform-specific output directory.
//
// Container operations go through the [Runtime] and [Container]
// interfaces. [NewRuntime] adapts the containerd runtime.
//
// Example usage:
//
//	result, err := build.Run(ctx, build.NewRuntime(rt), build.Options{
//	    Recipe: recipe.Default(),
//	    Root:   ".",
//	    Output: "dist",
//	})
//	if err != nil {
//	    return err
//	}
package build
