package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cruciblehq/imgforge/internal/build"
	"github.com/cruciblehq/imgforge/internal/client"
	"github.com/cruciblehq/imgforge/internal/paths"
	"github.com/cruciblehq/imgforge/internal/protocol"
	"github.com/cruciblehq/imgforge/internal/recipe"
	"github.com/cruciblehq/imgforge/internal/runtime"
)

// Represents the 'imgforge build' command.
type BuildCmd struct {
	Context  string   `arg:"" optional:"" default:"." type:"existingdir" help:"Build context directory."`
	File     string   `short:"f" help:"Recipe file, YAML or Dockerfile. Defaults to imgforge.yaml, imgforge.yml, or Dockerfile in the context." placeholder:"PATH"`
	Output   string   `short:"o" help:"Directory for the exported archive. Defaults to .imgforge in the context." placeholder:"DIR"`
	Tag      string   `short:"t" help:"Also register the image in containerd under this name."`
	Platform []string `help:"Target platform. Repeat for a multi-platform build." placeholder:"OS/ARCH"`
	NoCache  bool     `help:"Rebuild the dependency layer even when it is cached."`
	Daemon   bool     `help:"Build through the running daemon."`
}

// Executes the build command.
//
// The build runs in-process against containerd unless --daemon is given,
// in which case the request is forwarded over the daemon socket. The
// archive path of every platform is printed on success.
func (c *BuildCmd) Run(ctx context.Context) error {
	root, err := filepath.Abs(c.Context)
	if err != nil {
		return err
	}

	output := c.Output
	if output == "" {
		output = paths.Output(root)
	}
	if output, err = filepath.Abs(output); err != nil {
		return err
	}

	if c.Daemon {
		return c.viaDaemon(ctx, root, output)
	}

	r, err := recipe.Resolve(root, c.File)
	if err != nil {
		return err
	}

	rt, err := runtime.New(RootCmd.Containerd, RootCmd.Namespace)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := build.Run(ctx, build.NewRuntime(rt), build.Options{
		Recipe:    r,
		Root:      root,
		Output:    output,
		Tag:       c.Tag,
		Platforms: c.Platform,
		NoCache:   c.NoCache,
	})
	if err != nil {
		return err
	}

	for _, img := range result.Images {
		slog.Info("image built", "platform", img.Platform, "cache", cacheLabel(img.CacheHit), "key", img.CacheKey.Encoded()[:12])
		fmt.Println(img.Archive)
	}
	return nil
}

// Forwards the build to the daemon.
func (c *BuildCmd) viaDaemon(ctx context.Context, root, output string) error {
	file, err := recipeFile(root, c.File)
	if err != nil {
		return err
	}

	result, err := client.New(socketPath()).Build(ctx, &protocol.BuildRequest{
		Root:      root,
		File:      file,
		Output:    output,
		Tag:       c.Tag,
		Platforms: c.Platform,
		NoCache:   c.NoCache,
	})
	if err != nil {
		return err
	}

	for _, img := range result.Images {
		slog.Info("image built", "platform", img.Platform, "cache", cacheLabel(img.CacheHit))
		fmt.Println(img.Archive)
	}
	return nil
}

func cacheLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// Resolves a recipe file flag to an absolute path the way the in-process
// build does: relative to the working directory when the file exists
// there, otherwise relative to the context.
func recipeFile(root, file string) (string, error) {
	if file == "" || filepath.IsAbs(file) {
		return file, nil
	}
	if _, err := os.Stat(file); err == nil {
		return filepath.Abs(file)
	}
	return filepath.Join(root, file), nil
}
