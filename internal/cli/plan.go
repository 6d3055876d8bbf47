package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/cruciblehq/imgforge/internal/build"
	"github.com/cruciblehq/imgforge/internal/recipe"
)

// Represents the 'imgforge plan' command.
type PlanCmd struct {
	Context string `arg:"" optional:"" default:"." type:"existingdir" help:"Build context directory."`
	File    string `short:"f" help:"Recipe file, YAML or Dockerfile." placeholder:"PATH"`
	Format  string `enum:"text,dockerfile,yaml" default:"text" help:"Output format: ${enum}."`
}

// Executes the plan command. Nothing is pulled or built.
func (c *PlanCmd) Run(ctx context.Context) error {
	root, err := filepath.Abs(c.Context)
	if err != nil {
		return err
	}

	r, err := recipe.Resolve(root, c.File)
	if err != nil {
		return err
	}

	return writePlan(os.Stdout, r, c.Format)
}

// Writes the recipe in the requested format.
func writePlan(w io.Writer, r *recipe.Recipe, format string) error {
	switch format {
	case "dockerfile":
		return r.Dockerfile(w)
	case "yaml":
		data, err := r.Marshal()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return writePhases(w, r)
	}
}

// Writes one line per build phase describing what it will do.
func writePhases(w io.Writer, r *recipe.Recipe) error {
	writable, err := r.WritablePaths()
	if err != nil {
		return err
	}
	targets := strings.Join(writable, " ")

	upgrade := r.Upgrade
	if upgrade == "" {
		upgrade = "(skipped)"
	}

	source := fmt.Sprintf("copy %s to %s, then chmod -R %s %s", r.Source, r.Workdir.Path, r.Workdir.Mode, targets)
	if len(r.Ignore) > 0 {
		source = fmt.Sprintf("copy %s to %s ignoring %s, then chmod -R %s %s", r.Source, r.Workdir.Path, strings.Join(r.Ignore, ", "), r.Workdir.Mode, targets)
	}

	steps := []struct {
		phase  build.Phase
		action string
	}{
		{build.BaseSelected, "pull " + r.Base},
		{build.DirReady, fmt.Sprintf("mkdir -p %s, chmod %s %s", r.Workdir.Path, r.Workdir.Mode, targets)},
		{build.ManifestStaged, fmt.Sprintf("copy %s to %s", r.Manifest, r.ManifestPath())},
		{build.ToolUpgraded, upgrade},
		{build.DepsInstalled, r.Install},
		{build.SourceCopied, source},
		{build.EntrypointSet, "entrypoint " + strings.Join(r.Entrypoint, " ")},
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, s := range steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, s.phase, s.action)
	}
	return tw.Flush()
}
