package build

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/cruciblehq/imgforge/internal/recipe"
)

// Execution context shared by the commands of a build.
//
// Every command runs through the same shell, in the working directory,
// with the recipe environment. The state is derived from the recipe once
// and never mutated by a command.
type stepState struct {
	shell   string
	workdir string
	env     map[string]string
}

// Creates a [stepState] from the recipe.
func newStepState(r *recipe.Recipe) *stepState {
	s := &stepState{
		shell:   r.Shell,
		workdir: r.Workdir.Path,
		env:     make(map[string]string, len(r.Env)),
	}
	if s.shell == "" {
		s.shell = recipe.DefaultShell
	}
	maps.Copy(s.env, r.Env)
	return s
}

// Formats the environment as sorted "key=value" strings.
func (s *stepState) environ() []string {
	env := make([]string, 0, len(s.env))
	for _, k := range slices.Sorted(maps.Keys(s.env)) {
		env = append(env, k+"="+s.env[k])
	}
	return env
}

// Runs a shell command in the working directory. A non-zero exit code
// fails with [ErrCommandFailed] carrying the code and stderr.
func (s *stepState) run(ctx context.Context, ctr Container, command string) error {
	slog.Debug("run", "command", command, "shell", s.shell, "workdir", s.workdir)

	result, err := ctr.Exec(ctx, s.shell, command, s.environ(), s.workdir)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%w: %q: exit code %d: %s", ErrCommandFailed, command, result.ExitCode, result.Stderr)
	}
	return nil
}
