package recipe

import (
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

// Position of the importer within the build sequence.
type importStage int

const (
	stageStart    importStage = iota // Before FROM.
	stageBase                        // After FROM.
	stageManifest                    // After the manifest COPY.
	stageSource                      // After the source COPY.
)

// Accumulates a recipe while walking Dockerfile instructions.
type importer struct {
	recipe     *Recipe
	stage      importStage
	runs       []string // RUN commands between the manifest and source copies.
	entrypoint []string
	cmd        []string

	shellEntrypoint bool // ENTRYPOINT in shell form ignores CMD.
}

// Imports a Dockerfile written in the shape of a recipe.
//
// Supported instructions, in order: FROM, WORKDIR, RUN chmod (sets the
// workdir mode and writable paths), COPY of the manifest, RUN commands
// (the last one, after splitting on "&&", is the install command; the rest
// form the upgrade command), COPY of the source tree, and ENTRYPOINT/CMD.
// ENV and SHELL may appear anywhere; LABEL and EXPOSE are ignored.
// Anything else fails with [ErrUnsupportedInstruction]. Instructions that
// appear in the wrong phase fail with [ErrInstructionOrder].
func ParseDockerfile(r io.Reader) (*Recipe, error) {
	res, err := parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}

	imp := &importer{
		recipe: &Recipe{
			Workdir: Workdir{Path: "/", Mode: 0o755},
			Source:  DefaultSource,
			Shell:   DefaultShell,
		},
	}

	for _, node := range res.AST.Children {
		if err := imp.instruction(node); err != nil {
			return nil, fmt.Errorf("line %d: %w", node.StartLine, err)
		}
	}

	if err := imp.finish(); err != nil {
		return nil, err
	}

	if err := imp.recipe.Validate(); err != nil {
		return nil, err
	}
	return imp.recipe, nil
}

// Applies a single instruction to the recipe.
func (imp *importer) instruction(node *parser.Node) error {
	if len(node.Flags) > 0 {
		return fmt.Errorf("%w: %s flags %v", ErrUnsupportedInstruction, strings.ToUpper(node.Value), node.Flags)
	}

	switch strings.ToLower(node.Value) {
	case "from":
		return imp.from(node)
	case "workdir":
		return imp.workdir(node)
	case "run":
		return imp.run(node)
	case "copy", "add":
		return imp.copy(node)
	case "env":
		return imp.env(node)
	case "shell":
		return imp.shell(node)
	case "entrypoint":
		imp.entrypoint = processArgs(node)
		imp.shellEntrypoint = !node.Attributes["json"]
		return nil
	case "cmd":
		imp.cmd = processArgs(node)
		return nil
	case "label", "expose":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedInstruction, strings.ToUpper(node.Value))
	}
}

func (imp *importer) from(node *parser.Node) error {
	if imp.stage != stageStart {
		return fmt.Errorf("%w: multi-stage builds", ErrUnsupportedInstruction)
	}
	args := nodeArgs(node)
	if len(args) == 0 {
		return fmt.Errorf("%w: FROM without an image", ErrInvalidRecipe)
	}
	imp.recipe.Base = args[0]
	imp.stage = stageBase
	return nil
}

func (imp *importer) workdir(node *parser.Node) error {
	if imp.stage != stageBase {
		return fmt.Errorf("%w: WORKDIR must follow FROM and precede COPY", ErrInstructionOrder)
	}
	args := nodeArgs(node)
	if len(args) != 1 {
		return fmt.Errorf("%w: WORKDIR takes one path", ErrInvalidRecipe)
	}
	p := args[0]
	if !path.IsAbs(p) {
		p = path.Join(imp.recipe.Workdir.Path, p)
	}
	imp.recipe.Workdir.Path = path.Clean(p)
	return nil
}

func (imp *importer) run(node *parser.Node) error {
	command := strings.Join(nodeArgs(node), " ")

	switch imp.stage {
	case stageBase:
		for _, c := range strings.Split(command, "&&") {
			if strings.HasPrefix(strings.TrimSpace(c), "mkdir ") {
				continue // The workdir is always created.
			}
			if err := imp.chmod(c); err != nil {
				return err
			}
		}
		return nil
	case stageManifest:
		imp.runs = append(imp.runs, command)
		return nil
	case stageSource:
		return fmt.Errorf("%w: RUN after the source copy", ErrInstructionOrder)
	default:
		return fmt.Errorf("%w: RUN before FROM", ErrInstructionOrder)
	}
}

// Reads "chmod [-R] MODE PATH..." into the workdir mode and writable paths.
func (imp *importer) chmod(command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 || fields[0] != "chmod" {
		return fmt.Errorf("%w: RUN before the manifest copy must be chmod, got %q", ErrUnsupportedInstruction, command)
	}

	fields = fields[1:]
	for len(fields) > 0 && strings.HasPrefix(fields[0], "-") {
		fields = fields[1:]
	}
	if len(fields) < 2 {
		return fmt.Errorf("%w: chmod needs a mode and a path", ErrInvalidRecipe)
	}

	mode, err := ParseFileMode(fields[0])
	if err != nil {
		return err
	}
	imp.recipe.Workdir.Mode = mode

	root := imp.recipe.Workdir.Path
	for _, p := range fields[1:] {
		if !path.IsAbs(p) {
			p = path.Join(root, p)
		}
		if p = path.Clean(p); p == root {
			continue
		}
		imp.recipe.Workdir.Writable = append(imp.recipe.Workdir.Writable, p)
	}
	return nil
}

func (imp *importer) copy(node *parser.Node) error {
	args := nodeArgs(node)
	if len(args) != 2 {
		return fmt.Errorf("%w: COPY takes one source and one destination", ErrUnsupportedInstruction)
	}
	src, dest := args[0], args[1]

	if !imp.intoWorkdir(src, dest) {
		return fmt.Errorf("%w: COPY destination %q is not the workdir", ErrUnsupportedInstruction, dest)
	}

	switch {
	case imp.stage == stageBase && path.Clean(src) != ".":
		imp.recipe.Manifest = src
		imp.stage = stageManifest
		return nil
	case imp.stage == stageManifest:
		imp.recipe.Source = src
		imp.stage = stageSource
		return imp.commands()
	default:
		return fmt.Errorf("%w: COPY %s must follow the manifest copy", ErrInstructionOrder, src)
	}
}

// Reports whether a COPY destination places the source in the workdir.
func (imp *importer) intoWorkdir(src, dest string) bool {
	root := imp.recipe.Workdir.Path
	if !path.IsAbs(dest) {
		dest = path.Join(root, dest)
	}
	dest = path.Clean(dest)
	return dest == root || dest == path.Join(root, path.Base(src))
}

// Splits the collected RUN commands into the upgrade and install commands.
func (imp *importer) commands() error {
	var parts []string
	for _, run := range imp.runs {
		for _, c := range strings.Split(run, "&&") {
			if c = strings.TrimSpace(c); c != "" {
				parts = append(parts, c)
			}
		}
	}
	if len(parts) == 0 {
		return fmt.Errorf("%w: no install command between the manifest and source copies", ErrInstructionOrder)
	}

	imp.recipe.Install = parts[len(parts)-1]
	imp.recipe.Upgrade = strings.Join(parts[:len(parts)-1], " && ")
	return nil
}

// Reads ENV key/value pairs. The parser emits each pair as three nodes:
// key, value, and separator.
func (imp *importer) env(node *parser.Node) error {
	args := nodeArgs(node)
	if len(args) == 0 || len(args)%3 != 0 {
		return fmt.Errorf("%w: malformed ENV", ErrInvalidRecipe)
	}
	if imp.recipe.Env == nil {
		imp.recipe.Env = make(map[string]string)
	}
	for i := 0; i < len(args); i += 3 {
		value := args[i+1]
		if unquoted, err := strconv.Unquote(value); err == nil {
			value = unquoted
		}
		imp.recipe.Env[args[i]] = value
	}
	return nil
}

// Reads SHELL ["/bin/bash", "-c"]. Only "-c" style shells are supported.
func (imp *importer) shell(node *parser.Node) error {
	args := nodeArgs(node)
	if len(args) != 2 || args[1] != "-c" {
		return fmt.Errorf("%w: SHELL must be [\"<shell>\", \"-c\"]", ErrUnsupportedInstruction)
	}
	imp.recipe.Shell = args[0]
	return nil
}

// Checks that every phase was present and assembles the entrypoint.
func (imp *importer) finish() error {
	switch imp.stage {
	case stageStart:
		return fmt.Errorf("%w: missing FROM", ErrInvalidRecipe)
	case stageBase:
		return fmt.Errorf("%w: missing manifest COPY", ErrInvalidRecipe)
	case stageManifest:
		return fmt.Errorf("%w: missing source COPY", ErrInvalidRecipe)
	}

	imp.recipe.Entrypoint = append([]string{}, imp.entrypoint...)
	if len(imp.entrypoint) == 0 || !imp.shellEntrypoint {
		imp.recipe.Entrypoint = append(imp.recipe.Entrypoint, imp.cmd...)
	}
	if len(imp.recipe.Entrypoint) == 0 {
		return fmt.Errorf("%w: missing ENTRYPOINT or CMD", ErrInvalidRecipe)
	}
	return nil
}

// Returns the argument values of an instruction.
func nodeArgs(node *parser.Node) []string {
	var args []string
	for n := node.Next; n != nil; n = n.Next {
		args = append(args, n.Value)
	}
	return args
}

// Returns ENTRYPOINT/CMD arguments. The exec (JSON) form is used verbatim;
// the shell form runs through "/bin/sh -c" as Docker does.
func processArgs(node *parser.Node) []string {
	args := nodeArgs(node)
	if node.Attributes["json"] {
		return args
	}
	return []string{"/bin/sh", "-c", strings.Join(args, " ")}
}
