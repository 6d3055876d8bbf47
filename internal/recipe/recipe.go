package recipe

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/distribution/reference"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBase       = "mysterysd/wzmlx:latest"
	DefaultWorkdir    = "/usr/src/app"
	DefaultMode       = FileMode(0o777)
	DefaultManifest   = "requirements.txt"
	DefaultUpgrade    = "pip3 install -U pip"
	DefaultInstall    = "pip3 install --no-cache-dir -r requirements.txt"
	DefaultSource     = "."
	DefaultShell      = "/bin/sh"
	DefaultEntrypoint = "bash start.sh"
)

// Describes how an application image is assembled.
type Recipe struct {
	Base       string            `yaml:"base"`                 // Base image reference.
	Workdir    Workdir           `yaml:"workdir"`              // Working directory inside the image.
	Manifest   string            `yaml:"manifest"`             // Dependency manifest, relative to the build context.
	Upgrade    string            `yaml:"upgrade,omitempty"`    // Packaging tool upgrade command. Empty skips the upgrade.
	Install    string            `yaml:"install"`              // Manifest install command.
	Source     string            `yaml:"source"`               // Source tree, relative to the build context.
	Ignore     []string          `yaml:"ignore,omitempty"`     // Patterns excluded from the source copy.
	Shell      string            `yaml:"shell"`                // Shell that runs the upgrade and install commands.
	Env        map[string]string `yaml:"env,omitempty"`        // Environment for commands and the image config.
	Entrypoint []string          `yaml:"entrypoint,flow"`      // Default process of the image.
}

// Working directory of the image and the permissions applied under it.
type Workdir struct {
	Path     string   `yaml:"path"`
	Mode     FileMode `yaml:"mode"`
	Writable []string `yaml:"writable,omitempty"` // Paths receiving Mode. Empty means Path itself.
}

// Unix permission bits, written in YAML as an octal string.
type FileMode uint32

// Formats the mode as a four digit octal string, e.g. "0777".
func (m FileMode) String() string {
	return fmt.Sprintf("%04o", uint32(m))
}

// Encodes the mode as an octal string.
func (m FileMode) MarshalYAML() (any, error) {
	return m.String(), nil
}

// Decodes an octal mode. Quoted and unquoted forms are both read as octal,
// with or without a "0o" prefix.
func (m *FileMode) UnmarshalYAML(value *yaml.Node) error {
	mode, err := ParseFileMode(value.Value)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Parses an octal permission string such as "777", "0777", or "0o777".
func ParseFileMode(s string) (FileMode, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0o"), "0O")
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: mode %q is not octal", ErrInvalidRecipe, s)
	}
	if v&^0o777 != 0 {
		return 0, fmt.Errorf("%w: mode %04o has bits outside 0777", ErrInvalidRecipe, v)
	}
	return FileMode(v), nil
}

// Returns the reference recipe.
func Default() *Recipe {
	return &Recipe{
		Base: DefaultBase,
		Workdir: Workdir{
			Path: DefaultWorkdir,
			Mode: DefaultMode,
		},
		Manifest:   DefaultManifest,
		Upgrade:    DefaultUpgrade,
		Install:    DefaultInstall,
		Source:     DefaultSource,
		Shell:      DefaultShell,
		Entrypoint: strings.Fields(DefaultEntrypoint),
	}
}

// Checks that the recipe can be built.
func (r *Recipe) Validate() error {
	if r.Base == "" {
		return fmt.Errorf("%w: base image is required", ErrInvalidRecipe)
	}
	if _, err := reference.ParseNormalizedNamed(r.Base); err != nil {
		return fmt.Errorf("%w: base image %q: %w", ErrInvalidRecipe, r.Base, err)
	}
	if !path.IsAbs(r.Workdir.Path) {
		return fmt.Errorf("%w: workdir %q must be absolute", ErrInvalidRecipe, r.Workdir.Path)
	}
	if r.Workdir.Mode&^0o777 != 0 {
		return fmt.Errorf("%w: mode %s has bits outside 0777", ErrInvalidRecipe, r.Workdir.Mode)
	}
	if _, err := r.WritablePaths(); err != nil {
		return err
	}
	if r.Manifest == "" {
		return fmt.Errorf("%w: manifest is required", ErrInvalidRecipe)
	}
	if err := checkContextPath("manifest", r.Manifest); err != nil {
		return err
	}
	if err := checkContextPath("source", r.Source); err != nil {
		return err
	}
	if strings.TrimSpace(r.Install) == "" {
		return fmt.Errorf("%w: install command is required", ErrInvalidRecipe)
	}
	if r.Shell == "" {
		return fmt.Errorf("%w: shell is required", ErrInvalidRecipe)
	}
	if len(r.Entrypoint) == 0 || r.Entrypoint[0] == "" {
		return fmt.Errorf("%w: entrypoint is required", ErrInvalidRecipe)
	}
	return nil
}

// Returns the absolute container paths that receive the workdir mode.
//
// Relative entries are resolved against the workdir. Every path must lie
// inside the workdir; widening permissions elsewhere in the image is
// rejected.
func (r *Recipe) WritablePaths() ([]string, error) {
	root := path.Clean(r.Workdir.Path)
	if len(r.Workdir.Writable) == 0 {
		return []string{root}, nil
	}

	out := make([]string, 0, len(r.Workdir.Writable))
	for _, p := range r.Workdir.Writable {
		if !path.IsAbs(p) {
			p = path.Join(root, p)
		}
		p = path.Clean(p)
		if p != root && !strings.HasPrefix(p, root+"/") {
			return nil, fmt.Errorf("%w: writable path %q is outside workdir %q", ErrInvalidRecipe, p, root)
		}
		out = append(out, p)
	}
	return out, nil
}

// Returns the container path of the staged manifest.
func (r *Recipe) ManifestPath() string {
	return path.Join(r.Workdir.Path, path.Base(filepath.ToSlash(r.Manifest)))
}

// Returns the environment as sorted "key=value" strings.
func (r *Recipe) Environ() []string {
	keys := sortedKeys(r.Env)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+r.Env[k])
	}
	return env
}

// Rejects context paths that are absolute or climb out of the context.
func checkContextPath(field, p string) error {
	if p == "" {
		return nil
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	if filepath.IsAbs(p) || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("%w: %s %q must stay inside the build context", ErrInvalidRecipe, field, p)
	}
	return nil
}

// Reports whether the given path names a file that exists.
func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
