package recipe

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Recipe files looked up in the build context, in order, when no file is
// given explicitly.
var lookupNames = []string{"imgforge.yaml", "imgforge.yml", "Dockerfile"}

// Loads a recipe from a YAML file or a Dockerfile.
//
// Files named "Dockerfile", "*.Dockerfile", or "Dockerfile.*" are imported
// with [ParseDockerfile]. Anything else is decoded as YAML on top of
// [Default]. The result is validated.
func Load(file string) (*Recipe, error) {
	if isDockerfile(file) {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
		}
		defer f.Close()
		return ParseDockerfile(f)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	return Parse(data)
}

// Decodes a YAML recipe on top of [Default] and validates it.
func Parse(data []byte) (*Recipe, error) {
	r := Default()
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Finds the recipe for a build context.
//
// An explicit file is resolved relative to the context when not absolute.
// Otherwise the context is searched for imgforge.yaml, imgforge.yml, and
// Dockerfile in that order. A context without any of them builds the
// reference recipe.
func Resolve(context, file string) (*Recipe, error) {
	if file != "" {
		if !filepath.IsAbs(file) && !fileExists(file) {
			file = filepath.Join(context, file)
		}
		return Load(file)
	}

	for _, name := range lookupNames {
		candidate := filepath.Join(context, name)
		if fileExists(candidate) {
			return Load(candidate)
		}
	}

	return Default(), nil
}

// Encodes the recipe as YAML.
func (r *Recipe) Marshal() ([]byte, error) {
	return yaml.Marshal(r)
}

// Reports whether a file name follows Dockerfile naming conventions.
func isDockerfile(file string) bool {
	base := filepath.Base(file)
	return base == "Dockerfile" ||
		strings.HasPrefix(base, "Dockerfile.") ||
		strings.HasSuffix(base, ".Dockerfile") ||
		strings.HasSuffix(base, ".dockerfile")
}

// Returns the keys of m in ascending order.
func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
