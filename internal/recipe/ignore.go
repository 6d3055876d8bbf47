package recipe

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Ignore file read from the build context.
const ignoreFile = ".dockerignore"

// Single exclusion rule.
type ignorePattern struct {
	glob   string
	negate bool // Re-includes paths matched by earlier patterns.
}

// Decides which context paths are left out of the source copy.
//
// Patterns follow .dockerignore rules: they are matched against slash
// separated paths relative to the context, "**" matches any number of
// directories, a leading "!" re-includes a path, and the last matching
// pattern wins. A pattern that matches a directory excludes everything
// beneath it.
type Matcher struct {
	patterns []ignorePattern
	keep     map[string]bool
}

// Creates a [Matcher] from patterns. Paths listed in keep are never
// excluded.
func NewMatcher(patterns []string, keep ...string) (*Matcher, error) {
	m := &Matcher{keep: make(map[string]bool, len(keep))}
	for _, k := range keep {
		m.keep[cleanRel(k)] = true
	}

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}

		negate := strings.HasPrefix(p, "!")
		p = cleanRel(strings.TrimPrefix(p, "!"))

		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: bad ignore pattern %q", ErrInvalidRecipe, p)
		}
		m.patterns = append(m.patterns, ignorePattern{glob: p, negate: negate})
	}

	return m, nil
}

// Builds the matcher for a build context.
//
// The context's .dockerignore is read when present, followed by the
// recipe's own ignore patterns. The manifest is always kept.
func (r *Recipe) IgnoreMatcher(context string) (*Matcher, error) {
	patterns, err := readIgnoreFile(filepath.Join(context, ignoreFile))
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, r.Ignore...)
	return NewMatcher(patterns, r.Manifest)
}

// Reports whether a context-relative path is excluded.
func (m *Matcher) Match(rel string) bool {
	rel = cleanRel(rel)
	if rel == "." || m.keep[rel] {
		return false
	}

	excluded := false
	for _, p := range m.patterns {
		if matchSelfOrParent(p.glob, rel) {
			excluded = !p.negate
		}
	}
	return excluded
}

// Reports whether any pattern re-includes paths. Without negations an
// excluded directory can be skipped whole.
func (m *Matcher) Negates() bool {
	for _, p := range m.patterns {
		if p.negate {
			return true
		}
	}
	return false
}

// Reports whether the pattern matches rel or any of its parent directories.
func matchSelfOrParent(glob, rel string) bool {
	for p := rel; p != "." && p != "/"; p = path.Dir(p) {
		if ok, _ := doublestar.Match(glob, p); ok {
			return true
		}
	}
	return false
}

// Reads ignore patterns, one per line. A missing file yields no patterns.
func readIgnoreFile(file string) ([]string, error) {
	f, err := os.Open(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	return patterns, nil
}

// Normalizes a context-relative path to clean slash form without a
// leading "/" or "./".
func cleanRel(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	return strings.TrimPrefix(p, "/")
}
