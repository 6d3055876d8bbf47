package build

import (
	"fmt"
	"hash"
	"os"
	"path"
	"path/filepath"

	"github.com/cruciblehq/imgforge/internal/recipe"
	"github.com/opencontainers/go-digest"
)

// Repository under which dependency layers are committed.
const cacheRepository = "imgforge-cache/deps"

// Returns the image name of the dependency layer for a cache key.
func cacheTag(key digest.Digest) string {
	return cacheRepository + ":" + key.Encoded()
}

// Computes the dependency layer cache key.
//
// The key covers every input of the phases up to dependency installation:
// the base image digest, the platform, the working directory and its
// permissions, the shell, the environment, the upgrade and install
// commands, and the manifest name and contents. Source files other than
// the manifest never enter the key. Every field is length-prefixed so
// adjacent values cannot run together.
func cacheKey(r *recipe.Recipe, base digest.Digest, platform string, manifest []byte) (digest.Digest, error) {
	writable, err := r.WritablePaths()
	if err != nil {
		return "", err
	}

	d := digest.Canonical.Digester()
	h := d.Hash()

	writeField(h, "base", base.String())
	writeField(h, "platform", platform)
	writeField(h, "workdir", path.Clean(r.Workdir.Path), r.Workdir.Mode.String())
	writeField(h, "writable", writable...)
	writeField(h, "shell", r.Shell)
	writeField(h, "env", r.Environ()...)
	writeField(h, "upgrade", r.Upgrade)
	writeField(h, "install", r.Install)
	writeField(h, "manifest", path.Base(filepath.ToSlash(r.Manifest)), string(manifest))

	return d.Digest(), nil
}

// Writes a named, counted list of length-prefixed values.
func writeField(h hash.Hash, name string, values ...string) {
	fmt.Fprintf(h, "%s %d\n", name, len(values))
	for _, v := range values {
		fmt.Fprintf(h, "%d:%s\n", len(v), v)
	}
}

// Reads the manifest from the build context.
func readManifest(root, manifest string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(root, manifest))
	if err != nil {
		return nil, fmt.Errorf("%w: manifest: %w", ErrCopy, err)
	}
	return data, nil
}
