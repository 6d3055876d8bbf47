package recipe

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestResolveDefault(t *testing.T) {
	r, err := Resolve(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r, Default()) {
		t.Fatalf("Resolve() = %+v, want Default()", r)
	}
}

func TestResolvePrefersRecipeFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Dockerfile", referenceDockerfile)
	writeFile(t, dir, "imgforge.yaml", "base: alpine:3.20\n")

	r, err := Resolve(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if r.Base != "alpine:3.20" {
		t.Fatalf("Base = %q, want alpine:3.20", r.Base)
	}
}

func TestResolveDockerfile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Dockerfile", referenceDockerfile)

	r, err := Resolve(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(r, Default()) {
		t.Fatalf("Resolve() = %+v, want Default()", r)
	}
}

func TestResolveExplicitRelative(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "prod.Dockerfile", referenceDockerfile)

	r, err := Resolve(dir, "prod.Dockerfile")
	if err != nil {
		t.Fatal(err)
	}
	if r.Base != DefaultBase {
		t.Fatalf("Base = %q", r.Base)
	}
}

func TestIsDockerfile(t *testing.T) {
	for name, want := range map[string]bool{
		"Dockerfile":          true,
		"dir/Dockerfile.prod": true,
		"prod.Dockerfile":     true,
		"imgforge.yaml":       false,
		"Dockerfile.yaml":     true,
	} {
		if got := isDockerfile(name); got != want {
			t.Errorf("isDockerfile(%q) = %v, want %v", name, got, want)
		}
	}
}
