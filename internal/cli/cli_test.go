package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/cruciblehq/imgforge/internal"
	"github.com/cruciblehq/imgforge/internal/recipe"
)

func TestParseBuild(t *testing.T) {
	dir := t.TempDir()

	parser, err := newParser(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	_, err = parser.Parse([]string{
		"build", dir,
		"-f", "Dockerfile",
		"-t", "mirror-bot:latest",
		"--platform", "linux/amd64",
		"--platform", "linux/arm64",
		"--no-cache",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	b := RootCmd.Build
	if b.Context != dir || b.File != "Dockerfile" || b.Tag != "mirror-bot:latest" || !b.NoCache {
		t.Errorf("build = %+v", b)
	}
	if !slices.Equal(b.Platform, []string{"linux/amd64", "linux/arm64"}) {
		t.Errorf("platforms = %v", b.Platform)
	}
}

func TestParseDefaults(t *testing.T) {
	t.Setenv("IMGFORGE_CONTAINERD", "")
	t.Setenv("IMGFORGE_NAMESPACE", "")
	os.Unsetenv("IMGFORGE_CONTAINERD")
	os.Unsetenv("IMGFORGE_NAMESPACE")

	parser, err := newParser(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"version"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if RootCmd.Containerd != internal.DefaultContainerdAddress {
		t.Errorf("containerd = %q", RootCmd.Containerd)
	}
	if RootCmd.Namespace != internal.DefaultContainerdNamespace {
		t.Errorf("namespace = %q", RootCmd.Namespace)
	}
}

func TestParseEnv(t *testing.T) {
	t.Setenv("IMGFORGE_CONTAINERD", "/tmp/containerd.sock")
	t.Setenv("IMGFORGE_NAMESPACE", "ci")

	parser, err := newParser(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"status"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if RootCmd.Containerd != "/tmp/containerd.sock" || RootCmd.Namespace != "ci" {
		t.Errorf("containerd = %q, namespace = %q", RootCmd.Containerd, RootCmd.Namespace)
	}
}

func TestParsePlanFormat(t *testing.T) {
	parser, err := newParser(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"plan", t.TempDir(), "--format", "json"}); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestWritePhases(t *testing.T) {
	var buf bytes.Buffer
	if err := writePlan(&buf, recipe.Default(), "text"); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 7 {
		t.Fatalf("lines = %d, want 7:\n%s", len(lines), buf.String())
	}

	want := []struct {
		phase  string
		action string
	}{
		{"base-selected", "pull mysterysd/wzmlx:latest"},
		{"dir-ready", "mkdir -p /usr/src/app, chmod 0777 /usr/src/app"},
		{"manifest-staged", "copy requirements.txt to /usr/src/app/requirements.txt"},
		{"tool-upgraded", "pip3 install -U pip"},
		{"deps-installed", "pip3 install --no-cache-dir -r requirements.txt"},
		{"source-copied", "copy . to /usr/src/app, then chmod -R 0777 /usr/src/app"},
		{"entrypoint-set", "entrypoint bash start.sh"},
	}
	for i, w := range want {
		if !strings.Contains(lines[i], w.phase) || !strings.HasSuffix(lines[i], w.action) {
			t.Errorf("line %d = %q, want phase %q and action %q", i+1, lines[i], w.phase, w.action)
		}
	}
}

func TestWritePlanDockerfile(t *testing.T) {
	var buf bytes.Buffer
	if err := writePlan(&buf, recipe.Default(), "dockerfile"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "FROM mysterysd/wzmlx:latest\n") {
		t.Errorf("dockerfile:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), `ENTRYPOINT ["bash","start.sh"]`) {
		t.Errorf("dockerfile lacks the entrypoint:\n%s", buf.String())
	}
}

func TestWritePlanYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := writePlan(&buf, recipe.Default(), "yaml"); err != nil {
		t.Fatal(err)
	}

	r, err := recipe.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Install != recipe.DefaultInstall {
		t.Errorf("install = %q", r.Install)
	}
}

func TestRecipeFile(t *testing.T) {
	root := t.TempDir()

	got, err := recipeFile(root, "")
	if err != nil || got != "" {
		t.Errorf("empty = %q, %v", got, err)
	}

	got, _ = recipeFile(root, "/abs/imgforge.yaml")
	if got != "/abs/imgforge.yaml" {
		t.Errorf("absolute = %q", got)
	}

	got, _ = recipeFile(root, "does-not-exist.yaml")
	if got != filepath.Join(root, "does-not-exist.yaml") {
		t.Errorf("context-relative = %q", got)
	}
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Code: 143}

	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != 143 {
		t.Fatalf("errors.As failed for %v", err)
	}
	if err.Error() != "exit status 143" {
		t.Errorf("Error() = %q", err.Error())
	}
}
