package build

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/cruciblehq/imgforge/internal/recipe"
)

// Reads every entry name and regular file body from a tar stream.
func readTar(t *testing.T, r io.Reader) ([]string, map[string]string) {
	t.Helper()
	tr := tar.NewReader(r)
	var names []string
	bodies := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, bodies
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, hdr.Name)
		if hdr.Typeflag == tar.TypeReg {
			b, _ := io.ReadAll(tr)
			bodies[hdr.Name] = string(b)
		}
	}
}

func TestWriteDirToTar(t *testing.T) {
	root := writeContext(t)
	writeFile(t, filepath.Join(root, "logs/run.log"), "x")
	writeFile(t, filepath.Join(root, "logs/keep.log"), "y")

	m, err := recipe.NewMatcher([]string{".git", "**/*.log", "!logs/keep.log"})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := writeDirToTar(tw, root, root, m); err != nil {
		t.Fatal(err)
	}
	tw.Close()

	names, bodies := readTar(t, &buf)
	want := []string{".dockerignore", "bot/", "bot/main.py", "logs/", "logs/keep.log", "requirements.txt", "start.sh"}
	if !slices.Equal(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
	if bodies["requirements.txt"] != "pyrogram==2.0.106\n" {
		t.Errorf("requirements.txt = %q", bodies["requirements.txt"])
	}
}

func TestWriteDirToTarSubdirectory(t *testing.T) {
	root := writeContext(t)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	m, _ := recipe.NewMatcher([]string{"bot/skip.py"})
	writeFile(t, filepath.Join(root, "bot/skip.py"), "")
	if err := writeDirToTar(tw, root, filepath.Join(root, "bot"), m); err != nil {
		t.Fatal(err)
	}
	tw.Close()

	names, _ := readTar(t, &buf)
	if !slices.Equal(names, []string{"main.py"}) {
		t.Errorf("names = %v, want [main.py]", names)
	}
}

func TestWriteTarEntrySymlink(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "start.sh"), "echo\n")
	if err := os.Symlink("start.sh", filepath.Join(root, "run.sh")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := writeFileToTar(tw, filepath.Join(root, "run.sh"), "run.sh"); err != nil {
		t.Fatal(err)
	}
	tw.Close()

	hdr, err := tar.NewReader(&buf).Next()
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Typeflag != tar.TypeSymlink || hdr.Linkname != "start.sh" {
		t.Errorf("header = %c -> %q, want symlink to start.sh", hdr.Typeflag, hdr.Linkname)
	}
	if hdr.Uid != 0 || hdr.Gid != 0 {
		t.Errorf("owner = %d:%d, want 0:0", hdr.Uid, hdr.Gid)
	}
}

// Container whose extraction fails without reading its input.
type rejectingContainer struct {
	*fakeContainer
}

func (rejectingContainer) CopyTo(context.Context, io.Reader, string) error {
	return errors.New("tar: disk full")
}

func TestStreamTarExtractionFailure(t *testing.T) {
	root := writeContext(t)
	ctr := rejectingContainer{&fakeContainer{rt: newFakeRuntime()}}

	err := copyTree(context.Background(), ctr, root, ".", "/usr/src/app", nil)
	if !errors.Is(err, ErrCopy) {
		t.Fatalf("expected ErrCopy, got %v", err)
	}
}

func TestCopyTreeMissingSource(t *testing.T) {
	ctr := &fakeContainer{rt: newFakeRuntime()}
	err := copyTree(context.Background(), ctr, t.TempDir(), "missing", "/usr/src/app", nil)
	if !errors.Is(err, ErrCopy) {
		t.Fatalf("expected ErrCopy, got %v", err)
	}
}

func TestContextRel(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		path   string
		want   string
		inside bool
	}{
		{filepath.Join(root, ".imgforge"), ".imgforge", true},
		{filepath.Join(root, "out", "dist"), "out/dist", true},
		{root, "", false},
		{filepath.Dir(root), "", false},
		{filepath.Join(filepath.Dir(root), "sibling"), "", false},
	}

	for _, tt := range tests {
		got, ok := contextRel(root, tt.path)
		if ok != tt.inside || got != tt.want {
			t.Errorf("contextRel(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.inside)
		}
	}
}
