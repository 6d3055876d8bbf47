package build

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/cruciblehq/imgforge/internal/runtime"
	"github.com/opencontainers/go-digest"
)

// In-memory runtime recording every container operation.
type fakeRuntime struct {
	images     map[string]digest.Digest
	log        []string // Operations in call order, e.g. "exec pip3 install".
	started    []*fakeContainer
	removed    []string
	pullErr    error
	failExec   string // Command substring that exits non-zero.
	failStart  string // Image name whose next container fails to start.
	failCopy   string // Extracted entry name that makes CopyTo fail.
	failCommit string // Image name prefix whose commit fails.
	failExport bool   // Export fails after a partial write.
	exported   []runtime.ImageConfig
	committed  map[string]runtime.ImageConfig
	copiedInto map[string][]string // Destination directory to extracted names.
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		images:     make(map[string]digest.Digest),
		committed:  make(map[string]runtime.ImageConfig),
		copiedInto: make(map[string][]string),
	}
}

func (f *fakeRuntime) record(format string, args ...any) {
	f.log = append(f.log, fmt.Sprintf(format, args...))
}

func (f *fakeRuntime) Pull(_ context.Context, ref, platform string) (runtime.Image, error) {
	if f.pullErr != nil {
		return runtime.Image{}, f.pullErr
	}
	name := "docker.io/" + ref
	f.images[name] = digest.FromString(ref + "@" + platform)
	f.record("pull %s", ref)
	return runtime.Image{Name: name, Digest: f.images[name]}, nil
}

func (f *fakeRuntime) HasImage(_ context.Context, name string) (bool, error) {
	_, ok := f.images[name]
	return ok, nil
}

func (f *fakeRuntime) RemoveImage(_ context.Context, name string) error {
	delete(f.images, name)
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeRuntime) StartContainer(_ context.Context, image, id, platform string) (Container, error) {
	if _, ok := f.images[image]; !ok {
		return nil, fmt.Errorf("%w: image %s not found", runtime.ErrRuntime, image)
	}
	if f.failStart != "" && image == f.failStart {
		f.failStart = ""
		return nil, fmt.Errorf("%w: snapshot missing", runtime.ErrRuntime)
	}
	f.record("start %s", image)
	c := &fakeContainer{rt: f, id: id, image: image}
	f.started = append(f.started, c)
	return c, nil
}

// Count of operations whose log line starts with prefix.
func (f *fakeRuntime) count(prefix string) int {
	n := 0
	for _, l := range f.log {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

// Index of the first log line starting with prefix, or -1.
func (f *fakeRuntime) index(prefix string) int {
	for i, l := range f.log {
		if strings.HasPrefix(l, prefix) {
			return i
		}
	}
	return -1
}

type fakeContainer struct {
	rt        *fakeRuntime
	id        string
	image     string
	destroyed bool
}

func (c *fakeContainer) ID() string { return c.id }

func (c *fakeContainer) Exec(_ context.Context, shell, command string, env []string, workdir string) (*runtime.ExecResult, error) {
	c.rt.record("exec %s", command)
	if c.rt.failExec != "" && strings.Contains(command, c.rt.failExec) {
		return &runtime.ExecResult{ExitCode: 1, Stderr: "no matching distribution"}, nil
	}
	return &runtime.ExecResult{}, nil
}

func (c *fakeContainer) MkdirAll(_ context.Context, p string) error {
	c.rt.record("mkdir %s", p)
	return nil
}

func (c *fakeContainer) Chmod(_ context.Context, mode uint32, recursive bool, paths ...string) error {
	flag := ""
	if recursive {
		flag = "-R "
	}
	c.rt.record("chmod %s%04o %s", flag, mode, strings.Join(paths, " "))
	return nil
}

func (c *fakeContainer) CopyTo(_ context.Context, r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(hdr.Name, "/"))
	}
	if c.rt.failCopy != "" && slices.Contains(names, c.rt.failCopy) {
		return fmt.Errorf("%w: tar extract exited with code 2", runtime.ErrCommand)
	}
	c.rt.copiedInto[destDir] = append(c.rt.copiedInto[destDir], names...)
	c.rt.record("copy %s %s", destDir, strings.Join(names, ","))
	return nil
}

func (c *fakeContainer) Stop(context.Context) error {
	c.rt.record("stop %s", c.image)
	return nil
}

func (c *fakeContainer) Destroy(context.Context) {
	c.destroyed = true
}

func (c *fakeContainer) Commit(_ context.Context, name string, cfg runtime.ImageConfig) (runtime.Image, error) {
	if c.rt.failCommit != "" && strings.HasPrefix(name, c.rt.failCommit) {
		return runtime.Image{}, fmt.Errorf("%w: content store unavailable", runtime.ErrRuntime)
	}
	c.rt.images[name] = digest.FromString(name)
	c.rt.committed[name] = cfg
	c.rt.record("commit %s", name)
	return runtime.Image{Name: name, Digest: c.rt.images[name]}, nil
}

// Writes a placeholder archive at path. A failing export leaves a
// truncated file behind.
func (c *fakeContainer) Export(_ context.Context, path, name string, cfg runtime.ImageConfig) error {
	data := []byte("oci-archive " + name)
	if c.rt.failExport {
		os.WriteFile(path, data[:4], 0o644)
		return fmt.Errorf("%w: export interrupted", runtime.ErrRuntime)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	c.rt.exported = append(c.rt.exported, cfg)
	c.rt.record("export %s", name)
	return nil
}
