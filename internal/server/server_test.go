package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cruciblehq/imgforge/internal/build"
	"github.com/cruciblehq/imgforge/internal/client"
	"github.com/cruciblehq/imgforge/internal/protocol"
	"github.com/cruciblehq/imgforge/internal/runtime"
)

// Runtime whose registry is unreachable.
type offlineRuntime struct{}

func (offlineRuntime) Pull(context.Context, string, string) (runtime.Image, error) {
	return runtime.Image{}, errors.New("registry unreachable")
}

func (offlineRuntime) HasImage(context.Context, string) (bool, error) { return false, nil }

func (offlineRuntime) RemoveImage(context.Context, string) error { return nil }

func (offlineRuntime) StartContainer(context.Context, string, string, string) (build.Container, error) {
	return nil, errors.New("unreachable")
}

type closeRecorder struct{ closed int }

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

// Starts a server on a short temporary socket path.
func startServer(t *testing.T, cfg Config) (*Server, *client.Client, *closeRecorder) {
	t.Helper()

	dir, err := os.MkdirTemp("", "imgforge")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg.SocketPath = filepath.Join(dir, "d.sock")
	cfg.PIDFile = filepath.Join(dir, "d.pid")

	closer := &closeRecorder{}
	srv := newServer(cfg, offlineRuntime{}, closer)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return srv, client.New(cfg.SocketPath), closer
}

func TestStartWritesSocketAndPID(t *testing.T) {
	srv, _, _ := startServer(t, Config{})

	info, err := os.Stat(srv.socketPath)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	if info.Mode().Perm() != socketMode {
		t.Errorf("socket mode = %o, want %o", info.Mode().Perm(), socketMode)
	}

	pid, err := os.ReadFile(srv.pidFile)
	if err != nil {
		t.Fatalf("pid file: %v", err)
	}
	if len(pid) == 0 {
		t.Error("pid file is empty")
	}
}

func TestStatus(t *testing.T) {
	_, c, _ := startServer(t, Config{})

	res, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !res.Running || res.Pid != os.Getpid() || res.Builds != 0 || res.Failed != 0 {
		t.Errorf("status = %+v", res)
	}
}

func TestBuildFailureIsReported(t *testing.T) {
	_, c, _ := startServer(t, Config{})

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "requirements.txt"), []byte("aiohttp\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := c.Build(context.Background(), &protocol.BuildRequest{Root: root, Platforms: []string{"linux/amd64"}})
	if !errors.Is(err, client.ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if !strings.Contains(err.Error(), "phase base-selected") || !strings.Contains(err.Error(), "registry unreachable") {
		t.Errorf("error = %v", err)
	}

	res, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Builds != 0 {
		t.Errorf("status = %+v, want one failed build", res)
	}
}

func TestBuildRequiresRoot(t *testing.T) {
	_, c, _ := startServer(t, Config{})

	_, err := c.Build(context.Background(), &protocol.BuildRequest{})
	if !errors.Is(err, client.ErrRemote) || !strings.Contains(err.Error(), "build context is required") {
		t.Fatalf("error = %v", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, c, _ := startServer(t, Config{})

	err := c.Send(context.Background(), protocol.Command("image-start"), nil, nil)
	if !errors.Is(err, client.ErrRemote) || !strings.Contains(err.Error(), "unknown command: image-start") {
		t.Fatalf("error = %v", err)
	}
}

func TestShutdown(t *testing.T) {
	srv, c, closer := startServer(t, Config{})

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	srv.Stop()
	if closer.closed != 1 {
		t.Errorf("runtime closed %d times, want 1", closer.closed)
	}
	if _, err := os.Stat(srv.socketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed: %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := startServer(t, Config{MetricsAddress: "127.0.0.1:0"})

	srv.metrics.BuildFinished("success")

	resp, err := http.Get("http://" + srv.metricsServer.Addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `imgforge_builds_total{result="success"} 1`) {
		t.Errorf("builds counter missing:\n%s", body)
	}
}
