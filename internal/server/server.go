package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cruciblehq/imgforge/internal"
	"github.com/cruciblehq/imgforge/internal/build"
	"github.com/cruciblehq/imgforge/internal/metrics"
	"github.com/cruciblehq/imgforge/internal/paths"
	"github.com/cruciblehq/imgforge/internal/protocol"
	"github.com/cruciblehq/imgforge/internal/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (

	// Group name used to grant socket access. Members of this group can
	// connect to the daemon socket without owning the process.
	socketGroup = internal.Name

	// File mode applied to the Unix socket. Owner and group get read-write
	// (required for connect); others get no access.
	socketMode = 0660

	// Grace period for in-flight metrics requests on shutdown.
	shutdownTimeout = 5 * time.Second
)

// Holds server configuration.
type Config struct {
	SocketPath          string // Override for the Unix socket path. Empty uses the default.
	PIDFile             string // Override for the PID file path. Empty uses the default.
	ContainerdAddress   string // Containerd socket address. Empty uses [internal.DefaultContainerdAddress].
	ContainerdNamespace string // Containerd namespace for images and containers. Empty uses [internal.DefaultContainerdNamespace].
	MetricsAddress      string // TCP address serving /metrics. Empty disables the endpoint.
}

// Listens on a Unix domain socket and dispatches commands.
type Server struct {
	socketPath     string               // Path to the Unix socket file.
	pidFile        string               // Path to the PID file.
	metricsAddress string               // Address of the metrics endpoint, if any.
	runtime        build.Runtime        // Container runtime used by builds.
	closer         io.Closer            // Releases the runtime on shutdown.
	registry       *prometheus.Registry // Registry served at /metrics.
	metrics        *metrics.Metrics     // Build collectors registered on registry.
	metricsServer  *http.Server         // Serves /metrics when enabled.
	listener       net.Listener         // Listener for incoming connections.
	startedAt      time.Time            // Timestamp when the server started.
	builds         int                  // Total number of successful builds.
	failed         int                  // Total number of failed builds.
	done           chan struct{}        // Channel to signal server shutdown.
	stopOnce       sync.Once            // Guards Stop against repeated calls.
	mu             sync.Mutex           // Mutex to protect shared state.
}

// Creates a new server instance connected to containerd.
//
// The socket is not opened until [Start] is called.
func New(cfg Config) (*Server, error) {
	containerdAddress := cfg.ContainerdAddress
	if containerdAddress == "" {
		containerdAddress = internal.DefaultContainerdAddress
	}

	containerdNamespace := cfg.ContainerdNamespace
	if containerdNamespace == "" {
		containerdNamespace = internal.DefaultContainerdNamespace
	}

	rt, err := runtime.New(containerdAddress, containerdNamespace)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}

	return newServer(cfg, build.NewRuntime(rt), rt), nil
}

// Creates a server around an existing runtime.
func newServer(cfg Config, rt build.Runtime, closer io.Closer) *Server {
	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = paths.Socket()
	}

	pidFile := cfg.PIDFile
	if pidFile == "" {
		pidFile = paths.PIDFile()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Server{
		socketPath:     socketPath,
		pidFile:        pidFile,
		metricsAddress: cfg.MetricsAddress,
		runtime:        rt,
		closer:         closer,
		registry:       registry,
		metrics:        metrics.New(registry),
		done:           make(chan struct{}),
	}
}

// Opens the Unix socket and begins accepting connections. The metrics
// endpoint is started too when configured.
func (s *Server) Start() error {
	listener, err := listen(s.socketPath)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startedAt = time.Now()

	if s.metricsAddress != "" {
		if err := s.serveMetrics(); err != nil {
			listener.Close()
			return err
		}
	}

	if err := writePID(s.pidFile); err != nil {
		slog.Warn("failed to write PID file", "error", err)
	}

	slog.Info("server listening on socket", "path", s.socketPath)

	go s.accept()
	return nil
}

// Creates the Unix socket listener, removes any stale socket from a previous
// run, and applies permissions.
func listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServer, err)
	}

	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %w", ErrServer, socketPath, err)
	}

	if err := setSocketPermissions(socketPath); err != nil {
		listener.Close()
		return nil, err
	}

	return listener, nil
}

// Restricts socket access to owner and group. The daemon does not run as
// root; any user in the imgforge group can also connect.
func setSocketPermissions(socketPath string) error {
	if err := os.Chmod(socketPath, socketMode); err != nil {
		return fmt.Errorf("%w: failed to chmod socket %s: %w", ErrServer, socketPath, err)
	}

	if g, err := user.LookupGroup(socketGroup); err == nil {
		if gid, err := strconv.Atoi(g.Gid); err == nil {
			if err := os.Chown(socketPath, -1, gid); err != nil {
				slog.Warn("failed to chgrp socket", "group", socketGroup, "error", err)
			}
		}
	} else {
		slog.Debug("socket group not found, socket accessible to owner only", "group", socketGroup)
	}

	return nil
}

// Starts the HTTP listener for /metrics.
func (s *Server) serveMetrics() error {
	ln, err := net.Listen("tcp", s.metricsAddress)
	if err != nil {
		return fmt.Errorf("%w: metrics: %w", ErrServer, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(s.registry))

	s.metricsServer = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("serving metrics", "address", s.metricsServer.Addr)

	go func() {
		if err := s.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Shuts down the server and cleans up resources. Calling Stop more than
// once has no further effect.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)

		if s.listener != nil {
			s.listener.Close()
		}

		if s.metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			s.metricsServer.Shutdown(ctx)
			cancel()
		}

		if s.closer != nil {
			s.closer.Close()
		}

		os.Remove(s.socketPath)
		os.Remove(s.pidFile)
	})
	return nil
}

// Blocks until the server stops.
func (s *Server) Wait() {
	<-s.done
}

// Returns a channel closed when the server stops.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Accepts connections in a loop until the server shuts down.
func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Error("accept error", "error", err)
				continue
			}
		}

		go s.handle(conn)
	}
}

// Processes a single connection.
//
// Reads one newline-delimited JSON message, dispatches the command, and
// writes the response. The connection is closed after one exchange.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	line, err := reader.ReadBytes('\n')
	if err != nil {
		slog.Error("read error", "error", err)
		return
	}

	env, payload, err := protocol.Decode(line)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	slog.Info("command received", "command", env.Command)

	ctx, cancel := contextWithDisconnect(context.Background(), reader)
	defer cancel()

	s.dispatch(ctx, conn, env.Command, payload)
}

// Routes a command to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, cmd protocol.Command, payload json.RawMessage) {
	switch cmd {
	case protocol.CmdBuild:
		s.handleBuild(ctx, conn, payload)
	case protocol.CmdStatus:
		s.handleStatus(conn)
	case protocol.CmdShutdown:
		s.handleShutdown(conn)
	default:
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{
			Message: fmt.Sprintf("unknown command: %s", cmd),
		})
	}
}

// Writes a JSON envelope response to the connection.
func (s *Server) respond(conn net.Conn, cmd protocol.Command, payload any) {
	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		slog.Error("encode response failed", "error", err)
		return
	}
	data = append(data, '\n')
	conn.Write(data)
}

// Writes the daemon PID to the PID file so the CLI can detect whether the
// daemon is already running and send it signals.
func writePID(file string) error {
	if err := os.MkdirAll(filepath.Dir(file), paths.DefaultDirMode); err != nil {
		return err
	}
	return os.WriteFile(file, []byte(strconv.Itoa(os.Getpid())), paths.DefaultFileMode)
}

// Returns a derived context that is cancelled when the remote end of the
// connection closes.
//
// Detection works by reading from r in a background goroutine. The read blocks
// until the peer closes the connection, at which point it returns an error and
// the derived context is cancelled. No further data is expected on r for the
// lifetime of the returned context; data that arrives anyway is discarded and
// cancels the context early. The returned [context.CancelFunc] must always be
// called to release resources.
func contextWithDisconnect(parent context.Context, r io.Reader) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		buf := make([]byte, 1)
		r.Read(buf)
		cancel()
	}()

	return ctx, cancel
}
