package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/cruciblehq/imgforge/internal"
	"github.com/cruciblehq/imgforge/internal/build"
	"github.com/cruciblehq/imgforge/internal/protocol"
	"github.com/cruciblehq/imgforge/internal/recipe"
)

// Handles a build command.
//
// Resolves the recipe inside the requested build context and runs it
// against the container runtime.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := protocol.DecodePayload[protocol.BuildRequest](payload)
	if err != nil {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}
	if req.Root == "" {
		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: "build context is required"})
		return
	}

	result, err := s.build(ctx, req)
	if err != nil {
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()

		s.respond(conn, protocol.CmdError, &protocol.ErrorResult{Message: err.Error()})
		return
	}

	s.mu.Lock()
	s.builds++
	s.mu.Unlock()

	s.respond(conn, protocol.CmdOK, buildResult(result))
}

// Resolves the recipe and runs the build.
func (s *Server) build(ctx context.Context, req *protocol.BuildRequest) (*build.Result, error) {
	rcp, err := recipe.Resolve(req.Root, req.File)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", build.ErrBuild, err)
	}

	return build.Run(ctx, s.runtime, build.Options{
		Recipe:    rcp,
		Root:      req.Root,
		Output:    req.Output,
		Tag:       req.Tag,
		Platforms: req.Platforms,
		NoCache:   req.NoCache,
		Metrics:   s.metrics,
	})
}

// Converts a build result to its wire form.
func buildResult(result *build.Result) *protocol.BuildResult {
	out := &protocol.BuildResult{
		Output: result.Output,
		Tag:    result.Tag,
		Images: make([]protocol.BuildImage, 0, len(result.Images)),
	}
	for _, img := range result.Images {
		phases := make([]string, len(img.Phases))
		for i, p := range img.Phases {
			phases[i] = p.String()
		}
		out.Images = append(out.Images, protocol.BuildImage{
			Platform: img.Platform,
			Archive:  img.Archive,
			CacheKey: img.CacheKey.String(),
			CacheHit: img.CacheHit,
			Phases:   phases,
		})
	}
	return out
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	builds, failed := s.builds, s.failed
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, protocol.CmdOK, &protocol.StatusResult{
		Running: true,
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  uptime.String(),
		Builds:  builds,
		Failed:  failed,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, protocol.CmdOK, nil)
	slog.Info("shutdown requested")

	go s.Stop()
}
