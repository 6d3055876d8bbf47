// Package client sends commands to a running imgforge daemon.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/cruciblehq/imgforge/internal/protocol"
)

// Connection settings for the daemon socket.
type Client struct {
	socketPath string
}

// Creates a client for the daemon listening on socketPath.
func New(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Sends one command and decodes the response payload into out.
//
// An error response from the daemon is returned as [ErrRemote] carrying
// the daemon's message. out may be nil when the payload is not needed.
// Cancelling ctx closes the connection, which the daemon observes as a
// disconnect and uses to abort the command.
func (c *Client) Send(ctx context.Context, cmd protocol.Command, payload, out any) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	data, err := protocol.Encode(cmd, payload)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	env, raw, err := protocol.Decode(line)
	if err != nil {
		return err
	}

	switch env.Command {
	case protocol.CmdOK:
		return decodeInto(raw, out)
	case protocol.CmdError:
		res, err := protocol.DecodePayload[protocol.ErrorResult](raw)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRemote, res.Message)
	default:
		return fmt.Errorf("%w: unexpected response %q", protocol.ErrProtocol, env.Command)
	}
}

// Requests a build.
func (c *Client) Build(ctx context.Context, req *protocol.BuildRequest) (*protocol.BuildResult, error) {
	var res protocol.BuildResult
	if err := c.Send(ctx, protocol.CmdBuild, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Queries daemon status.
func (c *Client) Status(ctx context.Context) (*protocol.StatusResult, error) {
	var res protocol.StatusResult
	if err := c.Send(ctx, protocol.CmdStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.Send(ctx, protocol.CmdShutdown, nil, nil)
}

func decodeInto(raw json.RawMessage, out any) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrProtocol, err)
	}
	return nil
}
