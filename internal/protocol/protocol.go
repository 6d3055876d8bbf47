package protocol

import (
	"encoding/json"
	"fmt"
)

// Name of a request or response.
type Command string

const (
	CmdBuild    Command = "build"    // Build an image.
	CmdStatus   Command = "status"   // Report daemon status.
	CmdShutdown Command = "shutdown" // Stop the daemon.
	CmdOK       Command = "ok"       // Successful response.
	CmdError    Command = "error"    // Failed response.
)

// Message frame on the socket.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encodes a command and its payload as an envelope. A nil payload is
// omitted. The trailing newline is left to the caller.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		env.Payload = data
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return data, nil
}

// Decodes an envelope and returns it along with its raw payload.
func Decode(data []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if env.Command == "" {
		return nil, nil, fmt.Errorf("%w: missing command", ErrProtocol)
	}
	return &env, env.Payload, nil
}

// Decodes a payload into a value of type T. An empty payload yields the
// zero value.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	v := new(T)
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return v, nil
}
