// Package protocol defines the messages exchanged over the daemon socket.
//
// Each connection carries one exchange: the client writes a single
// newline-terminated JSON [Envelope] naming a [Command] and its payload,
// and the daemon answers with one envelope whose command is [CmdOK] or
// [CmdError].
//
//	{"command":"build","payload":{"root":"/src/bot","output":"/src/bot/.imgforge"}}
//	{"command":"ok","payload":{"output":"/src/bot/.imgforge","images":[...]}}
package protocol
