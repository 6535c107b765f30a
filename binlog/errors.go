package binlog

import (
	"gopkg.in/src-d/go-errors.v1"
)

// Error kinds surfaced by this package. Kinds wrap with a stack trace,
// so every surfaced error carries its origin.
var (
	// ErrTruncated means the stream ended inside a structure that
	// required more bytes.
	ErrTruncated = errors.NewKind("truncated packet: need %d more bytes")

	// ErrProtocol means a packet did not parse under the wire rules.
	ErrProtocol = errors.NewKind("protocol violation: %s")

	// ErrAuthenticationFailed means the server rejected the credentials
	// during the connection phase. Fatal to the session.
	ErrAuthenticationFailed = errors.NewKind("authentication failed: %s")

	// ErrCommandFailed means the server answered a command with an ERR
	// packet after authentication succeeded.
	ErrCommandFailed = errors.NewKind("command failed: %s")

	// ErrMalformedEvent means an event payload did not decode. The
	// stream itself is still usable; the caller logs and continues.
	ErrMalformedEvent = errors.NewKind("malformed %s event: %s")

	// ErrOutOfRange means a requested binlog coordinate does not exist
	// on the server.
	ErrOutOfRange = errors.NewKind("binlog position %s:%d out of range")

	// ErrChecksum means the server kept appending event checksums even
	// though the session asked for them to be suppressed. Streaming
	// with undetected trailing bytes would corrupt every event, so the
	// client refuses to continue.
	ErrChecksum = errors.NewKind("server still sends binlog checksums (algorithm %d)")
)
