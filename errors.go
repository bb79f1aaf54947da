package websocket

import (
	"errors"
	"fmt"
)

// HandshakeError is returned when the client's opening handshake fails:
// the server responded with a non-101 status, or a required header was
// missing or didn't match.
type HandshakeError struct {
	StatusCode int // 0 when the failure was a header mismatch, not a status
	Msg        string
}

func (e *HandshakeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("websocket: handshake failed: server responded %d: %s", e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("websocket: handshake failed: %s", e.Msg)
}

// ProtocolError marks a framing violation detected while decoding: a
// reserved opcode or RSV bit, a server-masked frame, a bad continuation, an
// oversized or fragmented control frame, invalid UTF-8 in a Text message or
// Close reason, or a 1-byte Close payload. A wire-invalid Close status code
// is reported as *InvalidCloseCodeError instead. Code is the status the
// implementation sends back to the peer before surfacing the error.
type ProtocolError struct {
	Code CloseCode
	Msg  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("websocket: protocol error (close %d): %s", e.Code, e.Msg)
}

// InvalidCloseCodeError marks a Close frame carrying a status code that is
// never valid on the wire (reserved, unassigned, or meaningful only as the
// absence of a frame).
type InvalidCloseCodeError struct {
	Code CloseCode
}

func (e *InvalidCloseCodeError) Error() string {
	return fmt.Sprintf("websocket: invalid close code %d", e.Code)
}

// TooLargeError marks a message whose declared or accumulated payload size
// exceeds ConnOptions.MaxMessageSize.
type TooLargeError struct {
	Size, Limit uint64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("websocket: message of %d bytes exceeds limit of %d", e.Size, e.Limit)
}

// ErrConnectionPoisoned is returned by Receive/Send/Close once a prior call
// on the same Client was cancelled, or failed with an error other than the
// end of the stream. A poisoned connection is never usable again.
var ErrConnectionPoisoned = errors.New("websocket: connection is unusable after a cancelled operation")

// ErrCloseSent is returned by Receive after the caller-initiated close
// handshake (Client.Close) has completed and the stream has no more frames
// to deliver.
var ErrCloseSent = errors.New("websocket: connection closed")
