package websocket

import (
	"encoding/binary"
	"errors"
)

// Message is a fully assembled, application-level WebSocket message: one or
// more frames sharing an opcode, the last with FIN=1. Payload borrows from
// the connection's receive buffer and is only valid until the next call to
// Client.Receive — callers that need to retain a message past that point
// must copy it.
type Message struct {
	Kind    MessageKind
	Payload []byte

	// CloseCode and CloseReason are populated only when Kind == KindClose.
	// CloseCode is CloseNoStatusReceived when the peer sent an empty Close
	// payload.
	CloseCode   CloseCode
	CloseReason string
}

// errIncomplete signals that rx does not yet hold a full frame; it is never
// returned to callers of Client.Receive, only used internally to drive the
// buffer-refill loop.
var errIncomplete = errors.New("websocket: incomplete frame")

// receiveState tracks whether a fragmented data message is in progress,
// and if so its kind, how many payload bytes have been assembled so far,
// and the cumulative UTF-8 validator state for a Text message. The
// in-progress payload's start offset lives on rx itself (see byteBuffer's
// pinAt) rather than here, since only the buffer knows when that offset
// has to move. It is reset to idle only when a data message's terminal
// frame is processed; control frames that interleave with a fragmented
// message never touch it.
type receiveState struct {
	inProgress bool
	kind       MessageKind
	msgLen     int // bytes assembled so far
	validator  utf8Validator
}

// decoder holds the state the decode algorithm threads across calls: the
// receive buffer it reads from and the fragmentation state.
type decoder struct {
	rx      *byteBuffer
	state   receiveState
	maxSize uint64
}

func newDecoder(rx *byteBuffer, maxSize uint64) *decoder {
	return &decoder{rx: rx, maxSize: maxSize}
}

// decode reads and assembles the next complete Message from rx. It returns errIncomplete
// when rx doesn't yet hold enough bytes to make progress; the caller should
// read more into rx and retry. Any other error is a protocol violation the
// caller must report to the peer before giving up on the connection.
func (d *decoder) decode() (Message, error) {
	rx := d.rx

	for {
		hdr, headerLen, ok, err := parseFrameHeader(rx.unread())
		if err != nil {
			return Message{}, err
		}
		if !ok {
			return Message{}, errIncomplete
		}

		if hdr.payloadLen > d.maxSize && hdr.opcode.IsData() {
			return Message{}, &TooLargeError{Size: hdr.payloadLen, Limit: d.maxSize}
		}
		frameLen := headerLen + int(hdr.payloadLen)
		if rx.len() < frameLen {
			return Message{}, errIncomplete
		}

		if hdr.masked {
			return Message{}, &ProtocolError{Code: CloseProtocolError, Msg: "server sent a masked frame"}
		}

		payloadStart := rx.rPos + headerLen

		if hdr.opcode.IsControl() {
			msg, err := d.decodeControlFrame(hdr, payloadStart)
			rx.advance(frameLen)
			if err != nil {
				return Message{}, err
			}
			return msg, nil
		}

		if err := d.foldDataFrame(hdr, payloadStart); err != nil {
			return Message{}, err
		}

		if hdr.fin {
			if d.state.kind == KindText && !d.state.validator.finish() {
				d.resetState()
				return Message{}, &ProtocolError{Code: CloseInvalidPayloadData, Msg: "text message ends mid-codepoint"}
			}

			start := rx.pinOffset()
			msg := Message{Kind: d.state.kind, Payload: rx.buf[start : start+d.state.msgLen]}
			d.resetState()
			return msg, nil
		}
		// Not final: loop to parse the next frame (another continuation, a
		// control frame, or not-yet-buffered bytes yielding errIncomplete).
	}
}

func (d *decoder) resetState() {
	d.rx.unpin()
	d.state = receiveState{}
}

func (d *decoder) decodeControlFrame(hdr frameHeader, payloadStart int) (Message, error) {
	payload := d.rx.buf[payloadStart : payloadStart+int(hdr.payloadLen)]

	switch hdr.opcode {
	case OpPing:
		return Message{Kind: KindPing, Payload: payload}, nil
	case OpPong:
		return Message{Kind: KindPong, Payload: payload}, nil
	case OpClose:
		code, reason, err := parseClosePayload(payload)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindClose, Payload: payload, CloseCode: code, CloseReason: reason}, nil
	default:
		return Message{}, &ProtocolError{Code: CloseProtocolError, Msg: "unsupported control opcode"}
	}
}

// parseClosePayload parses a Close frame's payload: an empty payload is
// allowed (no status given), a 1-byte payload is always an error, and a
// payload of 2 or more bytes is a big-endian status code followed by a
// UTF-8 reason.
func parseClosePayload(payload []byte) (CloseCode, string, error) {
	switch len(payload) {
	case 0:
		return CloseNoStatusReceived, "", nil
	case 1:
		return 0, "", &ProtocolError{Code: CloseProtocolError, Msg: "close payload of 1 byte is ambiguous"}
	default:
		code := CloseCode(binary.BigEndian.Uint16(payload[:2]))
		if !code.validOnWire() {
			return 0, "", &InvalidCloseCodeError{Code: code}
		}
		reason := payload[2:]
		var v utf8Validator
		if !v.feed(reason) || !v.finish() {
			return 0, "", &ProtocolError{Code: CloseInvalidPayloadData, Msg: "close reason is not valid UTF-8"}
		}
		return code, string(reason), nil
	}
}

// foldDataFrame folds a Text/Binary/Continuation frame into the
// in-progress message: it validates the frame against the in-progress
// message (if any), runs incremental UTF-8 validation for Text, and
// compacts the payload into a contiguous prefix of rx starting at the
// buffer's pinned offset. tail is recomputed from the pin plus the bytes
// assembled so far rather than trusted from rx.rPos, since rPos can have
// run ahead over an interleaved control frame consumed since the last
// fold; rx.rPos is resynced to the new tail at the end of every call.
func (d *decoder) foldDataFrame(hdr frameHeader, payloadStart int) error {
	rx := d.rx
	payloadLen := int(hdr.payloadLen)

	if !d.state.inProgress {
		if hdr.opcode != OpText && hdr.opcode != OpBinary {
			return &ProtocolError{Code: CloseProtocolError, Msg: "expected a new data message, got continuation"}
		}
		d.state.inProgress = true
		d.state.kind = KindText
		if hdr.opcode == OpBinary {
			d.state.kind = KindBinary
		}
		d.state.msgLen = 0
		rx.pin(payloadStart)
		if d.state.kind == KindText {
			d.state.validator.reset()
		}
	} else if hdr.opcode != OpContinuation {
		return &ProtocolError{Code: CloseProtocolError, Msg: "continuation frame must have opcode 0x0"}
	}

	if uint64(d.state.msgLen)+uint64(payloadLen) > d.maxSize {
		return &TooLargeError{Size: uint64(d.state.msgLen) + uint64(payloadLen), Limit: d.maxSize}
	}

	if d.state.kind == KindText {
		if !d.state.validator.feed(rx.buf[payloadStart : payloadStart+payloadLen]) {
			return &ProtocolError{Code: CloseInvalidPayloadData, Msg: "invalid UTF-8 in text message"}
		}
	}

	tail := rx.pinOffset() + d.state.msgLen
	if tail != payloadStart {
		gap := payloadStart - tail
		rx.removeGap(tail, gap)
		payloadStart = tail
	}

	d.state.msgLen += payloadLen
	rx.rPos = tail + payloadLen

	return nil
}

// encoder writes outgoing messages into tx as single-frame messages with
// FIN=1. masked is true for a client encoder and false for a
// server-emulating test harness.
type encoder struct {
	tx     *byteBuffer
	rng    *maskRNG
	masked bool
}

func newEncoder(tx *byteBuffer, rng *maskRNG, masked bool) *encoder {
	return &encoder{tx: tx, rng: rng, masked: masked}
}

func (e *encoder) encode(kind MessageKind, payload []byte) error {
	op := kind.opcode()
	if op.IsControl() && len(payload) > maxControlPayload {
		return &ProtocolError{Code: CloseProtocolError, Msg: "outgoing control frame payload exceeds 125 bytes"}
	}

	hdr := frameHeader{
		fin:        true,
		opcode:     op,
		payloadLen: uint64(len(payload)),
	}

	var key maskKey
	if e.masked {
		key = e.rng.nextKey()
		hdr.masked = true
		hdr.mask = key
	}

	headerLen := hdr.headerLen()
	buf := e.tx.writable(headerLen + len(payload))
	writeFrameHeader(buf, hdr)
	copy(buf[headerLen:], payload)
	if e.masked {
		maskBytes(buf[headerLen:headerLen+len(payload)], key)
	}
	e.tx.commit(headerLen + len(payload))
	return nil
}

// encodeClosePayload builds the `code (u16 BE) || reason` payload for an
// outgoing Close frame.
func encodeClosePayload(code CloseCode, reason string) []byte {
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf[:2], uint16(code))
	copy(buf[2:], reason)
	return buf
}
