package websocket

// Incremental UTF-8 validation using Björn Höhrmann's transition-table DFA
// (https://bjoern.hoehrmann.de/utf-8/decoder/dfa/, MIT licensed, reproduced
// here in table form). The DFA's state already encodes "how far into a
// multi-byte sequence we are", which is what lets feed() tolerate a
// codepoint split across two WebSocket fragments without re-buffering raw
// bytes.

const (
	utf8Accept = 0
	utf8Reject = 12
)

// utf8ByteClass maps each possible byte value to one of 12 character
// classes, shrinking the transition table below from 256 states-per-row to
// 12.
var utf8ByteClass = [256]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	8, 8, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	10, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 4, 3, 3, 11, 6, 6, 6, 5, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8,
}

// utf8StateTrans maps (state, class) to the next state. state is always one
// of the multiples of 12 below, so the table is indexed by state+class.
var utf8StateTrans = [108]uint8{
	0, 12, 24, 36, 60, 96, 84, 12, 12, 12, 48, 72,
	12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
	12, 0, 12, 12, 12, 12, 12, 0, 12, 0, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 24, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 24, 12, 12, 12, 12,
	12, 24, 12, 12, 12, 12, 12, 12, 12, 24, 12, 12,
	12, 12, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 36, 12, 36, 12, 12,
	12, 36, 12, 12, 12, 12, 12, 12, 12, 12, 12, 12,
}

// utf8Validator is an incremental UTF-8 validator that tolerates a codepoint
// split across calls to feed. A single instance lives for the duration of a
// (possibly fragmented) Text message and must not be reset between
// fragments — only reset() between messages.
type utf8Validator struct {
	state      uint8
	pendingLen int // bytes consumed since the last accepting state, 0-3
}

func (v *utf8Validator) reset() {
	v.state = utf8Accept
	v.pendingLen = 0
}

// feed validates b against the validator's running state. It returns false
// as soon as the bytes seen so far (across this and all prior calls since
// the last reset) can no longer be valid UTF-8, and true otherwise, which
// includes a prefix that still needs more bytes to resolve (see needMore).
func (v *utf8Validator) feed(b []byte) bool {
	for _, c := range b {
		wasAccept := v.state == utf8Accept
		class := utf8ByteClass[c]
		next := utf8StateTrans[int(v.state)+int(class)]
		if next == utf8Reject {
			v.state = next
			return false
		}
		if wasAccept {
			v.pendingLen = 1
		} else {
			v.pendingLen++
		}
		if next == utf8Accept {
			v.pendingLen = 0
		}
		v.state = next
	}
	return true
}

// needMore reports whether the validator has consumed bytes that don't yet
// form a complete, valid prefix — i.e. feed returned true but finish would
// currently fail.
func (v *utf8Validator) needMore() bool {
	return v.state != utf8Accept
}

// finish reports whether the bytes fed since the last reset form complete,
// valid UTF-8 with no dangling partial codepoint.
func (v *utf8Validator) finish() bool {
	return v.state == utf8Accept
}
