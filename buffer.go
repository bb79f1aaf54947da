package websocket

// byteBuffer is a grow-only contiguous byte region with independent read
// and write cursors: capacity grows monotonically to the largest frame
// seen and is never shrunk, and once both cursors reach the end the buffer
// is compacted to the front at zero cost (no copy, just cursor reset). This
// is the primitive that makes the steady-state decode/encode path
// allocation-free: after the first message of a given size, buf never
// needs to grow again for messages of that size or smaller.
//
// valyala/bytebufferpool (an indirect fasthttp dependency already present
// in go.mod) pools whole reset-to-empty buffers for short-lived
// request/response bodies, not a buffer that must persist across many
// partial reads with a live tail of unconsumed bytes, so it doesn't fit
// here: hand-rolling the read-cursor / write-cursor / compact-on-drain
// discipline is what keeps the steady-state decode/encode path allocation
// free.
//
// pinAt marks the start of a fragmented message the decoder is still
// reassembling, as an absolute offset into buf rather than one relative to
// rPos: rPos can run ahead of a message's own first byte whenever an
// interleaved control frame gets consumed past it. -1 means nothing is
// pinned. Any compaction or reset that would otherwise discard or relocate
// bytes at or after pinAt must carry it along instead, or the decoder's
// view of where the in-progress payload starts goes stale the moment the
// buffer moves underneath it.
type byteBuffer struct {
	buf   []byte
	rPos  int
	wPos  int
	pinAt int
}

func newByteBuffer(initialCap int) *byteBuffer {
	return &byteBuffer{buf: make([]byte, initialCap), pinAt: -1}
}

// unread returns the not-yet-consumed bytes.
func (b *byteBuffer) unread() []byte {
	return b.buf[b.rPos:b.wPos]
}

func (b *byteBuffer) len() int {
	return b.wPos - b.rPos
}

// pin marks at as the start of a live fragmented message that must survive
// any later compaction or reset.
func (b *byteBuffer) pin(at int) {
	b.pinAt = at
}

// unpin releases the pinned region once a message has been fully
// assembled (or abandoned after a protocol error).
func (b *byteBuffer) unpin() {
	b.pinAt = -1
}

// pinOffset returns the current absolute offset of the pinned region. Only
// meaningful while pinned; growFor keeps it correct across compaction.
func (b *byteBuffer) pinOffset() int {
	return b.pinAt
}

// floor returns the earliest offset still holding live bytes: the pinned
// message start if one is in progress, otherwise the read cursor.
func (b *byteBuffer) floor() int {
	if b.pinAt >= 0 {
		return b.pinAt
	}
	return b.rPos
}

// advance moves the read cursor forward by n bytes, which must be <= len().
// It compacts the buffer to the front when fully drained, unless a
// fragmented message is pinned before the read cursor: those bytes are
// still live, so the reset is skipped and left for growFor to compact
// relative to the pin instead.
func (b *byteBuffer) advance(n int) {
	b.rPos += n
	if b.rPos > b.wPos {
		panic("websocket: advance past write cursor")
	}
	if b.pinAt < 0 && b.rPos == b.wPos {
		b.rPos = 0
		b.wPos = 0
	}
}

// removeGap deletes gapLen bytes starting at absolute offset at, sliding
// everything from at+gapLen up to wPos left by gapLen. It is used during
// fragmented-message reassembly to erase a continuation frame's header (or
// an interleaved control frame already fully consumed) so that a data
// message's payload ends up contiguous. at is always at or after any
// pinned region, so pinAt itself never needs adjusting here.
func (b *byteBuffer) removeGap(at, gapLen int) {
	if gapLen == 0 {
		return
	}
	copy(b.buf[at:b.wPos-gapLen], b.buf[at+gapLen:b.wPos])
	b.wPos -= gapLen
}

// growFor ensures at least n additional bytes can be written after wPos,
// compacting first if the region at or after floor() has shrunk to
// nothing, then growing the backing array if still insufficient. Growth
// never shrinks capacity and only triggers once per distinct message size,
// keeping the steady-state path allocation-free. Both the reset and the
// compaction step carry pinAt along with rPos/wPos, so a fragmented
// message in progress survives a relocation it never sees directly.
func (b *byteBuffer) growFor(n int) {
	floor := b.floor()
	if floor == b.wPos {
		b.rPos, b.wPos = 0, 0
		if b.pinAt >= 0 {
			b.pinAt = 0
		}
		floor = 0
	}

	if cap(b.buf)-b.wPos >= n {
		return
	}

	// Compact toward the front before considering a reallocation: a buffer
	// with a long-consumed head and a short live tail often already has
	// enough room once that head is reclaimed.
	if floor > 0 {
		copy(b.buf, b.buf[floor:b.wPos])
		b.wPos -= floor
		b.rPos -= floor
		if b.pinAt >= 0 {
			b.pinAt -= floor
		}
		if cap(b.buf)-b.wPos >= n {
			return
		}
	}

	needed := b.wPos + n
	newCap := cap(b.buf) * 2
	if newCap < needed {
		newCap = needed
	}
	grown := make([]byte, newCap)
	copy(grown, b.buf[:b.wPos])
	b.buf = grown
}

// writable returns a slice of at least n bytes starting at the write
// cursor, growing the buffer first if necessary. Callers write into the
// front of the returned slice and then call commit.
func (b *byteBuffer) writable(n int) []byte {
	b.growFor(n)
	return b.buf[b.wPos : b.wPos+n]
}

// commit advances the write cursor by n after the caller has filled the
// slice returned by writable.
func (b *byteBuffer) commit(n int) {
	b.wPos += n
	if b.wPos > len(b.buf) {
		panic("websocket: commit past buffer capacity")
	}
}

func (b *byteBuffer) reset() {
	b.rPos, b.wPos = 0, 0
	b.pinAt = -1
}
