package websocket

import (
	"bytes"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"
)

func TestMaskBytesRoundTrip(t *testing.T) {
	key := maskKey{0x12, 0x34, 0x56, 0x78}
	original := []byte("the quick brown fox jumps over the lazy dog, twice over")
	data := append([]byte(nil), original...)

	maskBytes(data, key)
	require.NotEqual(t, original, data)

	maskBytes(data, key)
	require.Equal(t, original, data)
}

// TestMaskBytesMatchesByteAtATime checks the word-at-a-time fast path
// against a naive byte-by-byte reference for a range of lengths and
// starting alignments, since a word-boundary bug would only show up for
// specific (length, offset) combinations.
func TestMaskBytesMatchesByteAtATime(t *testing.T) {
	key := maskKey{0xde, 0xad, 0xbe, 0xef}
	k := uint32(key[0]) | uint32(key[1])<<8 | uint32(key[2])<<16 | uint32(key[3])<<24

	for length := 0; length < 40; length++ {
		for offset := 0; offset < 8; offset++ {
			backing := make([]byte, offset+length+8)
			for i := range backing {
				backing[i] = byte(i)
			}
			region := backing[offset : offset+length]

			naive := make([]byte, length)
			for i := 0; i < length; i++ {
				naive[i] = region[i] ^ keyByteAt(k, i)
			}

			maskBytes(region, key)

			if !bytes.Equal(region, naive) {
				t.Fatalf("length=%d offset=%d: got %x want %x", length, offset, region, naive)
			}
		}
	}
}

func TestMaskBytesQuickCheckInvolution(t *testing.T) {
	f := func(key maskKey, data []byte) bool {
		orig := append([]byte(nil), data...)
		maskBytes(data, key)
		maskBytes(data, key)
		return bytes.Equal(orig, data)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestMaskRNGProducesVariedKeys(t *testing.T) {
	rng := newMaskRNG(1)
	seen := map[maskKey]bool{}
	for i := 0; i < 64; i++ {
		seen[rng.nextKey()] = true
	}
	require.Greater(t, len(seen), 32, "expected a spread of distinct mask keys, not repeats")
}

func TestMaskBytesAllocFree(t *testing.T) {
	key := maskKey{1, 2, 3, 4}
	data := make([]byte, 256)

	allocs := testing.AllocsPerRun(100, func() {
		maskBytes(data, key)
	})
	require.Equal(t, float64(0), allocs)
}
