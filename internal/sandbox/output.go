package sandbox

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// TruncationMarker terminates output that hit the byte limit.
const TruncationMarker = "...[output truncated]"

// limitedBuffer collects printed lines up to max bytes. Once full, further
// writes are dropped and the marker is appended, all within max.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       strings.Builder
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

// WriteLine appends msg and a newline.
func (b *limitedBuffer) WriteLine(msg string) {
	b.write(msg + "\n")
}

func (b *limitedBuffer) write(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return
	}
	if b.buf.Len()+len(s) <= b.max {
		b.buf.WriteString(s)
		return
	}

	b.truncated = true
	room := b.max - len(TruncationMarker) - b.buf.Len()
	if room < 0 {
		// Not even the marker fits after what is already buffered; rewind.
		kept := b.buf.String()
		limit := b.max - len(TruncationMarker)
		if limit < 0 {
			limit = 0
		}
		kept = cutRunes(kept, limit)
		b.buf.Reset()
		b.buf.WriteString(kept)
		room = 0
	}
	b.buf.WriteString(cutRunes(s, room))
	marker := TruncationMarker
	if len(marker) > b.max {
		marker = marker[:b.max]
	}
	b.buf.WriteString(marker)
}

// String returns the collected output.
func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Truncated reports whether any output was dropped.
func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// cutRunes returns the longest prefix of s no longer than n bytes that does
// not split a UTF-8 sequence.
func cutRunes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
