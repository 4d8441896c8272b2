package docker

import (
	"bytes"
	"sync"
)

// truncationMarker is appended to a stream that hit its capture cap, so
// truncation is never silent.
const truncationMarker = "\n[output truncated]\n"

// captureBuffer is a concurrency-safe sink for one demultiplexed stream.
// It truncates deterministically at the cap (the head of the stream is
// kept, never a window from the middle) and it can be sealed: once
// sealed, every write is discarded. The timeout path seals both streams
// before killing the instance, which is what guarantees that bytes
// emitted after forced termination never reach the result.
type captureBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	cap       int64
	truncated bool
	sealed    bool
}

func newCaptureBuffer(capBytes int64) *captureBuffer {
	return &captureBuffer{cap: capBytes}
}

// Write implements io.Writer. It always reports the full length as
// written so the demultiplexer keeps draining the stream.
func (b *captureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed || b.truncated {
		return len(p), nil
	}
	room := b.cap - int64(b.buf.Len())
	if int64(len(p)) <= room {
		b.buf.Write(p)
		return len(p), nil
	}
	b.buf.Write(p[:room])
	b.truncated = true
	return len(p), nil
}

// Seal discards all subsequent writes. Idempotent and safe to call
// concurrently with Write.
func (b *captureBuffer) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// String returns the captured bytes, with the truncation marker appended
// when the cap was hit.
func (b *captureBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + truncationMarker
	}
	return b.buf.String()
}

// Truncated reports whether the cap was hit.
func (b *captureBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
