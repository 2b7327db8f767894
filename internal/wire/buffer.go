package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Iron-Ham/bnbhub/internal/errors"
)

// RescaleFunc observes a transfer buffer growing from one capacity to
// another.
type RescaleFunc func(from, to int)

// Buffer is a reusable transfer buffer sized for the negotiated maximum
// record. A record that does not fit grows the buffer instead of failing;
// the growth is reported so it can be logged.
type Buffer struct {
	data      []byte
	rescales  int
	onRescale RescaleFunc
}

// NewBuffer creates a buffer with the given initial capacity.
func NewBuffer(capacity int, onRescale RescaleFunc) *Buffer {
	return &Buffer{
		data:      make([]byte, 0, capacity),
		onRescale: onRescale,
	}
}

// Reset returns the buffer's storage, emptied, for appending a new record.
func (b *Buffer) Reset() []byte {
	return b.data[:0]
}

// Keep stores the record built on a slice returned by Reset. If appending
// had to reallocate, the larger storage is adopted and the rescale is
// reported.
func (b *Buffer) Keep(record []byte) {
	from := cap(b.data)
	b.data = record
	if cap(record) > from {
		b.rescales++
		if b.onRescale != nil {
			b.onRescale(from, cap(record))
		}
	}
}

// Copy returns a copy of the current record.
func (b *Buffer) Copy() []byte {
	return bytes.Clone(b.data)
}

// Cap returns the current capacity.
func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Rescales returns how many times the buffer has grown.
func (b *Buffer) Rescales() int {
	return b.rescales
}

// Frame prefixes data with its length as a big-endian uint32. Startup
// broadcasts travel framed.
func Frame(data []byte) []byte {
	out := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	return append(out, data...)
}

// Unframe strips the length prefix added by Frame.
func Unframe(framed []byte) ([]byte, error) {
	if len(framed) < 4 {
		return nil, errors.NewProtocolError("frame has no length prefix", errors.ErrTruncated)
	}
	n := binary.BigEndian.Uint32(framed)
	body := framed[4:]
	if uint32(len(body)) != n {
		return nil, errors.NewProtocolError(
			fmt.Sprintf("frame declares %d bytes, carries %d", n, len(body)), errors.ErrTruncated)
	}
	return body, nil
}
