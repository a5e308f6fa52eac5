// Package cursor provides a bounds-checked, forward-only view over an
// in-memory byte buffer. It has no knowledge of GIF structure; it only
// guarantees that every read either succeeds in full or reports
// ErrShortBuffer without advancing.
package cursor

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when a read would run past the end of the
// underlying buffer.
var ErrShortBuffer = errors.New("gif: short buffer")

// Cursor is a bounds-checked reader over a borrowed byte slice. The zero
// value is not usable; construct one with New.
type Cursor struct {
	buf []byte
	pos int
}

// New returns a Cursor over buf, starting at offset 0. buf is borrowed for
// the lifetime of the Cursor; it is never copied or mutated.
func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// Pos returns the current offset into the original buffer.
func (c *Cursor) Pos() int {
	return c.pos
}

// PeekU8 returns the next byte without advancing the cursor.
func (c *Cursor) PeekU8() (byte, error) {
	if c.Remaining() < 1 {
		return 0, ErrShortBuffer
	}
	return c.buf[c.pos], nil
}

// ReadU8 reads and consumes one byte.
func (c *Cursor) ReadU8() (byte, error) {
	if c.Remaining() < 1 {
		return 0, ErrShortBuffer
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// ReadU16LE reads and consumes two bytes as a little-endian uint16.
func (c *Cursor) ReadU16LE() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos : c.pos+2])
	c.pos += 2
	return v, nil
}

// Slice returns a bounded view of the next n bytes and advances past them.
// The returned slice aliases the original buffer; callers must not retain
// it past the decode that produced it.
func (c *Cursor) Slice(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, ErrShortBuffer
	}
	s := c.buf[c.pos : c.pos+n]
	c.pos += n
	return s, nil
}
