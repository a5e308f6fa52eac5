// Package subblock turns a GIF sub-block chain — repeated (length byte,
// length bytes of payload) pairs terminated by a zero-length block — into
// a flat byte stream.
package subblock

import (
	"errors"

	"github.com/driftwood-labs/gifcore/internal/cursor"
)

// ErrTruncatedChain is returned when the cursor runs out of data before
// the chain's terminating zero-length block is reached.
var ErrTruncatedChain = errors.New("gif: truncated sub-block chain")

// Reader presents a sub-block chain as a sequence of bytes via NextByte,
// and allows discarding the remainder via SkipChain. The zero value is not
// usable; construct one with New.
type Reader struct {
	c       *cursor.Cursor
	block   []byte // current sub-block payload, not yet fully consumed
	off     int    // read offset into block
	closed  bool   // saw the terminating zero-length block
	errored bool   // a prior read already failed; stay failed
}

// New returns a Reader that will pull length-prefixed sub-blocks from c,
// starting at c's current position.
func New(c *cursor.Cursor) *Reader {
	return &Reader{c: c}
}

// nextBlock reads the next length byte and, if non-zero, the following
// payload, making it the current block. A zero length marks the chain
// closed.
func (r *Reader) nextBlock() error {
	length, err := r.c.ReadU8()
	if err != nil {
		r.errored = true
		return ErrTruncatedChain
	}
	if length == 0 {
		r.closed = true
		return nil
	}
	payload, err := r.c.Slice(int(length))
	if err != nil {
		r.errored = true
		return ErrTruncatedChain
	}
	r.block = payload
	r.off = 0
	return nil
}

// NextByte returns the next data byte in the chain. ok is false once the
// chain has been fully consumed (terminating zero-length block reached);
// err is non-nil only on truncation.
func (r *Reader) NextByte() (b byte, ok bool, err error) {
	if r.errored {
		return 0, false, ErrTruncatedChain
	}
	for r.off >= len(r.block) {
		if r.closed {
			return 0, false, nil
		}
		if err := r.nextBlock(); err != nil {
			return 0, false, err
		}
		if r.closed {
			return 0, false, nil
		}
	}
	b = r.block[r.off]
	r.off++
	return b, true, nil
}

// SkipChain consumes and discards every remaining sub-block up to and
// including the terminating zero-length block.
func (r *Reader) SkipChain() error {
	if r.errored {
		return ErrTruncatedChain
	}
	for !r.closed {
		if r.off < len(r.block) {
			r.off = len(r.block)
			continue
		}
		if err := r.nextBlock(); err != nil {
			return err
		}
	}
	return nil
}

// Raw consumes the entire remaining chain and returns it verbatim —
// every length byte, every payload byte, and the terminating zero —
// concatenated in wire order. Used for extensions whose sub-block
// payload is handed to a metadata sink rather than interpreted here.
func (r *Reader) Raw() ([]byte, error) {
	if r.errored {
		return nil, ErrTruncatedChain
	}
	var out []byte
	// Any bytes already buffered in the current (partially read) block
	// belong to the caller too; re-emit them with their length prefix.
	if r.off < len(r.block) {
		out = append(out, byte(len(r.block)-r.off))
		out = append(out, r.block[r.off:]...)
		r.off = len(r.block)
	}
	for !r.closed {
		length, err := r.c.ReadU8()
		if err != nil {
			r.errored = true
			return nil, ErrTruncatedChain
		}
		out = append(out, length)
		if length == 0 {
			r.closed = true
			break
		}
		payload, err := r.c.Slice(int(length))
		if err != nil {
			r.errored = true
			return nil, ErrTruncatedChain
		}
		out = append(out, payload...)
	}
	return out, nil
}
