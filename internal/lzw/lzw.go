// Package lzw implements the variable-width-code LZW decompression used by
// GIF image data: codes 2..12 bits wide, a CLEAR code that resets the
// dictionary, and an END code that terminates the stream. It reads its
// input from a sub-block chain rather than a flat buffer.
package lzw

import (
	"errors"

	"github.com/driftwood-labs/gifcore/internal/subblock"
)

// ErrCorrupt is returned when a code is neither a literal, CLEAR, END, an
// assigned dictionary entry, nor the one-ahead "KwKwK" special case.
var ErrCorrupt = errors.New("gif: corrupt lzw code")

// ErrTruncated is returned when the sub-block chain ends before an END
// code is seen and the output buffer was not yet fully written.
var ErrTruncated = errors.New("gif: truncated lzw stream")

// ErrAllocFailure is returned when a non-nil Allocator returns a nil (or
// short) buffer for the dictionary tables.
var ErrAllocFailure = errors.New("gif: allocator failed to provide a buffer")

const maxDictSize = 1 << 12 // 4096

// Allocator supplies the working buffers the decoder needs for its
// dictionary. A nil Allocator causes Decode to allocate with make.
type Allocator interface {
	AcquireInt16(n int) []int16
	ReleaseInt16(s []int16)
	Acquire(n int) []byte
	Release(b []byte)
}

// Decode reads LZW-compressed codes from sub, starting at the given
// minimum code size (1..8), and writes decompressed bytes into out. It
// returns the number of bytes written. If the chain ends before an END
// code and out was not completely filled, it returns ErrTruncated
// alongside the partial count; the caller still gets the bytes written
// so far. Once out is full, further codes are decoded (to stay
// bit-aligned with the stream) but their output is discarded.
func Decode(minCodeSize int, sub *subblock.Reader, out []byte, alloc Allocator) (int, error) {
	if minCodeSize < 1 || minCodeSize > 8 {
		return 0, ErrCorrupt
	}

	clearCode := 1 << minCodeSize
	endCode := clearCode + 1

	var prefix []int16
	var suffix []byte
	if alloc != nil {
		prefix = alloc.AcquireInt16(maxDictSize)
		suffix = alloc.Acquire(maxDictSize)
		if len(prefix) < maxDictSize || len(suffix) < maxDictSize {
			return 0, ErrAllocFailure
		}
		defer alloc.ReleaseInt16(prefix)
		defer alloc.Release(suffix)
	} else {
		prefix = make([]int16, maxDictSize)
		suffix = make([]byte, maxDictSize)
	}

	for i := 0; i < clearCode; i++ {
		prefix[i] = -1
		suffix[i] = byte(i)
	}

	nextSlot := endCode + 1
	codeWidth := minCodeSize + 1
	prevCode := -1

	br := &bitReader{sub: sub}
	var stackBuf [maxDictSize + 1]byte
	n := 0

	for {
		code, ok, rerr := br.readCode(codeWidth)
		if rerr != nil {
			if n >= len(out) {
				return n, nil
			}
			return n, ErrTruncated
		}
		if !ok {
			if n >= len(out) {
				return n, nil
			}
			return n, ErrTruncated
		}

		switch code {
		case clearCode:
			nextSlot = endCode + 1
			codeWidth = minCodeSize + 1
			prevCode = -1
			continue
		case endCode:
			return n, nil
		}

		var str []byte
		switch {
		case code < nextSlot:
			str = resolve(stackBuf[:maxDictSize], code, prefix, suffix)
		case code == nextSlot && prevCode != -1:
			prevStr := resolve(stackBuf[:maxDictSize], prevCode, prefix, suffix)
			start := maxDictSize - len(prevStr)
			stackBuf[maxDictSize] = prevStr[0]
			str = stackBuf[start : maxDictSize+1]
		default:
			return n, ErrCorrupt
		}

		for _, b := range str {
			if n < len(out) {
				out[n] = b
				n++
			}
		}

		if prevCode != -1 && nextSlot < maxDictSize {
			prefix[nextSlot] = int16(prevCode)
			suffix[nextSlot] = str[0]
			nextSlot++
			if nextSlot == (1<<uint(codeWidth)) && codeWidth < 12 {
				codeWidth++
			}
		}
		prevCode = code
	}
}

// resolve walks the prefix chain for code, writing its expanded string
// into the tail of buf (which must have capacity for the longest possible
// chain, maxDictSize) and returning the populated suffix of buf in
// left-to-right order.
func resolve(buf []byte, code int, prefix []int16, suffix []byte) []byte {
	i := len(buf)
	for code >= 0 {
		i--
		buf[i] = suffix[code]
		code = int(prefix[code])
	}
	return buf[i:]
}

// bitReader reads LZW codes LSB-first, packed across the byte boundaries
// of a sub-block chain.
type bitReader struct {
	sub  *subblock.Reader
	buf  uint32
	bits uint
}

// readCode returns the next width-bit code. ok is false and err is nil
// when the chain ended cleanly with too few bits remaining; err is
// non-nil if the chain itself was truncated (a declared sub-block length
// ran past the available data).
func (r *bitReader) readCode(width int) (code int, ok bool, err error) {
	for r.bits < uint(width) {
		b, got, rerr := r.sub.NextByte()
		if rerr != nil {
			return 0, false, rerr
		}
		if !got {
			return 0, false, nil
		}
		r.buf |= uint32(b) << r.bits
		r.bits += 8
	}
	mask := uint32(1<<uint(width)) - 1
	code = int(r.buf & mask)
	r.buf >>= uint(width)
	r.bits -= uint(width)
	return code, true, nil
}
