// Package block implements the GIF block-level state machine: header,
// logical screen descriptor, optional global color table, and the block
// loop that dispatches graphic control, comment, plain text, and
// application extensions plus image descriptors through to the LZW
// decoder. It owns per-frame state and frame/metadata dispatch.
package block

import (
	"errors"
	"fmt"

	"github.com/driftwood-labs/gifcore/internal/cursor"
	"github.com/driftwood-labs/gifcore/internal/lzw"
	"github.com/driftwood-labs/gifcore/internal/subblock"
)

// Section introducers, mirroring the GIF89a spec's own naming.
const (
	sExtension       = 0x21
	sImageDescriptor = 0x2C
	sTrailer         = 0x3B
)

// Extension labels.
const (
	eText           = 0x01
	eGraphicControl = 0xF9
	eComment        = 0xFE
	eApplication    = 0xFF
)

// Field masks shared by the LSD and image descriptor packed-flags bytes.
const (
	fColorTable         = 1 << 7
	fInterlace          = 1 << 6
	fColorTableBitsMask = 7
)

// ErrBadMagic is returned when the input is shorter than the minimum
// valid GIF (13 bytes) or its 6-byte signature isn't GIF87a/GIF89a.
var ErrBadMagic = errors.New("gif: not a GIF87a/GIF89a stream")

// ErrAllocFailure is returned when the Allocator returns nil for a
// non-zero size request.
var ErrAllocFailure = errors.New("gif: allocator failed to provide a buffer")

// Allocator supplies the working buffers used for the palette, the
// per-frame pixel buffer, and the LZW dictionary.
type Allocator = lzw.Allocator

// Disposal describes what the caller should do to the canvas before
// rendering the NEXT frame.
type Disposal int

const (
	DisposalNone       Disposal = 0
	DisposalBackground Disposal = 2
	DisposalPrevious   Disposal = 3
)

func disposalFromBits(v byte) Disposal {
	switch v {
	case 2:
		return DisposalBackground
	case 3:
		return DisposalPrevious
	default:
		return DisposalNone
	}
}

// FrameInfo is the transient record passed to a Sink's Frame method. Its
// Pixels and Palette slices alias working buffers owned by the decode
// call; a Sink must not retain them past the call.
type FrameInfo struct {
	ScreenWidth, ScreenHeight int
	PaletteCount              int
	BackgroundIndex           int
	TransparentIndex          int // -1 when transparency is disabled
	Interlace                 bool
	Disposal                  Disposal
	FrameX, FrameY            int
	FrameWidth, FrameHeight   int
	DelayCentis               int
	FrameIndex                int
	TotalFrames               int
	Pixels                    []byte
	Palette                   []byte // RGB triplets, len == PaletteCount*3
}

// MetaKind identifies which extension a MetaInfo came from.
type MetaKind int

const (
	MetaApplication MetaKind = iota
	MetaComment
	MetaPlainText
)

// MetaInfo is the transient record passed to a Sink's Metadata method.
type MetaInfo struct {
	Kind   MetaKind
	Header []byte // 11-byte app id+auth, or plain text's 12-byte grid header
	Data   []byte // raw sub-block chain, length prefixes and terminator included
}

// Sink receives decoded frames and (optionally) extension metadata.
type Sink interface {
	Frame(FrameInfo)
	Metadata(MetaInfo)
}

// Decode drives the block-level state machine over buf. skip is the
// number of leading decoded frames to suppress from the sink (parsing
// still advances state for them). It returns the number of frames
// decoded (including suppressed ones) and whether the stream ended
// before the trailer was reached. err is non-nil only for bad magic (or an
// input shorter than 13 bytes) and for an allocator failure; an allocator
// failure on a later frame is returned together with the count of frames
// already decoded.
func Decode(buf []byte, alloc Allocator, skip int, sink Sink) (decoded int, truncated bool, err error) {
	if len(buf) < 13 {
		return 0, false, ErrBadMagic
	}
	c := cursor.New(buf)

	magic, _ := c.Slice(6)
	if string(magic) != "GIF87a" && string(magic) != "GIF89a" {
		return 0, false, ErrBadMagic
	}

	screenW, err1 := c.ReadU16LE()
	screenH, err2 := c.ReadU16LE()
	lsdFlags, err3 := c.ReadU8()
	bgIndex, err4 := c.ReadU8()
	_, err5 := c.ReadU8() // pixel aspect ratio, ignored
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return 0, true, nil
	}

	gct := acquire(alloc, 3*256)
	if gct == nil {
		return 0, false, fmt.Errorf("gif: global color table: %w", ErrAllocFailure)
	}
	defer alloc.Release(gct)
	palette := acquire(alloc, 3*256)
	if palette == nil {
		return 0, false, fmt.Errorf("gif: palette buffer: %w", ErrAllocFailure)
	}
	defer alloc.Release(palette)

	gctCount := 0
	if lsdFlags&fColorTable != 0 {
		gctCount = 1 << (1 + uint(lsdFlags&fColorTableBitsMask))
		table, err := c.Slice(3 * gctCount)
		if err != nil {
			return 0, true, nil
		}
		copy(gct, table)
	}

	s := &session{
		screenW: int(screenW), screenH: int(screenH),
		bgIndex: int(bgIndex),
		gct:     gct, gctCount: gctCount,
		palette: palette,
		alloc:   alloc,
		sink:    sink,
		skip:    skip,
	}
	s.resetGCE()

	for {
		introducer, err := c.ReadU8()
		if err != nil {
			return s.decoded, true, nil
		}
		switch introducer {
		case sTrailer:
			return s.decoded, false, nil
		case sExtension:
			halt, err := s.handleExtension(c)
			if err != nil {
				return s.decoded, false, err
			}
			if halt {
				return s.decoded, true, nil
			}
		case sImageDescriptor:
			halt, err := s.handleImageDescriptor(c)
			if err != nil {
				return s.decoded, false, err
			}
			if halt {
				return s.decoded, true, nil
			}
		default:
			return s.decoded, true, nil
		}
	}
}

// acquire wraps alloc.Acquire, treating a nil result for a non-zero
// request as an allocator failure rather than a legitimate empty buffer.
func acquire(alloc Allocator, size int) []byte {
	b := alloc.Acquire(size)
	if b == nil && size > 0 {
		return nil
	}
	return b
}

// session holds global decode-call state threaded through block dispatch.
type session struct {
	screenW, screenH int
	bgIndex          int
	gct              []byte
	gctCount         int
	palette          []byte
	alloc            Allocator
	sink             Sink
	skip             int
	decoded          int

	// Graphic control state for the next frame; reset after each
	// frame is emitted.
	nextDelay       int
	nextDisposal    Disposal
	nextTransparent int
}

func (s *session) resetGCE() {
	s.nextDelay = 0
	s.nextDisposal = DisposalNone
	s.nextTransparent = -1
}

// handleExtension reads the label byte following a 0x21 introducer and
// dispatches to the matching extension parser. halt reports whether the
// stream should stop (truncated or an unrecognized label).
func (s *session) handleExtension(c *cursor.Cursor) (halt bool, err error) {
	label, err := c.ReadU8()
	if err != nil {
		return true, nil
	}
	switch label {
	case eGraphicControl:
		return s.readGraphicControl(c)
	case eComment:
		return s.readComment(c)
	case eText:
		return s.readPlainText(c)
	case eApplication:
		return s.readApplication(c)
	default:
		return true, nil
	}
}

func (s *session) readGraphicControl(c *cursor.Cursor) (halt bool, err error) {
	size, err := c.ReadU8()
	if err != nil || size != 4 {
		return true, nil
	}
	payload, err := c.Slice(4)
	if err != nil {
		return true, nil
	}
	if _, err := c.ReadU8(); err != nil { // block terminator
		return true, nil
	}
	s.nextDisposal = disposalFromBits((payload[0] >> 2) & 0x07)
	if payload[0]&0x01 != 0 {
		s.nextTransparent = int(payload[3])
	} else {
		s.nextTransparent = -1
	}
	s.nextDelay = int(payload[1]) | int(payload[2])<<8
	return false, nil
}

func (s *session) readComment(c *cursor.Cursor) (halt bool, err error) {
	sub := subblock.New(c)
	raw, err := sub.Raw()
	if err != nil {
		return true, nil
	}
	s.sink.Metadata(MetaInfo{Kind: MetaComment, Data: raw})
	return false, nil
}

func (s *session) readPlainText(c *cursor.Cursor) (halt bool, err error) {
	size, err := c.ReadU8()
	if err != nil {
		return true, nil
	}
	header, err := c.Slice(int(size))
	if err != nil {
		return true, nil
	}
	sub := subblock.New(c)
	raw, err := sub.Raw()
	if err != nil {
		return true, nil
	}
	s.sink.Metadata(MetaInfo{Kind: MetaPlainText, Header: header, Data: raw})
	return false, nil
}

func (s *session) readApplication(c *cursor.Cursor) (halt bool, err error) {
	size, err := c.ReadU8()
	if err != nil || size != 11 {
		return true, nil
	}
	header, err := c.Slice(11)
	if err != nil {
		return true, nil
	}
	sub := subblock.New(c)
	raw, err := sub.Raw()
	if err != nil {
		return true, nil
	}
	s.sink.Metadata(MetaInfo{Kind: MetaApplication, Header: header, Data: raw})
	return false, nil
}

func (s *session) handleImageDescriptor(c *cursor.Cursor) (halt bool, err error) {
	fields, err := c.Slice(9)
	if err != nil {
		return true, nil
	}
	frameX := int(fields[0]) | int(fields[1])<<8
	frameY := int(fields[2]) | int(fields[3])<<8
	frameW := int(fields[4]) | int(fields[5])<<8
	frameH := int(fields[6]) | int(fields[7])<<8
	imgFlags := fields[8]

	paletteCount := s.gctCount
	copy(s.palette[:3*s.gctCount], s.gct[:3*s.gctCount])

	if imgFlags&fColorTable != 0 {
		lctCount := 1 << (1 + uint(imgFlags&fColorTableBitsMask))
		lct, err := c.Slice(3 * lctCount)
		if err != nil {
			return true, nil
		}
		copy(s.palette[:3*lctCount], lct)
		paletteCount = lctCount
	}
	interlace := imgFlags&fInterlace != 0

	minCodeSize, err := c.ReadU8()
	if err != nil {
		return true, nil
	}

	pixels := acquire(s.alloc, frameW*frameH)
	if pixels == nil && frameW*frameH > 0 {
		return false, fmt.Errorf("gif: frame %d: pixel buffer: %w", s.decoded, ErrAllocFailure)
	}
	defer s.alloc.Release(pixels)

	sub := subblock.New(c)
	_, lzwErr := lzw.Decode(int(minCodeSize), sub, pixels, s.alloc)
	if lzwErr != nil {
		if errors.Is(lzwErr, lzw.ErrAllocFailure) {
			return false, fmt.Errorf("gif: frame %d: lzw dictionary: %w", s.decoded, ErrAllocFailure)
		}
		// Per the frame-granularity recovery contract, a corrupt or
		// truncated frame is dropped entirely and parsing halts.
		return true, nil
	}
	// Whatever follows END (or fills past the pixel buffer) is discarded up
	// to the chain's terminator, so the next introducer is read in place.
	if err := sub.SkipChain(); err != nil {
		return true, nil
	}

	info := FrameInfo{
		ScreenWidth: s.screenW, ScreenHeight: s.screenH,
		PaletteCount:     paletteCount,
		BackgroundIndex:  s.bgIndex,
		TransparentIndex: s.nextTransparent,
		Interlace:        interlace,
		Disposal:         s.nextDisposal,
		FrameX:           frameX, FrameY: frameY,
		FrameWidth: frameW, FrameHeight: frameH,
		DelayCentis: s.nextDelay,
		FrameIndex:  s.decoded,
		TotalFrames: s.decoded + 1,
		Pixels:      pixels,
		Palette:     s.palette[:3*paletteCount],
	}
	if s.decoded >= s.skip {
		s.sink.Frame(info)
	}
	s.decoded++
	s.resetGCE()
	return false, nil
}
