package gif

import (
	"errors"
	"fmt"

	"github.com/driftwood-labs/gifcore/internal/block"
	"github.com/driftwood-labs/gifcore/internal/cursor"
	"github.com/driftwood-labs/gifcore/internal/pool"
)

// ErrBadMagic and ErrAllocFailure are re-exported from internal/block
// rather than redeclared, so errors.Is matches regardless of how much
// call-site context block.Decode has wrapped around them.
var (
	ErrBadMagic     = block.ErrBadMagic
	ErrAllocFailure = block.ErrAllocFailure
	ErrNilFrameSink = errors.New("gif: Options.OnFrame must not be nil")
	ErrNegativeSkip = errors.New("gif: Options.Skip must not be negative")
)

// Disposal describes what the caller should do to the canvas before
// rendering the NEXT frame. It carries the Graphic Control Extension's
// disposal method for the frame that precedes it.
type Disposal = block.Disposal

const (
	// DisposalNone means leave the frame as displayed (GIF disposal
	// values 0, 1, and any reserved value above 3 all collapse to this).
	DisposalNone = block.DisposalNone
	// DisposalBackground means restore the canvas to the background
	// color before the next frame is drawn.
	DisposalBackground = block.DisposalBackground
	// DisposalPrevious means restore the canvas to whatever it held
	// before this frame was drawn. Honoring it is the caller's job.
	DisposalPrevious = block.DisposalPrevious
)

// FrameInfo is passed to Options.OnFrame once per decoded frame. Its
// Pixels and Palette slices alias buffers owned by the Decode call; they
// are valid only for the duration of the callback and must not be
// retained past it.
type FrameInfo = block.FrameInfo

// MetaKind identifies which GIF extension a MetaInfo was extracted from.
type MetaKind = block.MetaKind

const (
	MetaApplication = block.MetaApplication
	MetaComment     = block.MetaComment
	MetaPlainText   = block.MetaPlainText
)

// MetaInfo is passed to Options.OnMetadata once per application,
// comment, or plain text extension encountered in source order.
type MetaInfo = block.MetaInfo

// Allocator supplies the working buffers obtained and released during a
// single Decode call: the palette buffer, the per-frame pixel buffer,
// and the LZW dictionary. A nil Allocator in Options causes Decode to use
// a shared default pool.
type Allocator = block.Allocator

// Options configures a single Decode call.
type Options struct {
	// OnFrame is invoked once per decoded frame after the first Skip
	// frames. Required.
	OnFrame func(FrameInfo)
	// OnMetadata is invoked once per application, comment, or plain text
	// extension, at the point it occurs in the source relative to
	// frames. Optional; nil means such extensions are parsed and
	// discarded without notification.
	OnMetadata func(MetaInfo)
	// Skip is the number of leading decoded frames to suppress from
	// OnFrame. Parsing still advances through them to reach subsequent
	// frames; they count toward Result.FramesSeen.
	Skip int
	// Allocator supplies working buffers. Defaults to a shared pool
	// when nil.
	Allocator Allocator
}

// Result summarizes a completed Decode call.
type Result struct {
	// FramesEmitted is the number of frames delivered to OnFrame (i.e.
	// decoded frames beyond Skip).
	FramesEmitted int
	// FramesSeen is the total number of frames successfully decoded,
	// including any suppressed by Skip.
	FramesSeen int
	// Truncated is true if the input ended before the trailer byte was
	// reached. Frames already decoded (and reported via OnFrame) are
	// still valid; the GIF simply stopped short.
	Truncated bool
}

// sinkAdapter bridges Options' callback fields to the block.Sink
// interface, defaulting OnMetadata to a no-op.
type sinkAdapter struct {
	onFrame    func(FrameInfo)
	onMetadata func(MetaInfo)
}

func (s sinkAdapter) Frame(f FrameInfo) { s.onFrame(f) }

func (s sinkAdapter) Metadata(m MetaInfo) {
	if s.onMetadata != nil {
		s.onMetadata(m)
	}
}

// Decode parses buf as a GIF87a/GIF89a stream, invoking opts.OnFrame for
// each decoded frame (after opts.Skip) and opts.OnMetadata for each
// application, comment, or plain text extension. buf is borrowed for the
// duration of the call and never mutated.
//
// Decode tolerates a truncated input: frames decoded before the cutoff
// are still reported, and Result.Truncated is set. It returns a non-nil
// error when opts.OnFrame is nil or opts.Skip is negative, for a bad
// signature or an input shorter than the minimum valid GIF, and for an
// allocator failure. An allocator failure can occur after earlier frames
// were already delivered to OnFrame; the returned Result is then zero.
func Decode(buf []byte, opts Options) (Result, error) {
	if opts.OnFrame == nil {
		return Result{}, ErrNilFrameSink
	}
	if opts.Skip < 0 {
		return Result{}, ErrNegativeSkip
	}
	alloc := opts.Allocator
	if alloc == nil {
		alloc = pool.Default
	}

	emitted := 0
	sink := sinkAdapter{
		onFrame: func(f FrameInfo) {
			emitted++
			opts.OnFrame(f)
		},
		onMetadata: opts.OnMetadata,
	}

	seen, truncated, err := block.Decode(buf, alloc, opts.Skip, sink)
	if err != nil {
		// block.Decode already attaches frame/buffer context to
		// ErrAllocFailure; this adds the call's own context without
		// discarding that chain.
		return Result{}, fmt.Errorf("gif: decode: %w", err)
	}

	return Result{
		FramesEmitted: emitted,
		FramesSeen:    seen,
		Truncated:     truncated,
	}, nil
}

// Config describes a GIF's screen-level properties, obtainable without
// decoding any frame's pixel data.
type Config struct {
	Width, Height   int
	PaletteCount    int
	BackgroundIndex int
}

// DecodeConfig parses only the 6-byte signature and the size, flags and
// background fields of the logical screen descriptor; the global color
// table's size is computed from the flags and the table itself is not
// read. It runs no block loop and no LZW decoding. It is the cheap
// alternative to Decode when only the canvas dimensions and palette size
// are needed.
func DecodeConfig(buf []byte) (Config, error) {
	if len(buf) < 13 {
		return Config{}, ErrBadMagic
	}
	c := cursor.New(buf)

	magic, _ := c.Slice(6)
	if string(magic) != "GIF87a" && string(magic) != "GIF89a" {
		return Config{}, ErrBadMagic
	}

	width, err1 := c.ReadU16LE()
	height, err2 := c.ReadU16LE()
	flags, err3 := c.ReadU8()
	bg, err4 := c.ReadU8()
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return Config{}, fmt.Errorf("%w: logical screen descriptor", ErrBadMagic)
	}

	paletteCount := 0
	if flags&0x80 != 0 {
		paletteCount = 1 << (1 + uint(flags&0x07))
	}

	return Config{
		Width:           int(width),
		Height:          int(height),
		PaletteCount:    paletteCount,
		BackgroundIndex: int(bg),
	}, nil
}
