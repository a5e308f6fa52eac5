package block

import (
	"testing"

	"github.com/driftwood-labs/gifcore/internal/pool"
	"github.com/stretchr/testify/require"
)

// failingDictAllocator delegates byte buffers to pool.Default but always
// fails the int16 dictionary acquisition, simulating an exhausted
// allocator hook for the LZW prefix table specifically.
type failingDictAllocator struct{}

func (failingDictAllocator) Acquire(n int) []byte    { return pool.Default.Acquire(n) }
func (failingDictAllocator) Release(b []byte)        { pool.Default.Release(b) }
func (failingDictAllocator) AcquireInt16(n int) []int16 { return nil }
func (failingDictAllocator) ReleaseInt16(s []int16)  {}

// failingPixelAllocator fails only a request of exactly failAt bytes (set
// to a frame's pixel buffer size), leaving palette/dictionary buffers
// served normally.
type failingPixelAllocator struct{ failAt int }

func (a failingPixelAllocator) Acquire(n int) []byte {
	if n == a.failAt {
		return nil
	}
	return pool.Default.Acquire(n)
}
func (a failingPixelAllocator) Release(b []byte)           { pool.Default.Release(b) }
func (a failingPixelAllocator) AcquireInt16(n int) []int16 { return pool.Default.AcquireInt16(n) }
func (a failingPixelAllocator) ReleaseInt16(s []int16)     { pool.Default.ReleaseInt16(s) }

// encode is a minimal reference LZW compressor (duplicated from the lzw
// package's own test helper) used only to build image-data fixtures.
func encode(m int, data []byte) []byte {
	clearCode := 1 << m
	endCode := clearCode + 1
	nextSlot := endCode + 1
	width := m + 1

	newDict := func() map[string]int {
		d := make(map[string]int, clearCode)
		for i := 0; i < clearCode; i++ {
			d[string([]byte{byte(i)})] = i
		}
		return d
	}
	dict := newDict()

	var bitBuf uint32
	var bitCount uint
	var out []byte
	emit := func(code int) {
		bitBuf |= uint32(code) << bitCount
		bitCount += uint(width)
		for bitCount >= 8 {
			out = append(out, byte(bitBuf))
			bitBuf >>= 8
			bitCount -= 8
		}
	}

	emit(clearCode)
	w := ""
	for _, s := range data {
		ws := w + string(s)
		if _, ok := dict[ws]; ok {
			w = ws
			continue
		}
		emit(dict[w])
		dict[ws] = nextSlot
		nextSlot++
		if nextSlot > (1<<uint(width)) && width < 12 {
			width++
		}
		w = string(s)
	}
	if w != "" {
		emit(dict[w])
		// The decoder appends one more entry on reading this last code
		// (unless it is the first code after CLEAR), which can widen END.
		if nextSlot > endCode+1 {
			nextSlot++
			if nextSlot > (1<<uint(width)) && width < 12 {
				width++
			}
		}
	}
	emit(endCode)
	if bitCount > 0 {
		out = append(out, byte(bitBuf))
	}

	var chain []byte
	for len(out) > 0 {
		n := len(out)
		if n > 255 {
			n = 255
		}
		chain = append(chain, byte(n))
		chain = append(chain, out[:n]...)
		out = out[n:]
	}
	chain = append(chain, 0)
	return chain
}

func u16le(v int) []byte { return []byte{byte(v), byte(v >> 8)} }

func header(w, h int, gctFlags, gctCount, bg int, gct []byte) []byte {
	b := []byte("GIF89a")
	b = append(b, u16le(w)...)
	b = append(b, u16le(h)...)
	b = append(b, byte(gctFlags), byte(bg), 0)
	b = append(b, gct...)
	return b
}

func imageDescriptor(x, y, w, h int, flags byte, minCodeSize int, pixels []byte) []byte {
	return imageDescriptorLCT(x, y, w, h, flags, nil, minCodeSize, pixels)
}

// imageDescriptorLCT builds an image descriptor block, inserting lct (raw
// RGB triplet bytes) between the packed-flags byte and the LZW payload
// when non-nil, matching the wire order a local color table appears in.
func imageDescriptorLCT(x, y, w, h int, flags byte, lct []byte, minCodeSize int, pixels []byte) []byte {
	b := []byte{0x2C}
	b = append(b, u16le(x)...)
	b = append(b, u16le(y)...)
	b = append(b, u16le(w)...)
	b = append(b, u16le(h)...)
	b = append(b, flags)
	b = append(b, lct...)
	b = append(b, byte(minCodeSize))
	b = append(b, encode(minCodeSize, pixels)...)
	return b
}

func gce(disposal byte, transparent int, delay int) []byte {
	flags := disposal << 2
	tFlag := byte(0)
	tIdx := byte(0)
	if transparent >= 0 {
		tFlag = 1
		tIdx = byte(transparent)
	}
	flags |= tFlag
	return append([]byte{0x21, 0xF9, 4, flags}, append(u16le(delay), tIdx, 0)...)
}

func application(id [11]byte, data []byte) []byte {
	b := []byte{0x21, 0xFF, 11}
	b = append(b, id[:]...)
	for len(data) > 0 {
		n := len(data)
		if n > 255 {
			n = 255
		}
		b = append(b, byte(n))
		b = append(b, data[:n]...)
		data = data[n:]
	}
	return append(b, 0)
}

type recordingSink struct {
	frames []FrameInfo
	metas  []MetaInfo
}

func (r *recordingSink) Frame(f FrameInfo) {
	// FrameInfo's slices alias working buffers; copy for post-call inspection.
	pixCopy := append([]byte(nil), f.Pixels...)
	palCopy := append([]byte(nil), f.Palette...)
	f.Pixels = pixCopy
	f.Palette = palCopy
	r.frames = append(r.frames, f)
}

func (r *recordingSink) Metadata(m MetaInfo) {
	hCopy := append([]byte(nil), m.Header...)
	dCopy := append([]byte(nil), m.Data...)
	m.Header, m.Data = hCopy, dCopy
	r.metas = append(r.metas, m)
}

func TestDecodeMinimalStaticGIF(t *testing.T) {
	gct := []byte{0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	buf := header(1, 1, fColorTable|0, 2, 0, gct)
	buf = append(buf, imageDescriptor(0, 0, 1, 1, 0, 2, []byte{0})...)
	buf = append(buf, 0x3B)

	sink := &recordingSink{}
	decoded, truncated, err := Decode(buf, pool.Default, 0, sink)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Equal(t, 1, decoded)
	require.Len(t, sink.frames, 1)

	f := sink.frames[0]
	require.Equal(t, []byte{0}, f.Pixels)
	require.Equal(t, 2, f.PaletteCount)
	require.Equal(t, 1, f.TotalFrames)
	require.Equal(t, 0, f.FrameIndex)
}

func TestDecodeTwoFrameWithGCE(t *testing.T) {
	gct := []byte{0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	buf := header(2, 2, fColorTable, 2, 0, gct)
	buf = append(buf, gce(2, -1, 10)...) // disposal=background, delay=10
	buf = append(buf, imageDescriptor(0, 0, 2, 2, 0, 2, []byte{0, 1, 1, 0})...)
	buf = append(buf, imageDescriptor(0, 0, 2, 2, 0, 2, []byte{1, 0, 0, 1})...)
	buf = append(buf, 0x3B)

	sink := &recordingSink{}
	decoded, truncated, err := Decode(buf, pool.Default, 0, sink)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Equal(t, 2, decoded)
	require.Len(t, sink.frames, 2)

	require.Equal(t, 10, sink.frames[0].DelayCentis)
	require.Equal(t, DisposalBackground, sink.frames[0].Disposal)
	require.Equal(t, -1, sink.frames[0].TransparentIndex)

	// Second frame had no preceding GCE: defaults reset.
	require.Equal(t, 0, sink.frames[1].DelayCentis)
	require.Equal(t, DisposalNone, sink.frames[1].Disposal)
	require.Equal(t, -1, sink.frames[1].TransparentIndex)
}

func TestDecodeTruncatedMidSecondFrame(t *testing.T) {
	gct := []byte{0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	buf := header(2, 2, fColorTable, 2, 0, gct)
	buf = append(buf, imageDescriptor(0, 0, 2, 2, 0, 2, []byte{0, 1, 1, 0})...)
	second := imageDescriptor(0, 0, 2, 2, 0, 2, []byte{1, 0, 0, 1})
	buf = append(buf, second[:len(second)-4]...) // cut after the sub-block length byte: payload and terminator missing, no trailer

	sink := &recordingSink{}
	decoded, truncated, err := Decode(buf, pool.Default, 0, sink)
	require.NoError(t, err)
	require.True(t, truncated)
	require.Equal(t, 1, decoded)
	require.Len(t, sink.frames, 1)
}

func TestDecodeSkip(t *testing.T) {
	gct := []byte{0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	buf := header(1, 1, fColorTable, 2, 0, gct)
	for i := 0; i < 5; i++ {
		buf = append(buf, imageDescriptor(0, 0, 1, 1, 0, 2, []byte{byte(i % 2)})...)
	}
	buf = append(buf, 0x3B)

	sink := &recordingSink{}
	decoded, truncated, err := Decode(buf, pool.Default, 2, sink)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Equal(t, 5, decoded)
	require.Len(t, sink.frames, 3)
	require.Equal(t, 2, sink.frames[0].FrameIndex)
	require.Equal(t, 3, sink.frames[1].FrameIndex)
	require.Equal(t, 4, sink.frames[2].FrameIndex)
}

func TestApplicationExtensionMetadata(t *testing.T) {
	gct := []byte{0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	buf := header(1, 1, fColorTable, 2, 0, gct)
	var netscapeID [11]byte
	copy(netscapeID[:], "NETSCAPE2.0")
	buf = append(buf, application(netscapeID, []byte{1, 0, 0})...)
	buf = append(buf, imageDescriptor(0, 0, 1, 1, 0, 2, []byte{0})...)
	buf = append(buf, 0x3B)

	sink := &recordingSink{}
	decoded, truncated, err := Decode(buf, pool.Default, 0, sink)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Equal(t, 1, decoded)
	require.Len(t, sink.metas, 1)
	require.Equal(t, MetaApplication, sink.metas[0].Kind)
	require.Equal(t, []byte("NETSCAPE2.0"), sink.metas[0].Header)
}

func TestInterlaceFlagPassedThrough(t *testing.T) {
	gct := []byte{0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	buf := header(1, 1, fColorTable, 2, 0, gct)
	buf = append(buf, imageDescriptor(0, 0, 1, 1, fInterlace, 2, []byte{0})...)
	buf = append(buf, 0x3B)

	sink := &recordingSink{}
	_, _, err := Decode(buf, pool.Default, 0, sink)
	require.NoError(t, err)
	require.True(t, sink.frames[0].Interlace)
}

func TestBadMagic(t *testing.T) {
	buf := append([]byte("NOTAGIF"), make([]byte, 10)...)
	sink := &recordingSink{}
	decoded, _, err := Decode(buf, pool.Default, 0, sink)
	require.ErrorIs(t, err, ErrBadMagic)
	require.Equal(t, 0, decoded)
}

func TestTooShortInput(t *testing.T) {
	sink := &recordingSink{}
	_, _, err := Decode([]byte("GIF89a"), pool.Default, 0, sink)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestLZWDictionaryAllocFailure(t *testing.T) {
	gct := []byte{0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	buf := header(1, 1, fColorTable, 2, 0, gct)
	buf = append(buf, imageDescriptor(0, 0, 1, 1, 0, 2, []byte{0})...)
	buf = append(buf, 0x3B)

	sink := &recordingSink{}
	_, _, err := Decode(buf, failingDictAllocator{}, 0, sink)
	require.ErrorIs(t, err, ErrAllocFailure)
	require.Empty(t, sink.frames)
}

func TestPixelBufferAllocFailure(t *testing.T) {
	gct := []byte{0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00}
	buf := header(1, 1, fColorTable, 2, 0, gct)
	buf = append(buf, imageDescriptor(0, 0, 1, 1, 0, 2, []byte{0})...)
	buf = append(buf, 0x3B)

	sink := &recordingSink{}
	_, _, err := Decode(buf, failingPixelAllocator{failAt: 1}, 0, sink)
	require.ErrorIs(t, err, ErrAllocFailure)
	require.Empty(t, sink.frames)
}

func TestLocalColorTableOverridesPalette(t *testing.T) {
	buf := header(1, 1, 0, 0, 0, nil) // no global color table
	lct := []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60}
	flags := byte(fColorTable) // 2-entry LCT (low 3 bits = 0 => 2^1=2)
	buf = append(buf, imageDescriptorLCT(0, 0, 1, 1, flags, lct, 2, []byte{1})...)
	buf = append(buf, 0x3B)

	sink := &recordingSink{}
	_, truncated, err := Decode(buf, pool.Default, 0, sink)
	require.NoError(t, err)
	require.False(t, truncated)
	require.Len(t, sink.frames, 1)
	require.Equal(t, lct, sink.frames[0].Palette)
}
