// Package gif implements the core of an animated GIF decoder: a pull-style
// parser for the GIF87a/GIF89a byte stream that yields decoded frames
// through caller-supplied callbacks.
//
// The package decodes an in-memory buffer; it does not read files, does
// not composite frames onto a canvas, does not convert palette indices to
// RGB, and does not rearrange interlaced rows. Those concerns belong to
// the caller, which receives everything it needs (palette, disposal mode,
// interlace flag, frame rectangle) to do them itself.
//
// Basic usage:
//
//	result, err := gif.Decode(buf, gif.Options{
//		OnFrame: func(f gif.FrameInfo) {
//			// f.Pixels is valid only during this call.
//		},
//	})
package gif
