package media

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTooLarge is returned for media whose decoded form would exceed the
// loader's decode limits.
var ErrTooLarge = errors.New("media exceeds decode limits")

// DecodeLimits bound the memory a single asset may take once decoded.
type DecodeLimits struct {
	// MaxPixels caps width*height of a still image or a GIF's logical
	// screen.
	MaxPixels int64
	// MaxClipPixels caps the summed area of all frames of an animated clip.
	MaxClipPixels int64
}

func DefaultDecodeLimits() DecodeLimits {
	return DecodeLimits{
		MaxPixels:     7680 * 4320,
		MaxClipPixels: 1 << 28,
	}
}

func (l DecodeLimits) withDefaults() DecodeLimits {
	def := DefaultDecodeLimits()
	if l.MaxPixels <= 0 {
		l.MaxPixels = def.MaxPixels
	}
	if l.MaxClipPixels <= 0 {
		l.MaxClipPixels = def.MaxClipPixels
	}
	return l
}

func (l DecodeLimits) checkImage(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid image size %dx%d", w, h)
	}
	if px := int64(w) * int64(h); px > l.MaxPixels {
		return fmt.Errorf("%w: %dx%d is %d pixels, limit %d", ErrTooLarge, w, h, px, l.MaxPixels)
	}
	return nil
}

var errTruncatedGIF = errors.New("gif: truncated block structure")

// scanGIF walks the block structure of a GIF without decoding pixel data
// and reports the frame count and the summed area of the frame
// rectangles.
func scanGIF(data []byte) (frames int, area int64, err error) {
	const headerLen = 13 // signature, version, logical screen descriptor
	if len(data) < headerLen {
		return 0, 0, errTruncatedGIF
	}
	pos := headerLen
	if flags := data[10]; flags&0x80 != 0 {
		pos += 3 << ((flags & 0x07) + 1)
	}

	for pos < len(data) {
		switch data[pos] {
		case 0x21: // extension: introducer, label, sub-blocks
			if pos, err = skipSubBlocks(data, pos+2); err != nil {
				return frames, area, err
			}
		case 0x2c: // image descriptor
			if pos+10 > len(data) {
				return frames, area, errTruncatedGIF
			}
			w := binary.LittleEndian.Uint16(data[pos+5:])
			h := binary.LittleEndian.Uint16(data[pos+7:])
			flags := data[pos+9]
			pos += 10
			if flags&0x80 != 0 {
				pos += 3 << ((flags & 0x07) + 1)
			}
			// LZW minimum code size precedes the image data sub-blocks.
			if pos, err = skipSubBlocks(data, pos+1); err != nil {
				return frames, area, err
			}
			frames++
			area += int64(w) * int64(h)
		case 0x3b: // trailer
			return frames, area, nil
		default:
			return frames, area, fmt.Errorf("gif: unknown block 0x%02x", data[pos])
		}
	}
	return frames, area, nil
}

func skipSubBlocks(data []byte, pos int) (int, error) {
	for {
		if pos >= len(data) {
			return pos, errTruncatedGIF
		}
		n := int(data[pos])
		pos++
		if n == 0 {
			return pos, nil
		}
		pos += n
	}
}
