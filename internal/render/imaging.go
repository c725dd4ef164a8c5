package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register the PNG decoder for screenshots.
)

// DefaultJPEGQuality is the quality used when re-encoding screenshots.
const DefaultJPEGQuality = 60

// ColorCount decodes an encoded image and returns the number of distinct pixel values.
// Counting stops at limit.
func ColorCount(data []byte, limit int) (int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode frame: %w", err)
	}
	if limit <= 0 {
		limit = DefaultMaxColors
	}

	seen := make(map[uint64]struct{})
	switch m := img.(type) {
	case *image.NRGBA:
		countPix(m.Pix, m.Stride, m.Rect, seen, limit)
	case *image.RGBA:
		countPix(m.Pix, m.Stride, m.Rect, seen, limit)
	default:
		b := m.Bounds()
		for y := b.Min.Y; y < b.Max.Y && len(seen) < limit; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, a := m.At(x, y).RGBA()
				seen[uint64(r)<<48|uint64(g)<<32|uint64(bl)<<16|uint64(a)] = struct{}{}
				if len(seen) >= limit {
					break
				}
			}
		}
	}
	return len(seen), nil
}

func countPix(pix []byte, stride int, rect image.Rectangle, seen map[uint64]struct{}, limit int) {
	width := rect.Dx() * 4
	for row := 0; row < rect.Dy(); row++ {
		line := pix[row*stride : row*stride+width]
		for i := 0; i < len(line); i += 4 {
			key := uint64(line[i])<<24 | uint64(line[i+1])<<16 | uint64(line[i+2])<<8 | uint64(line[i+3])
			seen[key] = struct{}{}
			if len(seen) >= limit {
				return
			}
		}
	}
}

// ToJPEG re-encodes an image as JPEG. Alpha is discarded.
func ToJPEG(data []byte, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
