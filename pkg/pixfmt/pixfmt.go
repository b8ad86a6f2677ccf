// Package pixfmt describes the raw pixel layouts carried by video streams
// and converts between them and image.Image.
package pixfmt

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
)

// ErrFormat is returned for unknown formats or mismatched frame sizes.
var ErrFormat = errors.New("pixfmt: unsupported format")

// Format is a raw frame layout.
type Format int

const (
	Gray8 Format = iota
	RGB888
	BGR565
	YUV420
	NV12
)

var names = []string{"gray8", "rgb888", "bgr565", "yuv420", "nv12"}

func (f Format) String() string {
	if f >= 0 && int(f) < len(names) {
		return names[f]
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool { return f >= 0 && int(f) < len(names) }

// ParseFormat parses a format name, case-insensitively. "grayscale8" and
// "rgb" are accepted as aliases.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "grayscale8", "gray":
		return Gray8, nil
	case "rgb":
		return RGB888, nil
	}
	for i, n := range names {
		if n == s {
			return Format(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrFormat, s)
}

// FrameSize returns the number of bytes of one w×h frame in format f, or 0
// for an unknown format.
func FrameSize(f Format, w, h int) int {
	switch f {
	case Gray8:
		return w * h
	case RGB888:
		return w * h * 3
	case BGR565:
		return w * h * 2
	case YUV420, NV12:
		return w * h * 3 / 2
	}
	return 0
}

// Channels returns the number of interleaved bytes per pixel a display can
// take directly: 1 for Gray8, 3 for RGB888, 0 otherwise.
func Channels(f Format) int {
	switch f {
	case Gray8:
		return 1
	case RGB888:
		return 3
	}
	return 0
}

// RGB565 packs 8-bit components into a 16-bit RGB565 pixel.
func RGB565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

// Gray565 expands an 8-bit luminance value to RGB565.
func Gray565(v uint8) uint16 {
	r := uint16(v >> 3)
	g := uint16(v >> 2)
	return r<<11 | g<<5 | r
}

// Unpack565 expands an RGB565 pixel back to 8-bit components.
func Unpack565(p uint16) (r, g, b uint8) {
	r5 := uint8(p >> 11)
	g6 := uint8(p>>5) & 0x3F
	b5 := uint8(p) & 0x1F
	return r5<<3 | r5>>2, g6<<2 | g6>>4, b5<<3 | b5>>2
}

// Encode scales img to w×h and writes it into dst in format f. dst must
// hold FrameSize(f, w, h) bytes.
func Encode(dst []byte, img image.Image, f Format, w, h int) error {
	size := FrameSize(f, w, h)
	if size == 0 {
		return fmt.Errorf("%w: %v", ErrFormat, f)
	}
	if len(dst) < size {
		return fmt.Errorf("pixfmt: encode: %d bytes, need %d", len(dst), size)
	}
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Bounds() != image.Rect(0, 0, w, h) {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(rgba, rgba.Bounds(), img, img.Bounds(), draw.Src, nil)
	}

	switch f {
	case Gray8:
		for i := 0; i < w*h; i++ {
			p := rgba.Pix[i*4:]
			dst[i] = luma(p[0], p[1], p[2])
		}
	case RGB888:
		for i := 0; i < w*h; i++ {
			copy(dst[i*3:i*3+3], rgba.Pix[i*4:i*4+3])
		}
	case BGR565:
		for i := 0; i < w*h; i++ {
			p := rgba.Pix[i*4:]
			v := uint16(p[2]>>3)<<11 | uint16(p[1]>>2)<<5 | uint16(p[0]>>3)
			dst[i*2] = byte(v)
			dst[i*2+1] = byte(v >> 8)
		}
	case YUV420, NV12:
		encodeYUV(dst, rgba, f, w, h)
	}
	return nil
}

func luma(r, g, b uint8) uint8 {
	y, _, _ := color.RGBToYCbCr(r, g, b)
	return y
}

// encodeYUV writes a 4:2:0 frame. Chroma is taken from the top-left pixel
// of each 2×2 block.
func encodeYUV(dst []byte, img *image.RGBA, f Format, w, h int) {
	ySize := w * h
	cw, ch := w/2, h/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := img.Pix[img.PixOffset(x, y):]
			yy, cb, cr := color.RGBToYCbCr(p[0], p[1], p[2])
			dst[y*w+x] = yy
			if x%2 != 0 || y%2 != 0 || x/2 >= cw || y/2 >= ch {
				continue
			}
			ci := (y/2)*cw + x/2
			if f == NV12 {
				dst[ySize+ci*2] = cb
				dst[ySize+ci*2+1] = cr
			} else {
				dst[ySize+ci] = cb
				dst[ySize+cw*ch+ci] = cr
			}
		}
	}
}

// Decode builds an image from a raw frame in format f.
func Decode(src []byte, f Format, w, h int) (image.Image, error) {
	size := FrameSize(f, w, h)
	if size == 0 {
		return nil, fmt.Errorf("%w: %v", ErrFormat, f)
	}
	if len(src) < size {
		return nil, fmt.Errorf("pixfmt: decode: %d bytes, need %d", len(src), size)
	}
	switch f {
	case Gray8:
		img := image.NewGray(image.Rect(0, 0, w, h))
		copy(img.Pix, src[:size])
		return img, nil
	case RGB888:
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			copy(img.Pix[i*4:i*4+3], src[i*3:i*3+3])
			img.Pix[i*4+3] = 0xFF
		}
		return img, nil
	case BGR565:
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			v := uint16(src[i*2]) | uint16(src[i*2+1])<<8
			b, g, r := Unpack565(v)
			img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = r, g, b, 0xFF
		}
		return img, nil
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(img.Y, src[:w*h])
	cw, ch := w/2, h/2
	for y := 0; y < ch && y < len(img.Cb)/img.CStride; y++ {
		for x := 0; x < cw; x++ {
			ci := y*cw + x
			di := y*img.CStride + x
			if f == NV12 {
				img.Cb[di] = src[w*h+ci*2]
				img.Cr[di] = src[w*h+ci*2+1]
			} else {
				img.Cb[di] = src[w*h+ci]
				img.Cr[di] = src[w*h+cw*ch+ci]
			}
		}
	}
	return img, nil
}
