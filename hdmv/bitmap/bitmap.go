/*
DESCRIPTION
  bitmap.go implements the RGBA canvas and its palette-indexed counterpart,
  the two pixel representations that flow between the quantizer, the RLE
  object encoder and the window/composition layer.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package bitmap implements the RGBA canvas (Bitmap) and its
// palette-indexed form (Palletised), including quantized-palette mapping
// with optional Floyd-Steinberg dithering, per spec.md §4.4.
package bitmap

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/ausocean/libbluav/errorkind"
	hdmvcolor "github.com/ausocean/libbluav/hdmv/color"
)

// MinSize and MaxSize bound both dimensions of any Bitmap, per spec.md §3.
const (
	MinSize = 8
	MaxSize = 4096
)

// CheckDimensions validates width/height against [MinSize, MaxSize].
func CheckDimensions(width, height int) error {
	if width < MinSize || MaxSize < width {
		return errors.Wrapf(errorkind.InvalidDimensions, "width %d outside [%d,%d]", width, MinSize, MaxSize)
	}
	if height < MinSize || MaxSize < height {
		return errors.Wrapf(errorkind.InvalidDimensions, "height %d outside [%d,%d]", height, MinSize, MaxSize)
	}
	return nil
}

// Bitmap is a row-major RGBA32 canvas that owns its pixel buffer.
type Bitmap struct {
	RGBA          []uint32
	Width, Height uint16
}

// Init allocates a zeroed width x height canvas.
func Init(width, height uint16) (*Bitmap, error) {
	if err := CheckDimensions(int(width), int(height)); err != nil {
		return nil, err
	}
	return &Bitmap{
		RGBA:   make([]uint32, int(width)*int(height)),
		Width:  width,
		Height: height,
	}, nil
}

// Dup returns a byte-for-byte clone of b.
func (b *Bitmap) Dup() *Bitmap {
	out := &Bitmap{
		RGBA:   make([]uint32, len(b.RGBA)),
		Width:  b.Width,
		Height: b.Height,
	}
	copy(out.RGBA, b.RGBA)
	return out
}

func (b *Bitmap) insideBitmap(x, y, w, h uint16) bool {
	return x+w <= b.Width && y+h <= b.Height
}

// CropCopy extracts the w x h sub-rectangle starting at (x,y) into a new
// Bitmap, leaving b untouched.
func (b *Bitmap) CropCopy(x, y, w, h uint16) (*Bitmap, error) {
	if !b.insideBitmap(x, y, w, h) {
		return nil, errors.New("bitmap: cropping rectangle is outside bitmap")
	}
	dst, err := Init(w, h)
	if err != nil {
		return nil, err
	}
	off := 0
	for j := uint16(0); j < h; j++ {
		srcOff := int(y+j)*int(b.Width) + int(x)
		copy(dst.RGBA[off:off+int(w)], b.RGBA[srcOff:srcOff+int(w)])
		off += int(w)
	}
	return dst, nil
}

// Fill sets every pixel to rgba.
func (b *Bitmap) Fill(rgba uint32) {
	for i := range b.RGBA {
		b.RGBA[i] = rgba
	}
}

// Pixel returns the colour at (x,y).
func (b *Bitmap) Pixel(x, y uint16) uint32 { return b.RGBA[int(y)*int(b.Width)+int(x)] }

// SetPixel writes the colour at (x,y).
func (b *Bitmap) SetPixel(x, y uint16, rgba uint32) { b.RGBA[int(y)*int(b.Width)+int(x)] = rgba }

// Palletised is a palette-indexed bitmap: each pixel is an index into an
// accompanying hdmv/color.Palette, with 0xFF reserved for fully transparent
// "no colour" per the HDMV PDS convention.
type Palletised struct {
	Indices       []uint8
	Width, Height uint16
}

// NoEntry is the reserved index meaning "not covered by any palette entry".
const NoEntry = 0xFF

func initPalletised(width, height uint16) *Palletised {
	idx := make([]uint8, int(width)*int(height))
	for i := range idx {
		idx[i] = NoEntry
	}
	return &Palletised{Indices: idx, Width: width, Height: height}
}

func channels(rgba uint32) (r, g, b, a int64) {
	return int64(uint8(rgba >> 24)), int64(uint8(rgba >> 16)), int64(uint8(rgba >> 8)), int64(uint8(rgba))
}

func dist2(a, b uint32) int64 {
	ar, ag, ab, aa := channels(a)
	br, bg, bb, ba := channels(b)
	dr, dg, db, da := ar-br, ag-bg, ab-bb, aa-ba
	return dr*dr + dg*dg + db*db + da*da
}

// nearest returns the palette index whose RGBA is closest (4D Euclidean) to
// rgba, breaking ties toward the lowest index.
func nearest(rgba uint32, pal *hdmvcolor.Palette) uint8 {
	best := uint8(NoEntry)
	var bestDist int64 = -1
	for i, e := range pal.Entries {
		if !e.InUse {
			continue
		}
		d := dist2(rgba, e.RGBA)
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = uint8(i)
		}
	}
	return best
}

// ApplyPalette maps every pixel of b to its nearest entry in pal. When
// dither is true, quantization error is diffused to unvisited neighbours
// using Floyd-Steinberg coefficients (7/16, 3/16, 5/16, 1/16), matching the
// dithering golang.org/x/image/draw performs for image.Paletted
// conversions; we keep our own 4-channel accumulation because the palette
// operates in RGBA space rather than image/color.Palette's allocator.
func ApplyPalette(b *Bitmap, pal *hdmvcolor.Palette, dither bool) *Palletised {
	out := initPalletised(b.Width, b.Height)
	w, h := int(b.Width), int(b.Height)

	if !dither {
		for i, rgba := range b.RGBA {
			out.Indices[i] = nearest(rgba, pal)
		}
		return out
	}

	errs := make([][4]float64, len(b.RGBA))
	get := func(x, y int) (float64, float64, float64, float64) {
		r, g, bl, a := channels(b.RGBA[y*w+x])
		e := errs[y*w+x]
		return float64(r) + e[0], float64(g) + e[1], float64(bl) + e[2], float64(a) + e[3]
	}
	addErr := func(x, y int, dr, dg, db, da, factor float64) {
		if x < 0 || x >= w || y < 0 || y >= h {
			return
		}
		errs[y*w+x][0] += dr * factor
		errs[y*w+x][1] += dg * factor
		errs[y*w+x][2] += db * factor
		errs[y*w+x][3] += da * factor
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rf, gf, bf, af := get(x, y)
			cr := clamp255(rf)
			cg := clamp255(gf)
			cb := clamp255(bf)
			ca := clamp255(af)
			target := uint32(cr)<<24 | uint32(cg)<<16 | uint32(cb)<<8 | uint32(ca)
			idx := nearest(target, pal)
			out.Indices[y*w+x] = idx

			chosen := pal.Entries[idx].RGBA
			cr2, cg2, cb2, ca2 := channels(chosen)
			dr := rf - float64(cr2)
			dg := gf - float64(cg2)
			db := bf - float64(cb2)
			da := af - float64(ca2)

			addErr(x+1, y, dr, dg, db, da, 7.0/16)
			addErr(x-1, y+1, dr, dg, db, da, 3.0/16)
			addErr(x, y+1, dr, dg, db, da, 5.0/16)
			addErr(x+1, y+1, dr, dg, db, da, 1.0/16)
		}
	}
	return out
}

func clamp255(x float64) uint8 {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return uint8(x)
}

// ToImage adapts b to the standard library's image.Image, letting callers
// use golang.org/x/image/draw (e.g. for format conversion in debug tooling)
// without a bespoke encoder path.
func (b *Bitmap) ToImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, int(b.Width), int(b.Height)))
	for y := 0; y < int(b.Height); y++ {
		for x := 0; x < int(b.Width); x++ {
			r, g, bl, a := channels(b.RGBA[y*int(b.Width)+x])
			img.Set(x, y, color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(bl), A: uint8(a)})
		}
	}
	return img
}

// Resample scales b to width x height using golang.org/x/image/draw's
// CatmullRom resampler, for callers building composition assets at a
// different resolution than their source art.
func Resample(b *Bitmap, width, height uint16) (*Bitmap, error) {
	out, err := Init(width, height)
	if err != nil {
		return nil, err
	}
	dst := out.ToImage().(*image.NRGBA)
	draw.CatmullRom.Scale(dst, dst.Bounds(), b.ToImage(), b.ToImage().Bounds(), draw.Over, nil)
	for y := 0; y < int(height); y++ {
		for x := 0; x < int(width); x++ {
			c := dst.NRGBAAt(x, y)
			out.RGBA[y*int(width)+x] = uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
		}
	}
	return out, nil
}
