/*
DESCRIPTION
  palette.go implements the HDMV 255-entry palette: RGBA storage, YCbCr
  conversion for PDS emission, and distance-based sort ordering.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package color implements the HDMV palette: a fixed 255-entry RGBA/YCbCr
// colour table with BT.601/709/2020 conversion and distance-sorted
// ordering, per spec.md §4.2.
package color

import (
	"math"
	"sort"

	"github.com/ausocean/libbluav/errorkind"
)

// Size is the maximum number of entries a Palette can hold. Index 0xFF is
// reserved by the palletiser for "no match" and is never a valid palette
// slot, which is why HDMV palettes carry at most 255 (not 256) entries.
const Size = 255

// Matrix selects the YCbCr conversion coefficients used when deriving an
// entry's Y/Cb/Cr channels from its RGBA value.
type Matrix uint8

const (
	BT601 Matrix = iota
	BT709
	BT2020
)

type coeffs struct{ kr, kg, kb float64 }

func (m Matrix) coefficients() coeffs {
	switch m {
	case BT709:
		return coeffs{0.2126, 0.7152, 0.0722}
	case BT2020:
		return coeffs{0.2627, 0.6780, 0.0593}
	default:
		return coeffs{0.299, 0.587, 0.114}
	}
}

// Entry is a single palette slot. YCbCr is always kept consistent with RGBA
// per the matrix in force when the entry was added (spec.md §3 invariant).
type Entry struct {
	RGBA   uint32 // packed R<<24 | G<<16 | B<<8 | A
	YCbCr  uint32 // packed Y<<24 | Cb<<16 | Cr<<8 | A
	InUse  bool
}

// Palette is a fixed 255-slot colour table.
type Palette struct {
	Entries       [Size]Entry
	Version       uint8
	Matrix        Matrix
	NonSequential bool

	id      uint8
	nbUsed  int // only meaningful when !NonSequential
}

// Init resets the palette to empty with the given id, version and YCbCr
// matrix.
func (p *Palette) Init(id uint8, version uint8, matrix Matrix) {
	*p = Palette{id: id, Version: version, Matrix: matrix}
}

// ID returns the palette_id this palette was initialised with.
func (p *Palette) ID() uint8 { return p.id }

func rgbaChannels(rgba uint32) (r, g, b, a uint8) {
	return uint8(rgba >> 24), uint8(rgba >> 16), uint8(rgba >> 8), uint8(rgba)
}

func packYCbCrA(y, cb, cr, a uint8) uint32 {
	return uint32(y)<<24 | uint32(cb)<<16 | uint32(cr)<<8 | uint32(a)
}

// roundTiesToEven rounds x to the nearest integer, ties going to the even
// neighbour, matching the limited-range scaling rule of spec.md §4.2.
func roundTiesToEven(x float64) float64 {
	return math.RoundToEven(x)
}

func clampU8(x float64) uint8 {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return uint8(x)
}

// ToYCbCr converts an RGBA colour to limited-range YCbCr using the given
// matrix, per spec.md §4.2.
func ToYCbCr(rgba uint32, m Matrix) uint32 {
	c := m.coefficients()
	r, g, b, a := rgbaChannels(rgba)

	rf, gf, bf := float64(r), float64(g), float64(b)

	y := c.kr*rf + c.kg*gf + c.kb*bf
	cb := -0.5*c.kr/(1-c.kb)*rf - 0.5*c.kg/(1-c.kb)*gf + 0.5*bf
	cr := 0.5*rf - 0.5*c.kg/(1-c.kr)*gf - 0.5*c.kb/(1-c.kr)*bf

	const (
		offY, offBR = 16.0, 128.0
		sclY, sclBR = 219.0 / 255.0, 224.0 / 255.0
	)

	chY := clampU8(roundTiesToEven(offY + y*sclY))
	chCb := clampU8(roundTiesToEven(offBR + cb*sclBR))
	chCr := clampU8(roundTiesToEven(offBR + cr*sclBR))

	return packYCbCrA(chY, chCb, chCr, a)
}

// AddRGBA inserts a new colour, returning its entry id, or
// errorkind.TooManyPaletteEntries if the palette is full.
func (p *Palette) AddRGBA(rgba uint32) (uint8, error) {
	var idx int
	if !p.NonSequential {
		if p.nbUsed >= Size {
			return 0, errorkind.TooManyPaletteEntries
		}
		idx = p.nbUsed
		p.nbUsed++
	} else {
		idx = Size
		for i := 0; i < Size; i++ {
			if !p.Entries[i].InUse {
				idx = i
				break
			}
		}
		if idx == Size {
			return 0, errorkind.TooManyPaletteEntries
		}
	}

	p.Entries[idx] = Entry{
		RGBA:  rgba,
		YCbCr: ToYCbCr(rgba, p.Matrix),
		InUse: true,
	}
	return uint8(idx), nil
}

// YCbCrEntry returns the YCbCr value stored for palette slot id.
func (p *Palette) YCbCrEntry(id uint8) uint32 {
	return p.Entries[id].YCbCr
}

// Update replaces the palette contents with newP, which must carry the same
// palette id and a version exactly one greater (mod 256), per spec.md §4.2.
func (p *Palette) Update(newP *Palette) error {
	if newP.id != p.id || newP.Version != p.Version+1 {
		return errorkind.BadPaletteUpdate
	}
	*p = *newP
	return nil
}

// dist2 is the squared distance of an RGBA colour's vector to the origin,
// used by SortByDistance.
func dist2(rgba uint32) int64 {
	r, g, b, a := rgbaChannels(rgba)
	ri, gi, bi, ai := int64(r), int64(g), int64(b), int64(a)
	return ri*ri + gi*gi + bi*bi + ai*ai
}

// SortByDistance reorders in-use entries by ascending squared Euclidean
// distance of their RGBA vector to the origin. Out-of-use slots are left in
// place at the tail; ties are broken by original order (stable sort) and
// reported to the caller via logging as a warning by higher layers.
func (p *Palette) SortByDistance() {
	var inUse []Entry
	for _, e := range p.Entries {
		if e.InUse {
			inUse = append(inUse, e)
		}
	}
	sort.SliceStable(inUse, func(i, j int) bool {
		return dist2(inUse[i].RGBA) < dist2(inUse[j].RGBA)
	})
	for i, e := range inUse {
		p.Entries[i] = e
	}
	for i := len(inUse); i < Size; i++ {
		p.Entries[i] = Entry{}
	}
}
