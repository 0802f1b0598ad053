// Package rect implements the axis-aligned rectangle algebra shared by the
// HDMV collision tree, merging tree, window definitions and composition
// objects. It mirrors hdmv_rectangle.h from the original muxer: a rectangle
// is empty iff its area is zero, and Merge passes the other input through
// when one is empty. Collide and Inside have no special case for empty
// rectangles: they apply the same coordinate comparisons as to any other.
package rect

// Rect is an axis-aligned rectangle with uint16 coordinates and extents, per
// spec.md §3: x+w <= 65535 and y+h <= 65535 are invariants callers must
// uphold (the type itself does not wrap).
type Rect struct {
	X, Y, W, H uint16
}

// Area returns w*h. Values are small enough (uint16*uint16) to fit a
// uint32 without overflow.
func (r Rect) Area() uint32 {
	return uint32(r.W) * uint32(r.H)
}

// Empty reports whether the rectangle has zero area.
func (r Rect) Empty() bool {
	return r.Area() == 0
}

func min16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

func max16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

// Merge returns the smallest axis-aligned rectangle containing both a and
// b. An empty input passes the other rectangle through unchanged.
func Merge(a, b Rect) Rect {
	if a.Empty() {
		return b
	}
	if b.Empty() {
		return a
	}
	x := min16(a.X, b.X)
	y := min16(a.Y, b.Y)
	return Rect{
		X: x,
		Y: y,
		W: max16(a.X+a.W-x, b.X+b.W-x),
		H: max16(a.Y+a.H-y, b.Y+b.H-y),
	}
}

// Collide reports whether the interiors of a and b overlap on both axes.
func Collide(a, b Rect) bool {
	return a.X < b.X+b.W && b.X < a.X+a.W &&
		a.Y < b.Y+b.H && b.Y < a.Y+a.H
}

// Inside reports whether inner is fully contained (inclusive bounds) within
// outer.
func Inside(outer, inner Rect) bool {
	return outer.X <= inner.X && inner.X+inner.W <= outer.X+outer.W &&
		outer.Y <= inner.Y && inner.Y+inner.H <= outer.Y+outer.H
}
