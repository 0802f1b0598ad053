/*
DESCRIPTION
  quant.go implements the HDMV hexatree colour quantizer: a 16-ary tree
  keyed on interleaved RGBA bits, reduced until at most target_nb_colors
  leaves remain.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package quant implements the hexatree colour quantizer used to reduce an
// RGBA bitmap to a target palette size, per spec.md §4.3. Nodes live in a
// slice-backed arena with a free list, rather than being individually
// heap-allocated and linked by pointer, so that reduction (which discards
// large numbers of nodes) never pressures the garbage collector.
package quant

import (
	"github.com/pkg/errors"

	"github.com/ausocean/libbluav/hdmv/color"
)

// MaxDepth is the maximum hexatree depth: each level consumes one bit from
// each of R, G, B and A, so 8 levels exhaust all 32 bits of an RGBA value.
const MaxDepth = 8

// preferFewestPixels selects which of two equal-leaf-distance branches
// to merge first when a tie must be broken: the branch representing the
// fewest pixels is preferred, to preserve fine detail at the expense of
// merging flatter regions of the image first.
const preferFewestPixels = true

const noChild = -1

type accum struct {
	r, g, b, a uint64
	rep        uint64
	rgba       uint32
}

func newAccum(rgba uint32, rep uint64) accum {
	r := uint8(rgba >> 24)
	g := uint8(rgba >> 16)
	b := uint8(rgba >> 8)
	a := uint8(rgba)
	return accum{
		r: uint64(r) * rep, g: uint64(g) * rep, b: uint64(b) * rep, a: uint64(a) * rep,
		rep: rep, rgba: rgba,
	}
}

func (a *accum) add(o accum) {
	a.r += o.r
	a.g += o.g
	a.b += o.b
	a.a += o.a
	a.rep += o.rep
}

// genValue returns the mean colour represented by this accumulator.
func (a accum) genValue() uint32 {
	r := uint8(a.r / a.rep)
	g := uint8(a.g / a.rep)
	b := uint8(a.b / a.rep)
	al := uint8(a.a / a.rep)
	return uint32(r)<<24 | uint32(g)<<16 | uint32(b)<<8 | uint32(al)
}

type node struct {
	leafDist int // 0 = leaf, >0 = internal, distance to deepest leaf
	data     accum
	children [16]int32
}

func freshNode(isLeaf bool, rgba uint32, rep uint64) node {
	n := node{children: [16]int32{}}
	for i := range n.children {
		n.children[i] = noChild
	}
	if !isLeaf {
		n.leafDist = 1
	}
	n.data = newAccum(rgba, rep)
	return n
}

// Inventory is the hexatree node arena: a growable slice plus a free list of
// reclaimed indices, mirroring the original's segmented allocator without
// manual pointer bookkeeping.
type Inventory struct {
	nodes []node
	free  []int32
}

func (inv *Inventory) alloc(n node) int32 {
	if l := len(inv.free); l > 0 {
		idx := inv.free[l-1]
		inv.free = inv.free[:l-1]
		inv.nodes[idx] = n
		return idx
	}
	inv.nodes = append(inv.nodes, n)
	return int32(len(inv.nodes) - 1)
}

func (inv *Inventory) put(idx int32) {
	if idx == noChild {
		return
	}
	inv.free = append(inv.free, idx)
}

func (inv *Inventory) at(idx int32) *node { return &inv.nodes[idx] }

// Tree is a hexatree keyed on the Inventory that owns its nodes. A zero
// Tree is empty; Size tracks the current leaf count, which generateHexatree
// callers use to know when further reduction is needed.
type Tree struct {
	inv  Inventory
	root int32
	Size uint
}

// NewTree returns an empty hexatree.
func NewTree() *Tree {
	return &Tree{root: noChild}
}

// branch extracts the 4-bit interleaved R/G/B/A selector for depth (0-7),
// most significant bit of each channel first.
func branch(depth int, rgba uint32) uint {
	idx := uint(7 - depth)
	return ((uint(rgba) >> (21 + idx)) & 0x8) |
		((uint(rgba) >> (14 + idx)) & 0x4) |
		((uint(rgba) >> (7 + idx)) & 0x2) |
		((uint(rgba) >> idx) & 0x1)
}

// splitLeaf turns the leaf at idx into a fresh internal node owning the old
// leaf at its branch slot, returning the new internal node's index.
//
// idx is looked up via the arena on every access rather than held as a raw
// pointer: t.inv.alloc below can grow the backing slice, which would
// silently orphan any *node taken before the call.
func (t *Tree) splitLeaf(idx int32, depth int) (int32, error) {
	if depth < 0 || depth > MaxDepth {
		return noChild, errors.Errorf("quant: unexpected node depth %d", depth)
	}
	rep := t.inv.at(idx).data.rep
	newIdx := t.inv.alloc(freshNode(false, 0, rep))
	rgba := t.inv.at(idx).data.genValue()
	t.inv.at(newIdx).children[branch(depth, rgba)] = idx
	return newIdx, nil
}

// insert adds rgba into the subtree rooted at idx, returning that
// subtree's (possibly new, if a split occurred) index and the leaf-distance
// contribution it reports to its parent.
func (t *Tree) insert(idx int32, rgba uint32, depth int) (int32, int, error) {
	if idx == noChild {
		newIdx := t.inv.alloc(freshNode(true, rgba, 1))
		t.Size++
		return newIdx, 0, nil
	}

	if t.inv.at(idx).leafDist == 0 {
		if t.inv.at(idx).data.rgba == rgba || depth >= MaxDepth {
			t.inv.at(idx).data.add(newAccum(rgba, 1))
			return idx, 0, nil
		}
		newIdx, err := t.splitLeaf(idx, depth)
		if err != nil {
			return idx, 0, err
		}
		idx = newIdx
	}

	slot := branch(depth, rgba)
	childIdx := t.inv.at(idx).children[slot]
	newChildIdx, ret, err := t.insert(childIdx, rgba, depth+1)
	if err != nil {
		return idx, 0, err
	}

	n := t.inv.at(idx)
	n.children[slot] = newChildIdx
	if n.leafDist < ret+1 {
		n.leafDist = ret + 1
	}
	n.data.rep++
	return idx, ret + 1, nil
}

// Insert adds a pixel colour to the tree.
func (t *Tree) Insert(rgba uint32) error {
	newRoot, _, err := t.insert(t.root, rgba, 0)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Tree) reducibleBranch(idx int32) (uint, error) {
	n := t.inv.at(idx)
	var selIdx uint
	var selRep uint64
	var selLeafDist int
	found := false

	for i := uint(0); i < 16; i++ {
		c := n.children[i]
		if c == noChild || t.inv.at(c).leafDist == 0 {
			continue
		}
		cn := t.inv.at(c)
		update := false
		if selLeafDist < cn.leafDist {
			update = true
		} else if selLeafDist == cn.leafDist {
			if preferFewestPixels {
				update = selRep >= cn.data.rep
			} else {
				update = selRep < cn.data.rep
			}
		}
		if update {
			selLeafDist = cn.leafDist
			selRep = cn.data.rep
			selIdx = i
			found = true
		}
	}
	if !found {
		return 0, errors.New("quant: reached an internal node without any reducible child")
	}
	return selIdx, nil
}

// mergeBranch collapses every leaf child of idx into idx itself (now a
// leaf), returning the number of leaves merged minus one (the net change in
// tree size).
func (t *Tree) mergeBranch(idx int32) (int, error) {
	n := t.inv.at(idx)
	var res accum
	merged := 0

	for i := 0; i < 16; i++ {
		c := n.children[i]
		if c == noChild {
			continue
		}
		cn := t.inv.at(c)
		if cn.leafDist != 0 {
			return 0, errors.New("quant: internal node has a non-leaf child during merge")
		}
		if merged == 0 {
			res = cn.data
		} else {
			res.add(cn.data)
		}
		merged++
		t.inv.put(c)
		n.children[i] = noChild
	}

	res.rgba = res.genValue()
	n.leafDist = 0
	n.data = res
	return merged - 1, nil
}

// reduce collapses one branch of the subtree rooted at idx, shrinking the
// tree's leaf count by whatever mergeBranch reports, and returns idx's
// (possibly new, if it collapsed to a single child) index.
func (t *Tree) reduce(idx int32, size *uint) (int32, error) {
	if t.inv.at(idx).leafDist == 0 {
		return idx, errors.New("quant: unexpected leaf in reduction")
	}

	if t.inv.at(idx).leafDist == 1 {
		reduced, err := t.mergeBranch(idx)
		if err != nil {
			return idx, err
		}
		if reduced == 0 {
			return idx, nil
		}
		if int(*size) < reduced {
			return idx, errors.Errorf("quant: unexpected tree size reduction (%d < %d)", *size, reduced)
		}
		*size -= uint(reduced)
		return idx, nil
	}

	slot, err := t.reducibleBranch(idx)
	if err != nil {
		return idx, err
	}
	childIdx := t.inv.at(idx).children[slot]
	newChildIdx, err := t.reduce(childIdx, size)
	if err != nil {
		return idx, err
	}

	n := t.inv.at(idx)
	n.children[slot] = newChildIdx
	n.leafDist = 0
	nbChildren := 0
	var only int32 = noChild
	for i := 0; i < 16; i++ {
		if n.children[i] != noChild {
			cd := t.inv.at(n.children[i]).leafDist
			if n.leafDist < cd {
				n.leafDist = cd
			}
			nbChildren++
			only = n.children[i]
		}
	}
	n.leafDist++

	if nbChildren == 1 {
		t.inv.put(idx)
		return only, nil
	}
	return idx, nil
}

// Reduce collapses the tree until at most targetColors leaves remain, per
// spec.md §4.3 (target range [2,255]).
func (t *Tree) Reduce(targetColors uint) error {
	if targetColors < 2 || targetColors > 255 {
		return errors.New("quant: color number target out of [2,255] range")
	}
	for targetColors < t.Size {
		newRoot, err := t.reduce(t.root, &t.Size)
		if err != nil {
			return err
		}
		t.root = newRoot
	}
	return nil
}

// InsertBitmap inserts every pixel of pix (row-major RGBA, stride pixels
// per row) and reduces after each full row once above targetColors,
// mirroring performHdmvQuantizationHexatree's interleaved insert/reduce
// loop so memory stays bounded on large images.
func (t *Tree) InsertBitmap(pix []uint32, width, height int, targetColors uint) error {
	if targetColors < 2 || targetColors > 255 {
		return errors.New("quant: color number target out of [2,255] range")
	}
	for row := 0; row < height; row++ {
		line := pix[row*width : (row+1)*width]
		for _, rgba := range line {
			if err := t.Insert(rgba); err != nil {
				return err
			}
		}
		if err := t.Reduce(targetColors); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) collect(idx int32, dst *color.Palette) error {
	if idx == noChild {
		return nil
	}
	n := t.inv.at(idx)
	if n.leafDist == 0 {
		_, err := dst.AddRGBA(n.data.rgba)
		return err
	}
	for i := 0; i < 16; i++ {
		if err := t.collect(n.children[i], dst); err != nil {
			return err
		}
	}
	return nil
}

// ToPalette appends every leaf colour of the tree to dst in depth-first
// child order.
func (t *Tree) ToPalette(dst *color.Palette) error {
	return t.collect(t.root, dst)
}
