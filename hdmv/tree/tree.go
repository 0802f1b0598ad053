/*
DESCRIPTION
  tree.go implements the two HDMV rectangle trees used to derive
  non-overlapping composition windows and to decide object packing: a
  collision-abort tree and a cost-minimizing merge tree.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package tree implements the HDMV rectangle collision tree and merging
// tree, per spec.md §4.6. Both trees are binary, keyed on the merged
// bounding box of their subtrees, and both are backed by a slice arena
// rather than individually heap-allocated nodes. Recursive inserts pass and
// return node indices rather than pointers into the slice: a pointer taken
// before a recursive call could be silently orphaned if that call appends
// and the backing array is reallocated.
package tree

import "github.com/ausocean/libbluav/hdmv/rect"

const noChild = -1

// CollisionTree packs composition objects into a binary tree of bounding
// boxes, aborting an insertion that would make two object rectangles
// overlap. The colliding leaf's user value is returned so the caller can
// report which two objects conflict.
type CollisionTree struct {
	nodes []collisionNode
	root  int32
}

type collisionNode struct {
	left, right int32
	rect        rect.Rect
	userValue   uint
}

// NewCollisionTree returns an empty collision tree.
func NewCollisionTree() *CollisionTree {
	return &CollisionTree{root: noChild}
}

func (t *CollisionTree) alloc(n collisionNode) int32 {
	t.nodes = append(t.nodes, n)
	return int32(len(t.nodes) - 1)
}

// Insert adds r (tagged with userValue) to the tree. If r collides with an
// already-inserted rectangle, insertion is aborted and the colliding
// rectangle/value are returned with ok=false.
func (t *CollisionTree) Insert(r rect.Rect, userValue uint) (collidingRect rect.Rect, collidingValue uint, ok bool) {
	newRoot, cRect, cValue, ok := t.insert(t.root, r, userValue)
	if ok {
		t.root = newRoot
	}
	return cRect, cValue, ok
}

func (t *CollisionTree) insert(idx int32, r rect.Rect, userValue uint) (int32, rect.Rect, uint, bool) {
	if idx == noChild {
		newIdx := t.alloc(collisionNode{left: noChild, right: noChild, rect: r, userValue: userValue})
		return newIdx, rect.Rect{}, 0, true
	}

	if t.nodes[idx].left == noChild {
		if rect.Collide(t.nodes[idx].rect, r) {
			return idx, t.nodes[idx].rect, t.nodes[idx].userValue, false
		}
		leaf := idx
		newIdx := t.alloc(collisionNode{left: leaf, right: noChild, rect: rect.Merge(t.nodes[leaf].rect, r)})
		newRight, cRect, cValue, ok := t.insert(noChild, r, userValue)
		t.nodes[newIdx].right = newRight
		return newIdx, cRect, cValue, ok
	}

	leftRect := t.nodes[t.nodes[idx].left].rect
	rightRect := t.nodes[t.nodes[idx].right].rect

	if rect.Merge(leftRect, r).Area() < rect.Merge(rightRect, r).Area() {
		newLeft, cRect, cValue, ok := t.insert(t.nodes[idx].left, r, userValue)
		if ok {
			t.nodes[idx].left = newLeft
			t.nodes[idx].rect = rect.Merge(t.nodes[idx].rect, r)
		}
		return idx, cRect, cValue, ok
	}
	newRight, cRect, cValue, ok := t.insert(t.nodes[idx].right, r, userValue)
	if ok {
		t.nodes[idx].right = newRight
		t.nodes[idx].rect = rect.Merge(t.nodes[idx].rect, r)
	}
	return idx, cRect, cValue, ok
}

// BoundingBox returns the overall bounding box of every rectangle inserted
// so far, or an empty Rect if the tree is empty.
func (t *CollisionTree) BoundingBox() rect.Rect {
	if t.root == noChild {
		return rect.Rect{}
	}
	return t.nodes[t.root].rect
}

// MergeTree groups rectangles into cost-minimizing clusters: each insertion
// picks whichever of (merge into left), (merge into right), or (split into
// a fresh left+right pair) yields the smallest total area, per
// insertMergingTreeNode.
type MergeTree struct {
	nodes []mergeNode
	root  int32
}

type mergeNode struct {
	left, right int32
	box         rect.Rect
}

// NewMergeTree returns an empty merge tree.
func NewMergeTree() *MergeTree {
	return &MergeTree{root: noChild}
}

func (t *MergeTree) alloc(n mergeNode) int32 {
	t.nodes = append(t.nodes, n)
	return int32(len(t.nodes) - 1)
}

// Insert adds box to the tree, restructuring it to keep merge cost low.
func (t *MergeTree) Insert(box rect.Rect) {
	t.root = t.insert(t.root, box)
}

func (t *MergeTree) insert(idx int32, box rect.Rect) int32 {
	if idx == noChild {
		return t.alloc(mergeNode{left: noChild, right: noChild, box: box})
	}

	if t.nodes[idx].left == noChild {
		resBox := rect.Merge(t.nodes[idx].box, box)
		leaf := idx
		newIdx := t.alloc(mergeNode{left: leaf, right: noChild, box: resBox})
		t.nodes[newIdx].right = t.insert(noChild, box)
		return newIdx
	}

	lrMerge := t.nodes[idx].box
	totalMerge := rect.Merge(lrMerge, box)
	t.nodes[idx].box = totalMerge

	leftBox := t.nodes[t.nodes[idx].left].box
	rightBox := t.nodes[t.nodes[idx].right].box

	rCost := rightBox.Area()
	lCost := leftBox.Area()
	rMergeCost := rect.Merge(rightBox, box).Area() + lCost
	lMergeCost := rect.Merge(leftBox, box).Area() + rCost
	lrMergeCost := lrMerge.Area()

	if lMergeCost < rMergeCost {
		if lMergeCost <= lrMergeCost {
			t.nodes[idx].left = t.insert(t.nodes[idx].left, box)
			return idx
		}
	} else if rMergeCost <= lrMergeCost {
		t.nodes[idx].right = t.insert(t.nodes[idx].right, box)
		return idx
	}

	oldLeft, oldRight := t.nodes[idx].left, t.nodes[idx].right
	newLeft := t.alloc(mergeNode{left: oldLeft, right: oldRight, box: lrMerge})
	newRight := t.alloc(mergeNode{left: noChild, right: noChild, box: box})
	t.nodes[idx].left = newLeft
	t.nodes[idx].right = newRight
	return idx
}

// BoundingBox returns the overall bounding box of the tree, or an empty
// Rect if nothing has been inserted.
func (t *MergeTree) BoundingBox() rect.Rect {
	if t.root == noChild {
		return rect.Rect{}
	}
	return t.nodes[t.root].box
}

// IsSingleZone reports whether the tree's two top-level clusters collide
// (i.e. the whole tree should be treated as a single composition window
// rather than split into two), per isSingleZoneMergingTreeNode.
func (t *MergeTree) IsSingleZone() bool {
	if t.root == noChild {
		return true
	}
	root := t.nodes[t.root]
	if root.left == noChild {
		return true
	}
	return rect.Collide(t.nodes[root.left].box, t.nodes[root.right].box)
}

// Windows returns the up-to-two top-level window rectangles: either the
// single overall bounding box, or the two first-level cluster boxes when
// they do not collide.
func (t *MergeTree) Windows() []rect.Rect {
	if t.IsSingleZone() {
		return []rect.Rect{t.BoundingBox()}
	}
	root := t.nodes[t.root]
	return []rect.Rect{t.nodes[root.left].box, t.nodes[root.right].box}
}
