/*
DESCRIPTION
  ringbuf.go implements a fixed-capacity, power-of-two circular buffer used
  by the HRD verifier's CPB and DPB queues.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package ringbuf implements a generic power-of-two circular buffer, the Go
// counterpart of the original HRD verifier's H264_AU_CPB_MOD_MASK /
// H264_DPB_MOD_MASK bitmask-indexed arrays: capacity is always rounded up
// to a power of two so that index wraparound is a single AND instead of a
// modulo.
package ringbuf

// Ring is a FIFO of fixed capacity (rounded up to the next power of two).
// Pushing past capacity is the caller's error to avoid, per the CPB/DPB
// overflow checks that gate every push in the HRD verifier.
type Ring[T any] struct {
	buf   []T
	mask  int
	head  int // index of the oldest element
	count int
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// New returns a Ring able to hold at least capacity elements.
func New[T any](capacity int) *Ring[T] {
	n := nextPow2(capacity)
	if n == 0 {
		n = 1
	}
	return &Ring[T]{buf: make([]T, n), mask: n - 1}
}

// Len returns the number of elements currently stored.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the ring's storage capacity (a power of two).
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Full reports whether the ring has reached its storage capacity.
func (r *Ring[T]) Full() bool { return r.count == len(r.buf) }

func (r *Ring[T]) slot(i int) int { return (r.head + i) & r.mask }

// PushBack appends v as the newest element. The caller must check Full
// first; PushBack panics on overflow rather than silently growing, since
// every HRD buffer has a hard capacity the caller must already have
// validated.
func (r *Ring[T]) PushBack(v T) {
	if r.Full() {
		panic("ringbuf: push on full ring")
	}
	r.buf[r.slot(r.count)] = v
	r.count++
}

// PopFront removes and returns the oldest element.
func (r *Ring[T]) PopFront() T {
	v := r.buf[r.head]
	var zero T
	r.buf[r.head] = zero
	r.head = (r.head + 1) & r.mask
	r.count--
	return v
}

// At returns the i-th oldest element without removing it (0 is the
// oldest, Len()-1 the newest).
func (r *Ring[T]) At(i int) T { return r.buf[r.slot(i)] }

// Set overwrites the i-th oldest element in place.
func (r *Ring[T]) Set(i int, v T) { r.buf[r.slot(i)] = v }

// Oldest returns the oldest element without removing it. Panics if empty.
func (r *Ring[T]) Oldest() T {
	if r.count == 0 {
		panic("ringbuf: Oldest on empty ring")
	}
	return r.At(0)
}

// Newest returns the most recently pushed element. Panics if empty.
func (r *Ring[T]) Newest() T {
	if r.count == 0 {
		panic("ringbuf: Newest on empty ring")
	}
	return r.At(r.count - 1)
}

// RemoveAt removes the i-th oldest element, shifting every later element
// one slot toward the front, mirroring the DPB's O(n) shift-on-pop of an
// arbitrary (not necessarily oldest) decoded picture.
func (r *Ring[T]) RemoveAt(i int) {
	for j := i; j < r.count-1; j++ {
		r.Set(j, r.At(j+1))
	}
	var zero T
	r.Set(r.count-1, zero)
	r.count--
}

// Each calls fn for every element from oldest to newest, stopping early if
// fn returns false.
func (r *Ring[T]) Each(fn func(i int, v T) bool) {
	for i := 0; i < r.count; i++ {
		if !fn(i, r.At(i)) {
			return
		}
	}
}
