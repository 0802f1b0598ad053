/*
NAME
  frame.go

DESCRIPTION
  frame.go implements the PGS frame and frame sequence (Epoch) types: a
  doubly-linked list of rendered subtitle frames grouped into Epochs, per
  spec.md §3 and §4.8 and pgs_frame.h's PgsFrame/PgsFrameSequence.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package pgs implements the PGS generator: it turns a time-ordered stream
// of rendered subtitle bitmaps into PGS Display Sets (Epochs of Frames),
// tracking window/object allocation, the Decoded Object Buffer, and the
// decoder-model timing budget, per spec.md §4.8.
package pgs

import "github.com/ausocean/libbluav/hdmv/rect"

// MaxCompositionObjectsPerFrame is HDMV_MAX_NB_PC_COMPO_OBJ: a PG Display
// Set carries at most two composition objects.
const MaxCompositionObjectsPerFrame = 2

// CompositionObject is one rendered region placed within a frame, already
// bound to its window and (once the sequence closes) its object id.
type CompositionObject struct {
	ObjectIDRef uint16
	WindowID    int
	Pos         rect.Rect
}

// Frame is one rendering tick's Display Set: a snapshot of up to
// MaxCompositionObjectsPerFrame changed regions, linked to its neighbours
// within the owning Sequence, per PgsFrame.
type Frame struct {
	prev, next *Frame
	seq        *Sequence

	Timestamp int64 // 27 MHz clock ticks.

	// Regions carries the raw changed-region bitmaps for this frame, set by
	// Generator.Tick and consumed when the Generator closes the Sequence
	// (Generator.Close, or the Tick that opens the next Epoch), which
	// palettises them and populates Objects.
	Regions []Region

	// Objects is populated when the Generator closes the Sequence: one entry per Region, bound to
	// its allocated object id and window.
	Objects []CompositionObject

	// NonAcquisitionPoint marks a frame that redraws unchanged content
	// (PCS composition_state normal, not an acquisition point).
	NonAcquisitionPoint bool

	InitDuration         int64
	MinDrawingDuration   int64
	MinObjDecodeDuration int64
	DecodeDuration       int64
}

// Prev returns the previous frame in the owning sequence, or nil.
func (f *Frame) Prev() *Frame { return f.prev }

// Next returns the next frame in the owning sequence, or nil.
func (f *Frame) Next() *Frame { return f.next }

// Region is one changed rectangular area of the composite frame, rendered
// as palette-indexed pixels once the Generator closes the owning Sequence
// and quantises its shared palette.
type Region struct {
	Pos  rect.Rect
	RGBA []uint32 // row-major, Pos.W*Pos.H entries, R<<24|G<<16|B<<8|A.
}

// Sequence is a PGS Epoch: a run of Frames sharing up to two windows and a
// single Decoded Object Buffer budget, per PgsFrameSequence.
type Sequence struct {
	prevSeq, nextSeq *Sequence
	first, last      *Frame
	nbFrames         int

	Windows []rect.Rect

	objects  []*objectSlot
	dobUsage uint32

	// MinDrawingDuration is the minimal time required to fill every window
	// of this Epoch, used to validate the gap to the next Epoch.
	MinDrawingDuration int64
}

// objectSlot tracks every unique palette-indexed version registered for one
// object id within the Epoch, per PgsObjectVersionList.
type objectSlot struct {
	width, height  uint16
	decodeDuration int64
	versions       []objectVersion
}

// objectVersion is one registered bitmap payload and the frames that
// reference it, per PgsObjectVersion.
type objectVersion struct {
	rle        []byte
	version    uint8
	references []*Frame
}

// Frames returns the first frame of the sequence, or nil if empty. Walk
// forward via Frame.Next.
func (s *Sequence) Frames() *Frame { return s.first }

// NbFrames returns the number of frames registered in the sequence.
func (s *Sequence) NbFrames() int { return s.nbFrames }

// DOBUsage returns the Decoded Object Buffer bytes committed so far.
func (s *Sequence) DOBUsage() uint32 { return s.dobUsage }

// newFrame appends a new frame to the sequence's linked list, per
// newFramePgsFrameSequence.
func (s *Sequence) newFrame(timestamp int64) *Frame {
	f := &Frame{Timestamp: timestamp, seq: s}
	if s.last != nil {
		s.last.next = f
		f.prev = s.last
	} else {
		s.first = f
	}
	s.last = f
	s.nbFrames++
	return f
}
