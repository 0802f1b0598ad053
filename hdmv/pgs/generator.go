/*
NAME
  generator.go

DESCRIPTION
  generator.go implements the PGS generator stepper: Tick() folds one
  rendered subtitle frame into the current Epoch, and Close() finalises an
  Epoch into windows, palettised objects and decoder-model timing, per
  spec.md §4.8 and pgs_generator.c's newFramePgsFrameSequence/
  _processCompletePgsFrameSequence/_addNewObjectPgsFrameSequence.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package pgs

import (
	"hash/fnv"

	"github.com/pkg/errors"

	"github.com/ausocean/libbluav/errorkind"
	"github.com/ausocean/libbluav/hdmv/bitmap"
	"github.com/ausocean/libbluav/hdmv/color"
	"github.com/ausocean/libbluav/hdmv/object"
	"github.com/ausocean/libbluav/hdmv/quant"
	"github.com/ausocean/libbluav/hdmv/rect"
	"github.com/ausocean/libbluav/hdmv/tree"
	"github.com/ausocean/utils/logging"
)

// MaxObjectsPerEpoch is HDMV_OD_PG_MAX_NB_OBJ: the ceiling on unique object
// ids an Epoch may allocate.
const MaxObjectsPerEpoch = 64

// DecodedObjectBufferSize is HDMV_PG_DB_SIZE: the Presentation Graphics
// decoder's 4 MiB Decoded Object Buffer, per the BD-ROM AV spec (the
// constant's value is not present in the pruned original_source headers;
// 4 MiB is the published PG decoder DB size).
const DecodedObjectBufferSize = 4 * 1024 * 1024

// Log is the diagnostic message signature injected into a Generator,
// mirroring the field-injection convention used across this module.
type Log func(lvl int8, msg string, args ...interface{})

// Option configures a Generator at construction.
type Option func(*Generator)

// WithLog installs a diagnostic log sink.
func WithLog(l Log) Option {
	return func(g *Generator) { g.Log = l }
}

// Generator is the PGS decoder-model stepper, processing one rendering
// tick at a time.
type Generator struct {
	VideoWidth, VideoHeight uint16
	Interactive             bool // selects the IG pixel decoding rate.
	Log                     Log

	cur      *Sequence
	lastSeq  *Sequence
	prevEmpty bool
}

// NewGenerator returns a Generator sized to videoWidth x videoHeight.
func NewGenerator(videoWidth, videoHeight uint16, opts ...Option) *Generator {
	g := &Generator{VideoWidth: videoWidth, VideoHeight: videoHeight, prevEmpty: true}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) logf(lvl int8, msg string, args ...interface{}) {
	if g.Log != nil {
		g.Log(lvl, msg, args...)
	}
}

// Tick processes one rendering tick at timestamp (27 MHz clock ticks),
// folding regions into the current Epoch, per spec.md §4.8 steps 1-4. It
// returns the Sequence that was closed as a side effect of this tick (an
// Epoch Start following a cleared run), or nil if no Epoch closed.
func (g *Generator) Tick(timestamp int64, regions []Region) (*Sequence, error) {
	empty := len(regions) == 0

	if g.prevEmpty && empty {
		return nil, nil
	}

	if g.prevEmpty && !empty {
		closed, err := g.closePending()
		if err != nil {
			return nil, err
		}
		g.cur = &Sequence{prevSeq: g.lastSeq}
		f := g.cur.newFrame(timestamp)
		f.Regions = mergeRegions(regions)
		g.prevEmpty = false
		return closed, nil
	}

	// !g.prevEmpty: append to the open Epoch, whether this tick carries
	// content (a change within the run) or clears it (the run's trailing
	// frame, closed lazily on the next Epoch Start).
	f := g.cur.newFrame(timestamp)
	f.Regions = mergeRegions(regions)
	f.NonAcquisitionPoint = true
	g.prevEmpty = empty
	return nil, nil
}

// Close finalises any pending Epoch at end of stream, returning it (or nil
// if none is open).
func (g *Generator) Close() (*Sequence, error) {
	return g.closePending()
}

func (g *Generator) closePending() (*Sequence, error) {
	if g.cur == nil {
		return nil, nil
	}
	seq := g.cur
	if err := g.process(seq); err != nil {
		return nil, err
	}
	seq.nextSeq = nil
	g.lastSeq = seq
	g.cur = nil
	return seq, nil
}

// mergeRegions caps regions to MaxCompositionObjectsPerFrame by feeding
// every rectangle through a merge tree and reading back its top-level
// windows, per spec.md §4.8's "iteratively merged until two remain".
// Pixels from all regions sharing a merged window are composited into one
// bitmap sized to the merged rectangle; uncovered pixels stay transparent.
func mergeRegions(regions []Region) []Region {
	if len(regions) <= MaxCompositionObjectsPerFrame {
		return regions
	}

	mt := tree.NewMergeTree()
	for _, r := range regions {
		mt.Insert(r.Pos)
	}

	merged := make([]Region, 0, MaxCompositionObjectsPerFrame)
	for _, win := range mt.Windows() {
		pix := make([]uint32, int(win.W)*int(win.H))
		for _, r := range regions {
			if !rect.Collide(win, r.Pos) {
				continue
			}
			for y := uint16(0); y < r.Pos.H; y++ {
				for x := uint16(0); x < r.Pos.W; x++ {
					dstX, dstY := r.Pos.X+x-win.X, r.Pos.Y+y-win.Y
					pix[int(dstY)*int(win.W)+int(dstX)] = r.RGBA[int(y)*int(r.Pos.W)+int(x)]
				}
			}
		}
		merged = append(merged, Region{Pos: win, RGBA: pix})
	}
	return merged
}

// process finalises seq: builds its windows, a shared palette, registers
// every frame's objects and validates the decoder-model timing budget, per
// _processCompletePgsFrameSequence.
func (g *Generator) process(seq *Sequence) error {
	if seq.first == nil {
		return nil
	}

	mt := tree.NewMergeTree()
	for f := seq.first; f != nil; f = f.next {
		for _, r := range f.Regions {
			mt.Insert(r.Pos)
		}
	}
	seq.Windows = mt.Windows()

	pal, err := g.buildPalette(seq)
	if err != nil {
		return err
	}

	for f := seq.first; f != nil; f = f.next {
		if err := g.registerFrameObjects(seq, f, pal); err != nil {
			return err
		}
	}

	for f := seq.first; f != nil; f = f.next {
		computeFrameTiming(seq, f, g.VideoWidth, g.VideoHeight)
	}

	// MinDrawingDuration is the Epoch's own cross-window floor, derived from
	// its widest single-frame drawing requirement. It must be known before
	// any decode-time check below, since a frame's own check depends on the
	// whole Epoch's floor, not just its predecessor's.
	for f := seq.first; f != nil; f = f.next {
		if f.MinDrawingDuration > seq.MinDrawingDuration {
			seq.MinDrawingDuration = f.MinDrawingDuration
		}
	}

	var prevFrame *Frame
	for f := seq.first; f != nil; f = f.next {
		if err := g.checkDecodeTime(seq, f, prevFrame); err != nil {
			return err
		}
		prevFrame = f
	}

	return nil
}

func (g *Generator) buildPalette(seq *Sequence) (*color.Palette, error) {
	qt := quant.NewTree()
	for f := seq.first; f != nil; f = f.next {
		for _, r := range f.Regions {
			if len(r.RGBA) == 0 {
				continue
			}
			if err := qt.InsertBitmap(r.RGBA, len(r.RGBA), 1, color.Size); err != nil {
				return nil, err
			}
		}
	}
	pal := &color.Palette{}
	pal.Init(0, 0, color.BT709)
	if err := qt.ToPalette(pal); err != nil {
		return nil, err
	}
	return pal, nil
}

// windowIndexFor returns the index of the window in seq.Windows that
// contains pos, or -1 if none does.
func windowIndexFor(seq *Sequence, pos rect.Rect) int {
	for i, w := range seq.Windows {
		if rect.Inside(w, pos) {
			return i
		}
	}
	return -1
}

func hashRLE(rle []byte) uint64 {
	h := fnv.New64a()
	h.Write(rle)
	return h.Sum64()
}

// registerFrameObjects palettises f's regions against pal and assigns each
// one a composition object bound to an object id/version, deduplicating
// unchanged content per window slot, per _addNewObjectPgsFrameSequence.
func (g *Generator) registerFrameObjects(seq *Sequence, f *Frame, pal *color.Palette) error {
	f.Objects = make([]CompositionObject, 0, len(f.Regions))

	for _, r := range f.Regions {
		winID := windowIndexFor(seq, r.Pos)
		if winID < 0 {
			return errors.Errorf("pgs: region %+v does not fit any Epoch window", r.Pos)
		}

		bm := &bitmap.Bitmap{RGBA: r.RGBA, Width: r.Pos.W, Height: r.Pos.H}
		palettised := bitmap.ApplyPalette(bm, pal, false)
		rle, _, err := object.Encode(palettised)
		if err != nil {
			return err
		}

		idx := g.objectSlotFor(seq, winID, r.Pos.W, r.Pos.H)
		slot := seq.objects[idx]

		key := hashRLE(rle)
		version := -1
		for i, v := range slot.versions {
			if hashRLE(v.rle) == key {
				version = i
				break
			}
		}
		if version < 0 {
			decSize := uint32(len(rle))
			if DecodedObjectBufferSize < seq.dobUsage+decSize {
				return errorkind.DOBOverflow
			}
			version = len(slot.versions)
			slot.versions = append(slot.versions, objectVersion{rle: rle, version: uint8(version & 0xFF)})
			seq.dobUsage += decSize
			g.logf(logging.Debug, "pgs: object %d version %d registered, DOB usage %d/%d",
				idx, version, seq.dobUsage, DecodedObjectBufferSize)
		}
		slot.versions[version].references = append(slot.versions[version].references, f)

		f.Objects = append(f.Objects, CompositionObject{
			ObjectIDRef: uint16(idx),
			WindowID:    winID,
			Pos:         r.Pos,
		})
	}
	return nil
}

// objectSlotFor returns the object id assigned to winID, allocating a new
// slot the first time that window is used, per seq.nb_used_objects.
func (g *Generator) objectSlotFor(seq *Sequence, winID int, width, height uint16) int {
	for i, slot := range seq.objects {
		if slot.width == width && slot.height == height && i == winID {
			return i
		}
	}
	for len(seq.objects) <= winID {
		seq.objects = append(seq.objects, nil)
	}
	if seq.objects[winID] == nil {
		seq.objects[winID] = &objectSlot{
			width:          width,
			height:         height,
			decodeDuration: ODSDecodeDuration(width, height, g.Interactive),
		}
	}
	return winID
}

// checkDecodeTime validates f's decode budget against its predecessor, per
// _checkDecodeTimePgsFrame.
func (g *Generator) checkDecodeTime(seq *Sequence, f, prevFrame *Frame) error {
	if prevFrame == nil {
		if seq.prevSeq == nil || seq.prevSeq.last == nil {
			return nil
		}
		prevTick := seq.prevSeq.last.Timestamp
		if prevTick+seq.prevSeq.MinDrawingDuration > f.Timestamp {
			return errors.Wrap(errorkind.SequenceTooDense, "pgs: previous Epoch windows cannot be drawn fast enough")
		}
		if prevTick+f.DecodeDuration > f.Timestamp {
			return errors.Wrap(errorkind.SequenceTooDense, "pgs: insufficient interval with previous Epoch")
		}
		return nil
	}

	if prevFrame.Timestamp+seq.MinDrawingDuration > f.Timestamp {
		return errors.Wrap(errorkind.SequenceTooDense, "pgs: windows cannot be drawn fast enough before this frame")
	}
	if prevFrame.Timestamp+f.DecodeDuration > f.Timestamp {
		return errors.Wrap(errorkind.SequenceTooDense, "pgs: insufficient interval with previous frame")
	}
	return nil
}
