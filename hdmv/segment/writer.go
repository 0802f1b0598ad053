/*
NAME
  writer.go

DESCRIPTION
  writer.go implements the HDMV segment building buffer: a reserve/emit/flush
  byte-buffer discipline with power-of-two growth, plus the segment header
  and the video/composition/sequence descriptors shared by every segment
  type, per spec.md §4.7 and §6 and hdmv_builder.c's HdmvBuilderContext.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package segment implements the HDMV segment builder: byte-level encoding
// of PDS/ODS/PCS/WDS/ICS/END segments and the IGS/PGS Display Set ordering
// rules, per spec.md §4.7 and §6.
package segment

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/ausocean/libbluav/errorkind"
	"github.com/ausocean/libbluav/hdmv/object"
)

// Segment type codes, per spec.md §4.7.
const (
	TypePDS uint8 = 0x14
	TypeODS uint8 = 0x15
	TypePCS uint8 = 0x16
	TypeWDS uint8 = 0x17
	TypeICS uint8 = 0x18
	TypeEND uint8 = 0x80
)

// MaxSegmentPayload is HDMV_MAX_SIZE_SEGMENT_PAYLOAD: the largest payload a
// single segment may carry, shared with the ODS fragmentation limit in
// hdmv/object.
const MaxSegmentPayload = object.MaxSegmentPayload

const (
	sizeSegmentHeader        = 3 // type(1) + length(2)
	sizeVideoDescriptor      = 5
	sizeCompositionDescriptor = 3
	sizeSequenceDescriptor   = 1
)

// Log is the diagnostic message signature injected into a Writer, mirroring
// rtcp.Log's field-injection convention.
type Log func(lvl int8, msg string, args ...interface{})

// Writer accumulates HDMV segment bytes in a reserve-then-write buffer and
// flushes them to sink, mirroring HdmvBuilderContext's used_size/
// allocated_size pair with an explicit []byte instead of a manual realloc.
type Writer struct {
	sink io.Writer
	buf  []byte
	Log  Log
}

// Option configures a Writer at construction, per SPEC_FULL.md's
// functional-options convention.
type Option func(*Writer)

// WithLog installs a diagnostic log sink.
func WithLog(l Log) Option {
	return func(w *Writer) { w.Log = l }
}

// NewWriter returns a Writer that flushes completed Display Sets to sink.
func NewWriter(sink io.Writer, opts ...Option) *Writer {
	w := &Writer{sink: sink}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Writer) logf(lvl int8, msg string, args ...interface{}) {
	if w.Log != nil {
		w.Log(lvl, msg, args...)
	}
}

// nextPow2 returns the smallest power of two >= n, and false if that value
// would overflow uint64, mirroring lb_ceil_pow2_32's overflow check.
func nextPow2(n uint64) (uint64, bool) {
	if n == 0 {
		return 1, true
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	if n == ^uint64(0) {
		return 0, false
	}
	return n + 1, true
}

// reserve grows buf's capacity so at least n more bytes can be emitted
// without reallocating, per _reqBufSizeCtx. It never shrinks the buffer and
// never truncates already-emitted bytes.
func (w *Writer) reserve(n int) error {
	used := uint64(len(w.buf))
	need := used + uint64(n)
	if need < used {
		return errors.Wrap(errorkind.SizeOverflow, "segment: requested size overflow")
	}
	newCap, ok := nextPow2(need)
	if !ok {
		return errors.Wrap(errorkind.SizeOverflow, "segment: buffer size overflow")
	}
	if uint64(cap(w.buf)) >= newCap {
		return nil
	}
	grown := make([]byte, len(w.buf), newCap)
	copy(grown, w.buf)
	w.buf = grown
	return nil
}

// emit appends p to the buffer. Callers must reserve enough room first.
func (w *Writer) emit(p []byte) {
	w.buf = append(w.buf, p...)
}

// flush writes the accumulated buffer to sink and resets it, per
// _writeCtxBufferOnOutput.
func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	if _, err := w.sink.Write(w.buf); err != nil {
		return errors.Wrap(errorkind.IO, err.Error())
	}
	w.buf = w.buf[:0]
	return nil
}

func (w *Writer) writeSegmentHeader(segType uint8, payloadLength int) error {
	if payloadLength < 0 || MaxSegmentPayload < payloadLength {
		return errors.Errorf("segment: segment length %d exceeds 0x%X bytes, broken program", payloadLength, MaxSegmentPayload)
	}
	if err := w.reserve(sizeSegmentHeader); err != nil {
		return err
	}
	var hdr [sizeSegmentHeader]byte
	hdr[0] = segType
	binary.BigEndian.PutUint16(hdr[1:3], uint16(payloadLength))
	w.emit(hdr[:])
	return nil
}

// VideoDescriptor is video_descriptor(), per spec.md §6.
type VideoDescriptor struct {
	Width, Height uint16
	FrameRateID   uint8 // low 4 bits; 0x01..0x07 per spec.md §6.
}

func (w *Writer) writeVideoDescriptor(vd VideoDescriptor) error {
	if err := w.reserve(sizeVideoDescriptor); err != nil {
		return err
	}
	var b [sizeVideoDescriptor]byte
	binary.BigEndian.PutUint16(b[0:2], vd.Width)
	binary.BigEndian.PutUint16(b[2:4], vd.Height)
	b[4] = vd.FrameRateID << 4
	w.emit(b[:])
	return nil
}

// CompositionState is composition_descriptor()'s 2-bit composition_state.
type CompositionState uint8

const (
	CompositionNormal          CompositionState = 0
	CompositionAcquisitionPoint CompositionState = 1
	CompositionEpochStart      CompositionState = 2
	CompositionEpochContinue   CompositionState = 3
)

// CompositionDescriptor is composition_descriptor(), per spec.md §6.
type CompositionDescriptor struct {
	Number uint16
	State  CompositionState
}

func (w *Writer) writeCompositionDescriptor(cd CompositionDescriptor) error {
	if err := w.reserve(sizeCompositionDescriptor); err != nil {
		return err
	}
	var b [sizeCompositionDescriptor]byte
	binary.BigEndian.PutUint16(b[0:2], cd.Number)
	b[2] = uint8(cd.State) << 6
	w.emit(b[:])
	return nil
}

func (w *Writer) writeSequenceDescriptor(firstInSequence, lastInSequence bool) error {
	if err := w.reserve(sizeSequenceDescriptor); err != nil {
		return err
	}
	var b byte
	if firstInSequence {
		b |= 1 << 7
	}
	if lastInSequence {
		b |= 1 << 6
	}
	w.emit([]byte{b})
	return nil
}

func (w *Writer) writeENDSegment() error {
	return w.writeSegmentHeader(TypeEND, 0)
}
