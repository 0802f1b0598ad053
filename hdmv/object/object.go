/*
DESCRIPTION
  object.go implements the HDMV run-length object codec: encoding a
  palette-indexed bitmap into object_data() RLE bytes and back, plus
  object_data_length framing and ODS fragmentation across segments.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package object implements the HDMV object_data() run-length codec and its
// fragmentation across Object Definition Segments, per spec.md §4.5.
package object

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ausocean/libbluav/errorkind"
	"github.com/ausocean/libbluav/hdmv/bitmap"
)

// MaxRLESize returns the worst-case compressed size for a width x height
// palette-indexed bitmap: every pixel becomes its own run plus a two-byte
// end-of-line marker per row.
func MaxRLESize(width, height uint16) uint32 {
	return (uint32(width)+1) * 2 * uint32(height)
}

// LineStats reports which encoded line was the longest, used by callers
// deciding whether a fragmentation layout is efficient.
type LineStats struct {
	Size int
	Line uint16
}

// Encode run-length compresses a palette-indexed bitmap, one line at a
// time, per the four HDMV codeword forms:
//
//	0bCCCCCCCC              single pixel of non-zero colour CCCCCCCC
//	0x00 0b00LLLLLL         run of LLLLLL zero-colour pixels (L<=63)
//	0x00 0b01LLLLLL LLLLLLLL run of zero-colour pixels (L<=16383)
//	0x00 0b10LLLLLL CCCCCCCC run of LLLLLL non-zero pixels, single byte (L<=63)
//	0x00 0b11LLLLLL LLLLLLLL CCCCCCCC run of non-zero pixels (L<=16383)
//	0x00 0x00               end of line
func Encode(pal *bitmap.Palletised) ([]byte, LineStats, error) {
	width, height := int(pal.Width), int(pal.Height)
	dst := make([]byte, 0, MaxRLESize(pal.Width, pal.Height))
	var stats LineStats

	for line := 0; line < height; line++ {
		row := pal.Indices[line*width : (line+1)*width]
		lineStart := len(dst)

		var runLen int
		var runPx uint8
		pos := 0

		for {
			if runLen == 0 && pos < width {
				runPx = row[pos]
				pos++
				runLen = 1
			}

			atEOL := pos == width
			if atEOL || row[pos] != runPx || runLen == 16383 {
				switch {
				case runPx == 0x00:
					dst = append(dst, 0x00)
					if runLen <= 63 {
						dst = append(dst, byte(runLen&0x3F))
					} else {
						dst = append(dst, byte((runLen>>8)&0x3F)|0x40, byte(runLen))
					}
				case runLen <= 3:
					for i := 0; i < runLen; i++ {
						dst = append(dst, runPx)
					}
				case runLen <= 63:
					dst = append(dst, 0x00, byte(runLen&0x3F)|0x80, runPx)
				default:
					dst = append(dst, 0x00, byte((runLen>>8)&0x3F)|0xC0, byte(runLen), runPx)
				}

				runLen = 0
				if atEOL {
					break
				}
				continue
			}

			pos++
			runLen++
		}

		if size := len(dst) - lineStart; stats.Size < size {
			stats.Size = size
			stats.Line = uint16(line)
		}

		dst = append(dst, 0x00, 0x00)
	}

	return dst, stats, nil
}

// Decode inverts Encode, validating per-line width and the final two-byte
// end-of-stream marker. It returns errorkind.BrokenRLE (wrapped with
// context) on any malformed input.
func Decode(rle []byte, width, height uint16) (*bitmap.Palletised, LineStats, error) {
	w, h := int(width), int(height)
	out := &bitmap.Palletised{Indices: make([]uint8, w*h), Width: width, Height: height}

	var stats LineStats
	src := 0
	dst := 0
	lineStart := 0
	dstLineEnd := w
	curLine := 0

	for src < len(rle) && dst < len(out.Indices) {
		colorCode := rle[src]
		src++

		if colorCode != 0x00 {
			out.Indices[dst] = colorCode
			dst++
			continue
		}

		if src >= len(rle) {
			return nil, stats, errors.Wrap(errorkind.BrokenRLE, "object: truncated extended code")
		}
		flags := rle[src]
		src++

		if flags == 0x00 {
			if dst != dstLineEnd {
				return nil, stats, errors.Wrapf(errorkind.BrokenRLE,
					"object: invalid line length at line %d (want %d, got %d)", curLine, w, dst-lineStart)
			}
			if size := src - lineStart; stats.Size < size {
				stats.Size = size
				stats.Line = uint16(curLine)
			}
			lineStart = src
			dstLineEnd = dst + w
			curLine++
			continue
		}

		run := int(flags & 0x3F)
		if flags&0x40 != 0 {
			if src >= len(rle) {
				return nil, stats, errors.Wrap(errorkind.BrokenRLE, "object: truncated run length")
			}
			run = (run << 8) | int(rle[src])
			src++
		}
		colorCode = 0x00
		if flags&0x80 != 0 {
			if src >= len(rle) {
				return nil, stats, errors.Wrap(errorkind.BrokenRLE, "object: truncated run colour")
			}
			colorCode = rle[src]
			src++
		}

		if dst+run <= len(out.Indices) {
			for i := 0; i < run; i++ {
				out.Indices[dst+i] = colorCode
			}
		}
		dst += run
	}

	if src+2 != len(rle) {
		return nil, stats, errors.Wrap(errorkind.BrokenRLE, "object: unexpected end of RLE stream")
	}
	if rle[src] != 0x00 || rle[src+1] != 0x00 {
		return nil, stats, errors.Wrap(errorkind.BrokenRLE, "object: missing final end-of-line marker")
	}
	if size := src + 2 - lineStart; stats.Size < size {
		stats.Size = size
		stats.Line = uint16(curLine)
	}
	curLine++

	if dst != len(out.Indices) {
		return nil, stats, errors.Wrap(errorkind.BrokenRLE, "object: wrong decoded bitmap size")
	}
	if curLine != h {
		return nil, stats, errors.Wrapf(errorkind.BrokenRLE,
			"object: wrong number of lines (got %d, want %d)", curLine, h)
	}

	return out, stats, nil
}

// BuildData assembles the full object_data() payload: a 24-bit length
// (covering width, height and the RLE stream itself), the 16-bit width and
// height, and the RLE bytes.
func BuildData(width, height uint16, rle []byte) []byte {
	dataLength := 4 + len(rle)
	out := make([]byte, 3+dataLength)
	out[0] = byte(dataLength >> 16)
	out[1] = byte(dataLength >> 8)
	out[2] = byte(dataLength)
	binary.BigEndian.PutUint16(out[3:5], width)
	binary.BigEndian.PutUint16(out[5:7], height)
	copy(out[7:], rle)
	return out
}

// MaxSegmentPayload is HDMV_MAX_SIZE_SEGMENT_PAYLOAD: the largest payload a
// single segment (PDS/ODS/PCS/WDS/ICS/END) may carry.
const MaxSegmentPayload = 65531

// ODSFragmentHeaderSize is HDMV_SIZE_OBJECT_DEFINITION_SEGMENT_HEADER:
// object_id (u16) + object_version (u8) + sequence_descriptor (u8).
const ODSFragmentHeaderSize = 4

// FragmentCapacity is the largest object_data() slice that fits in one ODS
// fragment alongside its header.
const FragmentCapacity = MaxSegmentPayload - ODSFragmentHeaderSize

// Fragment is one object_data_fragment(), ready to be wrapped in an ODS
// segment header carrying (ObjectID, ObjectVersion) and the sequence flags.
type Fragment struct {
	Payload                         []byte
	FirstInSequence, LastInSequence bool
}

// FragmentData splits an object_data() payload across one or more ODS
// fragments of at most FragmentCapacity bytes each, per spec.md §8 scenario 6.
func FragmentData(objectData []byte) []Fragment {
	if len(objectData) == 0 {
		return []Fragment{{FirstInSequence: true, LastInSequence: true}}
	}

	var frags []Fragment
	for off := 0; off < len(objectData); off += FragmentCapacity {
		end := off + FragmentCapacity
		if end > len(objectData) {
			end = len(objectData)
		}
		frags = append(frags, Fragment{Payload: objectData[off:end]})
	}
	frags[0].FirstInSequence = true
	frags[len(frags)-1].LastInSequence = true
	return frags
}
