/*
NAME
  pds.go

DESCRIPTION
  pds.go writes Palette Definition Segments, per spec.md §6's PDS payload
  and hdmv_builder.c's _writePDSegments/_buildPaletteDefinitionEntries.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package segment

import (
	"github.com/ausocean/libbluav/hdmv/color"
	"github.com/ausocean/utils/logging"
)

const (
	sizePaletteDescriptor     = 2 // palette_id(1) + palette_version(1)
	sizePaletteDefinitionEntry = 5 // id(1) + Y(1) + Cr(1) + Cb(1) + T(1)
)

// unpackYCbCrA splits a packed Y<<24|Cb<<16|Cr<<8|A value, per
// color.packYCbCrA's layout.
func unpackYCbCrA(v uint32) (y, cb, cr, a uint8) {
	return uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)
}

func paletteEntries(p *color.Palette) []byte {
	var entries []byte
	for i := 0; i < color.Size; i++ {
		e := p.Entries[i]
		if !e.InUse {
			continue
		}
		y, cb, cr, t := unpackYCbCrA(e.YCbCr)
		entries = append(entries, byte(i), y, cr, cb, t)
	}
	return entries
}

// writePDS writes one Palette Definition Segment for p.
func (w *Writer) writePDS(p *color.Palette) error {
	entries := paletteEntries(p)
	payload := sizePaletteDescriptor + len(entries)

	if err := w.writeSegmentHeader(TypePDS, payload); err != nil {
		return err
	}
	if err := w.reserve(sizePaletteDescriptor); err != nil {
		return err
	}
	w.emit([]byte{p.ID(), p.Version})
	if len(entries) == 0 {
		return nil
	}
	if err := w.reserve(len(entries)); err != nil {
		return err
	}
	w.emit(entries)
	return nil
}

// writePDSegments writes one Palette Definition Segment per palette, per
// _writePDSegments. A nil or empty slice logs a warning and writes nothing,
// mirroring "No palette in composition.".
func (w *Writer) writePDSegments(palettes []*color.Palette) error {
	if len(palettes) == 0 {
		w.logf(logging.Warning, "segment: no palette in composition")
		return nil
	}
	for _, p := range palettes {
		if err := w.writePDS(p); err != nil {
			return err
		}
	}
	return nil
}
