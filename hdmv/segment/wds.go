/*
NAME
  wds.go

DESCRIPTION
  wds.go writes the Window Definition Segment, per spec.md §6's WDS payload
  and hdmv_builder.c's _writeWDSegment/_writeWindowInfo.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package segment

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	sizeWDSHeader = 1 // number_of_windows
	sizeWindowInfo = 9 // id(1) + h_pos(2) + v_pos(2) + width(2) + height(2)
)

// WindowInfo is window_info(), per spec.md §6.
type WindowInfo struct {
	ID                   uint8
	HPosition, VPosition uint16
	Width, Height        uint16
}

// WindowDefinition is window_definition(), per spec.md §6.
type WindowDefinition struct {
	Windows []WindowInfo
}

func (w *Writer) writeWindowInfo(wi WindowInfo) error {
	if err := w.reserve(sizeWindowInfo); err != nil {
		return err
	}
	var b [sizeWindowInfo]byte
	b[0] = wi.ID
	binary.BigEndian.PutUint16(b[1:3], wi.HPosition)
	binary.BigEndian.PutUint16(b[3:5], wi.VPosition)
	binary.BigEndian.PutUint16(b[5:7], wi.Width)
	binary.BigEndian.PutUint16(b[7:9], wi.Height)
	w.emit(b[:])
	return nil
}

// writeWDS writes the Window Definition Segment, per _writeWDSegment.
func (w *Writer) writeWDS(wd WindowDefinition) error {
	if len(wd.Windows) > 255 {
		return errors.Errorf("segment: too many windows (%d)", len(wd.Windows))
	}
	payload := sizeWDSHeader + sizeWindowInfo*len(wd.Windows)
	if err := w.writeSegmentHeader(TypeWDS, payload); err != nil {
		return err
	}
	if err := w.reserve(sizeWDSHeader); err != nil {
		return err
	}
	w.emit([]byte{uint8(len(wd.Windows))})
	for _, wi := range wd.Windows {
		if err := w.writeWindowInfo(wi); err != nil {
			return err
		}
	}
	return nil
}
