/*
NAME
  pcs.go

DESCRIPTION
  pcs.go writes the Presentation Composition Segment, per spec.md §6's PCS
  payload and hdmv_builder.c's _writePCSegment/_writeCompositionObject.

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

const sizePresentationCompositionHeader = 3 // flag(1) + palette_id_ref(1) + number_of_composition_objects(1)

// Cropping is object_cropping(), present on a CompositionObject only when
// Cropped is set.
type Cropping struct {
	HPosition, VPosition uint16
	Width, Height        uint16
}

// CompositionObject is composition_object(), per spec.md §6.
type CompositionObject struct {
	ObjectIDRef          uint16
	WindowIDRef          uint8
	Cropped              bool
	HPosition, VPosition uint16
	Cropping             Cropping
}

func compositionObjectSize(co CompositionObject) int {
	n := 8 // object_id_ref(2) + window_id_ref(1) + flags(1) + h_pos(2) + v_pos(2)
	if co.Cropped {
		n += 8 // crop h_pos(2) + v_pos(2) + width(2) + height(2)
	}
	return n
}

func (w *Writer) writeCompositionObject(co CompositionObject) error {
	n := compositionObjectSize(co)
	if err := w.reserve(n); err != nil {
		return err
	}
	b := make([]byte, n)
	binary.BigEndian.PutUint16(b[0:2], co.ObjectIDRef)
	b[2] = co.WindowIDRef
	if co.Cropped {
		b[3] = 1 << 7
	}
	binary.BigEndian.PutUint16(b[4:6], co.HPosition)
	binary.BigEndian.PutUint16(b[6:8], co.VPosition)
	if co.Cropped {
		binary.BigEndian.PutUint16(b[8:10], co.Cropping.HPosition)
		binary.BigEndian.PutUint16(b[10:12], co.Cropping.VPosition)
		binary.BigEndian.PutUint16(b[12:14], co.Cropping.Width)
		binary.BigEndian.PutUint16(b[14:16], co.Cropping.Height)
	}
	w.emit(b)
	return nil
}

// PresentationComposition is presentation_composition(), per spec.md §6.
type PresentationComposition struct {
	PaletteUpdateFlag bool
	PaletteIDRef      uint8
	Objects           []CompositionObject
}

func (w *Writer) writePresentationCompositionHeader(pc PresentationComposition) error {
	if err := w.reserve(sizePresentationCompositionHeader); err != nil {
		return err
	}
	var b [sizePresentationCompositionHeader]byte
	if pc.PaletteUpdateFlag {
		b[0] = 1 << 7
	}
	b[1] = pc.PaletteIDRef
	b[2] = uint8(len(pc.Objects))
	w.emit(b[:])
	return nil
}

func presentationCompositionSize(pc PresentationComposition) int {
	n := sizePresentationCompositionHeader
	for _, co := range pc.Objects {
		n += compositionObjectSize(co)
	}
	return n
}

// writePCS writes the Presentation Composition Segment, per _writePCSegment.
func (w *Writer) writePCS(vd VideoDescriptor, cd CompositionDescriptor, pc PresentationComposition) error {
	if len(pc.Objects) > 255 {
		return errors.Errorf("segment: too many composition objects (%d)", len(pc.Objects))
	}
	payload := sizeVideoDescriptor + sizeCompositionDescriptor + presentationCompositionSize(pc)
	if err := w.writeSegmentHeader(TypePCS, payload); err != nil {
		return err
	}
	if err := w.writeVideoDescriptor(vd); err != nil {
		return err
	}
	if err := w.writeCompositionDescriptor(cd); err != nil {
		return err
	}
	if err := w.writePresentationCompositionHeader(pc); err != nil {
		return err
	}
	for _, co := range pc.Objects {
		if err := w.writeCompositionObject(co); err != nil {
			return err
		}
	}
	return nil
}
