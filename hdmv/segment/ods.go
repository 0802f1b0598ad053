/*
NAME
  ods.go

DESCRIPTION
  ods.go writes Object Definition Segments, fragmenting object_data() across
  segments, per spec.md §6's ODS payload and hdmv_builder.c's
  _writeODSegments/_buildObjectData.

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

	"github.com/ausocean/libbluav/hdmv/object"
	"github.com/ausocean/utils/logging"
)

const sizeObjectDescriptor = 3 // object_id(2) + object_version(1)

// Object is one HDMV object ready for ODS emission: an already RLE-encoded
// palette-indexed bitmap plus its identity.
type Object struct {
	ID      uint16
	Version uint8
	Width   uint16
	Height  uint16
	RLE     []byte
}

func (w *Writer) writeObjectDescriptor(id uint16, version uint8) error {
	if err := w.reserve(sizeObjectDescriptor); err != nil {
		return err
	}
	var b [sizeObjectDescriptor]byte
	binary.BigEndian.PutUint16(b[0:2], id)
	b[2] = version
	w.emit(b[:])
	return nil
}

// writeODS writes the (possibly fragmented) Object Definition Segments for
// one object, per _writeODSegments' per-object loop.
func (w *Writer) writeODS(obj Object) error {
	data := object.BuildData(obj.Width, obj.Height, obj.RLE)
	frags := object.FragmentData(data)

	for _, frag := range frags {
		payload := object.ODSFragmentHeaderSize + len(frag.Payload)
		if err := w.writeSegmentHeader(TypeODS, payload); err != nil {
			return err
		}
		if err := w.writeObjectDescriptor(obj.ID, obj.Version); err != nil {
			return err
		}
		if err := w.writeSequenceDescriptor(frag.FirstInSequence, frag.LastInSequence); err != nil {
			return err
		}
		if len(frag.Payload) > 0 {
			if err := w.reserve(len(frag.Payload)); err != nil {
				return err
			}
			w.emit(frag.Payload)
		}
	}
	return nil
}

// writeODSegments writes every object's Object Definition Segments in
// order, per _writeODSegments. An empty slice logs a warning and writes
// nothing, mirroring "No object in composition.".
func (w *Writer) writeODSegments(objects []Object) error {
	if len(objects) == 0 {
		w.logf(logging.Warning, "segment: no object in composition")
		return nil
	}
	for _, obj := range objects {
		if err := w.writeODS(obj); err != nil {
			return err
		}
	}
	return nil
}
