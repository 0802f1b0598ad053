/*
NAME
  timing.go

DESCRIPTION
  timing.go implements the PGS decoder-model timing formulas of spec.md
  §4.8, grounded on pgs_generator.c's
  _computePlaneInitializationTime/_computeWindowTransferDuration/
  _computeAndSetCompositionDecodingDurations and hdmv_data.c's
  computeObjectDataDecodeDuration.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package pgs

import "github.com/ausocean/libbluav/hdmv/rect"

// pixelDecodingDivider is the PG object pixel decoding rate divider: PG
// decodes at 128 Mb/s, compacted to 9*area/1600, per
// computeObjectDataDecodeDuration's HDMV_STREAM_TYPE_PGS case.
const pixelDecodingDivider = 1600

// pixelDecodingDividerIG is the IG equivalent (64 Mb/s), kept for callers
// building Interactive Graphics objects through this same generator.
const pixelDecodingDividerIG = 800

func divRoundUp(n, d int64) int64 {
	return (n + d - 1) / d
}

// ODSDecodeDuration is ODS_DECODE_DURATION(obj): ceil(9*w*h/1600) for PG,
// ceil(9*w*h/800) for IG.
func ODSDecodeDuration(width, height uint16, interactive bool) int64 {
	divider := int64(pixelDecodingDivider)
	if interactive {
		divider = pixelDecodingDividerIG
	}
	return divRoundUp(9*int64(width)*int64(height), divider)
}

// WindowTransferDuration is WINDOW_TRANSFER_DURATION(win):
// ceil(9*area/3200), per _computeWindowTransferDuration.
func WindowTransferDuration(win rect.Rect) int64 {
	return divRoundUp(9*int64(win.Area()), 3200)
}

// planeInitializationTime is PLANE_INITIALIZATION_TIME(DS_n), per
// _computePlaneInitializationTime. videoWidth/videoHeight describe the
// whole graphical plane, used only when f is the first frame of an Epoch.
func planeInitializationTime(s *Sequence, f *Frame, videoWidth, videoHeight uint16) int64 {
	if f.prev == nil {
		// Epoch start: clear the whole plane, no ceiling, no extra tick.
		return 9 * int64(videoWidth) * int64(videoHeight) / 3200
	}

	var init int64
	for winID, win := range s.Windows {
		empty := true
		for _, co := range f.Objects {
			if co.WindowID == winID {
				empty = false
				break
			}
		}
		if empty {
			init += divRoundUp(9*int64(win.Area()), 3200)
		}
	}
	return init + 1
}

// frameObjectDecodeDuration is _getFrameObjectDecodingDuration: the decode
// duration of objIDRef if it is actually used by f, else 0.
func frameObjectDecodeDuration(s *Sequence, f *Frame, objIDRef uint16) int64 {
	for _, co := range f.Objects {
		if co.ObjectIDRef == objIDRef {
			return s.objects[objIDRef].decodeDuration
		}
	}
	return 0
}

// minimalObjectsDecodingDuration is
// _computeMinimalObjectsDecodingDuration: the sum of every object this
// frame actually carries, ignoring window sharing/transfer overlap.
func minimalObjectsDecodingDuration(s *Sequence, f *Frame) int64 {
	var total int64
	for _, co := range f.Objects {
		total += s.objects[co.ObjectIDRef].decodeDuration
	}
	return total
}

// computeFrameTiming fills f's InitDuration/MinDrawingDuration/
// MinObjDecodeDuration/DecodeDuration fields, per
// _computeAndSetCompositionDecodingDurations.
func computeFrameTiming(s *Sequence, f *Frame, videoWidth, videoHeight uint16) {
	decodeDuration := planeInitializationTime(s, f, videoWidth, videoHeight)
	f.InitDuration = decodeDuration

	var minDrawing int64

	switch len(f.Objects) {
	case 2:
		obj0, obj1 := f.Objects[0], f.Objects[1]
		d0 := frameObjectDecodeDuration(s, f, obj0.ObjectIDRef)
		d1 := frameObjectDecodeDuration(s, f, obj1.ObjectIDRef)

		decodeDuration = maxI64(decodeDuration, d0)

		if obj0.WindowID == obj1.WindowID {
			decodeDuration = maxI64(decodeDuration, d0+d1)
			t0 := WindowTransferDuration(s.Windows[obj0.WindowID])
			decodeDuration += t0
			minDrawing += t0
		} else {
			t0 := WindowTransferDuration(s.Windows[obj0.WindowID])
			decodeDuration += t0
			minDrawing += t0
			decodeDuration = maxI64(decodeDuration, d0+d1)
			t1 := WindowTransferDuration(s.Windows[obj1.WindowID])
			decodeDuration += t1
			minDrawing += t1
		}

	case 1:
		obj0 := f.Objects[0]
		d0 := frameObjectDecodeDuration(s, f, obj0.ObjectIDRef)
		decodeDuration = maxI64(decodeDuration, d0)
		t0 := WindowTransferDuration(s.Windows[obj0.WindowID])
		decodeDuration += t0
		minDrawing += t0
	}

	f.MinDrawingDuration = minDrawing

	minObjDecode := minimalObjectsDecodingDuration(s, f)
	f.MinObjDecodeDuration = minObjDecode
	decodeDuration = maxI64(decodeDuration, minObjDecode)

	f.DecodeDuration = decodeDuration
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
