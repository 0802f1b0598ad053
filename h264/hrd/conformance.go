/*
NAME
  conformance.go

DESCRIPTION
  conformance.go implements the Annex C.3/A.3 bitstream conformance checks
  ProcessAU runs against each access unit, per checkH264CpbHrdConformanceTests.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package hrd

import (
	"math"

	"github.com/ausocean/libbluav/errorkind"
)

// fRForLevel selects f_R per Annex C.3.4/A.3.1-2.a): 1/300 for levels
// 60..62, otherwise 1/344 for a field picture or 1/172 for a frame picture.
func fRForLevel(levelIDC uint8, fieldPic bool) float64 {
	switch {
	case 60 <= levelIDC && levelIDC <= 62:
		return 1.0 / 300.0
	case fieldPic:
		return 1.0 / 344.0
	default:
		return 1.0 / 172.0
	}
}

// checkConformance runs the Annex C.3/A.3 checks that apply to trN (the
// access unit's nominal removal time), skipping the n>0-only checks for the
// stream's first access unit per checkH264CpbHrdConformanceTests.
func (v *Verifier) checkConformance(au AccessUnit, trN uint64) error {
	if v.nbProcessedAU == 0 {
		return v.checkFirstAUConformance(au)
	}

	tfPrev := v.clockTime
	trPrev := v.prev.removalTime

	if au.IsNewBufferingPeriod && v.prev.initialCPBRemovalDelay == au.InitialCPBRemovalDelay {
		deltaTg90 := v.convertTime(trN-tfPrev) * clock90kHz
		if math.Ceil(deltaTg90) < float64(au.InitialCPBRemovalDelay) {
			rule := "C-15"
			if v.cbr {
				rule = "C-16"
			}
			return errorkind.NewHRDViolation(rule, errorkind.CpbUnderflow,
				math.Ceil(deltaTg90), float64(au.InitialCPBRemovalDelay))
		}
		if v.cbr && float64(au.InitialCPBRemovalDelay) < math.Floor(deltaTg90) {
			return errorkind.NewHRDViolation("C-16", errorkind.CpbUnderflow,
				float64(au.InitialCPBRemovalDelay), math.Floor(deltaTg90))
		}
	}

	fR := fRForLevel(au.LevelIDC, au.SliceHeader.FieldPicFlag)
	if v.constraints.MaxMBPS != 0 {
		minDelay := math.Max(float64(v.prev.picSizeInMbs)/float64(v.constraints.MaxMBPS), fR)
		if float64(trN-trPrev) < minDelay*v.second {
			return errorkind.NewHRDViolation("A.3.1.a", errorkind.CpbUnderflow,
				v.convertTime(trN-trPrev), minDelay)
		}
	}

	if v.constraints.MaxMBPS != 0 && v.constraints.MinCR != 0 {
		maxAULength := math.Abs(384.0 * float64(v.constraints.MaxMBPS) * v.convertTime(trN-trPrev) / float64(v.constraints.MinCR) * 8.0)
		if maxAULength < float64(au.Length) {
			return errorkind.NewHRDViolation("A.3.1.d", errorkind.CpbUnderflow,
				maxAULength/8, float64(au.Length)/8)
		}
	}

	if v.constraints.MaxMBPS != 0 && v.constraints.SliceRate != 0 {
		maxNbSlices := float64(v.constraints.MaxMBPS) * v.convertTime(trN-trPrev) / float64(v.constraints.SliceRate)
		if maxNbSlices < float64(au.NbSlices) {
			return errorkind.NewHRDViolation("A.3.3.b", errorkind.CpbUnderflow,
				maxNbSlices, float64(au.NbSlices))
		}
	}

	return nil
}

// checkFirstAUConformance runs the n==0 variants of the A.3.1.c/A.3.3.a
// checks, sized from the current AU's own picture size rather than the
// (nonexistent) n-1 AU's.
func (v *Verifier) checkFirstAUConformance(au AccessUnit) error {
	fR := fRForLevel(au.LevelIDC, au.SliceHeader.FieldPicFlag)

	if v.constraints.MaxMBPS != 0 && v.constraints.MinCR != 0 {
		maxAULength := math.Abs(384.0 * math.Max(float64(au.SliceHeader.PicSizeInMbs), fR*float64(v.constraints.MaxMBPS)) / float64(v.constraints.MinCR) * 8.0)
		if maxAULength < float64(au.Length) {
			return errorkind.NewHRDViolation("A.3.1.c", errorkind.CpbUnderflow,
				maxAULength/8, float64(au.Length)/8)
		}
	}

	if v.constraints.MaxMBPS != 0 && v.constraints.SliceRate != 0 {
		maxNbSlices := math.Ceil(math.Max(float64(au.SliceHeader.PicSizeInMbs), fR*float64(v.constraints.MaxMBPS)) / float64(v.constraints.SliceRate))
		if maxNbSlices < float64(au.NbSlices) {
			return errorkind.NewHRDViolation("A.3.3.a", errorkind.CpbUnderflow,
				maxNbSlices, float64(au.NbSlices))
		}
	}

	return nil
}
