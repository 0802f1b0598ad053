/*
NAME
  marking.go

DESCRIPTION
  marking.go implements the H.264 §8.2.5 decoded reference picture marking
  process applied to each picture transferred from the CPB to the DPB.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package hrd

import (
	"github.com/pkg/errors"

	"github.com/ausocean/libbluav/errorkind"
	"github.com/ausocean/utils/logging"
)

// applyDecodedReferencePictureMarking runs H.264 §8.2.5.1 for one picture
// being transferred into the DPB, per
// applyDecodedReferencePictureMarkingProcessDPBH264Context.
func (v *Verifier) applyDecodedReferencePictureMarking(pic *PicInfo) error {
	if pic.IdrPicFlag {
		v.markAllUnused()
		if pic.Usage != UsedAsLongTermReference {
			v.maxLongTermFrameIdx = -1
		} else {
			pic.LongTermFrameIdx = 0
			v.maxLongTermFrameIdx = 0
		}
	} else if len(pic.MemMgmtOps) > 0 {
		for _, op := range pic.MemMgmtOps {
			var err error
			switch op.Op {
			case 1:
				err = v.markShortTermUnused(op.DifferenceOfPicNumsMinus1, pic)
			case 2:
				err = v.markLongTermUnused(op.LongTermPicNum)
			case 3:
				err = v.markShortTermAsLongTerm(pic.FrameNum, op.LongTermFrameIdx)
			case 4:
				v.defineMaxLongTermFrameIdx(maxLongTermFrameIdxFromPlus1(op.MaxLongTermFrameIdxPlus1))
			case 5:
				v.clearAllReferencePictures()
			case 6:
				// Handled by the caller via PicInfo.Usage; nothing further
				// to apply here.
			default:
				return errors.Errorf("hrd: unknown memory_management_control_operation %d", op.Op)
			}
			if err != nil {
				return err
			}
		}
	} else {
		if maxU64_1(v.maxNumRefFrames) <= uint64(v.numLongTerm) {
			return errors.Errorf("hrd: adaptive_ref_pic_marking_mode_flag should be set (too many long-term pictures: %d)", v.numLongTerm)
		}
		if err := v.slidingWindow(pic.FrameNum); err != nil {
			return err
		}
	}

	if maxU64_1(v.maxNumRefFrames) < uint64(v.numShortTerm+v.numLongTerm) {
		return errorkind.NewHRDViolation("8.2.5.1", errorkind.DpbReferenceOverflow,
			float64(v.numShortTerm), float64(v.numLongTerm), float64(maxU64_1(v.maxNumRefFrames)))
	}
	return nil
}

func maxLongTermFrameIdxFromPlus1(plus1 uint32) int64 {
	if plus1 == 0 {
		return -1
	}
	return int64(plus1) - 1
}

func maxU64_1(n uint64) uint64 {
	if n > 1 {
		return n
	}
	return 1
}

func (v *Verifier) markAllUnused() {
	v.dpb.Each(func(i int, p DPBEntry) bool {
		p.Usage = NotUsedAsReference
		v.dpb.Set(i, p)
		return true
	})
	v.numShortTerm = 0
	v.numLongTerm = 0
}

// picNum computes pic_num (H.264 §8.2.4.1) for the picture currently being
// marked.
func picNum(pic *PicInfo) uint32 {
	if pic.FieldPicFlag {
		return 2*pic.FrameNum + 1
	}
	return pic.FrameNum
}

// markShortTermUnused implements memory_management_control_operation 1
// (§8.2.5.4.1). The source documents picNumX's computation as buggy: it
// subtracts (difference_of_pic_nums_minus1+1) from pic_num and then
// compares the result against DPB entries' frame_num directly, which only
// coincides with the correct picNumX/frame_num relationship while no frame
// number wraparound has occurred. This mirrors that behaviour rather than
// correcting it, per spec.md's Open Questions, and logs when the lookup
// misses every DPB entry.
func (v *Verifier) markShortTermUnused(differenceOfPicNumsMinus1 uint32, pic *PicInfo) error {
	picNumX := picNum(pic) - (differenceOfPicNumsMinus1 + 1)

	found := false
	for i := 0; i < v.dpb.Len(); i++ {
		p := v.dpb.At(i)
		if p.FrameNum != picNumX {
			continue
		}
		found = true
		if p.Usage != UsedAsShortTermReference {
			return errors.Errorf("hrd: picNumX %d does not refer to a short-term reference picture", picNumX)
		}
		p.Usage = NotUsedAsReference
		v.dpb.Set(i, p)
		v.numShortTerm--
	}
	if !found {
		v.logf(logging.Debug, "hrd: markShortTermUnused found no DPB entry for picNumX", "rule", "dpb-mmco1-pnx", "picNumX", picNumX)
	}
	return nil
}

func (v *Verifier) markLongTermUnused(frameNum uint32) error {
	for i := 0; i < v.dpb.Len(); i++ {
		p := v.dpb.At(i)
		if p.FrameNum != frameNum {
			continue
		}
		if p.Usage != UsedAsLongTermReference {
			return errors.Errorf("hrd: frame_num %d does not refer to a long-term reference picture", frameNum)
		}
		p.Usage = NotUsedAsReference
		v.dpb.Set(i, p)
		v.numLongTerm--
		return nil
	}
	return errors.Errorf("hrd: unable to mark long-term reference unused, unknown frame_num %d", frameNum)
}

func (v *Verifier) markShortTermAsLongTerm(frameNum uint32, longTermFrameIdx uint32) error {
	if v.maxLongTermFrameIdx < 0 || uint32(v.maxLongTermFrameIdx) < longTermFrameIdx {
		return errors.Errorf("hrd: LongTermFrameIdx %d exceeds MaxLongTermFrameIdx %d", longTermFrameIdx, v.maxLongTermFrameIdx)
	}

	idx := -1
	for i := 0; i < v.dpb.Len(); i++ {
		if v.dpb.At(i).FrameNum == frameNum {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.Errorf("hrd: unable to mark short-term reference as long-term, unknown frame_num %d", frameNum)
	}
	p := v.dpb.At(idx)
	if p.Usage != UsedAsShortTermReference {
		return errors.Errorf("hrd: frame_num %d does not refer to a short-term reference picture", frameNum)
	}

	for i := 0; i < v.dpb.Len(); i++ {
		sub := v.dpb.At(i)
		if sub.Usage == UsedAsLongTermReference && sub.LongTermFrameIdx == longTermFrameIdx {
			sub.Usage = NotUsedAsReference
			v.dpb.Set(i, sub)
			v.numLongTerm--
			break
		}
	}

	p.Usage = UsedAsLongTermReference
	p.LongTermFrameIdx = longTermFrameIdx
	v.dpb.Set(idx, p)
	v.numLongTerm++
	v.numShortTerm--
	return nil
}

// defineMaxLongTermFrameIdx implements memory_management_control_operation
// 4. The source reads its `update` flag without initialising it on the
// `new >= old` path, so the subsequent unmark loop only runs when the new
// ceiling is strictly lower than the previous one — per spec.md's Open
// Questions this "never update on non-decrease" short-circuit is
// reproduced rather than corrected, while maxLongTermFrameIdx is still
// always recorded.
func (v *Verifier) defineMaxLongTermFrameIdx(newMax int64) {
	update := newMax < v.maxLongTermFrameIdx
	v.maxLongTermFrameIdx = newMax

	if !update {
		if v.numLongTerm > 0 {
			v.logf(logging.Warning, "hrd: MaxLongTermFrameIdx not lowered, long-term pictures not swept", "rule", "dpb-mmco4-noop", "maxLongTermFrameIdx", newMax)
		}
		return
	}
	for i := 0; i < v.dpb.Len(); i++ {
		p := v.dpb.At(i)
		if p.Usage != UsedAsLongTermReference {
			continue
		}
		if newMax < 0 || uint32(newMax) < p.LongTermFrameIdx {
			p.Usage = NotUsedAsReference
			v.dpb.Set(i, p)
			v.numLongTerm--
		}
	}
}

func (v *Verifier) clearAllReferencePictures() {
	v.markAllUnused()
	v.maxLongTermFrameIdx = -1
}

// slidingWindow implements H.264 §8.2.5.3: when the DPB is at its reference
// capacity, evict the short-term reference with the smallest FrameNumWrap.
func (v *Verifier) slidingWindow(frameNum uint32) error {
	if maxU64_1(v.maxNumRefFrames) > uint64(v.numShortTerm+v.numLongTerm) {
		return nil
	}
	if v.numShortTerm == 0 {
		return errors.New("hrd: DPB reference pictures cannot be only long-term (no room to slide)")
	}

	oldest := -1
	var minWrap int64
	for i := 0; i < v.dpb.Len(); i++ {
		p := v.dpb.At(i)
		if p.Usage != UsedAsShortTermReference {
			continue
		}
		var wrap int64
		if frameNum < p.FrameNum {
			wrap = int64(p.FrameNum) - int64(v.maxFrameNum)
		} else {
			wrap = int64(p.FrameNum)
		}
		if oldest < 0 || wrap < minWrap {
			oldest = i
			minWrap = wrap
		}
	}
	if oldest < 0 {
		return errors.New("hrd: sliding window found no short-term reference to evict")
	}

	p := v.dpb.At(oldest)
	p.Usage = NotUsedAsReference
	v.dpb.Set(oldest, p)
	v.numShortTerm--
	return nil
}
