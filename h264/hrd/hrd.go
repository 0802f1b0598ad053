/*
NAME
  hrd.go

DESCRIPTION
  hrd.go implements the H.264 Annex C Hypothetical Reference Decoder: a CPB
  and DPB bitstream conformance verifier driven one access unit at a time.

AUTHORS
  Alan Noble <alan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package hrd implements the H.264 Annex C Hypothetical Reference Decoder
// CPB/DPB conformance verifier, per spec.md §4.9 and §4.10. A Verifier is
// constructed from a sequence parameter set's VUI/HRD parameters and then
// stepped one access unit at a time via ProcessAU, mirroring
// processAUH264HrdContext's clock-time-ordered algorithm.
package hrd

import (
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ausocean/libbluav/codec/h264/h264dec"
	"github.com/ausocean/libbluav/errorkind"
	"github.com/ausocean/libbluav/internal/ringbuf"
	"github.com/ausocean/utils/logging"
)

// clock90kHz is the 90 kHz clock used for t_r/t_a/t_f arithmetic (Annex C).
const clock90kHz = 90000

// clock27MHz is the MPEG-2 systems clock rate of the PTS/DTS domain used
// downstream. The verifier keeps its own times in 90000*time_scale ticks
// per second and does not convert them to this clock.
const clock27MHz = 27000000

// BDAV absolute ceilings for BD-ROM AVC video elementary streams. The
// original source names these H264_BDAV_MAX_BITRATE/H264_BDAV_MAX_CPB_SIZE;
// their numeric definitions live in a header not carried into this port, so
// these reproduce the published BD-ROM AVC video HRD ceiling (40 Mbit/s,
// 30 Mbit CPB) rather than the exact constant literal.
const (
	BDAVMaxBitrate = 40_000_000
	BDAVMaxCPBSize = 30_000_000
)

// maxAUInCPB and maxPicInDPB size the ring buffers backing the CPB and DPB
// FIFOs; both must be a power of two for ringbuf's mask indexing.
const (
	maxAUInCPB  = 64
	maxPicInDPB = 16
)

// Usage is a decoded picture's reference usage, per H264_DPB_HRD_PIC_USAGE.
type Usage uint8

const (
	NotUsedAsReference Usage = iota
	UsedAsShortTermReference
	UsedAsLongTermReference
)

// Constraints carries the profile/level-derived ceilings (Annex A Table A-1,
// BD-ROM system constraints) that ProcessAU checks an access unit against.
// The original computes these from static per-level tables owned by a
// separate constraints module that is out of this port's scope; a caller
// supplies them directly instead.
type Constraints struct {
	MaxBR          uint64 // Profile MaxBR (A.3.1/A.3.3), 0 disables the j)/g) check.
	MaxCPB         uint64 // Profile MaxCPB, bits.
	CpbBrNalFactor uint64 // 1200 for baseline/main/extended/high, else profile factor.
	CpbBrVclFactor uint64
	MaxMBPS        uint64 // Table A-1 MaxMBPS for the stream's level, 0 disables A.3.1.c/d.
	MinCR          uint64 // Table A-1 MinCR for the stream's level.
	SliceRate      uint64 // Table A-1 SliceRate, 0 disables A.3.3.a/b.
}

// MemMgmtOp is one decoded reference picture marking operation from a
// slice's dec_ref_pic_marking() (H.264 §7.4.3.3), processed in list order by
// applyDecodedReferencePictureMarkingProcess.
type MemMgmtOp struct {
	Op uint8 // memory_management_control_operation, 1..6.

	DifferenceOfPicNumsMinus1 uint32 // Op 1.
	LongTermPicNum            uint32 // Op 2 (carried as frame_num per spec.md §4.10 simplification).
	LongTermFrameIdx          uint32 // Op 3, 6.
	MaxLongTermFrameIdxPlus1  uint32 // Op 4: 0 means "no long-term frame indices" (-1).
}

// PicInfo is the subset of a slice header and its SEI messages needed to
// mark and store a decoded picture, mirroring H264DpbHrdPicInfos.
type PicInfo struct {
	FrameDisplayNum  uint64
	FrameNum         uint32
	FieldPicFlag     bool
	BottomFieldFlag  bool
	IdrPicFlag       bool
	DPBOutputDelay   uint64
	Usage            Usage
	LongTermFrameIdx uint32
	MemMgmtOps       []MemMgmtOp
}

// AccessUnit describes one coded access unit submitted to ProcessAU.
type AccessUnit struct {
	Length uint64 // AU size, bits.

	InitialCPBRemovalDelay       uint64 // From the active buffering_period SEI.
	InitialCPBRemovalDelayOffset uint64
	CPBRemovalDelay              uint64 // From the picture's pic_timing SEI.
	DPBOutputDelay               uint64
	IsNewBufferingPeriod         bool

	SliceHeader   SliceHeader
	LevelIDC      uint8
	PicOrderCnt   uint64
	NbSlices      uint64
	RefPicMarking RefPicMarking
}

// SliceHeader is the slice-header subset ProcessAU needs.
type SliceHeader struct {
	FrameNum        uint32
	FieldPicFlag    bool
	BottomFieldFlag bool
	IdrPicFlag      bool
	RefPic          bool // nal_ref_idc != 0
	PicSizeInMbs    uint64
}

// RefPicMarking is dec_ref_pic_marking() (H.264 §7.4.3.3).
type RefPicMarking struct {
	NoOutputOfPriorPicsFlag       bool
	LongTermReferenceFlag         bool
	AdaptiveRefPicMarkingModeFlag bool
	Ops                           []MemMgmtOp
}

// CPBEntry is one access unit awaiting removal from the CPB, per
// H264CpbHrdAU.
type CPBEntry struct {
	AUIdx       uint64
	Length      uint64
	RemovalTime uint64 // t_r(n), 90kHz-scaled ticks.
	Pic         PicInfo
}

// DPBEntry is one decoded picture held in the DPB, per H264DpbHrdPic.
type DPBEntry struct {
	AUIdx            uint64
	FrameDisplayNum  uint64
	FrameNum         uint32
	FieldPicFlag     bool
	BottomFieldFlag  bool
	OutputTime       uint64
	Usage            Usage
	LongTermFrameIdx uint32
}

// prevAU remembers the n-1 access unit's conformance-relevant fields, per
// ctx->nMinusOneAUParameters.
type prevAU struct {
	frameNum                     uint32
	picSizeInMbs                 uint64
	levelIDC                     uint8
	removalTime                  uint64
	initialCPBRemovalDelay       uint64
	initialCPBRemovalDelayOffset uint64
}

// Verifier is an H.264 Annex C HRD CPB/DPB conformance verifier for one
// coded video sequence. A zero Verifier is not usable; construct with New.
type Verifier struct {
	cpb *ringbuf.Ring[CPBEntry]
	dpb *ringbuf.Ring[DPBEntry]

	second  float64 // 90000 * time_scale, per convertTime's denominator.
	c90     uint64   // time_scale.
	tC      uint64   // 90000 * num_units_in_tick.
	bitrate float64  // bits per clock tick (1/(90000*time_scale) s).
	cbr     bool
	cpbSize uint64
	dpbSize uint64

	maxNumRefFrames uint64
	maxFrameNum     uint64
	maxLongTermFrameIdx int64 // -1 means "no long-term pictures allowed".

	numShortTerm, numLongTerm uint

	clockTime                uint64
	nominalRemovalTimeFirstAU uint64
	nbProcessedAU             uint64
	cpbBitsOccupancy          uint64

	prev prevAU

	constraints Constraints

	// Log receives diagnostic messages at the given ausocean/utils/logging
	// level; nil disables logging.
	Log func(lvl int8, msg string, args ...interface{})
}

// New constructs a Verifier from sps's VUI/HRD parameters. The NAL HRD
// parameters at SchedSelIdx = cpb_cnt_minus1 are always the operating set;
// the nalHRD and vclHRD arguments are not read, and VCL HRD parameters are
// not consulted. maxDpbMbs is MaxDpbMbs for the stream's level (Table A-1).
func New(sps *h264dec.SPS, nalHRD, vclHRD bool, maxDpbMbs uint64, constraints Constraints) (*Verifier, error) {
	if sps == nil || !sps.VUIParametersPresentFlag || sps.VUIParameters == nil {
		return nil, errors.New("hrd: missing SPS VUI data")
	}
	vui := sps.VUIParameters
	if !vui.TimingInfoPresentFlag {
		return nil, errors.New("hrd: missing SPS VUI timing info")
	}
	if !vui.NALHRDParametersPresentFlag || vui.NALHRDParameters == nil {
		return nil, errors.New("hrd: missing SPS VUI NAL HRD parameters")
	}
	if vui.LowDelayHRDFlag {
		return nil, errors.New("hrd: low_delay_hrd_flag mode is not supported")
	}

	nal := vui.NALHRDParameters
	sel := int(nal.CPBCntMinus1) // Only the last SchedSelIdx is exercised.
	if sel >= len(nal.BitRateValueMinus1) || sel >= len(nal.CPBSizeValueMinus1) || sel >= len(nal.CBRFlag) {
		return nil, errors.New("hrd: HRD parameters missing SchedSelIdx entries")
	}
	bitRate := (nal.BitRateValueMinus1[sel] + 1) << (6 + nal.BitRateScale)
	cpbSize := (nal.CPBSizeValueMinus1[sel] + 1) << (4 + nal.CPBSizeScale)

	if err := checkProfileConstraints(bitRate, cpbSize, constraints); err != nil {
		return nil, err
	}

	picWidthInMbs := sps.PicWidthInMBSMinus1 + 1
	frameHeightInMbs := (sps.PicHeightInMapUnitsMinus1 + 1)
	if !sps.FrameMBSOnlyFlag {
		frameHeightInMbs *= 2
	}
	if picWidthInMbs == 0 || frameHeightInMbs == 0 {
		return nil, errors.New("hrd: invalid picture dimensions in SPS")
	}

	v := &Verifier{
		cpb:                 ringbuf.New[CPBEntry](maxAUInCPB),
		dpb:                 ringbuf.New[DPBEntry](maxPicInDPB),
		second:              float64(clock90kHz) * float64(vui.TimeScale),
		c90:                 uint64(vui.TimeScale),
		tC:                  clock90kHz * uint64(vui.NumUnitsInTick),
		bitrate:             float64(bitRate) / (float64(clock90kHz) * float64(vui.TimeScale)),
		cbr:                 nal.CBRFlag[sel],
		cpbSize:             cpbSize,
		dpbSize:             minU64(maxDpbMbs/(picWidthInMbs*frameHeightInMbs), 16),
		maxNumRefFrames:     sps.MaxNumRefFrames,
		maxFrameNum:         1 << (sps.Log2MaxFrameNumMinus4 + 4),
		maxLongTermFrameIdx: -1,
		constraints:         constraints,
	}
	return v, nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func checkProfileConstraints(bitRate, cpbSize uint64, c Constraints) error {
	if c.MaxBR == 0 {
		return nil // Profile does not define A.3.1.j/A.3.3.g ceilings.
	}
	maxNalBitrate := c.MaxBR * c.CpbBrNalFactor
	maxNalCPB := c.MaxCPB * c.CpbBrNalFactor
	if maxNalBitrate < bitRate {
		return errors.Errorf("hrd: A.3.1.j/A.3.3.g not satisfied (%d b/s < NAL HRD BitRate %d b/s)", maxNalBitrate, bitRate)
	}
	if BDAVMaxBitrate < bitRate {
		return errors.Errorf("hrd: bitrate exceeds BDAV ceiling (%d < %d)", BDAVMaxBitrate, bitRate)
	}
	if maxNalCPB < cpbSize {
		return errors.Errorf("hrd: A.3.1.j/A.3.3.g not satisfied (%d bits < NAL HRD CpbSize %d bits)", maxNalCPB, cpbSize)
	}
	if BDAVMaxCPBSize < cpbSize {
		return errors.Errorf("hrd: CPB size exceeds BDAV ceiling (%d < %d)", BDAVMaxCPBSize, cpbSize)
	}
	return nil
}

func (v *Verifier) logf(lvl int8, msg string, args ...interface{}) {
	if v.Log != nil {
		v.Log(lvl, msg, args...)
	}
}

// convertTime returns t (in 90000*time_scale units) as seconds.
func (v *Verifier) convertTime(t uint64) float64 { return float64(t) / v.second }

// ProcessAU steps the verifier by one access unit, mirroring
// processAUH264HrdContext: computes t_r/t_a/t_f, checks CPB underflow and
// the Annex C.3/A.3 conformance rules, drains any CPB entries whose removal
// time has been reached (transferring them to the DPB per §4.10), and
// appends au to the CPB.
func (v *Verifier) ProcessAU(au AccessUnit) error {
	var trN uint64
	if v.nbProcessedAU == 0 {
		trN = au.InitialCPBRemovalDelay * v.c90 // C-7
	} else {
		trN = v.nominalRemovalTimeFirstAU + v.tC*au.CPBRemovalDelay // C-8/C-9
	}
	if au.IsNewBufferingPeriod {
		v.nominalRemovalTimeFirstAU = trN
	}

	tfPrev := v.clockTime
	var taN uint64
	if !v.cbr {
		offset := au.InitialCPBRemovalDelayOffset
		if au.IsNewBufferingPeriod {
			offset = 0
		}
		initialTotal := v.c90 * (au.InitialCPBRemovalDelay + offset)
		var teN uint64
		if initialTotal < trN {
			teN = trN - initialTotal
		}
		taN = maxU64(tfPrev, teN)
	} else {
		taN = tfPrev
	}

	tfN := taN + uint64(math.Abs(float64(au.Length)/v.bitrate))

	if trN < tfN {
		return errorkind.NewHRDViolation("C.3.3", errorkind.CpbUnderflow,
			v.convertTime(trN), v.convertTime(tfN))
	}

	if err := v.checkConformance(au, trN); err != nil {
		return err
	}

	for {
		entry, ok := v.oldestCPB()
		if !ok || entry.RemovalTime > tfN {
			break
		}
		if err := v.removeCPBEntry(entry, taN, tfN); err != nil {
			return err
		}
	}

	if v.cpb.Full() {
		return errors.Errorf("hrd: too many access units in the CPB (%d)", v.cpb.Cap())
	}

	picInfo := picInfoFor(au)
	if v.clockTime < tfN {
		v.clockTime = tfN
	}
	v.cpbBitsOccupancy += au.Length
	v.cpb.PushBack(CPBEntry{AUIdx: v.nbProcessedAU, Length: au.Length, RemovalTime: trN, Pic: picInfo})

	if v.cpbSize < v.cpbBitsOccupancy {
		return errorkind.NewHRDViolation("C.3.2", errorkind.CpbOverflow,
			float64(v.cpbSize), float64(v.cpbBitsOccupancy))
	}

	v.prev = prevAU{
		frameNum:                     au.SliceHeader.FrameNum,
		picSizeInMbs:                 au.SliceHeader.PicSizeInMbs,
		levelIDC:                     au.LevelIDC,
		removalTime:                  trN,
		initialCPBRemovalDelay:       au.InitialCPBRemovalDelay,
		initialCPBRemovalDelayOffset: au.InitialCPBRemovalDelayOffset,
	}
	v.nbProcessedAU++
	return nil
}

func picInfoFor(au AccessUnit) PicInfo {
	sh := au.SliceHeader
	idr := sh.IdrPicFlag && !au.RefPicMarking.NoOutputOfPriorPicsFlag

	var usage Usage
	switch {
	case sh.IdrPicFlag:
		if au.RefPicMarking.LongTermReferenceFlag {
			usage = UsedAsLongTermReference
		} else {
			usage = UsedAsShortTermReference
		}
	case au.RefPicMarking.AdaptiveRefPicMarkingModeFlag && hasOp6(au.RefPicMarking.Ops):
		usage = UsedAsLongTermReference
	case sh.RefPic:
		usage = UsedAsShortTermReference
	default:
		usage = NotUsedAsReference
	}

	var ops []MemMgmtOp
	if !sh.IdrPicFlag && au.RefPicMarking.AdaptiveRefPicMarkingModeFlag {
		ops = au.RefPicMarking.Ops
	}

	return PicInfo{
		FrameDisplayNum: au.PicOrderCnt,
		FrameNum:        sh.FrameNum,
		FieldPicFlag:    sh.FieldPicFlag,
		BottomFieldFlag: sh.BottomFieldFlag,
		IdrPicFlag:      idr,
		DPBOutputDelay:  au.DPBOutputDelay,
		Usage:           usage,
		MemMgmtOps:      ops,
	}
}

func hasOp6(ops []MemMgmtOp) bool {
	for _, op := range ops {
		if op.Op == 6 {
			return true
		}
	}
	return false
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func (v *Verifier) oldestCPB() (CPBEntry, bool) {
	if v.cpb.Len() == 0 {
		return CPBEntry{}, false
	}
	return v.cpb.Oldest(), true
}

// removeCPBEntry drains entry from the CPB at its removal time, accounting
// for the in-flight portion of the access unit currently being added, and
// transfers its picture into the DPB.
func (v *Verifier) removeCPBEntry(entry CPBEntry, taN, tfN uint64) error {
	v.clockTime = entry.RemovalTime

	var inTransit uint64
	if taN < v.clockTime {
		inTransit = uint64(math.Abs(v.bitrate * float64(v.clockTime-taN)))
	}
	if v.cpbSize < v.cpbBitsOccupancy+inTransit {
		return errorkind.NewHRDViolation("C.3.2", errorkind.CpbOverflow,
			float64(v.cpbSize), float64(v.cpbBitsOccupancy+inTransit))
	}

	if entry.Length < v.cpbBitsOccupancy {
		v.cpbBitsOccupancy -= entry.Length
	} else {
		v.cpbBitsOccupancy = 0
	}

	if err := v.applyDecodedReferencePictureMarking(&entry.Pic); err != nil {
		return err
	}

	if err := v.UpdateDPB(v.clockTime); err != nil {
		return err
	}

	toutN := v.clockTime + v.tC*entry.Pic.DPBOutputDelay
	store := true
	if entry.Pic.Usage == NotUsedAsReference {
		store = toutN > v.clockTime // C.2.4.2.
	}
	if store {
		if err := v.addDecodedPicture(entry, toutN); err != nil {
			return err
		}
	} else {
		v.logf(logging.Debug, "hrd: picture not stored per C.2.4.2", "auIdx", entry.AUIdx)
	}

	if v.dpbSize < uint64(v.dpb.Len()) {
		return errorkind.NewHRDViolation("C.3.5", errorkind.DpbSizeOverflow,
			float64(v.dpbSize), float64(v.dpb.Len()))
	}

	v.cpb.PopFront()
	return nil
}

func (v *Verifier) addDecodedPicture(entry CPBEntry, outputTime uint64) error {
	if v.dpb.Full() {
		return errors.New("hrd: too many pictures in DPB")
	}
	if entry.Pic.Usage == UsedAsLongTermReference {
		ok := true
		v.dpb.Each(func(_ int, p DPBEntry) bool {
			if p.Usage == UsedAsLongTermReference && p.LongTermFrameIdx == entry.Pic.LongTermFrameIdx {
				ok = false
				return false
			}
			return true
		})
		if !ok {
			return errors.Errorf("hrd: LongTermFrameIdx %d already used in DPB", entry.Pic.LongTermFrameIdx)
		}
		v.numLongTerm++
	} else if entry.Pic.Usage == UsedAsShortTermReference {
		v.numShortTerm++
	}

	v.dpb.PushBack(DPBEntry{
		AUIdx:            entry.AUIdx,
		FrameDisplayNum:  entry.Pic.FrameDisplayNum,
		FrameNum:         entry.Pic.FrameNum,
		FieldPicFlag:     entry.Pic.FieldPicFlag,
		BottomFieldFlag:  entry.Pic.BottomFieldFlag,
		OutputTime:       outputTime,
		Usage:            entry.Pic.Usage,
		LongTermFrameIdx: entry.Pic.LongTermFrameIdx,
	})
	return nil
}

// UpdateDPB sweeps the DPB and evicts any not-used-for-reference picture
// whose output time has been reached, per update_DPB(current_time).
func (v *Verifier) UpdateDPB(currentTime uint64) error {
	for i := 0; i < v.dpb.Len(); {
		p := v.dpb.At(i)
		if p.Usage == NotUsedAsReference && p.OutputTime <= currentTime {
			v.dpb.RemoveAt(i)
			continue
		}
		i++
	}
	return nil
}

// DebugDPB renders the DPB's current contents, mirroring
// printDPBStatusH264HrdContext.
func (v *Verifier) DebugDPB() string {
	if v.dpb.Len() == 0 {
		return "DPB content: *empty*."
	}
	s := "DPB content:"
	sep := " "
	for i := 0; i < v.dpb.Len(); i++ {
		p := v.dpb.At(i)
		s += sep + "[" + strconv.Itoa(i) + ": " + strconv.FormatUint(p.AUIdx, 10) + "/" + strconv.FormatUint(p.FrameDisplayNum, 10) + "]"
		sep = ", "
	}
	return s + "."
}
