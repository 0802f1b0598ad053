/*
NAME
  sps.go

DESCRIPTION
  sps.go parses an H.264 sequence parameter set RBSP (section 7.3.2.1.1) down
  to the fields h264/hrd's Annex C verifier actually consumes: the picture
  dimensions, max_num_ref_frames/log2_max_frame_num_minus4, and the VUI's
  timing and HRD parameters (Annex E.1.1/E.1.2). Every other syntax element
  up to low_delay_hrd_flag (scaling lists, picture-order-count cycle, frame
  cropping, colour description, ...) is walked so the bit position stays
  correct but its value is discarded, since nothing downstream of the HRD
  verifier needs it. pic_struct_present_flag and the bitstream restriction
  fields that end vui_parameters() are not read.

AUTHORS
  Alan Noble <alan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package h264dec

import (
	"bytes"

	"github.com/pkg/errors"
)

// Chroma formats, section 6.2 table 6-1.
const (
	chromaMonochrome = iota
	chroma420
	chroma422
	chroma444
)

// highProfiles lists the profile_idc values for which seq_parameter_set_data
// carries the chroma/bit-depth/scaling-list extension (7.3.2.1.1's "if
// (profile_idc == ...)" block).
var highProfiles = map[uint8]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true, 138: true, 139: true, 134: true, 135: true,
}

// SPS is a sequence parameter set (section 7.3.2.1.1), trimmed to the fields
// the HRD verifier needs from it.
type SPS struct {
	Profile, LevelIDC uint8

	ChromaFormatIDC uint64

	// log2_max_frame_num_minus4 gives MaxFrameNum (eq 7-10).
	Log2MaxFrameNumMinus4 uint64

	// max_num_ref_frames bounds the DPB's reference-picture count.
	MaxNumRefFrames uint64

	// pic_width_in_mbs_minus1 and pic_height_in_map_units_minus1 give the
	// coded picture dimensions in macroblocks (eq 7-13, 7-16).
	PicWidthInMBSMinus1      uint64
	PicHeightInMapUnitsMinus1 uint64
	FrameMBSOnlyFlag         bool

	VUIParametersPresentFlag bool
	VUIParameters            *VUIParameters
}

// VUIParameters is video usability information (Annex E.1.1), trimmed to the
// timing and HRD fields the Annex C verifier reads.
type VUIParameters struct {
	TimingInfoPresentFlag bool
	NumUnitsInTick        uint32
	TimeScale             uint32

	NALHRDParametersPresentFlag bool
	NALHRDParameters            *HRDParameters

	VCLHRDParametersPresentFlag bool
	VCLHRDParameters            *HRDParameters

	// low_delay_hrd_flag, present only if either HRD is present.
	LowDelayHRDFlag bool
}

// HRDParameters is hrd_parameters() (Annex E.1.2), trimmed to the fields
// New uses to derive the CPB's bitrate, size and schedule.
type HRDParameters struct {
	CPBCntMinus1 uint64
	BitRateScale uint8
	CPBSizeScale uint8

	BitRateValueMinus1 []uint64
	CPBSizeValueMinus1 []uint64
	CBRFlag            []bool

	InitialCPBRemovalDelayLenMinus1 uint8
	CPBRemovalDelayLenMinus1        uint8
	DPBOutputDelayLenMinus1         uint8
	TimeOffsetLen                   uint8
}

// NewSPS parses a sequence parameter set RBSP, per section 7.3.2.1.1.
func NewSPS(rbsp []byte) (*SPS, error) {
	br := newBitReader(bytes.NewReader(rbsp))
	sps := &SPS{}

	profile, err := br.readBits(8)
	if err != nil {
		return nil, errors.Wrap(err, "sps: could not read profile_idc")
	}
	sps.Profile = uint8(profile)

	if _, err := br.readBits(8); err != nil { // constraint_setx_flags + reserved_zero_2bits.
		return nil, errors.Wrap(err, "sps: could not read constraint flags")
	}

	level, err := br.readBits(8)
	if err != nil {
		return nil, errors.Wrap(err, "sps: could not read level_idc")
	}
	sps.LevelIDC = uint8(level)

	if _, err := readUe(br); err != nil { // seq_parameter_set_id.
		return nil, errors.Wrap(err, "sps: could not read seq_parameter_set_id")
	}

	if highProfiles[sps.Profile] {
		chroma, err := readUe(br)
		if err != nil {
			return nil, errors.Wrap(err, "sps: could not read chroma_format_idc")
		}
		sps.ChromaFormatIDC = chroma

		if sps.ChromaFormatIDC == chroma444 {
			if _, err := br.readBits(1); err != nil { // separate_colour_plane_flag.
				return nil, errors.Wrap(err, "sps: could not read separate_colour_plane_flag")
			}
		}
		if _, err := readUe(br); err != nil { // bit_depth_luma_minus8.
			return nil, errors.Wrap(err, "sps: could not read bit_depth_luma_minus8")
		}
		if _, err := readUe(br); err != nil { // bit_depth_chroma_minus8.
			return nil, errors.Wrap(err, "sps: could not read bit_depth_chroma_minus8")
		}
		if _, err := br.readBits(1); err != nil { // qpprime_y_zero_transform_bypass_flag.
			return nil, errors.Wrap(err, "sps: could not read qpprime_y_zero_transform_bypass_flag")
		}
		scalingMatrixPresent, err := br.readBits(1)
		if err != nil {
			return nil, errors.Wrap(err, "sps: could not read seq_scaling_matrix_present_flag")
		}
		if scalingMatrixPresent == 1 {
			n := 8
			if sps.ChromaFormatIDC == chroma444 {
				n = 12
			}
			for i := 0; i < n; i++ {
				present, err := br.readBits(1)
				if err != nil {
					return nil, errors.Wrap(err, "sps: could not read seq_scaling_list_present_flag")
				}
				if present == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := skipScalingList(br, size); err != nil {
						return nil, errors.Wrap(err, "sps: could not skip scaling list")
					}
				}
			}
		}
	} else {
		sps.ChromaFormatIDC = chroma420
	}

	log2MaxFrameNumMinus4, err := readUe(br)
	if err != nil {
		return nil, errors.Wrap(err, "sps: could not read log2_max_frame_num_minus4")
	}
	sps.Log2MaxFrameNumMinus4 = log2MaxFrameNumMinus4

	picOrderCntType, err := readUe(br)
	if err != nil {
		return nil, errors.Wrap(err, "sps: could not read pic_order_cnt_type")
	}
	switch picOrderCntType {
	case 0:
		if _, err := readUe(br); err != nil { // log2_max_pic_order_cnt_lsb_minus4.
			return nil, errors.Wrap(err, "sps: could not read log2_max_pic_order_cnt_lsb_minus4")
		}
	case 1:
		if _, err := br.readBits(1); err != nil { // delta_pic_order_always_zero_flag.
			return nil, errors.Wrap(err, "sps: could not read delta_pic_order_always_zero_flag")
		}
		if _, err := readSe(br); err != nil { // offset_for_non_ref_pic.
			return nil, errors.Wrap(err, "sps: could not read offset_for_non_ref_pic")
		}
		if _, err := readSe(br); err != nil { // offset_for_top_to_bottom_field.
			return nil, errors.Wrap(err, "sps: could not read offset_for_top_to_bottom_field")
		}
		numRefFramesInCycle, err := readUe(br)
		if err != nil {
			return nil, errors.Wrap(err, "sps: could not read num_ref_frames_in_pic_order_cnt_cycle")
		}
		for i := uint64(0); i < numRefFramesInCycle; i++ {
			if _, err := readSe(br); err != nil { // offset_for_ref_frame[i].
				return nil, errors.Wrap(err, "sps: could not read offset_for_ref_frame")
			}
		}
	}

	maxNumRefFrames, err := readUe(br)
	if err != nil {
		return nil, errors.Wrap(err, "sps: could not read max_num_ref_frames")
	}
	sps.MaxNumRefFrames = maxNumRefFrames

	if _, err := br.readBits(1); err != nil { // gaps_in_frame_num_value_allowed_flag.
		return nil, errors.Wrap(err, "sps: could not read gaps_in_frame_num_value_allowed_flag")
	}

	picWidthInMbsMinus1, err := readUe(br)
	if err != nil {
		return nil, errors.Wrap(err, "sps: could not read pic_width_in_mbs_minus1")
	}
	sps.PicWidthInMBSMinus1 = picWidthInMbsMinus1

	picHeightInMapUnitsMinus1, err := readUe(br)
	if err != nil {
		return nil, errors.Wrap(err, "sps: could not read pic_height_in_map_units_minus1")
	}
	sps.PicHeightInMapUnitsMinus1 = picHeightInMapUnitsMinus1

	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return nil, errors.Wrap(err, "sps: could not read frame_mbs_only_flag")
	}
	sps.FrameMBSOnlyFlag = frameMbsOnly == 1

	if !sps.FrameMBSOnlyFlag {
		if _, err := br.readBits(1); err != nil { // mb_adaptive_frame_field_flag.
			return nil, errors.Wrap(err, "sps: could not read mb_adaptive_frame_field_flag")
		}
	}

	if _, err := br.readBits(1); err != nil { // direct_8x8_inference_flag.
		return nil, errors.Wrap(err, "sps: could not read direct_8x8_inference_flag")
	}

	frameCropping, err := br.readBits(1)
	if err != nil {
		return nil, errors.Wrap(err, "sps: could not read frame_cropping_flag")
	}
	if frameCropping == 1 {
		for _, field := range []string{"left", "right", "top", "bottom"} {
			if _, err := readUe(br); err != nil {
				return nil, errors.Wrapf(err, "sps: could not read frame_crop_%s_offset", field)
			}
		}
	}

	vuiPresent, err := br.readBits(1)
	if err != nil {
		return nil, errors.Wrap(err, "sps: could not read vui_parameters_present_flag")
	}
	sps.VUIParametersPresentFlag = vuiPresent == 1

	if sps.VUIParametersPresentFlag {
		vui, err := newVUIParameters(br)
		if err != nil {
			return nil, errors.Wrap(err, "sps: could not parse vui_parameters")
		}
		sps.VUIParameters = vui
	}

	return sps, nil
}

// skipScalingList consumes a scaling_list() syntax structure (7.3.2.1.1.1)
// without retaining its deltaScale-derived values; nothing downstream of the
// HRD verifier is sensitive to them, only to the bits they occupy.
func skipScalingList(br *bitReader, size int) error {
	lastScale, nextScale := 8, 8
	for i := 0; i < size; i++ {
		if nextScale != 0 {
			delta, err := readSe(br)
			if err != nil {
				return errors.Wrap(err, "could not read delta_scale")
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// newVUIParameters parses vui_parameters() (Annex E.1.1).
func newVUIParameters(br *bitReader) (*VUIParameters, error) {
	vui := &VUIParameters{}

	aspectRatioPresent, err := br.readBits(1)
	if err != nil {
		return nil, errors.Wrap(err, "could not read aspect_ratio_info_present_flag")
	}
	if aspectRatioPresent == 1 {
		idc, err := br.readBits(8)
		if err != nil {
			return nil, errors.Wrap(err, "could not read aspect_ratio_idc")
		}
		const extendedSAR = 255
		if idc == extendedSAR {
			if _, err := br.readBits(16); err != nil { // sar_width.
				return nil, errors.Wrap(err, "could not read sar_width")
			}
			if _, err := br.readBits(16); err != nil { // sar_height.
				return nil, errors.Wrap(err, "could not read sar_height")
			}
		}
	}

	overscanPresent, err := br.readBits(1)
	if err != nil {
		return nil, errors.Wrap(err, "could not read overscan_info_present_flag")
	}
	if overscanPresent == 1 {
		if _, err := br.readBits(1); err != nil { // overscan_appropriate_flag.
			return nil, errors.Wrap(err, "could not read overscan_appropriate_flag")
		}
	}

	videoSignalPresent, err := br.readBits(1)
	if err != nil {
		return nil, errors.Wrap(err, "could not read video_signal_type_present_flag")
	}
	if videoSignalPresent == 1 {
		if _, err := br.readBits(3); err != nil { // video_format.
			return nil, errors.Wrap(err, "could not read video_format")
		}
		if _, err := br.readBits(1); err != nil { // video_full_range_flag.
			return nil, errors.Wrap(err, "could not read video_full_range_flag")
		}
		colourDescPresent, err := br.readBits(1)
		if err != nil {
			return nil, errors.Wrap(err, "could not read colour_description_present_flag")
		}
		if colourDescPresent == 1 {
			if _, err := br.readBits(8); err != nil { // colour_primaries.
				return nil, errors.Wrap(err, "could not read colour_primaries")
			}
			if _, err := br.readBits(8); err != nil { // transfer_characteristics.
				return nil, errors.Wrap(err, "could not read transfer_characteristics")
			}
			if _, err := br.readBits(8); err != nil { // matrix_coefficients.
				return nil, errors.Wrap(err, "could not read matrix_coefficients")
			}
		}
	}

	chromaLocPresent, err := br.readBits(1)
	if err != nil {
		return nil, errors.Wrap(err, "could not read chroma_loc_info_present_flag")
	}
	if chromaLocPresent == 1 {
		if _, err := readUe(br); err != nil { // chroma_sample_loc_type_top_field.
			return nil, errors.Wrap(err, "could not read chroma_sample_loc_type_top_field")
		}
		if _, err := readUe(br); err != nil { // chroma_sample_loc_type_bottom_field.
			return nil, errors.Wrap(err, "could not read chroma_sample_loc_type_bottom_field")
		}
	}

	timingInfoPresent, err := br.readBits(1)
	if err != nil {
		return nil, errors.Wrap(err, "could not read timing_info_present_flag")
	}
	vui.TimingInfoPresentFlag = timingInfoPresent == 1
	if vui.TimingInfoPresentFlag {
		numUnitsInTick, err := br.readBits(32)
		if err != nil {
			return nil, errors.Wrap(err, "could not read num_units_in_tick")
		}
		vui.NumUnitsInTick = uint32(numUnitsInTick)

		timeScale, err := br.readBits(32)
		if err != nil {
			return nil, errors.Wrap(err, "could not read time_scale")
		}
		vui.TimeScale = uint32(timeScale)

		if _, err := br.readBits(1); err != nil { // fixed_frame_rate_flag.
			return nil, errors.Wrap(err, "could not read fixed_frame_rate_flag")
		}
	}

	nalHRDPresent, err := br.readBits(1)
	if err != nil {
		return nil, errors.Wrap(err, "could not read nal_hrd_parameters_present_flag")
	}
	vui.NALHRDParametersPresentFlag = nalHRDPresent == 1
	if vui.NALHRDParametersPresentFlag {
		hrd, err := newHRDParameters(br)
		if err != nil {
			return nil, errors.Wrap(err, "could not parse nal_hrd_parameters")
		}
		vui.NALHRDParameters = hrd
	}

	vclHRDPresent, err := br.readBits(1)
	if err != nil {
		return nil, errors.Wrap(err, "could not read vcl_hrd_parameters_present_flag")
	}
	vui.VCLHRDParametersPresentFlag = vclHRDPresent == 1
	if vui.VCLHRDParametersPresentFlag {
		hrd, err := newHRDParameters(br)
		if err != nil {
			return nil, errors.Wrap(err, "could not parse vcl_hrd_parameters")
		}
		vui.VCLHRDParameters = hrd
	}

	if vui.NALHRDParametersPresentFlag || vui.VCLHRDParametersPresentFlag {
		lowDelay, err := br.readBits(1)
		if err != nil {
			return nil, errors.Wrap(err, "could not read low_delay_hrd_flag")
		}
		vui.LowDelayHRDFlag = lowDelay == 1
	}

	// pic_struct_present_flag, bitstream_restriction_flag and its children
	// are the syntax structure's tail; the HRD verifier reads none of them,
	// and nothing follows them in the RBSP, so parsing stops here.
	return vui, nil
}

// newHRDParameters parses hrd_parameters() (Annex E.1.2).
func newHRDParameters(br *bitReader) (*HRDParameters, error) {
	h := &HRDParameters{}

	cpbCntMinus1, err := readUe(br)
	if err != nil {
		return nil, errors.Wrap(err, "could not read cpb_cnt_minus1")
	}
	h.CPBCntMinus1 = cpbCntMinus1

	bitRateScale, err := br.readBits(4)
	if err != nil {
		return nil, errors.Wrap(err, "could not read bit_rate_scale")
	}
	h.BitRateScale = uint8(bitRateScale)

	cpbSizeScale, err := br.readBits(4)
	if err != nil {
		return nil, errors.Wrap(err, "could not read cpb_size_scale")
	}
	h.CPBSizeScale = uint8(cpbSizeScale)

	for i := uint64(0); i <= h.CPBCntMinus1; i++ {
		bitRateValueMinus1, err := readUe(br)
		if err != nil {
			return nil, errors.Wrap(err, "could not read bit_rate_value_minus1")
		}
		h.BitRateValueMinus1 = append(h.BitRateValueMinus1, bitRateValueMinus1)

		cpbSizeValueMinus1, err := readUe(br)
		if err != nil {
			return nil, errors.Wrap(err, "could not read cpb_size_value_minus1")
		}
		h.CPBSizeValueMinus1 = append(h.CPBSizeValueMinus1, cpbSizeValueMinus1)

		cbrFlag, err := br.readBits(1)
		if err != nil {
			return nil, errors.Wrap(err, "could not read cbr_flag")
		}
		h.CBRFlag = append(h.CBRFlag, cbrFlag == 1)
	}

	initialCPBRemovalDelayLenMinus1, err := br.readBits(5)
	if err != nil {
		return nil, errors.Wrap(err, "could not read initial_cpb_removal_delay_length_minus1")
	}
	h.InitialCPBRemovalDelayLenMinus1 = uint8(initialCPBRemovalDelayLenMinus1)

	cpbRemovalDelayLenMinus1, err := br.readBits(5)
	if err != nil {
		return nil, errors.Wrap(err, "could not read cpb_removal_delay_length_minus1")
	}
	h.CPBRemovalDelayLenMinus1 = uint8(cpbRemovalDelayLenMinus1)

	dpbOutputDelayLenMinus1, err := br.readBits(5)
	if err != nil {
		return nil, errors.Wrap(err, "could not read dpb_output_delay_length_minus1")
	}
	h.DPBOutputDelayLenMinus1 = uint8(dpbOutputDelayLenMinus1)

	timeOffsetLen, err := br.readBits(5)
	if err != nil {
		return nil, errors.Wrap(err, "could not read time_offset_length")
	}
	h.TimeOffsetLen = uint8(timeOffsetLen)

	return h, nil
}

// readUe parses a ue(v) Exp-Golomb-coded syntax element, section 9.1.
func readUe(br *bitReader) (uint64, error) {
	nZeros := 0
	for {
		b, err := br.readBits(1)
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		nZeros++
	}
	if nZeros == 0 {
		return 0, nil
	}
	rem, err := br.readBits(nZeros)
	if err != nil {
		return 0, err
	}
	return (uint64(1)<<uint(nZeros) - 1) + rem, nil
}

// readSe parses a se(v) Exp-Golomb-coded syntax element, sections 9.1/9.1.1.
func readSe(br *bitReader) (int, error) {
	codeNum, err := readUe(br)
	if err != nil {
		return 0, errors.Wrap(err, "could not read ue(v)")
	}
	if codeNum%2 == 0 {
		return -int(codeNum / 2), nil
	}
	return int(codeNum+1) / 2, nil
}
