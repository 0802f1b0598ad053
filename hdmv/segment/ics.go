/*
NAME
  ics.go

DESCRIPTION
  ics.go builds the interactive_composition() structure and fragments it
  across Interactive Composition Segments, per spec.md §6's ICS payload and
  hdmv_builder.c's _buildInteractiveComposition/_writeICSegments.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package segment

import (
	"github.com/pkg/errors"
)

// sizeICSHeader is the per-fragment header repeated on every ICS segment:
// video_descriptor() + composition_descriptor() + sequence_descriptor().
const sizeICSHeader = sizeVideoDescriptor + sizeCompositionDescriptor + sizeSequenceDescriptor

// fragmentCapacityICS is the largest interactive_composition_fragment()
// slice that fits in one ICS segment alongside its header.
const fragmentCapacityICS = MaxSegmentPayload - sizeICSHeader

// StreamModel is interactive_composition()'s 1-bit stream_model.
type StreamModel uint8

const (
	StreamModelMultiplexed StreamModel = 0
	StreamModelOutOfMux    StreamModel = 1
)

// NeighborInfo is a button's neighbor_info(), per spec.md §6.
type NeighborInfo struct {
	Upper, Lower, Left, Right uint16
}

// NormalStateInfo is a button's normal_state_info().
type NormalStateInfo struct {
	StartObjectIDRef, EndObjectIDRef uint16
	Repeat, Complete                 bool
}

// SelectedStateInfo is a button's selected_state_info().
type SelectedStateInfo struct {
	StateSoundIDRef                  uint8
	StartObjectIDRef, EndObjectIDRef uint16
	Repeat, Complete                 bool
}

// ActivatedStateInfo is a button's activated_state_info().
type ActivatedStateInfo struct {
	StateSoundIDRef                  uint8
	StartObjectIDRef, EndObjectIDRef uint16
}

// NavigationCommand is a 12-byte navigation_command(), per spec.md §6.
type NavigationCommand struct {
	Opcode, Destination, Source uint32
}

// Button is button(), per spec.md §6.
type Button struct {
	ID                   uint16
	NumericSelectValue   uint16
	AutoAction           bool
	HPosition, VPosition uint16
	Neighbor             NeighborInfo
	Normal               NormalStateInfo
	Selected             SelectedStateInfo
	Activated            ActivatedStateInfo
	NavigationCommands   []NavigationCommand
}

// ButtonOverlapGroup is button_overlap_group().
type ButtonOverlapGroup struct {
	DefaultValidButtonIDRef uint16
	Buttons                 []Button
}

// EffectInfo is one effect_info() within an EffectSequence.
type EffectInfo struct {
	Duration           uint32 // 24-bit effect_duration.
	PaletteIDRef       uint8
	CompositionObjects []CompositionObject
}

// EffectSequence is in_effects()/out_effects().
type EffectSequence struct {
	Windows []WindowInfo
	Effects []EffectInfo
}

// Page is page(), per spec.md §6.
type Page struct {
	ID                           uint8
	Version                      uint8
	UOMaskTable                  uint64
	InEffects, OutEffects        EffectSequence
	AnimationFrameRateCode       uint8
	DefaultSelectedButtonIDRef   uint16
	DefaultActivatedButtonIDRef  uint16
	PaletteIDRef                 uint8
	BOGs                         []ButtonOverlapGroup
}

// InteractiveComposition is interactive_composition(), per spec.md §6.
type InteractiveComposition struct {
	StreamModel           StreamModel
	UserInterfaceModel    uint8 // 1 bit: 0 normal, 1 pop-up.
	CompositionTimeOutPTS uint64 // 33-bit, used when StreamModelMultiplexed.
	SelectionTimeOutPTS   uint64
	UserTimeOutDuration   uint32 // 24-bit.
	Pages                 []Page
}

func appendU16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

func appendU24(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>16), byte(v>>8), byte(v))
}

func appendU32(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// appendU33 writes a 33-bit value in 5 bytes, high 7 bits reserved-zero.
func appendU33(dst []byte, v uint64) []byte {
	return append(dst, byte(v>>32), byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendU64(dst []byte, v uint64) []byte {
	return append(dst,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendNeighborInfo(dst []byte, n NeighborInfo) []byte {
	dst = appendU16(dst, n.Upper)
	dst = appendU16(dst, n.Lower)
	dst = appendU16(dst, n.Left)
	dst = appendU16(dst, n.Right)
	return dst
}

func appendNormalStateInfo(dst []byte, n NormalStateInfo) []byte {
	dst = appendU16(dst, n.StartObjectIDRef)
	dst = appendU16(dst, n.EndObjectIDRef)
	var flags byte
	if n.Repeat {
		flags |= 1 << 7
	}
	if n.Complete {
		flags |= 1 << 6
	}
	return append(dst, flags)
}

func appendSelectedStateInfo(dst []byte, s SelectedStateInfo) []byte {
	dst = append(dst, s.StateSoundIDRef)
	dst = appendU16(dst, s.StartObjectIDRef)
	dst = appendU16(dst, s.EndObjectIDRef)
	var flags byte
	if s.Repeat {
		flags |= 1 << 7
	}
	if s.Complete {
		flags |= 1 << 6
	}
	return append(dst, flags)
}

func appendActivatedStateInfo(dst []byte, a ActivatedStateInfo) []byte {
	dst = append(dst, a.StateSoundIDRef)
	dst = appendU16(dst, a.StartObjectIDRef)
	dst = appendU16(dst, a.EndObjectIDRef)
	return dst
}

func appendNavigationCommand(dst []byte, c NavigationCommand) []byte {
	dst = appendU32(dst, c.Opcode)
	dst = appendU32(dst, c.Destination)
	dst = appendU32(dst, c.Source)
	return dst
}

func appendButton(dst []byte, b Button) ([]byte, error) {
	if len(b.NavigationCommands) > 0xFFFF {
		return nil, errors.Errorf("segment: too many navigation commands (%d)", len(b.NavigationCommands))
	}
	dst = appendU16(dst, b.ID)
	dst = appendU16(dst, b.NumericSelectValue)
	var auto byte
	if b.AutoAction {
		auto = 1 << 7
	}
	dst = append(dst, auto)
	dst = appendU16(dst, b.HPosition)
	dst = appendU16(dst, b.VPosition)
	dst = appendNeighborInfo(dst, b.Neighbor)
	dst = appendNormalStateInfo(dst, b.Normal)
	dst = appendSelectedStateInfo(dst, b.Selected)
	dst = appendActivatedStateInfo(dst, b.Activated)
	dst = appendU16(dst, uint16(len(b.NavigationCommands)))
	for _, c := range b.NavigationCommands {
		dst = appendNavigationCommand(dst, c)
	}
	return dst, nil
}

func appendButtonOverlapGroup(dst []byte, bog ButtonOverlapGroup) ([]byte, error) {
	if len(bog.Buttons) > 0xFF {
		return nil, errors.Errorf("segment: too many buttons in overlap group (%d)", len(bog.Buttons))
	}
	dst = appendU16(dst, bog.DefaultValidButtonIDRef)
	dst = append(dst, uint8(len(bog.Buttons)))
	var err error
	for _, b := range bog.Buttons {
		if dst, err = appendButton(dst, b); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func appendCompositionObjectRaw(dst []byte, co CompositionObject) []byte {
	dst = appendU16(dst, co.ObjectIDRef)
	dst = append(dst, co.WindowIDRef)
	var flags byte
	if co.Cropped {
		flags = 1 << 7
	}
	dst = append(dst, flags)
	dst = appendU16(dst, co.HPosition)
	dst = appendU16(dst, co.VPosition)
	if co.Cropped {
		dst = appendU16(dst, co.Cropping.HPosition)
		dst = appendU16(dst, co.Cropping.VPosition)
		dst = appendU16(dst, co.Cropping.Width)
		dst = appendU16(dst, co.Cropping.Height)
	}
	return dst
}

func appendEffectSequence(dst []byte, es EffectSequence) ([]byte, error) {
	if len(es.Windows) > 0xFF || len(es.Effects) > 0xFF {
		return nil, errors.New("segment: effect sequence window/effect count exceeds 255")
	}
	dst = append(dst, uint8(len(es.Windows)))
	for _, wi := range es.Windows {
		dst = append(dst, wi.ID)
		dst = appendU16(dst, wi.HPosition)
		dst = appendU16(dst, wi.VPosition)
		dst = appendU16(dst, wi.Width)
		dst = appendU16(dst, wi.Height)
	}
	dst = append(dst, uint8(len(es.Effects)))
	for _, ef := range es.Effects {
		if len(ef.CompositionObjects) > 0xFF {
			return nil, errors.New("segment: effect composition object count exceeds 255")
		}
		dst = appendU24(dst, ef.Duration)
		dst = append(dst, ef.PaletteIDRef, uint8(len(ef.CompositionObjects)))
		for _, co := range ef.CompositionObjects {
			dst = appendCompositionObjectRaw(dst, co)
		}
	}
	return dst, nil
}

func appendPage(dst []byte, p Page) ([]byte, error) {
	if len(p.BOGs) > 0xFF {
		return nil, errors.Errorf("segment: too many button overlap groups (%d)", len(p.BOGs))
	}
	dst = append(dst, p.ID, p.Version)
	dst = appendU64(dst, p.UOMaskTable)

	var err error
	if dst, err = appendEffectSequence(dst, p.InEffects); err != nil {
		return nil, err
	}
	if dst, err = appendEffectSequence(dst, p.OutEffects); err != nil {
		return nil, err
	}

	dst = append(dst, p.AnimationFrameRateCode)
	dst = appendU16(dst, p.DefaultSelectedButtonIDRef)
	dst = appendU16(dst, p.DefaultActivatedButtonIDRef)
	dst = append(dst, p.PaletteIDRef, uint8(len(p.BOGs)))

	for _, bog := range p.BOGs {
		if dst, err = appendButtonOverlapGroup(dst, bog); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// buildInteractiveComposition assembles the full interactive_composition()
// byte stream, including its leading u24 length field, per
// _buildInteractiveComposition.
func buildInteractiveComposition(ic InteractiveComposition) ([]byte, error) {
	if len(ic.Pages) > 0xFF {
		return nil, errors.Errorf("segment: too many pages (%d)", len(ic.Pages))
	}

	body := make([]byte, 0, 64)
	flags := uint8(ic.StreamModel) << 7
	if ic.UserInterfaceModel != 0 {
		flags |= 1 << 6
	}
	body = append(body, flags)

	if ic.StreamModel == StreamModelMultiplexed {
		body = appendU33(body, ic.CompositionTimeOutPTS)
		body = appendU33(body, ic.SelectionTimeOutPTS)
	}

	body = appendU24(body, ic.UserTimeOutDuration)
	body = append(body, uint8(len(ic.Pages)))

	var err error
	for _, p := range ic.Pages {
		if body, err = appendPage(body, p); err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, 3+len(body))
	out = appendU24(out, uint32(len(body)))
	out = append(out, body...)
	return out, nil
}

// writeICS fragments the interactive_composition() stream across as many
// Interactive Composition Segments as needed, per _writeICSegments.
func (w *Writer) writeICS(vd VideoDescriptor, cd CompositionDescriptor, ic InteractiveComposition) error {
	data, err := buildInteractiveComposition(ic)
	if err != nil {
		return err
	}

	firstInSeq := true
	for off := 0; off < len(data); {
		end := off + fragmentCapacityICS
		if end > len(data) {
			end = len(data)
		}
		frag := data[off:end]
		lastInSeq := end == len(data)

		payload := sizeICSHeader + len(frag)
		if err := w.writeSegmentHeader(TypeICS, payload); err != nil {
			return err
		}
		if err := w.writeVideoDescriptor(vd); err != nil {
			return err
		}
		if err := w.writeCompositionDescriptor(cd); err != nil {
			return err
		}
		if err := w.writeSequenceDescriptor(firstInSeq, lastInSeq); err != nil {
			return err
		}
		if err := w.reserve(len(frag)); err != nil {
			return err
		}
		w.emit(frag)

		off = end
		firstInSeq = false
	}
	return nil
}
