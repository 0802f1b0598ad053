/*
NAME
  segment_test.go

DESCRIPTION
  segment_test.go exercises the HDMV segment builder against spec.md §6's
  exact wire layouts, table-driven per the teacher's codec/wav test style.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package segment

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ausocean/libbluav/errorkind"
	"github.com/ausocean/libbluav/hdmv/color"
)

func TestWriteSegmentHeader(t *testing.T) {
	tests := []struct {
		name    string
		segType uint8
		length  int
		want    []byte
		wantErr bool
	}{
		{"pds", TypePDS, 7, []byte{0x14, 0x00, 0x07}, false},
		{"end", TypeEND, 0, []byte{0x80, 0x00, 0x00}, false},
		{"over", TypeODS, MaxSegmentPayload + 1, nil, true},
		{"negative", TypeODS, -1, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf)
			err := w.writeSegmentHeader(tt.segType, tt.length)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("writeSegmentHeader(%d) = nil error, want error", tt.length)
				}
				return
			}
			if err != nil {
				t.Fatalf("writeSegmentHeader: %v", err)
			}
			if !bytes.Equal(w.buf, tt.want) {
				t.Errorf("writeSegmentHeader() = % x, want % x", w.buf, tt.want)
			}
		})
	}
}

func TestWriteVideoDescriptor(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.writeVideoDescriptor(VideoDescriptor{Width: 1920, Height: 1080, FrameRateID: 0x07}); err != nil {
		t.Fatalf("writeVideoDescriptor: %v", err)
	}
	want := []byte{0x07, 0x80, 0x04, 0x38, 0x70}
	if !bytes.Equal(w.buf, want) {
		t.Errorf("writeVideoDescriptor() = % x, want % x", w.buf, want)
	}
}

func TestWriteCompositionDescriptor(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.writeCompositionDescriptor(CompositionDescriptor{Number: 1, State: CompositionEpochStart}); err != nil {
		t.Fatalf("writeCompositionDescriptor: %v", err)
	}
	want := []byte{0x00, 0x01, 0x80}
	if !bytes.Equal(w.buf, want) {
		t.Errorf("writeCompositionDescriptor() = % x, want % x", w.buf, want)
	}
}

func TestWriteSequenceDescriptor(t *testing.T) {
	tests := []struct {
		name             string
		first, last      bool
		want             byte
	}{
		{"first_and_last", true, true, 0xC0},
		{"first_only", true, false, 0x80},
		{"last_only", false, true, 0x40},
		{"neither", false, false, 0x00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := NewWriter(&buf)
			if err := w.writeSequenceDescriptor(tt.first, tt.last); err != nil {
				t.Fatalf("writeSequenceDescriptor: %v", err)
			}
			if len(w.buf) != 1 || w.buf[0] != tt.want {
				t.Errorf("writeSequenceDescriptor(%v, %v) = % x, want %02x", tt.first, tt.last, w.buf, tt.want)
			}
		})
	}
}

func TestWritePDS(t *testing.T) {
	p := &color.Palette{}
	p.Init(9, 3, color.BT709)
	if _, err := p.AddRGBA(0xFF0000FF); err != nil {
		t.Fatalf("AddRGBA: %v", err)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.writePDS(p); err != nil {
		t.Fatalf("writePDS: %v", err)
	}
	if err := w.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	out := buf.Bytes()
	if out[0] != TypePDS {
		t.Fatalf("segment type = 0x%02x, want 0x%02x", out[0], TypePDS)
	}
	length := int(out[1])<<8 | int(out[2])
	if length != len(out)-sizeSegmentHeader {
		t.Errorf("declared length %d != payload length %d", length, len(out)-sizeSegmentHeader)
	}
	if out[3] != 9 || out[4] != 3 {
		t.Errorf("palette_id/version = %d/%d, want 9/3", out[3], out[4])
	}
	if len(out) != sizeSegmentHeader+sizePaletteDescriptor+sizePaletteDefinitionEntry {
		t.Fatalf("unexpected PDS length %d", len(out))
	}
	if out[5] != 0 {
		t.Errorf("entry id = %d, want 0", out[5])
	}
}

func TestWritePDSegments_Empty(t *testing.T) {
	var buf bytes.Buffer
	var loggedLevel int8 = -1
	w := NewWriter(&buf, WithLog(func(lvl int8, msg string, args ...interface{}) { loggedLevel = lvl }))
	if err := w.writePDSegments(nil); err != nil {
		t.Fatalf("writePDSegments(nil): %v", err)
	}
	if len(w.buf) != 0 {
		t.Errorf("writePDSegments(nil) emitted %d bytes, want 0", len(w.buf))
	}
	if loggedLevel == -1 {
		t.Errorf("writePDSegments(nil) did not log a warning")
	}
}

func TestWriteODS_Fragmentation(t *testing.T) {
	// A run larger than FragmentCapacity forces at least two ODS fragments.
	width, height := uint16(4), uint16(1)
	rle := make([]byte, 200000)
	for i := range rle {
		rle[i] = 0x01
	}
	obj := Object{ID: 1, Version: 0, Width: width, Height: height, RLE: rle}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.writeODS(obj); err != nil {
		t.Fatalf("writeODS: %v", err)
	}

	segs := splitSegments(t, w.buf)
	if len(segs) < 2 {
		t.Fatalf("expected fragmentation into >=2 ODS, got %d", len(segs))
	}
	for i, s := range segs {
		if s.segType != TypeODS {
			t.Fatalf("segment %d type = 0x%02x, want ODS", i, s.segType)
		}
		first := s.payload[3]&0x80 != 0
		last := s.payload[3]&0x40 != 0
		if i == 0 && !first {
			t.Errorf("first fragment missing first_in_sequence flag")
		}
		if i == len(segs)-1 && !last {
			t.Errorf("last fragment missing last_in_sequence flag")
		}
		if i != 0 && first {
			t.Errorf("fragment %d unexpectedly marked first_in_sequence", i)
		}
		if i != len(segs)-1 && last {
			t.Errorf("fragment %d unexpectedly marked last_in_sequence", i)
		}
	}
}

func TestWritePCS_TooManyObjects(t *testing.T) {
	objs := make([]CompositionObject, 256)
	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := w.writePCS(VideoDescriptor{}, CompositionDescriptor{}, PresentationComposition{Objects: objs})
	if err == nil {
		t.Fatal("writePCS with 256 objects: want error, got nil")
	}
}

func TestWritePCS_CroppedObjectSize(t *testing.T) {
	pc := PresentationComposition{
		PaletteIDRef: 1,
		Objects: []CompositionObject{
			{ObjectIDRef: 1, WindowIDRef: 0, HPosition: 10, VPosition: 20},
			{ObjectIDRef: 2, WindowIDRef: 1, Cropped: true, Cropping: Cropping{Width: 100, Height: 50}},
		},
	}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.writePCS(VideoDescriptor{Width: 1920, Height: 1080, FrameRateID: 7}, CompositionDescriptor{Number: 1, State: CompositionEpochStart}, pc); err != nil {
		t.Fatalf("writePCS: %v", err)
	}
	wantPayload := sizeVideoDescriptor + sizeCompositionDescriptor + sizePresentationCompositionHeader + 8 + 16
	gotPayload := int(w.buf[1])<<8 | int(w.buf[2])
	if gotPayload != wantPayload {
		t.Errorf("PCS payload length = %d, want %d", gotPayload, wantPayload)
	}
}

func TestWriteWDS_TooManyWindows(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := w.writeWDS(WindowDefinition{Windows: make([]WindowInfo, 256)})
	if err == nil {
		t.Fatal("writeWDS with 256 windows: want error, got nil")
	}
}

func TestWriteWDS_SingleWindowHeader(t *testing.T) {
	wd := WindowDefinition{Windows: []WindowInfo{
		{ID: 0, HPosition: 0, VPosition: 0, Width: 1920, Height: 200},
	}}
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.writeWDS(wd); err != nil {
		t.Fatalf("writeWDS: %v", err)
	}
	if w.buf[0] != TypeWDS {
		t.Fatalf("segment type = 0x%02x, want WDS", w.buf[0])
	}
	if w.buf[3] != 1 {
		t.Fatalf("number_of_windows = %d, want 1", w.buf[3])
	}
	if w.buf[4] != 0 {
		t.Fatalf("window id = %d, want 0", w.buf[4])
	}
}

func TestBuildInteractiveComposition_OutOfMuxOmitsPTS(t *testing.T) {
	ic := InteractiveComposition{
		StreamModel:         StreamModelOutOfMux,
		UserTimeOutDuration: 0,
		Pages:               nil,
	}
	data, err := buildInteractiveComposition(ic)
	if err != nil {
		t.Fatalf("buildInteractiveComposition: %v", err)
	}
	// u24 length + flags(1) + user_time_out_duration(3) + number_of_pages(1).
	wantLen := 3 + 1 + 3 + 1
	if len(data) != wantLen {
		t.Fatalf("len(data) = %d, want %d", len(data), wantLen)
	}
	if data[3] != 0x80 {
		t.Errorf("flags byte = 0x%02x, want 0x80 (out-of-mux, normal UI)", data[3])
	}
}

func TestBuildInteractiveComposition_MultiplexedIncludesPTS(t *testing.T) {
	ic := InteractiveComposition{
		StreamModel:           StreamModelMultiplexed,
		CompositionTimeOutPTS: 1 << 32,
		SelectionTimeOutPTS:   42,
		Pages:                 nil,
	}
	data, err := buildInteractiveComposition(ic)
	if err != nil {
		t.Fatalf("buildInteractiveComposition: %v", err)
	}
	wantLen := 3 + 1 + 5 + 5 + 3 + 1
	if len(data) != wantLen {
		t.Fatalf("len(data) = %d, want %d", len(data), wantLen)
	}
	if data[3]&0x80 != 0 {
		t.Errorf("flags byte = 0x%02x, want stream_model bit clear for Multiplexed", data[3])
	}
}

func TestAppendNeighborInfo_FieldOrder(t *testing.T) {
	n := NeighborInfo{Upper: 1, Lower: 2, Left: 3, Right: 4}
	got := appendNeighborInfo(nil, n)
	want := []byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04}
	if !bytes.Equal(got, want) {
		t.Errorf("appendNeighborInfo() = % x, want % x", got, want)
	}
}

func TestAppendEffectSequence_WindowEffectCounts(t *testing.T) {
	es := EffectSequence{
		Windows: []WindowInfo{{ID: 0}, {ID: 1}},
		Effects: []EffectInfo{
			{Duration: 90000, PaletteIDRef: 1, CompositionObjects: []CompositionObject{{ObjectIDRef: 1}}},
		},
	}
	data, err := appendEffectSequence(nil, es)
	if err != nil {
		t.Fatalf("appendEffectSequence: %v", err)
	}
	if data[0] != 2 {
		t.Fatalf("number_of_windows = %d, want 2", data[0])
	}
	// number_of_windows(1) + 2*window_info(9) = 19 bytes before number_of_effects.
	effectsCountIdx := 1 + 2*9
	if data[effectsCountIdx] != 1 {
		t.Errorf("number_of_effects = %d, want 1", data[effectsCountIdx])
	}
}

func TestWriteICS_FragmentsAcrossSegments(t *testing.T) {
	navCmds := make([]NavigationCommand, 50)
	for i := range navCmds {
		navCmds[i] = NavigationCommand{Opcode: 1, Destination: 2, Source: 3}
	}
	buttons := make([]Button, 255)
	for i := range buttons {
		buttons[i] = Button{ID: uint16(i), NavigationCommands: navCmds}
	}
	ic := InteractiveComposition{
		StreamModel: StreamModelOutOfMux,
		Pages: []Page{{
			ID:           0,
			PaletteIDRef: 1,
			BOGs:         []ButtonOverlapGroup{{Buttons: buttons}},
		}},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.writeICS(VideoDescriptor{}, CompositionDescriptor{}, ic); err != nil {
		t.Fatalf("writeICS: %v", err)
	}
	segs := splitSegments(t, w.buf)
	if len(segs) < 2 {
		t.Fatalf("expected fragmentation into >=2 ICS, got %d", len(segs))
	}
	for i, s := range segs {
		if s.segType != TypeICS {
			t.Fatalf("segment %d type = 0x%02x, want ICS", i, s.segType)
		}
		seqDesc := s.payload[sizeVideoDescriptor+sizeCompositionDescriptor]
		first := seqDesc&0x80 != 0
		last := seqDesc&0x40 != 0
		if i == 0 && !first {
			t.Errorf("first fragment missing first_in_sequence flag")
		}
		if i == len(segs)-1 && !last {
			t.Errorf("last fragment missing last_in_sequence flag")
		}
	}
}

func TestReserve_OverflowReturnsSizeOverflow(t *testing.T) {
	w := &Writer{}
	// A negative n wraps to a huge uint64 when added to used, driving
	// nextPow2 to its overflow branch.
	err := w.reserve(-1)
	if !errors.Is(err, errorkind.SizeOverflow) {
		t.Errorf("reserve(-1) error = %v, want errorkind.SizeOverflow", err)
	}
}

func TestNextPow2(t *testing.T) {
	tests := []struct {
		in      uint64
		want    uint64
		wantOK  bool
	}{
		{0, 1, true},
		{1, 1, true},
		{5, 8, true},
		{1024, 1024, true},
		{1025, 2048, true},
		{^uint64(0), 0, false},
	}
	for _, tt := range tests {
		got, ok := nextPow2(tt.in)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("nextPow2(%d) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFlush_ResetsBuffer(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.buf = append(w.buf, 1, 2, 3)
	if err := w.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(w.buf) != 0 {
		t.Errorf("flush did not reset buffer, len = %d", len(w.buf))
	}
	if !bytes.Equal(buf.Bytes(), []byte{1, 2, 3}) {
		t.Errorf("sink got % x, want % x", buf.Bytes(), []byte{1, 2, 3})
	}
}

func TestBuildPGSDisplaySet_OmitsWDSWhenNoWindows(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	p := &color.Palette{}
	p.Init(1, 0, color.BT601)
	ds := PGSDisplaySet{
		Video:        VideoDescriptor{Width: 1920, Height: 1080, FrameRateID: 7},
		Composition:  CompositionDescriptor{Number: 2, State: CompositionEpochContinue},
		Presentation: PresentationComposition{PaletteIDRef: 1},
		Palettes:     []*color.Palette{p},
	}
	if err := w.BuildPGSDisplaySet(ds); err != nil {
		t.Fatalf("BuildPGSDisplaySet: %v", err)
	}
	segs := splitSegments(t, buf.Bytes())
	for _, s := range segs {
		if s.segType == TypeWDS {
			t.Fatalf("unexpected WDS segment when no windows supplied")
		}
	}
	if segs[len(segs)-1].segType != TypeEND {
		t.Errorf("last segment type = 0x%02x, want END", segs[len(segs)-1].segType)
	}
}

func TestBuildIGSDisplaySet_SegmentOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	p := &color.Palette{}
	p.Init(1, 0, color.BT601)
	ds := IGSDisplaySet{
		Video:       VideoDescriptor{Width: 1920, Height: 1080, FrameRateID: 7},
		Composition: CompositionDescriptor{Number: 0, State: CompositionEpochStart},
		Interactive: InteractiveComposition{StreamModel: StreamModelOutOfMux},
		Palettes:    []*color.Palette{p},
	}
	if err := w.BuildIGSDisplaySet(ds); err != nil {
		t.Fatalf("BuildIGSDisplaySet: %v", err)
	}
	segs := splitSegments(t, buf.Bytes())
	if len(segs) < 3 {
		t.Fatalf("expected at least ICS, PDS, END segments, got %d", len(segs))
	}
	if segs[0].segType != TypeICS {
		t.Errorf("first segment = 0x%02x, want ICS", segs[0].segType)
	}
	if segs[len(segs)-1].segType != TypeEND {
		t.Errorf("last segment = 0x%02x, want END", segs[len(segs)-1].segType)
	}
}

type parsedSegment struct {
	segType uint8
	payload []byte
}

// splitSegments walks a concatenated stream of [type][u16 length][payload]
// segments, failing the test on a malformed stream.
func splitSegments(t *testing.T, data []byte) []parsedSegment {
	t.Helper()
	var segs []parsedSegment
	for off := 0; off < len(data); {
		if off+sizeSegmentHeader > len(data) {
			t.Fatalf("truncated segment header at offset %d", off)
		}
		segType := data[off]
		length := int(data[off+1])<<8 | int(data[off+2])
		start := off + sizeSegmentHeader
		end := start + length
		if end > len(data) {
			t.Fatalf("segment at offset %d declares length %d past end of stream", off, length)
		}
		segs = append(segs, parsedSegment{segType: segType, payload: data[start:end]})
		off = end
	}
	return segs
}
