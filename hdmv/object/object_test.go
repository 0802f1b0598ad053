package object

import (
	"bytes"
	"testing"

	"github.com/ausocean/libbluav/hdmv/bitmap"
)

func TestEncodeExample(t *testing.T) {
	// spec.md §8: RLE of [0,0,5,5] -> 00 02 05 05 00 00.
	pal := &bitmap.Palletised{Indices: []uint8{0, 0, 5, 5}, Width: 4, Height: 1}
	got, _, err := Encode(pal)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x02, 0x05, 0x05, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = % x, want % x", got, want)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		w, h uint16
		idx  []uint8
	}{
		{"single-color-line", 4, 1, []uint8{3, 3, 3, 3}},
		{"long-zero-run", 80, 1, make([]uint8, 80)},
		{"mixed", 8, 2, []uint8{1, 1, 2, 0, 0, 0, 3, 3, 0, 0, 0, 0, 0, 0, 0, 0}},
		{"alternating", 8, 1, []uint8{1, 2, 1, 2, 1, 2, 1, 2}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			pal := &bitmap.Palletised{Indices: c.idx, Width: c.w, Height: c.h}
			rle, _, err := Encode(pal)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, _, err := Decode(rle, c.w, c.h)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(decoded.Indices, c.idx) {
				t.Errorf("round trip mismatch: got %v, want %v", decoded.Indices, c.idx)
			}
		})
	}
}

func TestDecodeRejectsMissingFinalEOL(t *testing.T) {
	if _, _, err := Decode([]byte{0x00, 0x04, 0x01, 0x01}, 4, 1); err == nil {
		t.Error("expected BrokenRLE for missing final EOL")
	}
}

func TestDecodeRejectsWrongLineWidth(t *testing.T) {
	rle := []byte{0x00, 0x02, 0x00, 0x00} // a 2-pixel zero run on a 4-wide line
	if _, _, err := Decode(rle, 4, 1); err == nil {
		t.Error("expected BrokenRLE for short line")
	}
}

func TestBuildDataLayout(t *testing.T) {
	rle := []byte{0x01, 0x02, 0x00, 0x00}
	data := BuildData(10, 20, rle)
	wantLen := 4 + len(rle)
	gotLen := int(data[0])<<16 | int(data[1])<<8 | int(data[2])
	if gotLen != wantLen {
		t.Errorf("object_data_length = %d, want %d", gotLen, wantLen)
	}
	if w := int(data[3])<<8 | int(data[4]); w != 10 {
		t.Errorf("width = %d, want 10", w)
	}
	if h := int(data[5])<<8 | int(data[6]); h != 20 {
		t.Errorf("height = %d, want 20", h)
	}
	if !bytes.Equal(data[7:], rle) {
		t.Errorf("trailing RLE bytes mismatch")
	}
}

func TestFragmentDataExample(t *testing.T) {
	// spec.md §8 scenario 6: an 80000-byte RLE object at
	// MaxSegmentPayload=65531 splits into 2 ODS fragments whose
	// concatenated payloads reproduce the original object_data() bytes.
	rle := make([]byte, 80000)
	for i := range rle {
		rle[i] = byte(i)
	}
	data := BuildData(1920, 1080, rle)

	frags := FragmentData(data)
	if len(frags) != 2 {
		t.Fatalf("len(frags) = %d, want 2", len(frags))
	}
	if !frags[0].FirstInSequence || frags[0].LastInSequence {
		t.Errorf("fragment 0 sequence flags wrong: %+v", frags[0])
	}
	if frags[1].FirstInSequence || !frags[1].LastInSequence {
		t.Errorf("fragment 1 sequence flags wrong: %+v", frags[1])
	}

	var reassembled []byte
	for _, f := range frags {
		reassembled = append(reassembled, f.Payload...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Error("reassembled fragments do not reproduce original object_data()")
	}
}

func TestMaxRLESize(t *testing.T) {
	if got, want := MaxRLESize(10, 5), uint32(110); got != want {
		t.Errorf("MaxRLESize(10,5) = %d, want %d", got, want)
	}
}
