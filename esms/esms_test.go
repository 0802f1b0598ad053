package esms

import (
	"bytes"
	"testing"
)

func TestWriterBytes_HeaderAndDirectoryTable(t *testing.T) {
	w := NewWriter()
	if err := w.AddESProperties("source.h264", 4, []byte{0xDE, 0xAD, 0xBE, 0xEF}); err != nil {
		t.Fatalf("AddESProperties: %v", err)
	}
	w.AddDataBlocks([]byte{0x01, 0x02, 0x03})

	out := w.Bytes(true)

	if !bytes.Equal(out[:4], []byte(FileHeader)) {
		t.Fatalf("header = %q, want %q", out[:4], FileHeader)
	}
	if out[4] != Version {
		t.Fatalf("version = %d, want %d", out[4], Version)
	}
	if out[5] != 1 {
		t.Fatalf("completion = %d, want 1", out[5])
	}
	if out[6] != 2 {
		t.Fatalf("directory count = %d, want 2", out[6])
	}

	// Directory table: (u8 id, u64 offset) per entry, in insertion order.
	tableStart := 7
	firstID := out[tableStart]
	if DirectoryID(firstID) != DirESProperties {
		t.Fatalf("first directory id = %d, want %d", firstID, DirESProperties)
	}
	secondID := out[tableStart+9]
	if DirectoryID(secondID) != DirDataBlocks {
		t.Fatalf("second directory id = %d, want %d", secondID, DirDataBlocks)
	}

	firstOffset := beU64(out[tableStart+1 : tableStart+9])
	payloadStart := tableStart + 2*9
	if int(firstOffset) != payloadStart {
		t.Fatalf("first directory offset = %d, want %d", firstOffset, payloadStart)
	}
}

func TestAddESProperties_PayloadLayout(t *testing.T) {
	w := NewWriter()
	path := "clip.h264"
	if err := w.AddESProperties(path, 4, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("AddESProperties: %v", err)
	}

	payload := w.dirs[0].payload
	pathLen := int(beU16(payload[:2]))
	if pathLen != len(path) {
		t.Fatalf("path length = %d, want %d", pathLen, len(path))
	}
	gotPath := string(payload[2 : 2+pathLen])
	if gotPath != path {
		t.Fatalf("path = %q, want %q", gotPath, path)
	}

	crcControlSize := beU32(payload[2+pathLen : 2+pathLen+4])
	if crcControlSize != 4 {
		t.Fatalf("crcControlSize = %d, want 4", crcControlSize)
	}

	gotCRC := beU32(payload[2+pathLen+4 : 2+pathLen+8])
	wantCRC := crc32ESMS([]byte{1, 2, 3, 4})
	if gotCRC != wantCRC {
		t.Fatalf("crc = %08x, want %08x", gotCRC, wantCRC)
	}
}

func TestAddESProperties_TruncatesCRCWindow(t *testing.T) {
	w := NewWriter()
	// crcControlSize exceeds the data provided: must clamp, not panic.
	if err := w.AddESProperties("p", 100, []byte{1, 2}); err != nil {
		t.Fatalf("AddESProperties: %v", err)
	}
	payload := w.dirs[0].payload
	gotCRC := beU32(payload[len(payload)-4:])
	wantCRC := crc32ESMS([]byte{1, 2})
	if gotCRC != wantCRC {
		t.Fatalf("crc = %08x, want %08x", gotCRC, wantCRC)
	}
}

func TestAddESProperties_RejectsOverlongPath(t *testing.T) {
	w := NewWriter()
	path := make([]byte, 0x10000)
	if err := w.AddESProperties(string(path), 0, nil); err == nil {
		t.Fatalf("expected an error for an overlong path")
	}
}

func TestCRC32ESMS_KnownVector(t *testing.T) {
	// Regression vector: any change to the table construction or seed must
	// be caught here.
	got := crc32ESMS([]byte("123456789"))
	if got != 0x0376E6E7 {
		t.Fatalf("crc32ESMS(\"123456789\") = %08x, want 0376e6e7", got)
	}
	if got == 0 {
		t.Fatalf("crc32ESMS returned zero for a non-empty input")
	}
	// Two distinct inputs must not collide trivially.
	other := crc32ESMS([]byte("987654321"))
	if got == other {
		t.Fatalf("crc32ESMS produced the same value for distinct inputs")
	}
}

func beU16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func beU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beU64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
