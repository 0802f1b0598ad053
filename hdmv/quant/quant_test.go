package quant

import (
	"testing"

	"github.com/ausocean/libbluav/hdmv/color"
)

func TestInsertSingleColorIsOneLeaf(t *testing.T) {
	tree := NewTree()
	for i := 0; i < 10; i++ {
		if err := tree.Insert(0x11223344); err != nil {
			t.Fatal(err)
		}
	}
	if tree.Size != 1 {
		t.Fatalf("Size = %d, want 1", tree.Size)
	}
}

func TestReduceTargetRange(t *testing.T) {
	tree := NewTree()
	if err := tree.Reduce(1); err == nil {
		t.Fatal("expected error for target below 2")
	}
	if err := tree.Reduce(256); err == nil {
		t.Fatal("expected error for target above 255")
	}
}

func TestReduceToTarget(t *testing.T) {
	tree := NewTree()
	for i := 0; i < 64; i++ {
		rgba := uint32(i) << 24
		if err := tree.Insert(rgba); err != nil {
			t.Fatal(err)
		}
	}
	if tree.Size != 64 {
		t.Fatalf("Size = %d, want 64", tree.Size)
	}
	if err := tree.Reduce(8); err != nil {
		t.Fatal(err)
	}
	if tree.Size != 8 {
		t.Fatalf("Size after reduce = %d, want 8", tree.Size)
	}
}

func TestToPaletteMatchesSize(t *testing.T) {
	tree := NewTree()
	colors := []uint32{0xFF000000, 0x00FF0000, 0x0000FF00, 0xFFFFFFFF}
	for _, c := range colors {
		if err := tree.Insert(c); err != nil {
			t.Fatal(err)
		}
	}
	var p color.Palette
	p.Init(1, 0, color.BT601)
	if err := tree.ToPalette(&p); err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, e := range p.Entries {
		if e.InUse {
			count++
		}
	}
	if count != len(colors) {
		t.Errorf("palette has %d entries, want %d", count, len(colors))
	}
}

func TestInsertBitmapReducesDuringScan(t *testing.T) {
	tree := NewTree()
	width, height := 4, 4
	pix := make([]uint32, width*height)
	for i := range pix {
		pix[i] = uint32(i) << 16 // 16 distinct colours
	}
	if err := tree.InsertBitmap(pix, width, height, 4); err != nil {
		t.Fatal(err)
	}
	if tree.Size > 4 {
		t.Errorf("Size = %d, want <= 4", tree.Size)
	}
}
