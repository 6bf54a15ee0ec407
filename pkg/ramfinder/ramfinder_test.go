package ramfinder

import "testing"

func TestNewAllZero(t *testing.T) {
	var ram [65536]byte
	f := New(&ram)
	blocks := f.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("block count = %d, want 1", len(blocks))
	}
	b := blocks[0]
	if b.Address != 0x0200 || b.Value != 0 || b.Count != 0xFDF0 {
		t.Fatalf("block = %+v, want {0x0200 0 0xFDF0}", b)
	}
}

func TestNewRunLengthBoundary(t *testing.T) {
	t.Run("31 bytes produces no block", func(t *testing.T) {
		var ram [65536]byte
		for i := range ram {
			ram[i] = byte(i) // no two neighbours equal: no background runs
		}
		for i := 0x2000; i < 0x2000+31; i++ {
			ram[i] = 0xAA
		}
		f := New(&ram)
		if len(f.Blocks()) != 0 {
			t.Fatalf("expected no blocks for a 31-byte run")
		}
	})
	t.Run("32 bytes produces exactly one block", func(t *testing.T) {
		var ram [65536]byte
		for i := range ram {
			ram[i] = byte(i) // no two neighbours equal: no background runs
		}
		for i := 0x2000; i < 0x2000+32; i++ {
			ram[i] = 0xAA
		}
		f := New(&ram)
		blocks := f.Blocks()
		if len(blocks) != 1 || blocks[0].Count != 32 {
			t.Fatalf("blocks = %+v, want exactly one 32-byte block", blocks)
		}
	})
}

func TestIgnoresBelowScanStart(t *testing.T) {
	var ram [65536]byte
	for i := range ram {
		ram[i] = byte(i) // no two neighbours equal: no background runs
	}
	for i := 0; i < 0x0200; i++ {
		ram[i] = 0
	}
	f := New(&ram)
	if len(f.Blocks()) != 0 {
		t.Fatalf("expected zero page/stack to be excluded from scanning")
	}
}

func TestAllocateBestFit(t *testing.T) {
	var ram [65536]byte
	for i := range ram {
		ram[i] = byte(i) // no two neighbours equal: no background runs
	}
	for i := 0x2000; i < 0x2000+100; i++ {
		ram[i] = 0
	}
	for i := 0x3000; i < 0x3000+50; i++ {
		ram[i] = 0
	}
	f := New(&ram)

	addr, value, err := f.Allocate(40)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if addr != 0x3000 || value != 0 {
		t.Fatalf("addr=%#x value=%#x, want 0x3000/0x00 (best fit: 50-byte block)", addr, value)
	}

	blocks := f.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("block count = %d, want 2", len(blocks))
	}
	// The 100-byte block at $2000 is untouched.
	found2000 := false
	foundRemainder := false
	for _, b := range blocks {
		if b.Address == 0x2000 && b.Count == 100 {
			found2000 = true
		}
		if b.Address == 0x3000+40 && b.Count == 10 {
			foundRemainder = true
		}
	}
	if !found2000 {
		t.Fatalf("100-byte block at $2000 should be unchanged: %+v", blocks)
	}
	if !foundRemainder {
		t.Fatalf("expected 10-byte remainder at $3028: %+v", blocks)
	}
}

func TestAllocateExactMatchRemoves(t *testing.T) {
	var ram [65536]byte
	for i := range ram {
		ram[i] = byte(i) // no two neighbours equal: no background runs
	}
	for i := 0x2500; i < 0x2500+32; i++ {
		ram[i] = 0
	}
	f := New(&ram)
	addr, _, err := f.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if addr != 0x2500 {
		t.Fatalf("addr = %#x, want 0x2500", addr)
	}
	if len(f.Blocks()) != 0 {
		t.Fatalf("exact-match allocation should remove the block")
	}
}

func TestAllocateNotFound(t *testing.T) {
	var ram [65536]byte
	for i := range ram {
		ram[i] = byte(i) // no two neighbours equal: no background runs
	}
	for i := 0x2500; i < 0x2500+32; i++ {
		ram[i] = 0
	}
	f := New(&ram)
	if _, _, err := f.Allocate(64); err == nil {
		t.Fatalf("expected allocation failure for oversized request")
	}
}

func TestMaxRunAndTotalFree(t *testing.T) {
	var ram [65536]byte
	for i := range ram {
		ram[i] = byte(i) // no two neighbours equal: no background runs
	}
	for i := 0x2000; i < 0x2000+64; i++ {
		ram[i] = 1
	}
	for i := 0x3000; i < 0x3000+32; i++ {
		ram[i] = 2
	}
	f := New(&ram)
	if f.MaxRun() != 64 {
		t.Fatalf("MaxRun = %d, want 64", f.MaxRun())
	}
	if f.TotalFree() != 96 {
		t.Fatalf("TotalFree = %d, want 96", f.TotalFree())
	}
}
