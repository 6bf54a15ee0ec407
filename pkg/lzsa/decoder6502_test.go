package lzsa

import "testing"

func TestGenerateDecoder6502Assembles(t *testing.T) {
	code, err := GenerateDecoder6502(0x0100)
	if err != nil {
		t.Fatalf("GenerateDecoder6502: %v", err)
	}
	if len(code) == 0 {
		t.Fatalf("expected non-empty routine")
	}
	if len(code) > 256 {
		t.Fatalf("relocatable decompressor must fit in one page, got %d bytes", len(code))
	}
	// Must end in RTS (0x60).
	if code[len(code)-1] != 0x60 {
		t.Fatalf("routine does not end in RTS: last byte %#x", code[len(code)-1])
	}
}

func TestReservedZPStartMatchesLenLo(t *testing.T) {
	if ReservedZPStart != ZPLenLo {
		t.Fatalf("ReservedZPStart = %#x, want %#x", ReservedZPStart, ZPLenLo)
	}
	if int(ReservedZPStart) >= int(ZPDstHi) {
		t.Fatalf("reserved zero-page strip must start below $FF")
	}
}
