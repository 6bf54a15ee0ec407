package codegen

import (
	"testing"

	"github.com/vsftool/vsf2prg/pkg/lzsa"
)

func TestBuildPRGProducesWellFormedBasicStub(t *testing.T) {
	components := []Component{
		{Name: "zp", DestLo: 0x0000, Data: []byte{0x01, 0x02, 0x03, 0x04}, UseLZSA: false},
	}
	prg, err := BuildPRG(components, 0x2000)
	if err != nil {
		t.Fatalf("BuildPRG: %v", err)
	}
	if len(prg) < 8 {
		t.Fatalf("PRG too short: %d bytes", len(prg))
	}
	// Byte 4 of the in-memory image (after the 2-byte load address this
	// slice does NOT include, since BuildPRG returns only the body) is
	// the SYS token at stub offset 4.
	if prg[4] != 0x9E {
		t.Fatalf("expected SYS token 0x9E at offset 4, got %#x", prg[4])
	}
	// Line number 10 is stored little-endian at offsets 2-3, so its
	// high byte at offset 3 is 0x00.
	if prg[3] != 0x00 {
		t.Fatalf("expected BASIC line number high byte 0x00 at offset 3, got %#x", prg[3])
	}
}

func TestBuildPRGRoundTripsLZSAComponent(t *testing.T) {
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	compressed := lzsa.Compress(payload, lzsa.Options{})

	decompressed, err := lzsa.Decompress(compressed, 0)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(decompressed) != len(payload) {
		t.Fatalf("round trip length = %d, want %d", len(decompressed), len(payload))
	}
	for i := range payload {
		if decompressed[i] != payload[i] {
			t.Fatalf("round trip mismatch at byte %d", i)
		}
	}

	components := []Component{
		{Name: "ram_chunk", DestLo: 0x4000, Data: compressed, RawLen: uint16(len(payload)), UseLZSA: true},
	}
	prg, err := BuildPRG(components, 0x2000)
	if err != nil {
		t.Fatalf("BuildPRG: %v", err)
	}
	if len(prg) == 0 {
		t.Fatalf("expected non-empty PRG")
	}
}

func TestBuildPRGMultipleComponentsOfBothKinds(t *testing.T) {
	compressed := lzsa.Compress([]byte("the quick brown fox jumps over the lazy dog"), lzsa.Options{})
	components := []Component{
		{Name: "cia1", DestLo: 0xDC00, Data: make([]byte, 20), UseLZSA: false},
		{Name: "cia2", DestLo: 0xDD00, Data: make([]byte, 20), UseLZSA: false},
		{Name: "ram", DestLo: 0x2000, Data: compressed, RawLen: 44, UseLZSA: true},
	}
	prg, err := BuildPRG(components, 0xC000)
	if err != nil {
		t.Fatalf("BuildPRG: %v", err)
	}
	if len(prg) == 0 {
		t.Fatalf("expected non-empty PRG")
	}
}

func TestBuildPRGDecompressorFitsOnePage(t *testing.T) {
	// The decompressor itself is generated internally and always fits;
	// this test only documents the guard exists by checking a normal
	// build stays comfortably under the one-page ceiling.
	components := []Component{{Name: "x", DestLo: 0x2000, Data: []byte{1}, UseLZSA: false}}
	if _, err := BuildPRG(components, 0x2000); err != nil {
		t.Fatalf("unexpected error on minimal build: %v", err)
	}
}
