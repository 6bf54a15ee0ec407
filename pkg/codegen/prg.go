// Package codegen assembles the machine code the converter ships in its
// output: the self-extracting PRG loader and the boot/restore code for
// both cartridge formats. All of it is built through pkg/m6502's
// in-process encoder; no external assembler is invoked.
package codegen

import (
	"fmt"

	"github.com/vsftool/vsf2prg/pkg/lzsa"
	"github.com/vsftool/vsf2prg/pkg/m6502"
)

// Component is one compressed (or raw) piece of the snapshot the
// generated loader restores before jumping into the patcher's block 9.
type Component struct {
	Name    string // for diagnostics only
	DestLo  uint16 // destination start address
	Data    []byte // LZSA1-style stream (see pkg/lzsa) when UseLZSA, else the raw bytes to copy verbatim
	RawLen  uint16 // decompressed length (only meaningful when UseLZSA)
	UseLZSA bool   // false for the 20-byte raw CIA dumps, copied without a decompressor call
}

// prgLoadAddress is the fixed BASIC-friendly load address every
// self-extracting PRG uses.
const prgLoadAddress = 0x0801

// decompressorOrigin is where the relocated LZSA1 unpacker lives once
// copied into page 1, below the stack the restore routines also use.
const decompressorOrigin = 0x0100

// BuildPRG assembles a complete self-extracting PRG: a BASIC stub,
// the relocated LZSA1 decompressor copied to $0100, and a driver that
// feeds each component through it before handing off to block9Addr.
func BuildPRG(components []Component, block9Addr uint16) ([]byte, error) {
	decompressor, err := lzsa.GenerateDecoder6502(decompressorOrigin)
	if err != nil {
		return nil, fmt.Errorf("generating relocated decompressor: %w", err)
	}
	if len(decompressor) > 256 {
		return nil, fmt.Errorf("relocated decompressor too large: %d bytes (max 256)", len(decompressor))
	}

	b := m6502.NewBuilder(prgLoadAddress)

	emitBasicStub(b)

	b.Label("start")
	b.SEI()
	b.CLD()

	// Clear pending interrupts before the decompressor starts stamping
	// over VIC/CIA registers; re-armed for real once block 9 hands off.
	b.LDAabs(0xDC0D)
	b.LDAabs(0xDD0D)
	b.LDAimm(0x7F)
	b.STAabs(0xDC0D)
	b.STAabs(0xDD0D)
	b.LDAimm(0x00)
	b.STAabs(0xD01A)
	b.LDAimm(0xFF)
	b.STAabs(0xD019)

	b.LDAimm(0x35)
	b.STAzp(0x01)
	b.LDXimm(0xFF)
	b.TXS()

	// Copy the relocated decompressor down to page 1.
	b.LDXimm(0)
	b.Label("copy_decompressor_loop")
	b.LDAabsXLabel("decompressor_table")
	b.STAabsX(decompressorOrigin)
	b.INX()
	b.CPXimm(byte(len(decompressor)))
	b.BNE("copy_decompressor_loop")

	for i, c := range components {
		if c.UseLZSA {
			emitDecompressCall(b, fmt.Sprintf("component_%d_data", i), c.DestLo)
		} else {
			emitRawCopy(b, fmt.Sprintf("component_%d_data", i), c.DestLo, uint16(len(c.Data)))
		}
	}

	b.JMPabs(block9Addr)

	b.Label("decompressor_table")
	b.Raw(decompressor...)

	for i, c := range components {
		b.Label(fmt.Sprintf("component_%d_data", i))
		b.Raw(c.Data...)
	}

	return b.Bytes()
}

// emitDecompressCall points the shared decompressor at one component's
// compressed data and destination, then calls into it.
func emitDecompressCall(b *m6502.Builder, dataLabel string, dest uint16) {
	b.LDAimmLoLabel(dataLabel)
	b.STAzp(lzsa.ZPSrcLo)
	b.LDAimmHiLabel(dataLabel)
	b.STAzp(lzsa.ZPSrcHi)
	b.LDAimm(byte(dest))
	b.STAzp(lzsa.ZPDstLo)
	b.LDAimm(byte(dest >> 8))
	b.STAzp(lzsa.ZPDstHi)
	b.JSRabs(decompressorOrigin) // lzsa.EntryLabel is the decompressor's first byte
}

// emitRawCopy copies a fixed-size, uncompressed component (the CIA
// snapshots) directly from the PRG's own data area to dest.
func emitRawCopy(b *m6502.Builder, dataLabel string, dest, length uint16) {
	b.LDXimm(byte(length - 1))
	loop := b.Here()
	b.LDAabsXLabel(dataLabel)
	b.STAabsX(dest)
	b.DEX()
	b.BranchBackRel8(0x10, loop) // BPL
}

// emitBasicStub emits the standard one-line "10 SYS <addr>" BASIC
// program every C64 self-extracting PRG uses as its entry point. The
// SYS target is the address right after the stub itself (where "start"
// is about to be labeled); since the stub's own length depends on how
// many decimal digits that address takes to print, the digit count is
// fixed-point-iterated to a stable value instead of assumed.
func emitBasicStub(b *m6502.Builder) {
	digits := 4
	for {
		target := prgLoadAddress + 8 + digits
		s := fmt.Sprintf("%d", target)
		if len(s) == digits {
			nextLine := target
			b.Raw(byte(nextLine), byte(nextLine>>8))
			b.Raw(0x0A, 0x00) // line number 10
			b.Raw(0x9E)       // SYS token
			for _, c := range s {
				b.Raw(byte(c))
			}
			b.Raw(0x00)       // end of line
			b.Raw(0x00, 0x00) // end of program
			return
		}
		digits = len(s)
	}
}
