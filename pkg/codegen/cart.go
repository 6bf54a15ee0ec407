package codegen

import (
	"fmt"

	"github.com/vsftool/vsf2prg/pkg/lzsa"
	"github.com/vsftool/vsf2prg/pkg/m6502"
)

// trampolineOrigin is where cartridge boot code copies its tiny RAM
// trampoline before disabling ROM and jumping into restoreOrigin.
const trampolineOrigin = 0x0100

// restoreOrigin is the fixed address the cartridge-side restore routine
// always runs at, regardless of format: it is copied there by the
// trampoline once the cartridge's low window has been read.
const restoreOrigin = 0x0340

// magicDeskSignature is the 5-byte sequence the 8 KiB format's boot
// stub must carry at low-window offset 4 for the host kernel to
// recognize it as bootable on reset.
var magicDeskSignature = [5]byte{0xC3, 0xC2, 0xCD, 0x38, 0x30}

// BuildCartRestore emits the cartridge-side counterpart of BuildPRG:
// instead of a BASIC stub, it starts directly at restoreOrigin, and
// instead of JMPing to block9Addr as its very first act (nothing needs
// decompressing into low RAM yet - the trampoline already copied this
// routine out of ROM into RAM), it runs the component driver then jumps
// to block9Addr exactly as the PRG variant does.
func BuildCartRestore(components []Component, block9Addr uint16) ([]byte, error) {
	decompressor, err := lzsa.GenerateDecoder6502(decompressorOrigin)
	if err != nil {
		return nil, fmt.Errorf("generating relocated decompressor: %w", err)
	}
	if len(decompressor) > 256 {
		return nil, fmt.Errorf("relocated decompressor too large: %d bytes (max 256)", len(decompressor))
	}

	b := m6502.NewBuilder(restoreOrigin)

	b.Label("start")
	b.SEI()
	b.CLD()
	b.LDXimm(0xFF)
	b.TXS()

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

	code, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return code, nil
}

// BuildCart16Trampoline emits the tiny fragment the 16 KiB format's
// high-window reset stub copies into $0100: it disables interrupts,
// switches the CPU port to a RAM-visible configuration, copies
// restoreLen bytes from the cartridge low window (already mapped at
// $8000) down to restoreOrigin, then jumps there. The cartridge itself
// is left mapped; the restore routine is responsible for leaving ROM
// state sane once it no longer needs it (it only ever reads from the
// low window, never executes from it once running at restoreOrigin).
func BuildCart16Trampoline(restoreLen uint16) ([]byte, error) {
	b := m6502.NewBuilder(trampolineOrigin)

	b.SEI()
	b.LDAimm(0x36)
	b.STAzp(0x01)

	b.LDXimm(byte(restoreLen - 1))
	loop := b.Here()
	b.LDAabsX(0x8000)
	b.STAabsX(restoreOrigin)
	b.DEX()
	b.BranchBackRel8(0x10, loop) // BPL: loop while X didn't just wrap past 0
	b.JMPabs(restoreOrigin)

	return b.Bytes()
}

// BuildCart16ResetStub emits the high-window bank-0 code that runs at
// the hardware reset vector: disable interrupts, set the CPU port,
// copy the trampoline into $0100, jump to it.
func BuildCart16ResetStub(trampoline []byte) ([]byte, error) {
	b := m6502.NewBuilder(0xE000)

	b.Label("reset")
	b.SEI()
	b.CLD()
	b.LDXimm(0xFF)
	b.TXS()
	b.LDAimm(0x2F)
	b.STAzp(0x00)
	b.LDAimm(0x37)
	b.STAzp(0x01)

	b.LDXimm(byte(len(trampoline) - 1))
	b.Label("copy_trampoline_loop")
	b.LDAabsXLabel("trampoline_table")
	b.STAabsX(trampolineOrigin)
	b.DEX()
	b.BPL("copy_trampoline_loop")

	b.JMPabs(trampolineOrigin)

	b.Label("trampoline_table")
	b.Raw(trampoline...)

	return b.Bytes()
}

// BuildCart8BootCode emits the 8 KiB format's boot stub: it carries
// the Magic-Desk-style signature at offset 4 the host kernel checks
// for on reset, then copies restoreLen bytes of restore code from the
// low window into restoreOrigin and jumps there, exactly as the 16 KiB
// trampoline does but without ever touching a high window (there isn't
// one).
func BuildCart8BootCode(restoreLen uint16) ([]byte, error) {
	b := m6502.NewBuilder(0x8000)

	b.Raw(0x00, 0x00, 0x00, 0x00)    // reserved
	b.Raw(magicDeskSignature[:]...) // offsets 4..8 carry the boot signature; kernel checks this window at reset

	b.SEI()
	b.CLD()
	b.LDXimm(0xFF)
	b.TXS()
	b.LDAimm(0x37)
	b.STAzp(0x01)

	b.LDXimm(byte(restoreLen - 1))
	loop := b.Here()
	b.LDAabsXLabel("restore_table")
	b.STAabsX(restoreOrigin)
	b.DEX()
	b.BranchBackRel8(0x10, loop)

	// Permanently disable the cartridge (bit 7 of the Magic-Desk
	// control register at $DE00) once the restore code no longer needs
	// to read from it; restoreLen bytes have already been copied out.
	b.LDAimm(0x80)
	b.STAabs(0xDE00)

	b.JMPabs(restoreOrigin)

	b.Label("restore_table")

	return b.Bytes()
}
