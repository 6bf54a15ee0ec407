// Package patcher designs and writes the 6502 machine code that restores
// a dismantled snapshot back to its captured state once the outer
// decompressor has refilled RAM from $0200 upward.
//
// Two co-operating routines are synthesized:
//
//   - Block 9, placed in ordinary (scanned) free RAM, which replays the
//     preserved stack page / vector tail / zero-page tail back to their
//     canonical addresses, wipes the eight staging blocks it read them
//     from, and jumps into the primary routine.
//   - The primary restore routine, placed inside $0100-$01FF so that it
//     survives the decompressor (which only refills $0200 upward), which
//     re-arms I/O and the CIAs and finally executes RTI into the
//     snapshotted PC.
//
// This is the "block 9, no block 10" variant: folding the stack-pointer
// restore and a few register handoffs into block 9 keeps the primary
// routine small enough that it reliably fits below SP even on snapshots
// with a low stack pointer, without needing a third routine.
package patcher

import (
	"fmt"

	"github.com/vsftool/vsf2prg/pkg/lzsa"
	"github.com/vsftool/vsf2prg/pkg/m6502"
	"github.com/vsftool/vsf2prg/pkg/ramfinder"
	"github.com/vsftool/vsf2prg/pkg/vsf"
)

// zpTailLen is how much of the top of zero page is excluded from the
// general "zp" decompression component and instead preserved/replayed
// directly by blocks 1/2 and block 9: the relocatable LZSA1 decoder
// uses this strip ($F5-$FF) as its own scratch space while the "zp"
// component is being written, so the snapshot's real bytes there must
// survive the decompression pass some other way.
var zpTailLen = 0x100 - lzsa.ReservedZPStart

// safetyMargin is how far below SP the primary restore routine's last
// byte must end, so that the hardware stack (which grows down from SP)
// cannot collide with it before RTI runs.
const safetyMargin = 6

// stageSizes are the fixed sizes of blocks 1..8, in allocation order.
// Block 2 carries 32 bytes of stack page plus the preserved zero-page
// tail (zpTailLen bytes).
var stageSizes = [8]uint16{48, 32 + uint16(zpTailLen), 32, 32, 32, 32, 32, 32}

// Block records one allocation the patcher made through the RAM finder,
// together with the original byte value that filled it (needed to wipe
// it back to that value once its staged content has been replayed).
type Block struct {
	Address       uint16
	OriginalValue byte
	Size          uint16
}

// Result is everything downstream code generators need to know about a
// completed patch pass.
type Result struct {
	Blocks      []Block // blocks 1..9, in allocation order (index 8 is block 9)
	Block9Addr  uint16
	RestoreAddr uint16 // start of the primary restore routine, inside $01xx
	RestoreSize uint16
}

// Error distinguishes allocation failures (retryable by supplying extra
// free blocks) from layout failures (not retryable).
type Error struct {
	Retryable bool
	Message   string
}

func (e *Error) Error() string { return e.Message }

func allocErr(format string, args ...any) error {
	return &Error{Retryable: true, Message: fmt.Sprintf(format, args...)}
}

func layoutErr(format string, args ...any) error {
	return &Error{Retryable: false, Message: fmt.Sprintf(format, args...)}
}

// Patch allocates the restoration catalog via finder, writes the
// synthesized routines into ram, and returns their layout. ram is
// mutated in place; it is normally a copy of snap.Mem.RAM (the converter
// owns that decision).
func Patch(snap *vsf.Snapshot, ram *[65536]byte, finder *ramfinder.Finder) (*Result, error) {
	blocks := make([]Block, 0, 9)
	for i, size := range stageSizes {
		addr, value, err := finder.Allocate(size)
		if err != nil {
			return nil, allocErr("Failed to allocate block %d (%d bytes)", i+1, size)
		}
		blocks = append(blocks, Block{Address: addr, OriginalValue: value, Size: size})
	}

	zpTail := make([]byte, zpTailLen)
	copy(zpTail, ram[lzsa.ReservedZPStart:0x0100])

	block9Code, jmpPatchOffset, err := buildBlock9(blocks, snap)
	if err != nil {
		return nil, err
	}
	if len(block9Code) > 255 {
		return nil, layoutErr("Block 9 too large (%d bytes, max 255)", len(block9Code))
	}

	block9Addr, block9Fill, err := finder.Allocate(uint16(len(block9Code)))
	if err != nil {
		return nil, allocErr("Failed to allocate block 9 (%d bytes)", len(block9Code))
	}

	restoreCode, err := buildRestoreRoutine(snap, zpTail, block9Addr, uint16(len(block9Code)), block9Fill)
	if err != nil {
		return nil, err
	}
	codeLen := uint16(len(restoreCode))

	restoreStart, err := placeRestoreRoutine(snap.CPU.SP, codeLen)
	if err != nil {
		return nil, err
	}

	// Patch block 9's trailing JMP to the now-known restore routine start.
	block9Code[jmpPatchOffset] = byte(restoreStart)
	block9Code[jmpPatchOffset+1] = byte(restoreStart >> 8)

	copy(ram[restoreStart:], restoreCode)

	// Preserve the stack page and vector tail / zero-page tail into
	// blocks 1 and 2 before block 9 (which will later wipe them) is
	// written, then blocks 3..8 for the remainder of the stack page.
	preserve := func(b Block, srcs ...[2]int) {
		off := 0
		for _, s := range srcs {
			copy(ram[b.Address+uint16(off):], ram[s[0]:s[1]])
			off += s[1] - s[0]
		}
	}
	preserve(blocks[0], [2]int{0x0100, 0x0120}, [2]int{0xFFF0, 0x10000})
	preserve(blocks[1], [2]int{0x0120, 0x0140}, [2]int{int(lzsa.ReservedZPStart), 0x0100})
	stackRanges := [6][2]int{{0x0140, 0x0160}, {0x0160, 0x0180}, {0x0180, 0x01A0}, {0x01A0, 0x01C0}, {0x01C0, 0x01E0}, {0x01E0, 0x0200}}
	for i, r := range stackRanges {
		preserve(blocks[2+i], r)
	}

	copy(ram[block9Addr:], block9Code)
	blocks = append(blocks, Block{Address: block9Addr, OriginalValue: block9Fill, Size: uint16(len(block9Code))})

	return &Result{
		Blocks:      blocks,
		Block9Addr:  block9Addr,
		RestoreAddr: restoreStart,
		RestoreSize: codeLen,
	}, nil
}

// placeRestoreRoutine chooses where in $0100-$01FF the primary restore
// routine ends, aiming to end safetyMargin bytes below SP so the
// hardware stack cannot grow into it; if that doesn't leave room, it is
// anchored to end exactly at $0200 instead.
func placeRestoreRoutine(sp byte, codeLen uint16) (uint16, error) {
	idealEnd := uint32(0x0100) + uint32(sp)
	if idealEnd < safetyMargin {
		idealEnd = 0
	} else {
		idealEnd -= safetyMargin
	}
	var start uint32
	if idealEnd >= uint32(codeLen) && idealEnd-uint32(codeLen) >= 0x0100 {
		start = idealEnd - uint32(codeLen)
	} else {
		end := uint32(0x0200)
		if end < uint32(codeLen) || end-uint32(codeLen) < 0x0100 {
			return 0, layoutErr("Restore code too large for $0100-$01FF (%d bytes)", codeLen)
		}
		start = end - uint32(codeLen)
	}
	return uint16(start), nil
}

// buildBlock9 emits the replay-and-wipe routine plus the register
// handoffs block 9 sets up for the primary routine (SP restored, X =
// CPU port DDR, Y = $FF), followed by a placeholder JMP whose operand
// offset (within the returned slice) is reported so the caller can
// patch it once the primary routine's address is known.
func buildBlock9(blocks []Block, snap *vsf.Snapshot) ([]byte, int, error) {
	b := m6502.NewBuilder(0) // block 9's own base address is irrelevant to its own encoding

	// Replay blocks 1..8 back to $0100 + i*32.
	for i := 0; i < 8; i++ {
		dst := uint16(0x0100) + uint16(i)*32
		b.LDXimm(31)
		loop := b.Here()
		b.LDAabsX(blocks[i].Address)
		b.STAabsX(dst)
		b.DEX()
		b.BranchBackRel8(0x10, loop) // BPL
	}

	// Replay $FFF0-$FFFF from block 1's tail (offset +32).
	b.LDXimm(15)
	loop := b.Here()
	b.LDAabsX(blocks[0].Address + 32)
	b.STAabsX(0xFFF0)
	b.DEX()
	b.BranchBackRel8(0x10, loop)

	// Wipe blocks 1..8 back to their original fill byte.
	for i := 0; i < 8; i++ {
		blk := blocks[i]
		if blk.Size > 256 {
			return nil, 0, layoutErr("Block %d size %d exceeds 256 bytes", i+1, blk.Size)
		}
		b.LDAimm(blk.OriginalValue)
		b.LDXimm(0)
		fill := b.Here()
		b.STAabsX(blk.Address)
		b.INX()
		b.CPXimm(byte(blk.Size))
		b.BranchBackRel8(0xD0, fill) // BNE
	}

	// Replay the zero-page tail the LZSA decompressor used as scratch.
	for i := 0; i < zpTailLen; i++ {
		b.LDAimm(snap.Mem.RAM[lzsa.ReservedZPStart+i])
		b.STAzp(byte(int(lzsa.ReservedZPStart) + i))
	}

	// Hand off SP, CPU port DDR, and $FF to the primary routine.
	b.LDXimm(snap.CPU.SP)
	b.TXS()
	b.LDXimm(snap.Mem.CPUPortDir)
	b.LDYimm(0xFF)

	jmpOperandOffset := b.JMPabsReserve()

	code, err := b.Bytes()
	if err != nil {
		return nil, 0, err
	}
	return code, jmpOperandOffset, nil
}

// buildRestoreRoutine emits the primary restore routine: wipe block 9,
// re-enable I/O in the strict order the hardware demands, restart the
// CIAs, and build the RTI frame that resumes the snapshotted PC.
func buildRestoreRoutine(snap *vsf.Snapshot, zpTail []byte, block9Addr, block9Size uint16, block9Fill byte) ([]byte, error) {
	b := m6502.NewBuilder(0)

	// Wipe block 9. At entry, X = CPU port DDR, Y = $FF (set up by
	// block 9).
	b.LDAimm(block9Fill)
	b.LDXimm(0)
	wipe := b.Here()
	b.STAabsX(block9Addr)
	b.INX()
	b.CPXimm(byte(block9Size))
	b.BranchBackRel8(0xD0, wipe) // BNE
	b.LDXimm(snap.Mem.CPUPortDir)
	b.LDYimm(0xFF)

	// Install the CPU port direction register, then switch the port to
	// expose I/O before touching any chip register.
	b.STXzp(0x00)
	b.LDAimm(0x35)
	b.STAzp(0x01)

	// Quiesce the VIC interrupt generator before draining CIA
	// interrupts, or a spurious raster IRQ can slip in.
	b.LDAimm(0x00)
	b.STAabs(0xD01A)
	b.STYabs(0xD019) // Y == $FF: clear all pending VIC IRQ flags

	b.LDAabs(0xDC0D) // drain CIA1 ICR
	b.LDAabs(0xDD0D) // drain CIA2 ICR

	b.LDAimm(0xFF)
	b.STAabs(0xD019)
	b.LDAimm(snap.VIC.Registers[0x1A])
	b.STAabs(0xD01A)

	b.LDAabs(0xDC0D)
	b.LDAabs(0xDD0D)

	if snap.CIA1.IER != 0 {
		b.LDAimm(snap.CIA1.IER | 0x80)
		b.STAabs(0xDC0D)
	}
	if snap.CIA2.IER != 0 {
		b.LDAimm(snap.CIA2.IER | 0x80)
		b.STAabs(0xDD0D)
	}

	// CIA timers are started last: once CRA/CRB are written they may
	// fire on the very next cycle.
	b.LDAimm(snap.CIA1.CRA)
	b.STAabs(0xDC0E)
	b.LDAimm(snap.CIA1.CRB)
	b.STAabs(0xDC0F)
	b.LDAimm(snap.CIA2.CRA)
	b.STAabs(0xDD0E)
	b.LDAimm(snap.CIA2.CRB)
	b.STAabs(0xDD0F)

	b.LDAimm(snap.Mem.CPUPortData)
	b.STAzp(0x01)

	// RTI frame: PCH, PCL, P.
	b.LDAimm(byte(snap.CPU.PC >> 8))
	b.PHA()
	b.LDAimm(byte(snap.CPU.PC))
	b.PHA()
	b.LDAimm(snap.CPU.P)
	b.PHA()

	b.LDXimm(snap.CPU.X)
	b.LDYimm(snap.CPU.Y)
	b.LDAimm(snap.CPU.A)
	b.RTI()

	return b.Bytes()
}
