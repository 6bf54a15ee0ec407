package patcher

import (
	"testing"

	"github.com/vsftool/vsf2prg/pkg/ramfinder"
	"github.com/vsftool/vsf2prg/pkg/vsf"
)

// tiny6502 executes the small subset of the instruction set the patcher
// is known to emit, against a flat 64 KiB memory array. It exists only
// to let tests verify the idempotence invariant without a full emulator.
type tiny6502 struct {
	mem      *[65536]byte
	a, x, y  byte
	sp       byte
	pc       uint16
	p        byte // full status byte, set only by RTI
	carry    bool
	negative bool
	zero     bool
	halted   bool
}

func (c *tiny6502) setNZ(v byte) {
	c.zero = v == 0
	c.negative = v&0x80 != 0
}

func (c *tiny6502) fetch() byte {
	v := c.mem[c.pc]
	c.pc++
	return v
}

func (c *tiny6502) fetch16() uint16 {
	lo := uint16(c.fetch())
	hi := uint16(c.fetch())
	return lo | hi<<8
}

func (c *tiny6502) run(maxSteps int) {
	for step := 0; step < maxSteps && !c.halted; step++ {
		op := c.fetch()
		switch op {
		case 0xA9: // LDA #
			c.a = c.fetch()
			c.setNZ(c.a)
		case 0xA2: // LDX #
			c.x = c.fetch()
			c.setNZ(c.x)
		case 0xA0: // LDY #
			c.y = c.fetch()
			c.setNZ(c.y)
		case 0xAD: // LDA abs
			c.a = c.mem[c.fetch16()]
			c.setNZ(c.a)
		case 0xBD: // LDA abs,X
			c.a = c.mem[c.fetch16()+uint16(c.x)]
			c.setNZ(c.a)
		case 0x8D: // STA abs
			c.mem[c.fetch16()] = c.a
		case 0x9D: // STA abs,X
			c.mem[c.fetch16()+uint16(c.x)] = c.a
		case 0x8C: // STY abs
			c.mem[c.fetch16()] = c.y
		case 0x85: // STA zp
			c.mem[c.fetch()] = c.a
		case 0x86: // STX zp
			c.mem[c.fetch()] = c.x
		case 0xE8: // INX
			c.x++
			c.setNZ(c.x)
		case 0xCA: // DEX
			c.x--
			c.setNZ(c.x)
		case 0xE0: // CPX #
			v := c.fetch()
			c.zero = c.x == v
			c.negative = (c.x-v)&0x80 != 0
			c.carry = c.x >= v
		case 0xD0: // BNE
			rel := int8(c.fetch())
			if !c.zero {
				c.pc = uint16(int32(c.pc) + int32(rel))
			}
		case 0x10: // BPL
			rel := int8(c.fetch())
			if !c.negative {
				c.pc = uint16(int32(c.pc) + int32(rel))
			}
		case 0x48: // PHA
			c.mem[0x0100+uint16(c.sp)] = c.a
			c.sp--
		case 0x68: // PLA
			c.sp++
			c.a = c.mem[0x0100+uint16(c.sp)]
			c.setNZ(c.a)
		case 0x9A: // TXS
			c.sp = c.x
		case 0x4C: // JMP abs
			c.pc = c.fetch16()
		case 0x40: // RTI: pop P, then PCL, then PCH (reverse of the push order)
			c.sp++
			c.p = c.mem[0x0100+uint16(c.sp)]
			c.sp++
			lo := uint16(c.mem[0x0100+uint16(c.sp)])
			c.sp++
			hi := uint16(c.mem[0x0100+uint16(c.sp)])
			c.pc = lo | hi<<8
			c.halted = true
		default:
			panic("tiny6502: unsupported opcode for this test")
		}
	}
}

func buildTestSnapshot() *vsf.Snapshot {
	snap := &vsf.Snapshot{}
	snap.CPU = vsf.CPU{A: 0x11, X: 0x22, Y: 0x33, SP: 0xF7, PC: 0xC000, P: 0x24}
	snap.Mem.CPUPortData = 0x37
	snap.Mem.CPUPortDir = 0x2F

	for i := 0x0100; i < 0x0200; i++ {
		snap.Mem.RAM[i] = byte(i) // distinctive stack-page content
	}
	for i := 0x00F5; i < 0x0100; i++ {
		snap.Mem.RAM[i] = byte(0x80 + i)
	}
	for i := 0xFFF0; i < 0x10000; i++ {
		snap.Mem.RAM[i] = byte(0xC0 + i)
	}

	// Free space: three separate runs, each large enough to host the
	// fixed-size blocks plus block 9, with room to spare.
	for i := 0x2000; i < 0x2400; i++ {
		snap.Mem.RAM[i] = 0x00
	}
	for i := 0x3000; i < 0x3200; i++ {
		snap.Mem.RAM[i] = 0x00
	}
	for i := 0x4000; i < 0x4200; i++ {
		snap.Mem.RAM[i] = 0x00
	}

	snap.VIC.Registers[0x1A] = 0x81
	snap.CIA1.IER = 0x82
	snap.CIA1.CRA = 0x11
	snap.CIA1.CRB = 0x08
	snap.CIA2.IER = 0x00
	snap.CIA2.CRA = 0x00
	snap.CIA2.CRB = 0x00
	return snap
}

func TestPatchIdempotence(t *testing.T) {
	snap := buildTestSnapshot()
	ram := snap.Mem.RAM // copy: simulates the decompressed image the patcher writes into
	finder := ramfinder.New(&ram)

	result, err := Patch(snap, &ram, finder)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}

	cpu := &tiny6502{mem: &ram, pc: result.Block9Addr}
	cpu.run(100000)
	if !cpu.halted {
		t.Fatalf("simulation did not reach RTI within step budget")
	}

	for i := 0x0100; i < 0x0200; i++ {
		if ram[i] != snap.Mem.RAM[i] {
			t.Fatalf("stack page byte $%04X = %#x, want %#x", i, ram[i], snap.Mem.RAM[i])
		}
	}
	for i := 0x00F5; i < 0x0100; i++ {
		if ram[i] != snap.Mem.RAM[i] {
			t.Fatalf("zero page tail byte $%04X = %#x, want %#x", i, ram[i], snap.Mem.RAM[i])
		}
	}
	for i := 0xFFF0; i < 0x10000; i++ {
		if ram[i] != snap.Mem.RAM[i] {
			t.Fatalf("vector tail byte $%04X = %#x, want %#x", i, ram[i], snap.Mem.RAM[i])
		}
	}
	for _, blk := range result.Blocks {
		for i := uint32(blk.Address); i < uint32(blk.Address)+uint32(blk.Size); i++ {
			if ram[i] != blk.OriginalValue {
				t.Fatalf("block byte $%04X = %#x, want original fill %#x", i, ram[i], blk.OriginalValue)
			}
		}
	}

	if cpu.sp != snap.CPU.SP {
		t.Fatalf("SP = %#x, want %#x", cpu.sp, snap.CPU.SP)
	}
	if cpu.a != snap.CPU.A {
		t.Fatalf("A = %#x, want %#x", cpu.a, snap.CPU.A)
	}
	if cpu.x != snap.CPU.X {
		t.Fatalf("X = %#x, want %#x", cpu.x, snap.CPU.X)
	}
	if cpu.y != snap.CPU.Y {
		t.Fatalf("Y = %#x, want %#x", cpu.y, snap.CPU.Y)
	}
	if cpu.pc != snap.CPU.PC {
		t.Fatalf("PC = %#04x, want %#04x", cpu.pc, snap.CPU.PC)
	}
	if cpu.p != snap.CPU.P {
		t.Fatalf("P = %#x, want %#x", cpu.p, snap.CPU.P)
	}
}

func TestPatchAllocationFailure(t *testing.T) {
	snap := buildTestSnapshot()
	ram := snap.Mem.RAM
	// Overwrite all the free space with non-constant bytes so no block
	// of any size can be allocated.
	for i := 0x0200; i <= 0xFFEF; i++ {
		ram[i] = byte(i)
	}
	finder := ramfinder.New(&ram)

	_, err := Patch(snap, &ram, finder)
	if err == nil {
		t.Fatalf("expected allocation failure")
	}
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !perr.Retryable {
		t.Fatalf("allocation failure should be retryable")
	}
	wantPrefix := "Failed to allocate block 1 ("
	if len(perr.Message) < len(wantPrefix) || perr.Message[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("message = %q, want prefix %q", perr.Message, wantPrefix)
	}
}
