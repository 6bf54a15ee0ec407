// Package vsf decodes VICE snapshot files (format 2.0, x64sc machine) into
// typed machine-state records.
package vsf

// RAMSize is the fixed size of the captured C64 RAM image.
const RAMSize = 65536

// ColorRAMSize is the size of VIC-II color memory; only the low nibble of
// each byte is meaningful on real hardware.
const ColorRAMSize = 1024

// VICRegisterCount is the number of VIC-II registers captured in the
// snapshot's VIC-II module.
const VICRegisterCount = 47

// SIDRegisterCount is the number of SID registers captured in the
// snapshot's SID module.
const SIDRegisterCount = 25

// CPU holds the 6510 register file at the moment the snapshot was taken.
type CPU struct {
	A  byte
	X  byte
	Y  byte
	SP byte
	PC uint16
	P  byte
}

// Memory holds the CPU I/O port and the full 64 KiB RAM image.
type Memory struct {
	CPUPortData byte
	CPUPortDir  byte
	RAM         [RAMSize]byte
}

// VIC holds the VIC-II register bank and color memory.
type VIC struct {
	Registers [VICRegisterCount]byte
	ColorRAM  [ColorRAMSize]byte
}

// TOD is the 4-byte time-of-day latch captured from a CIA.
type TOD struct {
	Tenths  byte
	Seconds byte
	Minutes byte
	Hours   byte
}

// CIA holds one 6526 Complex Interface Adapter's register state.
type CIA struct {
	ORA         byte
	ORB         byte
	DDRA        byte
	DDRB        byte
	TimerA      uint16
	TimerB      uint16
	TOD         TOD
	IER         byte
	CRA         byte
	CRB         byte
	TimerALatch uint16
	TimerBLatch uint16
}

// SID holds the raw SID register block.
type SID struct {
	Registers [SIDRegisterCount]byte
}

// Snapshot is the fully decoded, typed machine state extracted from a
// VICE snapshot container.
type Snapshot struct {
	CPU CPU
	Mem Memory
	VIC VIC
	CIA1 CIA
	CIA2 CIA
	SID SID
}
