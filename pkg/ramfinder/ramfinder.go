// Package ramfinder scans a captured 64 KiB RAM image for runs of
// identical bytes and hands out regions from them that the memory
// patcher may safely overwrite.
package ramfinder

import "fmt"

// MinRunLength is the shortest run of identical bytes that is considered
// usable free space.
const MinRunLength = 32

// scanStart and scanEnd bound the region eligible for scanning: zero page
// and the hardware stack below, the CPU vector tail above, are excluded
// on principle (a caller may still force them into the free list by
// zeroing a range before calling New).
const (
	scanStart = 0x0200
	scanEnd   = 0xFFEF
)

// Block is a run of `Count` bytes, each equal to `Value`, starting at
// `Address`, that has not yet been allocated.
type Block struct {
	Address uint16
	Value   byte
	Count   uint16
}

// Finder owns the ordered (by address) list of free blocks for one
// conversion.
type Finder struct {
	blocks []Block
}

// New scans ram[$0200..$FFEF] for runs of MinRunLength or more identical
// consecutive bytes and returns a Finder seeded with those runs.
func New(ram *[65536]byte) *Finder {
	f := &Finder{}
	addr := scanStart
	for addr <= scanEnd {
		value := ram[addr]
		count := 1
		for addr+count <= scanEnd && ram[addr+count] == value {
			count++
		}
		if count >= MinRunLength {
			f.blocks = append(f.blocks, Block{
				Address: uint16(addr),
				Value:   value,
				Count:   uint16(count),
			})
			addr += count
		} else {
			addr++
		}
	}
	return f
}

// Allocate removes n bytes from the smallest free block that can hold
// them (best fit) and returns the address of the allocated region and
// the byte value that currently fills it. The caller is responsible for
// overwriting those bytes; the Finder only tracks availability.
func (f *Finder) Allocate(n uint16) (addr uint16, value byte, err error) {
	if n == 0 {
		return 0, 0, fmt.Errorf("cannot allocate zero bytes")
	}

	best := -1
	for i, b := range f.blocks {
		if b.Count < n {
			continue
		}
		if best == -1 || f.blocks[i].Count < f.blocks[best].Count {
			best = i
		}
	}
	if best == -1 {
		return 0, 0, fmt.Errorf("no block of size %d", n)
	}

	b := f.blocks[best]
	addr, value = b.Address, b.Value
	remaining := b.Count - n
	if remaining == 0 {
		f.blocks = append(f.blocks[:best], f.blocks[best+1:]...)
	} else {
		f.blocks[best] = Block{Address: b.Address + n, Value: b.Value, Count: remaining}
	}
	return addr, value, nil
}

// MaxRun returns the length of the largest available free block, or 0 if
// none remain.
func (f *Finder) MaxRun() uint16 {
	var max uint16
	for _, b := range f.blocks {
		if b.Count > max {
			max = b.Count
		}
	}
	return max
}

// TotalFree returns the sum of all remaining free bytes across blocks.
func (f *Finder) TotalFree() uint32 {
	var total uint32
	for _, b := range f.blocks {
		total += uint32(b.Count)
	}
	return total
}

// Blocks returns a snapshot of the currently free blocks, in ascending
// address order.
func (f *Finder) Blocks() []Block {
	out := make([]Block, len(f.blocks))
	copy(out, f.blocks)
	return out
}

// ZeroRange forces ram[start:end] to zero before scanning begins, which
// turns a region the caller knows is safe to reuse (even if it didn't
// already hold a long constant run) into free space. Must be called
// before New.
func ZeroRange(ram *[65536]byte, start, end uint32) {
	for i := start; i < end && i < uint32(len(ram)); i++ {
		ram[i] = 0
	}
}
