// Package cart builds C64 cartridge (.crt) images: a 64-byte file header
// followed by one or two CHIP packets per bank, in one of two hardware
// formats.
package cart

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// BankSize is the size of each cartridge ROM window.
const BankSize = 8192

const (
	headerLen     = 64
	chipHeaderLen = 16
	chipDataLen   = BankSize
	chipPacketLen = chipHeaderLen + chipDataLen

	loadAddrLow  = 0x8000
	loadAddrHigh = 0xE000

	chipTypeFlash = 2
)

// Format distinguishes the two supported hardware layouts.
type Format struct {
	HardwareType uint16
	Exrom        byte
	Game         byte
	HasHighWindow bool
}

// Format16K is the 16 KiB-banked format: both low and high windows are
// present per bank (EasyFlash-style Ultimax mapping).
var Format16K = Format{HardwareType: 32, Exrom: 1, Game: 0, HasHighWindow: true}

// Format8K is the simpler 8 KiB-banked format: only the low window is
// used (Magic-Desk-style mapping).
var Format8K = Format{HardwareType: 19, Exrom: 0, Game: 1, HasHighWindow: false}

// Bank is one cartridge bank's ROM contents.
type Bank struct {
	Low  [BankSize]byte
	High *[BankSize]byte // nil unless the format has a high window and it was set
}

// Image is an in-progress cartridge container.
type Image struct {
	Format Format
	Name   string // upper-cased, truncated to 31 ASCII bytes at build time
	Banks  []Bank
}

// New creates an Image with a single zero-filled bank.
func New(format Format, name string) (*Image, error) {
	if len(name) > 32 {
		return nil, fmt.Errorf("cartridge name %q exceeds 32 characters", name)
	}
	img := &Image{Format: format, Name: strings.ToUpper(name)}
	img.AddBank()
	return img, nil
}

// AddBank appends a new zero-filled bank and returns its index.
func (img *Image) AddBank() int {
	img.Banks = append(img.Banks, Bank{})
	return len(img.Banks) - 1
}

// EnsureBanks grows the bank list (with zero-filled banks) until it has
// at least n entries.
func (img *Image) EnsureBanks(n int) {
	for len(img.Banks) < n {
		img.AddBank()
	}
}

// FillBank copies data into bank's low window starting at offset.
func (img *Image) FillBank(bank int, data []byte, offset int) error {
	if bank < 0 || bank >= len(img.Banks) {
		return fmt.Errorf("bank %d does not exist (valid: 0-%d)", bank, len(img.Banks)-1)
	}
	if offset+len(data) > BankSize {
		return fmt.Errorf("data does not fit in bank (%d bytes + offset %d > %d)", len(data), offset, BankSize)
	}
	copy(img.Banks[bank].Low[offset:], data)
	return nil
}

// SetBankHigh installs an exact 8192-byte high-window image for bank.
func (img *Image) SetBankHigh(bank int, data []byte) error {
	if !img.Format.HasHighWindow {
		return fmt.Errorf("format has no high window")
	}
	if bank < 0 || bank >= len(img.Banks) {
		return fmt.Errorf("bank %d does not exist (valid: 0-%d)", bank, len(img.Banks)-1)
	}
	if len(data) != BankSize {
		return fmt.Errorf("high-window data must be exactly %d bytes (got %d)", BankSize, len(data))
	}
	var buf [BankSize]byte
	copy(buf[:], data)
	img.Banks[bank].High = &buf
	return nil
}

// FillBankHigh copies data into bank's high window starting at offset,
// allocating the window (zero-filled) first if not already set.
func (img *Image) FillBankHigh(bank int, data []byte, offset int) error {
	if !img.Format.HasHighWindow {
		return fmt.Errorf("format has no high window")
	}
	if bank < 0 || bank >= len(img.Banks) {
		return fmt.Errorf("bank %d does not exist (valid: 0-%d)", bank, len(img.Banks)-1)
	}
	if offset+len(data) > BankSize {
		return fmt.Errorf("data does not fit in bank (%d bytes + offset %d > %d)", len(data), offset, BankSize)
	}
	if img.Banks[bank].High == nil {
		img.Banks[bank].High = &[BankSize]byte{}
	}
	copy(img.Banks[bank].High[offset:], data)
	return nil
}

// Bytes serializes the complete .crt file.
func (img *Image) Bytes() []byte {
	out := make([]byte, 0, headerLen+len(img.Banks)*chipPacketLen*2)
	out = append(out, img.header()...)
	for i, bank := range img.Banks {
		out = append(out, chipPacket(uint16(i), loadAddrLow, bank.Low[:])...)
		if img.Format.HasHighWindow && bank.High != nil {
			out = append(out, chipPacket(uint16(i), loadAddrHigh, bank.High[:])...)
		}
	}
	return out
}

func (img *Image) header() []byte {
	h := make([]byte, headerLen)
	copy(h[0:16], "C64 CARTRIDGE   ")
	binary.BigEndian.PutUint32(h[16:20], headerLen)
	binary.BigEndian.PutUint16(h[20:22], 0x0100)
	binary.BigEndian.PutUint16(h[22:24], img.Format.HardwareType)
	h[24] = img.Format.Exrom
	h[25] = img.Format.Game
	// bytes 26..31 reserved, already zero
	name := img.Name
	if len(name) > 31 {
		name = name[:31]
	}
	copy(h[32:32+len(name)], name)
	return h
}

func chipPacket(bank uint16, loadAddr uint16, data []byte) []byte {
	packet := make([]byte, chipPacketLen)
	copy(packet[0:4], "CHIP")
	binary.BigEndian.PutUint32(packet[4:8], uint32(chipPacketLen))
	binary.BigEndian.PutUint16(packet[8:10], chipTypeFlash)
	binary.BigEndian.PutUint16(packet[10:12], bank)
	binary.BigEndian.PutUint16(packet[12:14], loadAddr)
	binary.BigEndian.PutUint16(packet[14:16], uint16(len(data)))
	copy(packet[16:], data)
	return packet
}
