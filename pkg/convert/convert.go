// Package convert ties the snapshot parser, the RAM finder, the memory
// patcher, and the code generators together into the three artifacts
// the tool produces: a self-extracting PRG, a 16 KiB cartridge, and an
// 8 KiB cartridge.
package convert

import (
	"fmt"
	"strings"

	"github.com/vsftool/vsf2prg/pkg/cart"
	"github.com/vsftool/vsf2prg/pkg/codegen"
	"github.com/vsftool/vsf2prg/pkg/fsindex"
	"github.com/vsftool/vsf2prg/pkg/lzsa"
	"github.com/vsftool/vsf2prg/pkg/patcher"
	"github.com/vsftool/vsf2prg/pkg/ramfinder"
	"github.com/vsftool/vsf2prg/pkg/vsf"
)

// FreeOverride is a caller-supplied range the RAM finder should treat
// as free even though it wasn't a long constant run in the snapshot,
// matching the GUI's allocation-failure retry workflow.
type FreeOverride struct {
	From, To uint16 // inclusive address range
}

// zpCompStart/zpCompEnd bound the ordinary zero-page region that rides
// through decompression like any other RAM: $0000/$0001 (CPU port) and
// lzsa.ReservedZPStart..$FF (decompressor scratch, block 9's domain)
// are excluded.
const zpCompStart = 0x0002

var zpCompEnd uint16 = lzsa.ReservedZPStart

// ramCompStart/ramCompEnd bound the bulk RAM region: $0100-$01FF (the
// stack page, entirely handled by block 9's preserve/replay) and
// $FFF0-$FFFF (the vector tail, likewise) are excluded.
const (
	ramCompStart = 0x0200
	ramCompEnd   = 0xFFF0
)

// buildComponents runs the patcher and compresses the two generic
// regions (zero page and bulk RAM, the latter now carrying the
// patcher's staging blocks and block 9) into the lzsa-compatible
// components the code generators expect.
func buildComponents(snap *vsf.Snapshot, overrides []FreeOverride) (*patcher.Result, []codegen.Component, error) {
	ram := snap.Mem.RAM
	for _, o := range overrides {
		ramfinder.ZeroRange(&ram, uint32(o.From), uint32(o.To)+1)
	}
	finder := ramfinder.New(&ram)

	result, err := patcher.Patch(snap, &ram, finder)
	if err != nil {
		return nil, nil, err
	}

	zp := lzsa.Compress(ram[zpCompStart:zpCompEnd], lzsa.Options{})
	bulk := lzsa.Compress(ram[ramCompStart:ramCompEnd], lzsa.Options{})

	components := []codegen.Component{
		{Name: "zp", DestLo: zpCompStart, Data: zp, RawLen: uint16(zpCompEnd - zpCompStart), UseLZSA: true},
		{Name: "ram", DestLo: ramCompStart, Data: bulk, RawLen: uint16(ramCompEnd - ramCompStart), UseLZSA: true},
	}
	return result, components, nil
}

// ToPRG converts snap into a complete self-extracting PRG file image:
// the 2-byte load address $01 $08 followed by BuildPRG's body, which is
// assembled for that load address.
func ToPRG(snap *vsf.Snapshot, overrides []FreeOverride) ([]byte, error) {
	result, components, err := buildComponents(snap, overrides)
	if err != nil {
		return nil, err
	}
	body, err := codegen.BuildPRG(components, result.Block9Addr)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+2)
	out = append(out, 0x01, 0x08)
	out = append(out, body...)
	return out, nil
}

// CartOptions configures the optional embedded-file subsystem (16 KiB
// format only) and the cartridge's display name.
//
// IncludeFiles only populates the on-cart directory/filename tables and
// the files' own bank storage (pkg/fsindex); no LOAD/SAVE kernel hook
// that would let BASIC actually reach them is generated yet, so an
// image built with IncludeFiles carries the data but nothing that
// serves it on real hardware. See DESIGN.md's pkg/convert entry.
type CartOptions struct {
	Name         string
	IncludeFiles []fsindex.File // pre-read from --include-dir by the caller
}

func defaultName(opts CartOptions) string {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "VICE SNAPSHOT"
	}
	return name
}

// ToCRT16 builds the 16 KiB (EasyFlash-style) cartridge image.
func ToCRT16(snap *vsf.Snapshot, overrides []FreeOverride, opts CartOptions) ([]byte, error) {
	if len(opts.Name) > 32 {
		return nil, fmt.Errorf("cartridge name %q exceeds 32 characters", opts.Name)
	}

	result, components, err := buildComponents(snap, overrides)
	if err != nil {
		return nil, err
	}

	restore, err := codegen.BuildCartRestore(components, result.Block9Addr)
	if err != nil {
		return nil, err
	}

	trampoline, err := codegen.BuildCart16Trampoline(uint16(len(restore)))
	if err != nil {
		return nil, err
	}
	if len(trampoline) > 256 {
		return nil, &patcher.Error{Retryable: false, Message: fmt.Sprintf("cartridge trampoline too large: %d bytes", len(trampoline))}
	}

	reset, err := codegen.BuildCart16ResetStub(trampoline)
	if err != nil {
		return nil, err
	}

	img, err := cart.New(cart.Format16K, defaultName(opts))
	if err != nil {
		return nil, err
	}

	if len(restore) > cart.BankSize {
		return nil, &patcher.Error{Retryable: false, Message: fmt.Sprintf("cartridge restore code too large for one bank: %d bytes", len(restore))}
	}
	if err := img.FillBank(0, restore, 0); err != nil {
		return nil, err
	}
	if err := img.SetBankHigh(0, padBank(reset)); err != nil {
		return nil, err
	}

	if len(opts.IncludeFiles) > 0 {
		if err := installFileSystem(img, opts.IncludeFiles); err != nil {
			return nil, err
		}
	}

	installResetVector(img)

	return img.Bytes(), nil
}

// ToCRT8 builds the 8 KiB (Magic-Desk-style) cartridge image.
func ToCRT8(snap *vsf.Snapshot, overrides []FreeOverride, opts CartOptions) ([]byte, error) {
	if len(opts.Name) > 32 {
		return nil, fmt.Errorf("cartridge name %q exceeds 32 characters", opts.Name)
	}

	result, components, err := buildComponents(snap, overrides)
	if err != nil {
		return nil, err
	}

	restore, err := codegen.BuildCartRestore(components, result.Block9Addr)
	if err != nil {
		return nil, err
	}

	boot, err := codegen.BuildCart8BootCode(uint16(len(restore)))
	if err != nil {
		return nil, err
	}
	if len(boot)+len(restore) > cart.BankSize {
		return nil, &patcher.Error{Retryable: false, Message: fmt.Sprintf("8 KiB cartridge bank 0 overflow: boot %d + restore %d > %d", len(boot), len(restore), cart.BankSize)}
	}

	img, err := cart.New(cart.Format8K, defaultName(opts))
	if err != nil {
		return nil, err
	}
	if err := img.FillBank(0, boot, 0); err != nil {
		return nil, err
	}
	if err := img.FillBank(0, restore, len(boot)); err != nil {
		return nil, err
	}

	const minBanks = 8
	img.EnsureBanks(minBanks)

	return img.Bytes(), nil
}

// padBank right-pads data with zeros to exactly cart.BankSize bytes.
func padBank(data []byte) []byte {
	out := make([]byte, cart.BankSize)
	copy(out, data)
	return out
}

// installResetVector points the three interrupt vectors at the tail of
// bank 0's high window at the cartridge's reset entry point, so the
// hardware lands there on power-up.
func installResetVector(img *cart.Image) {
	resetLo, resetHi := byte(0x00), byte(0xE0)
	vectors := []byte{
		resetLo, resetHi, // NMI
		resetLo, resetHi, // RESET
		resetLo, resetHi, // IRQ
	}
	_ = img.FillBankHigh(0, vectors, cart.BankSize-6)
}

// installFileSystem allocates the include-directory's files into unused
// banks and writes the directory/filename index into the high-window
// reserved area. It does not install a LOAD/SAVE kernel hook, so the
// data it writes is not yet reachable from BASIC on real hardware
// (tracked as not implemented; see DESIGN.md).
func installFileSystem(img *cart.Image, files []fsindex.File) error {
	const (
		metadataOffset = fsindex.MetadataStart - 0xA000
		filenameOffset = fsindex.FilenameStart - 0xA000
	)
	// Banks 0's low window already carries restore data; files start
	// filling from bank 1 onward.
	unusedBanks := []int{}
	bankIdx := 1
	for i := 0; i < 8; i++ {
		img.EnsureBanks(bankIdx + 1)
		unusedBanks = append(unusedBanks, bankIdx)
		bankIdx++
	}

	allocations, err := fsindex.Allocate(files, unusedBanks)
	if err != nil {
		return err
	}

	if err := fsindex.WriteFiles(allocations, func(bank, offset int, data []byte) error {
		return img.FillBank(bank, data, offset)
	}); err != nil {
		return err
	}

	metadata, err := fsindex.GenerateMetadata(allocations)
	if err != nil {
		return err
	}
	filenames, err := fsindex.GenerateFilenames(allocations)
	if err != nil {
		return err
	}
	if err := img.FillBankHigh(0, metadata, metadataOffset); err != nil {
		return err
	}
	if err := img.FillBankHigh(0, filenames, filenameOffset); err != nil {
		return err
	}
	return nil
}
