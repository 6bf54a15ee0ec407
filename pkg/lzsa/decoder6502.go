package lzsa

import "github.com/vsftool/vsf2prg/pkg/m6502"

// Zero-page layout for the relocatable decompressor. SRC/DST/OFFSET
// reuse the variable names the original loader gave its LZSA1 unpacker
// ($FC/$FD, $FE/$FF, $FA/$FB); the 16-bit length counters this
// implementation needs (OUT and LEN) extend the same reserved strip
// down to $F5, which the patcher's zero-page tail preservation must
// cover in full.
const (
	ZPLenLo    = 0xF5
	ZPLenHi    = 0xF6
	ZPOutLo    = 0xF7
	ZPOutHi    = 0xF8
	ZPCmdBuf   = 0xF9
	ZPOffsetLo = 0xFA // doubles as the match window pointer low byte
	ZPOffsetHi = 0xFB // doubles as the match window pointer high byte
	ZPSrcLo    = 0xFC
	ZPSrcHi    = 0xFD
	ZPDstLo    = 0xFE
	ZPDstHi    = 0xFF
)

// ReservedZPStart is the first zero-page address the decompressor
// treats as scratch; the patcher must preserve and replay the tail
// from here through $FF rather than compressing it as ordinary RAM.
const ReservedZPStart = ZPLenLo

// EntryLabel is the label the caller JSRs to at the top of the
// generated routine.
const EntryLabel = "lzsa_decompress"

// GenerateDecoder6502 emits the relocatable decompressor for the
// stream format Compress produces: a nibble-coded token per entry
// (literal-length high nibble, match-length low nibble), length
// extension bytes when a nibble saturates at 15, and a 2-byte little-
// endian offset field on every token (offset 0 marks end of stream).
//
// Callers set ZPSrcLo/Hi and ZPDstLo/Hi before each JSR; the routine
// advances both pointers and returns via RTS once the stream's end
// marker is reached.
func GenerateDecoder6502(origin uint16) ([]byte, error) {
	b := m6502.NewBuilder(origin)

	b.Label(EntryLabel)

	b.Label("token_loop")
	// Read the token byte.
	b.LDYimm(0)
	b.LDAindY(ZPSrcLo)
	incZP(b, ZPSrcLo)
	b.STAzp(ZPCmdBuf)

	// Literal length = token >> 4, extended via continuation bytes
	// when it saturates at 15.
	b.LDAzp(ZPCmdBuf)
	b.LSRacc()
	b.LSRacc()
	b.LSRacc()
	b.LSRacc()
	b.STAzp(ZPLenLo)
	b.LDAimm(0)
	b.STAzp(ZPLenHi)
	b.LDAzp(ZPLenLo)
	b.CMPimm(15)
	b.BNE("lit_len_done")
	readExtraLength16(b)
	b.Label("lit_len_done")

	// Copy the literal run.
	b.Label("lit_copy_test")
	b.LDAzp(ZPLenLo)
	b.ORAzp(ZPLenHi)
	b.BEQ("lit_copy_done")
	b.LDYimm(0)
	b.LDAindY(ZPSrcLo)
	incZP(b, ZPSrcLo)
	b.STAindY(ZPDstLo)
	incZP(b, ZPDstLo)
	decZP16(b, ZPLenLo, ZPLenHi)
	decZP16(b, ZPOutLo, ZPOutHi)
	b.JMPlabel("lit_copy_test")
	b.Label("lit_copy_done")

	// Offset field: always present. 0x0000 means end of stream.
	b.LDYimm(0)
	b.LDAindY(ZPSrcLo)
	incZP(b, ZPSrcLo)
	b.STAzp(ZPOffsetLo)
	b.LDYimm(0)
	b.LDAindY(ZPSrcLo)
	incZP(b, ZPSrcLo)
	b.STAzp(ZPOffsetHi)

	b.LDAzp(ZPOffsetLo)
	b.ORAzp(ZPOffsetHi)
	b.BEQ("done")

	// Match length = (token & 0x0F) + minMatch, extended the same way.
	b.LDAzp(ZPCmdBuf)
	b.ANDimm(0x0F)
	b.STAzp(ZPLenLo)
	b.LDAimm(0)
	b.STAzp(ZPLenHi)
	b.LDAzp(ZPLenLo)
	b.CMPimm(15)
	b.BNE("match_len_done")
	readExtraLength16(b)
	b.Label("match_len_done")
	incZP(b, ZPLenLo) // += minMatchDefault (3), one bump per call
	incZP(b, ZPLenLo)
	incZP(b, ZPLenLo)

	// Window pointer = DST - offset, computed in place over the offset
	// bytes (the window pointer and the offset share zero-page cells).
	b.SEC()
	b.LDAzp(ZPDstLo)
	b.SBCzp(ZPOffsetLo)
	b.STAzp(ZPOffsetLo)
	b.LDAzp(ZPDstHi)
	b.SBCzp(ZPOffsetHi)
	b.STAzp(ZPOffsetHi)

	b.Label("match_copy_test")
	b.LDAzp(ZPLenLo)
	b.ORAzp(ZPLenHi)
	b.BEQ("match_copy_done")
	b.LDYimm(0)
	b.LDAindY(ZPOffsetLo)
	incZP(b, ZPOffsetLo)
	b.STAindY(ZPDstLo)
	incZP(b, ZPDstLo)
	decZP16(b, ZPLenLo, ZPLenHi)
	decZP16(b, ZPOutLo, ZPOutHi)
	b.JMPlabel("match_copy_test")
	b.Label("match_copy_done")

	b.JMPlabel("token_loop")

	b.Label("done")
	b.RTS()

	return b.Bytes()
}

// incZP emits the standard 16-bit zero-page pointer increment: bump
// the low byte, and only bump the high byte when the low byte wrapped.
// The skip is a fixed two-byte jump (over one INCzp), encoded as a
// literal relative branch instead of through the label table, since
// this runs many times per routine and label names would collide.
func incZP(b *m6502.Builder, lo byte) {
	b.INCzp(lo)
	b.Raw(0xD0, 0x02) // BNE +2 (skip the following INCzp)
	b.INCzp(lo + 1)
}

// decZP16 decrements a little-endian 16-bit zero-page counter (lo, hi)
// by one, borrowing from hi when lo underflows.
func decZP16(b *m6502.Builder, lo, hi byte) {
	b.LDAzp(lo)
	b.Raw(0xD0, 0x02) // BNE +2 (skip the following DECzp)
	b.DECzp(hi)
	b.DECzp(lo)
}

// readExtraLength16 reads 0xFF-continuation bytes from the source
// stream and adds their sum onto the 16-bit zero-page counter at
// ZPLenLo/ZPLenHi, matching encodeExtraLength's encoding.
func readExtraLength16(b *m6502.Builder) {
	loop := b.Here()
	b.LDYimm(0)
	b.LDAindY(ZPSrcLo)
	incZP(b, ZPSrcLo)
	b.TAX()
	b.CLC()
	b.ADCzp(ZPLenLo)
	b.STAzp(ZPLenLo)
	b.Raw(0x90, 0x02) // BCC +2 (skip the following INC on no carry)
	b.INCzp(ZPLenHi)
	b.CPXimm(0xFF)
	b.BranchBackRel8(0xF0, loop) // BEQ: 0xFF meant "more continuation bytes follow"
}
