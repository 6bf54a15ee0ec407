// Package lzsa implements an LZSA1-compatible "raw-forward" encoder: a
// byte-oriented LZ77 stream with no frame header, designed to be cheap to
// unpack on an 8-bit decompressor. The reference encoder and decoder are
// written in C and normally invoked as an external tool; no mature
// pure-Go implementation of the format exists in the examined ecosystem,
// so this package reimplements the forward encoder directly (the decoder
// that matters for this project runs as 6502 code emitted by the
// converter, not here — Decompress below exists only so tests can
// round-trip what Compress produces).
package lzsa

import "fmt"

// Options mirrors the reference encoder's tunable knobs. Only V1/raw-
// forward/min-match-3 is implemented; the zero Options value already
// selects it.
type Options struct {
	MinMatch int // minimum match length worth encoding; 0 defaults to 3
}

const (
	minMatchDefault = 3
	maxMatchLen     = 65535 // practical ceiling; encodeExtraLength can represent arbitrarily large runs
	windowSize      = 65535
)

// Compress implements compress(bytes) -> bytes: a pure function over the
// input with no directory or temp-file side effects.
func Compress(data []byte, opts Options) []byte {
	minMatch := opts.MinMatch
	if minMatch <= 0 {
		minMatch = minMatchDefault
	}

	var out []byte
	var literals []byte

	// Every token carries a 2-byte offset field, including the final
	// literal-only flush at end of stream: offset 0x0000 can never occur
	// for a real back-reference, so it doubles as the end marker a
	// byte-at-a-time 6502 decoder can test for without knowing the
	// compressed length in advance.
	flushLiteralsAndToken := func(matchLen, matchOffset int) {
		litLen := len(literals)

		nibbleLit := litLen
		if nibbleLit > 15 {
			nibbleLit = 15
		}
		nibbleMatch := 0
		if matchLen > 0 {
			nibbleMatch = matchLen - minMatch
			if nibbleMatch > 15 {
				nibbleMatch = 15
			}
		}
		out = append(out, byte(nibbleLit<<4|nibbleMatch))

		if litLen >= 15 {
			out = append(out, encodeExtraLength(litLen-15)...)
		}
		out = append(out, literals...)
		literals = literals[:0]

		out = append(out, byte(matchOffset), byte(matchOffset>>8))
		if matchLen > 0 && matchLen-minMatch >= 15 {
			out = append(out, encodeExtraLength(matchLen-minMatch-15)...)
		}
	}

	pos := 0
	for pos < len(data) {
		bestLen, bestOff := findMatch(data, pos, minMatch)
		if bestLen >= minMatch {
			flushLiteralsAndToken(bestLen, bestOff)
			pos += bestLen
		} else {
			literals = append(literals, data[pos])
			pos++
		}
	}
	flushLiteralsAndToken(0, 0)

	return out
}

// findMatch performs a bounded greedy search for the longest back-
// reference to data[pos:] within the preceding window, preferring the
// longest match and, among equal lengths, the nearest (cheapest-to-
// encode) offset.
func findMatch(data []byte, pos, minMatch int) (length, offset int) {
	start := pos - windowSize
	if start < 0 {
		start = 0
	}
	maxLen := len(data) - pos
	if maxLen > maxMatchLen {
		maxLen = maxMatchLen
	}
	if maxLen < minMatch {
		return 0, 0
	}

	for i := pos - 1; i >= start; i-- {
		l := 0
		for l < maxLen && data[i+l] == data[pos+l] {
			l++
		}
		if l > length {
			length = l
			offset = pos - i
			if l == maxLen {
				break
			}
		}
	}
	return length, offset
}

// encodeExtraLength appends one or more 0xFF-continuation bytes followed
// by a terminating byte < 0xFF, the way LZSA1 extends a length nibble
// that saturated at 15.
func encodeExtraLength(remaining int) []byte {
	var out []byte
	for remaining >= 255 {
		out = append(out, 0xFF)
		remaining -= 255
	}
	out = append(out, byte(remaining))
	return out
}

// Decompress reverses Compress's output. It exists for round-trip
// testing; the production decoder is the 6502 routine embedded by the
// codegen package.
func Decompress(data []byte, minMatch int) ([]byte, error) {
	if minMatch <= 0 {
		minMatch = minMatchDefault
	}
	var out []byte
	pos := 0
	readExtra := func() (int, error) {
		total := 0
		for {
			if pos >= len(data) {
				return 0, fmt.Errorf("truncated length extension")
			}
			b := data[pos]
			pos++
			total += int(b)
			if b != 0xFF {
				return total, nil
			}
		}
	}

	for pos < len(data) {
		token := data[pos]
		pos++
		litLen := int(token >> 4)
		matchNibble := int(token & 0x0F)

		if litLen == 15 {
			extra, err := readExtra()
			if err != nil {
				return nil, err
			}
			litLen += extra
		}
		if pos+litLen > len(data) {
			return nil, fmt.Errorf("truncated literal run")
		}
		out = append(out, data[pos:pos+litLen]...)
		pos += litLen

		if pos+2 > len(data) {
			return nil, fmt.Errorf("truncated match offset")
		}
		offset := int(data[pos]) | int(data[pos+1])<<8
		pos += 2
		if offset == 0 {
			break // end-of-stream marker
		}

		matchLen := matchNibble + minMatch
		if matchNibble == 15 {
			extra, err := readExtra()
			if err != nil {
				return nil, err
			}
			matchLen += extra
		}

		start := len(out) - offset
		if start < 0 {
			return nil, fmt.Errorf("match offset %d exceeds output so far", offset)
		}
		for i := 0; i < matchLen; i++ {
			out = append(out, out[start+i])
		}
	}

	return out, nil
}
