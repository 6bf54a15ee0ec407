package vsf

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	magicLen      = 19
	machineIDLen  = 16
	versionHdrLen = 21
	moduleNameLen = 16
	moduleHdrLen  = 22

	machineIdentifier = "C64SC"

	formatMajor = 2
	formatMinor = 0
)

var magicPrefix = []byte("VICE Snapshot File")

// compressionSniffers maps a byte prefix found where the VSF magic should
// be to a human name, so a rejection message can hint at the real problem.
var compressionSniffers = []struct {
	prefix []byte
	name   string
}{
	{[]byte{0x1f, 0x8b}, "gzip"},
	{[]byte("BZh"), "bzip2"},
	{[]byte("PK\x03\x04"), "zip"},
}

// ParseError is returned by Parse for any input-format violation. The
// Category field lets callers distinguish rejection classes without
// string-matching the message.
type ParseError struct {
	Category string
	Message  string
}

func (e *ParseError) Error() string { return e.Message }

func newParseError(category, format string, args ...any) error {
	return &ParseError{Category: category, Message: fmt.Sprintf(format, args...)}
}

// Parse decodes a VICE snapshot container (format 2.0, C64SC machine) into
// a typed Snapshot. The returned error, if any, is always a *ParseError.
func Parse(data []byte) (*Snapshot, error) {
	r := &reader{buf: data}

	magic, ok := r.take(magicLen)
	if !ok || !bytes.HasPrefix(magic, magicPrefix) {
		hint := sniffCompression(magic)
		if hint != "" {
			return nil, newParseError("magic", "not a snapshot file (looks like %s-compressed; decompress first)", hint)
		}
		return nil, newParseError("magic", "not a snapshot file")
	}

	vmaj, ok1 := r.u8()
	vmin, ok2 := r.u8()
	if !ok1 || !ok2 {
		return nil, newParseError("magic", "not a snapshot file")
	}
	if vmaj != formatMajor || vmin != formatMinor {
		return nil, newParseError("version", "unsupported format version %d.%d", vmaj, vmin)
	}

	machRaw, ok := r.take(machineIDLen)
	if !ok {
		return nil, newParseError("magic", "not a snapshot file")
	}
	machine := trimNUL(machRaw)
	if machine != machineIdentifier {
		return nil, newParseError("machine", "unsupported machine '%s'", machine)
	}

	if _, ok := r.take(versionHdrLen); !ok {
		return nil, newParseError("magic", "not a snapshot file")
	}

	var (
		cpu            *CPU
		mem            *Memory
		vic            *VIC
		cia1, cia2     *CIA
		sid            *SID
	)

	for r.remaining() > 0 {
		nameRaw, ok := r.take(moduleNameLen)
		if !ok {
			break
		}
		name := trimNUL(nameRaw)

		if _, ok := r.take(2); !ok { // module major/minor, unvalidated
			return nil, newParseError("truncated", "module '%s' beyond EOF", name)
		}
		size32, ok := r.u32()
		if !ok {
			return nil, newParseError("truncated", "module '%s' beyond EOF", name)
		}
		if size32 < moduleHdrLen {
			return nil, newParseError("truncated", "module '%s' beyond EOF", name)
		}
		payloadLen := int(size32) - moduleHdrLen
		payload, ok := r.take(payloadLen)
		if !ok {
			return nil, newParseError("truncated", "module '%s' beyond EOF", name)
		}

		var err error
		switch name {
		case "MAINCPU":
			cpu, err = parseCPU(payload)
		case "C64MEM":
			mem, err = parseMemory(payload)
		case "VIC-II":
			vic, err = parseVIC(payload)
		case "CIA1":
			cia1, err = parseCIA(payload)
		case "CIA2":
			cia2, err = parseCIA(payload)
		case "SID":
			sid, err = parseSID(payload)
		default:
			// Unknown/unsupported module (DRIVE, PRINTER, ...); skip.
		}
		if err != nil {
			return nil, newParseError("truncated", "module '%s' %s", name, err.Error())
		}
	}

	switch {
	case cpu == nil:
		return nil, newParseError("missing", "MAINCPU missing")
	case mem == nil:
		return nil, newParseError("missing", "C64MEM missing")
	case vic == nil:
		return nil, newParseError("missing", "VIC-II missing")
	case cia1 == nil:
		return nil, newParseError("missing", "CIA1 missing")
	case cia2 == nil:
		return nil, newParseError("missing", "CIA2 missing")
	case sid == nil:
		return nil, newParseError("missing", "SID missing")
	}

	snap := &Snapshot{CPU: *cpu, Mem: *mem, VIC: *vic, CIA1: *cia1, CIA2: *cia2, SID: *sid}
	applyColorRAMOverride(snap)

	return snap, nil
}

// applyColorRAMOverride replaces the VIC module's color memory with the
// live RAM image at $D800-$DBFF when that range passes a quality gate:
// every byte has a zero high nibble, and fewer than 900 of the 1024 bytes
// are zero (VIC-module color RAM is frequently a stale artifact).
func applyColorRAMOverride(snap *Snapshot) {
	slice := snap.Mem.RAM[0xD800 : 0xDC00]
	allLowNibble := true
	zeroCount := 0
	for _, b := range slice {
		if b&0xF0 != 0 {
			allLowNibble = false
			break
		}
		if b == 0 {
			zeroCount++
		}
	}
	if allLowNibble && zeroCount < 900 {
		copy(snap.VIC.ColorRAM[:], slice)
	}
}

func parseCPU(p []byte) (*CPU, error) {
	r := &reader{buf: p}
	if _, ok := r.u32(); !ok { // clock, ignored
		return nil, errShort
	}
	if _, ok := r.take(4); !ok { // padding
		return nil, errShort
	}
	a, ok1 := r.u8()
	x, ok2 := r.u8()
	y, ok3 := r.u8()
	sp, ok4 := r.u8()
	pc, ok5 := r.u16()
	p8, ok6 := r.u8()
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return nil, errShort
	}
	return &CPU{A: a, X: x, Y: y, SP: sp, PC: pc, P: p8}, nil
}

func parseMemory(p []byte) (*Memory, error) {
	r := &reader{buf: p}
	data, ok1 := r.u8()
	dir, ok2 := r.u8()
	if _, ok := r.u8(); !ok { // exrom, ignored
		return nil, errShort
	}
	if _, ok := r.u8(); !ok { // game, ignored
		return nil, errShort
	}
	ram, ok3 := r.take(RAMSize)
	if !(ok1 && ok2 && ok3) {
		return nil, errShort
	}
	m := &Memory{CPUPortData: data, CPUPortDir: dir}
	copy(m.RAM[:], ram)
	return m, nil
}

func parseVIC(p []byte) (*VIC, error) {
	const regsOff = 1
	const colorOff = 761
	if len(p) < colorOff+ColorRAMSize {
		return nil, errShort
	}
	v := &VIC{}
	copy(v.Registers[:], p[regsOff:regsOff+VICRegisterCount])
	copy(v.ColorRAM[:], p[colorOff:colorOff+ColorRAMSize])
	return v, nil
}

func parseCIA(p []byte) (*CIA, error) {
	r := &reader{buf: p}
	ora, ok1 := r.u8()
	orb, ok2 := r.u8()
	ddra, ok3 := r.u8()
	ddrb, ok4 := r.u8()
	tac, ok5 := r.u16()
	tbc, ok6 := r.u16()
	tod10, ok7 := r.u8()
	tods, ok8 := r.u8()
	todm, ok9 := r.u8()
	todh, ok10 := r.u8()
	if _, ok := r.u8(); !ok { // sdr, discarded
		return nil, errShort
	}
	ier, ok11 := r.u8()
	cra, ok12 := r.u8()
	crb, ok13 := r.u8()
	tal, ok14 := r.u16()
	tbl, ok15 := r.u16()
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9 && ok10 &&
		ok11 && ok12 && ok13 && ok14 && ok15) {
		return nil, errShort
	}

	// A key held down at snapshot time can leave ORB read back as $00;
	// the real register never latches to zero in that state.
	if orb == 0x00 {
		orb = 0xFF
	}

	return &CIA{
		ORA: ora, ORB: orb, DDRA: ddra, DDRB: ddrb,
		TimerA: tac, TimerB: tbc,
		TOD:    TOD{Tenths: tod10, Seconds: tods, Minutes: todm, Hours: todh},
		IER:    ier, CRA: cra, CRB: crb,
		TimerALatch: tal, TimerBLatch: tbl,
	}, nil
}

func parseSID(p []byte) (*SID, error) {
	const regsOff = 4
	if len(p) < regsOff+SIDRegisterCount {
		return nil, errShort
	}
	s := &SID{}
	copy(s.Registers[:], p[regsOff:regsOff+SIDRegisterCount])
	return s, nil
}

func sniffCompression(prefix []byte) string {
	for _, s := range compressionSniffers {
		if bytes.HasPrefix(prefix, s.prefix) {
			return s.name
		}
	}
	return ""
}

func trimNUL(b []byte) string {
	i := bytes.IndexAny(b, "\x00 \x1a")
	if i < 0 {
		return string(b)
	}
	return string(b[:i])
}

var errShort = fmt.Errorf("payload too short")

// reader is a small cursor over a byte slice; unlike a bytes.Reader it
// reports short reads via a boolean instead of an error value, which keeps
// the module-decoding call sites terse.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) take(n int) ([]byte, bool) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, false
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, true
}

func (r *reader) u8() (byte, bool) {
	b, ok := r.take(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (r *reader) u16() (uint16, bool) {
	b, ok := r.take(2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

func (r *reader) u32() (uint32, bool) {
	b, ok := r.take(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}
