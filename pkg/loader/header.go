package loader

import (
	"fmt"
	"strings"

	"github.com/chiptune-tools/chiptune2midi/pkg/timebase"
)

// NSF header field offsets. The NSF container's fixed 0x80-byte header is
// a published format (load/init/play vectors, song count, region flags);
// only the header is read here, the 6502 program it fronts is never
// executed.
const (
	nsfHeaderSize = 0x80

	nsfOffVersion       = 0x05
	nsfOffSongCount     = 0x06
	nsfOffStartSong     = 0x07
	nsfOffLoadAddr      = 0x08
	nsfOffInitAddr      = 0x0A
	nsfOffPlayAddr      = 0x0C
	nsfOffName          = 0x0E
	nsfOffArtist        = 0x2E
	nsfOffCopyright     = 0x4E
	nsfOffPlaySpeedNTSC = 0x6E
	nsfOffPlaySpeedPAL  = 0x78
	nsfOffRegionFlags   = 0x7A

	nsfTextFieldLen = 32
)

// NSFHeader is the parsed fixed-layout header of an .nsf file.
type NSFHeader struct {
	Version   uint8
	SongCount uint8
	StartSong uint8 // 1-based

	LoadAddr uint16
	InitAddr uint16
	PlayAddr uint16

	Name      string
	Artist    string
	Copyright string

	PlaySpeedNTSC uint16 // microseconds per play-routine call
	PlaySpeedPAL  uint16
	RegionFlags   uint8 // bit 0: PAL, bit 1: dual-region
}

// PAL reports whether the dump declares itself PAL-only.
func (h *NSFHeader) PAL() bool { return h.RegionFlags&0x01 != 0 && h.RegionFlags&0x02 == 0 }

// ClockRate returns the CPU clock the declared region implies, which seeds
// the transcriber's period tables before any observe_clock_rate arrives.
func (h *NSFHeader) ClockRate() float64 {
	if h.PAL() {
		return timebase.NESClockRatePAL
	}
	return timebase.NESClockRateNTSC
}

// fixedText decodes a fixed-width NUL-padded text field, the layout both
// NSF header strings and SPC ID666 tags use.
func fixedText(data []byte, off, n int) string {
	field := string(data[off : off+n])
	if i := strings.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return field
}

func le16(data []byte, off int) uint16 {
	return uint16(data[off]) | uint16(data[off+1])<<8
}

// ParseNSFHeader reads the fixed header of an .nsf file.
func ParseNSFHeader(data []byte) (*NSFHeader, error) {
	if len(data) < nsfHeaderSize {
		return nil, fmt.Errorf("loader: NSF file is %d bytes, header needs %d", len(data), nsfHeaderSize)
	}
	if string(data[:len(nsfMagic)]) != nsfMagic {
		return nil, fmt.Errorf("loader: missing NESM magic")
	}
	return &NSFHeader{
		Version:       data[nsfOffVersion],
		SongCount:     data[nsfOffSongCount],
		StartSong:     data[nsfOffStartSong],
		LoadAddr:      le16(data, nsfOffLoadAddr),
		InitAddr:      le16(data, nsfOffInitAddr),
		PlayAddr:      le16(data, nsfOffPlayAddr),
		Name:          fixedText(data, nsfOffName, nsfTextFieldLen),
		Artist:        fixedText(data, nsfOffArtist, nsfTextFieldLen),
		Copyright:     fixedText(data, nsfOffCopyright, nsfTextFieldLen),
		PlaySpeedNTSC: le16(data, nsfOffPlaySpeedNTSC),
		PlaySpeedPAL:  le16(data, nsfOffPlaySpeedPAL),
		RegionFlags:   data[nsfOffRegionFlags],
	}, nil
}

// SPC file layout: 0x100-byte header, 64KB of SPC700 RAM, then the 128
// DSP registers. Again only the fixed data blocks are read; the SPC700
// program in RAM is never executed.
const (
	spcHeaderSize  = 0x100
	spcRAMSize     = 0x10000
	spcDSPRegsSize = 0x80
	spcMinFileSize = spcHeaderSize + spcRAMSize + spcDSPRegsSize

	spcOffSongTitle = 0x2E
	spcOffGameTitle = 0x4E
	spcTextFieldLen = 32
)

// SPCDump is the parsed content of an .spc file: the RAM snapshot the BRR
// sample analyzer decodes from and the DSP register block that seeds
// per-voice pitch/volume/source state.
type SPCDump struct {
	SongTitle string
	GameTitle string
	RAM       []byte // 65536 bytes
	DSPRegs   []byte // 128 bytes
}

// ParseSPC reads the fixed data blocks of an .spc dump.
func ParseSPC(data []byte) (*SPCDump, error) {
	if len(data) < spcMinFileSize {
		return nil, fmt.Errorf("loader: SPC file is %d bytes, want at least %d", len(data), spcMinFileSize)
	}
	if string(data[:len(spcMagic)]) != spcMagic {
		return nil, fmt.Errorf("loader: missing SNES-SPC700 magic")
	}
	return &SPCDump{
		SongTitle: fixedText(data, spcOffSongTitle, spcTextFieldLen),
		GameTitle: fixedText(data, spcOffGameTitle, spcTextFieldLen),
		RAM:       data[spcHeaderSize : spcHeaderSize+spcRAMSize],
		DSPRegs:   data[spcHeaderSize+spcRAMSize : spcHeaderSize+spcRAMSize+spcDSPRegsSize],
	}, nil
}
