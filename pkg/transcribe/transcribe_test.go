package transcribe

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/chiptune-tools/chiptune2midi/pkg/notetable"
	"github.com/chiptune-tools/chiptune2midi/pkg/translog"
)

type rawEvent struct {
	tick   uint64
	status byte
	d1, d2 byte
}

func parseTrackEvents(t *testing.T, buf []byte) []rawEvent {
	t.Helper()
	var events []rawEvent
	i := 0
	var abs uint64
	for i < len(buf) {
		var delta uint64
		for {
			b := buf[i]
			i++
			delta = delta<<7 | uint64(b&0x7F)
			if b&0x80 == 0 {
				break
			}
		}
		abs += delta
		status := buf[i]
		i++
		switch status & 0xF0 {
		case 0x80, 0x90, 0xB0, 0xE0:
			d1, d2 := buf[i], buf[i+1]
			i += 2
			events = append(events, rawEvent{abs, status, d1, d2})
		case 0xC0:
			d1 := buf[i]
			i++
			events = append(events, rawEvent{abs, status, d1, 0})
		case 0xF0:
			kind := buf[i]
			i++
			length := int(buf[i])
			i++
			i += length
			events = append(events, rawEvent{abs, status, kind, 0})
		default:
			t.Fatalf("unexpected status byte 0x%02X at offset %d", status, i-1)
		}
	}
	return events
}

func firstByStatusNibble(events []rawEvent, nibble byte) *rawEvent {
	for i := range events {
		if events[i].status&0xF0 == nibble {
			return &events[i]
		}
	}
	return nil
}

// TestNESSquareNoteTiming checks a square-voice note's channel, note
// number, and 50ms tick span.
func TestNESSquareNoteTiming(t *testing.T) {
	tr := NewNES(translog.New())
	tr.ObserveRegister(nesSquare0, RegNESPeriodLow, 0xFE)
	tr.ObserveRegister(nesSquare0, RegNESPeriodHigh, 0x00)
	tr.ObserveNoteStart(nesSquare0, 0)
	tr.ObserveNoteEnd(nesSquare0, 89489) // 50ms at 1789772Hz

	events := parseTrackEvents(t, tr.MidiTrackBytes(nesSquare0))
	noteOn := firstByStatusNibble(events, 0x90)
	noteOff := firstByStatusNibble(events, 0x80)
	if noteOn == nil || noteOff == nil {
		t.Fatalf("expected note-on and note-off events, got %+v", events)
	}

	wantTable := notetable.Build(1789772.0, 45)
	wantNote := wantTable.Lookup(0xFE).Note
	if noteOn.d1 != wantNote {
		t.Errorf("note = %d, want %d", noteOn.d1, wantNote)
	}
	if noteOn.status&0x0F != 0 {
		t.Errorf("channel = %d, want 0 (duty 0)", noteOn.status&0x0F)
	}
	if noteOff.tick-noteOn.tick != 120 {
		t.Errorf("tick delta = %d, want 120 (50ms at 30fps * 80 ticks/frame)", noteOff.tick-noteOn.tick)
	}
}

// TestNESNoiseRemap checks that a sidecar noise remap lands on channel
// 9 with envelope-scaled velocity.
func TestNESNoiseRemap(t *testing.T) {
	tr := NewNES(translog.New())
	tr.LoadSidecar(strings.NewReader("noise 04 38\n"))

	tr.ObserveRegister(nesNoise, RegNESPeriodLow, 0x04)
	tr.ObserveRegister(nesNoise, RegNESDutyVolume, 0x0A)
	tr.ObserveNoteStart(nesNoise, 0)

	events := parseTrackEvents(t, tr.MidiTrackBytes(nesNoise))
	noteOn := firstByStatusNibble(events, 0x90)
	if noteOn == nil {
		t.Fatal("expected a note-on event")
	}
	if noteOn.status&0x0F != 9 {
		t.Errorf("channel = %d, want 9", noteOn.status&0x0F)
	}
	if noteOn.d1 != 38 {
		t.Errorf("note = %d, want 38", noteOn.d1)
	}
	if wantVel := uint8(10 * 8); noteOn.d2 != wantVel {
		t.Errorf("velocity = %d, want %d", noteOn.d2, wantVel)
	}
}

// TestDMCChannelAllocation checks the DMC pool assigns channels 10, 11
// and reuses 10 for a repeated sample address.
func TestDMCChannelAllocation(t *testing.T) {
	tr := NewNES(translog.New())

	tr.ObserveRegister(nesDMC, RegNESPeriodLow, 0x10)
	tr.ObserveNoteStart(nesDMC, 0)
	tr.ObserveRegister(nesDMC, RegNESPeriodLow, 0x20)
	tr.ObserveNoteStart(nesDMC, 100)
	tr.ObserveRegister(nesDMC, RegNESPeriodLow, 0x10)
	tr.ObserveNoteStart(nesDMC, 200)

	events := parseTrackEvents(t, tr.MidiTrackBytes(nesDMC))
	var channels []byte
	for _, e := range events {
		if e.status&0xF0 == 0x90 {
			channels = append(channels, e.status&0x0F)
		}
	}
	if len(channels) != 3 {
		t.Fatalf("expected 3 note-on events, got %d", len(channels))
	}
	if channels[0] != 10 || channels[1] != 11 || channels[2] != 10 {
		t.Errorf("channels = %v, want [10 11 10]", channels)
	}
}

func TestStartTrackResetsDMCPool(t *testing.T) {
	tr := NewNES(translog.New())
	tr.ObserveRegister(nesDMC, RegNESPeriodLow, 0x10)
	tr.ObserveNoteStart(nesDMC, 0)

	if err := tr.StartTrack(); err != nil {
		t.Fatalf("StartTrack() error = %v", err)
	}

	tr.ObserveRegister(nesDMC, RegNESPeriodLow, 0x99)
	tr.ObserveNoteStart(nesDMC, 0)

	events := parseTrackEvents(t, tr.MidiTrackBytes(nesDMC))
	noteOn := firstByStatusNibble(events, 0x90)
	if noteOn == nil || noteOn.status&0x0F != 10 {
		t.Errorf("after StartTrack, channel pool should restart at 10, got %+v", noteOn)
	}
}

func TestFinalizeAppendsEndOfTrackToEveryTrack(t *testing.T) {
	tr := NewNES(translog.New())
	tr.Finalize()
	for i := 0; i < tr.MidiTrackCount(); i++ {
		b := tr.MidiTrackBytes(i)
		n := len(b)
		if n < 3 || b[n-3] != 0xFF || b[n-2] != 0x2F || b[n-1] != 0x00 {
			t.Errorf("track %d missing end-of-track, got %v", i, b)
		}
	}
}

func TestWriteSidecarReflectsCurrentTables(t *testing.T) {
	tr := NewNES(translog.New())
	tr.LoadSidecar(strings.NewReader("noise 04 38\ndmc 10 60 1 60\n"))

	var buf bytes.Buffer
	if err := tr.WriteSidecar(&buf); err != nil {
		t.Fatalf("WriteSidecar() error = %v", err)
	}
	if !strings.Contains(buf.String(), "noise 04 38") {
		t.Errorf("expected noise entry in sidecar output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "dmc 10 60 1 60") {
		t.Errorf("expected dmc entry in sidecar output, got %q", buf.String())
	}
}

func TestObserveClockRateRebuildsNESTables(t *testing.T) {
	tr := NewNES(translog.New())
	original := tr.squareTable.Lookup(0xFE).Note
	tr.ObserveClockRate(2000000.0)
	if tr.squareTable.Lookup(0xFE).Note == original {
		t.Error("expected table rebuild after ObserveClockRate")
	}
}

func TestSPCFacadeHasEightTracks(t *testing.T) {
	tr := NewSPC(translog.New())
	if tr.MidiTrackCount() != 8 {
		t.Errorf("MidiTrackCount() = %d, want 8", tr.MidiTrackCount())
	}
}

func TestLoadDSPRegistersSeedSurvivesStartTrack(t *testing.T) {
	tr := NewSPC(translog.New())
	regs := make([]byte, 0x80)
	regs[RegGlobalDir] = 0x20
	regs[0x10+RegVoiceSrcN] = 0x07   // voice 1 source
	regs[0x10+RegVoicePitchL] = 0x00 // voice 1 pitch = 0x1000
	regs[0x10+RegVoicePitchH] = 0x10
	if err := tr.LoadDSPRegisters(regs); err != nil {
		t.Fatalf("LoadDSPRegisters() error = %v", err)
	}
	if tr.dirReg != 0x20 {
		t.Errorf("dirReg = %02X, want 20", tr.dirReg)
	}
	if tr.voices[1].SampleID != 7 || tr.voices[1].Pitch14 != 0x1000 {
		t.Errorf("voice 1 seed = sample %d pitch %04X, want 7/1000", tr.voices[1].SampleID, tr.voices[1].Pitch14)
	}

	if err := tr.StartTrack(); err != nil {
		t.Fatalf("StartTrack() error = %v", err)
	}
	if tr.voices[1].SampleID != 7 || tr.voices[1].Pitch14 != 0x1000 {
		t.Error("DSP seed must be re-applied after StartTrack")
	}
}

func TestLoadDSPRegistersRejectsNESMode(t *testing.T) {
	tr := NewNES(translog.New())
	if err := tr.LoadDSPRegisters(make([]byte, 0x80)); err == nil {
		t.Error("expected an error applying DSP registers to a NES transcriber")
	}
}

// encodeBRRTone writes a BRR-encoded periodic tone (filter 0, shift 12,
// end flag on the last block, no loop) into ram at startAddr.
func encodeBRRTone(ram []byte, startAddr int, freq float64, samples int) {
	addr := startAddr
	blocks := samples / 16
	for b := 0; b < blocks; b++ {
		header := byte(12 << 4)
		if b == blocks-1 {
			header |= 0x01
		}
		ram[addr] = header
		for i := 0; i < 8; i++ {
			idx := b*16 + i*2
			n1 := toneNibble(freq, idx)
			n2 := toneNibble(freq, idx+1)
			ram[addr+1+i] = byte(n1&0xF)<<4 | byte(n2&0xF)
		}
		addr += 9
	}
}

// toneNibble samples a harmonically rich 4-bit tone: a strong fundamental
// with a tail of weaker overtones, the spectral shape a real instrument
// sample hands the peak picker.
func toneNibble(freq float64, i int) int {
	theta := 2 * math.Pi * freq * float64(i) / 32000.0
	v := math.Sin(theta)
	for h := 2; h <= 8; h++ {
		v += 0.15 * math.Sin(float64(h) * theta)
	}
	v /= 2.05
	n := int(math.Round(v * 7))
	if n < -8 {
		n = -8
	}
	if n > 7 {
		n = 7
	}
	return n
}

// newSPCWithToneSample builds an SPC façade whose RAM holds a harmonically
// rich tone as sample 3, with voice 2 pointed at it at pitch 0x1000 and
// nonzero volumes, ready for a note start.
func newSPCWithToneSample(t *testing.T, freq float64) *Transcriber {
	t.Helper()
	tr := NewSPC(translog.New())

	ram := make([]byte, 65536)
	const dirPage = 0x20
	entry := dirPage*0x100 + 3*4
	ram[entry] = 0x00
	ram[entry+1] = 0x30 // start addr 0x3000
	ram[entry+2] = 0x00
	ram[entry+3] = 0x30
	encodeBRRTone(ram, 0x3000, freq, 1024)
	if err := tr.LoadRAM(ram); err != nil {
		t.Fatalf("LoadRAM() error = %v", err)
	}

	tr.ObserveRegister(GlobalVoice, RegGlobalDir, dirPage)
	tr.ObserveRegister(2, RegVoiceSrcN, 3)
	tr.ObserveRegister(2, RegVoiceVolL, 64)
	tr.ObserveRegister(2, RegVoiceVolR, 64)
	tr.ObserveRegister(2, RegVoicePitchL, 0x00)
	tr.ObserveRegister(2, RegVoicePitchH, 0x10)
	return tr
}

// TestSPCSampleAnalysis checks that a 440 Hz tone sample analyzes to a
// base pitch within [438, 442] and that its first use writes a
// "sample 03" meta text event.
func TestSPCSampleAnalysis(t *testing.T) {
	tr := newSPCWithToneSample(t, 440.0)
	tr.ObserveNoteStart(2, 0)

	cfg, first := tr.samples.Config(3, tr.dirReg, &tr.ram)
	if first {
		t.Fatal("sample 3 should already be analyzed by the note start")
	}
	if cfg.BasePitch < 438 || cfg.BasePitch > 442 {
		t.Errorf("BasePitch = %f, want within [438, 442]", cfg.BasePitch)
	}
	if cfg.Gain <= 0 {
		t.Errorf("Gain = %f, want > 0", cfg.Gain)
	}

	events := parseTrackEvents(t, tr.MidiTrackBytes(2))
	meta := firstByStatusNibble(events, 0xF0)
	if meta == nil || meta.d1 != 0x01 {
		t.Error("expected a meta text event on first sample use")
	}
	noteOn := firstByStatusNibble(events, 0x90)
	if noteOn == nil {
		t.Fatal("expected a note-on event")
	}
	if noteOn.status&0x0F != 2 {
		t.Errorf("melodic SPC voice 2 should play on channel 2, got %d", noteOn.status&0x0F)
	}
}

func countBends(events []rawEvent) int {
	n := 0
	for _, e := range events {
		if e.status&0xF0 == 0xE0 {
			n++
		}
	}
	return n
}

// TestSPCPitchBendRange checks that a pitch register change within +/-2
// semitones emits one pitch bend and a jump of about an octave is
// suppressed.
func TestSPCPitchBendRange(t *testing.T) {
	tr := newSPCWithToneSample(t, 440.0)
	tr.ObserveNoteStart(2, 0)

	tr.ObserveRegister(2, RegVoicePitchL, 0xF0) // pitch 0x10F0, ~+1 semitone
	events := parseTrackEvents(t, tr.MidiTrackBytes(2))
	if countBends(events) != 1 {
		t.Fatalf("expected exactly one pitch bend, got %d", countBends(events))
	}
	bend := firstByStatusNibble(events, 0xE0)
	wheel := int(bend.d1) | int(bend.d2)<<7
	if wheel <= 0x2000 || wheel > 0x3200 {
		t.Errorf("wheel = 0x%04X, want an upward bend within about a semitone", wheel)
	}

	tr.ObserveRegister(2, RegVoicePitchH, 0x20) // pitch 0x20F0, ~+12 semitones
	events = parseTrackEvents(t, tr.MidiTrackBytes(2))
	if countBends(events) != 1 {
		t.Error("out-of-range pitch change must not emit a bend")
	}
}

func TestStartTrackFailsOnInvalidClockRate(t *testing.T) {
	tr := NewNES(translog.New())
	tr.ObserveClockRate(0)
	if err := tr.StartTrack(); err == nil {
		t.Error("expected StartTrack to fail after an invalid clock rate")
	}
}
