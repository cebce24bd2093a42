package voicetrack

import (
	"testing"

	"github.com/chiptune-tools/chiptune2midi/pkg/miditrack"
	"github.com/chiptune-tools/chiptune2midi/pkg/notetable"
)

func countNoteEvents(buf []byte) (on, off int) {
	i := 0
	for i < len(buf) {
		// skip VLQ delta
		for buf[i]&0x80 != 0 {
			i++
		}
		i++
		status := buf[i]
		switch status & 0xF0 {
		case 0x90:
			if buf[i+2] == 0 {
				off++
			} else {
				on++
			}
			i += 3
		case 0x80:
			off++
			i += 3
		case 0xB0, 0xE0:
			i += 3
		case 0xC0:
			i += 2
		case 0xFF:
			i += 2
			length := int(buf[i])
			i += 1 + length
		default:
			i++
		}
	}
	return on, off
}

func TestSquareNoteStartResolvesChannelFromDuty(t *testing.T) {
	tr := NewTracker()
	table := notetable.Build(1789772.0, 45)
	track := miditrack.New()
	v := NewVoice(KindSquare, 1)
	v.Period = 200
	v.DutySelect = 2
	v.EnvelopeVolume = 15

	tr.SquareNoteStart(v, 0, track, table)

	wantChannel := uint8(1*4 + 2)
	if v.LastMIDIChannel != wantChannel {
		t.Errorf("channel = %d, want %d", v.LastMIDIChannel, wantChannel)
	}
	if !v.HasActiveNote() {
		t.Error("expected an active note after note start")
	}
}

func TestSquareNoteStartSkipsZeroPeriod(t *testing.T) {
	tr := NewTracker()
	table := notetable.Build(1789772.0, 45)
	track := miditrack.New()
	v := NewVoice(KindSquare, 0)
	v.Period = 0

	tr.SquareNoteStart(v, 0, track, table)

	if v.HasActiveNote() {
		t.Error("period 0 must never trigger a note")
	}
	if len(track.Bytes()) != 0 {
		t.Error("expected no bytes written for a period-0 note start")
	}
}

func TestNoteEndIdempotent(t *testing.T) {
	tr := NewTracker()
	table := notetable.Build(1789772.0, 45)
	track := miditrack.New()
	v := NewVoice(KindSquare, 0)
	v.Period = 200
	v.EnvelopeVolume = 10
	tr.SquareNoteStart(v, 100, track, table)

	tr.NoteEnd(v, 200, track)
	if v.HasActiveNote() {
		t.Fatal("expected no active note after NoteEnd")
	}
	lenAfterFirst := len(track.Bytes())

	tr.NoteEnd(v, 300, track)
	if len(track.Bytes()) != lenAfterFirst {
		t.Error("second NoteEnd call must be a no-op (idempotent)")
	}
}

func TestNoteBalanceAcrossRepeatedStarts(t *testing.T) {
	tr := NewTracker()
	table := notetable.Build(1789772.0, 45)
	track := miditrack.New()
	v := NewVoice(KindSquare, 0)

	tick := uint64(0)
	for i := 0; i < 5; i++ {
		v.Period = 150 + i*10
		v.EnvelopeVolume = 8
		tr.SquareNoteStart(v, tick, track, table)
		tick += 100
	}
	tr.NoteEnd(v, tick, track)

	on, off := countNoteEvents(track.Bytes())
	if on != off {
		t.Errorf("note-on count %d != note-off count %d", on, off)
	}
	if on != 5 {
		t.Errorf("expected 5 note-on events, got %d", on)
	}
}

func TestNoiseNoteStartAlwaysChannel9(t *testing.T) {
	tr := NewTracker()
	track := miditrack.New()
	v := NewVoice(KindNoise, 0)
	v.EnvelopeVolume = 12

	tr.NoiseNoteStart(v, 0, track, 38)

	if v.LastMIDIChannel != NoiseChannel {
		t.Errorf("noise channel = %d, want %d", v.LastMIDIChannel, NoiseChannel)
	}
	if v.LastNote != 38 {
		t.Errorf("noise note = %d, want 38", v.LastNote)
	}
}

func TestDMCNoteStartUsesAllocatedChannel(t *testing.T) {
	tr := NewTracker()
	track := miditrack.New()
	v := NewVoice(KindDMC, 0)

	tr.DMCNoteStart(v, 0, track, 11, 60)

	if v.LastMIDIChannel != 11 {
		t.Errorf("channel = %d, want 11", v.LastMIDIChannel)
	}
}

func TestSPCVelocityZeroVolumeGuard(t *testing.T) {
	if got := SPCVelocity(0, 0); got != 0 {
		t.Errorf("SPCVelocity(0,0) = %d, want 0 (no -Inf panic)", got)
	}
}

func TestSPCVelocityNonZero(t *testing.T) {
	got := SPCVelocity(100, 100)
	if got == 0 || got > 127 {
		t.Errorf("SPCVelocity(100,100) = %d, want in (0,127]", got)
	}
}

func TestSPCPanCentersWithEqualVolumes(t *testing.T) {
	if got := SPCPan(64, 64); got != 64 {
		t.Errorf("SPCPan(64,64) = %d, want 64", got)
	}
}

func TestSPCChannelPercussionGoesToNine(t *testing.T) {
	if got := SPCChannel(true, 3); got != 9 {
		t.Errorf("SPCChannel(percussion) = %d, want 9", got)
	}
	if got := SPCChannel(false, 3); got != 3 {
		t.Errorf("SPCChannel(melodic) = %d, want voice index 3", got)
	}
}

func TestSPCPitchTrackingWithinRangeEmitsBend(t *testing.T) {
	tr := NewTracker()
	track := miditrack.New()
	v := NewVoice(KindSPC, 0)
	v.VolL, v.VolR = 100, 100
	tr.SPCNoteStart(v, 0, track, 0, 60, 0, 100)

	before := len(track.Bytes())
	tr.SPCPitchTracking(v, 10, track, 61.0) // +1 semitone, within +/-2 range
	if len(track.Bytes()) <= before {
		t.Error("expected a pitch bend event to be written")
	}
}

func TestSPCPitchTrackingOutOfRangeSuppressed(t *testing.T) {
	tr := NewTracker()
	track := miditrack.New()
	v := NewVoice(KindSPC, 0)
	v.VolL, v.VolR = 100, 100
	tr.SPCNoteStart(v, 0, track, 0, 60, 0, 100)

	before := len(track.Bytes())
	tr.SPCPitchTracking(v, 10, track, 65.0) // +5 semitones, outside +/-2 range
	if len(track.Bytes()) != before {
		t.Error("expected pitch bend to be suppressed outside +/-2 semitones")
	}
}

func TestVoiceResetClearsSentinels(t *testing.T) {
	v := NewVoice(KindSquare, 1)
	v.LastNote = 60
	v.LastPatch = 5
	v.Reset()
	if v.LastPatch != -1 {
		t.Errorf("LastPatch after Reset = %d, want -1 sentinel", v.LastPatch)
	}
	if v.HasActiveNote() {
		t.Error("expected no active note after Reset")
	}
	if v.Index != 1 {
		t.Error("Reset must preserve Kind/Index")
	}
}
