// Package voicetrack is the voice state tracker: the decision logic that
// turns emulator register writes and envelope transitions into MIDI
// note/CC/program/pitch-bend events.
//
// Oscillators are modeled as a tagged variant (square, triangle, noise,
// DMC, SPC voice) rather than as an interface hierarchy: the Kind field
// on Voice selects which kind-specific NoteStart* method a caller uses,
// and all of them funnel into the one common emitNoteStart dispatcher.
package voicetrack

import (
	"math"

	"github.com/chiptune-tools/chiptune2midi/pkg/miditrack"
	"github.com/chiptune-tools/chiptune2midi/pkg/notetable"
)

// Kind tags which chip oscillator a Voice represents.
type Kind int

const (
	KindSquare Kind = iota
	KindTriangle
	KindNoise
	KindDMC
	KindSPC
)

// Fixed MIDI channels and default GM patches for the melodic NES voices.
// A sidecar file cannot currently override these; only noise/DMC/sample
// remaps are sidecar-driven.
const (
	TriangleChannel = 8
	NoiseChannel    = 9

	DefaultSquarePatch   = 80  // GM "Lead 1 (square)"
	DefaultTrianglePatch = 38  // GM "Synth Bass 1"
	DefaultDMCPatch      = 118 // GM "Synth Drum"

	// NESFixedVelocity is the constant velocity for envelope-bearing NES
	// voices; loudness instead rides on the channel-volume CC.
	NESFixedVelocity = 112
)

// ChannelState is the per-MIDI-channel memory the tracker consults when
// deciding whether a program change / CC7 / CC10 is actually needed.
type ChannelState struct {
	HasPatch bool
	Patch    uint8
	Note     uint8
	Pan      uint8
	Volume   uint8
	Wheel    int
}

// Voice is one oscillator's dynamic state, plus the tagged-variant fields
// needed to resolve its channel/note/velocity.
type Voice struct {
	Kind  Kind
	Index int // chip-voice index: 0/1 for squares, 0-7 for SPC voices

	// NES inputs, refreshed by the façade from observe_register callbacks
	// before an on_note_start/on_register_write dispatch.
	Period         int
	DutySelect     uint8 // square only
	EnvelopeVolume uint8 // 0-15, squares and noise
	SampleAddress  int   // DMC only

	// SPC inputs
	SampleID   int
	Pitch14    int
	VolL, VolR int8
	Percussion bool

	// Dynamic state. LastNote == 0 is the sentinel for "no active note";
	// every emit path maintains that invariant.
	LastMIDIChannel  uint8
	HasChannel       bool
	LastNote         uint8
	LastNoteVelocity uint8
	LastPan          uint8
	LastCCVolume     uint8
	LastPitchBend    int
	LastPatch        int // -1 sentinel: no program change sent yet
	LastSampleID     int // -1 sentinel, SPC only
	LastPeriod       int
	AbsTimeCycles    uint64
}

// NewVoice returns a Voice with sentinels set for "nothing has happened
// yet".
func NewVoice(kind Kind, index int) *Voice {
	return &Voice{
		Kind:         kind,
		Index:        index,
		LastPatch:    -1,
		LastSampleID: -1,
	}
}

// Reset clears a Voice back to its just-constructed state, used when a
// new track starts.
func (v *Voice) Reset() {
	kind, index := v.Kind, v.Index
	*v = *NewVoice(kind, index)
}

// HasActiveNote reports whether the voice currently has a sounding note,
// per the LastNote==0 sentinel invariant.
func (v *Voice) HasActiveNote() bool { return v.LastNote != 0 }

// Tracker owns the 16 MIDI channels' shared state and dispatches the
// common note-start/note-end/volume/pitch algorithm.
type Tracker struct {
	Channels [16]ChannelState
}

// NewTracker returns a Tracker with all channel patches unset.
func NewTracker() *Tracker {
	tr := &Tracker{}
	for i := range tr.Channels {
		tr.Channels[i] = ChannelState{}
	}
	return tr
}

// Reset clears all channel memory, used by façade.StartTrack.
func (tr *Tracker) Reset() {
	for i := range tr.Channels {
		tr.Channels[i] = ChannelState{}
	}
}

func scaleEnvelopeToCC(envelope uint8) uint8 {
	v := int(envelope) * 8
	if v > 127 {
		v = 127
	}
	return uint8(v)
}

// emitNoteStart is the common note-start path, taking an already-resolved
// (channel, note, patch, velocity) tuple plus optional volume/pan (nil on
// percussion channels, which never receive CC7/CC10; program changes are
// not guarded, so a percussion channel still gets its drum-kit patch on
// first use).
func (tr *Tracker) emitNoteStart(v *Voice, tick uint64, track *miditrack.Track, channel, note, patch, velocity uint8, volume, pan *uint8) {
	if note == 0 && v.Kind != KindNoise {
		// Transcription anomaly: suppress silently. Note 0 doubles as the
		// no-active-note sentinel, so melodic voices never trigger it;
		// noise remaps are validated by the caller instead.
		return
	}

	chState := &tr.Channels[channel]

	if !chState.HasPatch || chState.Patch != patch {
		track.WriteProgram(tick, channel, patch)
		chState.Patch = patch
		chState.HasPatch = true
	}

	if channel != NoiseChannel {
		if volume != nil && *volume != chState.Volume {
			track.WriteCC(tick, channel, 7, *volume)
			chState.Volume = *volume
		}
		if pan != nil && *pan != chState.Pan {
			track.WriteCC(tick, channel, 10, *pan)
			chState.Pan = *pan
		}
	}

	if v.HasActiveNote() {
		track.WriteNoteOff(tick, v.LastMIDIChannel, v.LastNote)
	}

	track.WriteNoteOn(tick, channel, note, velocity)

	v.LastMIDIChannel = channel
	v.HasChannel = true
	v.LastNote = note
	v.LastNoteVelocity = velocity
	if volume != nil {
		v.LastCCVolume = *volume
	}
	if pan != nil {
		v.LastPan = *pan
	}
	v.LastPatch = int(patch)
	chState.Note = note
}

// NoteEnd emits a note-off for the voice's currently sounding note, if
// any. Idempotent if the voice is already silent.
func (tr *Tracker) NoteEnd(v *Voice, tick uint64, track *miditrack.Track) {
	if !v.HasActiveNote() {
		return
	}
	track.WriteNoteOff(tick, v.LastMIDIChannel, v.LastNote)
	tr.Channels[v.LastMIDIChannel].Note = 0
	v.LastNote = 0
}

// SquareNoteStart handles a note start on an NES square voice: channel is
// voice index*4 + duty select (8 distinct channels across the two
// squares), note comes from the period table, velocity is fixed, and the
// envelope value drives CC7.
func (tr *Tracker) SquareNoteStart(v *Voice, tick uint64, track *miditrack.Track, table *notetable.Table) {
	if v.Period == 0 {
		return // period 0 entries exist but must never be triggered
	}
	entry := table.Lookup(v.Period)
	channel := uint8(v.Index)*4 + v.DutySelect
	volume := scaleEnvelopeToCC(v.EnvelopeVolume)
	pan := uint8(64)
	tr.emitNoteStart(v, tick, track, channel, entry.Note, DefaultSquarePatch, NESFixedVelocity, &volume, &pan)
	v.LastPeriod = v.Period
}

// TriangleNoteStart handles a note start on the single NES triangle
// voice: fixed channel 8, fixed velocity and channel volume (the real NES
// triangle has no envelope register).
func (tr *Tracker) TriangleNoteStart(v *Voice, tick uint64, track *miditrack.Track, table *notetable.Table) {
	if v.Period == 0 {
		return
	}
	entry := table.Lookup(v.Period)
	volume := uint8(64)
	pan := uint8(64)
	tr.emitNoteStart(v, tick, track, TriangleChannel, entry.Note, DefaultTrianglePatch, NESFixedVelocity, &volume, &pan)
	v.LastPeriod = v.Period
}

// NoiseNoteStart handles a note start on the NES noise voice: channel is
// always 9 (GM drums), note comes from an explicit sidecar remap if
// present, otherwise the built-in curated percussion table; velocity is
// the envelope volume scaled by 8.
func (tr *Tracker) NoiseNoteStart(v *Voice, tick uint64, track *miditrack.Track, note uint8) {
	velocity := scaleEnvelopeToCC(v.EnvelopeVolume)
	tr.emitNoteStart(v, tick, track, NoiseChannel, note, 0, velocity, nil, nil)
	v.LastPeriod = v.Period
}

// DMCNoteStart handles a note start on the NES DMC voice: channel comes
// from the allocator pool (resolved by the caller, since the pool is
// shared remap state, not voice-local), as is the note: an explicit
// sample remap's note, or the caller's fixed default without one.
func (tr *Tracker) DMCNoteStart(v *Voice, tick uint64, track *miditrack.Track, channel, note uint8) {
	volume := uint8(7 * 8) // fixed DMC loudness, scaled to CC range
	pan := uint8(64)
	tr.emitNoteStart(v, tick, track, channel, note, DefaultDMCPatch, NESFixedVelocity, &volume, &pan)
}

// SPCVelocity computes round(log2(|volL|+|volR|) * 17) clamped to 0-127,
// guarding against the -Inf that log2(0) would produce when both volumes
// are zero.
func SPCVelocity(volL, volR int8) uint8 {
	sum := absInt(int(volL)) + absInt(int(volR))
	if sum == 0 {
		return 0
	}
	v := int(math.Round(math.Log2(float64(sum)) * 17))
	return clamp7(v)
}

// SPCPan computes pan = 64 - |volL| + |volR|, clamped to 0-127.
func SPCPan(volL, volR int8) uint8 {
	pan := 64 - absInt(int(volL)) + absInt(int(volR))
	return clamp7(pan)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func clamp7(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return uint8(v)
}

// SPCChannel resolves an SPC voice's MIDI channel: percussion samples go
// to channel 9, melodic samples go to their own voice-indexed channel.
func SPCChannel(percussion bool, voiceIndex int) uint8 {
	if percussion {
		return NoiseChannel
	}
	return uint8(voiceIndex)
}

// SPCNoteStart handles a note start on an SPC voice. Channel, note, patch
// and velocity have already been resolved by the caller (the façade,
// using sampleanalyzer for per-sample pitch/patch); this just runs the
// common channel-state diffing and note-on/off emission, skipping CC7 and
// CC10 on channel 9.
func (tr *Tracker) SPCNoteStart(v *Voice, tick uint64, track *miditrack.Track, channel uint8, note, patch, velocity uint8) {
	volume := SPCVelocity(v.VolL, v.VolR)
	pan := SPCPan(v.VolL, v.VolR)
	var volPtr, panPtr *uint8
	if channel != NoiseChannel {
		volPtr, panPtr = &volume, &pan
	}
	tr.emitNoteStart(v, tick, track, channel, note, patch, velocity, volPtr, panPtr)
}

// SPCVolumeTracking reacts to an SPC voice-volume register write:
// recompute pan/velocity and emit CC10/CC7 if they changed, skipped
// entirely on channel 9.
func (tr *Tracker) SPCVolumeTracking(v *Voice, tick uint64, track *miditrack.Track) {
	if !v.HasChannel {
		return
	}
	channel := v.LastMIDIChannel
	if channel == NoiseChannel {
		return
	}
	if tr.Channels[channel].Note == 0 {
		return
	}
	pan := SPCPan(v.VolL, v.VolR)
	vel := SPCVelocity(v.VolL, v.VolR)
	chState := &tr.Channels[channel]
	if pan != chState.Pan {
		track.WriteCC(tick, channel, 10, pan)
		chState.Pan = pan
	}
	if vel != chState.Volume {
		track.WriteCC(tick, channel, 7, vel)
		chState.Volume = vel
	}
}

// SPCPitchTracking reacts to a v_pitchl/v_pitchh register write:
// recompute the note from the sample's pitch curve; within +/-2 semitones
// of the sounding note it emits a pitch bend, otherwise the bend is
// suppressed until the next note-on catches up.
func (tr *Tracker) SPCPitchTracking(v *Voice, tick uint64, track *miditrack.Track, newNote float64) {
	if !v.HasChannel {
		return
	}
	channel := v.LastMIDIChannel
	if channel == NoiseChannel {
		return
	}
	chState := &tr.Channels[channel]
	if chState.Note == 0 {
		return
	}
	if math.Abs(newNote-float64(chState.Note)) > 2.0 {
		return
	}
	wheel := 0x2000 + int(math.Round((newNote-float64(chState.Note))*4095))
	if wheel == chState.Wheel {
		return
	}
	track.WritePitchBend(tick, channel, wheel)
	chState.Wheel = wheel
	v.LastPitchBend = wheel
}
