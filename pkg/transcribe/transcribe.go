// Package transcribe is the orchestration façade: it exposes
// load/start-track/observe/finalize to whatever drives the chip emulator,
// and composes every other core package into the decision pipeline. The
// façade holds no back-pointer into the emulator; RAM is pushed in
// explicitly via LoadRAM instead.
package transcribe

import (
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"

	"github.com/chiptune-tools/chiptune2midi/pkg/miditrack"
	"github.com/chiptune-tools/chiptune2midi/pkg/notetable"
	"github.com/chiptune-tools/chiptune2midi/pkg/remap"
	"github.com/chiptune-tools/chiptune2midi/pkg/sampleanalyzer"
	"github.com/chiptune-tools/chiptune2midi/pkg/sidecar"
	"github.com/chiptune-tools/chiptune2midi/pkg/smfcontainer"
	"github.com/chiptune-tools/chiptune2midi/pkg/timebase"
	"github.com/chiptune-tools/chiptune2midi/pkg/translog"
	"github.com/chiptune-tools/chiptune2midi/pkg/voicetrack"
	"github.com/chiptune-tools/chiptune2midi/pkg/waveout"
)

// Mode selects which chip's register/voice layout a Transcriber
// interprets.
type Mode int

const (
	ModeNES Mode = iota
	ModeSPC
)

// Physical NES voice indices: one MIDI track per oscillator, each voice
// owning its own track buffer.
const (
	nesSquare0    = 0
	nesSquare1    = 1
	nesTriangle   = 2
	nesNoise      = 3
	nesDMC        = 4
	nesVoiceCount = 5

	spcVoiceCount = 8

	// GlobalVoice is the sentinel voice index ObserveRegister uses for a
	// DSP-wide register write (the sample directory page), since a
	// register observation is otherwise always scoped to one oscillator.
	GlobalVoice = 0xFF
)

// SPC DSP per-voice register offsets within a voice's 16-byte block.
const (
	RegVoiceVolL   = 0x00
	RegVoiceVolR   = 0x01
	RegVoicePitchL = 0x02
	RegVoicePitchH = 0x03
	RegVoiceSrcN   = 0x04
)

// RegGlobalDir is the SPC DSP's r_dir global register (sample directory
// page number), paired with GlobalVoice.
const RegGlobalDir = 0x5D

// NES per-voice register shadow offsets into each oscillator's 4-byte
// block: byte 0 packs duty-select/volume, byte 2 is the period low byte
// (repurposed as the DMC sample-address register for the DMC voice),
// byte 3 carries the period high bits.
const (
	RegNESDutyVolume = 0
	RegNESPeriodLow  = 2
	RegNESPeriodHigh = 3
)

type ramBuffer [65536]byte

func (r *ramBuffer) ReadByte(addr int) uint8 { return r[addr&0xFFFF] }

// Transcriber is the façade: it owns every voice's dynamic state and
// track buffer for the duration of one track.
type Transcriber struct {
	mode    Mode
	tb      *timebase.TimeBase
	tracker *voicetrack.Tracker
	tracks  []*miditrack.Track
	voices  []*voicetrack.Voice

	squareTable   *notetable.Table
	triangleTable *notetable.Table
	noiseTable    *notetable.Table

	tables *remap.Tables
	pool   *remap.ChannelPool

	samples *sampleanalyzer.Store
	dirReg  uint8
	ram     ramBuffer
	dspSeed []byte

	log        *translog.Logger
	clockRate  float64
	baseCycles uint64

	// sampleDumpDir, when non-empty, makes the first-use SPC sample
	// analysis also dump the decoded analysis window to a .wav file in
	// this directory, wired to the CLI's --dump-samples flag.
	sampleDumpDir string
}

// NewNES returns a façade configured for the NES APU's 5 physical voices
// (2 square, triangle, noise, DMC).
func NewNES(log *translog.Logger) *Transcriber {
	t := &Transcriber{
		mode:    ModeNES,
		tracker: voicetrack.NewTracker(),
		tables:  remap.NewTables(),
		pool:    remap.NewChannelPool(),
		log:     log,
	}
	t.clockRate = timebase.NESClockRateNTSC
	t.tb = timebase.NewNES(t.clockRate)
	t.rebuildNESTables()

	t.tracks = make([]*miditrack.Track, nesVoiceCount)
	t.voices = make([]*voicetrack.Voice, nesVoiceCount)
	for i := range t.tracks {
		t.tracks[i] = miditrack.New()
	}
	t.voices[nesSquare0] = voicetrack.NewVoice(voicetrack.KindSquare, 0)
	t.voices[nesSquare1] = voicetrack.NewVoice(voicetrack.KindSquare, 1)
	t.voices[nesTriangle] = voicetrack.NewVoice(voicetrack.KindTriangle, 0)
	t.voices[nesNoise] = voicetrack.NewVoice(voicetrack.KindNoise, 0)
	t.voices[nesDMC] = voicetrack.NewVoice(voicetrack.KindDMC, 0)
	return t
}

// NewSPC returns a façade configured for the SPC DSP's 8 voices.
func NewSPC(log *translog.Logger) *Transcriber {
	t := &Transcriber{
		mode:    ModeSPC,
		tracker: voicetrack.NewTracker(),
		samples: sampleanalyzer.NewStore(),
		log:     log,
	}
	t.clockRate = timebase.SPCDSPSampleRate
	t.tb = timebase.NewSPC()

	t.tracks = make([]*miditrack.Track, spcVoiceCount)
	t.voices = make([]*voicetrack.Voice, spcVoiceCount)
	for i := range t.tracks {
		t.tracks[i] = miditrack.New()
		t.voices[i] = voicetrack.NewVoice(voicetrack.KindSPC, i)
	}
	return t
}

func (t *Transcriber) rebuildNESTables() {
	t.squareTable = notetable.Build(t.clockRate, 45)
	t.triangleTable = notetable.Build(t.clockRate, 33)
	t.noiseTable = notetable.Build(t.clockRate, 45)
	t.noiseTable.ApplyNoiseOverride(notetable.DefaultNoiseOverride[:])
}

// Mode reports which chip this façade was constructed for.
func (t *Transcriber) Mode() Mode { return t.mode }

// ObserveClockRate invalidates and rebuilds the period tables. SPC's tick
// calibration is fixed regardless of clock rate, so only NES rebuilds its
// note tables.
func (t *Transcriber) ObserveClockRate(hz float64) {
	t.clockRate = hz
	if hz <= 0 {
		// Configuration error: remembered so the next StartTrack fails,
		// but the tables keep their last valid state.
		return
	}
	t.tb.SetClockRate(hz)
	if t.mode == ModeNES {
		t.rebuildNESTables()
	}
}

// ObserveTime advances the time base's cycle-count anchor; per-event
// time arguments elsewhere are added to this before tick conversion.
func (t *Transcriber) ObserveTime(cycles uint64) {
	t.baseCycles = cycles
}

func (t *Transcriber) tick(eventTime uint64) uint64 {
	return t.tb.AbsoluteTick(t.baseCycles + eventTime)
}

// LoadRAM installs a full 64KB RAM snapshot used for SPC BRR sample
// decoding.
func (t *Transcriber) LoadRAM(data []byte) error {
	if len(data) != len(t.ram) {
		return fmt.Errorf("transcribe: RAM snapshot is %d bytes, want %d", len(data), len(t.ram))
	}
	copy(t.ram[:], data)
	return nil
}

// LoadDSPRegisters replays a 128-byte SPC DSP register block through the
// register observer, seeding the sample directory page and each voice's
// volume/pitch/source from a .spc dump's captured DSP state. Register
// writes before any note has started never emit MIDI events (the trackers
// bail out while no channel is assigned), so seeding is silent.
// The seed is retained: StartTrack re-applies it after resetting voice
// state, since the dump's DSP block is the chip's state at track start.
func (t *Transcriber) LoadDSPRegisters(regs []byte) error {
	if t.mode != ModeSPC {
		return fmt.Errorf("transcribe: DSP registers only apply to SPC mode")
	}
	if len(regs) < 0x80 {
		return fmt.Errorf("transcribe: DSP register block is %d bytes, want 128", len(regs))
	}
	t.dspSeed = append(t.dspSeed[:0], regs[:0x80]...)
	t.applyDSPSeed()
	return nil
}

func (t *Transcriber) applyDSPSeed() {
	if len(t.dspSeed) == 0 {
		return
	}
	t.ObserveRegister(GlobalVoice, RegGlobalDir, t.dspSeed[RegGlobalDir])
	for v := 0; v < spcVoiceCount; v++ {
		base := v * 0x10
		for _, reg := range [...]uint8{RegVoiceVolL, RegVoiceVolR, RegVoicePitchL, RegVoicePitchH, RegVoiceSrcN} {
			t.ObserveRegister(uint8(v), reg, t.dspSeed[base+int(reg)])
		}
	}
}

// StartTrack resets all per-track state: voice states, track buffers, and
// the DMC channel pool. It fails if the configured clock rate is invalid.
func (t *Transcriber) StartTrack() error {
	if t.clockRate <= 0 {
		return fmt.Errorf("transcribe: invalid clock rate %g", t.clockRate)
	}
	t.baseCycles = 0
	t.tracker.Reset()
	for i, v := range t.voices {
		v.Reset()
		t.tracks[i] = miditrack.New()
	}
	if t.pool != nil {
		t.pool.Reset()
	}
	if t.samples != nil {
		t.samples.Reset()
	}
	t.applyDSPSeed()
	return nil
}

// ObserveRegister records a shadowed register write and, for SPC
// pitch/volume registers, re-runs pitch/volume tracking immediately since
// those are driven directly off register writes rather than a separate
// note-start.
func (t *Transcriber) ObserveRegister(voice uint8, reg uint8, val uint8) {
	if voice == GlobalVoice {
		if t.mode == ModeSPC && reg == RegGlobalDir {
			t.dirReg = val
		}
		return
	}
	if int(voice) >= len(t.voices) {
		t.log.Anomaly("register write for out-of-range voice %d", voice)
		return
	}
	v := t.voices[voice]

	switch t.mode {
	case ModeNES:
		switch reg {
		case RegNESDutyVolume:
			v.DutySelect = (val >> 6) & 0x3
			v.EnvelopeVolume = val & 0xF
		case RegNESPeriodLow:
			v.Period = (v.Period &^ 0xFF) | int(val)
			if v.Kind == voicetrack.KindDMC {
				v.SampleAddress = int(val)
			}
		case RegNESPeriodHigh:
			v.Period = (v.Period &^ 0x700) | (int(val&0x7) << 8)
		}
	case ModeSPC:
		switch reg {
		case RegVoiceVolL:
			v.VolL = int8(val)
			t.tracker.SPCVolumeTracking(v, t.tick(0), t.tracks[voice])
		case RegVoiceVolR:
			v.VolR = int8(val)
			t.tracker.SPCVolumeTracking(v, t.tick(0), t.tracks[voice])
		case RegVoicePitchL:
			v.Pitch14 = (v.Pitch14 &^ 0xFF) | int(val)
			t.handleSPCPitchChange(v, 0)
		case RegVoicePitchH:
			v.Pitch14 = (v.Pitch14 &^ 0x3F00) | (int(val&0x3F) << 8)
			t.handleSPCPitchChange(v, 0)
		case RegVoiceSrcN:
			v.SampleID = int(val)
		}
	}
}

func (t *Transcriber) handleSPCPitchChange(v *voicetrack.Voice, eventTime uint64) {
	if !v.HasChannel || t.samples == nil {
		return
	}
	cfg, _ := t.samples.Config(uint8(v.SampleID), t.dirReg, &t.ram)
	note, ok := cfg.MIDINote(v.Pitch14)
	if !ok {
		return
	}
	t.tracker.SPCPitchTracking(v, t.tick(eventTime), t.tracks[v.Index], note)
}

// ObservePitch explicitly re-runs SPC pitch tracking, for drivers that
// signal a pitch change without replaying the underlying register
// writes.
func (t *Transcriber) ObservePitch(voice uint8, time uint64) {
	if t.mode != ModeSPC || int(voice) >= len(t.voices) {
		return
	}
	t.handleSPCPitchChange(t.voices[voice], time)
}

// ObserveVolume explicitly re-runs SPC volume/pan tracking.
func (t *Transcriber) ObserveVolume(voice uint8, time uint64) {
	if t.mode != ModeSPC || int(voice) >= len(t.voices) {
		return
	}
	v := t.voices[voice]
	t.tracker.SPCVolumeTracking(v, t.tick(time), t.tracks[voice])
}

// ObserveNoteStart dispatches the common note-start algorithm to the
// kind-specific voicetrack method for this voice.
func (t *Transcriber) ObserveNoteStart(voice uint8, time uint64) {
	if int(voice) >= len(t.voices) {
		t.log.Anomaly("note-start for out-of-range voice %d", voice)
		return
	}
	v := t.voices[voice]
	v.AbsTimeCycles = t.baseCycles + time
	tick := t.tick(time)
	track := t.tracks[voice]

	switch v.Kind {
	case voicetrack.KindSquare:
		t.tracker.SquareNoteStart(v, tick, track, t.squareTable)
	case voicetrack.KindTriangle:
		t.tracker.TriangleNoteStart(v, tick, track, t.triangleTable)
	case voicetrack.KindNoise:
		t.noiseNoteStart(v, tick, track)
	case voicetrack.KindDMC:
		channel, note := t.resolveDMCDestination(v)
		t.tracker.DMCNoteStart(v, tick, track, channel, note)
	case voicetrack.KindSPC:
		t.spcNoteStart(v, tick, track)
	}
}

func (t *Transcriber) noiseNoteStart(v *voicetrack.Voice, tick uint64, track *miditrack.Track) {
	note, explicit := t.tables.NoiseNote(v.Period)
	if !explicit {
		note = t.noiseTable.Lookup(v.Period).Note
	}
	if note > 127 {
		t.log.Anomaly("noise note %d out of range for period %d, suppressing", note, v.Period)
		return
	}
	t.tracker.NoiseNoteStart(v, tick, track, note)
}

// resolveDMCDestination resolves a DMC note's destination: an explicit
// sidecar remap wins; otherwise the channel pool assigns (or reuses) a
// slot. No real pitch is derivable from the DMC register model, so
// un-remapped samples default to MIDI note 60 (middle C).
func (t *Transcriber) resolveDMCDestination(v *voicetrack.Voice) (channel, note uint8) {
	if entry, ok := t.tables.DMCRemap(v.SampleAddress); ok {
		return entry.DestChannel, entry.DestNote
	}
	ch, overflow := t.pool.Allocate(v.SampleAddress)
	if overflow {
		t.log.Anomaly("DMC channel pool exhausted, sample address %#x overflowed to channel %d", v.SampleAddress, ch)
	}
	return ch, 60
}

func (t *Transcriber) spcNoteStart(v *voicetrack.Voice, tick uint64, track *miditrack.Track) {
	cfg, firstUse := t.samples.Config(uint8(v.SampleID), t.dirReg, &t.ram)
	if firstUse {
		track.WriteMetaText(tick, miditrack.MetaText, []byte(sampleanalyzer.Label(uint8(v.SampleID))))
		t.log.Progress("analyzed %s: base_pitch=%.3fHz gain=%.4f", sampleanalyzer.Label(uint8(v.SampleID)), cfg.BasePitch, cfg.Gain)
		t.dumpSample(uint8(v.SampleID))
	}

	note, ok := cfg.MIDINote(v.Pitch14)
	if !ok {
		t.log.Anomaly("SPC sample %02X: zero pitch, suppressing note", v.SampleID)
		return
	}
	rounded := int(math.Round(note))
	if rounded < 0 || rounded > 127 {
		t.log.Anomaly("SPC sample %02X: note %d out of MIDI range, suppressing", v.SampleID, rounded)
		return
	}

	channel := voicetrack.SPCChannel(cfg.IsPercussion(), v.Index)
	patch := cfg.MIDIPatch()
	velocity := voicetrack.SPCVelocity(v.VolL, v.VolR)
	t.tracker.SPCNoteStart(v, tick, track, channel, uint8(rounded), patch, velocity)
}

// dumpSample writes the decoded analysis window for sampleID to
// t.sampleDumpDir/sampleXX.wav, a no-op unless SetSampleDumpDir was
// called. I/O failures here are a debugging aid, not a pipeline failure,
// so they are logged as anomalies rather than surfaced to the caller.
func (t *Transcriber) dumpSample(sampleID uint8) {
	if t.sampleDumpDir == "" {
		return
	}
	pcm := sampleanalyzer.DecodeForDebug(&t.ram, t.dirReg, sampleID)
	path := filepath.Join(t.sampleDumpDir, fmt.Sprintf("sample%02X.wav", sampleID))
	if err := waveout.WritePCM16(path, int(timebase.SPCDSPSampleRate), pcm); err != nil {
		t.log.Anomaly("sample dump: %v", err)
	}
}

// ObserveNoteEnd ends the voice's sounding note, if any.
func (t *Transcriber) ObserveNoteEnd(voice uint8, time uint64) {
	if int(voice) >= len(t.voices) {
		t.log.Anomaly("note-end for out-of-range voice %d", voice)
		return
	}
	v := t.voices[voice]
	v.AbsTimeCycles = t.baseCycles + time
	t.tracker.NoteEnd(v, t.tick(time), t.tracks[voice])
}

// SetSampleDumpDir turns on the per-sample analysis-window WAV dump for
// SPC tracks: on each sample's first use, the decoded BRR window gets
// written to dir/sampleXX.wav so a user can listen to exactly what the
// FFT pitch estimate was taken from. Off by default (empty dir).
func (t *Transcriber) SetSampleDumpDir(dir string) {
	t.sampleDumpDir = dir
}

// LoadSidecar parses a remapping file and installs its entries, logging
// (not failing on) any malformed lines.
func (t *Transcriber) LoadSidecar(r io.Reader) {
	doc, anomalies := sidecar.Parse(r)
	for _, a := range anomalies {
		t.log.Anomaly("sidecar: %s", a)
	}
	if t.tables != nil {
		for _, e := range doc.DMC {
			t.tables.SetDMC(e)
		}
		for _, e := range doc.Noise {
			t.tables.SetNoise(e)
		}
	}
	if t.samples != nil {
		for _, e := range doc.Samples {
			if e.Percussion {
				t.samples.Configure(e.SampleID, 0, 0, e.Note)
			} else {
				t.samples.Configure(e.SampleID, e.Patch, e.Transpose, 0)
			}
		}
	}
}

// WriteSidecar serializes the current remap/sample tables back to w in a
// stable order, so a user can edit and re-run.
func (t *Transcriber) WriteSidecar(w io.Writer) error {
	doc := &sidecar.Document{}
	if t.tables != nil {
		for _, e := range t.tables.DMC {
			doc.DMC = append(doc.DMC, e)
		}
		for _, e := range t.tables.Noise {
			doc.Noise = append(doc.Noise, e)
		}
		sort.Slice(doc.DMC, func(i, j int) bool { return doc.DMC[i].SrcAddress < doc.DMC[j].SrcAddress })
		sort.Slice(doc.Noise, func(i, j int) bool { return doc.Noise[i].SrcPeriod < doc.Noise[j].SrcPeriod })
	}
	if t.samples != nil {
		for id, cfg := range t.samples.All() {
			if cfg.IsPercussion() {
				doc.Samples = append(doc.Samples, sidecar.SampleEntry{SampleID: id, Percussion: true, Note: cfg.PercussionNote})
			} else {
				doc.Samples = append(doc.Samples, sidecar.SampleEntry{SampleID: id, Patch: cfg.MelodicPatch, Transpose: cfg.MelodicTranspose})
			}
		}
		sort.Slice(doc.Samples, func(i, j int) bool { return doc.Samples[i].SampleID < doc.Samples[j].SampleID })
	}
	return sidecar.Write(w, doc)
}

// MidiTrackCount returns the number of per-voice tracks.
func (t *Transcriber) MidiTrackCount() int { return len(t.tracks) }

// MidiTrackBytes returns the raw bytes of track i.
func (t *Transcriber) MidiTrackBytes(i int) []byte { return t.tracks[i].Bytes() }

// Finalize appends an end-of-track meta event to any track missing one.
func (t *Transcriber) Finalize() {
	for _, tr := range t.tracks {
		if !tr.HasEndOfTrack() {
			tr.WriteEndOfTrack(tr.LastAbsoluteTick())
		}
	}
}

// WriteSMF finalizes and streams a Type-1 SMF to path.
func (t *Transcriber) WriteSMF(path string) error {
	t.Finalize()
	tracks := t.smfTracks()
	return smfcontainer.WriteFile(path, t.tb.Division(), tracks)
}

// SMFBytes finalizes and returns the Type-1 SMF as an in-memory byte
// slice, for callers (e.g. an HTTP handler) that want the bytes directly
// rather than a file path.
func (t *Transcriber) SMFBytes() ([]byte, error) {
	t.Finalize()
	return smfcontainer.Bytes(t.tb.Division(), t.smfTracks())
}

func (t *Transcriber) smfTracks() []smfcontainer.TrackBytes {
	tracks := make([]smfcontainer.TrackBytes, len(t.tracks))
	for i, tr := range t.tracks {
		tracks[i] = tr
	}
	return tracks
}
