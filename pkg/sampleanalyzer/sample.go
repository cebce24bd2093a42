// Package sampleanalyzer inspects SPC BRR samples: on first use of a
// sample, decode a window of it, estimate its fundamental pitch via FFT,
// and hold the per-sample MIDI configuration
// (patch/transpose/percussion-note) an .spm sidecar can override.
package sampleanalyzer

import (
	"fmt"
	"math"
)

// Analysis window and decode buffer sizes.
const (
	AnalysisWindow   = 1024
	DecodeBufferSize = 16384

	// MelodicPitchOffset is subtracted from 12*log2 of the pitch-scaled
	// fundamental frequency in Hz to give a MIDI note number.
	MelodicPitchOffset = 36.25

	// ReferenceFrequency is the A1 pitch (55Hz). MIDINote does not read
	// it; its note scale comes from MelodicPitchOffset alone.
	ReferenceFrequency = 55.0
)

// SampleConfig is the per-sample MIDI mapping: melodic patch/transpose
// are mutually exclusive with a percussion note.
type SampleConfig struct {
	Used bool

	MelodicPatch     uint8
	MelodicTranspose int
	PercussionNote   uint8 // 0 means "melodic"

	BasePitch float64 // Hz, estimated fundamental
	Gain      float64 // peak amplitude / 32768
}

// IsPercussion reports whether this sample is configured as a GM
// percussion hit rather than a melodic/transposable voice.
func (c *SampleConfig) IsPercussion() bool { return c.PercussionNote > 0 }

// MIDIChannel resolves the sample's MIDI channel: 9 for percussion,
// otherwise the voice's own index.
func (c *SampleConfig) MIDIChannel(voiceIndex int) uint8 {
	if c.IsPercussion() {
		return 9
	}
	return uint8(voiceIndex)
}

// MIDIPatch returns 0 (acoustic grand, effectively ignored on channel 9)
// for percussion samples, or the configured melodic patch otherwise.
func (c *SampleConfig) MIDIPatch() uint8 {
	if c.IsPercussion() {
		return 0
	}
	return c.MelodicPatch
}

// MIDINote computes the fractional MIDI note number for a raw 14-bit SPC
// pitch register value. ok is false for pitch==0 (silence).
func (c *SampleConfig) MIDINote(pitch int) (note float64, ok bool) {
	if pitch == 0 {
		return 0, false
	}
	if c.IsPercussion() {
		return float64(c.PercussionNote), true
	}
	scale := float64(pitch) / 4096.0
	m := math.Log2(c.BasePitch*scale)*12.0 - MelodicPitchOffset + float64(c.MelodicTranspose)
	return m, true
}

// Store holds the per-sample configuration for every BRR sample seen in a
// track, lazily analyzing each one on first use.
type Store struct {
	samples map[uint8]*SampleConfig
}

// NewStore returns an empty sample store.
func NewStore() *Store {
	return &Store{samples: make(map[uint8]*SampleConfig)}
}

// Reset clears all analyzed samples, used by façade.StartTrack.
func (s *Store) Reset() {
	s.samples = make(map[uint8]*SampleConfig)
}

// All returns every configured sample, keyed by sample id, for sidecar
// serialization.
func (s *Store) All() map[uint8]*SampleConfig {
	return s.samples
}

// Config returns the configuration for sampleID, analyzing it from ram on
// its first access; a sample configured by a sidecar but not yet analyzed
// is analyzed too, keeping its sidecar patch/transpose/percussion values.
// firstUse reports whether this call performed the (expensive) first-use
// analysis, so callers can decide whether to log a "sample NN" meta
// text/debug line.
func (s *Store) Config(sampleID uint8, dirReg uint8, ram RAMView) (cfg *SampleConfig, firstUse bool) {
	if c, ok := s.samples[sampleID]; ok {
		wasUsed := c.Used
		if !wasUsed {
			s.analyze(c, sampleID, dirReg, ram)
		}
		return c, !wasUsed
	}
	c := &SampleConfig{MelodicPatch: defaultMelodicPatch}
	s.samples[sampleID] = c
	s.analyze(c, sampleID, dirReg, ram)
	return c, true
}

// Configure installs an explicit sidecar-driven configuration for
// sampleID, preserving any BasePitch/Gain already derived from analysis.
func (s *Store) Configure(sampleID uint8, patch uint8, transpose int, percussionNote uint8) {
	c, ok := s.samples[sampleID]
	if !ok {
		c = &SampleConfig{}
		s.samples[sampleID] = c
	}
	c.MelodicPatch = patch
	c.MelodicTranspose = transpose
	c.PercussionNote = percussionNote
}

// defaultMelodicPatch is the GM instrument assigned to a sample with no
// sidecar override: "81 Lead 2 (sawtooth)", a reasonable generic default
// for an unclassified chip sample (sidecar overrides are expected to
// replace it with something sample-specific).
const defaultMelodicPatch = 81

func (s *Store) analyze(c *SampleConfig, sampleID uint8, dirReg uint8, ram RAMView) {
	pcm, loopPos := decodeBRR(ram, dirReg, sampleID, DecodeBufferSize)

	max := 0
	for _, v := range pcm {
		a := int(v)
		if a < 0 {
			a = -a
		}
		if a > max {
			max = a
		}
	}
	c.Gain = float64(max) / 32768.0

	n := AnalysisWindow
	window := make([]float64, n)
	if loopPos+n <= DecodeBufferSize {
		for i := 0; i < n; i++ {
			window[i] = float64(pcm[DecodeBufferSize-n+i]) / 32768.0
		}
	} else {
		for i := 0; i < n; i++ {
			window[i] = float64(pcm[i]) / 32768.0
		}
	}

	real := make([]float64, n)
	imag := make([]float64, n)
	copy(real, window)

	fft(real, imag)
	fftMag(real, imag)

	peaks := fftPeaks(real, 8)
	k := fftMinPeak(peaks, 4)
	kp := interpolatePeak(real, k)

	c.BasePitch = kp * 32000.0 / float64(n)
	c.Used = true
}

// DecodeForDebug exposes the raw BRR-decoded PCM analysis window for
// sampleID (the same AnalysisWindow samples the pitch estimate is taken
// from), for tooling that wants to render it to a .wav file for
// inspection rather than feed it through pitch analysis.
func DecodeForDebug(ram RAMView, dirReg uint8, sampleID uint8) []int16 {
	pcm, loopPos := decodeBRR(ram, dirReg, sampleID, DecodeBufferSize)
	if loopPos+AnalysisWindow <= DecodeBufferSize {
		return pcm[DecodeBufferSize-AnalysisWindow:]
	}
	return pcm[:AnalysisWindow]
}

// Label is the "sample %02X" text event payload written on first use of
// a sample.
func Label(sampleID uint8) string {
	return fmt.Sprintf("sample %02X", sampleID)
}
