// Package notetable builds the per-oscillator period-register -> MIDI note
// lookup tables used by the transcription engine.
package notetable

import "math"

// ConcertAReference is the NES APU's effective reference pitch for its A
// natural, used by both the square and noise anchor computation. Concert
// A at this octave is 110 Hz; the APU's divider grid lands slightly flat.
const ConcertAReference = 109.981803632778603

// SPCNoteReference is the 55 Hz (A1) pitch. No table in this package is
// built from it, and SPC note numbers (sampleanalyzer's MIDINote) do not
// read it.
const SPCNoteReference = 55.0

// Size is the number of entries in a period table: raw 11-bit NES period
// registers range over [0, 0x800).
const Size = 0x800

// Entry is one period-table slot: the MIDI note it resolves to, plus a
// cents offset for the fractional part that rounding to an integer note
// throws away.
type Entry struct {
	Note  uint8
	Cents int16
}

// Table is a full period -> Entry lookup, indexed by raw period register
// value. Entries for period 0 are defined (so indexing never panics) but
// must never be triggered into a note-on; their contents are garbage.
type Table struct {
	Entries   [Size]Entry
	ClockRate float64
	Anchor    uint8
}

// Build constructs a period table for a clock rate and anchor note: for
// period p, f = clock_rate / (16*(p+1)); n = 12*log2(f/ConcertAReference);
// note = round(n) + anchor; cents = round((n - round(n)) * 8191).
//
// Build is deterministic: identical (clockRate, anchor) always produce a
// bit-identical table.
func Build(clockRate float64, anchor uint8) *Table {
	t := &Table{ClockRate: clockRate, Anchor: anchor}
	for p := 0; p < Size; p++ {
		f := clockRate / (16 * float64(p+1))
		n := math.Log2(f/ConcertAReference) * 12
		rounded := math.Round(n)
		note := int(rounded) + int(anchor)
		if note < 0 {
			note = 0
		}
		if note > 255 {
			note = 255
		}
		t.Entries[p] = Entry{
			Note:  uint8(note),
			Cents: int16(math.Round((n - rounded) * 8191)),
		}
	}
	return t
}

// ApplyNoiseOverride replaces entries [0, len(overrides)) with a curated
// General MIDI percussion mapping; the noise voice's 32 period values are
// drum hits, not pitches.
func (t *Table) ApplyNoiseOverride(overrides []uint8) {
	for i, note := range overrides {
		if i >= Size {
			break
		}
		t.Entries[i] = Entry{Note: note, Cents: 0}
	}
}

// Lookup returns the table entry for a raw period value, clamping out of
// range indices to the valid domain.
func (t *Table) Lookup(period int) Entry {
	if period < 0 {
		period = 0
	}
	if period >= Size {
		period = Size - 1
	}
	return t.Entries[period]
}

// DefaultNoiseOverride is a curated General MIDI percussion mapping for the
// low 32 noise periods, used until a sidecar .n2m file supplies per-game
// entries. Values are General MIDI percussion note numbers on channel 10.
var DefaultNoiseOverride = [32]uint8{
	36, 38, 42, 46, 45, 48, 47, 43, // kick, snare, hats, toms
	50, 51, 49, 57, 41, 44, 39, 54,
	70, 69, 56, 75, 76, 77, 62, 63,
	64, 65, 66, 67, 68, 71, 72, 73,
}
