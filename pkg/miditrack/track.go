// Package miditrack implements the per-voice growable MTrk byte buffer:
// variable-length delta-time encoding, a running absolute-tick cursor, and
// typed event emitters.
//
// The raw note-on/note-off message bytes are built with
// gitlab.com/gomidi/midi/v2. The VLQ delta-time bookkeeping and growable
// buffer are hand-rolled rather than routed through that library's own
// smf.Track, to keep the absolute-tick cursor and byte-level chunk
// contract under direct control.
package miditrack

import "gitlab.com/gomidi/midi/v2"

// InitialBufferSize is the starting capacity for a track's byte buffer,
// sized from typical chiptune track output.
const InitialBufferSize = 30 * 1024

// MetaText is the SMF meta-event type used for free-text annotations
// (e.g. "sample 03" on first use of a BRR sample).
const MetaText = 0x01

// MetaEndOfTrack is appended by the SMF container writer if a track
// doesn't already end with it.
const MetaEndOfTrack = 0x2F

// Track is a single voice's growable MTrk payload (the bytes between the
// "MTrk" tag and chunk length, and the raw track bytes themselves).
type Track struct {
	buf              []byte
	lastAbsoluteTick uint64
}

// New allocates a Track with the 30 KB initial reserve.
func New() *Track {
	return &Track{buf: make([]byte, 0, InitialBufferSize)}
}

// Bytes returns the raw, read-only MTrk payload written so far.
func (t *Track) Bytes() []byte {
	return t.buf
}

// Length returns the number of bytes written so far.
func (t *Track) Length() uint32 {
	return uint32(len(t.buf))
}

// LastAbsoluteTick returns the cursor's current position.
func (t *Track) LastAbsoluteTick() uint64 {
	return t.lastAbsoluteTick
}

// writeDelta encodes absTick-lastAbsoluteTick as a variable-length
// quantity (7 bits per byte, continuation bit set on all but the last
// byte, big-endian byte order) and advances the cursor. All writes must
// be monotonic in absTick; a caller supplying a tick earlier than the
// cursor is a programming error, so this clamps the delta to zero rather
// than encoding a negative value, which would corrupt the VLQ stream.
func (t *Track) writeDelta(absTick uint64) {
	var delta uint64
	if absTick > t.lastAbsoluteTick {
		delta = absTick - t.lastAbsoluteTick
	}
	t.lastAbsoluteTick = absTick

	// Variable-length quantity: up to 4 groups of 7 bits, most-significant
	// group first, continuation bit set on every byte but the last.
	var groups [4]byte
	n := 0
	groups[0] = byte(delta & 0x7F)
	delta >>= 7
	n = 1
	for delta > 0 && n < 4 {
		groups[n] = byte(delta&0x7F) | 0x80
		delta >>= 7
		n++
	}
	for i := n - 1; i >= 0; i-- {
		t.buf = append(t.buf, groups[i])
	}
}

func clampChannel(ch uint8) uint8 {
	if ch > 15 {
		return 15
	}
	return ch
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

// WriteNoteOn emits a note-on event at absTick using the gomidi/midi/v2
// byte constructor for the status+data bytes.
func (t *Track) WriteNoteOn(absTick uint64, channel, note, velocity uint8) {
	t.writeDelta(absTick)
	msg := midi.NoteOn(clampChannel(channel), clamp7(int(note)), clamp7(int(velocity)))
	t.buf = append(t.buf, []byte(msg)...)
}

// WriteNoteOff emits a note-off event (velocity 0) at absTick.
func (t *Track) WriteNoteOff(absTick uint64, channel, note uint8) {
	t.writeDelta(absTick)
	msg := midi.NoteOff(clampChannel(channel), clamp7(int(note)))
	t.buf = append(t.buf, []byte(msg)...)
}

// WriteCC emits a control-change event (e.g. CC7 channel volume, CC10 pan).
func (t *Track) WriteCC(absTick uint64, channel, cc, value uint8) {
	t.writeDelta(absTick)
	ch := clampChannel(channel)
	t.buf = append(t.buf, 0xB0|ch, clamp7(int(cc)), clamp7(int(value)))
}

// WriteProgram emits a program-change event.
func (t *Track) WriteProgram(absTick uint64, channel, patch uint8) {
	t.writeDelta(absTick)
	ch := clampChannel(channel)
	t.buf = append(t.buf, 0xC0|ch, clamp7(int(patch)))
}

// WritePitchBend emits a pitch-bend wheel event. wheel14 is the full
// 14-bit wheel value (0x2000 is center), split into LSB/MSB 7-bit groups.
func (t *Track) WritePitchBend(absTick uint64, channel uint8, wheel14 int) {
	t.writeDelta(absTick)
	ch := clampChannel(channel)
	if wheel14 < 0 {
		wheel14 = 0
	}
	if wheel14 > 0x3FFF {
		wheel14 = 0x3FFF
	}
	t.buf = append(t.buf, 0xE0|ch, byte(wheel14&0x7F), byte((wheel14>>7)&0x7F))
}

// WriteMetaText emits a meta event of the given kind (typically MetaText)
// carrying an arbitrary byte payload, VLQ-length prefixed per SMF meta
// event encoding.
func (t *Track) WriteMetaText(absTick uint64, kind byte, payload []byte) {
	t.writeDelta(absTick)
	t.buf = append(t.buf, 0xFF, kind)
	t.buf = appendVLQLength(t.buf, len(payload))
	t.buf = append(t.buf, payload...)
}

// appendVLQLength appends n encoded as a standard SMF variable-length
// quantity (used for meta-event and sysex payload lengths, distinct from
// but structurally identical to delta-time encoding).
func appendVLQLength(buf []byte, n int) []byte {
	if n < 0 {
		n = 0
	}
	var groups [5]byte
	c := 0
	groups[0] = byte(n & 0x7F)
	n >>= 7
	c = 1
	for n > 0 {
		groups[c] = byte(n&0x7F) | 0x80
		n >>= 7
		c++
	}
	for i := c - 1; i >= 0; i-- {
		buf = append(buf, groups[i])
	}
	return buf
}

// HasEndOfTrack reports whether the buffer already ends with FF 2F 00.
func (t *Track) HasEndOfTrack() bool {
	n := len(t.buf)
	return n >= 3 && t.buf[n-3] == 0xFF && t.buf[n-2] == MetaEndOfTrack && t.buf[n-1] == 0x00
}

// WriteEndOfTrack appends the end-of-track meta event if not already
// present.
func (t *Track) WriteEndOfTrack(absTick uint64) {
	if t.HasEndOfTrack() {
		return
	}
	t.writeDelta(absTick)
	t.buf = append(t.buf, 0xFF, MetaEndOfTrack, 0x00)
}
