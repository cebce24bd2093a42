// Package remap holds the remapping tables: noise period -> percussion
// note, DMC sample address -> (channel, note), and the DMC
// channel-allocation pool.
package remap

// DMCChannelPoolStart and DMCChannelPoolSize bound the MIDI channels the
// DMC allocator hands out: a free-slot table of 6 slots covering channels
// 10-15. Channel numbers here are 0-based.
const (
	DMCChannelPoolStart = 10
	DMCChannelPoolSize  = 6
	DMCOverflowChannel  = 15
)

// NoiseEntry maps a raw noise period register value to a destination MIDI
// percussion note.
type NoiseEntry struct {
	SrcPeriod int
	DestNote  uint8
}

// DMCEntry maps a DMC sample address (plus the note implied by DPCM
// playback) to a destination MIDI channel/note pair. DestChannel is
// stored 0-based internally even though the sidecar file's on-disk
// representation is 1-based.
type DMCEntry struct {
	SrcAddress      int
	SrcImplicitNote uint8
	DestChannel     uint8
	DestNote        uint8
}

// Tables bundles the noise and DMC remap entries loaded from (or about to
// be written to) a sidecar file, keyed for O(1) lookup during transcription.
type Tables struct {
	Noise map[int]NoiseEntry
	DMC   map[int]DMCEntry
}

// NewTables returns an empty table set.
func NewTables() *Tables {
	return &Tables{
		Noise: make(map[int]NoiseEntry),
		DMC:   make(map[int]DMCEntry),
	}
}

// NoiseNote returns an explicit remap for a noise period, if one was
// loaded from the sidecar file; ok is false otherwise and the caller
// should fall back to the built-in notetable.DefaultNoiseOverride.
func (t *Tables) NoiseNote(period int) (uint8, bool) {
	e, ok := t.Noise[period]
	if !ok {
		return 0, false
	}
	return e.DestNote, true
}

// DMCRemap returns an explicit (channel, note) remap for a DMC sample
// address, if the sidecar supplied one.
func (t *Tables) DMCRemap(address int) (DMCEntry, bool) {
	e, ok := t.DMC[address]
	return e, ok
}

// SetNoise records (or overwrites) a noise remap entry.
func (t *Tables) SetNoise(e NoiseEntry) {
	t.Noise[e.SrcPeriod] = e
}

// SetDMC records (or overwrites) a DMC remap entry.
func (t *Tables) SetDMC(e DMCEntry) {
	t.DMC[e.SrcAddress] = e
}

// ChannelPool is the DMC channel allocator: a fixed set of free slots.
// First sighting of a sample address takes a free slot; once full,
// subsequent distinct addresses fall back to the overflow channel and are
// reported as overflow so callers can log it.
type ChannelPool struct {
	bySampleAddress map[int]uint8
	used            [DMCChannelPoolSize]bool
}

// NewChannelPool returns an empty allocator.
func NewChannelPool() *ChannelPool {
	return &ChannelPool{bySampleAddress: make(map[int]uint8)}
}

// Allocate returns the MIDI channel assigned to sampleAddress, allocating
// a new free slot on first sighting. overflow is true when no free slot
// was available and the address was mapped onto DMCOverflowChannel
// instead.
func (p *ChannelPool) Allocate(sampleAddress int) (channel uint8, overflow bool) {
	if ch, ok := p.bySampleAddress[sampleAddress]; ok {
		return ch, false
	}
	for i := 0; i < DMCChannelPoolSize; i++ {
		if !p.used[i] {
			p.used[i] = true
			ch := uint8(DMCChannelPoolStart + i)
			p.bySampleAddress[sampleAddress] = ch
			return ch, false
		}
	}
	p.bySampleAddress[sampleAddress] = DMCOverflowChannel
	return DMCOverflowChannel, true
}

// Reset clears all allocations, used when a new track starts.
func (p *ChannelPool) Reset() {
	p.bySampleAddress = make(map[int]uint8)
	p.used = [DMCChannelPoolSize]bool{}
}
