// Package timebase converts emulator-native time values into absolute MIDI
// ticks using a fixed frames/sec x ticks/frame division, matching the SMPTE
// time code a Type-1 SMF header advertises.
package timebase

// NESFramesPerSecond and NESTicksPerFrame are the SMPTE division used for
// NES APU tracks.
const (
	NESFramesPerSecond = 30
	NESTicksPerFrame   = 80
)

// SPCFramesPerSecond and SPCTicksPerFrame mirror the NES values; SPC tracks
// use the same SMF division but a different cycles-to-ticks calibration.
const (
	SPCFramesPerSecond = 30
	SPCTicksPerFrame   = 80

	// SPCSampleTickRatio converts a DSP sample index directly to MIDI
	// ticks, calibrated against the 30fps/80-tick SMPTE division.
	SPCSampleTickRatio = 3.590664272890485
)

// NESClockRateNTSC is the NTSC 2A03 CPU clock in Hz, the default clock
// rate for NSF tracks. NESClockRatePAL is its PAL counterpart, selected
// when an NSF header declares itself PAL-only.
const (
	NESClockRateNTSC = 1789772.0
	NESClockRatePAL  = 1662607.0
)

// SPCDSPSampleRate is the fixed SNES DSP output sample rate in Hz.
const SPCDSPSampleRate = 32000.0

// TimeBase converts a track's native time values (CPU cycles for NES,
// DSP sample index for SPC) into absolute MIDI ticks. Conversion is
// monotonically non-decreasing for non-decreasing input, which is what
// lets downstream delta-time encoding stay valid.
type TimeBase struct {
	framesPerSecond int
	ticksPerFrame   int
	clockRate       float64 // cycles (or samples) per second
	calibration     float64 // extra per-format scale factor, 1.0 for NES

	// direct selects the SPC path: a bare sample-index * SPCSampleTickRatio
	// multiply, with no ticksPerFrame/framesPerSecond/clockRate term at
	// all, instead of the generic
	// cycles*ticksPerFrame*framesPerSecond/clockRate*calibration formula
	// NES tracks use.
	direct bool
}

// NewNES builds a TimeBase for an NES APU track at the given CPU clock
// rate, scaling cycles straight to ticks with no extra fudge factor; the
// SMF division header is the only tempo contract.
func NewNES(clockRate float64) *TimeBase {
	return &TimeBase{
		framesPerSecond: NESFramesPerSecond,
		ticksPerFrame:   NESTicksPerFrame,
		clockRate:       clockRate,
		calibration:     1.0,
	}
}

// NewSPC builds a TimeBase for an SPC track. The DSP sample rate is fixed
// and only carried here for Division()/ClockRate() bookkeeping; tick
// conversion itself is the bare sample-index multiply, not scaled by the
// DSP rate.
func NewSPC() *TimeBase {
	return &TimeBase{
		framesPerSecond: SPCFramesPerSecond,
		ticksPerFrame:   SPCTicksPerFrame,
		clockRate:       SPCDSPSampleRate,
		calibration:     SPCSampleTickRatio,
		direct:          true,
	}
}

// AbsoluteTick converts a cumulative cycle (or sample) count into an
// absolute MIDI tick. NES tracks use
// floor(cycles * ticks_per_frame * frames_per_second / clock_rate * calibration);
// SPC tracks use floor(samples * calibration), with no
// ticks_per_frame/frames_per_second/clock_rate term.
func (t *TimeBase) AbsoluteTick(cycles uint64) uint64 {
	var ticks float64
	if t.direct {
		ticks = float64(cycles) * t.calibration
	} else {
		ticks = float64(cycles) * float64(t.ticksPerFrame) * float64(t.framesPerSecond) / t.clockRate * t.calibration
	}
	if ticks < 0 {
		return 0
	}
	return uint64(ticks)
}

// Division returns the SMF header's SMPTE-style division word: high bit
// set, (256 - frames_per_second) masked into the high byte,
// ticks_per_frame in the low byte.
func (t *TimeBase) Division() uint16 {
	return 0x8000 | uint16((0x80-t.framesPerSecond)&0x7F)<<8 | uint16(t.ticksPerFrame&0xFF)
}

// SetClockRate updates the clock rate used for tick conversion, e.g. after
// an emulator reports a new oscillator clock.
func (t *TimeBase) SetClockRate(clockRate float64) {
	t.clockRate = clockRate
}

// ClockRate returns the currently configured clock rate.
func (t *TimeBase) ClockRate() float64 {
	return t.clockRate
}
