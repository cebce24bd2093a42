// Package trace is a line-oriented JSON driver that stands in for a real
// chip emulator: it replays a recorded sequence of register writes and
// voice events into a Transcriber. This is how the engine is exercised
// end-to-end without linking an NES/SPC emulator into this repo.
package trace

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// Event is one line of a trace file: a single call into the observer
// interface below. Only the fields relevant to Op are populated; the rest
// are left at their zero value.
type Event struct {
	Op     string  `json:"op"`
	Hz     float64 `json:"hz,omitempty"`
	Voice  uint8   `json:"voice,omitempty"`
	Time   uint64  `json:"time,omitempty"`
	Reg    uint8   `json:"reg,omitempty"`
	Val    uint8   `json:"val,omitempty"`
	RAMHex string  `json:"ram_hex,omitempty"` // full 65536-byte snapshot, for op "load_ram"
}

// Emulator is the subset of transcribe.Transcriber's API a trace can
// drive. It is defined here, rather than imported from pkg/transcribe, so
// this package has no dependency on the concrete façade type.
type Emulator interface {
	ObserveClockRate(hz float64)
	ObserveTime(cycles uint64)
	LoadRAM(data []byte) error
	StartTrack() error
	ObserveRegister(voice, reg, val uint8)
	ObserveNoteStart(voice uint8, time uint64)
	ObserveNoteEnd(voice uint8, time uint64)
	ObservePitch(voice uint8, time uint64)
	ObserveVolume(voice uint8, time uint64)
}

// ReadEvents parses a newline-delimited JSON trace, one Event per line.
// Blank lines are skipped.
func ReadEvents(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("trace: line %d: %w", lineNo, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	return events, nil
}

// Play dispatches each event in order to emu.
func Play(events []Event, emu Emulator) error {
	for i, ev := range events {
		switch ev.Op {
		case "clock_rate":
			emu.ObserveClockRate(ev.Hz)
		case "time":
			emu.ObserveTime(ev.Time)
		case "load_ram":
			data, err := hex.DecodeString(ev.RAMHex)
			if err != nil {
				return fmt.Errorf("trace: event %d: bad ram_hex: %w", i, err)
			}
			if err := emu.LoadRAM(data); err != nil {
				return fmt.Errorf("trace: event %d: %w", i, err)
			}
		case "start_track":
			if err := emu.StartTrack(); err != nil {
				return fmt.Errorf("trace: event %d: %w", i, err)
			}
		case "register":
			emu.ObserveRegister(ev.Voice, ev.Reg, ev.Val)
		case "note_start":
			emu.ObserveNoteStart(ev.Voice, ev.Time)
		case "note_end":
			emu.ObserveNoteEnd(ev.Voice, ev.Time)
		case "pitch":
			emu.ObservePitch(ev.Voice, ev.Time)
		case "volume":
			emu.ObserveVolume(ev.Voice, ev.Time)
		default:
			return fmt.Errorf("trace: event %d: unknown op %q", i, ev.Op)
		}
	}
	return nil
}
