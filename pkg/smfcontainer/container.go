// Package smfcontainer writes a Type-1 Standard MIDI File from a set of
// per-voice track byte buffers. The header is built by hand with
// encoding/binary; the layout is small and fixed, and the SMPTE division
// word's masked bit pattern is part of the output contract.
package smfcontainer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// TrackBytes is the minimal shape this package needs from a track: its
// raw payload and whether it already carries an end-of-track meta event.
type TrackBytes interface {
	Bytes() []byte
	HasEndOfTrack() bool
}

// Write emits a Type-1 SMF to w: "MThd" header (format 1, len(tracks)
// tracks, the given division), followed by one "MTrk" chunk per track in
// order.
func Write(w io.Writer, division uint16, tracks []TrackBytes) error {
	if len(tracks) == 0 {
		return fmt.Errorf("smfcontainer: cannot write an SMF with zero tracks")
	}
	if len(tracks) > 0xFFFF {
		return fmt.Errorf("smfcontainer: %d tracks exceeds the 16-bit ntrks field", len(tracks))
	}

	if _, err := w.Write([]byte("MThd")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(6)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint16(1)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(tracks))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, division); err != nil {
		return err
	}

	for i, tr := range tracks {
		payload := tr.Bytes()
		if !tr.HasEndOfTrack() {
			// Every MTrk must close with FF 2F 00, even when the caller
			// skipped WriteEndOfTrack.
			payload = append(append([]byte{}, payload...), 0x00, 0xFF, 0x2F, 0x00)
		}
		if _, err := w.Write([]byte("MTrk")); err != nil {
			return fmt.Errorf("smfcontainer: writing MTrk tag for track %d: %w", i, err)
		}
		if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
			return fmt.Errorf("smfcontainer: writing MTrk length for track %d: %w", i, err)
		}
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("smfcontainer: writing MTrk payload for track %d: %w", i, err)
		}
	}
	return nil
}

// Bytes renders the SMF into an in-memory buffer.
func Bytes(division uint16, tracks []TrackBytes) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, division, tracks); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile streams the container to path. I/O failures are surfaced to
// the caller with the path attached.
func WriteFile(path string, division uint16, tracks []TrackBytes) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("smfcontainer: creating %s: %w", path, err)
	}

	if err := Write(f, division, tracks); err != nil {
		f.Close()
		return fmt.Errorf("smfcontainer: writing %s: %w", path, err)
	}
	return f.Close()
}
