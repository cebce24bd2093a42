package miditrack

import "testing"

func TestWriteDeltaVLQSingleByte(t *testing.T) {
	tr := New()
	tr.WriteNoteOn(0, 0, 60, 100)
	// delta 0 => single 0x00 byte, then 3 message bytes (status, note, vel)
	b := tr.Bytes()
	if len(b) != 4 {
		t.Fatalf("len = %d, want 4", len(b))
	}
	if b[0] != 0x00 {
		t.Errorf("first delta byte = 0x%02X, want 0x00", b[0])
	}
	if b[1] != 0x90 {
		t.Errorf("status byte = 0x%02X, want 0x90", b[1])
	}
}

func TestWriteDeltaMultiByteVLQ(t *testing.T) {
	tr := New()
	tr.WriteNoteOn(200, 0, 60, 100) // delta=200 needs 2 VLQ bytes
	b := tr.Bytes()
	if b[0]&0x80 == 0 {
		t.Error("first byte of a 2-byte VLQ must have the continuation bit set")
	}
	if b[1]&0x80 != 0 {
		t.Error("last byte of a VLQ must not have the continuation bit set")
	}
}

func TestDeltaMonotonicity(t *testing.T) {
	tr := New()
	ticks := []uint64{0, 10, 10, 50, 1200, 1200, 5000}
	for _, tick := range ticks {
		tr.WriteCC(tick, 0, 7, 100)
	}
	if tr.LastAbsoluteTick() != 5000 {
		t.Errorf("LastAbsoluteTick() = %d, want 5000", tr.LastAbsoluteTick())
	}
}

func TestNoteBalance(t *testing.T) {
	tr := New()
	tr.WriteNoteOn(0, 0, 60, 112)
	tr.WriteNoteOff(1200, 0, 60)
	tr.WriteEndOfTrack(1200)

	ons, offs := 0, 0
	b := tr.Bytes()
	for i := 0; i < len(b); {
		// skip VLQ delta
		for b[i]&0x80 != 0 {
			i++
		}
		i++
		if i >= len(b) {
			break
		}
		status := b[i]
		switch status & 0xF0 {
		case 0x90:
			if b[i+2] > 0 {
				ons++
			} else {
				offs++
			}
			i += 3
		case 0x80:
			offs++
			i += 3
		case 0xFF:
			if b[i+1] == MetaEndOfTrack {
				i += 3
			} else {
				i = len(b)
			}
		default:
			i = len(b)
		}
	}
	if ons != offs {
		t.Errorf("note-on count %d != note-off count %d", ons, offs)
	}
}

func TestWriteMetaTextRoundTrip(t *testing.T) {
	tr := New()
	tr.WriteMetaText(0, MetaText, []byte("sample 03"))
	b := tr.Bytes()
	if b[0] != 0x00 || b[1] != 0xFF || b[2] != MetaText {
		t.Fatalf("unexpected meta header bytes: %v", b[:3])
	}
	if int(b[3]) != len("sample 03") {
		t.Errorf("meta length byte = %d, want %d", b[3], len("sample 03"))
	}
	if string(b[4:]) != "sample 03" {
		t.Errorf("meta payload = %q, want %q", string(b[4:]), "sample 03")
	}
}

func TestHasEndOfTrackIdempotent(t *testing.T) {
	tr := New()
	tr.WriteEndOfTrack(0)
	firstLen := len(tr.Bytes())
	tr.WriteEndOfTrack(100)
	if len(tr.Bytes()) != firstLen {
		t.Error("WriteEndOfTrack should be a no-op once an end-of-track event exists")
	}
}

func TestPitchBendClampsRange(t *testing.T) {
	tr := New()
	tr.WritePitchBend(0, 0, -100)
	tr.WritePitchBend(10, 0, 0x5000)
	b := tr.Bytes()
	// first event: delta 0x00, status 0xE0, lsb, msb
	if b[2] != 0x00 || b[3] != 0x00 {
		t.Errorf("clamped-low wheel value should encode as 0,0 got %d,%d", b[2], b[3])
	}
}
