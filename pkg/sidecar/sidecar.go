// Package sidecar parses and serializes the line-oriented remapping file
// that travels alongside an .nsf or .spc input (extension convention:
// .n2m / .spm). Malformed lines are collected as anomalies rather than
// failing the whole parse.
package sidecar

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chiptune-tools/chiptune2midi/pkg/remap"
)

// SampleEntry is a "sample" line's parsed content: either a melodic
// (patch, transpose) pair or a percussion note, mutually exclusive.
type SampleEntry struct {
	SampleID   uint8
	Percussion bool
	Patch      uint8
	Transpose  int
	Note       uint8
}

// Document is the full in-memory content of a sidecar file.
type Document struct {
	DMC     []remap.DMCEntry
	Noise   []remap.NoiseEntry
	Samples []SampleEntry
}

// Parse reads a sidecar file, returning the entries it could understand
// plus one human-readable anomaly string per line it could not. Unknown
// leading tokens are reported and skipped.
func Parse(r io.Reader) (*Document, []string) {
	doc := &Document{}
	var anomalies []string

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "dmc":
			entry, err := parseDMCLine(fields)
			if err != nil {
				anomalies = append(anomalies, fmt.Sprintf("line %d: %v", lineNo, err))
				continue
			}
			doc.DMC = append(doc.DMC, entry)

		case "noise":
			entry, err := parseNoiseLine(fields)
			if err != nil {
				anomalies = append(anomalies, fmt.Sprintf("line %d: %v", lineNo, err))
				continue
			}
			doc.Noise = append(doc.Noise, entry)

		case "sample":
			entry, err := parseSampleLine(fields)
			if err != nil {
				anomalies = append(anomalies, fmt.Sprintf("line %d: %v", lineNo, err))
				continue
			}
			doc.Samples = append(doc.Samples, entry)

		default:
			anomalies = append(anomalies, fmt.Sprintf("line %d: unknown entry %q", lineNo, fields[0]))
		}
	}

	return doc, anomalies
}

func parseDMCLine(fields []string) (remap.DMCEntry, error) {
	if len(fields) != 5 {
		return remap.DMCEntry{}, fmt.Errorf("dmc entry wants 4 fields, got %d", len(fields)-1)
	}
	addr, err := strconv.ParseInt(fields[1], 16, 32)
	if err != nil {
		return remap.DMCEntry{}, fmt.Errorf("bad hex address %q: %w", fields[1], err)
	}
	srcNote, err := strconv.Atoi(fields[2])
	if err != nil || srcNote < 0 || srcNote > 127 {
		return remap.DMCEntry{}, fmt.Errorf("bad source note %q", fields[2])
	}
	destCh, err := strconv.Atoi(fields[3])
	if err != nil || destCh < 1 || destCh > 16 {
		return remap.DMCEntry{}, fmt.Errorf("bad 1-based dest channel %q", fields[3])
	}
	destNote, err := strconv.Atoi(fields[4])
	if err != nil || destNote < 0 || destNote > 127 {
		return remap.DMCEntry{}, fmt.Errorf("bad dest note %q", fields[4])
	}
	return remap.DMCEntry{
		SrcAddress:      int(addr),
		SrcImplicitNote: uint8(srcNote),
		DestChannel:     uint8(destCh - 1),
		DestNote:        uint8(destNote),
	}, nil
}

func parseNoiseLine(fields []string) (remap.NoiseEntry, error) {
	if len(fields) != 3 {
		return remap.NoiseEntry{}, fmt.Errorf("noise entry wants 2 fields, got %d", len(fields)-1)
	}
	period, err := strconv.ParseInt(fields[1], 16, 32)
	if err != nil {
		return remap.NoiseEntry{}, fmt.Errorf("bad hex period %q: %w", fields[1], err)
	}
	note, err := strconv.Atoi(fields[2])
	if err != nil || note < 0 || note > 127 {
		return remap.NoiseEntry{}, fmt.Errorf("bad dest note %q", fields[2])
	}
	return remap.NoiseEntry{SrcPeriod: int(period), DestNote: uint8(note)}, nil
}

func parseSampleLine(fields []string) (SampleEntry, error) {
	if len(fields) < 3 {
		return SampleEntry{}, fmt.Errorf("sample entry too short")
	}
	id, err := strconv.ParseInt(fields[1], 16, 32)
	if err != nil {
		return SampleEntry{}, fmt.Errorf("bad hex sample id %q: %w", fields[1], err)
	}
	switch fields[2] {
	case "melodic":
		if len(fields) != 5 {
			return SampleEntry{}, fmt.Errorf("melodic sample entry wants 2 more fields, got %d", len(fields)-3)
		}
		patch, err := strconv.Atoi(fields[3])
		if err != nil || patch < 0 || patch > 127 {
			return SampleEntry{}, fmt.Errorf("bad patch %q", fields[3])
		}
		transpose, err := strconv.Atoi(fields[4])
		if err != nil {
			return SampleEntry{}, fmt.Errorf("bad transpose %q", fields[4])
		}
		return SampleEntry{SampleID: uint8(id), Patch: uint8(patch), Transpose: transpose}, nil
	case "percussion":
		if len(fields) != 4 {
			return SampleEntry{}, fmt.Errorf("percussion sample entry wants 1 more field, got %d", len(fields)-3)
		}
		note, err := strconv.Atoi(fields[3])
		if err != nil || note < 0 || note > 127 {
			return SampleEntry{}, fmt.Errorf("bad percussion note %q", fields[3])
		}
		return SampleEntry{SampleID: uint8(id), Percussion: true, Note: uint8(note)}, nil
	default:
		return SampleEntry{}, fmt.Errorf("unknown sample kind %q", fields[2])
	}
}

// Write serializes doc back to its text form, reflecting the current
// state of the tables so a user can edit and re-run.
func Write(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	for _, e := range doc.DMC {
		if _, err := fmt.Fprintf(bw, "dmc %02x %d %d %d\n", e.SrcAddress, e.SrcImplicitNote, e.DestChannel+1, e.DestNote); err != nil {
			return err
		}
	}
	for _, e := range doc.Noise {
		if _, err := fmt.Fprintf(bw, "noise %02x %d\n", e.SrcPeriod, e.DestNote); err != nil {
			return err
		}
	}
	for _, e := range doc.Samples {
		var err error
		if e.Percussion {
			_, err = fmt.Fprintf(bw, "sample %02x percussion %d\n", e.SampleID, e.Note)
		} else {
			_, err = fmt.Fprintf(bw, "sample %02x melodic %d %d\n", e.SampleID, e.Patch, e.Transpose)
		}
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}
