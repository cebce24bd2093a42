package waveout

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWritePCM16ProducesNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debug.wav")

	pcm := make([]int16, 256)
	for i := range pcm {
		pcm[i] = int16(i - 128)
	}

	if err := WritePCM16(path, 32000, pcm); err != nil {
		t.Fatalf("WritePCM16() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat(%s) error = %v", path, err)
	}
	if info.Size() == 0 {
		t.Error("expected a non-empty .wav file")
	}
}
