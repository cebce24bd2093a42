// Package waveout renders decoded PCM to a .wav file, used by the
// sample-analysis debug path to let a user listen to exactly the window
// the FFT pitch estimate was taken from. It is not part of the MIDI
// transcription pipeline itself.
package waveout

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WritePCM16 writes a mono 16-bit PCM buffer to path at sampleRate,
// matching the go-audio/wav encoder usage other NES APU tooling in this
// ecosystem uses to dump channel audio for inspection.
func WritePCM16(path string, sampleRate int, pcm []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("waveout: create %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]int, len(pcm)),
	}
	for i, s := range pcm {
		buf.Data[i] = int(s)
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("waveout: write %s: %w", path, err)
	}
	return enc.Close()
}
