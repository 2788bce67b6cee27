package stt

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// sampleRateHz and bitDepth match the PCM contract enforced at connection
// time by the gateway (§4.3): 16kHz, mono, signed 16-bit little-endian.
const (
	sampleRateHz = 16000
	bitDepth     = 16
	numChannels  = 1
)

// writeTempWAV encodes raw little-endian PCM16 mono samples as a WAV file
// at a temp path and returns that path. The caller must remove it.
func writeTempWAV(pcm []byte) (path string, err error) {
	f, err := os.CreateTemp("", "realtime-stt-*.wav")
	if err != nil {
		return "", fmt.Errorf("stt: create temp wav: %w", err)
	}
	path = f.Name()
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRateHz, bitDepth, numChannels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: numChannels, SampleRate: sampleRateHz},
		Data:   pcm16ToInt(pcm),
	}
	if err := enc.Write(buf); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("stt: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("stt: close wav encoder: %w", err)
	}
	return path, nil
}

// pcm16ToInt decodes little-endian signed-16 PCM bytes into int samples.
func pcm16ToInt(pcm []byte) []int {
	n := len(pcm) / 2
	out := make([]int, n)
	for i := 0; i < n; i++ {
		lo := uint16(pcm[2*i])
		hi := uint16(pcm[2*i+1])
		v := int16(lo | hi<<8)
		out[i] = int(v)
	}
	return out
}
