package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Frame is a fixed-length block of mono 16-bit PCM samples. Frames are not
// modified after they leave the source.
type Frame struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playback length of the frame
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// FrameSize returns the number of samples in a frame of frameDurationMs
func FrameSize(sampleRate, frameDurationMs int) int {
	return sampleRate * frameDurationMs / 1000
}

// DecodePCM16 converts little-endian 16-bit PCM bytes into samples
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// EncodePCM16 converts samples into little-endian 16-bit PCM bytes
func EncodePCM16(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}
	return data
}

// ToFloat32 normalises samples into [-1, 1)
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, sample := range samples {
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// EncodeFloat32 converts samples into little-endian normalised float32 bytes
func EncodeFloat32(samples []int16) []byte {
	data := make([]byte, len(samples)*4)
	for i, sample := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(float32(sample)/32768.0))
	}
	return data
}
