package audio

import (
	"math"
	"testing"
)

func sineSamples(sampleRate int, seconds, frequency float64) []int16 {
	numSamples := int(float64(sampleRate) * seconds)
	samples := make([]int16, numSamples)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	samples := sineSamples(16000, 0.1, 440)

	wavData, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if string(wavData[0:4]) != "RIFF" || string(wavData[8:12]) != "WAVE" {
		t.Errorf("Expected RIFF/WAVE header, got %q/%q", wavData[0:4], wavData[8:12])
	}
}

func TestDecodeWAV(t *testing.T) {
	original := sineSamples(16000, 0.25, 220)

	wavData, err := EncodeWAV(original, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, info, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if info.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", info.SampleRate)
	}
	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}
	if math.Abs(info.Duration-0.25) > 0.001 {
		t.Errorf("Expected duration 0.25s, got %f", info.Duration)
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Fatalf("Sample %d mismatch: expected %d, got %d", i, original[i], decoded[i])
		}
	}
}

func TestWAVErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
	}{
		{
			name: "empty samples",
			fn: func() error {
				_, err := EncodeWAV(nil, 16000)
				return err
			},
		},
		{
			name: "invalid sample rate",
			fn: func() error {
				_, err := EncodeWAV([]int16{1, 2, 3}, 0)
				return err
			},
		},
		{
			name: "short data",
			fn: func() error {
				_, _, err := DecodeWAV([]byte("RIFF"))
				return err
			},
		},
		{
			name: "corrupted header",
			fn: func() error {
				data, _ := EncodeWAV([]int16{1, 2, 3}, 16000)
				copy(data[0:4], "XXXX")
				_, _, err := DecodeWAV(data)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err == nil {
				t.Errorf("Expected error but got none")
			}
		})
	}
}
