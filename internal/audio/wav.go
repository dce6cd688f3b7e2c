package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const wavHeaderSize = 44

// wavHeader is the canonical 44-byte RIFF header for mono 16-bit PCM
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WAVInfo describes a decoded WAV payload
type WAVInfo struct {
	SampleRate int     `json:"sample_rate"`
	NumSamples int     `json:"num_samples"`
	Duration   float64 `json:"duration_seconds"`
}

// EncodeWAV wraps mono PCM-16 samples in a WAV container
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(EncodePCM16(samples))

	return buf.Bytes(), nil
}

// DecodeWAV extracts mono PCM-16 samples from a WAV container
func DecodeWAV(data []byte) ([]int16, *WAVInfo, error) {
	if len(data) < wavHeaderSize {
		return nil, nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return nil, nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return nil, nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(header.Subchunk2ID[:]) != "data":
		return nil, nil, fmt.Errorf("invalid WAV file: missing data chunk")
	case header.AudioFormat != 1 || header.BitsPerSample != 16:
		return nil, nil, fmt.Errorf("unsupported WAV encoding: format %d, %d bits", header.AudioFormat, header.BitsPerSample)
	case header.NumChannels != 1:
		return nil, nil, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	case header.SampleRate == 0:
		return nil, nil, fmt.Errorf("invalid sample rate: 0")
	}

	payload := data[wavHeaderSize:]
	if int(header.Subchunk2Size) < len(payload) {
		payload = payload[:header.Subchunk2Size]
	}

	samples, err := DecodePCM16(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read audio samples: %w", err)
	}

	info := &WAVInfo{
		SampleRate: int(header.SampleRate),
		NumSamples: len(samples),
		Duration:   float64(len(samples)) / float64(header.SampleRate),
	}
	return samples, info, nil
}
