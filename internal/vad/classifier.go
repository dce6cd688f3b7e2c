package vad

import (
	"fmt"
	"math"
)

// Classifier scores one analysis chunk of normalised samples with a speech
// probability in [0, 1]
type Classifier interface {
	Probability(chunk []float32) (float32, error)
}

// ClassifierFunc adapts a function to the Classifier interface
type ClassifierFunc func(chunk []float32) (float32, error)

// Probability calls f(chunk)
func (f ClassifierFunc) Probability(chunk []float32) (float32, error) {
	return f(chunk)
}

// EnergyClassifier maps RMS energy linearly onto a probability. It is the
// built-in classifier when no model-backed classifier is configured.
type EnergyClassifier struct {
	// NoiseFloor is the RMS at or below which the probability is 0
	NoiseFloor float64
	// SpeechLevel is the RMS at or above which the probability is 1
	SpeechLevel float64
}

// NewEnergyClassifier returns a classifier tuned for normalised 16-bit speech
func NewEnergyClassifier() *EnergyClassifier {
	return &EnergyClassifier{
		NoiseFloor:  0.005,
		SpeechLevel: 0.05,
	}
}

// Probability returns the clamped, normalised RMS energy of chunk
func (e *EnergyClassifier) Probability(chunk []float32) (float32, error) {
	if len(chunk) == 0 {
		return 0, fmt.Errorf("empty chunk")
	}
	if e.SpeechLevel <= e.NoiseFloor {
		return 0, fmt.Errorf("speech level (%f) must be above noise floor (%f)", e.SpeechLevel, e.NoiseFloor)
	}

	var energy float64
	for _, sample := range chunk {
		energy += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(energy / float64(len(chunk)))

	probability := (rms - e.NoiseFloor) / (e.SpeechLevel - e.NoiseFloor)
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}

	return float32(probability), nil
}
