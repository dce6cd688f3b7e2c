package vad

import (
	"fmt"
	"sync"
	"time"

	"github.com/MikhailOstrov/MaryRose-sub000/internal/audio"
	"github.com/MikhailOstrov/MaryRose-sub000/internal/metrics"
)

// State represents the segmenter state
type State int

const (
	// StateIdle means no speech is being accumulated
	StateIdle State = iota
	// StateAccumulating means a speech buffer is active
	StateAccumulating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	default:
		return "unknown"
	}
}

// Seal causes
const (
	CauseSilence     = "silence"
	CauseMaxDuration = "max_duration"
	CauseFlush       = "flush"
)

// Config contains segmentation parameters
type Config struct {
	SampleRate        int
	ChunkSize         int     // samples per analysis chunk
	Threshold         float32 // smoothed probability at or above which a chunk is speech
	SmoothingWindow   int     // chunks in the moving average
	SilenceDuration   time.Duration
	MaxSpeechDuration time.Duration
	MinSpeechDuration time.Duration
}

// DefaultConfig returns the standard segmentation parameters for sampleRate
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:        sampleRate,
		ChunkSize:         512,
		Threshold:         0.3,
		SmoothingWindow:   3,
		SilenceDuration:   600 * time.Millisecond,
		MaxSpeechDuration: 30 * time.Second,
		MinSpeechDuration: 500 * time.Millisecond,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", c.Threshold)
	}
	if c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing window must be at least 1, got %d", c.SmoothingWindow)
	}
	if c.SilenceDuration <= 0 {
		return fmt.Errorf("silence duration must be positive, got %v", c.SilenceDuration)
	}
	if durationToSamples(c.MaxSpeechDuration, c.SampleRate) < 1 {
		return fmt.Errorf("max speech duration must cover at least one sample, got %v", c.MaxSpeechDuration)
	}
	if c.MaxSpeechDuration <= c.MinSpeechDuration {
		return fmt.Errorf("max speech duration (%v) must be greater than min speech duration (%v)",
			c.MaxSpeechDuration, c.MinSpeechDuration)
	}
	return nil
}

// Segment is a sealed span of speech. Start and End are seconds since the
// segmenter began consuming audio; End-Start equals the sample duration.
type Segment struct {
	Samples    []int16 `json:"-"`
	SampleRate int     `json:"sample_rate"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Cause      string  `json:"cause"`
}

// Duration returns the segment length in seconds
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Stats represents segmenter statistics
type Stats struct {
	State             string  `json:"state"`
	ChunksProcessed   uint64  `json:"chunks_processed"`
	SpeechChunks      uint64  `json:"speech_chunks"`
	SegmentsSealed    uint64  `json:"segments_sealed"`
	SegmentsDiscarded uint64  `json:"segments_discarded"`
	ForcedCuts        uint64  `json:"forced_cuts"`
	SpeechSeconds     float64 `json:"speech_seconds"`
	OffsetSeconds     float64 `json:"offset_seconds"`
	ClassifierErrors  uint64  `json:"classifier_errors"`
}

// Segmenter groups PCM into speech segments. Push and Flush must be called
// from a single goroutine; GetStats may be called concurrently.
type Segmenter struct {
	config     Config
	classifier Classifier
	metrics    *metrics.Metrics

	// leftover holds samples that do not yet fill an analysis chunk
	leftover []int16

	// moving average over the last SmoothingWindow raw probabilities
	history    []float32
	historyPos int
	historyLen int

	state  State
	buffer []int16 // committed speech
	tail   []int16 // silence after the last speech chunk, committed only if speech resumes
	start  float64

	silenceSamples   int
	maxSpeechSamples int
	minSpeechSamples int
	silenceLimit     int

	consumed int64 // samples classified so far

	stats Stats
	mu    sync.RWMutex
}

// NewSegmenter creates a segmenter. m may be nil.
func NewSegmenter(config Config, classifier Classifier, m *metrics.Metrics) (*Segmenter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}

	return &Segmenter{
		config:           config,
		classifier:       classifier,
		metrics:          m,
		history:          make([]float32, config.SmoothingWindow),
		state:            StateIdle,
		maxSpeechSamples: durationToSamples(config.MaxSpeechDuration, config.SampleRate),
		minSpeechSamples: durationToSamples(config.MinSpeechDuration, config.SampleRate),
		silenceLimit:     durationToSamples(config.SilenceDuration, config.SampleRate),
	}, nil
}

func durationToSamples(d time.Duration, sampleRate int) int {
	return int(d.Seconds() * float64(sampleRate))
}

// Push appends samples and returns every segment sealed while classifying the
// complete analysis chunks now available. A classifier error marks that chunk
// as silence and is returned after the remaining chunks are processed.
func (s *Segmenter) Push(samples []int16) ([]Segment, error) {
	s.leftover = append(s.leftover, samples...)

	var sealed []Segment
	var firstErr error
	size := s.config.ChunkSize

	offset := 0
	for len(s.leftover)-offset >= size {
		chunk := s.leftover[offset : offset+size]
		offset += size

		probability, err := s.classifier.Probability(audio.ToFloat32(chunk))
		if err != nil {
			s.mu.Lock()
			s.stats.ClassifierErrors++
			s.mu.Unlock()
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to classify chunk at %.3fs: %w", s.offsetOf(s.consumed), err)
			}
			probability = 0
		}

		sealed = append(sealed, s.processChunk(chunk, probability)...)
	}

	// compact so the backing array does not grow without bound
	remaining := len(s.leftover) - offset
	copy(s.leftover, s.leftover[offset:])
	s.leftover = s.leftover[:remaining]

	return sealed, firstErr
}

// processChunk advances the state machine by one analysis chunk
func (s *Segmenter) processChunk(chunk []int16, probability float32) []Segment {
	smoothed := s.smooth(probability)
	speech := smoothed >= s.config.Threshold
	chunkStart := s.offsetOf(s.consumed)
	s.consumed += int64(len(chunk))

	s.mu.Lock()
	s.stats.ChunksProcessed++
	if speech {
		s.stats.SpeechChunks++
	}
	s.stats.OffsetSeconds = s.offsetOf(s.consumed)
	s.mu.Unlock()
	s.metrics.RecordVADChunk(speech)

	switch s.state {
	case StateIdle:
		if speech {
			s.setState(StateAccumulating)
			s.start = chunkStart
			s.buffer = append(s.buffer[:0], chunk...)
			s.tail = s.tail[:0]
			s.silenceSamples = 0
		}
		return nil

	case StateAccumulating:
		if speech {
			s.buffer = append(s.buffer, s.tail...)
			s.tail = s.tail[:0]
			s.buffer = append(s.buffer, chunk...)
			s.silenceSamples = 0

			// forced cut at exactly MaxSpeechDuration; the remainder opens the
			// next segment, which starts where this one ends
			var sealed []Segment
			for len(s.buffer) >= s.maxSpeechSamples {
				if segment := s.sealPrefix(s.maxSpeechSamples, CauseMaxDuration); segment != nil {
					sealed = append(sealed, *segment)
				}
			}
			return sealed
		}

		s.tail = append(s.tail, chunk...)
		s.silenceSamples += len(chunk)
		if s.silenceSamples >= s.silenceLimit {
			segment := s.seal(CauseSilence)
			s.setState(StateIdle)
			if segment != nil {
				return []Segment{*segment}
			}
		}
		return nil
	}

	return nil
}

// smooth records probability and returns the moving average over the
// available history
func (s *Segmenter) smooth(probability float32) float32 {
	s.history[s.historyPos] = probability
	s.historyPos = (s.historyPos + 1) % len(s.history)
	if s.historyLen < len(s.history) {
		s.historyLen++
	}

	var sum float32
	for i := 0; i < s.historyLen; i++ {
		sum += s.history[i]
	}
	return sum / float32(s.historyLen)
}

// seal closes the whole active buffer
func (s *Segmenter) seal(cause string) *Segment {
	return s.sealPrefix(len(s.buffer), cause)
}

// sealPrefix closes the first n buffered samples. The tail and silence
// counter are reset, the remaining samples stay buffered and the next
// segment start moves to the end of this one. Segments shorter than
// MinSpeechDuration are dropped and nil is returned.
func (s *Segmenter) sealPrefix(n int, cause string) *Segment {
	start := s.start
	end := start + float64(n)/float64(s.config.SampleRate)

	s.start = end
	s.tail = s.tail[:0]
	s.silenceSamples = 0

	var segment *Segment
	switch {
	case n == 0:
	case n < s.minSpeechSamples:
		s.mu.Lock()
		s.stats.SegmentsDiscarded++
		s.mu.Unlock()
		s.metrics.RecordSegmentDiscarded()
	default:
		segment = &Segment{
			Samples:    make([]int16, n),
			SampleRate: s.config.SampleRate,
			Start:      start,
			End:        end,
			Cause:      cause,
		}
		copy(segment.Samples, s.buffer[:n])

		s.mu.Lock()
		s.stats.SegmentsSealed++
		s.stats.SpeechSeconds += segment.Duration()
		if cause == CauseMaxDuration {
			s.stats.ForcedCuts++
		}
		s.mu.Unlock()
		s.metrics.RecordSegmentSealed(cause, segment.Duration())
	}

	remaining := copy(s.buffer, s.buffer[n:])
	s.buffer = s.buffer[:remaining]
	return segment
}

// Flush seals any accumulated speech immediately, regardless of the silence
// accumulated so far, and returns the segmenter to Idle. Samples that do not
// fill an analysis chunk stay buffered.
func (s *Segmenter) Flush() *Segment {
	if s.state != StateAccumulating {
		return nil
	}

	segment := s.seal(CauseFlush)
	s.setState(StateIdle)
	return segment
}

// State returns the current segmenter state
func (s *Segmenter) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Segmenter) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Offset returns the position of the next analysis chunk in seconds
func (s *Segmenter) Offset() float64 {
	return s.offsetOf(s.consumed)
}

func (s *Segmenter) offsetOf(samples int64) float64 {
	return float64(samples) / float64(s.config.SampleRate)
}

// GetStats returns current segmenter statistics
func (s *Segmenter) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.State = s.state.String()
	return stats
}
