// Package vad turns a continuous PCM stream into timestamped speech segments.
// Frames are re-sliced into fixed analysis chunks, each chunk is scored by a
// pluggable classifier, and a smoothed speech/silence decision drives the
// Idle/Accumulating segmenter.
package vad
