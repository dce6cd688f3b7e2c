// Package audio captures raw PCM from the meeting's audio device.
// It provisions per-session virtual devices, slices the capture stream into
// fixed-size frames, and hands them to the segmentation loop through a bounded queue.
package audio
