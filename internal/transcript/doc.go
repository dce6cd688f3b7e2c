// Package transcript holds the per-session log of transcribed utterances.
package transcript
