// Package session drives a meeting session through provisioning, joining,
// live transcription, leaving and post-processing, and keeps the registry of
// running sessions.
package session
