// Package app wires configuration into the shared collaborators and builds
// one fully connected session controller per meeting.
package app
