// Package postprocess assembles a finished session's transcript, requests a
// summary and title, and delivers the results to the configured backends.
package postprocess
