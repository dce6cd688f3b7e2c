// Package transcription implements the streaming client for the transcription
// service. Each speech segment is sent as one binary websocket message and
// answered with one JSON text message. A failed call is retried once on a new
// connection before yielding empty text, and after a failed dial the client
// waits a fixed backoff before dialling again.
package transcription
