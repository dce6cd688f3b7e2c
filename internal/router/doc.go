// Package router inspects transcribed utterances for wake-word commands and
// dispatches them: stop phrases end the session, everything else is classified
// into a knowledge store, knowledge query or free-form reply whose answer is
// posted to the meeting chat.
package router
