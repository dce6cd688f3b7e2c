// Package llm provides the language model client used for intent
// classification, assistant replies and meeting summaries.
package llm
