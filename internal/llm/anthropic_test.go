package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestComplete(t *testing.T) {
	var received anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("Expected x-api-key header, got %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("Expected anthropic-version %s, got %q", anthropicVersion, r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"Hello "},{"type":"tool_use"},{"type":"text","text":"there"}]}`))
	}))
	defer server.Close()

	client, err := NewAnthropicClient(Config{Endpoint: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	text, err := client.Complete(context.Background(), "be brief", "say hello")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "Hello there" {
		t.Errorf("Expected 'Hello there', got %q", text)
	}

	if received.System != "be brief" {
		t.Errorf("Expected system prompt to be sent, got %q", received.System)
	}
	if len(received.Messages) != 1 || received.Messages[0].Role != "user" || received.Messages[0].Content != "say hello" {
		t.Errorf("Unexpected messages: %+v", received.Messages)
	}
	if received.Model != "claude-haiku-4-5" {
		t.Errorf("Expected default model, got %q", received.Model)
	}
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		errText string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, "HTTP 500"},
		{"invalid json", http.StatusOK, `not json`, "failed to parse"},
		{"no text blocks", http.StatusOK, `{"content":[]}`, "empty response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, _ := NewAnthropicClient(Config{Endpoint: server.URL, APIKey: "k"})
			_, err := client.Complete(context.Background(), "", "hi")
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("Expected error containing %q, got %v", tt.errText, err)
			}
		})
	}
}

func TestNewAnthropicClientRequiresKey(t *testing.T) {
	if _, err := NewAnthropicClient(Config{}); err == nil {
		t.Error("Expected error for missing API key")
	}
}
