package transcript

import (
	"sync"
	"testing"
)

func TestLogPreservesAppendOrder(t *testing.T) {
	log := NewLog()
	texts := []string{"first", "second", "third"}
	for i, text := range texts {
		log.Append(Utterance{Text: text, Start: float64(i), End: float64(i) + 0.5})
	}

	if log.Len() != 3 {
		t.Fatalf("Expected 3 utterances, got %d", log.Len())
	}

	for i, u := range log.Utterances() {
		if u.Text != texts[i] {
			t.Errorf("Expected utterance %d to be %q, got %q", i, texts[i], u.Text)
		}
	}

	if text := log.Text(); text != "first\nsecond\nthird" {
		t.Errorf("Unexpected joined text: %q", text)
	}
}

func TestUtterancesReturnsCopy(t *testing.T) {
	log := NewLog()
	log.Append(Utterance{Text: "hello"})

	utterances := log.Utterances()
	utterances[0].Text = "changed"

	if log.Utterances()[0].Text != "hello" {
		t.Error("Expected log to be unaffected by changes to the returned slice")
	}
}

func TestMarkdown(t *testing.T) {
	log := NewLog()
	log.Append(Utterance{Text: "good morning", Start: 5.4, End: 6.9})
	log.Append(Utterance{Text: "let's start", Start: 75, End: 77})

	expected := "[00:05] good morning\n[01:15] let's start\n"
	if md := log.Markdown(); md != expected {
		t.Errorf("Expected %q, got %q", expected, md)
	}

	if NewLog().Markdown() != "" {
		t.Error("Expected empty markdown for empty log")
	}
}

func TestFormatOffset(t *testing.T) {
	tests := []struct {
		seconds  float64
		expected string
	}{
		{0, "00:00"},
		{-3, "00:00"},
		{59.9, "00:59"},
		{61, "01:01"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
	}

	for _, tt := range tests {
		if got := FormatOffset(tt.seconds); got != tt.expected {
			t.Errorf("FormatOffset(%v): expected %s, got %s", tt.seconds, tt.expected, got)
		}
	}
}

func TestConcurrentAppend(t *testing.T) {
	log := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				log.Append(Utterance{Text: "x"})
				_ = log.Len()
			}
		}()
	}
	wg.Wait()

	if log.Len() != 1000 {
		t.Errorf("Expected 1000 utterances, got %d", log.Len())
	}
}
