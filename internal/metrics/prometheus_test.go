package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	m.RecordSessionStarted()
	m.RecordSessionFinished("terminated", 10)
	m.RecordFrameCaptured(true)
	m.RecordSegmentSealed("silence", 1.2)
	m.RecordTranscription(false, 0.3)
	m.RecordCommand("reply")
	m.RecordHTTPRequest("GET", "/health", "200", 0.01)
}

func TestRecordMethods(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordSessionStarted()
	m.RecordSessionStarted()
	m.RecordSessionFinished("terminated", 60)

	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Errorf("Expected 1 active session, got %f", got)
	}
	if got := testutil.ToFloat64(m.SessionsFinished.WithLabelValues("terminated")); got != 1 {
		t.Errorf("Expected 1 terminated session, got %f", got)
	}

	m.RecordFrameCaptured(false)
	m.RecordFrameCaptured(true)
	if got := testutil.ToFloat64(m.FramesCaptured); got != 2 {
		t.Errorf("Expected 2 frames captured, got %f", got)
	}
	if got := testutil.ToFloat64(m.FramesDropped); got != 1 {
		t.Errorf("Expected 1 frame dropped, got %f", got)
	}

	m.RecordTranscription(true, 0.2)
	m.RecordTranscription(false, 0.2)
	if got := testutil.ToFloat64(m.TranscriptionFailures); got != 1 {
		t.Errorf("Expected 1 transcription failure, got %f", got)
	}

	m.RecordChatNotification(false)
	if got := testutil.ToFloat64(m.ChatNotifications.WithLabelValues("failed")); got != 1 {
		t.Errorf("Expected 1 failed notification, got %f", got)
	}
}
