package gateway

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/notemesh/realtime-core/internal/domain"
)

func TestSignAndVerifyToken(t *testing.T) {
	secret := []byte("super-secret")
	tok := signToken(secret, "sess-1")
	if !verifyToken(secret, "sess-1", tok) {
		t.Fatalf("expected token to verify")
	}
	if verifyToken(secret, "sess-2", tok) {
		t.Fatalf("token for sess-1 must not verify for sess-2")
	}
	if verifyToken(secret, "sess-1", "garbage") {
		t.Fatalf("garbage token must not verify")
	}
}

func TestVerifyTokenDisabledWhenSecretEmpty(t *testing.T) {
	if !verifyToken(nil, "sess-1", "anything") {
		t.Fatalf("expected auth to be disabled with an empty secret")
	}
}

func TestLegacyTranscriptEventIsRelativeToBase(t *testing.T) {
	seg := domain.TranscriptSegment{Text: "hello", Speaker: "A", StartMs: 5000, EndMs: 7000, Confidence: 0.9}
	ev := legacyTranscriptEvent("meet-1", seg, 2000)
	want := map[string]any{
		"meeting_id": "meet-1",
		"chunk":      "hello",
		"speaker":    "A",
		"time_start": 3.0,
		"time_end":   5.0,
		"is_final":   true,
		"confidence": 0.9,
		"lang":       "",
	}
	if diff := cmp.Diff(want, ev); diff != "" {
		t.Fatalf("legacy transcript event mismatch (-want +got):\n%s", diff)
	}
}

func TestLegacyTranscriptEventWithoutEndMsUsesStart(t *testing.T) {
	seg := domain.TranscriptSegment{Text: "hi", StartMs: 1000}
	ev := legacyTranscriptEvent("m", seg, 0)
	if ev["time_start"] != ev["time_end"] {
		t.Fatalf("expected time_end to fall back to time_start when end_ms is absent")
	}
}

func TestLegacyStateEventUsesLastTopic(t *testing.T) {
	topics := []domain.Topic{{TopicID: "t1", Title: "Intro"}, {TopicID: "t2", Title: "Deep dive"}}
	win := domain.RecapWindow{
		Recap:    []domain.RecapLine{{Text: "line one"}},
		Topics:   topics,
		Revision: 1,
		ParseOK:  true,
	}
	ev := legacyStateEvent(win)
	want := map[string]any{
		"stage":             "recap",
		"intent":            "",
		"live_recap":        []string{"line one"},
		"current_topic_id":  "t2",
		"topic":             "Deep dive",
		"topic_segments":    topics,
		"actions":           []string(nil),
		"decisions":         []string(nil),
		"risks":             []string(nil),
		"debug_info":        map[string]any{"parse_ok": true, "revision": 1},
	}
	if diff := cmp.Diff(want, ev); diff != "" {
		t.Fatalf("legacy state event mismatch (-want +got):\n%s", diff)
	}
}
