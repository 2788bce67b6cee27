package resilience

import (
	"context"
	"testing"

	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/internal/stt"
)

// fakeTranscriber is a scripted [Transcriber] for fallback tests.
type fakeTranscriber struct {
	result stt.Result
	calls  int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, _ domain.AudioRecord) stt.Result {
	f.calls++
	return f.result
}

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &fakeTranscriber{result: stt.Result{Segments: []domain.TranscriptSegment{{Text: "hi"}}}}
	secondary := &fakeTranscriber{}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	res := fb.Transcribe(context.Background(), "sess-1", domain.AudioRecord{})
	if res.ASRError != "" {
		t.Fatalf("unexpected ASRError: %s", res.ASRError)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(res.Segments))
	}
	if primary.calls != 1 {
		t.Fatalf("primary called %d times, want 1", primary.calls)
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.calls)
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &fakeTranscriber{result: stt.Result{ASRError: "primary down"}}
	secondary := &fakeTranscriber{result: stt.Result{Segments: []domain.TranscriptSegment{{Text: "ok"}}}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	res := fb.Transcribe(context.Background(), "sess-1", domain.AudioRecord{})
	if res.ASRError != "" {
		t.Fatalf("unexpected ASRError: %s", res.ASRError)
	}
	if secondary.calls != 1 {
		t.Fatalf("secondary called %d times, want 1", secondary.calls)
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &fakeTranscriber{result: stt.Result{ASRError: "primary down"}}
	secondary := &fakeTranscriber{result: stt.Result{ASRError: "secondary down"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	res := fb.Transcribe(context.Background(), "sess-1", domain.AudioRecord{})
	if res.ASRError == "" {
		t.Fatal("expected ASRError to be populated when all backends fail")
	}
}
