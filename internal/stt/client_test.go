package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/notemesh/realtime-core/internal/domain"
)

func samplePCM(ms int) []byte {
	n := sampleRateHz * ms / 1000 * 2
	return make([]byte, n)
}

func TestTranscribeFlatSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"segments":[{"text":"hello there","offset":"0:01"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	rec := domain.AudioRecord{RecordID: 0, StartMs: 1000, EndMs: 3000, PCM: samplePCM(2000)}
	res := c.Transcribe(context.Background(), "sess-1", rec)

	if res.ASRError != "" {
		t.Fatalf("unexpected asr error: %s", res.ASRError)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(res.Segments))
	}
	if res.Segments[0].SegID != "sess-1:r0:s000" {
		t.Fatalf("unexpected seg_id: %s", res.Segments[0].SegID)
	}
	if res.Segments[0].Speaker != "SPEAKER_01" {
		t.Fatalf("expected default speaker, got %s", res.Segments[0].Speaker)
	}
}

func TestTranscribeWhisperStyleOffsets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcription":[{"text":"segment one","offsets":{"from":500,"to":1500}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	rec := domain.AudioRecord{RecordID: 2, StartMs: 10000, EndMs: 13000, PCM: samplePCM(3000)}
	res := c.Transcribe(context.Background(), "sess-1", rec)

	if len(res.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(res.Segments))
	}
	seg := res.Segments[0]
	if seg.StartMs != 10500 || seg.EndMs != 11500 {
		t.Fatalf("unexpected absolute bounds: start=%d end=%d", seg.StartMs, seg.EndMs)
	}
}

func TestTranscribeTextFallbackBecomesOneSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"whole record as one block"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	rec := domain.AudioRecord{RecordID: 0, StartMs: 0, EndMs: 30000, PCM: samplePCM(30000)}
	res := c.Transcribe(context.Background(), "sess-1", rec)

	if len(res.Segments) != 1 {
		t.Fatalf("expected fallback to produce 1 segment, got %d", len(res.Segments))
	}
	if res.Segments[0].EndMs != 30000 {
		t.Fatalf("expected segment to span the whole record, got end=%d", res.Segments[0].EndMs)
	}
}

func TestTranscribeEmptyTextSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"segments":[{"text":"   "},{"text":"kept"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	rec := domain.AudioRecord{RecordID: 0, StartMs: 0, EndMs: 1000, PCM: samplePCM(1000)}
	res := c.Transcribe(context.Background(), "sess-1", rec)

	if len(res.Segments) != 1 || res.Segments[0].Text != "kept" {
		t.Fatalf("expected only the non-empty segment kept, got %+v", res.Segments)
	}
}

func TestTranscribeHTTPFailureSetsASRErrorAndEmptySegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	rec := domain.AudioRecord{RecordID: 0, StartMs: 0, EndMs: 1000, PCM: samplePCM(1000)}
	res := c.Transcribe(context.Background(), "sess-1", rec)

	if res.ASRError == "" {
		t.Fatalf("expected asr error to be set")
	}
	if len(res.Segments) != 0 {
		t.Fatalf("expected no segments on failure")
	}
}
