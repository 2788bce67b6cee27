package audiorotor

import (
	"testing"
	"time"
)

func TestAppendRotatesOnElapsedRecordLength(t *testing.T) {
	start := time.Now()
	cfg := Config{RecordLength: time.Second}
	s := New(cfg, start)

	chunk := make([]byte, 32000) // 1s of 16kHz mono 16-bit PCM

	var total []int
	for i := 0; i < 4; i++ {
		recs := s.Append(chunk, start.Add(time.Duration(i+1)*time.Second))
		total = append(total, len(recs))
	}

	var count int
	for _, n := range total {
		count += n
	}
	if count != 4 {
		t.Fatalf("expected 4 rotated records across the run, got %d (%v)", count, total)
	}
}

func TestAppendProducesNoRecordBeforeElapsed(t *testing.T) {
	start := time.Now()
	s := New(Config{RecordLength: 30 * time.Second}, start)

	recs := s.Append([]byte{1, 2, 3}, start.Add(5*time.Second))
	if len(recs) != 0 {
		t.Fatalf("expected no rotation yet, got %d", len(recs))
	}
}

func TestFlushFinalizesUnderLengthRecord(t *testing.T) {
	start := time.Now()
	s := New(Config{RecordLength: 30 * time.Second}, start)
	s.Append([]byte{1, 2, 3, 4}, start.Add(2*time.Second))

	rec, ok := s.Flush(start.Add(2 * time.Second))
	if !ok {
		t.Fatalf("expected a record to be flushed")
	}
	if !rec.Flushed {
		t.Fatalf("expected Flushed=true")
	}
	if rec.Duration() != 2000 {
		t.Fatalf("expected 2000ms duration, got %d", rec.Duration())
	}
	if len(rec.PCM) != 4 {
		t.Fatalf("expected flushed record to carry buffered bytes")
	}

	if _, ok := s.Flush(start.Add(2 * time.Second)); ok {
		t.Fatalf("expected a second back-to-back flush to be a no-op")
	}
}

func TestFlushAtOrBeforeRecordStartStillAdvances(t *testing.T) {
	start := time.Now()
	s := New(Config{RecordLength: 30 * time.Second}, start)
	s.Append([]byte{1, 2}, start)

	rec, ok := s.Flush(start)
	if !ok {
		t.Fatalf("expected a record to be flushed")
	}
	if rec.EndMs <= rec.StartMs {
		t.Fatalf("expected end_ms strictly after start_ms, got start=%d end=%d", rec.StartMs, rec.EndMs)
	}
}

func TestFlushWithNoBufferedAudioIsNoOp(t *testing.T) {
	start := time.Now()
	s := New(Config{RecordLength: 30 * time.Second}, start)

	if _, ok := s.Flush(start.Add(time.Second)); ok {
		t.Fatalf("expected flush with no buffered audio to be a no-op")
	}
}

func TestRecordIDsIncrementMonotonically(t *testing.T) {
	start := time.Now()
	s := New(Config{RecordLength: time.Second}, start)

	recs := s.Append(nil, start.Add(3*time.Second))
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, r := range recs {
		if r.RecordID != i {
			t.Fatalf("expected record_id %d, got %d", i, r.RecordID)
		}
	}
	if s.NextRecordID() != 3 {
		t.Fatalf("expected next record id 3, got %d", s.NextRecordID())
	}
}
