package window

import "testing"

func TestDueEmitsOverlappingWindowsAtStride(t *testing.T) {
	cfg := Config{}
	cfg.Length = 10_000_000_000 // 10s in ns, set directly to avoid importing time twice
	cfg.Overlap = 2_000_000_000 // 2s

	s := New(cfg, 0)

	wins := s.Due(22_000) // 22s elapsed
	if len(wins) != 2 {
		t.Fatalf("expected 2 windows due, got %d: %+v", len(wins), wins)
	}
	if wins[0].StartMs != 0 || wins[0].EndMs != 10_000 {
		t.Fatalf("unexpected first window bounds: %+v", wins[0])
	}
	if wins[1].StartMs != 8_000 || wins[1].EndMs != 18_000 {
		t.Fatalf("unexpected second window bounds: %+v", wins[1])
	}
}

func TestDueProducesNothingBeforeFirstWindowElapses(t *testing.T) {
	cfg := Config{Length: 10_000_000_000, Overlap: 2_000_000_000}
	s := New(cfg, 0)

	if wins := s.Due(5_000); len(wins) != 0 {
		t.Fatalf("expected no windows yet, got %d", len(wins))
	}
}

func TestReviseBumpsRevisionOnLateSegmentWithinBounds(t *testing.T) {
	cfg := Config{Length: 10_000_000_000, Overlap: 2_000_000_000}
	s := New(cfg, 0)
	s.Due(10_000) // window [0,10000) emitted at revision 1

	revised := s.Revise([]TimedID{{ID: "seg-1", AtMs: 4_000}}, nil)
	if len(revised) != 1 {
		t.Fatalf("expected one revised window, got %d", len(revised))
	}
	if revised[0].Revision != 2 {
		t.Fatalf("expected revision 2, got %d", revised[0].Revision)
	}
	if _, ok := revised[0].SegIDs["seg-1"]; !ok {
		t.Fatalf("expected seg-1 present in revised window's segment set")
	}
}

func TestReviseSuppressedWhenSegmentAlreadyRecorded(t *testing.T) {
	cfg := Config{Length: 10_000_000_000, Overlap: 2_000_000_000}
	s := New(cfg, 0)
	s.Due(10_000)

	s.Revise([]TimedID{{ID: "seg-1", AtMs: 4_000}}, nil)
	again := s.Revise([]TimedID{{ID: "seg-1", AtMs: 4_000}}, nil)
	if len(again) != 0 {
		t.Fatalf("expected no revision for already-recorded segment, got %d", len(again))
	}
}

func TestReviseIgnoresSegmentOutsideWindowBounds(t *testing.T) {
	cfg := Config{Length: 10_000_000_000, Overlap: 2_000_000_000}
	s := New(cfg, 0)
	s.Due(10_000)

	revised := s.Revise([]TimedID{{ID: "seg-1", AtMs: 50_000}}, nil)
	if len(revised) != 0 {
		t.Fatalf("expected no revision for out-of-bounds segment, got %d", len(revised))
	}
}

func TestFlushLimitPrefersLaterOfNowAndRecordStart(t *testing.T) {
	if got := FlushLimit(1000, 500); got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
	if got := FlushLimit(500, 1500); got != 1500 {
		t.Fatalf("expected 1500, got %d", got)
	}
}
