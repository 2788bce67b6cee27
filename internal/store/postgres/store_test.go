package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/internal/store/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if REALTIME_CORE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("REALTIME_CORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REALTIME_CORE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	for _, table := range []string{
		"session_roi", "audio_record", "transcript_segment", "captured_frame",
		"recap_window", "tool_call_proposal", "qna_event_log", "visual_event", "transcript_chunk",
	} {
		if _, err := cleanPool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestInsertSegmentsIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seg := domain.TranscriptSegment{
		SessionID: "sess-1", RecordID: 0, SegmentIndex: 0,
		SegID: "sess-1:r0:s000", Speaker: "SPEAKER_01", StartMs: 1000, EndMs: 2000, Text: "hello",
	}
	if err := store.InsertSegments(ctx, "meet-1", 0, []domain.TranscriptSegment{seg}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertSegments(ctx, "meet-1", 0, []domain.TranscriptSegment{seg}); err != nil {
		t.Fatalf("re-insert should be a no-op, got: %v", err)
	}

	got, err := store.SegmentsIn(ctx, "sess-1", 0, 5000)
	if err != nil {
		t.Fatalf("segments in: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one segment after duplicate insert, got %d", len(got))
	}
}

func TestUpsertSegmentEmbeddingIsOptionalAndIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seg := domain.TranscriptSegment{
		SessionID: "sess-1", RecordID: 0, SegmentIndex: 0,
		SegID: "sess-1:r0:s000", Speaker: "SPEAKER_01", StartMs: 1000, EndMs: 2000, Text: "hello",
	}
	if err := store.InsertSegments(ctx, "meet-1", 0, []domain.TranscriptSegment{seg}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	embedding := make([]float32, 1536)
	embedding[0] = 0.5
	if err := store.UpsertSegmentEmbedding(ctx, seg.SegID, embedding); err != nil {
		t.Fatalf("upsert embedding: %v", err)
	}
	// Re-applying is a plain UPDATE, not an insert, so it must not error or
	// duplicate anything.
	if err := store.UpsertSegmentEmbedding(ctx, seg.SegID, embedding); err != nil {
		t.Fatalf("re-upsert embedding: %v", err)
	}

	// An embedding for a segment that was never persisted is a silent no-op
	// (zero rows updated), not an error — the caller may race ahead of
	// InsertSegments.
	if err := store.UpsertSegmentEmbedding(ctx, "does-not-exist", embedding); err != nil {
		t.Fatalf("upsert embedding for unknown segment should not error, got: %v", err)
	}
}

func TestInsertCapturedFrameDeduplicatesByChecksum(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	frame := domain.CapturedFrame{SessionID: "sess-1", FrameID: "frame-1", TsMs: 1000, Checksum: "abc", URI: "https://x/1"}
	if err := store.InsertCapturedFrame(ctx, frame, 1.0); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup := domain.CapturedFrame{SessionID: "sess-1", FrameID: "frame-2", TsMs: 2000, Checksum: "abc", URI: "https://x/2"}
	if err := store.InsertCapturedFrame(ctx, dup, 2.0); err == nil {
		t.Fatalf("expected unique constraint violation on duplicate checksum")
	}

	got, err := store.FramesIn(ctx, "sess-1", 0, 5000)
	if err != nil {
		t.Fatalf("frames in: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
}

func TestInsertRecapWindowIsIdempotentPerRevision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	win := domain.RecapWindow{SessionID: "sess-1", WindowID: "sess-1:0:10000", StartMs: 0, EndMs: 10000, Revision: 0, SessionKind: domain.KindMeeting}
	if err := store.InsertRecapWindow(ctx, win); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertRecapWindow(ctx, win); err != nil {
		t.Fatalf("re-insert should be a no-op, got: %v", err)
	}

	topic, ok, err := store.PriorFirstTopic(ctx, "sess-1", 20000)
	if err != nil {
		t.Fatalf("prior topic: %v", err)
	}
	_ = topic
	if !ok {
		t.Fatalf("expected a prior window to be found")
	}
}

func TestSaveProposalUpdatesStatusOnConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := domain.ToolCallProposal{ProposalID: "p1", QueryID: "q1", SessionID: "sess-1", Question: "q", Status: domain.ProposalPending}
	if err := store.SaveProposal(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	p.Status = domain.ProposalApproved
	if err := store.SaveProposal(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}
}
