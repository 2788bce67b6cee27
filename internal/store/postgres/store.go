package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgvectorpgx "github.com/pgvector/pgvector-go/pgx"

	"github.com/notemesh/realtime-core/internal/domain"
)

// Store is the PostgreSQL-backed persistence adapter (C10). All methods
// swallow and log nothing themselves — callers are expected to log on
// error and continue, per §4.10 "DB failures... must never prevent event
// emission to live subscribers."
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, runs Migrate, and returns a ready Store.
//
// AfterConnect registers the pgvector codec on every pooled connection so
// the nullable transcript_segment.embedding column round-trips as
// []float32 rather than raw bytes; this only matters once a caller starts
// populating embeddings via UpsertSegmentEmbedding — the rest of the store
// works identically without it.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse config: %w", err)
	}
	poolCfg.AfterConnect = pgvectorpgx.RegisterTypes

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// UpsertSegmentEmbedding stores the embedding vector for an already-
// persisted transcript segment. Embeddings are populated opportunistically
// by whichever caller has an embeddings.Provider configured (§4.9 Tier 1 is
// a generic retriever and does not require this column); a no-op update
// (zero rows affected) is not an error, since the segment may not have
// landed yet.
func (s *Store) UpsertSegmentEmbedding(ctx context.Context, segID string, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE transcript_segment SET embedding = $2 WHERE seg_id = $1
	`, segID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("postgres: upsert segment embedding: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// UpsertROI persists a session's region-of-interest update.
func (s *Store) UpsertROI(ctx context.Context, sessionID string, roi domain.Rect) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_roi (session_id, x, y, w, h, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (session_id) DO UPDATE SET x=$2, y=$3, w=$4, h=$5, updated_at=now()
	`, sessionID, roi.X, roi.Y, roi.W, roi.H)
	if err != nil {
		return fmt.Errorf("postgres: upsert roi: %w", err)
	}
	return nil
}

// UpsertAudioRecord persists a finalized audio record, called after STT
// completes (successfully or not).
func (s *Store) UpsertAudioRecord(ctx context.Context, rec domain.AudioRecord, asrError string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audio_record (session_id, record_id, start_ms, end_ms, flushed, asr_error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, record_id) DO UPDATE
			SET start_ms=$3, end_ms=$4, flushed=$5, asr_error=$6
	`, rec.SessionID, rec.RecordID, rec.StartMs, rec.EndMs, rec.Flushed, asrError)
	if err != nil {
		return fmt.Errorf("postgres: upsert audio_record: %w", err)
	}
	return nil
}

// InsertSegments inserts transcript segments (insert-or-ignore on seg_id)
// and mirrors them into the legacy transcript_chunk table, keyed in
// seconds relative to meetingStartMs.
func (s *Store) InsertSegments(ctx context.Context, meetingID string, meetingStartMs int64, segs []domain.TranscriptSegment) error {
	for _, seg := range segs {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO transcript_segment (seg_id, session_id, record_id, segment_index, speaker, start_ms, end_ms, text)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (seg_id) DO NOTHING
		`, seg.SegID, seg.SessionID, seg.RecordID, seg.SegmentIndex, seg.Speaker, seg.StartMs, seg.EndMs, seg.Text)
		if err != nil {
			return fmt.Errorf("postgres: insert transcript_segment: %w", err)
		}

		startSec := float64(seg.StartMs-meetingStartMs) / 1000
		endSec := float64(seg.EndMs-meetingStartMs) / 1000
		_, err = s.pool.Exec(ctx, `
			INSERT INTO transcript_chunk (meeting_id, seg_id, speaker, start_sec, end_sec, text)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (meeting_id, seg_id) DO NOTHING
		`, meetingID, seg.SegID, seg.Speaker, startSec, endSec, seg.Text)
		if err != nil {
			return fmt.Errorf("postgres: insert transcript_chunk: %w", err)
		}
	}
	return nil
}

// InsertCapturedFrame inserts a captured frame (insert-or-ignore on
// frame_id; (session_id, checksum) unique handles dedup at the DB level
// too) and its visual_event timeline mirror.
func (s *Store) InsertCapturedFrame(ctx context.Context, frame domain.CapturedFrame, visualTsSec float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO captured_frame (frame_id, session_id, ts_ms, roi_x, roi_y, roi_w, roi_h, checksum, uri, hash_dist, ssim, capture_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (frame_id) DO NOTHING
	`, frame.FrameID, frame.SessionID, frame.TsMs, frame.ROI.X, frame.ROI.Y, frame.ROI.W, frame.ROI.H,
		frame.Checksum, frame.URI, frame.Diff.HashDist, frame.Diff.SSIM, frame.CaptureReason)
	if err != nil {
		return fmt.Errorf("postgres: insert captured_frame: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO visual_event (session_id, timestamp_sec, image_url, event_type)
		VALUES ($1, $2, $3, $4)
	`, frame.SessionID, visualTsSec, frame.URI, "slide_change")
	if err != nil {
		return fmt.Errorf("postgres: insert visual_event: %w", err)
	}
	return nil
}

// InsertRecapWindow persists one (window_id, revision) recap emission,
// insert-or-ignore so a replayed emission is a no-op.
func (s *Store) InsertRecapWindow(ctx context.Context, win domain.RecapWindow) error {
	payload, err := json.Marshal(win)
	if err != nil {
		return fmt.Errorf("postgres: marshal recap_window payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO recap_window (window_id, revision, session_id, start_ms, end_ms, session_kind, meeting_type, model_name, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (window_id, revision) DO NOTHING
	`, win.WindowID, win.Revision, win.SessionID, win.StartMs, win.EndMs, string(win.SessionKind), win.MeetingType, win.ModelName, payload)
	if err != nil {
		return fmt.Errorf("postgres: insert recap_window: %w", err)
	}
	return nil
}

// SaveProposal inserts or updates a tool-call proposal (insert-or-ignore on
// create, update on approval/rejection per §4.10).
func (s *Store) SaveProposal(ctx context.Context, p domain.ToolCallProposal) error {
	queries, err := json.Marshal(p.SuggestedQueries)
	if err != nil {
		return fmt.Errorf("postgres: marshal suggested_queries: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tool_call_proposal (proposal_id, query_id, session_id, question, suggested_queries, risk, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (proposal_id) DO UPDATE SET status=$7, updated_at=now()
	`, p.ProposalID, p.QueryID, p.SessionID, p.Question, queries, p.Risk, string(p.Status))
	if err != nil {
		return fmt.Errorf("postgres: save tool_call_proposal: %w", err)
	}
	return nil
}

// SaveQnaEvent appends one Q&A exchange to the log.
func (s *Store) SaveQnaEvent(ctx context.Context, ev domain.QnaEvent) error {
	citations, err := json.Marshal(ev.Citations)
	if err != nil {
		return fmt.Errorf("postgres: marshal citations: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO qna_event_log (session_id, query_id, question, answer, tier_used, citations)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.SessionID, ev.QueryID, ev.Question, ev.Answer, string(ev.TierUsed), citations)
	if err != nil {
		return fmt.Errorf("postgres: insert qna_event_log: %w", err)
	}
	return nil
}

// SegmentsIn implements recap.SegmentReader.
func (s *Store) SegmentsIn(ctx context.Context, sessionID string, startMs, endMs int64) ([]domain.TranscriptSegment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seg_id, session_id, record_id, segment_index, speaker, start_ms, end_ms, text
		FROM transcript_segment
		WHERE session_id = $1 AND start_ms >= $2 AND start_ms < $3
		ORDER BY start_ms, seg_id
	`, sessionID, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("postgres: query transcript_segment: %w", err)
	}
	defer rows.Close()

	var out []domain.TranscriptSegment
	for rows.Next() {
		var seg domain.TranscriptSegment
		if err := rows.Scan(&seg.SegID, &seg.SessionID, &seg.RecordID, &seg.SegmentIndex, &seg.Speaker, &seg.StartMs, &seg.EndMs, &seg.Text); err != nil {
			return nil, fmt.Errorf("postgres: scan transcript_segment: %w", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// FramesIn implements recap.FrameReader.
func (s *Store) FramesIn(ctx context.Context, sessionID string, startMs, endMs int64) ([]domain.CapturedFrame, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT frame_id, session_id, ts_ms, roi_x, roi_y, roi_w, roi_h, checksum, uri, hash_dist, ssim, capture_reason
		FROM captured_frame
		WHERE session_id = $1 AND ts_ms >= $2 AND ts_ms < $3
		ORDER BY ts_ms, frame_id
	`, sessionID, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("postgres: query captured_frame: %w", err)
	}
	defer rows.Close()

	var out []domain.CapturedFrame
	for rows.Next() {
		var f domain.CapturedFrame
		if err := rows.Scan(&f.FrameID, &f.SessionID, &f.TsMs, &f.ROI.X, &f.ROI.Y, &f.ROI.W, &f.ROI.H, &f.Checksum, &f.URI, &f.Diff.HashDist, &f.Diff.SSIM, &f.CaptureReason); err != nil {
			return nil, fmt.Errorf("postgres: scan captured_frame: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// PriorFirstTopic implements recap.PriorTopicReader: the first topic of the
// most recently emitted window starting before beforeStartMs.
func (s *Store) PriorFirstTopic(ctx context.Context, sessionID string, beforeStartMs int64) (domain.Topic, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM recap_window
		WHERE session_id = $1 AND start_ms < $2
		ORDER BY start_ms DESC, revision DESC
		LIMIT 1
	`, sessionID, beforeStartMs).Scan(&payload)
	if err != nil {
		return domain.Topic{}, false, nil
	}

	var win domain.RecapWindow
	if err := json.Unmarshal(payload, &win); err != nil {
		return domain.Topic{}, false, fmt.Errorf("postgres: unmarshal prior recap_window: %w", err)
	}
	if len(win.Topics) == 0 {
		return domain.Topic{}, false, nil
	}
	return win.Topics[0], true, nil
}

// Retrieve implements qna.DocRetriever with a case-insensitive substring
// match of the whole query against the legacy transcript_chunk mirror,
// bounded to meetingID and ordered by start time. Real deployments
// would point this at a dedicated document index; this keeps the interface
// exercised end to end without a separate document store dependency.
func (s *Store) Retrieve(ctx context.Context, meetingID, query string, limit int) ([]domain.Citation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seg_id, text
		FROM transcript_chunk
		WHERE meeting_id = $1 AND text ILIKE '%' || $2 || '%'
		ORDER BY start_sec
		LIMIT $3
	`, meetingID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query transcript_chunk: %w", err)
	}
	defer rows.Close()

	var out []domain.Citation
	for rows.Next() {
		var segID, text string
		if err := rows.Scan(&segID, &text); err != nil {
			return nil, fmt.Errorf("postgres: scan transcript_chunk: %w", err)
		}
		out = append(out, domain.Citation{Type: "document", Source: meetingID, Snippet: text})
	}
	return out, rows.Err()
}
