// Package postgres is the persistence adapter (C10): an idempotent
// pgx-backed store for every durable record the realtime core produces,
// plus a legacy transcript_chunk mirror for older dashboard queries.
//
// Writes to the keyed tables use ON CONFLICT DO NOTHING or an explicit
// upsert so repeated delivery (retries, replays) never duplicates a row
// there. qna_event_log and visual_event are append-only logs with a
// surrogate id: each write adds a row. All methods are safe
// for concurrent use; the underlying pgxpool.Pool provides the connection
// pooling.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessionROI = `
CREATE TABLE IF NOT EXISTS session_roi (
    session_id TEXT        PRIMARY KEY,
    x          INT         NOT NULL,
    y          INT         NOT NULL,
    w          INT         NOT NULL,
    h          INT         NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const ddlAudioRecord = `
CREATE TABLE IF NOT EXISTS audio_record (
    session_id TEXT        NOT NULL,
    record_id  INT         NOT NULL,
    start_ms   BIGINT      NOT NULL,
    end_ms     BIGINT      NOT NULL,
    flushed    BOOLEAN     NOT NULL DEFAULT false,
    asr_error  TEXT        NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, record_id)
);
`

// ddlVectorExtension enables pgvector and must run before
// ddlTranscriptSegment, which declares a vector-typed column.
const ddlVectorExtension = `CREATE EXTENSION IF NOT EXISTS vector;`

const ddlTranscriptSegment = `
CREATE TABLE IF NOT EXISTS transcript_segment (
    seg_id        TEXT        PRIMARY KEY,
    session_id    TEXT        NOT NULL,
    record_id     INT         NOT NULL,
    segment_index INT         NOT NULL,
    speaker       TEXT        NOT NULL DEFAULT '',
    start_ms      BIGINT      NOT NULL,
    end_ms        BIGINT      NOT NULL,
    text          TEXT        NOT NULL,
    embedding     vector(1536),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_segment_session_start
    ON transcript_segment (session_id, start_ms);
`

const ddlCapturedFrame = `
CREATE TABLE IF NOT EXISTS captured_frame (
    frame_id       TEXT        PRIMARY KEY,
    session_id     TEXT        NOT NULL,
    ts_ms          BIGINT      NOT NULL,
    roi_x          INT         NOT NULL DEFAULT 0,
    roi_y          INT         NOT NULL DEFAULT 0,
    roi_w          INT         NOT NULL DEFAULT 0,
    roi_h          INT         NOT NULL DEFAULT 0,
    checksum       TEXT        NOT NULL,
    uri            TEXT        NOT NULL,
    hash_dist      INT         NOT NULL DEFAULT 0,
    ssim           DOUBLE PRECISION NOT NULL DEFAULT 0,
    capture_reason TEXT        NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (session_id, checksum)
);

CREATE INDEX IF NOT EXISTS idx_captured_frame_session_ts
    ON captured_frame (session_id, ts_ms);
`

const ddlRecapWindow = `
CREATE TABLE IF NOT EXISTS recap_window (
    window_id    TEXT        NOT NULL,
    revision     INT         NOT NULL,
    session_id   TEXT        NOT NULL,
    start_ms     BIGINT      NOT NULL,
    end_ms       BIGINT      NOT NULL,
    session_kind TEXT        NOT NULL,
    meeting_type TEXT        NOT NULL DEFAULT '',
    model_name   TEXT        NOT NULL DEFAULT '',
    payload      JSONB       NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (window_id, revision)
);

CREATE INDEX IF NOT EXISTS idx_recap_window_session_start
    ON recap_window (session_id, start_ms);
`

const ddlToolCallProposal = `
CREATE TABLE IF NOT EXISTS tool_call_proposal (
    proposal_id       TEXT        PRIMARY KEY,
    query_id          TEXT        NOT NULL,
    session_id        TEXT        NOT NULL,
    question          TEXT        NOT NULL,
    suggested_queries JSONB       NOT NULL DEFAULT '[]',
    risk              TEXT        NOT NULL DEFAULT '',
    status            TEXT        NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const ddlQnaEventLog = `
CREATE TABLE IF NOT EXISTS qna_event_log (
    id         BIGSERIAL   PRIMARY KEY,
    session_id TEXT        NOT NULL,
    query_id   TEXT        NOT NULL,
    question   TEXT        NOT NULL,
    answer     TEXT        NOT NULL DEFAULT '',
    tier_used  TEXT        NOT NULL,
    citations  JSONB       NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_qna_event_log_session
    ON qna_event_log (session_id);
`

const ddlVisualEvent = `
CREATE TABLE IF NOT EXISTS visual_event (
    id            BIGSERIAL        PRIMARY KEY,
    session_id    TEXT             NOT NULL,
    timestamp_sec DOUBLE PRECISION NOT NULL,
    image_url     TEXT             NOT NULL,
    event_type    TEXT             NOT NULL,
    created_at    TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_visual_event_session
    ON visual_event (session_id);
`

// ddlTranscriptChunk is the legacy mirror consumed by older dashboard
// queries, keyed in seconds rather than milliseconds (§4.10).
const ddlTranscriptChunk = `
CREATE TABLE IF NOT EXISTS transcript_chunk (
    id           BIGSERIAL   PRIMARY KEY,
    meeting_id   TEXT        NOT NULL,
    seg_id       TEXT        NOT NULL,
    speaker      TEXT        NOT NULL DEFAULT '',
    start_sec    DOUBLE PRECISION NOT NULL,
    end_sec      DOUBLE PRECISION NOT NULL,
    text         TEXT        NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (meeting_id, seg_id)
);

CREATE INDEX IF NOT EXISTS idx_transcript_chunk_meeting
    ON transcript_chunk (meeting_id);
`

// Migrate ensures every table and index this package writes to exists. It
// is idempotent and safe to call on every process start, guarded by a
// one-shot advisory lock so concurrent instances don't race each other
// (§4.10 "under a one-shot lock").
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const migrationLockKey = 0x5245414c54494d45 // "REALTIME" truncated to fit int64

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("postgres migrate: acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("postgres migrate: advisory lock: %w", err)
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockKey)

	statements := []string{
		ddlVectorExtension,
		ddlSessionROI,
		ddlAudioRecord,
		ddlTranscriptSegment,
		ddlCapturedFrame,
		ddlRecapWindow,
		ddlToolCallProposal,
		ddlQnaEventLog,
		ddlVisualEvent,
		ddlTranscriptChunk,
	}
	for _, stmt := range statements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
