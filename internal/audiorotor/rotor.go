// Package audiorotor implements the audio rotator (C3): it buffers raw PCM
// bytes appended to a session and slices them into fixed-length
// [github.com/notemesh/realtime-core/internal/domain.AudioRecord] blobs for
// the batch STT client (C4) to pick up.
//
// State is plain data manipulated by pure functions so the session can hold
// it under its own mutex without a second lock.
package audiorotor

import (
	"time"

	"github.com/notemesh/realtime-core/internal/domain"
)

// Config holds the rotator's one tunable, RecordLength (env RECORD_MS,
// default 30s per §4.3).
type Config struct {
	RecordLength time.Duration
}

// DefaultConfig returns the documented default.
func DefaultConfig() Config {
	return Config{RecordLength: 30 * time.Second}
}

// State is one session's in-progress audio buffer and rotation bookkeeping.
// The zero value is not ready for use; call New.
type State struct {
	cfg Config

	buf            []byte
	recordID       int
	recordStartAt  time.Time
	haveStart      bool
}

// New creates rotor state using cfg. recordStartAt anchors record_start_ms
// to the session's clock origin (typically session creation time or first
// audio byte).
func New(cfg Config, recordStartAt time.Time) *State {
	return &State{cfg: cfg, recordStartAt: recordStartAt, haveStart: true}
}

// Append adds data to the in-progress buffer, then rotates out as many
// fully-elapsed records as now's advance accounts for. It is safe for a
// single Append call to produce zero, one, or (after a long gap) several
// records.
func (s *State) Append(data []byte, now time.Time) []domain.AudioRecord {
	s.buf = append(s.buf, data...)

	var out []domain.AudioRecord
	for now.Sub(s.recordStartAt) >= s.cfg.RecordLength {
		endAt := s.recordStartAt.Add(s.cfg.RecordLength)
		out = append(out, s.finalize(endAt, false))
		s.recordStartAt = endAt
	}
	return out
}

// Flush finalizes the current record immediately regardless of its length,
// per §4.3's stop/pause/session-control-stop path. endAt is clamped to be
// strictly after record_start_ms. ok is false when there is no buffered
// audio to finalize (e.g. a second Flush call back-to-back), so repeated
// flushing is a no-op rather than emitting empty duplicate records.
func (s *State) Flush(now time.Time) (rec domain.AudioRecord, ok bool) {
	if len(s.buf) == 0 {
		return domain.AudioRecord{}, false
	}
	endAt := now
	if !endAt.After(s.recordStartAt) {
		endAt = s.recordStartAt.Add(time.Millisecond)
	}
	rec = s.finalize(endAt, true)
	s.recordStartAt = endAt
	return rec, true
}

func (s *State) finalize(endAt time.Time, flushed bool) domain.AudioRecord {
	rec := domain.AudioRecord{
		RecordID: s.recordID,
		StartMs:  s.recordStartAt.UnixMilli(),
		EndMs:    endAt.UnixMilli(),
		PCM:      s.buf,
		Status:   domain.RecordPending,
		Flushed:  flushed,
	}
	s.recordID++
	s.buf = nil
	return rec
}

// NextRecordID reports the record id the next finalized record will get,
// which equals the number of records finalized so far; the session reports
// it in its snapshot (§4.3).
func (s *State) NextRecordID() int { return s.recordID }
