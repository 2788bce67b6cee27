// Package session implements the session registry (C2): the single
// mutex-protected owner of all per-session mutable state (audio rotation,
// video change detection, window scheduling, transcript and capture
// history), shared by every component that touches one meeting.
package session

import (
	"sync"
	"time"

	"github.com/notemesh/realtime-core/internal/audiorotor"
	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/internal/videodetect"
	"github.com/notemesh/realtime-core/internal/window"
)

// courseMeetingTypes are the external meeting types that classify a session
// as domain.KindCourse rather than domain.KindMeeting (§4.2).
var courseMeetingTypes = map[string]bool{
	"study_session": true,
	"course":        true,
	"learning":      true,
	"lesson":        true,
	"class":         true,
}

// DeriveSessionKind classifies a meeting_type per §4.2.
func DeriveSessionKind(meetingType string) domain.SessionKind {
	if courseMeetingTypes[meetingType] {
		return domain.KindCourse
	}
	return domain.KindMeeting
}

// Config bundles the sub-component configs a Session is built with.
type Config struct {
	Audio  audiorotor.Config
	Video  videodetect.Config
	Window window.Config
}

// Session is the single mutex-protected owner of one meeting's live state.
// Per §5, the mutex is held only across short critical sections; CPU- and
// I/O-bound work (STT, LLM, object-store, DB) is always done by the caller
// outside the lock, using values copied out of the Session.
type Session struct {
	mu sync.Mutex

	ID          string
	MeetingID   string
	Kind        domain.SessionKind
	StartedAt   time.Time
	StartedMs   int64
	Paused      bool

	rotor     *audiorotor.State
	detector  *videodetect.State
	scheduler *window.State

	segments      []domain.TranscriptSegment
	frames        []domain.CapturedFrame
	checksumsSeen map[string]bool
	inflightRecs  map[int]bool

	proposals map[string]*domain.ToolCallProposal
}

// New creates a Session anchored at startedAt.
func New(id string, cfg Config, startedAt time.Time) *Session {
	startedMs := startedAt.UnixMilli()
	return &Session{
		ID:            id,
		Kind:          domain.KindMeeting,
		StartedAt:     startedAt,
		StartedMs:     startedMs,
		rotor:         audiorotor.New(cfg.Audio, startedAt),
		detector:      videodetect.New(cfg.Video),
		scheduler:     window.New(cfg.Window, startedMs),
		checksumsSeen: make(map[string]bool),
		inflightRecs:  make(map[int]bool),
		proposals:     make(map[string]*domain.ToolCallProposal),
	}
}

// SetMeeting records the external meeting id and (re)derives session_kind
// from meetingType, per §4.2.
func (s *Session) SetMeeting(meetingID, meetingType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MeetingID = meetingID
	s.Kind = DeriveSessionKind(meetingType)
}

// ErrPaused is returned by any handler that rejects input because the
// session is paused (§4.3, §4.5 "Reject with PausedSession when paused").
var ErrPaused = pausedError{}

type pausedError struct{}

func (pausedError) Error() string { return "session: paused" }

// SetPaused updates the paused flag (session control message).
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Paused = paused
}

// HandleAudioBytes appends PCM bytes and returns any records rotated out as
// a result, plus the windows newly due given now.
func (s *Session) HandleAudioBytes(data []byte, now time.Time) (recs []domain.AudioRecord, due []domain.RecapWindow, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Paused {
		return nil, nil, ErrPaused
	}
	recs = s.rotor.Append(data, now)
	for i := range recs {
		recs[i].SessionID = s.ID
		s.inflightRecs[recs[i].RecordID] = true
	}
	due = s.scheduler.Due(now.UnixMilli())
	for i := range due {
		due[i].SessionID = s.ID
		due[i].WindowID = domain.WindowIDFor(s.ID, due[i].StartMs, due[i].EndMs)
	}
	return recs, due, nil
}

// Flush finalizes the in-progress audio record immediately and emits the
// final partial window, per §4.3 and §4.7's forced-flush limit. ok is false
// when there was no buffered audio to flush, making repeated Flush calls a
// no-op per §8's idempotence law.
func (s *Session) Flush(now time.Time) (rec domain.AudioRecord, due []domain.RecapWindow, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok = s.rotor.Flush(now)
	if !ok {
		return domain.AudioRecord{}, nil, false
	}
	rec.SessionID = s.ID
	s.inflightRecs[rec.RecordID] = true

	limit := window.FlushLimit(now.UnixMilli(), rec.StartMs)
	due = s.scheduler.Due(limit)
	for i := range due {
		due[i].SessionID = s.ID
		due[i].WindowID = domain.WindowIDFor(s.ID, due[i].StartMs, due[i].EndMs)
	}
	return rec, due, true
}

// CompleteRecord marks a record no longer in-flight and appends its
// resolved segments to the session's transcript, returning revised windows
// (if any) triggered by this new evidence.
func (s *Session) CompleteRecord(recordID int, segs []domain.TranscriptSegment) []domain.RecapWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inflightRecs, recordID)
	s.segments = append(s.segments, segs...)

	newIDs := make([]window.TimedID, 0, len(segs))
	for _, seg := range segs {
		newIDs = append(newIDs, window.TimedID{ID: seg.SegID, AtMs: seg.StartMs})
	}
	revised := s.scheduler.Revise(newIDs, nil)
	for i := range revised {
		revised[i].SessionID = s.ID
		revised[i].WindowID = domain.WindowIDFor(s.ID, revised[i].StartMs, revised[i].EndMs)
	}
	return revised
}

// SampleVideoFrame feeds one already-cropped grayscale detection frame
// through the video change detector.
func (s *Session) SampleVideoFrame(gray []byte, now time.Time) (videodetect.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Paused {
		return videodetect.Result{}, ErrPaused
	}
	return s.detector.Sample(gray, now), nil
}

// Seen implements capture.SeenChecksums: (session_id, checksum) is a unique
// constraint per §4.6.
func (s *Session) Seen(sessionID, checksum string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checksumsSeen[checksum] {
		return true
	}
	s.checksumsSeen[checksum] = true
	return false
}

// RecordCapturedFrame appends a newly persisted frame to the session's
// history and returns revised windows triggered by it.
func (s *Session) RecordCapturedFrame(frame domain.CapturedFrame) []domain.RecapWindow {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames = append(s.frames, frame)
	revised := s.scheduler.Revise(nil, []window.TimedID{{ID: frame.FrameID, AtMs: frame.TsMs}})
	for i := range revised {
		revised[i].SessionID = s.ID
		revised[i].WindowID = domain.WindowIDFor(s.ID, revised[i].StartMs, revised[i].EndMs)
	}
	return revised
}

// SegmentsIn returns a copy of every transcript segment whose start falls
// within [startMs, endMs), used by the recap builder.
func (s *Session) SegmentsIn(startMs, endMs int64) []domain.TranscriptSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TranscriptSegment
	for _, seg := range s.segments {
		if seg.StartMs >= startMs && seg.StartMs < endMs {
			out = append(out, seg)
		}
	}
	return out
}

// AllSegments returns a copy of every transcript segment recorded so far,
// for qna.SessionEvidence's tier-0 search.
func (s *Session) AllSegments() []domain.TranscriptSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TranscriptSegment, len(s.segments))
	copy(out, s.segments)
	return out
}

// RecentFrames returns the n most recently captured frames, oldest first.
func (s *Session) RecentFrames(n int) []domain.CapturedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.frames) {
		n = len(s.frames)
	}
	start := len(s.frames) - n
	out := make([]domain.CapturedFrame, n)
	copy(out, s.frames[start:])
	return out
}

// FramesIn returns a copy of every captured frame whose timestamp falls
// within [startMs, endMs).
func (s *Session) FramesIn(startMs, endMs int64) []domain.CapturedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CapturedFrame
	for _, f := range s.frames {
		if f.TsMs >= startMs && f.TsMs < endMs {
			out = append(out, f)
		}
	}
	return out
}

// PutProposal stores a tool-call proposal awaiting human approval (C9).
func (s *Session) PutProposal(p *domain.ToolCallProposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ProposalID] = p
}

// GetProposal retrieves a stored proposal by id.
func (s *Session) GetProposal(proposalID string) (*domain.ToolCallProposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[proposalID]
	return p, ok
}

// Snapshot is the read-only structural summary returned by GetSnapshot
// (§4.2): counts and cursors, no raw content.
type Snapshot struct {
	SessionID      string
	Kind           domain.SessionKind
	Paused         bool
	SegmentCount   int
	FrameCount     int
	InflightRecords int
	NextRecordID   int
}

// GetSnapshot returns a point-in-time structural summary.
func (s *Session) GetSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:       s.ID,
		Kind:            s.Kind,
		Paused:          s.Paused,
		SegmentCount:    len(s.segments),
		FrameCount:      len(s.frames),
		InflightRecords: len(s.inflightRecs),
		NextRecordID:    s.rotor.NextRecordID(),
	}
}
