// Package window implements the recap window scheduler (C7): a pure
// per-session state machine deciding when fixed-length, overlapping windows
// become due, and which already-emitted windows need re-emission after
// late-arriving evidence.
package window

import (
	"time"

	"github.com/notemesh/realtime-core/internal/domain"
)

// Config holds WindowLength and WindowOverlap (env WINDOW_MS,
// WINDOW_OVERLAP_MS); WindowStride is derived.
type Config struct {
	Length  time.Duration
	Overlap time.Duration
}

// DefaultConfig returns the documented defaults (120s window, 15s overlap).
func DefaultConfig() Config {
	return Config{Length: 120 * time.Second, Overlap: 15 * time.Second}
}

// Stride returns WindowLength - WindowOverlap.
func (c Config) Stride() time.Duration { return c.Length - c.Overlap }

// emitted tracks one already-emitted window's bounds, revision, and the
// evidence ids reported for it through Revise (Due starts both sets empty),
// so a repeated late arrival is recognised and does not bump the revision.
type emitted struct {
	startMs, endMs int64
	revision       int
	segIDs         map[string]struct{}
	frameIDs       map[string]struct{}
}

// State is one session's scheduler state. Zero value is not ready; use New.
type State struct {
	cfg Config

	nextWindowStartMs int64
	windows           []*emitted // ordered by startMs, i.e. by window_id
}

// New creates scheduler state anchored at startedMs, the session's start
// time in epoch milliseconds.
func New(cfg Config, startedMs int64) *State {
	return &State{cfg: cfg, nextWindowStartMs: startedMs}
}

// Due computes every window newly due given limit (an epoch-ms timestamp),
// advancing internal state and recording each as freshly emitted with
// revision 1 (per §3, revisions start at 1 and increment by 1 per
// re-emission). The caller is responsible for invoking C8/C10 for each
// returned bound and for later reporting committed evidence via Revise.
func (s *State) Due(limit int64) []domain.RecapWindow {
	lengthMs := s.cfg.Length.Milliseconds()
	strideMs := s.cfg.Stride().Milliseconds()

	var out []domain.RecapWindow
	for s.nextWindowStartMs+lengthMs <= limit {
		start := s.nextWindowStartMs
		end := start + lengthMs
		s.windows = append(s.windows, &emitted{
			startMs:  start,
			endMs:    end,
			revision: 1,
			segIDs:   map[string]struct{}{},
			frameIDs: map[string]struct{}{},
		})
		out = append(out, domain.RecapWindow{StartMs: start, EndMs: end, Revision: 1})
		s.nextWindowStartMs += strideMs
	}
	return out
}

// FlushLimit computes the limit argument for Due on a forced flush, per
// §4.7: max(now, audio record_start_ms) so the final partial interval is
// still emitted.
func FlushLimit(nowMs, recordStartMs int64) int64 {
	if recordStartMs > nowMs {
		return recordStartMs
	}
	return nowMs
}

// Revise reports newly committed evidence (segment ids with their time
// bounds, frame ids with their time bounds) and returns the set of
// already-emitted windows whose contents changed as a result, each bumped
// to revision+1, in window_id (i.e. startMs) order. A window is skipped if
// the new item falls inside its bounds but was already recorded (no-op) or
// if no new item falls inside its bounds at all.
func (s *State) Revise(newSegs []TimedID, newFrames []TimedID) []domain.RecapWindow {
	var out []domain.RecapWindow
	for _, w := range s.windows {
		changed := false
		for _, seg := range newSegs {
			if !withinBounds(seg, w.startMs, w.endMs) {
				continue
			}
			if _, ok := w.segIDs[seg.ID]; ok {
				continue
			}
			w.segIDs[seg.ID] = struct{}{}
			changed = true
		}
		for _, f := range newFrames {
			if !withinBounds(f, w.startMs, w.endMs) {
				continue
			}
			if _, ok := w.frameIDs[f.ID]; ok {
				continue
			}
			w.frameIDs[f.ID] = struct{}{}
			changed = true
		}
		if !changed {
			continue
		}
		w.revision++
		out = append(out, domain.RecapWindow{
			StartMs:  w.startMs,
			EndMs:    w.endMs,
			Revision: w.revision,
			SegIDs:   cloneSet(w.segIDs),
			FrameIDs: cloneSet(w.frameIDs),
		})
	}
	return out
}

// TimedID is a committed segment or frame id with the timestamp used to
// decide which window(s) it falls into.
type TimedID struct {
	ID   string
	AtMs int64
}

func withinBounds(t TimedID, startMs, endMs int64) bool {
	return t.AtMs >= startMs && t.AtMs < endMs
}

func cloneSet(m map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}
