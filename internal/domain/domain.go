// Package domain defines the data model shared across the realtime ingest and
// recap pipeline: sessions, audio records, transcript segments, captured
// frames, recap windows, tool-call proposals, and the Q&A event log.
//
// These types form the lingua franca between the bus, session registry,
// rotator, detector, capturer, scheduler, recap builder, Q&A retriever, and
// persistence adapter. They are intentionally plain data — behaviour lives in
// the owning packages.
package domain

import "fmt"

// SessionKind drives downstream prompt shape for recap generation.
type SessionKind string

const (
	KindMeeting SessionKind = "meeting"
	KindCourse  SessionKind = "course"
)

// Rect is an axis-aligned region-of-interest rectangle in pixel coordinates.
type Rect struct {
	X, Y, W, H int
}

// Empty reports whether the rectangle carries no usable area, meaning "use
// the full frame".
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// AudioFormat describes the PCM format a session expects on its audio
// channel, per §4.11: signed-16 little-endian, 16kHz, mono by default.
type AudioFormat struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate_hz"`
	Channels   int    `json:"channels"`
}

// Matches reports whether two formats are exactly equal on the fields that
// determine decode compatibility.
func (f AudioFormat) Matches(other AudioFormat) bool {
	return f.Codec == other.Codec && f.SampleRate == other.SampleRate && f.Channels == other.Channels
}

// RecordStatus is the lifecycle state of an AudioRecord.
type RecordStatus string

const (
	RecordPending  RecordStatus = "pending"
	RecordInflight RecordStatus = "inflight"
	RecordProcessed RecordStatus = "processed"
)

// AudioRecord is a contiguous time slice of raw audio bytes submitted to STT
// as one unit. PCM is discarded once STT has been submitted.
type AudioRecord struct {
	SessionID string
	RecordID  int
	StartMs   int64
	EndMs     int64
	PCM       []byte
	Status    RecordStatus
	// Flushed is true when this record was produced by an explicit flush
	// rather than elapsing RecordLength.
	Flushed bool
}

// Duration returns EndMs - StartMs.
func (r AudioRecord) Duration() int64 { return r.EndMs - r.StartMs }

// TranscriptSegment is one line of a transcript for a given record.
type TranscriptSegment struct {
	SessionID    string
	RecordID     int
	SegmentIndex int
	SegID        string
	Speaker      string
	Offset       string // mm:ss relative to record start, when available
	StartMs      int64
	EndMs        int64 // 0 means "not reported"
	Text         string
	Confidence   float64
}

// MakeSegID builds the canonical seg_id for a segment per §3.
func MakeSegID(sessionID string, recordID, index int) string {
	return fmt.Sprintf("%s:r%d:s%03d", sessionID, recordID, index)
}

// DiffScore carries the perceptual-distance evidence behind a confirmed
// slide change.
type DiffScore struct {
	HashDist int
	SSIM     float64
}

// CapturedFrame is a stored, deduplicated video frame captured on a
// confirmed slide change.
type CapturedFrame struct {
	SessionID     string
	FrameID       string
	TsMs          int64
	ROI           Rect
	Checksum      string
	URI           string
	Diff          DiffScore
	CaptureReason string
}

// RecapWindow is one fixed-length, possibly-revised recap emission.
type RecapWindow struct {
	SessionID   string
	WindowID    string
	StartMs     int64
	EndMs       int64
	Revision    int
	SessionKind SessionKind
	MeetingType string
	ModelName   string

	Recap       []RecapLine
	Topics      []Topic
	Cheatsheet  []CheatsheetEntry
	Citations   []Citation
	Actions     []string
	Decisions   []string
	Risks       []string
	CourseHigh  []CourseHighlight

	// SegIDs and FrameIDs record exactly which evidence this revision
	// contains, used by the scheduler to decide whether a later revision is
	// warranted (§4.7 invariant 5).
	SegIDs   map[string]struct{}
	FrameIDs map[string]struct{}

	ParseOK bool
}

// WindowIDFor builds the canonical window_id per §3.
func WindowIDFor(sessionID string, startMs, endMs int64) string {
	return fmt.Sprintf("%s:%d:%d", sessionID, startMs, endMs)
}

// RecapLine is one line of the plain-language recap, carrying its own
// citations per §4.8 (the first two citations are attached to each recap
// line as well as to each topic).
type RecapLine struct {
	Text      string
	Citations []Citation
}

// Topic is one recap topic-continuity entry.
type Topic struct {
	TopicID     string
	Title       string
	Description string
	StartT      float64
	EndT        float64
	Citations   []Citation
}

// CheatsheetEntry is a single term/definition pair.
type CheatsheetEntry struct {
	Term       string
	Definition string
}

// CourseHighlight is one course-kind highlight entry.
type CourseHighlight struct {
	Kind    string
	Title   string
	Bullet  string
	Formula string
}

// Citation is a pointer to supporting evidence attached to a recap line,
// topic, or Q&A answer.
type Citation struct {
	Type    string // "transcript" | "image" | "document" | "web"
	SegID   string
	FrameID string
	TsMs    int64
	Speaker string
	URI     string
	Source  string
	Snippet string
}

// ProposalStatus is the lifecycle state of a ToolCallProposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// ToolCallProposal is a human-approval gate for Tier-2 web search (§4.9).
type ToolCallProposal struct {
	ProposalID      string
	QueryID         string
	SessionID       string
	Question        string
	SuggestedQueries []string
	Risk            string
	Status          ProposalStatus
	Constraints     map[string]any
}

// Tier identifies which evidence tier answered a question.
type Tier string

const (
	TierSession Tier = "tier0_session"
	TierDocs    Tier = "tier1_docs"
	TierWeb     Tier = "tier2_web"
	TierBlocked Tier = "blocked"
)

// QnaEvent is an append-only record of one question/answer exchange.
type QnaEvent struct {
	SessionID string
	QueryID   string
	Question  string
	Answer    string
	TierUsed  Tier
	Citations []Citation
}
