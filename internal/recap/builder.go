// Package recap implements the recap builder (C8): gathers the transcript
// and frame evidence for one window, asks the configured LLM to summarize
// it, and shapes the result per session kind with deterministic clamps and
// a parse-failure fallback.
package recap

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/pkg/provider/llm"
)

const (
	maxTopics           = 5
	maxRecapLines       = 6
	maxCheatsheet       = 8
	maxCourseHighlights = 10
	maxTranscriptCites  = 8
	maxFrameCites       = 4
	citationsPerItem    = 2
)

// SegmentReader pulls persisted transcript segments for a window (§4.8).
// Build has no in-memory fallback: an error from SegmentsIn fails the build.
type SegmentReader interface {
	SegmentsIn(ctx context.Context, sessionID string, startMs, endMs int64) ([]domain.TranscriptSegment, error)
}

// FrameReader pulls persisted captured frames for a window.
type FrameReader interface {
	FramesIn(ctx context.Context, sessionID string, startMs, endMs int64) ([]domain.CapturedFrame, error)
}

// PriorTopicReader reads the first topic of the most recently emitted
// window, for topic-continuity hints.
type PriorTopicReader interface {
	PriorFirstTopic(ctx context.Context, sessionID string, beforeStartMs int64) (domain.Topic, bool, error)
}

// Builder assembles RecapWindow payloads.
type Builder struct {
	segments SegmentReader
	frames   FrameReader
	topics   PriorTopicReader
	model    llm.Provider
	modelName string
}

// New creates a Builder.
func New(segments SegmentReader, frames FrameReader, topics PriorTopicReader, model llm.Provider, modelName string) *Builder {
	return &Builder{segments: segments, frames: frames, topics: topics, model: model, modelName: modelName}
}

// Build gathers evidence for [startMs, endMs), calls the LLM, shapes the
// result by sessionKind, and returns the finished RecapWindow.
func (b *Builder) Build(ctx context.Context, sessionID string, kind domain.SessionKind, meetingType string, startMs, endMs int64, revision int) (domain.RecapWindow, error) {
	segs, err := b.segments.SegmentsIn(ctx, sessionID, startMs, endMs)
	if err != nil {
		return domain.RecapWindow{}, fmt.Errorf("recap: segments: %w", err)
	}
	frames, err := b.frames.FramesIn(ctx, sessionID, startMs, endMs)
	if err != nil {
		return domain.RecapWindow{}, fmt.Errorf("recap: frames: %w", err)
	}

	sort.Slice(segs, func(i, j int) bool {
		if segs[i].StartMs != segs[j].StartMs {
			return segs[i].StartMs < segs[j].StartMs
		}
		return segs[i].SegID < segs[j].SegID
	})
	sort.Slice(frames, func(i, j int) bool {
		if frames[i].TsMs != frames[j].TsMs {
			return frames[i].TsMs < frames[j].TsMs
		}
		return frames[i].FrameID < frames[j].FrameID
	})

	excerpt := buildExcerpt(segs)
	priorTopic, ok, err := b.topics.PriorFirstTopic(ctx, sessionID, startMs)
	if err != nil {
		return domain.RecapWindow{}, fmt.Errorf("recap: prior topic: %w", err)
	}
	if !ok {
		priorTopic = domain.Topic{TopicID: "T0", Title: "General"}
	}

	startSec := float64(startMs) / 1000
	endSec := float64(endMs) / 1000

	parsed, parseOK := b.callModel(ctx, kind, priorTopic.TopicID, startSec, endSec, excerpt)
	if !parseOK {
		parsed = fallbackPayload(excerpt, priorTopic, startSec, endSec)
	}

	shapeBySessionKind(&parsed, kind)
	clamp(&parsed, startSec, endSec)

	citations := buildCitations(segs, frames)
	attachCitations(&parsed, citations)

	win := domain.RecapWindow{
		SessionID:   sessionID,
		WindowID:    domain.WindowIDFor(sessionID, startMs, endMs),
		StartMs:     startMs,
		EndMs:       endMs,
		Revision:    revision,
		SessionKind: kind,
		MeetingType: meetingType,
		ModelName:   b.modelName,
		Recap:       recapLines(parsed.RecapLines, citations),
		Topics:      parsed.Topics,
		Cheatsheet:  parsed.Cheatsheet,
		Citations:   citations,
		Actions:     parsed.Actions,
		Decisions:   parsed.Decisions,
		Risks:       parsed.Risks,
		CourseHigh:  parsed.CourseHighlights,
		SegIDs:      idSet(segs),
		FrameIDs:    frameIDSet(frames),
		ParseOK:     parseOK,
	}
	return win, nil
}

func buildExcerpt(segs []domain.TranscriptSegment) string {
	lines := make([]string, 0, len(segs))
	for _, s := range segs {
		lines = append(lines, fmt.Sprintf("%s: %s", s.Speaker, s.Text))
	}
	return strings.Join(lines, "\n")
}

// payload is the LLM's structured response shape, also used for the
// deterministic fallback.
type payload struct {
	RecapLines       []string               `json:"recap_lines"`
	Topics           []domain.Topic         `json:"topics"`
	Cheatsheet       []domain.CheatsheetEntry `json:"cheatsheet"`
	Actions          []string               `json:"adr_actions"`
	Decisions        []string               `json:"adr_decisions"`
	Risks            []string               `json:"adr_risks"`
	CourseHighlights []domain.CourseHighlight `json:"course_highlights"`
}

func (b *Builder) callModel(ctx context.Context, kind domain.SessionKind, currentTopic string, startSec, endSec float64, excerpt string) (payload, bool) {
	prompt := fmt.Sprintf(
		"session_kind=%s current_topic_id=%s window_start_s=%.3f window_end_s=%.3f\n\nTranscript:\n%s",
		kind, currentTopic, startSec, endSec, excerpt,
	)
	resp, err := b.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: recapSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		Temperature:  0.2,
	})
	if err != nil {
		return payload{}, false
	}
	var p payload
	if err := json.Unmarshal([]byte(resp.Content), &p); err != nil {
		return payload{}, false
	}
	return p, true
}

const recapSystemPrompt = "Summarize the transcript window into the documented JSON payload shape."

func fallbackPayload(excerpt string, priorTopic domain.Topic, startSec, endSec float64) payload {
	line := firstSentence(sanitize(excerpt), 180)
	lines := []string{"No transcript available for this window."}
	if line != "" {
		lines = []string{"Status: " + line}
	}
	return payload{
		RecapLines: lines,
		Topics: []domain.Topic{{
			TopicID: priorTopic.TopicID,
			Title:   priorTopic.Title,
			StartT:  startSec,
			EndT:    endSec,
		}},
	}
}

func sanitize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstSentence(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if idx := strings.IndexAny(s, ".!?"); idx >= 0 {
		s = s[:idx+1]
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

func shapeBySessionKind(p *payload, kind domain.SessionKind) {
	switch kind {
	case domain.KindMeeting:
		p.CourseHighlights = nil
	case domain.KindCourse:
		p.Actions = nil
		p.Decisions = nil
		p.Risks = nil
		if len(p.CourseHighlights) == 0 {
			for _, c := range p.Cheatsheet {
				p.CourseHighlights = append(p.CourseHighlights, domain.CourseHighlight{
					Kind:  "term",
					Title: c.Term,
					Bullet: c.Definition,
				})
			}
		}
	}
}

func clamp(p *payload, startSec, endSec float64) {
	for i := range p.Topics {
		t := &p.Topics[i]
		if t.StartT < startSec {
			t.StartT = startSec
		}
		if t.EndT > endSec {
			t.EndT = endSec
		}
		if t.EndT < t.StartT {
			t.EndT = t.StartT
		}
	}
	if len(p.Topics) > maxTopics {
		p.Topics = p.Topics[:maxTopics]
	}
	if len(p.RecapLines) > maxRecapLines {
		p.RecapLines = p.RecapLines[:maxRecapLines]
	}
	if len(p.Cheatsheet) > maxCheatsheet {
		p.Cheatsheet = p.Cheatsheet[:maxCheatsheet]
	}
	if len(p.CourseHighlights) > maxCourseHighlights {
		p.CourseHighlights = p.CourseHighlights[:maxCourseHighlights]
	}
}

func buildCitations(segs []domain.TranscriptSegment, frames []domain.CapturedFrame) []domain.Citation {
	var out []domain.Citation
	for i, s := range segs {
		if i >= maxTranscriptCites {
			break
		}
		out = append(out, domain.Citation{Type: "transcript", SegID: s.SegID, TsMs: s.StartMs, Speaker: s.Speaker})
	}
	for i, f := range frames {
		if i >= maxFrameCites {
			break
		}
		out = append(out, domain.Citation{Type: "image", FrameID: f.FrameID, TsMs: f.TsMs, URI: f.URI})
	}
	return out
}

func attachCitations(p *payload, citations []domain.Citation) {
	n := citationsPerItem
	if len(citations) < n {
		n = len(citations)
	}
	head := citations[:n]
	for i := range p.Topics {
		p.Topics[i].Citations = head
	}
}

// recapLines pairs each plain-language recap line with the first
// citationsPerItem citations, per §4.8 ("attach the first two citations to
// each recap line and topic").
func recapLines(lines []string, citations []domain.Citation) []domain.RecapLine {
	n := citationsPerItem
	if len(citations) < n {
		n = len(citations)
	}
	head := citations[:n]
	out := make([]domain.RecapLine, len(lines))
	for i, l := range lines {
		out[i] = domain.RecapLine{Text: l, Citations: head}
	}
	return out
}

func idSet(segs []domain.TranscriptSegment) map[string]struct{} {
	out := make(map[string]struct{}, len(segs))
	for _, s := range segs {
		out[s.SegID] = struct{}{}
	}
	return out
}

func frameIDSet(frames []domain.CapturedFrame) map[string]struct{} {
	out := make(map[string]struct{}, len(frames))
	for _, f := range frames {
		out[f.FrameID] = struct{}{}
	}
	return out
}
