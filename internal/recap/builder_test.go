package recap

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/pkg/provider/llm"
)

type fakeSegmentReader struct{ segs []domain.TranscriptSegment }

func (f fakeSegmentReader) SegmentsIn(_ context.Context, _ string, startMs, endMs int64) ([]domain.TranscriptSegment, error) {
	var out []domain.TranscriptSegment
	for _, s := range f.segs {
		if s.StartMs >= startMs && s.StartMs < endMs {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeFrameReader struct{ frames []domain.CapturedFrame }

func (f fakeFrameReader) FramesIn(_ context.Context, _ string, startMs, endMs int64) ([]domain.CapturedFrame, error) {
	var out []domain.CapturedFrame
	for _, fr := range f.frames {
		if fr.TsMs >= startMs && fr.TsMs < endMs {
			out = append(out, fr)
		}
	}
	return out, nil
}

type fakePriorTopics struct{}

func (fakePriorTopics) PriorFirstTopic(_ context.Context, _ string, _ int64) (domain.Topic, bool, error) {
	return domain.Topic{}, false, nil
}

type fakeLLM struct {
	response string
	fail     bool
}

func (f fakeLLM) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func (f fakeLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.fail {
		return nil, errFake
	}
	return &llm.CompletionResponse{Content: f.response}, nil
}

func (f fakeLLM) CountTokens([]llm.Message) (int, error) { return 0, nil }
func (f fakeLLM) Capabilities() llm.ModelCapabilities    { return llm.ModelCapabilities{} }

var errFake = fakeErr("fake failure")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func TestBuildParsesWellFormedModelResponse(t *testing.T) {
	segs := []domain.TranscriptSegment{
		{SegID: "s1", Speaker: "SPEAKER_01", Text: "let's discuss the roadmap", StartMs: 1000},
	}
	resp, _ := json.Marshal(payload{
		RecapLines: []string{"Discussed roadmap."},
		Topics:     []domain.Topic{{TopicID: "T1", Title: "Roadmap", StartT: 0, EndT: 100}},
	})

	b := New(fakeSegmentReader{segs: segs}, fakeFrameReader{}, fakePriorTopics{}, fakeLLM{response: string(resp)}, "test-model")
	win, err := b.Build(context.Background(), "sess-1", domain.KindMeeting, "standup", 0, 10000, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !win.ParseOK {
		t.Fatalf("expected parse to succeed")
	}
	if len(win.Recap) != 1 || win.Recap[0].Text != "Discussed roadmap." {
		t.Fatalf("unexpected recap: %v", win.Recap)
	}
	if len(win.Recap[0].Citations) == 0 {
		t.Fatalf("expected recap line to carry citations")
	}
	if win.CourseHigh != nil {
		t.Fatalf("expected course_highlights zeroed for meeting kind")
	}
}

func TestBuildFallsBackOnModelFailure(t *testing.T) {
	segs := []domain.TranscriptSegment{
		{SegID: "s1", Speaker: "SPEAKER_01", Text: "hello world. more text after.", StartMs: 1000},
	}
	b := New(fakeSegmentReader{segs: segs}, fakeFrameReader{}, fakePriorTopics{}, fakeLLM{fail: true}, "test-model")
	win, err := b.Build(context.Background(), "sess-1", domain.KindMeeting, "standup", 0, 10000, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if win.ParseOK {
		t.Fatalf("expected fallback path")
	}
	if len(win.Recap) != 1 {
		t.Fatalf("expected exactly one fallback recap line")
	}
}

func TestBuildShapesCourseKindSynthesizesHighlights(t *testing.T) {
	resp, _ := json.Marshal(payload{
		RecapLines: []string{"line"},
		Cheatsheet: []domain.CheatsheetEntry{{Term: "SSIM", Definition: "structural similarity"}},
	})
	b := New(fakeSegmentReader{}, fakeFrameReader{}, fakePriorTopics{}, fakeLLM{response: string(resp)}, "test-model")
	win, err := b.Build(context.Background(), "sess-1", domain.KindCourse, "lesson", 0, 10000, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(win.CourseHigh) != 1 || win.CourseHigh[0].Title != "SSIM" {
		t.Fatalf("expected synthesized course highlight, got %+v", win.CourseHigh)
	}
	if win.Actions != nil {
		t.Fatalf("expected adr fields zeroed for course kind")
	}
}

func TestBuildClampsCountsAndTopicBounds(t *testing.T) {
	topics := make([]domain.Topic, 10)
	for i := range topics {
		topics[i] = domain.Topic{TopicID: "t", StartT: -5, EndT: 9999}
	}
	resp, _ := json.Marshal(payload{Topics: topics})
	b := New(fakeSegmentReader{}, fakeFrameReader{}, fakePriorTopics{}, fakeLLM{response: string(resp)}, "test-model")
	win, err := b.Build(context.Background(), "sess-1", domain.KindMeeting, "standup", 0, 10000, 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(win.Topics) != maxTopics {
		t.Fatalf("expected topics capped at %d, got %d", maxTopics, len(win.Topics))
	}
	for _, tp := range win.Topics {
		if tp.StartT < 0 || tp.EndT > 10 {
			t.Fatalf("expected topic bounds clamped to window, got %+v", tp)
		}
	}
}
