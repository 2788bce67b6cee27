package qna

import (
	"context"
	"testing"

	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/pkg/provider/llm"
)

type fakeEvidence struct {
	segs   []domain.TranscriptSegment
	frames []domain.CapturedFrame
}

func (f fakeEvidence) AllSegments() []domain.TranscriptSegment { return f.segs }
func (f fakeEvidence) RecentFrames(n int) []domain.CapturedFrame {
	if n > len(f.frames) {
		n = len(f.frames)
	}
	return f.frames[len(f.frames)-n:]
}

type fakeDocs struct{ hits []domain.Citation }

func (f fakeDocs) Retrieve(context.Context, string, string, int) ([]domain.Citation, error) {
	return f.hits, nil
}

type fakeWeb struct{ hits []domain.Citation }

func (f fakeWeb) Search(context.Context, string) ([]domain.Citation, error) { return f.hits, nil }

type fakeSink struct {
	events    []domain.QnaEvent
	proposals []domain.ToolCallProposal
}

func (f *fakeSink) SaveQnaEvent(_ context.Context, ev domain.QnaEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSink) SaveProposal(_ context.Context, p domain.ToolCallProposal) error {
	f.proposals = append(f.proposals, p)
	return nil
}

type fakeProposalStore struct {
	m map[string]*domain.ToolCallProposal
}

func newFakeProposalStore() *fakeProposalStore {
	return &fakeProposalStore{m: map[string]*domain.ToolCallProposal{}}
}
func (s *fakeProposalStore) PutProposal(p *domain.ToolCallProposal) { s.m[p.ProposalID] = p }
func (s *fakeProposalStore) GetProposal(id string) (*domain.ToolCallProposal, bool) {
	p, ok := s.m[id]
	return p, ok
}

type fakeQAModel struct{ answer string }

func (f fakeQAModel) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}
func (f fakeQAModel) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: f.answer}, nil
}
func (f fakeQAModel) CountTokens([]llm.Message) (int, error) { return 0, nil }
func (f fakeQAModel) Capabilities() llm.ModelCapabilities    { return llm.ModelCapabilities{} }

func TestAskEmitsProposalWhenNoEvidenceAndWebNotAllowed(t *testing.T) {
	r := New(fakeDocs{}, fakeWeb{}, &fakeSink{}, fakeQAModel{})
	proposals := newFakeProposalStore()

	ans, err := r.Ask(context.Background(), "sess-1", "meet-1", "", "what is quantum entanglement", false, fakeEvidence{}, proposals)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Status != "proposal_emitted" {
		t.Fatalf("expected proposal_emitted, got %s", ans.Status)
	}
	if ans.Proposal == nil || ans.Proposal.Status != domain.ProposalPending {
		t.Fatalf("expected a pending proposal, got %+v", ans.Proposal)
	}
}

func TestAskUsesTier0WhenSegmentsMatchTokens(t *testing.T) {
	segs := []domain.TranscriptSegment{
		{SegID: "s1", Speaker: "SPEAKER_01", Text: "the roadmap covers Q3 milestones", StartMs: 1000},
	}
	r := New(fakeDocs{}, fakeWeb{}, &fakeSink{}, fakeQAModel{answer: "Q3 is covered."})
	proposals := newFakeProposalStore()

	ans, err := r.Ask(context.Background(), "sess-1", "meet-1", "", "what about the roadmap", false, fakeEvidence{segs: segs}, proposals)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Status != "answered" || ans.TierUsed != domain.TierSession {
		t.Fatalf("expected tier0 answer, got %+v", ans)
	}
}

func TestAskPrefersTier1WhenDocsHit(t *testing.T) {
	docs := fakeDocs{hits: []domain.Citation{{Type: "document", Source: "handbook"}}}
	r := New(docs, fakeWeb{}, &fakeSink{}, fakeQAModel{answer: "answer"})
	proposals := newFakeProposalStore()

	ans, err := r.Ask(context.Background(), "sess-1", "meet-1", "", "anything", false, fakeEvidence{}, proposals)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.TierUsed != domain.TierDocs {
		t.Fatalf("expected tier1_docs, got %s", ans.TierUsed)
	}
}

func TestApproveToolCallRejectedLogsBlockedTier(t *testing.T) {
	sink := &fakeSink{}
	r := New(fakeDocs{}, fakeWeb{}, sink, fakeQAModel{})
	proposals := newFakeProposalStore()
	proposals.PutProposal(&domain.ToolCallProposal{ProposalID: "p1", QueryID: "q1", Status: domain.ProposalPending})

	ans, err := r.ApproveToolCall(context.Background(), "sess-1", "p1", false, proposals)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ans.TierUsed != domain.TierBlocked {
		t.Fatalf("expected blocked tier, got %s", ans.TierUsed)
	}
	if len(sink.events) != 1 || sink.events[0].TierUsed != domain.TierBlocked {
		t.Fatalf("expected blocked event persisted, got %+v", sink.events)
	}
}

func TestApproveToolCallApprovedUsesWebTier(t *testing.T) {
	sink := &fakeSink{}
	web := fakeWeb{hits: []domain.Citation{{Source: "search-result"}}}
	r := New(fakeDocs{}, web, sink, fakeQAModel{answer: "found it"})
	proposals := newFakeProposalStore()
	proposals.PutProposal(&domain.ToolCallProposal{ProposalID: "p1", QueryID: "q1", Question: "q", Status: domain.ProposalPending})

	ans, err := r.ApproveToolCall(context.Background(), "sess-1", "p1", true, proposals)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ans.TierUsed != domain.TierWeb {
		t.Fatalf("expected tier2_web, got %s", ans.TierUsed)
	}
	if len(ans.Citations) != 1 || ans.Citations[0].Type != "web" {
		t.Fatalf("expected web citation type stamped, got %+v", ans.Citations)
	}
}
