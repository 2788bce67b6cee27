// Package qna implements the tiered Q&A retriever (C9): session evidence
// first, then document retrieval, escalating to a human-approved web
// search only when both come up empty.
package qna

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/pkg/provider/llm"
)

const (
	maxLastSegments = 10
	maxDocHits      = 5
	recentFrames    = 3
)

// SessionEvidence exposes the session state the tier-0 search reads.
type SessionEvidence interface {
	AllSegments() []domain.TranscriptSegment
	RecentFrames(n int) []domain.CapturedFrame
}

// DocRetriever is the external document-retrieval function (Tier 1),
// bounded to one meeting.
type DocRetriever interface {
	Retrieve(ctx context.Context, meetingID, query string, limit int) ([]domain.Citation, error)
}

// WebSearch is the external, human-gated web-search function (Tier 2).
type WebSearch interface {
	Search(ctx context.Context, query string) ([]domain.Citation, error)
}

// EventSink persists QnaEvents and proposals.
type EventSink interface {
	SaveQnaEvent(ctx context.Context, ev domain.QnaEvent) error
	SaveProposal(ctx context.Context, p domain.ToolCallProposal) error
}

// ProposalStore holds pending proposals awaiting human approval, backed by
// the owning Session.
type ProposalStore interface {
	PutProposal(p *domain.ToolCallProposal)
	GetProposal(proposalID string) (*domain.ToolCallProposal, bool)
}

// Retriever answers questions using the tiered strategy of §4.9.
type Retriever struct {
	docs  DocRetriever
	web   WebSearch
	sink  EventSink
	model llm.Provider
}

// New creates a Retriever.
func New(docs DocRetriever, web WebSearch, sink EventSink, model llm.Provider) *Retriever {
	return &Retriever{docs: docs, web: web, sink: sink, model: model}
}

// Answer is the result of Ask: either a direct answer, or a pending
// proposal when the question could not be answered from session/document
// evidence and web search wasn't pre-approved.
type Answer struct {
	Status        string // "answered" | "proposal_emitted"
	QueryID       string
	AnswerText    string
	Citations     []domain.Citation
	TierUsed      domain.Tier
	Proposal      *domain.ToolCallProposal
}

// Ask runs the tiered retrieval for one question against one session's
// evidence.
func (r *Retriever) Ask(ctx context.Context, sessionID, meetingID, queryID, text string, webAllowed bool, evidence SessionEvidence, proposals ProposalStore) (Answer, error) {
	if queryID == "" {
		queryID = uuid.NewString()
	}

	var (
		tier0Cites []domain.Citation
		excerpt    string
		tier1Cites []domain.Citation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tier0Cites, excerpt = tier0Search(text, evidence)
		return nil
	})
	g.Go(func() error {
		cites, err := r.docs.Retrieve(gctx, meetingID, text, maxDocHits)
		if err != nil {
			return err
		}
		tier1Cites = cites
		return nil
	})
	if err := g.Wait(); err != nil {
		return Answer{}, fmt.Errorf("qna: tier1 retrieve: %w", err)
	}

	if len(tier0Cites) == 0 && len(tier1Cites) == 0 && !webAllowed {
		proposal := &domain.ToolCallProposal{
			ProposalID:       uuid.NewString(),
			QueryID:          queryID,
			SessionID:        sessionID,
			Question:         text,
			SuggestedQueries: []string{text},
			Risk:             "medium",
			Status:           domain.ProposalPending,
		}
		proposals.PutProposal(proposal)
		if err := r.sink.SaveProposal(ctx, *proposal); err != nil {
			return Answer{}, fmt.Errorf("qna: save proposal: %w", err)
		}
		return Answer{Status: "proposal_emitted", QueryID: queryID, Proposal: proposal}, nil
	}

	tier := domain.TierSession
	citations := tier0Cites
	if len(tier1Cites) > 0 {
		tier = domain.TierDocs
		citations = append(citations, tier1Cites...)
	}

	answerText, err := r.callQA(ctx, excerpt, citations)
	if err != nil {
		return Answer{}, fmt.Errorf("qna: call qa: %w", err)
	}

	ev := domain.QnaEvent{
		SessionID: sessionID,
		QueryID:   queryID,
		Question:  text,
		Answer:    answerText,
		Citations: citations,
		TierUsed:  tier,
	}
	if err := r.sink.SaveQnaEvent(ctx, ev); err != nil {
		return Answer{}, fmt.Errorf("qna: save event: %w", err)
	}

	return Answer{Status: "answered", QueryID: queryID, AnswerText: answerText, Citations: citations, TierUsed: tier}, nil
}

// ApproveToolCall handles the human approval/rejection of a pending
// proposal (§4.9). On approval, it runs the web search and answers; on
// rejection, it logs a blocked event and publishes a refusal. When no web
// search is configured, an approval also gets a refusal answer.
func (r *Retriever) ApproveToolCall(ctx context.Context, sessionID, proposalID string, approved bool, proposals ProposalStore) (Answer, error) {
	p, ok := proposals.GetProposal(proposalID)
	if !ok {
		return Answer{}, fmt.Errorf("qna: unknown proposal %s", proposalID)
	}

	if !approved {
		p.Status = domain.ProposalRejected
		if err := r.sink.SaveProposal(ctx, *p); err != nil {
			return Answer{}, fmt.Errorf("qna: save rejected proposal: %w", err)
		}
		ev := domain.QnaEvent{SessionID: sessionID, QueryID: p.QueryID, Question: p.Question, TierUsed: domain.TierBlocked}
		if err := r.sink.SaveQnaEvent(ctx, ev); err != nil {
			return Answer{}, fmt.Errorf("qna: save blocked event: %w", err)
		}
		return Answer{
			Status:     "answered",
			QueryID:    p.QueryID,
			AnswerText: "I can't search the web for this without approval.",
			TierUsed:   domain.TierBlocked,
		}, nil
	}

	if r.web == nil {
		return Answer{
			Status:     "answered",
			QueryID:    p.QueryID,
			AnswerText: "Web search is not available on this server.",
			TierUsed:   domain.TierBlocked,
		}, nil
	}

	p.Status = domain.ProposalApproved
	if err := r.sink.SaveProposal(ctx, *p); err != nil {
		return Answer{}, fmt.Errorf("qna: save approved proposal: %w", err)
	}

	webCites, err := r.web.Search(ctx, p.Question)
	if err != nil {
		return Answer{}, fmt.Errorf("qna: web search: %w", err)
	}
	for i := range webCites {
		webCites[i].Type = "web"
	}

	answerText, err := r.callQA(ctx, p.Question, webCites)
	if err != nil {
		return Answer{}, fmt.Errorf("qna: call qa: %w", err)
	}

	ev := domain.QnaEvent{SessionID: sessionID, QueryID: p.QueryID, Question: p.Question, Answer: answerText, Citations: webCites, TierUsed: domain.TierWeb}
	if err := r.sink.SaveQnaEvent(ctx, ev); err != nil {
		return Answer{}, fmt.Errorf("qna: save event: %w", err)
	}

	return Answer{Status: "answered", QueryID: p.QueryID, AnswerText: answerText, Citations: webCites, TierUsed: domain.TierWeb}, nil
}

func tier0Search(text string, evidence SessionEvidence) ([]domain.Citation, string) {
	tokens := tokenize(text)
	segs := evidence.AllSegments()

	var matched []domain.TranscriptSegment
	for _, s := range segs {
		if containsAnyToken(s.Text, tokens) {
			matched = append(matched, s)
		}
	}
	if len(matched) == 0 {
		start := 0
		if len(segs) > maxLastSegments {
			start = len(segs) - maxLastSegments
		}
		matched = segs[start:]
	}

	var cites []domain.Citation
	var excerptLines []string
	for _, s := range matched {
		cites = append(cites, domain.Citation{Type: "transcript", SegID: s.SegID, TsMs: s.StartMs, Speaker: s.Speaker})
		excerptLines = append(excerptLines, fmt.Sprintf("%s: %s", s.Speaker, s.Text))
	}
	for _, f := range evidence.RecentFrames(recentFrames) {
		cites = append(cites, domain.Citation{Type: "image", FrameID: f.FrameID, TsMs: f.TsMs, URI: f.URI})
	}

	return cites, strings.Join(excerptLines, "\n")
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	sort.Strings(fields)
	return fields
}

func containsAnyToken(text string, tokens []string) bool {
	lower := strings.ToLower(text)
	for _, t := range tokens {
		if t != "" && strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func (r *Retriever) callQA(ctx context.Context, excerpt string, citations []domain.Citation) (string, error) {
	prompt := fmt.Sprintf("Answer the question using only this evidence:\n%s\n\nCitations available: %d", excerpt, len(citations))
	resp, err := r.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "Answer concisely, citing only the evidence provided.",
		Messages:     []llm.Message{{Role: "user", Content: prompt}},
		Temperature:  0.1,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
