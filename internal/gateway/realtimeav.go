package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/internal/qna"
	"github.com/notemesh/realtime-core/internal/session"
)

// ServeRealtimeAV handles the multiplexed realtime-av channel: one
// connection accepting session_control, audio_chunk, video_frame_meta,
// user_query, and approve_tool_call events, with live bus events and direct
// replies interleaved on the same socket (§4.11).
func (g *Gateway) ServeRealtimeAV(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.authenticate(w, r)
	if !ok {
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := g.reg.Ensure(sessionID)
	sub := g.bus.Subscribe(sessionID)
	defer sub.Unsubscribe()

	go g.forwardBusEvents(ctx, c, sub)

	_ = writeDirect(ctx, c, EventConnected, map[string]any{"channel": "realtime-av", "session_id": sessionID})

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				g.doFlush(sessionID)
			}
			return
		}
		g.dispatchRealtimeAV(ctx, c, sess, sessionID, data)
	}
}

// dispatchRealtimeAV decodes the generic envelope and routes to a typed
// handler. Per §7, no failure here closes the connection: invalid JSON,
// validation errors, unknown events, and panics all become an `error`
// reply and the loop continues.
func (g *Gateway) dispatchRealtimeAV(ctx context.Context, c *websocket.Conn, sess *session.Session, sessionID string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("gateway: panic handling realtime-av event", "session_id", sessionID, "recover", r)
			_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrServerError, Message: "internal error"})
		}
	}()

	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrInvalidJSON, Message: err.Error()})
		return
	}

	switch env.Event {
	case EventSessionControl:
		g.handleSessionControl(ctx, c, sess, sessionID, data)
	case EventAudioChunk:
		g.handleAudioChunk(ctx, c, sess, sessionID, data)
	case EventVideoFrameMeta:
		g.handleVideoFrameMeta(ctx, c, sess, sessionID, data)
	case EventUserQuery:
		g.handleUserQuery(ctx, c, sessionID, data)
	case EventApproveToolCall:
		g.handleApproveToolCall(ctx, c, sessionID, data)
	default:
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrUnsupportedEvent, Message: env.Event})
	}
}

func (g *Gateway) handleSessionControl(ctx context.Context, c *websocket.Conn, sess *session.Session, sessionID string, data []byte) {
	var env struct {
		Payload sessionControlPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrInvalidJSON, Message: err.Error()})
		return
	}
	p := env.Payload

	switch p.Action {
	case "start":
		sess.SetMeeting(p.MeetingID, p.MeetingType)
		sess.SetPaused(false)
		if p.ROI != nil && g.store != nil {
			if err := g.store.UpsertROI(ctx, sessionID, *p.ROI); err != nil {
				slog.Error("gateway: persist ROI failed", "session_id", sessionID, "err", err)
			}
		}
	case "pause":
		sess.SetPaused(true)
	case "stop":
		sess.SetPaused(true)
		g.doFlush(sessionID)
	default:
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrValidationError, Message: "unknown session_control action: " + p.Action})
	}
}

func (g *Gateway) handleAudioChunk(ctx context.Context, c *websocket.Conn, sess *session.Session, sessionID string, data []byte) {
	var env struct {
		Payload audioChunkPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrInvalidJSON, Message: err.Error()})
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(env.Payload.Payload)
	if err != nil {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrValidationError, Message: "payload is not valid base64"})
		return
	}

	recs, due, herr := sess.HandleAudioBytes(pcm, time.Now())
	if herr != nil {
		_ = writeDirect(ctx, c, EventAudioIngestStatus, map[string]any{
			"ts_ms": time.Now().UnixMilli(), "received_bytes": 0, "received_frames": 0,
			"accepted": false, "reason": "session_paused",
		})
		return
	}
	_ = writeDirect(ctx, c, EventAudioIngestOK, map[string]any{"received_bytes": len(pcm), "received_frames": 1})
	g.onAudioRecords(sessionID, recs)
	g.onWindowsDue(sessionID, due)
}

func (g *Gateway) handleVideoFrameMeta(ctx context.Context, c *websocket.Conn, sess *session.Session, sessionID string, data []byte) {
	var env struct {
		Payload videoFrameMetaPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrInvalidJSON, Message: err.Error()})
		return
	}
	p := env.Payload
	if p.ImageB64 == "" {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrValidationError, Message: "image_b64 is required"})
		return
	}

	img, err := decodeImageB64(p.ImageB64)
	if err != nil {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrValidationError, Message: err.Error()})
		return
	}

	roi := domain.Rect{}
	if p.ROI != nil {
		roi = *p.ROI
	}
	cropped := cropAndGray(img, roi, g.videoDetectWidth(), g.videoDetectHeight())

	now := time.Now()
	res, err := sess.SampleVideoFrame(cropped, now)
	if err != nil {
		_ = writeDirect(ctx, c, EventVideoIngestStatus, map[string]any{
			"ts_ms": now.UnixMilli(), "accepted": false, "reason": "session_paused",
		})
		return
	}
	if !res.Confirmed {
		return
	}

	frameID := p.FrameID
	if frameID == "" {
		frameID = fmt.Sprintf("%s:f%d", sessionID, now.UnixMilli())
	}
	g.onSlideConfirmed(sessionID, frameID, img, roi, now.UnixMilli()-sess.StartedMs, res)
}

func (g *Gateway) handleUserQuery(ctx context.Context, c *websocket.Conn, sessionID string, data []byte) {
	var env struct {
		Payload userQueryPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrInvalidJSON, Message: err.Error()})
		return
	}
	p := env.Payload
	if p.Text == "" {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrValidationError, Message: "text is required"})
		return
	}
	if g.qna == nil {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrServerError, Message: "question answering is not configured"})
		return
	}

	sess, ok := g.reg.Get(sessionID)
	if !ok {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrValidationError, Message: "unknown session"})
		return
	}

	webAllowed, _ := p.Scope["web_allowed"].(bool)
	g.goAsync(func() { g.runQuery(sessionID, sess.MeetingID, p.QueryID, p.Text, webAllowed, sess) })
}

func (g *Gateway) handleApproveToolCall(ctx context.Context, c *websocket.Conn, sessionID string, data []byte) {
	var env struct {
		Payload approveToolCallPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrInvalidJSON, Message: err.Error()})
		return
	}
	p := env.Payload
	if p.ProposalID == "" {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrValidationError, Message: "proposal_id is required"})
		return
	}
	if g.qna == nil {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrServerError, Message: "question answering is not configured"})
		return
	}
	g.goAsync(func() { g.runApproval(sessionID, p.ProposalID, p.Approved) })
}

// runQuery and runApproval run the Q&A retriever off the ingress task and
// publish the result (answer or proposal) on the bus (§4.9, §5).
func (g *Gateway) runQuery(sessionID, meetingID, queryID, text string, webAllowed bool, sess *session.Session) {
	ans, err := g.qna.Ask(context.Background(), sessionID, meetingID, queryID, text, webAllowed, sess, sess)
	if err != nil {
		slog.Error("gateway: qna ask failed", "session_id", sessionID, "err", err)
		g.publish(sessionID, EventError, errorEvent{Code: ErrServerError, Message: "question answering failed"})
		return
	}
	g.publishAnswer(sessionID, ans)
}

func (g *Gateway) runApproval(sessionID, proposalID string, approved bool) {
	sess, ok := g.reg.Get(sessionID)
	if !ok {
		return
	}
	ans, err := g.qna.ApproveToolCall(context.Background(), sessionID, proposalID, approved, sess)
	if err != nil {
		slog.Error("gateway: approve tool call failed", "session_id", sessionID, "err", err)
		g.publish(sessionID, EventError, errorEvent{Code: ErrServerError, Message: "approval failed"})
		return
	}
	g.publishAnswer(sessionID, ans)
}

func (g *Gateway) publishAnswer(sessionID string, ans qna.Answer) {
	if ans.Status == "proposal_emitted" {
		g.publish(sessionID, EventToolCallProposal, map[string]any{
			"proposal_id":       ans.Proposal.ProposalID,
			"reason":            "no session or document evidence answers this question",
			"suggested_queries": ans.Proposal.SuggestedQueries,
			"risk":              ans.Proposal.Risk,
		})
		return
	}
	g.publish(sessionID, EventQnaAnswer, map[string]any{
		"query_id":  ans.QueryID,
		"answer":    ans.AnswerText,
		"citations": ans.Citations,
		"tier_used": ans.TierUsed,
	})
}
