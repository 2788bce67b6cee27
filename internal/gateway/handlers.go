package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/coder/websocket"

	"github.com/notemesh/realtime-core/internal/bus"
	"github.com/notemesh/realtime-core/internal/domain"
)

// directEvent is the wire shape for a non-bus, connection-local reply —
// the handshake and per-message error events that only the sender needs to
// see (§4.11, §7).
type directEvent struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

func writeDirect(ctx context.Context, c *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(directEvent{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, data)
}

// forwardBusEvents relays every envelope published for sessionID to c until
// ctx is cancelled (the caller cancels it once its read loop exits) or a
// write fails. Per §5's ordering guarantee every subscriber sees the full
// seq-ordered stream.
func (g *Gateway) forwardBusEvents(ctx context.Context, c *websocket.Conn, sub *bus.Subscription) {
	for {
		select {
		case env := <-sub.C():
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := c.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// ── Audio channel ──────────────────────────────────────────────────────────

// ServeAudio handles the audio channel: a signed-token-gated connection that
// receives a JSON audio_start handshake, then raw binary PCM frames, per
// §4.11.
func (g *Gateway) ServeAudio(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.authenticate(w, r)
	if !ok {
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()
	ctx := r.Context()

	sess := g.reg.Ensure(sessionID)
	_ = writeDirect(ctx, c, EventConnected, map[string]any{"channel": "audio", "session_id": sessionID})

	typ, data, err := c.Read(ctx)
	if err != nil {
		return
	}
	var start audioStartPayload
	if typ != websocket.MessageText || json.Unmarshal(data, &start) != nil || start.Type != "audio_start" {
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrInvalidJSON, Message: "expected audio_start handshake"})
		c.Close(CloseAudioFormatMismatch, "invalid handshake")
		return
	}

	got := domain.AudioFormat{Codec: start.Codec, SampleRate: start.SampleRate, Channels: start.Channels}
	if !got.Matches(g.cfg.ExpectedAudio) {
		_ = writeDirect(ctx, c, EventError, map[string]any{
			"message":        "audio_format_mismatch",
			"expected_audio": g.cfg.ExpectedAudio,
		})
		c.Close(CloseAudioFormatMismatch, "audio_format_mismatch")
		return
	}

	_ = writeDirect(ctx, c, EventAudioStartAck, map[string]any{
		"accepted_audio": got,
		"stt_enabled":    g.cfg.STTEnabled,
		"stt_mode":       g.cfg.STTMode,
		"record_ms":      g.cfg.RecordMs,
	})

	var receivedBytes, receivedFrames int
	var anyBytes bool
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if anyBytes {
				g.doFlush(sessionID)
			}
			return
		}

		if typ == websocket.MessageBinary {
			recs, due, herr := sess.HandleAudioBytes(data, time.Now())
			if herr != nil {
				_ = writeDirect(ctx, c, EventAudioIngestStatus, map[string]any{
					"ts_ms": time.Now().UnixMilli(), "received_bytes": receivedBytes,
					"received_frames": receivedFrames, "accepted": false, "reason": "session_paused",
				})
				continue
			}
			anyBytes = true
			receivedBytes += len(data)
			receivedFrames++
			_ = writeDirect(ctx, c, EventAudioIngestOK, map[string]any{
				"received_bytes": receivedBytes, "received_frames": receivedFrames,
			})
			g.onAudioRecords(sessionID, recs)
			g.onWindowsDue(sessionID, due)
			continue
		}

		var ctrl struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &ctrl); err != nil {
			_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrInvalidJSON, Message: err.Error()})
			continue
		}
		if ctrl.Type == "stop" {
			if anyBytes {
				g.doFlush(sessionID)
			}
			c.Close(websocket.StatusNormalClosure, "stop")
			return
		}
		_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrUnsupportedEvent, Message: ctrl.Type})
	}
}

func (g *Gateway) doFlush(sessionID string) {
	sess, ok := g.reg.Get(sessionID)
	if !ok {
		return
	}
	rec, due, ok := sess.Flush(time.Now())
	if !ok {
		return
	}
	g.onAudioRecords(sessionID, []domain.AudioRecord{rec})
	g.onWindowsDue(sessionID, due)
}

// ── Ingest channel (test-only transcript injection) ────────────────────────

// ServeIngest accepts ingestSegmentPayload messages and appends them
// directly to the session transcript, bypassing STT entirely — a
// test-harness shortcut for exercising the recap/Q&A pipeline without a
// live STT backend (§4.11).
func (g *Gateway) ServeIngest(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.authenticate(w, r)
	if !ok {
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()
	ctx := r.Context()

	sess := g.reg.Ensure(sessionID)
	_ = writeDirect(ctx, c, EventConnected, map[string]any{"channel": "ingest", "session_id": sessionID})

	index := 0
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var in ingestSegmentPayload
		if err := json.Unmarshal(data, &in); err != nil {
			_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrInvalidJSON, Message: err.Error()})
			continue
		}
		if in.Text == "" {
			_ = writeDirect(ctx, c, EventError, errorEvent{Code: ErrValidationError, Message: "text is required"})
			continue
		}

		seg := domain.TranscriptSegment{
			SessionID:    sessionID,
			SegID:        domain.MakeSegID(sessionID, -1, index),
			RecordID:     -1,
			SegmentIndex: index,
			Speaker:      in.Speaker,
			StartMs:      in.StartMs,
			EndMs:        in.EndMs,
			Text:         in.Text,
		}
		index++

		due := sess.CompleteRecord(-1, []domain.TranscriptSegment{seg})
		g.publish(sessionID, EventTranscriptRecordReady, map[string]any{
			"record_id": -1, "record_start_ts_ms": in.StartMs, "record_end_ts_ms": in.EndMs,
			"segments": []domain.TranscriptSegment{seg},
		})
		g.onWindowsDue(sessionID, due)
	}
}

// ── Frontend channel ────────────────────────────────────────────────────────

// ServeFrontend handles the read-only frontend channel: replay persisted
// history, then forward every live bus event, per §4.11 and scenario S6.
func (g *Gateway) ServeFrontend(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.CloseNow()
	ctx := r.Context()

	sub := g.bus.Subscribe(sessionID)
	defer sub.Unsubscribe()

	_ = writeDirect(ctx, c, EventConnected, map[string]any{"channel": "frontend", "session_id": sessionID})
	g.replayHistory(ctx, c, sessionID)

	g.forwardBusEvents(ctx, c, sub)
}

// replayHistory emits one transcript_record_ready per persisted record
// group, in record_id order, followed by the legacy per-segment
// transcript_event stream with times relative to the earliest segment
// (§4.11, S6).
func (g *Gateway) replayHistory(ctx context.Context, c *websocket.Conn, sessionID string) {
	if g.store == nil {
		return
	}
	segs, err := g.store.SegmentsIn(ctx, sessionID, 0, 1<<62)
	if err != nil || len(segs) == 0 {
		return
	}
	sort.Slice(segs, func(i, j int) bool {
		if segs[i].RecordID != segs[j].RecordID {
			return segs[i].RecordID < segs[j].RecordID
		}
		return segs[i].SegID < segs[j].SegID
	})

	byRecord := make(map[int][]domain.TranscriptSegment)
	var order []int
	for _, seg := range segs {
		if _, seen := byRecord[seg.RecordID]; !seen {
			order = append(order, seg.RecordID)
		}
		byRecord[seg.RecordID] = append(byRecord[seg.RecordID], seg)
	}
	sort.Ints(order)

	earliestMs := segs[0].StartMs
	for _, recordID := range order {
		group := byRecord[recordID]
		_ = writeDirect(ctx, c, EventTranscriptRecordReady, map[string]any{
			"record_id":          recordID,
			"record_start_ts_ms": group[0].StartMs,
			"record_end_ts_ms":   group[len(group)-1].EndMs,
			"segments":           group,
		})
	}
	for _, recordID := range order {
		for _, seg := range byRecord[recordID] {
			_ = writeDirect(ctx, c, EventTranscriptLegacy, legacyTranscriptEvent("", seg, earliestMs))
		}
	}
}
