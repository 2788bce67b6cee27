package gateway

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/notemesh/realtime-core/internal/bus"
	"github.com/notemesh/realtime-core/internal/capture"
	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/internal/qna"
	"github.com/notemesh/realtime-core/internal/recap"
	"github.com/notemesh/realtime-core/internal/session"
	"github.com/notemesh/realtime-core/internal/stt"
	"github.com/notemesh/realtime-core/internal/videodetect"
)

// Transcriber is the batch ASR dependency (C4). It is satisfied by
// *stt.Client directly, or by *resilience.STTFallback when a secondary ASR
// backend is configured for failover.
type Transcriber interface {
	Transcribe(ctx context.Context, sessionID string, rec domain.AudioRecord) stt.Result
}

// Store is the subset of the persistence adapter (C10) the gateway writes
// to and reads from directly. It is satisfied by *postgres.Store; kept as
// an interface here so the gateway depends on a contract, not a concrete
// driver (§9 "model explicitly as injected dependencies").
type Store interface {
	recap.SegmentReader
	recap.FrameReader
	recap.PriorTopicReader
	qna.DocRetriever

	UpsertROI(ctx context.Context, sessionID string, roi domain.Rect) error
	UpsertAudioRecord(ctx context.Context, rec domain.AudioRecord, asrError string) error
	InsertSegments(ctx context.Context, meetingID string, meetingStartMs int64, segs []domain.TranscriptSegment) error
	InsertCapturedFrame(ctx context.Context, frame domain.CapturedFrame, visualTsSec float64) error
	InsertRecapWindow(ctx context.Context, win domain.RecapWindow) error
	SaveProposal(ctx context.Context, p domain.ToolCallProposal) error
	SaveQnaEvent(ctx context.Context, ev domain.QnaEvent) error
	UpsertSegmentEmbedding(ctx context.Context, segID string, embedding []float32) error
}

// Embedder computes a semantic embedding for a transcript segment. It is
// optional (nil in deployments with no embeddings provider configured), in
// which case segments are persisted without one and Tier-1 retrieval falls
// back to the text search already in place (§4.9).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// WebSearch is the human-gated Tier-2 search dependency, injected
// separately from Store since it has nothing to do with persistence.
type WebSearch = qna.WebSearch

// Config bundles the gateway's tunables, mostly mirroring §6's environment
// configuration table.
type Config struct {
	TokenSecret   []byte
	ExpectedAudio domain.AudioFormat
	RecordMs      int64
	STTEnabled    bool
	STTMode       string // "batch" today; reserved for future streaming modes
	MaxWorkers    int
	Session       session.Config
	DetectWidth   int
	DetectHeight  int
}

// DefaultConfig mirrors the documented environment defaults (§6).
func DefaultConfig() Config {
	return Config{
		ExpectedAudio: domain.AudioFormat{Codec: "pcm_s16le", SampleRate: 16000, Channels: 1},
		RecordMs:      30000,
		STTEnabled:    true,
		STTMode:       "batch",
		MaxWorkers:    8,
		DetectWidth:   320,
		DetectHeight:  180,
	}
}

func (g *Gateway) videoDetectWidth() int {
	if g.cfg.DetectWidth <= 0 {
		return 320
	}
	return g.cfg.DetectWidth
}

func (g *Gateway) videoDetectHeight() int {
	if g.cfg.DetectHeight <= 0 {
		return 180
	}
	return g.cfg.DetectHeight
}

// Gateway is the connection handler (C11): it owns the WebSocket channels,
// routes typed events to the session registry and pipeline components, and
// republishes every resulting domain event on the bus for subscribers.
type Gateway struct {
	cfg Config

	reg   *session.Registry
	bus   *bus.Bus
	stt   Transcriber
	cap   *capture.Capturer
	recap    *recap.Builder
	qna      *qna.Retriever
	store    Store
	embedder Embedder

	now func() time.Time

	sem chan struct{} // bounds concurrent off-ingress work (§5 worker pool)
}

// New creates a Gateway. Any of stt, cap, recapBuilder, qnaRetriever,
// store, or embedder may be nil in a reduced deployment (e.g. ingest-only
// tests); the corresponding pipeline stage is then skipped.
func New(cfg Config, reg *session.Registry, b *bus.Bus, sttClient Transcriber, cap *capture.Capturer, recapBuilder *recap.Builder, qnaRetriever *qna.Retriever, store Store, embedder Embedder) *Gateway {
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Gateway{
		cfg:      cfg,
		reg:      reg,
		bus:      b,
		stt:      sttClient,
		cap:      cap,
		recap:    recapBuilder,
		qna:      qnaRetriever,
		store:    store,
		embedder: embedder,
		now:      time.Now,
		sem:      make(chan struct{}, workers),
	}
}

// publish emits event on sessionID's bus and logs (never returns an error
// to callers: per §4.1 a gone session is non-fatal and simply discarded).
func (g *Gateway) publish(sessionID, event string, payload any) {
	if _, err := g.bus.Publish(sessionID, event, payload); err != nil {
		slog.Debug("gateway: publish to gone session", "session_id", sessionID, "event", event)
	}
}

// goAsync runs fn in a goroutine bounded by the worker semaphore, per §5's
// requirement that CPU- and I/O-bound work never block the ingress task.
func (g *Gateway) goAsync(fn func()) {
	g.sem <- struct{}{}
	go func() {
		defer func() { <-g.sem }()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("gateway: panic in async task", "recover", r)
			}
		}()
		fn()
	}()
}

// onAudioRecords is the completion path for every AudioRecord rotated or
// flushed out of C3: submit to STT, persist, append to the session
// transcript, and publish transcript_record_ready (plus any revised
// windows the new segments trigger).
func (g *Gateway) onAudioRecords(sessionID string, recs []domain.AudioRecord) {
	for _, rec := range recs {
		rec := rec
		g.goAsync(func() { g.processAudioRecord(sessionID, rec) })
	}
}

func (g *Gateway) processAudioRecord(sessionID string, rec domain.AudioRecord) {
	ctx := context.Background()
	sess, ok := g.reg.Get(sessionID)
	if !ok {
		return
	}

	var result stt.Result
	if g.stt != nil && g.cfg.STTEnabled {
		result = g.stt.Transcribe(ctx, sessionID, rec)
	}

	if g.store != nil {
		if err := g.store.UpsertAudioRecord(ctx, rec, result.ASRError); err != nil {
			slog.Error("gateway: persist audio record failed", "session_id", sessionID, "record_id", rec.RecordID, "err", err)
		}
		if len(result.Segments) > 0 {
			if err := g.store.InsertSegments(ctx, sess.MeetingID, sess.StartedMs, result.Segments); err != nil {
				slog.Error("gateway: persist segments failed", "session_id", sessionID, "record_id", rec.RecordID, "err", err)
			} else {
				g.embedSegments(sessionID, result.Segments)
			}
		}
	}

	revised := sess.CompleteRecord(rec.RecordID, result.Segments)

	readyPayload := map[string]any{
		"record_id":          rec.RecordID,
		"record_start_ts_ms": rec.StartMs,
		"record_end_ts_ms":   rec.EndMs,
		"segments":           result.Segments,
	}
	if result.ASRError != "" {
		readyPayload["asr_error"] = result.ASRError
	}
	g.publish(sessionID, EventTranscriptRecordReady, readyPayload)

	earliestMs := rec.StartMs
	for _, seg := range result.Segments {
		g.publish(sessionID, EventTranscriptLegacy, legacyTranscriptEvent(sess.MeetingID, seg, earliestMs))
	}

	if result.ASRError != "" {
		g.publish(sessionID, EventError, errorEvent{Code: ErrBatchASRFailed, Message: result.ASRError})
	}

	g.onWindowsDue(sessionID, revised)
}

// embedSegments computes and persists semantic embeddings for newly
// inserted segments, best-effort and off the ingress path: a failed or
// skipped embedding never blocks transcript delivery (§4.9 Tier 1 does not
// require it).
func (g *Gateway) embedSegments(sessionID string, segs []domain.TranscriptSegment) {
	if g.embedder == nil || len(segs) == 0 {
		return
	}
	for _, seg := range segs {
		seg := seg
		g.goAsync(func() {
			ctx := context.Background()
			vec, err := g.embedder.Embed(ctx, seg.Text)
			if err != nil {
				slog.Debug("gateway: embed segment failed", "session_id", sessionID, "seg_id", seg.SegID, "err", err)
				return
			}
			if err := g.store.UpsertSegmentEmbedding(ctx, seg.SegID, vec); err != nil {
				slog.Debug("gateway: upsert segment embedding failed", "session_id", sessionID, "seg_id", seg.SegID, "err", err)
			}
		})
	}
}

// legacyTranscriptEvent builds the backward-compatible per-segment payload,
// with time fields in seconds relative to baseMs (§4.11, §6).
func legacyTranscriptEvent(meetingID string, seg domain.TranscriptSegment, baseMs int64) map[string]any {
	timeStart := float64(seg.StartMs-baseMs) / 1000.0
	timeEnd := timeStart
	if seg.EndMs > 0 {
		timeEnd = float64(seg.EndMs-baseMs) / 1000.0
	}
	return map[string]any{
		"meeting_id": meetingID,
		"chunk":      seg.Text,
		"speaker":    seg.Speaker,
		"time_start": timeStart,
		"time_end":   timeEnd,
		"is_final":   true,
		"confidence": seg.Confidence,
		"lang":       "",
	}
}

// onWindowsDue builds and publishes a recap for every due/revised window.
func (g *Gateway) onWindowsDue(sessionID string, windows []domain.RecapWindow) {
	for _, w := range windows {
		w := w
		g.goAsync(func() { g.buildAndPublishWindow(sessionID, w) })
	}
}

func (g *Gateway) buildAndPublishWindow(sessionID string, due domain.RecapWindow) {
	if g.recap == nil {
		return
	}
	ctx := context.Background()
	sess, ok := g.reg.Get(sessionID)
	if !ok {
		return
	}

	win, err := g.recap.Build(ctx, sessionID, sess.Kind, "", due.StartMs, due.EndMs, due.Revision)
	if err != nil {
		slog.Error("gateway: recap build failed", "session_id", sessionID, "window_id", due.WindowID, "err", err)
		return
	}
	win.WindowID = due.WindowID

	if g.store != nil {
		if err := g.store.InsertRecapWindow(ctx, win); err != nil {
			slog.Error("gateway: persist recap window failed", "session_id", sessionID, "window_id", win.WindowID, "err", err)
		}
	}

	g.publish(sessionID, EventRecapWindowReady, win)
	g.publish(sessionID, EventStateLegacy, legacyStateEvent(win))
}

// legacyStateEvent shapes a RecapWindow into the old single-object `state`
// event for clients that predate windowed recaps (§4.11).
func legacyStateEvent(win domain.RecapWindow) map[string]any {
	var currentTopic, topicID string
	if len(win.Topics) > 0 {
		last := win.Topics[len(win.Topics)-1]
		currentTopic = last.Title
		topicID = last.TopicID
	}
	lines := make([]string, len(win.Recap))
	for i, l := range win.Recap {
		lines[i] = l.Text
	}
	return map[string]any{
		"stage":             "recap",
		"intent":            "",
		"live_recap":        lines,
		"current_topic_id":  topicID,
		"topic":             currentTopic,
		"topic_segments":    win.Topics,
		"actions":           win.Actions,
		"decisions":         win.Decisions,
		"risks":             win.Risks,
		"debug_info":        map[string]any{"parse_ok": win.ParseOK, "revision": win.Revision},
	}
}

// onSlideConfirmed runs the capture pipeline for a confirmed slide change
// and publishes slide_change_event followed by captured_frame_ready.
func (g *Gateway) onSlideConfirmed(sessionID, frameID string, img image.Image, roi domain.Rect, tsMs int64, res videodetect.Result) {
	g.publish(sessionID, EventSlideChange, map[string]any{
		"ts_ms":      tsMs,
		"frame_id":   frameID,
		"confidence": res.Confidence,
		"diff_score": res.Diff,
		"roi":        roi,
	})

	if g.cap == nil {
		return
	}
	g.goAsync(func() { g.captureAndPublish(sessionID, frameID, img, roi, tsMs, res.Diff) })
}

func (g *Gateway) captureAndPublish(sessionID, frameID string, img image.Image, roi domain.Rect, tsMs int64, diff domain.DiffScore) {
	ctx := context.Background()
	sess, ok := g.reg.Get(sessionID)
	if !ok {
		return
	}

	frame, visual, ok, err := g.cap.Capture(ctx, sess, sessionID, frameID, img, roi, tsMs, sess.StartedMs, diff, "slide_change")
	if err != nil {
		slog.Error("gateway: capture failed", "session_id", sessionID, "frame_id", frameID, "err", err)
		return
	}
	if !ok {
		return // deduplicated, nothing new to persist or publish
	}

	if g.store != nil {
		if err := g.store.InsertCapturedFrame(ctx, frame, visual.TimestampSec); err != nil {
			slog.Error("gateway: persist captured frame failed", "session_id", sessionID, "frame_id", frameID, "err", err)
		}
	}

	revised := sess.RecordCapturedFrame(frame)

	g.publish(sessionID, EventCapturedFrameReady, map[string]any{
		"ts_ms":    frame.TsMs,
		"frame_id": frame.FrameID,
		"uri":      frame.URI,
		"roi":      frame.ROI,
		"reason":   frame.CaptureReason,
	})

	g.onWindowsDue(sessionID, revised)
}
