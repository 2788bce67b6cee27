// Package gateway implements the connection handler (C11): the WebSocket
// surface that exposes a session's audio, ingest, and frontend channels plus
// a multiplexed realtime-av channel, and the small HTTP surface
// (/healthz, /metrics, /files) that sits alongside it.
package gateway

import "github.com/notemesh/realtime-core/internal/domain"

// Inbound event names accepted on the realtime-av channel (§6 event
// vocabulary, client→server rows).
const (
	EventSessionControl   = "session_control"
	EventAudioChunk       = "audio_chunk"
	EventVideoFrameMeta   = "video_frame_meta"
	EventUserQuery        = "user_query"
	EventApproveToolCall  = "approve_tool_call"
)

// Outbound event names published to clients (§6, server→client rows).
const (
	EventConnected            = "connected"
	EventAudioStartAck        = "audio_start_ack"
	EventAudioIngestOK        = "audio_ingest_ok"
	EventAudioIngestStatus    = "audio_ingest_status"
	EventVideoIngestStatus    = "video_ingest_status"
	EventTranscriptRecordReady = "transcript_record_ready"
	EventTranscriptLegacy     = "transcript_event"
	EventSlideChange          = "slide_change_event"
	EventCapturedFrameReady   = "captured_frame_ready"
	EventRecapWindowReady     = "recap_window_ready"
	EventStateLegacy          = "state"
	EventToolCallProposal     = "tool_call_proposal"
	EventQnaAnswer            = "qna_answer"
	EventError                = "error"
)

// Error codes used in the error{code,message} envelope (§7).
const (
	ErrInvalidJSON      = "invalid_json"
	ErrValidationError  = "validation_error"
	ErrUnsupportedEvent = "unsupported_event"
	ErrServerError      = "server_error"
	ErrBatchASRFailed   = "batch_asr_failed"
)

// Close codes for the two conditions allowed to tear a connection down (§7).
const (
	CloseAudioFormatMismatch = 1003
	CloseBadAuth             = 1008
)

// inboundEnvelope is the generic shape every realtime-av message is first
// decoded into before being routed to a typed payload by Event (§9: "tagged
// variants for each event kind, strict decoding at the boundary").
type inboundEnvelope struct {
	Event string `json:"event"`
	Type  string `json:"type"`
}

// sessionControlPayload is the body of a session_control event.
type sessionControlPayload struct {
	Action      string           `json:"action"`
	MeetingID   string           `json:"meeting_id"`
	MeetingType string           `json:"meeting_type"`
	ROI         *domain.Rect     `json:"roi"`
	AudioFormat *domain.AudioFormat `json:"audio_format"`
}

// audioChunkPayload is the body of an audio_chunk event delivered over the
// realtime-av channel (base64 PCM rather than a raw binary frame).
type audioChunkPayload struct {
	Seq     int64  `json:"seq"`
	Payload string `json:"payload"`
	TsHint  int64  `json:"ts_hint"`
}

// videoFrameMetaPayload is the body of a video_frame_meta event.
type videoFrameMetaPayload struct {
	FrameID  string       `json:"frame_id"`
	ImageB64 string       `json:"image_b64"`
	ROI      *domain.Rect `json:"roi"`
	Checksum string       `json:"checksum"`
	TsHint   int64        `json:"ts_hint"`
}

// userQueryPayload is the body of a user_query event.
type userQueryPayload struct {
	QueryID string         `json:"query_id"`
	Text    string         `json:"text"`
	Scope   map[string]any `json:"scope"`
}

// approveToolCallPayload is the body of an approve_tool_call event.
type approveToolCallPayload struct {
	ProposalID  string         `json:"proposal_id"`
	Approved    bool           `json:"approved"`
	Constraints map[string]any `json:"constraints"`
}

// audioStartPayload is the audio-channel JSON handshake message (§4.11).
type audioStartPayload struct {
	Type       string `json:"type"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate_hz"`
	Channels   int    `json:"channels"`
}

// ingestSegmentPayload is the test-only transcript-injection message accepted
// on the ingest channel, bypassing STT entirely.
type ingestSegmentPayload struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// errorEvent is the wire shape of an `error` envelope payload.
type errorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
