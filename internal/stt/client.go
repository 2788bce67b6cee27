// Package stt implements the batch STT client (C4): for each finalized
// audio record it writes a temp WAV, submits it to an external batch
// transcription endpoint over HTTP, and normalizes whatever shape of
// response comes back into [github.com/notemesh/realtime-core/internal/domain.TranscriptSegment]
// values.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/notemesh/realtime-core/internal/domain"
)

// Client submits finalized audio records to a batch ASR HTTP endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates a Client targeting url (env ASR_URL).
func New(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{url: url, httpClient: httpClient}
}

// Result is what Transcribe always returns: either populated Segments, or
// ASRError set and Segments empty. Per §4.4, a failed submission still
// produces a transcript_record_ready event — it is never treated as fatal
// to the session.
type Result struct {
	Segments []domain.TranscriptSegment
	ASRError string
}

// Transcribe writes rec's PCM as a temp WAV, submits it, and normalizes the
// response. The temp file is removed before return regardless of outcome.
func (c *Client) Transcribe(ctx context.Context, sessionID string, rec domain.AudioRecord) Result {
	path, err := writeTempWAV(rec.PCM)
	if err != nil {
		return Result{ASRError: err.Error()}
	}
	defer os.Remove(path)

	raw, err := c.submit(ctx, path)
	if err != nil {
		return Result{ASRError: err.Error()}
	}

	segs := normalize(raw, sessionID, rec.RecordID, rec.StartMs, rec.EndMs)
	return Result{Segments: segs}
}

func (c *Client) submit(ctx context.Context, wavPath string) (rawResponse, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return rawResponse{}, fmt.Errorf("stt: open wav: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return rawResponse{}, fmt.Errorf("stt: create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return rawResponse{}, fmt.Errorf("stt: copy wav into form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return rawResponse{}, fmt.Errorf("stt: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return rawResponse{}, fmt.Errorf("stt: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rawResponse{}, fmt.Errorf("stt: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResponse{}, fmt.Errorf("stt: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return rawResponse{}, fmt.Errorf("stt: batch_asr_failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var raw rawResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return rawResponse{}, fmt.Errorf("stt: decode response: %w", err)
	}
	return raw, nil
}

// rawResponse captures the union of shapes the external ASR endpoint may
// return (§4.4).
type rawResponse struct {
	Segments      []rawSegment `json:"segments"`
	Transcription []rawSegment `json:"transcription"`
	Text          string       `json:"text"`
	Transcript    string       `json:"transcript"`
}

type rawSegment struct {
	Text      string      `json:"text"`
	Speaker   string      `json:"speaker"`
	Offset    string      `json:"offset"`
	Start     json.Number `json:"start"`
	StartTime json.Number `json:"start_time"`
	TimeStart json.Number `json:"time_start"`
	End       json.Number `json:"end"`
	Offsets   *struct {
		From float64 `json:"from"`
		To   float64 `json:"to"`
	} `json:"offsets"`
	Timestamps *struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"timestamps"`
}

func normalize(raw rawResponse, sessionID string, recordID int, recordStartMs, recordEndMs int64) []domain.TranscriptSegment {
	segs := raw.Segments
	if len(segs) == 0 {
		segs = raw.Transcription
	}
	if len(segs) == 0 {
		text := strings.TrimSpace(raw.Text)
		if text == "" {
			text = strings.TrimSpace(raw.Transcript)
		}
		if text == "" {
			return nil
		}
		segs = []rawSegment{{Text: text}}
	}

	out := make([]domain.TranscriptSegment, 0, len(segs))
	index := 0
	for _, rs := range segs {
		text := strings.TrimSpace(rs.Text)
		if text == "" {
			continue
		}
		speaker := rs.Speaker
		if speaker == "" {
			speaker = "SPEAKER_01"
		}

		startRelMs, endRelMs := resolveOffsets(rs, recordEndMs-recordStartMs)
		startMs := recordStartMs + startRelMs
		endMs := recordStartMs + endRelMs
		if endMs < startMs {
			endMs = startMs
		}

		out = append(out, domain.TranscriptSegment{
			SessionID:    sessionID,
			RecordID:     recordID,
			SegmentIndex: index,
			SegID:        domain.MakeSegID(sessionID, recordID, index),
			Speaker:      speaker,
			StartMs:      startMs,
			EndMs:        endMs,
			Text:         text,
		})
		index++
	}
	return out
}

// resolveOffsets derives relative start/end in ms per §4.4's resolution
// order: whisper-style offsets.from/to (already ms) > timestamps.from/to
// (HH:MM:SS,mmm) > explicit offset mm:ss > numeric start/start_time/
// time_start (int -> ms, float -> seconds) > 0. End falls back to
// recordLenMs (the whole record) when nothing else is available.
func resolveOffsets(rs rawSegment, recordLenMs int64) (startMs, endMs int64) {
	if rs.Offsets != nil {
		return int64(rs.Offsets.From), int64(rs.Offsets.To)
	}
	if rs.Timestamps != nil {
		start := parseClockMs(rs.Timestamps.From)
		end := parseClockMs(rs.Timestamps.To)
		return start, end
	}
	if rs.Offset != "" {
		if ms, ok := parseMinSec(rs.Offset); ok {
			return ms, recordLenMs
		}
	}
	if start, ok := parseNumericMs(rs.Start); ok {
		return start, recordLenMs
	}
	if start, ok := parseNumericMs(rs.StartTime); ok {
		return start, recordLenMs
	}
	if start, ok := parseNumericMs(rs.TimeStart); ok {
		return start, recordLenMs
	}
	return 0, recordLenMs
}

// parseMinSec parses "mm:ss" into milliseconds.
func parseMinSec(s string) (int64, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	min, err1 := strconv.Atoi(parts[0])
	sec, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return int64(min*60+sec) * 1000, true
}

// parseClockMs parses "HH:MM:SS,mmm" into milliseconds.
func parseClockMs(s string) int64 {
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	secF, _ := strconv.ParseFloat(parts[2], 64)
	total := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(secF*float64(time.Second))
	return total.Milliseconds()
}

// parseNumericMs interprets an integer number as already-ms, a float
// number as seconds to be converted to ms, per §4.4.
func parseNumericMs(n json.Number) (int64, bool) {
	if n == "" {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	if f, err := n.Float64(); err == nil {
		return int64(f * 1000), true
	}
	return 0, false
}
