// Package capture implements the frame capturer (C6): given a confirmed
// slide-change frame, it resizes and encodes the frame, computes a content
// checksum for deduplication, persists it to object storage, and builds the
// domain records the gateway publishes and the store persists.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"

	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/internal/imaging"
	"github.com/notemesh/realtime-core/internal/objectstore"
)

// Config holds the capture tunables from §4.6 (env CAPTURE_WIDTH,
// CAPTURE_HEIGHT).
type Config struct {
	Width       int
	Height      int
	JPEGQuality int
	KeyPrefix   string // e.g. "realtime_captures"
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Width: 960, Height: 540, JPEGQuality: 85, KeyPrefix: "realtime_captures"}
}

// Capturer resizes, encodes, deduplicates, and persists confirmed-change
// frames.
type Capturer struct {
	cfg   Config
	store objectstore.Store
}

// New creates a Capturer backed by store.
func New(cfg Config, store objectstore.Store) *Capturer {
	return &Capturer{cfg: cfg, store: store}
}

// SeenChecksums is implemented by the session's per-session dedup index:
// (session_id, checksum) is a unique constraint per §4.6, so duplicate
// captures for the same content are silently dropped before any object
// store write.
type SeenChecksums interface {
	// Seen reports whether checksum has already been captured for
	// sessionID, recording it if not (atomic check-and-set).
	Seen(sessionID, checksum string) bool
}

// Capture resizes img, encodes it (WEBP with JPEG fallback), checksums the
// result, and — unless already seen for this session — persists it and
// returns the resulting CapturedFrame plus a VisualEvent timeline entry.
// ok is false when the frame was a checksum duplicate; no frame is returned
// in that case.
func (c *Capturer) Capture(ctx context.Context, dedup SeenChecksums, sessionID, frameID string, img image.Image, roi domain.Rect, tsMs, startedMs int64, diff domain.DiffScore, reason string) (frame domain.CapturedFrame, visual VisualEvent, ok bool, err error) {
	data, ext, err := imaging.CaptureFrame(img, c.cfg.Width, c.cfg.Height, c.cfg.JPEGQuality)
	if err != nil {
		return domain.CapturedFrame{}, VisualEvent{}, false, fmt.Errorf("capture: encode: %w", err)
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	if dedup.Seen(sessionID, checksum) {
		return domain.CapturedFrame{}, VisualEvent{}, false, nil
	}

	key := fmt.Sprintf("%s/%s/%s.%s", c.cfg.KeyPrefix, sessionID, frameID, ext)
	contentType := "image/jpeg"
	if ext == "webp" {
		contentType = "image/webp"
	}
	uri, err := c.store.PutObject(ctx, key, data, contentType)
	if err != nil {
		return domain.CapturedFrame{}, VisualEvent{}, false, fmt.Errorf("capture: put object: %w", err)
	}

	frame = domain.CapturedFrame{
		SessionID:     sessionID,
		FrameID:       frameID,
		TsMs:          tsMs,
		ROI:           roi,
		Checksum:      checksum,
		URI:           uri,
		Diff:          diff,
		CaptureReason: reason,
	}
	visual = VisualEvent{
		TimestampSec: float64(tsMs-startedMs) / 1000,
		ImageURL:     uri,
		EventType:    "slide_change",
	}
	return frame, visual, true, nil
}

// VisualEvent is the lightweight timeline row recorded alongside a capture
// for later timeline queries (§4.6).
type VisualEvent struct {
	TimestampSec float64
	ImageURL     string
	EventType    string
}
