package resilience

import (
	"context"
	"errors"

	"github.com/notemesh/realtime-core/internal/domain"
	"github.com/notemesh/realtime-core/internal/stt"
)

// errTranscribeFailed lets a [Result] with ASRError set participate in
// circuit-breaker accounting, since [stt.Client.Transcribe] never returns a
// Go error — it reports submission failure via Result.ASRError instead
// (§4.4: a failed submission is never fatal to the session).
var errTranscribeFailed = errors.New("resilience: batch asr submission failed")

// Transcriber is satisfied by [*stt.Client]; narrowed here so fallback
// composition does not depend on the client's concrete type.
type Transcriber interface {
	Transcribe(ctx context.Context, sessionID string, rec domain.AudioRecord) stt.Result
}

// STTFallback implements [Transcriber] with automatic failover across
// multiple batch ASR endpoints. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[Transcriber]
}

// Compile-time interface assertion.
var _ Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional batch ASR endpoint as a fallback.
func (f *STTFallback) AddFallback(name string, provider Transcriber) {
	f.group.AddFallback(name, provider)
}

// Transcribe submits rec to the first healthy backend. A backend whose
// Result carries ASRError counts as a circuit-breaker failure and the next
// backend is tried; if every backend fails, the last backend's Result
// (with ASRError populated) is returned rather than [ErrAllFailed], since
// Transcriber.Transcribe has no error return to carry it.
func (f *STTFallback) Transcribe(ctx context.Context, sessionID string, rec domain.AudioRecord) stt.Result {
	var lastResult stt.Result
	res, err := ExecuteWithResult(f.group, func(p Transcriber) (stt.Result, error) {
		r := p.Transcribe(ctx, sessionID, rec)
		lastResult = r
		if r.ASRError != "" {
			return r, errTranscribeFailed
		}
		return r, nil
	})
	if err != nil {
		return lastResult
	}
	return res
}
