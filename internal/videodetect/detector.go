// Package videodetect implements the video change detector (C5): a pure,
// per-session state machine that samples incoming frames, hashes them, and
// confirms a slide change only after a run of above-threshold candidates
// passes a structural-similarity fallback check.
//
// Reference frames are held as raw pixel buffers rather than decoded
// images so the state machine has no dependency on an image codec; codec
// work (crop, grayscale, resize) lives in [github.com/notemesh/realtime-core/internal/imaging]
// and is done by the caller before Sample is invoked.
package videodetect

import (
	"math"
	"time"

	"github.com/notemesh/realtime-core/internal/domain"
)

// Config holds the tunables from §4.5; the server fills them from the
// video section of the YAML config.
type Config struct {
	SampleInterval time.Duration
	HashThreshold  int
	CandidateTicks int
	SSIMThreshold  float64
	Cooldown       time.Duration
	DetectWidth    int
	DetectHeight   int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		SampleInterval: time.Second,
		HashThreshold:  16,
		CandidateTicks: 2,
		SSIMThreshold:  0.90,
		Cooldown:       2 * time.Second,
		DetectWidth:    320,
		DetectHeight:   180,
	}
}

// State is the per-session detector state. Zero value is a fresh detector
// with no reference frame yet. Not safe for concurrent use; callers
// (Session, under its own lock) serialize access.
type State struct {
	cfg Config

	hasReference  bool
	refHash       uint64
	refGray       []byte
	candidateCnt  int
	lastSampledAt time.Time
	lastConfirmAt time.Time
	haveLastSample  bool
	haveLastConfirm bool
}

// New creates detector state using cfg.
func New(cfg Config) *State {
	return &State{cfg: cfg}
}

// Result describes the outcome of one Sample call.
type Result struct {
	// Sampled is false when the sampling gate rejected the frame (too soon
	// after the last sampled frame); all other fields are zero in that case.
	Sampled bool

	// Initialized is true exactly once: the first sampled frame becomes the
	// reference.
	Initialized bool

	CandidateCount int

	Confirmed bool
	Confidence float64
	Diff       domain.DiffScore
}

// Sample feeds one detection-ready grayscale frame (row-major, w x h,
// matching cfg.DetectWidth/DetectHeight) through the sampling gate and state
// machine. now is the frame's arrival time.
func (s *State) Sample(gray []byte, now time.Time) Result {
	if s.haveLastSample && now.Sub(s.lastSampledAt) < s.cfg.SampleInterval {
		return Result{Sampled: false}
	}
	s.lastSampledAt = now
	s.haveLastSample = true

	if !s.hasReference {
		s.refHash = DHash(gray, s.cfg.DetectWidth, s.cfg.DetectHeight)
		s.refGray = append([]byte(nil), gray...)
		s.hasReference = true
		return Result{Sampled: true, Initialized: true}
	}

	newHash := DHash(gray, s.cfg.DetectWidth, s.cfg.DetectHeight)
	dist := HammingDistance(s.refHash, newHash)

	withinCooldown := s.haveLastConfirm && now.Sub(s.lastConfirmAt) < s.cfg.Cooldown
	if dist > s.cfg.HashThreshold && !withinCooldown {
		s.candidateCnt++
	} else {
		s.candidateCnt = 0
	}

	res := Result{Sampled: true, CandidateCount: s.candidateCnt}

	if s.candidateCnt >= s.cfg.CandidateTicks {
		ssim := SSIM(s.refGray, gray, s.cfg.DetectWidth, s.cfg.DetectHeight)
		s.candidateCnt = 0
		res.CandidateCount = 0

		if ssim < s.cfg.SSIMThreshold {
			s.refHash = newHash
			s.refGray = append([]byte(nil), gray...)
			s.lastConfirmAt = now
			s.haveLastConfirm = true

			confidence := clip((float64(dist)/32+math.Max(0, 1-ssim))/2, 0, 1)
			res.Confirmed = true
			res.Confidence = confidence
			res.Diff = domain.DiffScore{HashDist: dist, SSIM: ssim}
		}
	}

	return res
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
