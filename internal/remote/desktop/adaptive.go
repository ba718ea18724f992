package desktop

import (
	"errors"
	"sync"
	"time"
)

// AdaptiveConfig bounds the operating range of the rate controller.
type AdaptiveConfig struct {
	Encoder        *VideoEncoder
	InitialBitrate int
	MinBitrate     int
	MaxBitrate     int
	MaxFPS         int
}

// frameBitFloor is the fewest bits a frame should get before it is better
// to send fewer frames: screen content below ~5KB per frame smears text.
// Each rung's fps is derived from its bitrate through this floor.
const frameBitFloor = 40_000

// Link classification thresholds. Reports arrive about once per second
// from the viewer, so the sample window spans a handful of seconds.
const (
	linkWindow   = 5 // samples kept for classification
	congestedMin = 2 // congested samples in the window that force a drop
	climbStreak  = 3 // consecutive clean reports needed to climb one rung

	lossCongested = 0.05
	lossElevated  = 0.02
	lossClean     = 0.01
	rttElevated   = 300 * time.Millisecond
)

type linkSample struct {
	rtt  time.Duration
	loss float64
}

func (s linkSample) congested() bool {
	return s.loss >= lossCongested || (s.loss >= lossElevated && s.rtt >= rttElevated)
}

func (s linkSample) clean() bool {
	return s.loss <= lossClean
}

// rung is one discrete operating point on the quality ladder.
type rung struct {
	bitrate int
	fps     int
	quality QualityPreset
}

// AdaptiveBitrate tunes the encoder from the viewer's periodic link
// reports by walking a ladder of discrete operating rungs. Congestion
// (a window with repeated lossy reports) drops two rungs at once so the
// link clears quickly; a streak of clean reports climbs back one rung at
// a time. Bitrate, framerate, and quality preset always move together,
// so no rung ever spends its budget on frames too starved to read.
type AdaptiveBitrate struct {
	mu      sync.Mutex
	encoder *VideoEncoder

	minBitrate int
	maxBitrate int
	maxFPS     int

	ladder []rung
	idx    int

	window []linkSample
	streak int
}

func NewAdaptiveBitrate(cfg AdaptiveConfig) (*AdaptiveBitrate, error) {
	if cfg.Encoder == nil {
		return nil, errors.New("encoder is required")
	}
	if cfg.MinBitrate <= 0 || cfg.MaxBitrate <= 0 || cfg.MinBitrate > cfg.MaxBitrate {
		return nil, errors.New("invalid bitrate bounds")
	}
	maxFPS := cfg.MaxFPS
	if maxFPS <= 0 {
		maxFPS = 60
	}

	a := &AdaptiveBitrate{
		encoder:    cfg.Encoder,
		minBitrate: cfg.MinBitrate,
		maxBitrate: cfg.MaxBitrate,
		maxFPS:     maxFPS,
	}
	a.ladder = buildLadder(cfg.MinBitrate, cfg.MaxBitrate, maxFPS)
	a.idx = a.rungAtOrBelow(cfg.InitialBitrate)
	return a, nil
}

// buildLadder lays out geometric bitrate steps from lo to hi, each with
// the framerate its budget affords and a quality preset matching its
// position on the ladder.
func buildLadder(lo, hi, maxFPS int) []rung {
	var ladder []rung
	for b := lo; b < hi; b = b * 8 / 5 {
		ladder = append(ladder, makeRung(b, maxFPS))
	}
	ladder = append(ladder, makeRung(hi, maxFPS))
	for i := range ladder {
		ladder[i].quality = qualityForPosition(i, len(ladder))
	}
	return ladder
}

func makeRung(bitrate, maxFPS int) rung {
	return rung{
		bitrate: bitrate,
		fps:     clampInt(bitrate/frameBitFloor, 10, maxFPS),
	}
}

// qualityForPosition maps a rung's ladder position to a preset: the
// bottom quarter runs low, the top quarter ultra.
func qualityForPosition(i, total int) QualityPreset {
	if total <= 1 {
		return QualityMedium
	}
	switch {
	case i*4 < total:
		return QualityLow
	case i*4 >= total*3:
		return QualityUltra
	case i*2 >= total:
		return QualityHigh
	default:
		return QualityMedium
	}
}

func (a *AdaptiveBitrate) rungAtOrBelow(bitrate int) int {
	idx := 0
	for i, r := range a.ladder {
		if r.bitrate <= bitrate {
			idx = i
		}
	}
	return idx
}

// SetMaxFPS updates the framerate ceiling (viewer set_fps control
// message). The ladder's rungs are re-derived under the new cap.
func (a *AdaptiveBitrate) SetMaxFPS(max int) {
	if a == nil || max <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxFPS = max
	for i := range a.ladder {
		a.ladder[i].fps = clampInt(a.ladder[i].bitrate/frameBitFloor, 10, max)
	}
	a.applyLocked("fps_cap")
}

// SetMaxBitrate rebuilds the ladder under a new ceiling (viewer bitrate
// slider). The current rung carries over by bitrate, clamping down if it
// now sits above the top.
func (a *AdaptiveBitrate) SetMaxBitrate(max int) {
	if a == nil || max <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if max < a.minBitrate {
		max = a.minBitrate
	}
	current := a.ladder[a.idx].bitrate
	a.maxBitrate = max
	a.ladder = buildLadder(a.minBitrate, max, a.maxFPS)
	a.idx = a.rungAtOrBelow(current)
	a.applyLocked("ceiling")
}

// Update feeds one viewer link report. Movement is decided from the
// report window, never a single sample: a lone spike cannot drop rungs
// and a lone clean report cannot climb.
func (a *AdaptiveBitrate) Update(rtt time.Duration, loss float64) {
	if a == nil {
		return
	}
	if loss < 0 {
		loss = 0
	}
	if loss > 1 {
		loss = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sample := linkSample{rtt: rtt, loss: loss}
	a.window = append(a.window, sample)
	if len(a.window) > linkWindow {
		a.window = a.window[1:]
	}

	congested := 0
	for _, s := range a.window {
		if s.congested() {
			congested++
		}
	}

	switch {
	case congested >= congestedMin:
		if a.idx > 0 {
			a.idx = clampInt(a.idx-2, 0, len(a.ladder)-1)
			a.applyLocked("drop")
		}
		// Start a fresh window so the post-drop link is judged on its
		// own reports, not the congestion that caused the drop.
		a.window = a.window[:0]
		a.streak = 0
	case sample.clean():
		a.streak++
		if a.streak >= climbStreak && a.idx < len(a.ladder)-1 {
			a.idx++
			a.streak = 0
			a.applyLocked("climb")
		}
	default:
		// Neither congested nor clean: hold position, break the streak.
		a.streak = 0
	}
}

// applyLocked pushes the current rung into the encoder. Callers hold a.mu.
func (a *AdaptiveBitrate) applyLocked(action string) {
	r := a.ladder[a.idx]
	log.Info("stream rate rung applied",
		"action", action,
		"rung", a.idx,
		"bitrate", r.bitrate,
		"fps", r.fps,
		"quality", r.quality,
	)
	if err := a.encoder.SetBitrate(r.bitrate); err != nil {
		log.Warn("failed to set bitrate", "bitrate", r.bitrate, "error", err)
	}
	if err := a.encoder.SetFPS(r.fps); err != nil {
		log.Warn("failed to set fps", "fps", r.fps, "error", err)
	}
	if err := a.encoder.SetQuality(r.quality); err != nil {
		log.Warn("failed to set quality", "quality", r.quality, "error", err)
	}
}

// Rung reports the current operating point, for logging and tests.
func (a *AdaptiveBitrate) Rung() (bitrate, fps int, quality QualityPreset) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.ladder[a.idx]
	return r.bitrate, r.fps, r.quality
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
