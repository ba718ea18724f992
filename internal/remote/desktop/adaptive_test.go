package desktop

import (
	"testing"
	"time"
)

func newAdaptiveForTest(t *testing.T) (*AdaptiveBitrate, *VideoEncoder) {
	t.Helper()
	enc := newTestEncoder(t, 16, 16, 30, func(VideoPacket) {})
	a, err := NewAdaptiveBitrate(AdaptiveConfig{
		Encoder:        enc,
		InitialBitrate: 2_000_000,
		MinBitrate:     250_000,
		MaxBitrate:     8_000_000,
		MaxFPS:         60,
	})
	if err != nil {
		t.Fatalf("NewAdaptiveBitrate: %v", err)
	}
	return a, enc
}

func TestAdaptiveLadderShape(t *testing.T) {
	a, enc := newAdaptiveForTest(t)
	defer enc.Close()

	if len(a.ladder) < 4 {
		t.Fatalf("ladder has %d rungs, want several between min and max", len(a.ladder))
	}
	if a.ladder[0].bitrate != 250_000 {
		t.Fatalf("bottom rung = %d, want the configured minimum", a.ladder[0].bitrate)
	}
	if top := a.ladder[len(a.ladder)-1]; top.bitrate != 8_000_000 {
		t.Fatalf("top rung = %d, want the configured maximum", top.bitrate)
	}
	for i := 1; i < len(a.ladder); i++ {
		if a.ladder[i].bitrate <= a.ladder[i-1].bitrate {
			t.Fatalf("ladder not strictly increasing at rung %d", i)
		}
		if a.ladder[i].fps < a.ladder[i-1].fps {
			t.Fatalf("fps decreases with bitrate at rung %d", i)
		}
	}
	if a.ladder[0].quality != QualityLow {
		t.Fatalf("bottom rung quality = %s, want low", a.ladder[0].quality)
	}
	if top := a.ladder[len(a.ladder)-1]; top.quality != QualityUltra {
		t.Fatalf("top rung quality = %s, want ultra", top.quality)
	}

	// The initial rung sits at or below the requested starting bitrate.
	bitrate, _, _ := a.Rung()
	if bitrate > 2_000_000 {
		t.Fatalf("initial rung %d exceeds requested start", bitrate)
	}
}

func TestAdaptiveDropsTwoRungsOnCongestion(t *testing.T) {
	a, enc := newAdaptiveForTest(t)
	defer enc.Close()

	startIdx := a.idx
	// Two congested reports inside the window force a drop.
	a.Update(50*time.Millisecond, 0.10)
	a.Update(50*time.Millisecond, 0.10)

	if a.idx != clampInt(startIdx-2, 0, len(a.ladder)-1) {
		t.Fatalf("idx = %d after congestion, want %d", a.idx, startIdx-2)
	}
	bitrate, _, _ := a.Rung()
	start := a.ladder[startIdx].bitrate
	if bitrate >= start {
		t.Fatalf("bitrate %d did not drop from %d under sustained loss", bitrate, start)
	}
}

func TestAdaptiveSingleSpikeHolds(t *testing.T) {
	a, enc := newAdaptiveForTest(t)
	defer enc.Close()

	startIdx := a.idx
	a.Update(20*time.Millisecond, 0)
	a.Update(20*time.Millisecond, 0.30) // one lossy report
	a.Update(20*time.Millisecond, 0)

	if a.idx < startIdx {
		t.Fatalf("a single loss spike dropped rungs: %d -> %d", startIdx, a.idx)
	}
}

func TestAdaptiveClimbsAfterCleanStreak(t *testing.T) {
	a, enc := newAdaptiveForTest(t)
	defer enc.Close()

	startIdx := a.idx
	for i := 0; i < climbStreak; i++ {
		a.Update(20*time.Millisecond, 0)
	}
	if a.idx != startIdx+1 {
		t.Fatalf("idx = %d after clean streak, want %d", a.idx, startIdx+1)
	}

	// An unclean (but not congested) report breaks the next streak.
	a.Update(20*time.Millisecond, 0.015)
	for i := 0; i < climbStreak-1; i++ {
		a.Update(20*time.Millisecond, 0)
	}
	if a.idx != startIdx+1 {
		t.Fatalf("streak survived an unclean report: idx = %d", a.idx)
	}
}

func TestAdaptiveHighRTTAloneDoesNotDrop(t *testing.T) {
	a, enc := newAdaptiveForTest(t)
	defer enc.Close()

	startIdx := a.idx
	// A long lossless path is not congestion; clean streaks still climb.
	for i := 0; i < climbStreak; i++ {
		a.Update(600*time.Millisecond, 0)
	}
	if a.idx < startIdx {
		t.Fatalf("lossless high-RTT path dropped rungs: %d -> %d", startIdx, a.idx)
	}
	if a.idx != startIdx+1 {
		t.Fatalf("lossless high-RTT path should still climb: idx = %d", a.idx)
	}
}

func TestAdaptiveCeilingRebuild(t *testing.T) {
	a, enc := newAdaptiveForTest(t)
	defer enc.Close()

	a.SetMaxBitrate(1_000_000)
	bitrate, _, _ := a.Rung()
	if bitrate > 1_000_000 {
		t.Fatalf("rung %d exceeds the lowered ceiling", bitrate)
	}
	if top := a.ladder[len(a.ladder)-1]; top.bitrate != 1_000_000 {
		t.Fatalf("ladder top = %d after ceiling change, want 1000000", top.bitrate)
	}
}

func TestAdaptiveFPSCap(t *testing.T) {
	a, enc := newAdaptiveForTest(t)
	defer enc.Close()

	a.SetMaxFPS(15)
	for i, r := range a.ladder {
		if r.fps > 15 {
			t.Fatalf("rung %d fps = %d exceeds the cap", i, r.fps)
		}
	}
}

func TestAdaptiveFloorHolds(t *testing.T) {
	a, enc := newAdaptiveForTest(t)
	defer enc.Close()

	// Hammer congestion: the controller must stop at the bottom rung.
	for i := 0; i < 20; i++ {
		a.Update(50*time.Millisecond, 0.20)
	}
	bitrate, fps, quality := a.Rung()
	if bitrate != 250_000 {
		t.Fatalf("floor bitrate = %d, want 250000", bitrate)
	}
	if fps < 1 || quality != QualityLow {
		t.Fatalf("floor rung = %d fps %s quality", fps, quality)
	}
}
