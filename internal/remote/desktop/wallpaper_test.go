package desktop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// stubWallpaperBackend records calls for testing.
type stubWallpaperBackend struct {
	current       *WallpaperState
	setBlackCount int
	restoreCount  int
	lastRestored  *WallpaperState
	failSetBlack  bool
	failRestore   bool
}

func (s *stubWallpaperBackend) GetCurrent() (*WallpaperState, error) {
	if s.current != nil {
		cp := *s.current
		return &cp, nil
	}
	return &WallpaperState{WallpaperPath: "/test/wallpaper.png"}, nil
}

func (s *stubWallpaperBackend) SetSolidBlack() error {
	s.setBlackCount++
	if s.failSetBlack {
		return fmt.Errorf("SetSolidBlack failed")
	}
	return nil
}

func (s *stubWallpaperBackend) Restore(state *WallpaperState) error {
	s.restoreCount++
	s.lastRestored = state
	if s.failRestore {
		return fmt.Errorf("Restore failed")
	}
	return nil
}

func newTestGuard(t *testing.T) (*WallpaperGuard, *stubWallpaperBackend) {
	t.Helper()
	backend := &stubWallpaperBackend{}
	g := &WallpaperGuard{
		holders:   make(map[int64]struct{}),
		backend:   backend,
		statePath: filepath.Join(t.TempDir(), "wallpaper_state.json"),
	}
	return g, backend
}

func TestWallpaper_AcquireAndRelease(t *testing.T) {
	g, backend := newTestGuard(t)

	if err := g.Acquire(100); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if backend.setBlackCount != 1 {
		t.Fatalf("expected 1 SetSolidBlack call, got %d", backend.setBlackCount)
	}

	if err := g.Release(100); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if backend.restoreCount != 1 {
		t.Fatalf("expected 1 Restore call, got %d", backend.restoreCount)
	}
}

func TestWallpaper_LastHolderRestores(t *testing.T) {
	g, backend := newTestGuard(t)

	// Two concurrent sessions from different peers.
	g.Acquire(100)
	g.Acquire(300)
	if backend.setBlackCount != 1 {
		t.Fatalf("expected 1 SetSolidBlack, got %d", backend.setBlackCount)
	}

	// First session ends: wallpaper stays blanked.
	g.Release(100)
	if backend.restoreCount != 0 {
		t.Fatalf("expected 0 Restore calls (still held), got %d", backend.restoreCount)
	}

	// Last session ends: wallpaper comes back.
	g.Release(300)
	if backend.restoreCount != 1 {
		t.Fatalf("expected 1 Restore call, got %d", backend.restoreCount)
	}
}

func TestWallpaper_ReleaseIsIdempotentPerSession(t *testing.T) {
	g, backend := newTestGuard(t)

	// Two racing teardown paths of the same session must not steal the
	// blank from the other live session.
	g.Acquire(100)
	g.Acquire(300)
	g.Release(100)
	g.Release(100)
	g.Release(100)
	if backend.restoreCount != 0 {
		t.Fatalf("double release restored under a live holder: %d calls", backend.restoreCount)
	}
	if g.Holders() != 1 {
		t.Fatalf("holders = %d, want 1", g.Holders())
	}

	g.Release(300)
	if backend.restoreCount != 1 {
		t.Fatalf("expected 1 Restore call, got %d", backend.restoreCount)
	}
	if err := g.Release(300); err != nil {
		t.Fatalf("release with no holders must be a no-op: %v", err)
	}
}

func TestWallpaper_ReacquireSameSessionIsNoOp(t *testing.T) {
	g, backend := newTestGuard(t)

	g.Acquire(100)
	g.Acquire(100)
	if backend.setBlackCount != 1 || g.Holders() != 1 {
		t.Fatalf("re-acquire changed state: blacks=%d holders=%d", backend.setBlackCount, g.Holders())
	}

	g.Release(100)
	if backend.restoreCount != 1 {
		t.Fatalf("expected 1 Restore call, got %d", backend.restoreCount)
	}
}

func TestWallpaper_CrashRecovery(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "wallpaper_state.json")

	// Simulate a crash: a state file left behind by a dead process.
	state := WallpaperState{
		WallpaperPath: "/test/original.png",
		Suppressed:    true,
	}
	data, _ := json.Marshal(state)
	os.WriteFile(statePath, data, 0600)

	backend := &stubWallpaperBackend{}
	g := &WallpaperGuard{
		holders:   make(map[int64]struct{}),
		backend:   backend,
		statePath: statePath,
	}
	g.recoverFromCrash()

	if backend.restoreCount != 1 {
		t.Fatalf("expected crash recovery restore, got %d calls", backend.restoreCount)
	}
	if backend.lastRestored == nil || backend.lastRestored.WallpaperPath != "/test/original.png" {
		t.Fatalf("wrong recovery state: %+v", backend.lastRestored)
	}

	// The state file must be consumed.
	if _, err := os.Stat(statePath); !os.IsNotExist(err) {
		t.Fatal("state file should be deleted after recovery")
	}
}

func TestWallpaper_StateFileWritten(t *testing.T) {
	g, _ := newTestGuard(t)

	g.Acquire(100)

	data, err := os.ReadFile(g.statePath)
	if err != nil {
		t.Fatalf("state file not written: %v", err)
	}
	var state WallpaperState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("invalid state file: %v", err)
	}
	if !state.Suppressed {
		t.Fatal("state should record suppression")
	}

	g.Release(100)
	if _, err := os.Stat(g.statePath); !os.IsNotExist(err) {
		t.Fatal("state file should be deleted after the last release")
	}
}

func TestWallpaper_SetBlackFailureLeavesNoHold(t *testing.T) {
	g, backend := newTestGuard(t)
	backend.failSetBlack = true

	if err := g.Acquire(100); err == nil {
		t.Fatal("expected error when SetSolidBlack fails")
	}
	if g.Holders() != 0 {
		t.Fatalf("failed acquire must not hold: %d holders", g.Holders())
	}

	// A later session can still acquire once the backend recovers.
	backend.failSetBlack = false
	if err := g.Acquire(100); err != nil {
		t.Fatalf("Acquire after recovery: %v", err)
	}
}
