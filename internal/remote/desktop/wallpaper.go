package desktop

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/lantern-desktop/desktopd/internal/config"
)

// wallpaperBackend is the platform-specific interface for wallpaper
// manipulation.
type wallpaperBackend interface {
	GetCurrent() (*WallpaperState, error)
	SetSolidBlack() error
	Restore(state *WallpaperState) error
}

// WallpaperState is the saved wallpaper, persisted while any session
// streams so a crashed process can put the desktop back on next start.
type WallpaperState struct {
	WallpaperPath string `json:"wallpaperPath"`
	DesktopEnv    string `json:"desktopEnv,omitempty"` // Linux only
	Suppressed    bool   `json:"suppressed"`
}

// WallpaperGuard blanks the wallpaper while desktop sessions stream.
// Each session acquires under its remote device id; the first holder saves
// the current wallpaper and sets solid black, the last release restores
// it. Tracking holders by id (rather than a bare counter) makes Release
// idempotent per session, so a session torn down twice by racing paths
// cannot restore the wallpaper out from under another live session.
type WallpaperGuard struct {
	mu        sync.Mutex
	holders   map[int64]struct{}
	saved     *WallpaperState
	backend   wallpaperBackend
	statePath string
}

var (
	wallpaperGuardOnce sync.Once
	wallpaperGuardInst *WallpaperGuard
)

// GetWallpaperGuard returns the package-level singleton. On first call it
// checks for a leftover state file and restores the wallpaper if the
// previous process crashed mid-session.
func GetWallpaperGuard() *WallpaperGuard {
	wallpaperGuardOnce.Do(func() {
		g := newWallpaperGuard(filepath.Join(config.GetDataDir(), "wallpaper_state.json"))
		g.recoverFromCrash()
		wallpaperGuardInst = g
	})
	return wallpaperGuardInst
}

func newWallpaperGuard(statePath string) *WallpaperGuard {
	return &WallpaperGuard{
		holders:   make(map[int64]struct{}),
		backend:   newWallpaperBackend(),
		statePath: statePath,
	}
}

// Acquire registers remoteID as a streaming holder. The first holder
// saves the wallpaper, writes the crash-recovery file, and blanks the
// desktop. Re-acquiring an id already held is a no-op.
func (g *WallpaperGuard) Acquire(remoteID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.holders[remoteID]; held {
		return nil
	}
	if len(g.holders) > 0 {
		g.holders[remoteID] = struct{}{}
		return nil
	}

	state, err := g.backend.GetCurrent()
	if err != nil {
		return err
	}
	state.Suppressed = true

	if err := g.writeStateFile(state); err != nil {
		log.Warn("failed to write wallpaper state file", "error", err)
		// Blanking still proceeds; only crash recovery is lost.
	}

	if err := g.backend.SetSolidBlack(); err != nil {
		_ = g.deleteStateFile()
		return err
	}

	g.saved = state
	g.holders[remoteID] = struct{}{}
	log.Info("wallpaper blanked for streaming", "remote", remoteID)
	return nil
}

// Release drops remoteID's hold. The last release restores the saved
// wallpaper. Releasing an id that holds nothing is a no-op, so teardown
// paths may call it freely.
func (g *WallpaperGuard) Release(remoteID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.holders[remoteID]; !held {
		return nil
	}
	delete(g.holders, remoteID)
	if len(g.holders) > 0 {
		return nil
	}

	saved := g.saved
	g.saved = nil
	_ = g.deleteStateFile()
	if saved == nil {
		return nil
	}
	if err := g.backend.Restore(saved); err != nil {
		return err
	}
	log.Info("wallpaper restored", "remote", remoteID)
	return nil
}

// Holders reports how many sessions currently hold the guard.
func (g *WallpaperGuard) Holders() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.holders)
}

// recoverFromCrash restores the wallpaper recorded by a previous process
// that died while streaming.
func (g *WallpaperGuard) recoverFromCrash() {
	data, err := os.ReadFile(g.statePath)
	if err != nil {
		return // no state file, normal startup
	}

	var state WallpaperState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Warn("invalid wallpaper state file, removing", "error", err)
		_ = os.Remove(g.statePath)
		return
	}
	if !state.Suppressed {
		_ = os.Remove(g.statePath)
		return
	}

	log.Info("restoring wallpaper from previous crash", "path", state.WallpaperPath)
	if err := g.backend.Restore(&state); err != nil {
		log.Warn("failed to restore wallpaper after crash", "error", err)
	}
	_ = os.Remove(g.statePath)
}

func (g *WallpaperGuard) writeStateFile(state *WallpaperState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(g.statePath), 0700); err != nil {
		return err
	}
	return os.WriteFile(g.statePath, data, 0600)
}

func (g *WallpaperGuard) deleteStateFile() error {
	return os.Remove(g.statePath)
}
