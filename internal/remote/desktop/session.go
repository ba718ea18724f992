package desktop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lantern-desktop/desktopd/internal/endpoint"
	"github.com/lantern-desktop/desktopd/internal/negotiate"
	"github.com/lantern-desktop/desktopd/internal/registry"
)

const (
	defaultFrameRate = 30
	maxFrameRate     = 120

	// encodeQueueDepth bounds frames waiting for the encoder thread. The
	// queue keeps the newest frame: capture is never blocked for more than
	// one frame period by a slow encoder.
	encodeQueueDepth = 4
)

// PassiveSession is the desktop-sharing side of one endpoint session: it
// answers negotiation, runs capture and encode, injects received input, and
// streams encoded video (and audio when available) to the peer.
type PassiveSession struct {
	conn *endpoint.Connection
	reg  *registry.Registry
	key  registry.Key

	mu       sync.Mutex
	capturer *Capturer
	encoder  *VideoEncoder
	injector InputInjector
	adaptive *AdaptiveBitrate
	audio    AudioCapturer

	monitor Monitor
	fps     int

	metrics *StreamMetrics

	encodeCh chan *VideoFrame

	audioEnabled atomic.Bool
	done         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// getWallpaperGuard is indirected so tests do not touch the real desktop
// wallpaper.
var getWallpaperGuard = GetWallpaperGuard

// NewPassiveSession registers the session in reg under the passive role.
// Returns registry.ErrDuplicate when a session for this pair already runs.
func NewPassiveSession(conn *endpoint.Connection, reg *registry.Registry) (*PassiveSession, error) {
	key := registry.Key{LocalID: conn.LocalID(), RemoteID: conn.RemoteID(), Role: registry.RolePassive}
	s := &PassiveSession{
		conn:     conn,
		reg:      reg,
		key:      key,
		fps:      defaultFrameRate,
		metrics:  newStreamMetrics(),
		encodeCh: make(chan *VideoFrame, encodeQueueDepth),
		done:     make(chan struct{}),
	}
	if err := reg.Insert(key, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Run drives the session to completion: negotiation, then streaming until
// the peer closes, a fatal transport error occurs, or Stop is called. The
// registry entry is removed before Run returns.
func (s *PassiveSession) Run(ctx context.Context) error {
	defer s.Stop()

	err := negotiate.RunPassive(ctx, s.conn, negotiate.PassiveHandlers{
		ListMonitors:      s.listMonitors,
		SelectMonitor:     s.selectMonitor,
		OpenMediaChannels: s.openMediaChannels,
	})
	if err != nil {
		return fmt.Errorf("desktop: passive negotiation: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.inputLoop()
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.metricsLogger()
	}()

	// Control dispatch runs on the session's own goroutine until the
	// connection dies or close is requested.
	s.controlLoop()
	return nil
}

func (s *PassiveSession) listMonitors(ctx context.Context) ([]negotiate.MonitorDescriptor, error) {
	monitors, err := ListMonitors()
	if err != nil {
		return nil, err
	}
	descs := make([]negotiate.MonitorDescriptor, 0, len(monitors))
	for _, m := range monitors {
		descs = append(descs, negotiate.MonitorDescriptor{
			ID:            m.ID,
			Name:          m.Name,
			RefreshRate:   m.RefreshRate,
			Width:         m.Width,
			Height:        m.Height,
			IsPrimary:     m.IsPrimary,
			ScreenshotPNG: MonitorThumbnailPNG(m.ID),
		})
	}
	return descs, nil
}

func (s *PassiveSession) selectMonitor(monitorID string, fps int) error {
	monitors, err := ListMonitors()
	if err != nil {
		return err
	}
	for _, m := range monitors {
		if m.ID == monitorID {
			s.mu.Lock()
			s.monitor = m
			s.fps = clampInt(fps, 1, maxFrameRate)
			s.mu.Unlock()
			return nil
		}
	}
	return negotiate.ErrMonitorNotFound
}

// openMediaChannels starts the capture/encode pipeline once negotiation
// finishes. The capture loop runs inside the Capturer; a dedicated encoder
// goroutine drains the bounded frame queue so a slow encode never blocks
// capture.
func (s *PassiveSession) openMediaChannels(monitorID string, fps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.monitor.ID != monitorID {
		// negotiate_finished may re-state the selection; re-resolve if the
		// ids diverge.
		monitors, err := ListMonitors()
		if err != nil {
			return err
		}
		found := false
		for _, m := range monitors {
			if m.ID == monitorID {
				s.monitor, found = m, true
				break
			}
		}
		if !found {
			return negotiate.ErrMonitorNotFound
		}
	}
	s.fps = clampInt(fps, 1, maxFrameRate)

	encoder, err := NewVideoEncoder("auto", s.monitor.Width, s.monitor.Height, s.fps)
	if err != nil {
		return err
	}
	if err := encoder.Open(s.packetSink); err != nil {
		return err
	}
	s.encoder = encoder

	adaptive, err := NewAdaptiveBitrate(AdaptiveConfig{
		Encoder:        encoder,
		InitialBitrate: encoder.Config().Bitrate,
		MinBitrate:     250_000,
		MaxBitrate:     8_000_000,
		MaxFPS:         s.fps,
	})
	if err == nil {
		s.adaptive = adaptive
	}

	if injector, err := NewInputInjector(s.monitor.X, s.monitor.Y); err != nil {
		log.Warn("input injection unavailable", "error", err)
	} else {
		s.injector = injector
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.encodeLoop()
	}()

	capturer := NewCapturer()
	if err := capturer.Start(s.monitor.ID, s.fps, s.enqueueFrame); err != nil {
		return err
	}
	s.capturer = capturer

	if err := getWallpaperGuard().Acquire(s.key.RemoteID); err != nil {
		log.Warn("failed to blank wallpaper", "error", err)
	}

	if ac := NewAudioCapturer(); ac != nil {
		if err := ac.Start(s.sendAudioFrame); err != nil {
			log.Warn("failed to start audio capture", "error", err)
		} else {
			s.audio = ac
		}
	}

	log.Info("desktop session streaming",
		"local", s.key.LocalID,
		"remote", s.key.RemoteID,
		"monitor", s.monitor.ID,
		"size", fmt.Sprintf("%dx%d", s.monitor.Width, s.monitor.Height),
		"fps", s.fps,
	)
	return nil
}

// Stop tears the session down in producer-first order: capture and audio
// threads, then the encoder, then the transport, and finally the registry
// entry. Safe to call multiple times.
func (s *PassiveSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		capturer := s.capturer
		audio := s.audio
		encoder := s.encoder
		injector := s.injector
		s.mu.Unlock()

		if capturer != nil {
			capturer.Stop()
		}
		if audio != nil {
			audio.Stop()
		}

		s.wg.Wait()

		if encoder != nil {
			_ = encoder.Close()
		}
		if injector != nil {
			_ = injector.Close()
		}
		if err := getWallpaperGuard().Release(s.key.RemoteID); err != nil {
			log.Warn("failed to restore wallpaper", "error", err)
		}

		_ = s.conn.Close()
		s.reg.Remove(s.key)

		snap := s.metrics.Snapshot()
		log.Info("desktop session stopped",
			"local", s.key.LocalID,
			"remote", s.key.RemoteID,
			"captured", snap.FramesCaptured,
			"sent", snap.FramesSent,
			"skipped", snap.FramesSkipped,
			"uptime", snap.Uptime.Round(time.Second),
		)
	})
}

// Done is closed once Stop has begun.
func (s *PassiveSession) Done() <-chan struct{} { return s.done }

// Metrics exposes the session's stream counters.
func (s *PassiveSession) Metrics() *StreamMetrics { return s.metrics }
