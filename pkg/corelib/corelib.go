// Package corelib is the single public door into the remote desktop core:
// process lifecycle, the Configuration Store, the current signaling
// session, and endpoint session management. Hosts (a desktop UI, the
// desktopd CLI) call down through this package and never reach into
// internal/ directly.
package corelib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/lantern-desktop/desktopd/internal/config"
	"github.com/lantern-desktop/desktopd/internal/logging"
	"github.com/lantern-desktop/desktopd/internal/registry"
	"github.com/lantern-desktop/desktopd/internal/remote/desktop"
	"github.com/lantern-desktop/desktopd/internal/workerpool"
)

var log = logging.L("corelib")

// ErrNotInitialized is returned by operations invoked before Init.
var ErrNotInitialized = errors.New("corelib: not initialized")

// DomainConfig re-exports the persisted per-domain identity.
type DomainConfig = config.DomainConfig

// InitLogger installs the default text logger at info level on stderr.
// Hosts wanting rotation or JSON call logging.Init directly instead.
func InitLogger() {
	logging.Init("text", "info", os.Stderr)
}

// InitLoggerTo routes leveled records to the given sink.
func InitLoggerTo(format, level string, sink io.Writer) {
	logging.Init(format, level, sink)
}

// Core is the process-wide core state. Construct exactly one with Init.
type Core struct {
	mu sync.Mutex

	osName    string
	osVersion string
	configDir string

	store    *config.Store
	registry *registry.Registry

	// inputPool serializes outbound input events: one worker keeps FIFO
	// order, the queue absorbs bursts.
	inputPool *workerpool.Pool

	signaling *signalingState
	endpoints *endpointState
}

var (
	coreMu   sync.Mutex
	coreInst *Core
)

// Init wires the core for this process. osName/osVersion describe the host
// for signaling registration metadata; configDir holds the config store
// file.
func Init(osName, osVersion, configDir string) (*Core, error) {
	coreMu.Lock()
	defer coreMu.Unlock()
	if coreInst != nil {
		return coreInst, nil
	}
	if configDir == "" {
		return nil, fmt.Errorf("corelib: config dir required")
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("corelib: create config dir: %w", err)
	}

	c := &Core{
		osName:    osName,
		osVersion: osVersion,
		configDir: configDir,
		store:     config.NewStore(filepath.Join(configDir, "domains.yaml")),
		registry:  registry.New(),
		inputPool: workerpool.New(1, config.Default().InputQueueSize),
		signaling: newSignalingState(),
		endpoints: newEndpointState(),
	}
	coreInst = c
	log.Info("core initialized", "os", osName, "version", osVersion, "configDir", configDir)
	return c, nil
}

// Current returns the process core, or nil before Init.
func Current() *Core {
	coreMu.Lock()
	defer coreMu.Unlock()
	return coreInst
}

// Shutdown disconnects signaling, stops every endpoint session, and drains
// the input pool.
func (c *Core) Shutdown() {
	c.SignalingDisconnect()
	c.endpoints.stopAll()
	c.inputPool.StopAccepting()
	c.inputPool.Drain(context.Background())
}

// Registry exposes the process session registry (diagnostics, tests).
func (c *Core) Registry() *registry.Registry { return c.registry }

// ReadPrimaryDomain returns the configured primary domain name, "" when
// none is set.
func (c *Core) ReadPrimaryDomain() (string, error) {
	return c.store.ReadPrimaryDomain()
}

// SavePrimaryDomain sets the primary domain name.
func (c *Core) SavePrimaryDomain(name string) error {
	return c.store.SavePrimaryDomain(name)
}

// ReadDomainConfig returns the identity stored for domain.
func (c *Core) ReadDomainConfig(domain string) (DomainConfig, bool, error) {
	return c.store.ReadDomainConfig(domain)
}

// SaveDomainConfig upserts the identity stored for domain.
func (c *Core) SaveDomainConfig(domain string, dc DomainConfig) error {
	return c.store.SaveDomainConfig(domain, dc)
}

// SetFrameSink installs the host's frame delivery callback used by every
// subsequently negotiated active session. The callee must copy or
// mark-dirty synchronously and return promptly; it is invoked from the
// decoder thread.
func (c *Core) SetFrameSink(sink desktop.FrameSink) {
	c.endpoints.setFrameSink(sink)
}
