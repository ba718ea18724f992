package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"

	"github.com/lantern-desktop/desktopd/internal/config"
	"github.com/lantern-desktop/desktopd/internal/ctrl"
	"github.com/lantern-desktop/desktopd/internal/logging"
	"github.com/lantern-desktop/desktopd/internal/signaling"
	"github.com/lantern-desktop/desktopd/pkg/corelib"
)

var (
	version = "0.1.0"

	cfgFile      string
	domainFlag   string
	socketPath   string
	acceptVisits bool
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "desktopd",
	Short: "Lantern remote desktop daemon",
	Long:  `desktopd runs the passive side of the Lantern remote desktop core: it registers with a rendezvous domain, answers visit invitations, and serves desktop streams to authorized peers.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("desktopd v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running daemon",
	Run: func(cmd *cobra.Command, args []string) {
		checkStatus()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/desktopd/desktopd.yaml)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "control-socket", "", "control socket path (default is platform-specific)")
	runCmd.Flags().StringVar(&domainFlag, "domain", "", "rendezvous domain to serve (default is the configured primary)")
	runCmd.Flags().BoolVar(&acceptVisits, "accept-visits", false, "answer inbound visit invitations with allow (unattended mode)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.Load.
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

func osVersion() string {
	if info, err := host.Info(); err == nil {
		return info.PlatformVersion
	}
	return ""
}

func controlSocketPath() string {
	if socketPath != "" {
		return socketPath
	}
	return ctrl.DefaultSocketPath()
}

func runDaemon() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogging(cfg)

	core, err := corelib.Init(runtime.GOOS, osVersion(), config.GetDataDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize core: %v\n", err)
		os.Exit(1)
	}
	defer core.Shutdown()

	startTime := time.Now()
	domain := resolveDomain(core)

	if domain != "" {
		if err := bringUpSignaling(core, cfg, domain); err != nil {
			log.Error("signaling bring-up failed", "domain", domain, "error", err)
		}
	} else {
		log.Warn("no primary domain configured; running without signaling")
	}

	if _, err := core.StartEndpointListener(cfg.ListenAddr); err != nil {
		log.Error("endpoint listener failed", "addr", cfg.ListenAddr, "error", err)
		os.Exit(1)
	}

	ctrlServer := startControlServer(core, domain, cfg.ListenAddr, startTime)
	defer ctrlServer.Close()

	log.Info("daemon is running", "version", version, "domain", domain)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")
}

func resolveDomain(core *corelib.Core) string {
	if domainFlag != "" {
		return domainFlag
	}
	primary, err := core.ReadPrimaryDomain()
	if err != nil {
		log.Warn("failed to read primary domain", "error", err)
		return ""
	}
	return primary
}

// bringUpSignaling dials the domain's rendezvous, (re)registers the device
// identity, subscribes for visit invitations, and starts the heartbeat.
func bringUpSignaling(core *corelib.Core, cfg *config.Config, domain string) error {
	dc, ok, err := core.ReadDomainConfig(domain)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("domain %q is not configured", domain)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := core.SignalingDial(ctx, dc.URI); err != nil {
		return err
	}

	var fingerprint [32]byte
	if len(dc.Fingerprint) == 32 {
		copy(fingerprint[:], dc.Fingerprint)
	} else {
		if _, err := rand.Read(fingerprint[:]); err != nil {
			return err
		}
		dc.Fingerprint = fingerprint[:]
	}

	var deviceID *int64
	if dc.DeviceID > 0 {
		deviceID = &dc.DeviceID
	}
	reg, err := core.SignalingRegister(ctx, deviceID, fingerprint)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if reg.DeviceID != dc.DeviceID || deviceID == nil {
		dc.DeviceID = reg.DeviceID
		if err := core.SaveDomainConfig(domain, dc); err != nil {
			log.Warn("failed to persist device id", "error", err)
		}
	}
	log.Info("registered", "domain", domain, "deviceId", reg.DeviceID)

	visits, err := core.SignalingSubscribe(ctx, dc.DeviceID, fingerprint, cfgFile)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := core.StartHeartbeat(dc.DeviceID); err != nil {
		return err
	}

	go answerVisits(core, domain, dc, fingerprint, visits)
	return nil
}

// answerVisits serves inbound visit invitations. In unattended mode it
// allows each one and completes the passive half of the key exchange so
// the subsequent endpoint handshake can be redeemed.
func answerVisits(core *corelib.Core, domain string, dc corelib.DomainConfig, fingerprint [32]byte, visits <-chan signaling.VisitRequest) {
	for visit := range visits {
		log.Info("visit invitation", "from", visit.ActiveID, "resourceType", visit.ResourceType)

		allow := acceptVisits && dc.Password != ""
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := core.SignalingVisitReply(ctx, domain, visit.ActiveID, visit.PassiveID, allow); err != nil {
			log.Warn("visit reply failed", "error", err)
			cancel()
			continue
		}
		if !allow {
			log.Info("visit denied", "from", visit.ActiveID, "reason", "unattended access disabled")
			cancel()
			continue
		}

		outcome, err := core.SignalingKeyExchange(ctx, domain, visit.PassiveID, visit.ActiveID, dc.Password, fingerprint, false)
		cancel()
		if err != nil {
			log.Warn("passive key exchange failed", "from", visit.ActiveID, "error", err)
			continue
		}
		core.AuthorizeVisit(outcome.VisitCredentials, visit.PassiveID, visit.ActiveID, outcome.Keys)
		log.Info("visit authorized", "from", visit.ActiveID)
	}
}

func startControlServer(core *corelib.Core, domain, listenAddr string, startTime time.Time) *ctrl.Server {
	server := ctrl.NewServer(func() ctrl.Status {
		return ctrl.Status{
			Version:          version,
			SignalingState:   core.SignalingState(),
			ActiveSessions:   core.SessionCount(),
			PrimaryDomain:    domain,
			UptimeSeconds:    int64(time.Since(startTime).Seconds()),
			EndpointListener: listenAddr,
		}
	})
	ln, err := ctrl.Listen(controlSocketPath())
	if err != nil {
		log.Warn("control socket unavailable", "path", controlSocketPath(), "error", err)
		return server
	}
	go server.Serve(ln)
	return server
}

func checkStatus() {
	status, err := ctrl.RequestStatus(controlSocketPath(), 3*time.Second)
	if err != nil {
		fmt.Println("Status: not running")
		return
	}
	fmt.Println("Status: running")
	fmt.Printf("Version: %s\n", status.Version)
	fmt.Printf("Signaling: %s\n", status.SignalingState)
	fmt.Printf("Primary Domain: %s\n", status.PrimaryDomain)
	fmt.Printf("Endpoint Listener: %s\n", status.EndpointListener)
	fmt.Printf("Active Sessions: %d\n", status.ActiveSessions)
	fmt.Printf("Uptime: %ds\n", status.UptimeSeconds)
}
