package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quickswitch/internal/config"
	"quickswitch/internal/daemon"
	"quickswitch/internal/enumerate"
	"quickswitch/internal/input"
	"quickswitch/internal/prefs"
	"quickswitch/internal/recency"
	"quickswitch/internal/switcher"
	"quickswitch/internal/util"
	"quickswitch/internal/watcher"
	"quickswitch/internal/web"
	"quickswitch/pkg/integrations/hotkeyd"
	"quickswitch/pkg/integrations/x11"
	"quickswitch/pkg/system"
	"quickswitch/pkg/window"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	date    = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "start":
		startDaemon(false)
	case "serve":
		startDaemon(true)
	case "stop":
		stopDaemon()
	case "status":
		showStatus()
	case "version":
		showVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`quickswitch - keyboard window switcher daemon

Usage:
  quickswitch <command>

Commands:
  start              Start the switcher daemon
  serve              Start the daemon with the web interface
  stop               Stop the daemon
  status             Show daemon status
  version            Show version information
  help               Show this help message

Examples:
  quickswitch start
  quickswitch serve
  quickswitch status
  quickswitch stop

Environment Variables:
  QUICKSWITCH_DB_PATH             Preference database path
  QUICKSWITCH_POLL_INTERVAL_MS    Release detector sampling period
  QUICKSWITCH_RELEASE_QUORUM_MS   Watchdog continuous-release quorum
  QUICKSWITCH_FALLBACK_REVEAL_MS  Hard deadline for showing the overlay
  QUICKSWITCH_PID_FILE            PID file path
  QUICKSWITCH_WEB_HOST            Web interface bind host
  QUICKSWITCH_WEB_PORT            Web interface port
  QUICKSWITCH_LOG_LEVEL           debug, info, warn or error

Version: %s
`, version)
}

func startDaemon(serve bool) {
	cfg := config.New()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	dm := daemon.New(cfg.Daemon.PIDFile)
	running, pid, err := dm.IsRunning()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check daemon status: %v\n", err)
		os.Exit(1)
	}
	if running {
		fmt.Fprintf(os.Stderr, "Daemon is already running (PID: %d)\n", pid)
		os.Exit(1)
	}

	if !daemon.IsChild() {
		childPid, err := dm.Spawn(os.Args[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Daemon started (PID: %d)\n", childPid)
		fmt.Printf("Logs: %s\n", logPath())
		if serve {
			fmt.Printf("Web interface: http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
		}
		return
	}

	runDaemon(cfg, dm, serve)
}

func logPath() string {
	return fmt.Sprintf("/tmp/quickswitch-%d.log", os.Getuid())
}

func runDaemon(cfg *config.Config, dm *daemon.Daemon, serve bool) {
	logger := util.NewLogger(util.ParseLogLevel(cfg.LogLevel))
	if logFile, err := os.OpenFile(logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		logger.SetOutput(logFile)
		defer logFile.Close()
	}

	store, err := prefs.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Errorf("preference store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := dm.WritePID(); err != nil {
		logger.Errorf("write PID file: %v", err)
		os.Exit(1)
	}
	defer dm.RemovePID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Infof("received shutdown signal")
		cancel()
	}()

	logger.Infof("starting quickswitch %s", version)
	logger.Debugf("configuration:\n%s", cfg.String())

	apps := recency.New[window.ProcessID]()
	wins := recency.New[window.WindowID]()

	// Enumerator, executor and detectors are bound once a backend connects.
	coord := switcher.New(
		nil, nil,
		newOverlayLog(logger),
		nopDetectors{},
		policyFromStore{store},
		switcher.Timing{
			FallbackReveal: cfg.Switcher.FallbackReveal,
			SeedTimeout:    cfg.Switcher.SeedTimeout,
		},
		apps, wins, logger,
	)

	// Preference edits refresh a live session through the same path as focus
	// changes.
	store.OnChange(func(prefs.Settings) {
		coord.NotifyExternalChange()
	})
	go func() {
		if err := prefs.Watch(ctx, store, logger); err != nil && ctx.Err() == nil {
			logger.Warnf("preference watcher stopped: %v", err)
		}
	}()

	var webServer *web.Server
	if serve {
		handler := web.NewHandler(cfg, store, coord, logger)
		webServer = web.NewServer(cfg, handler, 0, logger)
		go func() {
			if err := webServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("web server: %v", err)
			}
		}()
	}

	// The switching stack retries until a display server is reachable: a
	// missing capability leaves the daemon inert, never dead.
	runSwitchLoop(ctx, cfg, store, coord, apps, wins, logger)

	if webServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("web server shutdown: %v", err)
		}
	}
	logger.Infof("daemon stopped")
}

func runSwitchLoop(ctx context.Context, cfg *config.Config, store *prefs.Store, coord *switcher.Coordinator, apps *recency.Tracker[window.ProcessID], wins *recency.Tracker[window.WindowID], logger *util.Logger) {
	reported := false
	for ctx.Err() == nil {
		err := runSwitchStack(ctx, cfg, store, coord, apps, wins, logger)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !reported {
			// Capability failures are reported once, then retried quietly.
			reported = true
			logger.Errorf("switching unavailable: %v", err)
			store.LogError("system", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.Switcher.MonitorPeriod):
		}
	}
}

// runSwitchStack wires a connected backend into the coordinator and blocks
// until shutdown or until the backend dies.
func runSwitchStack(ctx context.Context, cfg *config.Config, store *prefs.Store, coord *switcher.Coordinator, apps *recency.Tracker[window.ProcessID], wins *recency.Tracker[window.WindowID], logger *util.Logger) error {
	sys, sampler, err := system.New(logger)
	if err != nil {
		return err
	}
	defer sys.Close()

	var tiers []window.Hook
	if client, ok := sys.(*x11.Client); ok {
		tiers = append(tiers, x11.NewHook(client, logger))
	}
	tiers = append(tiers, hotkeyd.New(logger))

	interceptor := input.New(tiers, sampler, input.Config{
		PollInterval: cfg.Input.PollInterval,
		Quorum:       cfg.Input.Quorum,
	}, logger)
	if err := interceptor.Start(); err != nil {
		return err
	}
	defer interceptor.Stop()

	enum := enumerate.NewService(sys, store, apps, wins, logger)
	coord.Bind(enum, sys, interceptor)

	stackCtx, stackCancel := context.WithCancel(ctx)
	defer stackCancel()

	focusSvc := watcher.NewService(sys, apps, wins, store, coord.NotifyExternalChange, logger)
	go func() {
		if err := focusSvc.Run(stackCtx); err != nil && stackCtx.Err() == nil {
			logger.Warnf("focus watcher stopped: %v", err)
		}
	}()

	monitor := system.NewMonitor(sys, cfg.Switcher.MonitorPeriod,
		func() {
			if err := interceptor.Start(); err != nil {
				logger.Debugf("capture reinstall: %v", err)
			}
		},
		func() {
			coord.Cancel()
			stackCancel()
		},
		logger)
	go monitor.Run(stackCtx)

	logger.Infof("switching ready on %s", system.DetectDisplayServer())
	return coord.Run(stackCtx, interceptor.Events())
}

// policyFromStore reads the user-tunable knobs from the preference cache on
// every activation, so web edits apply to the next session without restart.
type policyFromStore struct {
	store *prefs.Store
}

func (p policyFromStore) Mode() window.Mode {
	return p.store.Settings().Mode
}

func (p policyFromStore) RevealDelay() time.Duration {
	return p.store.Settings().RevealDelay
}

// overlayLog is the headless renderer: the selection surface is the web
// interface and the log, not an on-screen panel.
type overlayLog struct {
	logger *util.Logger
}

func newOverlayLog(logger *util.Logger) *overlayLog {
	return &overlayLog{logger: logger}
}

func (o *overlayLog) Show(list []window.Candidate, selected int) {
	o.logger.Debugf("overlay: show %d candidates, selected %d", len(list), selected)
}

func (o *overlayLog) Update(list []window.Candidate, selected int) {
	o.logger.Debugf("overlay: selected %d of %d", selected, len(list))
}

func (o *overlayLog) Hide() {
	o.logger.Debugf("overlay: hide")
}

// nopDetectors stands in until a backend with a sampler is bound.
type nopDetectors struct{}

func (nopDetectors) StartReleaseDetectors(gen uint64) {}
func (nopDetectors) StopReleaseDetectors()            {}

func stopDaemon() {
	cfg := config.New()
	dm := daemon.New(cfg.Daemon.PIDFile)
	running, pid, err := dm.IsRunning()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check daemon status: %v\n", err)
		os.Exit(1)
	}
	if !running {
		fmt.Println("Daemon is not running")
		return
	}
	fmt.Printf("Stopping daemon (PID: %d)...\n", pid)
	if err := dm.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop daemon: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Daemon stopped successfully")
}

func showStatus() {
	cfg := config.New()
	dm := daemon.New(cfg.Daemon.PIDFile)
	running, pid, err := dm.IsRunning()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check daemon status: %v\n", err)
		os.Exit(1)
	}
	if !running {
		fmt.Println("Status: Not running")
		return
	}
	fmt.Printf("Status: Running (PID: %d)\n", pid)
	fmt.Printf("Display server: %s\n", system.DetectDisplayServer())

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s:%d/api/status", cfg.Web.Host, cfg.Web.Port))
	if err != nil {
		fmt.Println("Web interface: not serving")
		return
	}
	defer resp.Body.Close()
	fmt.Printf("Web interface: http://%s:%d (%s)\n", cfg.Web.Host, cfg.Web.Port, resp.Status)
}

func showVersion() {
	fmt.Printf("version: %s\n", version)
	fmt.Printf("built  : %s\n", date)
}
