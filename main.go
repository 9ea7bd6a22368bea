// Package main provides the entry point for vpnctl, an OpenVPN client for
// Linux that drives the engine through its management interface.
//
// Features:
//   - Profile management for multiple VPN configurations
//   - Secure credential storage using the system keyring
//   - Real-time connection status and traffic in the terminal
//   - Pushed DNS servers applied through systemd-resolved
//   - Automatic reconnection when the tunnel stops answering
//
// Usage:
//
//	vpnctl [options]
//
// Environment:
//
//	The application requires OpenVPN to be installed on the system.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/yllada/vpnctl/cli"
	"github.com/yllada/vpnctl/common"
	"github.com/yllada/vpnctl/config"
	"github.com/yllada/vpnctl/dnspolicy"
	"github.com/yllada/vpnctl/netcache"
	"github.com/yllada/vpnctl/notify"
	"github.com/yllada/vpnctl/vpn"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.BoolP("verbose", "v", false, "Enable verbose logging")
	showHelp    = flag.BoolP("help", "h", false, "Show help message")
	configPath  = flag.String("config", "", "Use an alternative configuration file")

	// Profile flags
	listProfiles  = flag.BoolP("list", "l", false, "List all VPN profiles")
	importFile    = flag.String("import", "", "Import an OpenVPN configuration as a profile")
	profileName   = flag.String("name", "", "Profile name for --import")
	profileUser   = flag.String("user", "", "Username for --import")
	removeProfile = flag.String("remove", "", "Remove a VPN profile by name or ID")

	// Connection flags
	connectProfile = flag.StringP("connect", "c", "", "Connect to a VPN profile by name or ID")
	watch          = flag.BoolP("watch", "w", false, "Show a live view while connected")
	savePassword   = flag.Bool("save-password", false, "Store the credentials in the system keyring")
	showStatus     = flag.BoolP("status", "s", false, "Show connections and the last pushed settings")
	restore        = flag.Bool("restore", false, "Revert DNS settings left on tunnel interfaces")
)

func main() {
	flag.Usage = cli.PrintHelp
	flag.Parse()

	// Handle help flag
	if *showHelp || flag.NFlag() == 0 {
		cli.PrintHelp()
		os.Exit(0)
	}

	// Handle version flag
	if *showVersion {
		fmt.Printf("vpnctl v%s\n", appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		cfg = config.DefaultConfig()
	}

	// Initialize logger with structured logging and file output
	logLevel := common.ParseLogLevel(cfg.LogLevel)
	if *verbose {
		logLevel = common.LevelDebug
	}
	logConfig := common.LogConfig{
		Level:       logLevel,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}
	if *watch {
		// The live view owns the terminal.
		logConfig.Console = io.Discard
	}
	if err := common.InitLogger(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals (SIGINT, SIGTERM)
	setupSignalHandler(cancel)

	os.Exit(runCLI(ctx, cfg))
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.LoadFrom(*configPath)
	}
	return config.Load()
}

// runCLI handles command-line interface operations and returns the exit
// code. It accepts a context for graceful shutdown support.
func runCLI(ctx context.Context, cfg *config.Config) int {
	defer common.CloseLogger()

	cliApp, cleanup, err := newCLI(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer cleanup()

	// Check if context is already cancelled before proceeding
	select {
	case <-ctx.Done():
		common.LogInfo("Operation cancelled before execution")
		return 0
	default:
	}

	var cliErr error

	switch {
	case *listProfiles:
		cliErr = cliApp.ListProfiles()
	case *importFile != "":
		cliErr = cliApp.Import(*importFile, *profileName, *profileUser)
	case *removeProfile != "":
		cliErr = cliApp.Remove(*removeProfile)
	case *connectProfile != "":
		// Verify OpenVPN installation
		if !checkOpenVPNInstalled(cfg.Management.Binary) {
			common.LogError("OpenVPN is not installed on the system")
			cliErr = fmt.Errorf("%s is not installed on the system", cfg.Management.Binary)
			break
		}
		common.LogInfo("Starting %s v%s", common.AppName, appVersion)
		cliErr = cliApp.Connect(ctx, *connectProfile, cli.ConnectOptions{
			Watch:        *watch,
			SavePassword: *savePassword,
		})
	case *showStatus:
		cliErr = cliApp.Status()
	case *restore:
		cliErr = cliApp.Restore(ctx)
	default:
		cli.PrintHelp()
	}

	if cliErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cliErr)
		return 1
	}
	return 0
}

// newCLI wires the manager and its collaborators from the configuration.
func newCLI(cfg *config.Config) (*cli.CLI, func(), error) {
	logger := common.GetLogger()

	pm, err := vpn.NewProfileManager()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize profiles: %w", err)
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var store *netcache.Store
	var persist netcache.Persister
	if cfg.Cache.Persist {
		store, err = openStore(cfg)
		if err != nil {
			common.LogWarn("Network cache disabled: %v", err)
		} else {
			persist = store
			closers = append(closers, func() { store.Close() })
		}
	}
	gateways := netcache.NewGatewayCache(persist, logger.Named("netcache"))
	dnsServers := netcache.NewDNSServerCache(persist, logger.Named("netcache"))
	if store != nil {
		if err := store.RestoreInto(gateways, dnsServers); err != nil {
			common.LogWarn("Failed to restore network cache: %v", err)
		}
		// Runs before the store is closed.
		closers = append(closers, func() {
			gateways.Flush()
			dnsServers.Flush()
		})
	}

	managerConfig := vpn.ManagerConfig{
		Binary:            cfg.Management.Binary,
		UsePkexec:         cfg.Management.UsePkexec,
		ConnectTimeout:    cfg.Management.ConnectTimeout,
		ConnectRetries:    cfg.Management.ConnectRetries,
		ByteCountInterval: cfg.Management.ByteCountInterval,
		Logger:            logger.Named("vpn"),
		Gateways:          gateways,
		DNSServers:        dnsServers,
		Notifier:          notify.New(cfg.ShowNotifications, logger.Named("notify")),
	}

	opts := cli.Options{Store: store}
	if cfg.DNS.Apply || *restore {
		resolved, err := dnspolicy.NewResolved(logger.Named("dns"))
		if err != nil {
			common.LogWarn("DNS policy unavailable: %v", err)
		} else {
			closers = append(closers, func() { resolved.Close() })
			opts.DNS = resolved
			if cfg.DNS.Apply {
				managerConfig.DNSPolicy = resolved
			}
		}
	}

	manager := vpn.NewManager(pm, managerConfig)
	closers = append(closers, func() {
		if err := manager.DisconnectAll(); err != nil {
			common.LogWarn("Failed to disconnect on exit: %v", err)
		}
	})

	if cfg.AutoReconnect {
		opts.Health = newHealthChecker(manager, pm, managerConfig.Notifier)
	}

	return cli.New(manager, opts), cleanup, nil
}

func openStore(cfg *config.Config) (*netcache.Store, error) {
	path, err := cfg.CachePath()
	if err != nil {
		return nil, err
	}
	return netcache.OpenStore(path)
}

func newHealthChecker(manager *vpn.Manager, pm *vpn.ProfileManager, notifier vpn.EventNotifier) *vpn.HealthChecker {
	hc := vpn.NewHealthChecker(manager, vpn.DefaultHealthConfig())
	name := func(profileID string) string {
		if p, err := pm.Get(profileID); err == nil {
			return p.Name
		}
		return profileID
	}
	hc.SetOnHealthChange(func(profileID string, oldState, newState vpn.HealthState) {
		common.LogInfo("%s health: %s -> %s", name(profileID), oldState, newState)
	})
	hc.SetOnReconnecting(func(profileID string, attempt int) {
		common.LogInfo("Reconnecting %s (attempt %d)", name(profileID), attempt)
	})
	hc.SetOnReconnectFailed(func(profileID string, err error) {
		notifier.Error(name(profileID), err.Error())
	})
	return hc
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context to allow cleanup.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}

// checkOpenVPNInstalled verifies that the engine binary is available.
func checkOpenVPNInstalled(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}
