// Package main is the entry point for the quotawatch monitor.
// It loads configuration, starts the service manager and logs routed
// events until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quotawatch/quotawatch/internal/config"
	"github.com/quotawatch/quotawatch/internal/logger"
	"github.com/quotawatch/quotawatch/internal/services"
	"github.com/quotawatch/quotawatch/internal/version"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && (os.Args[1] == "-v" || os.Args[1] == "--version") {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Handle help flag
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		printUsage()
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run contains the main application logic, separated for cleaner error handling.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)

	// Starts the inventory watcher, the fallback cache and one polling
	// session per configured account.
	mgr, err := services.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if closeErr := mgr.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: error closing services: %v\n", closeErr)
		}
	}()

	logger.Info("quotawatch started",
		"accounts", mgr.GetStats().AccountCount, "interval", cfg.PollInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	events := mgr.Subscribe()
	defer mgr.Unsubscribe(events)

	for {
		select {
		case ev := <-events:
			logEvent(ev)

		case sig := <-sigChan:
			logger.Info("shutting down", "signal", sig.String())
			return nil
		}
	}
}

// logEvent writes one structured log line per routed service event.
func logEvent(ev services.ServiceEvent) {
	switch e := ev.(type) {
	case services.AccountsChangedEvent:
		logger.Info("inventory changed", "accounts", len(e.Accounts))

	case services.SnapshotEvent:
		if e.Snapshot == nil {
			return
		}
		logger.Info("usage updated",
			"account", e.AccountID,
			"provider", e.Snapshot.Provider,
			"session", fmt.Sprintf("%.0f%%", e.Snapshot.Session.Fraction*100),
			"weekly", fmt.Sprintf("%.0f%%", e.Snapshot.Weekly.Fraction*100))

	case services.FetchErrorEvent:
		logger.Error("fetch failed", "account", e.AccountID, "error", e.Error)

	case services.ThresholdEvent:
		for _, c := range e.Crossings {
			logger.Warn("threshold crossed",
				"account", e.AccountID, "kind", c.Kind,
				"threshold", fmt.Sprintf("%.0f%%", c.Threshold*100))
		}

	case services.ReauthEvent:
		logger.Warn("account needs re-authentication", "account", e.AccountID)

	case services.ReadyEvent:
		logger.Info("session window reset", "account", e.AccountID)
	}
}

// printUsage prints the command-line usage information.
func printUsage() {
	fmt.Println(`quotawatch - multi-account AI usage quota monitor

Usage:
  quotawatch [flags]

Flags:
  -h, --help      Show this help message
  -v, --version   Show version information

Environment Variables:
  QUOTAWATCH_ACCOUNTS_PATH       Accounts JSON file path
  QUOTAWATCH_CACHE_PATH          Fallback cache (SQLite) path
  QUOTAWATCH_POLL_INTERVAL       Default polling interval (default: 5m)
  QUOTAWATCH_ALERT_COOLDOWN      Per-alert notification cooldown (default: 30m)
  QUOTAWATCH_MAX_RETRIES         Fetch attempts per cycle (default: 3)
  QUOTAWATCH_BASE_BACKOFF        Base retry backoff (default: 2s)
  QUOTAWATCH_RATE_LIMIT_BACKOFF  Backoff after 429 responses (default: 15s)
  QUOTAWATCH_SESSION_THRESHOLDS  Session alert thresholds (default: 0.75,0.90)
  QUOTAWATCH_WEEKLY_THRESHOLDS   Weekly alert thresholds (default: 0.75,0.90)
  QUOTAWATCH_AUTO_WAKE           Fetch immediately on session reset (default: false)
  QUOTAWATCH_LOG_LEVEL           Minimum log level: debug|info|warn|error (default: info)

Configuration:
  The application looks for .env files in the following locations:
  - Current directory
  - ~/.config/quotawatch/.env
  - ~/.quotawatch/.env`)
}
