// Command kadnet runs a standalone Kademlia DHT node: routing table, RPC
// dispatcher, iterative lookup engine, and single-threaded event loop.
//
// Usage:
//
//	kadnet [flags]
//
// Flags:
//
//	--bind_addr   UDP/TCP bind address (default: 0.0.0.0)
//	--bind_port   UDP/TCP bind port (default: 6881)
//	--conf_dir    Configuration/state directory (default: ~/.kadnet)
//	--max_peers   Maximum tracked TCP peer connections (default: 50)
//	--k           Routing table bucket size (default: 8)
//	--alpha       Lookup concurrency parameter (default: 3)
//	--log_level   Log level: debug, info, warn, error (default: info)
//	--log_type    Log format: json, text (default: json)
//	--version     Print version and exit
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadnet/kad/config"
	"github.com/kadnet/kad/internal/node"
	"github.com/kadnet/kad/log"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	var logger *log.Logger
	level := log.ParseLevel(cfg.LogLevel)
	if cfg.LogType == "text" {
		logger = log.NewText(level)
	} else {
		logger = log.New(level)
	}
	log.SetDefault(logger)

	logger.Info("kadnet starting",
		"version", version,
		"bind_addr", cfg.BindAddr,
		"bind_port", cfg.BindPort,
		"conf_dir", cfg.ConfDir,
		"max_peers", cfg.MaxPeers,
		"k", cfg.K,
		"alpha", cfg.Alpha,
	)

	n, err := node.New(cfg, logger, nil)
	if err != nil {
		logger.Error("failed to initialize node", "err", err)
		return 1
	}

	if err := n.Bootstrap(); err != nil {
		logger.Error("bootstrap failed", "err", err)
		return 1
	}
	logger.Info("bootstrap complete", "self", n.SelfID().String())

	runErr := make(chan error, 1)
	go func() { runErr <- n.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-runErr:
		if err != nil {
			logger.Error("event loop exited with error", "err", err)
		}
	}

	if err := n.Stop(); err != nil {
		logger.Error("error during shutdown", "err", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// parseFlags parses CLI arguments into a Config. Returns the config, whether
// the caller should exit immediately, and the exit code.
func parseFlags(args []string) (config.Config, bool, int) {
	cfg := config.Default()
	fs := newFlagSet(&cfg)

	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return cfg, true, 2
	}

	if *showVersion {
		fmt.Printf("kadnet %s (commit %s)\n", version, commit)
		return cfg, true, 0
	}

	return cfg, false, 0
}

// newFlagSet creates a flag.FlagSet that binds all CLI flags to the given
// Config. The FlagSet uses ContinueOnError so callers control the error
// handling behavior.
func newFlagSet(cfg *config.Config) *flag.FlagSet {
	fs := newCustomFlagSet("kadnet")
	fs.StringVar(&cfg.BindAddr, "bind_addr", cfg.BindAddr, "UDP/TCP bind address")
	fs.IntVar(&cfg.BindPort, "bind_port", cfg.BindPort, "UDP/TCP bind port")
	fs.StringVar(&cfg.ConfDir, "conf_dir", cfg.ConfDir, "configuration/state directory")
	fs.IntVar(&cfg.MaxPeers, "max_peers", cfg.MaxPeers, "maximum tracked TCP peer connections")
	fs.IntVar(&cfg.K, "k", cfg.K, "routing table bucket size")
	fs.IntVar(&cfg.Alpha, "alpha", cfg.Alpha, "lookup concurrency parameter")
	fs.StringVar(&cfg.LogLevel, "log_level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogType, "log_type", cfg.LogType, "log format (json, text)")
	return fs
}
