// agentcore - error monitoring and event routing core for agent platforms
//
// The core collects agent errors, raises alerts, explains incidents through
// root cause analysis and routes events between agents behind per-destination
// circuit breakers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/armorclaw/agentcore/pkg/app"
	"github.com/armorclaw/agentcore/pkg/config"
	"github.com/armorclaw/agentcore/pkg/logger"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

type cliConfig struct {
	command      string
	configPath   string
	configOutput string
	logLevel     string
	verbose      bool
	version      bool
	help         bool
}

func main() {
	cliCfg := parseFlags()

	if cliCfg.version {
		printVersion()
		return
	}
	if cliCfg.help || cliCfg.command == "help" {
		printHelp()
		return
	}

	switch cliCfg.command {
	case "", "run":
		if err := run(cliCfg); err != nil {
			fmt.Fprintf(os.Stderr, "agentcore: %v\n", err)
			os.Exit(1)
		}
	case "init":
		runInitCommand(cliCfg)
	case "validate":
		runValidateCommand(cliCfg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cliCfg.command)
		printHelp()
		os.Exit(2)
	}
}

func parseFlags() cliConfig {
	cfg := cliConfig{}

	flag.StringVar(&cfg.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&cfg.configOutput, "config-output", "", "Output path for 'init' command")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose logging (sets log level to debug)")
	flag.BoolVar(&cfg.version, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.help, "help", false, "Show help message")

	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		cfg.command = args[0]
	}
	if cfg.verbose {
		cfg.logLevel = "debug"
	}
	return cfg
}

func run(cliCfg cliConfig) error {
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		return err
	}
	if cliCfg.logLevel != "" {
		cfg.Logging.Level = cliCfg.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	if err := logger.Initialize(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return err
	}
	log := logger.Global()
	log.Info("starting agentcore", "version", version, "build_time", buildTime)

	a, err := app.New(cfg, app.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return fmt.Errorf("failed to start: %w", err)
	}
	if o := a.Ops(); o != nil {
		log.Info("ops surface ready", "addr", o.Addr())
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout.Duration+5*time.Second)
	defer cancel()
	return a.Stop(shutdownCtx)
}

func runInitCommand(cliCfg cliConfig) {
	out := cliCfg.configOutput
	if out == "" {
		out = "config.toml"
	}
	if _, err := os.Stat(out); err == nil {
		fmt.Fprintf(os.Stderr, "Refusing to overwrite existing file: %s\n", out)
		os.Exit(1)
	}
	if err := config.Save(config.DefaultConfig(), out); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote default configuration to %s\n", out)
}

func runValidateCommand(cliCfg cliConfig) {
	if _, err := config.Load(cliCfg.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Configuration valid")
}

func printVersion() {
	fmt.Printf("agentcore v%s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
}

func printHelp() {
	fmt.Print(`USAGE:
    agentcore [flags] [command]

COMMANDS:
    run         Start the core (default)
    init        Write a default configuration file
    validate    Validate configuration
    help        Show this message

FLAGS:
    -config string          Path to configuration file
    -config-output string   Output path for 'init' (default config.toml)
    -log-level string       Log level: debug, info, warn, error
    -v                      Verbose logging (sets log level to debug)
    -version                Print version and exit
    -help                   Show help message

ENVIRONMENT:
    AGENTCORE_LOG_LEVEL, AGENTCORE_HISTORY_PATH, AGENTCORE_OPS_ADDR and other
    AGENTCORE_* variables override values from the configuration file.
`)
}
