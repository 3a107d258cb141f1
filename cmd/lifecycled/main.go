package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/slidecast/lifecycled/internal/config"
	"github.com/slidecast/lifecycled/internal/lifecycle"
	"github.com/slidecast/lifecycled/internal/logging"
	metapostgres "github.com/slidecast/lifecycled/internal/metadata/postgres"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Handle version flag before subcommand parsing
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("lifecycled version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "run":
		runDaemon(os.Args[2:])
	case "once":
		runOnce(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "config":
		runConfig(os.Args[2:])
	case "version":
		fmt.Printf("lifecycled version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: lifecycled <command> [options]

Commands:
  run       Start the reconciler daemon
  once      Run a single reconciliation cycle and print its summary
  migrate   Apply the postgres schema migrations
  config    Print the effective configuration with secrets redacted
  version   Print version information

Run 'lifecycled <command> --help' for more information on a command.`)
}

// commonFlags are accepted by every subcommand that reads configuration.
type commonFlags struct {
	configPath *string
	logLevel   *string
	collection *string
	bucket     *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "Path to configuration file (default: $"+config.ConfigPathEnv+")"),
		logLevel:   fs.String("log-level", "", "Override log level (debug, info, warn, error)"),
		collection: fs.String("collection", "", "Override metadata collection name"),
		bucket:     fs.String("bucket", "", "Override object store bucket name"),
	}
}

// loadConfig reads file and environment values, applies the common flags and
// any subcommand overrides, then validates the merged result once.
func (f commonFlags) loadConfig(overrides ...func(*config.Config)) (*config.Config, error) {
	path := *f.configPath
	if path == "" {
		path = os.Getenv(config.ConfigPathEnv)
	}
	cfg, err := config.Read(path)
	if err != nil {
		return nil, err
	}

	if *f.logLevel != "" {
		cfg.Observability.LogLevel = *f.logLevel
	}
	if *f.collection != "" {
		cfg.Metadata.Collection = *f.collection
	}
	if *f.bucket != "" {
		cfg.ObjectStore.Bucket = *f.bucket
	}
	for _, apply := range overrides {
		apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	common := addCommonFlags(fs)
	healthAddr := fs.String("health-addr", "", "Override health endpoint address (e.g., :9090)")
	holderID := fs.String("holder-id", "", "Override lease holder ID (default: auto-generated UUID)")

	fs.Usage = func() {
		fmt.Println(`Usage: lifecycled run [options]

Start the lifecycle reconciler.

Each cycle validates recent uploads against the object store, flags records
whose retention has elapsed, and deletes flagged records that are no longer
referenced, together with their blobs.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := common.loadConfig(func(c *config.Config) {
		if *healthAddr != "" {
			c.Observability.HealthAddr = *healthAddr
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	defer logging.Sync()

	daemon, err := NewDaemon(DaemonOptions{
		Config:    cfg,
		Logger:    logger,
		HolderID:  *holderID,
		Version:   version,
		GitCommit: gitCommit,
		BuildTime: buildTime,
	})
	if err != nil {
		logger.Errorf("failed to create daemon", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- daemon.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.Errorf("daemon error", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Lifecycle.ShutdownTimeout)
	defer shutdownCancel()

	if err := daemon.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func runOnce(args []string) {
	fs := flag.NewFlagSet("once", flag.ExitOnError)
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Println(`Usage: lifecycled once [options]

Run one reconciliation cycle and print its summary as JSON.
Exits non-zero if the cycle failed.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := common.loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	defer logging.Sync()

	daemon, err := NewDaemon(DaemonOptions{Config: cfg, Logger: logger, Version: version})
	if err != nil {
		logger.Errorf("failed to create daemon", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := daemon.RunOnce(ctx)
	if result != nil {
		if werr := writeResult(os.Stdout, result); werr != nil {
			fmt.Fprintf(os.Stderr, "failed to write result: %v\n", werr)
		}
	}
	if err != nil {
		logger.Errorf("cycle failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// writeResult prints a cycle summary as indented JSON.
func writeResult(w io.Writer, result *lifecycle.CycleResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	common := addCommonFlags(fs)
	dsn := fs.String("dsn", "", "Override postgres DSN")

	fs.Usage = func() {
		fmt.Println(`Usage: lifecycled migrate [options]

Apply the embedded schema migrations to the postgres metadata backend.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := common.loadConfig(dsnOverride(*dsn))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	defer logging.Sync()

	if cfg.Metadata.Postgres.DSN == "" {
		logger.Error("no postgres DSN configured")
		os.Exit(1)
	}

	if err := metapostgres.Migrate(context.Background(), cfg.Metadata.Postgres.DSN); err != nil {
		logger.Errorf("migration failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("migrations applied")
}

// dsnOverride points the postgres backend at dsn. Migrations only make sense
// against postgres, so a non-empty dsn also selects that backend.
func dsnOverride(dsn string) func(*config.Config) {
	return func(c *config.Config) {
		if dsn == "" {
			return
		}
		c.Metadata.Backend = config.MetadataPostgres
		c.Metadata.Postgres.DSN = dsn
	}
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Println(`Usage: lifecycled config [options]

Print the effective configuration, after file, environment and flag
overrides, as YAML. Secrets are redacted.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := common.loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := printConfig(os.Stdout, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to print config: %v\n", err)
		os.Exit(1)
	}
}

func printConfig(w io.Writer, cfg *config.Config) error {
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
