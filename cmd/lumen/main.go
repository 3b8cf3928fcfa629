// Package main is the entry point for the lumen script runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/dshills/lumen/internal/config"
	"github.com/dshills/lumen/internal/runtime"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// options holds the parsed command line.
type options struct {
	ConfigPath string
	Identity   int
	LogLevel   string
	Autoexec   string
	Chunk      string
	Watch      bool
	Files      []string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		return 1
	}
	if err := applyFlags(&cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if err := cfg.Logging.Apply(log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	rt, err := runtime.New(cfg, runtime.WithLogger(log), runtime.WithOutput(os.Stdout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	// Ensure cleanup on all exit paths
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	failed := false
	if n, err := rt.StartAutoexec(ctx); err != nil {
		log.WithError(err).Error("autoexec failed")
		failed = true
	} else {
		log.WithField("scripts", n).Debug("autoexec scripts ran")
	}

	if opts.Chunk != "" {
		if err := rt.Run(ctx, "(command line)", opts.Chunk); err != nil {
			log.WithError(err).Error("chunk failed")
			failed = true
		}
	}
	for _, path := range opts.Files {
		if err := rt.RunFile(ctx, path); err != nil {
			log.WithError(err).WithField("file", path).Error("script failed")
			failed = true
		}
	}
	if _, err := rt.DrainTeleportQueue(ctx); err != nil {
		log.WithError(err).Error("teleport queue failed")
		failed = true
	}

	if opts.Watch {
		log.WithField("dir", cfg.Paths.Autoexec).Info("watching autoexec directory")
		<-ctx.Done()
	}

	if failed {
		return 1
	}
	return 0
}

// applyFlags layers command line overrides over the loaded configuration.
func applyFlags(cfg *config.Config, opts options) error {
	if opts.Identity >= 0 {
		cfg.Identity.Default = opts.Identity
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.Autoexec != "" {
		cfg.Paths.Autoexec = opts.Autoexec
	}
	return cfg.Validate()
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (.toml, .yaml)")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.IntVar(&opts.Identity, "identity", -1, "Default thread identity (0-8)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&opts.Autoexec, "autoexec", "", "Autoexec script directory")
	flag.StringVar(&opts.Chunk, "e", "", "Execute a Lua chunk")
	flag.BoolVar(&opts.Watch, "watch", false, "Keep running and execute autoexec scripts as they change")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "lumen - embedded Lua script runtime\n\n")
		fmt.Fprintf(os.Stderr, "Usage: lumen [options] [scripts...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lumen script.lua                  Run a script\n")
		fmt.Fprintf(os.Stderr, "  lumen -e 'print(getidentity())'   Run a chunk\n")
		fmt.Fprintf(os.Stderr, "  lumen -watch -autoexec ./scripts  Watch a directory\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("lumen %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	opts.Files = flag.Args()
	return opts
}
