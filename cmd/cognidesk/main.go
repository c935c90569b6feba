// Command cognidesk runs the conversational assistant service.
//
// Usage:
//
//	cognidesk serve --config config.yaml
//	cognidesk index --config config.yaml ./docs/handbook.md
//	cognidesk validate --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/cognidesk/cognidesk/pkg/app"
	"github.com/cognidesk/cognidesk/pkg/config"
	"github.com/cognidesk/cognidesk/pkg/document"
	"github.com/cognidesk/cognidesk/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP server."`
	Index    IndexCmd    `cmd:"" help:"Index documents from the command line."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("cognidesk version %s\n", version)
	return nil
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.NewLoader(config.LoaderOptions{
		Path:  cli.Config,
		Watch: c.Watch,
		OnChange: func(*config.Config) error {
			slog.Info("Configuration changed, restart to apply")
			return nil
		},
	}).Load()
	if err != nil {
		return err
	}
	if cli.Config != "" {
		slog.Info("Loaded configuration", "path", cli.Config)
	} else {
		slog.Info("No config file, using defaults")
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("\ncognidesk ready on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Health:  /health\n")
	fmt.Printf("   Agent:   /agent (POST), /agent/stream (SSE)\n")
	fmt.Printf("   RAG:     /documents, /search, /rag\n")
	if cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics: %s\n", cfg.Observability.Metrics.Path)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return a.Run(ctx)
}

// IndexCmd indexes files without starting the server.
type IndexCmd struct {
	Paths []string `arg:"" help:"Files to index." type:"existingfile"`
	Wait  bool     `help:"Wait for indexing jobs to finish." default:"true"`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	extractor := document.NewExtractor()
	jobs := make([]string, 0, len(c.Paths))
	for _, path := range c.Paths {
		extracted, err := extractor.Extract(ctx, path)
		if err != nil {
			return fmt.Errorf("extract %s: %w", path, err)
		}
		doc := document.Document{
			Content:   extracted.Content,
			Source:    path,
			Metadata:  map[string]interface{}{"title": extracted.Title},
			CreatedAt: time.Now(),
		}
		jobID, err := a.IndexDocument(ctx, doc)
		if err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		fmt.Printf("queued %s (job %s)\n", path, jobID)
		jobs = append(jobs, jobID)
	}

	return a.DrainIndexing(ctx, jobs, c.Wait)
}

// ValidateCmd checks a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}
	if _, err := config.Load(cli.Config); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", cli.Config)
	return nil
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("cognidesk"),
		kong.Description("cognidesk - conversational business assistant service"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
