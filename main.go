// Agentlist serves a normalized, de-duplicated list of education agents
// scraped from a public directory page.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentlist/agents"
	"agentlist/config"
	"agentlist/fetcher"
	"agentlist/server"
	"agentlist/snapshot"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := ""
	printMode := false
	initConfig := false

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "-p", "--print":
			printMode = true
		case "--init-config":
			initConfig = true
		case "-c", "--config":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "error: --config needs a path")
				os.Exit(2)
			}
			i++
			configPath = args[i]
		case "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "error: unknown argument %q\n", arg)
			printUsage()
			os.Exit(2)
		}
	}

	// Generate default config and exit
	if initConfig {
		fmt.Print(config.DefaultConfigTOML())
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if printMode {
		err = runPrint(ctx, cfg)
	} else {
		err = runServer(ctx, cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Agentlist - education agent directory service

Usage: agentlist [options]

Options:
  -c, --config PATH   Load a TOML config file (default: $AGENTLIST_CONFIG)
  -p, --print         Fetch and parse once, print the agents as JSON
  --init-config       Output an example config file
  -h, --help          Show this help

Examples:
  agentlist                              Serve on :7071
  PORT=8080 APP_ENV=production agentlist
  agentlist -p > agents.json
  agentlist --init-config > agentlist.toml

Environment:
  APP_ENV, PORT, UPSTREAM_URL, LOCAL_EXAMPLE_HTML, LOCAL_EXAMPLE_PATH,
  BROWSER_FALLBACK, CRICOS_API_BASE_URL, CRICOS_API_USERNAME,
  CRICOS_API_PASSWORD, SNAPSHOT_DB, SORT_LOCALE`)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	var opts []server.Option
	var store *snapshot.Store
	if cfg.Snapshot.Path != "" {
		store, err = snapshot.Open(cfg.Snapshot.Path)
		if err != nil {
			return fmt.Errorf("opening snapshot store: %w", err)
		}
		defer store.Close()
		opts = append(opts, server.WithSnapshots(store))
	}

	srv := server.New(cfg, logger, opts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if store != nil && cfg.Snapshot.Keep > 0 {
		g.Go(func() error {
			pruneLoop(ctx, store, cfg.Snapshot.Keep, logger.Named("snapshot"))
			return nil
		})
	}
	return g.Wait()
}

// pruneLoop trims old snapshots every hour until ctx is done.
func pruneLoop(ctx context.Context, store *snapshot.Store, keep int, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := store.Prune(ctx, keep)
		if err != nil && ctx.Err() == nil {
			logger.Warn("pruning snapshots failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("pruned snapshots", zap.Int64("removed", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runPrint(ctx context.Context, cfg *config.Config) error {
	markup, err := loadMarkup(ctx, cfg)
	if err != nil {
		return err
	}

	records := agents.Parse(markup)
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "no agents found, printing defaults")
		records = agents.Defaults()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(records)
}

// loadMarkup reads the local example when enabled and falls back to the
// upstream when that file cannot be read, as the server does.
func loadMarkup(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Upstream.LocalExampleHTML {
		data, err := os.ReadFile(cfg.Upstream.LocalExamplePath)
		if err == nil {
			return string(data), nil
		}
		fmt.Fprintf(os.Stderr, "reading local example failed, fetching upstream: %v\n", err)
	}

	f := fetcher.New(fetcher.Options{
		UserAgent:       cfg.Upstream.UserAgent,
		TimeoutSeconds:  cfg.Upstream.TimeoutSeconds,
		BrowserFallback: cfg.Upstream.BrowserFallback,
		ChromePath:      cfg.Upstream.ChromePath,
	})
	result, err := f.Smart(ctx, cfg.Upstream.URL)
	if err != nil {
		return "", err
	}
	return result.HTML, nil
}
