// Command ingest runs one corpus scan and index build from the CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	mobilerag "github.com/lavandejoey/MobileRAG"
	"github.com/lavandejoey/MobileRAG/rag"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	globs := flag.String("globs", "", "Comma-separated glob patterns (overrides config)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	_ = godotenv.Load()

	cfg, err := mobilerag.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if *globs != "" {
		var patterns []string
		for _, g := range strings.Split(*globs, ",") {
			if g = strings.TrimSpace(g); g != "" {
				patterns = append(patterns, g)
			}
		}
		cfg.DocsGlobs = patterns
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	pipeline, err := rag.New(cfg)
	if err != nil {
		slog.Error("creating pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := pipeline.BuildOrUpdateIndex(ctx)
	if err != nil {
		slog.Error("index build failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("scanned %d files, %d updated, %d skipped\n", stats.Scanned, stats.Updated, stats.Skipped)
	fmt.Printf("index: %d chunks, rebuilt=%v, took %.2fs\n", stats.Chunks, stats.Rebuilt, stats.ElapsedS)
}
