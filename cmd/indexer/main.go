package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"imgsearch/internal/config"
	"imgsearch/internal/domain"
	"imgsearch/internal/embedding/clip"
	"imgsearch/internal/indexer"
	"imgsearch/internal/store"
	"imgsearch/internal/store/bolt"
	"imgsearch/internal/store/qdrant"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	var flat bool
	var dedupe bool
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/imgsearch/config.yaml if not provided)")
	flag.BoolVar(&flat, "flat", false, "Do not descend into subdirectories")
	flag.BoolVar(&dedupe, "dedupe", false, "Remove byte-identical duplicate files before indexing")
	flag.Parse()
	dirs := flag.Args()
	if len(dirs) == 0 {
		fmt.Println("Usage: indexer [--config=config.yaml] [--flat] [--dedupe] dir1 [dir2 ...]")
		os.Exit(1)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Assemble components
	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "clip", "":
		client, err := clip.NewClient(clip.Config{
			BaseURL:   cfg.Embedder.CLIP.BaseURL,
			APIKeyEnv: cfg.Embedder.CLIP.APIKeyEnv,
			Model:     cfg.Embedder.CLIP.Model,
			Timeout:   time.Duration(cfg.Embedder.CLIP.TimeoutSecs) * time.Second,
		})
		if err != nil {
			log.Fatalf("embedder init failed: %v", err)
		}
		emb = client
	default:
		log.Fatalf("unknown embedder: %s", cfg.Embedder.Type)
	}

	var st store.Store
	switch cfg.Store.Type {
	case "bolt", "":
		st, err = bolt.Open(cfg.Store.Path, false)
		if err != nil {
			log.Fatalf("failed to open embedding store: %v", err)
		}
	case "qdrant":
		if cfg.Store.Qdrant == nil {
			log.Fatalf("qdrant config missing")
		}
		st = qdrant.New(qdrant.Config{
			URL:        cfg.Store.Qdrant.URL,
			APIKey:     cfg.Store.Qdrant.APIKey,
			Collection: cfg.Store.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Store.Qdrant.TimeoutSecs) * time.Second,
		})
	default:
		log.Fatalf("unknown store: %s", cfg.Store.Type)
	}
	defer st.Close()

	svc := indexer.New(emb, st, logger, cfg.Embedder.CLIP.BatchSize, cfg.Indexer.Concurrency)
	ctx := context.Background()

	if dedupe {
		removed, err := svc.Dedupe(dirs, !flat)
		if err != nil {
			log.Fatalf("dedupe failed: %v", err)
		}
		logger.Info("dedupe complete", "removed", removed)
	}

	if _, err := svc.Run(ctx, dirs, !flat); err != nil {
		log.Fatalf("indexing failed: %v", err)
	}
}
