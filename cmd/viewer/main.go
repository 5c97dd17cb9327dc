package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"imgsearch/internal/config"
	"imgsearch/internal/domain"
	"imgsearch/internal/embedding/clip"
	"imgsearch/internal/search"
	"imgsearch/internal/store"
	"imgsearch/internal/store/bolt"
	"imgsearch/internal/store/qdrant"
	"imgsearch/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/imgsearch/config.yaml if not provided)")
	flag.Parse()

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
		st, err = bolt.Open(cfg.Store.Path, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "No embedding store at %s (%v).\nRun `indexer <dir>...` to build one first.\n", cfg.Store.Path, err)
			os.Exit(1)
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

	total, err := st.Len()
	if err != nil {
		log.Fatalf("failed to reach the embedding store: %v", err)
	}
	if total == 0 {
		fmt.Fprintf(os.Stderr, "The embedding store is empty.\nRun `indexer <dir>...` to index your images first.\n")
		os.Exit(1)
	}

	svc := search.New(emb, st)
	m := tui.New(svc, cfg.Viewer.TopK, total)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		log.Fatal(err)
	}
}
