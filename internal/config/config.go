package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CLIPEmbedderConfig holds configuration for the CLIP-serving embeddings client.
type CLIPEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// EmbedderConfig selects and configures the embedder implementation.
type EmbedderConfig struct {
	Type string              `yaml:"type"`
	CLIP *CLIPEmbedderConfig `yaml:"clip,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant store backend.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// StoreConfig selects and configures the embedding store implementation.
type StoreConfig struct {
	Type   string        `yaml:"type"`
	Path   string        `yaml:"path"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// IndexerConfig configures the indexing run.
type IndexerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// ViewerConfig configures the interactive viewer.
type ViewerConfig struct {
	TopK int `yaml:"top_k"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder EmbedderConfig `yaml:"embedder"`
	Store    StoreConfig    `yaml:"store"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Viewer   ViewerConfig   `yaml:"viewer"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/imgsearch/config.yaml.
// If neither exists, it writes defaults to ~/.config/imgsearch/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "imgsearch", "config.yaml"), nil
}

// DefaultStorePath returns the default location of the bolt embedding store.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "embeddings.db"
	}
	return filepath.Join(home, ".local", "share", "imgsearch", "embeddings.db")
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder: EmbedderConfig{Type: "clip"},
		Store:    StoreConfig{Type: "bolt"},
		Indexer:  IndexerConfig{},
		Viewer:   ViewerConfig{},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "clip"
	}
	if cfg.Embedder.Type == "clip" {
		if cfg.Embedder.CLIP == nil {
			cfg.Embedder.CLIP = &CLIPEmbedderConfig{}
		}
		if cfg.Embedder.CLIP.BaseURL == "" {
			cfg.Embedder.CLIP.BaseURL = "http://localhost:7997"
		}
		if cfg.Embedder.CLIP.Model == "" {
			cfg.Embedder.CLIP.Model = "clip-ViT-B-32"
		}
		if cfg.Embedder.CLIP.TimeoutSecs == 0 {
			cfg.Embedder.CLIP.TimeoutSecs = 60
		}
		if cfg.Embedder.CLIP.BatchSize == 0 {
			cfg.Embedder.CLIP.BatchSize = 32
		}
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "bolt"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if cfg.Indexer.Concurrency == 0 {
		cfg.Indexer.Concurrency = 8
	}
	if cfg.Viewer.TopK == 0 {
		cfg.Viewer.TopK = 49
	}
}
