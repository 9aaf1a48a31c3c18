// Package config loads the static configuration every run starts from: the
// data directory, the embedding endpoint, and the instance profile
// definitions. Configuration is a YAML file plus PAPERBASE_* environment
// overrides; validation happens here so a bad config fails at startup, not
// mid-run.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/paperbase/paperbase/internal/instance"
)

// Config is the root configuration.
type Config struct {
	DataDir   string           `yaml:"data_dir"`
	Embedding EmbeddingConfig  `yaml:"embedding"`
	Instances []InstanceConfig `yaml:"instances"`
}

// EmbeddingConfig points at the embedding endpoint shared by all instances.
type EmbeddingConfig struct {
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// SourceConfig declares one origin for an instance.
type SourceConfig struct {
	// Type is "arxiv" or "journal".
	Type string `yaml:"type"`
	// Name tags papers from a journal source ("mdpi"); ignored for arxiv.
	Name string `yaml:"name"`
	// ListingURL is the scraped listing page for journal sources.
	ListingURL string `yaml:"listing_url"`
}

// InstanceConfig is the YAML form of one instance profile.
type InstanceConfig struct {
	Name          string   `yaml:"name"`
	Collection    string   `yaml:"collection"`
	Categories    []string `yaml:"categories"`
	BatchSize     int      `yaml:"batch_size"`
	MaxConcurrent int      `yaml:"max_concurrent"`
	ChunkSize     int      `yaml:"chunk_size"`
	// ChunkOverlap is a pointer so an explicit 0 (no overlap) is
	// distinguishable from an absent key, which gets the default.
	ChunkOverlap *int           `yaml:"chunk_overlap"`
	EmbeddingDim int            `yaml:"embedding_dim"`
	Sources      []SourceConfig `yaml:"sources"`
}

func defaults() Config {
	return Config{
		DataDir: defaultDataDir(),
		Embedding: EmbeddingConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "nomic-embed-text",
			TimeoutSecs: 30,
		},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".paperbase")
	}
	return ".paperbase"
}

// Load reads the config file at path, applies defaults and environment
// overrides, and validates the result. A missing file is fine as long as
// PAPERBASE_* variables or defaults produce a usable config, but at least
// one instance must be defined somewhere.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyInstanceDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAPERBASE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PAPERBASE_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("PAPERBASE_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("PAPERBASE_EMBED_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Embedding.TimeoutSecs = secs
		}
	}
}

// Per-instance defaults mirror what a single mid-sized topic needs; a
// profile only has to name itself, its collection, and its categories.
func applyInstanceDefaults(cfg *Config) {
	for i := range cfg.Instances {
		ic := &cfg.Instances[i]
		if ic.BatchSize == 0 {
			ic.BatchSize = 10
		}
		if ic.MaxConcurrent == 0 {
			ic.MaxConcurrent = 3
		}
		if ic.ChunkSize == 0 {
			ic.ChunkSize = 1000
		}
		if ic.ChunkOverlap == nil {
			overlap := 200
			ic.ChunkOverlap = &overlap
		}
		if ic.EmbeddingDim == 0 {
			ic.EmbeddingDim = 768
		}
	}
}

func (c Config) validate() error {
	if len(c.Instances) == 0 {
		return fmt.Errorf("no instances configured")
	}
	for _, ic := range c.Instances {
		for _, sc := range ic.Sources {
			switch sc.Type {
			case "arxiv":
			case "journal":
				if sc.Name == "" || sc.ListingURL == "" {
					return fmt.Errorf("instance %s: journal source needs name and listing_url", ic.Name)
				}
			default:
				return fmt.Errorf("instance %s: unknown source type %q", ic.Name, sc.Type)
			}
		}
	}
	return instance.ValidateProfiles(c.Profiles())
}

// Profiles resolves the instance configs into immutable profiles, each with
// its own storage root under the data directory.
func (c Config) Profiles() []instance.Profile {
	profiles := make([]instance.Profile, 0, len(c.Instances))
	for _, ic := range c.Instances {
		overlap := 0
		if ic.ChunkOverlap != nil {
			overlap = *ic.ChunkOverlap
		}
		profiles = append(profiles, instance.Profile{
			Name:          ic.Name,
			StorageRoot:   filepath.Join(c.DataDir, "instances", ic.Name),
			Collection:    ic.Collection,
			Categories:    ic.Categories,
			BatchSize:     ic.BatchSize,
			MaxConcurrent: ic.MaxConcurrent,
			ChunkSize:     ic.ChunkSize,
			ChunkOverlap:  overlap,
			EmbeddingDim:  ic.EmbeddingDim,
		})
	}
	return profiles
}

// Instance returns the config block for one instance by name.
func (c Config) Instance(name string) (InstanceConfig, error) {
	for _, ic := range c.Instances {
		if ic.Name == name {
			return ic, nil
		}
	}
	return InstanceConfig{}, fmt.Errorf("instance %q not configured", name)
}

// Profile returns the resolved profile for one instance by name.
func (c Config) Profile(name string) (instance.Profile, error) {
	for _, p := range c.Profiles() {
		if p.Name == name {
			return p, nil
		}
	}
	return instance.Profile{}, fmt.Errorf("instance %q not configured", name)
}

// VectorDir is where the shared vector database lives.
func (c Config) VectorDir() string {
	return filepath.Join(c.DataDir, "vectors")
}
