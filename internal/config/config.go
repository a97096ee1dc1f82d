// Package config loads memcore's hierarchical configuration document
// (spec §6): defaults, then a YAML file, then MEMORY_MCP_* environment
// overrides, matching the teacher's layered config.Load convention.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/memcore/memcore/internal/logging"
)

// StorageConfig configures persisted state locations.
type StorageConfig struct {
	VaultPath string       `yaml:"vault_path"`
	Vector    VectorConfig `yaml:"vector"`
}

type VectorConfig struct {
	CollectionName string `yaml:"collection_name"`
	Dimension      int    `yaml:"dimension"`
}

// EmbeddingsConfig names the embedding model identifier.
type EmbeddingsConfig struct {
	Model string `yaml:"model"`
}

// ChunkingConfig bounds the semantic chunker.
type ChunkingConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size"`
	MinChunkSize int `yaml:"min_chunk_size"`
	Overlap      int `yaml:"overlap"`
}

// NexusWeights are the fusion weights for the three tiers.
type NexusWeights struct {
	Vector   float64 `yaml:"vector"`
	Graph    float64 `yaml:"graph"`
	Bayesian float64 `yaml:"bayesian"`
}

// NexusConfig configures the Nexus pipeline's filter/dedupe thresholds.
type NexusConfig struct {
	Weights             NexusWeights `yaml:"weights"`
	ConfidenceThreshold float64      `yaml:"confidence_threshold"`
	DedupThreshold      float64      `yaml:"dedup_threshold"`
	RecallTopN          int          `yaml:"recall_top_n"`
}

// ModeProfile is one row of the §4.1 mode table.
type ModeProfile struct {
	CoreK           int     `yaml:"core_k"`
	ExtendedK       int     `yaml:"extended_k"`
	Threshold       float64 `yaml:"threshold"`
	TokenBudget     int     `yaml:"token_budget"`
	DeadlineMS      int     `yaml:"deadline_ms"`
}

// ModesConfig maps each mode name to its profile.
type ModesConfig struct {
	Execution     ModeProfile `yaml:"execution"`
	Planning      ModeProfile `yaml:"planning"`
	Brainstorming ModeProfile `yaml:"brainstorming"`
}

// DecayConfig configures lifecycle timing.
type DecayConfig struct {
	HalfLifeDays   float64 `yaml:"half_life_days"`
	ShortTermHours float64 `yaml:"short_term_hours"`
	MidTermDays    float64 `yaml:"mid_term_days"`
	LongTermDays   float64 `yaml:"long_term_days"`
}

// BayesianConfig bounds the graph-to-BN translation.
type BayesianConfig struct {
	MaxNodes         int     `yaml:"max_nodes"`
	MinEdgeConfidence float64 `yaml:"min_edge_confidence"`
}

// PerformanceConfig configures tier/query deadlines.
type PerformanceConfig struct {
	VectorTimeoutMS   int `yaml:"vector_timeout_ms"`
	GraphTimeoutMS    int `yaml:"graph_timeout_ms"`
	BayesianTimeoutMS int `yaml:"bayesian_timeout_ms"`
}

// Config is the complete memcore configuration document.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Nexus       NexusConfig       `yaml:"nexus"`
	Modes       ModesConfig       `yaml:"modes"`
	Decay       DecayConfig       `yaml:"decay"`
	Bayesian    BayesianConfig    `yaml:"bayesian"`
	Performance PerformanceConfig `yaml:"performance"`
	Project     string            `yaml:"project"`
}

// New returns a Config populated with the spec's documented defaults.
func New() *Config {
	return &Config{
		Storage: StorageConfig{
			VaultPath: "~/memcore-vault",
			Vector: VectorConfig{
				CollectionName: "default",
				Dimension:      384,
			},
		},
		Embeddings: EmbeddingsConfig{Model: "static-384"},
		Chunking: ChunkingConfig{
			MaxChunkSize: 512,
			MinChunkSize: 128,
			Overlap:      50,
		},
		Nexus: NexusConfig{
			Weights:             NexusWeights{Vector: 0.4, Graph: 0.4, Bayesian: 0.2},
			ConfidenceThreshold: 0.3,
			DedupThreshold:      0.95,
			RecallTopN:          50,
		},
		Modes: ModesConfig{
			Execution:     ModeProfile{CoreK: 5, ExtendedK: 0, Threshold: 0.85, TokenBudget: 5000, DeadlineMS: 500},
			Planning:      ModeProfile{CoreK: 5, ExtendedK: 15, Threshold: 0.65, TokenBudget: 10000, DeadlineMS: 1000},
			Brainstorming: ModeProfile{CoreK: 5, ExtendedK: 25, Threshold: 0.50, TokenBudget: 20000, DeadlineMS: 2000},
		},
		Decay: DecayConfig{
			HalfLifeDays:   30,
			ShortTermHours: 168, // 7 days
			MidTermDays:    30,
			LongTermDays:   90,
		},
		Bayesian: BayesianConfig{MaxNodes: 1000, MinEdgeConfidence: 0.3},
		Performance: PerformanceConfig{
			VectorTimeoutMS:   400,
			GraphTimeoutMS:    800,
			BayesianTimeoutMS: 1000,
		},
		Project: defaultProject(),
	}
}

func defaultProject() string {
	if p := os.Getenv("MEMORY_MCP_PROJECT"); p != "" {
		return p
	}
	return "default"
}

// Load reads defaults, then a YAML document at path (if present), then
// applies MEMORY_MCP_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.Storage.VaultPath = logging.ExpandHome(cfg.Storage.VaultPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("MEMORY_MCP_PROJECT"); p != "" {
		c.Project = p
	}
	if v := os.Getenv("MEMORY_MCP_VAULT_PATH"); v != "" {
		c.Storage.VaultPath = v
	}
	if v := os.Getenv("MEMORY_MCP_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("MEMORY_MCP_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Nexus.Weights.Vector = f
		}
	}
}

// Validate enforces the invariants the spec requires of the configuration
// document: fusion weights must be non-negative, chunk bounds ordered, and
// the embedding dimension positive.
func (c *Config) Validate() error {
	if c.Storage.Vector.Dimension <= 0 {
		return fmt.Errorf("storage.vector.dimension must be positive")
	}
	if c.Chunking.MinChunkSize <= 0 || c.Chunking.MaxChunkSize < c.Chunking.MinChunkSize {
		return fmt.Errorf("chunking.min_chunk_size/max_chunk_size out of order")
	}
	w := c.Nexus.Weights
	if w.Vector < 0 || w.Graph < 0 || w.Bayesian < 0 {
		return fmt.Errorf("nexus.weights must be non-negative")
	}
	return nil
}

// UserConfigDir returns the directory memcore looks in for config.yaml.
func UserConfigDir() string {
	return logging.Home()
}

// DefaultConfigPath returns the default on-disk config location.
func DefaultConfigPath() string {
	return filepath.Join(UserConfigDir(), "config.yaml")
}
