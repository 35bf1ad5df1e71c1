// Package config loads and validates docbase configuration.
//
// Precedence: built-in defaults, then the YAML file, then DOCBASE_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete docbase configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Logging    LoggingConfig    `yaml:"logging"`
	Index      IndexConfig      `yaml:"index"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Quota      QuotaConfig      `yaml:"quota"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	// DataRoot holds per-tenant index directories (<root>/<user>_<org>_<app>/).
	DataRoot string `yaml:"data_root"`
	// DriveRoot is the root of the user-facing document drive.
	DriveRoot string `yaml:"drive_root"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// IndexConfig configures index persistence and the vector engine.
type IndexConfig struct {
	// Autosave enables the periodic snapshot timer.
	Autosave bool `yaml:"autosave"`
	// AutosaveFrequency is the snapshot interval in milliseconds.
	AutosaveFrequency int `yaml:"autosave_frequency"`
	// Multithreaded enables worker-pool fan-out for vector queries.
	Multithreaded bool `yaml:"multithreaded"`
	// TfidfSearchLangs lists ISO codes for which keyword search is preferred
	// over vector search.
	TfidfSearchLangs []string `yaml:"tfidf_search_langs"`
}

// ClusterConfig configures the bus adapter.
type ClusterConfig struct {
	// Distributed enables cross-node query merging and mutation broadcast.
	Distributed bool `yaml:"distributed"`
	// ClusterTimeout bounds bus RPCs, in milliseconds.
	ClusterTimeout int `yaml:"cluster_timeout"`
	// RedisAddr is the redis endpoint backing the bus (host:port).
	RedisAddr string `yaml:"redis_addr"`
	// KnownNodes is the expected replica count; requests resolve as soon as
	// this many replies arrive. Zero means wait for the timeout.
	KnownNodes int `yaml:"known_nodes"`
}

// EmbeddingsConfig selects and configures the embedder backend.
type EmbeddingsConfig struct {
	// Provider is one of "ollama", "openai", "static".
	Provider string `yaml:"provider"`
	// EmbeddingsModel is the model identifier passed to the provider.
	EmbeddingsModel string `yaml:"embeddings_model"`
	// Encoding is the tokenizer encoding hint forwarded to the provider.
	Encoding string `yaml:"encoding"`
	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`
	// CacheSize is the LRU embedding cache capacity.
	CacheSize int `yaml:"cache_size"`
}

// RetrievalConfig carries the per-model retrieval parameters.
type RetrievalConfig struct {
	TopKTfidf          int      `yaml:"topK_tfidf"`
	CutoffScoreTfidf   float64  `yaml:"cutoff_score_tfidf"`
	TopKVectors        int      `yaml:"topK_vectors"`
	MinDistanceVectors float64  `yaml:"min_distance_vectors"`
	ChunkSize          int      `yaml:"chunk_size"`
	SplitSeparators    []string `yaml:"split_separators"`
	Overlap            int      `yaml:"overlap"`
}

// QuotaConfig configures the usage-log quota adapter.
type QuotaConfig struct {
	// DBPath is the sqlite file backing usage bookkeeping.
	DBPath string `yaml:"db_path"`
	// MaxBytesPerUser is the per-user ingest budget. Zero disables the gate.
	MaxBytesPerUser int64 `yaml:"max_bytes_per_user"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			DataRoot:  ".docbase/data",
			DriveRoot: ".docbase/drive",
		},
		Logging: LoggingConfig{Level: "info"},
		Index: IndexConfig{
			Autosave:          true,
			AutosaveFrequency: 120_000,
			Multithreaded:     true,
			TfidfSearchLangs:  nil,
		},
		Cluster: ClusterConfig{
			Distributed:    false,
			ClusterTimeout: 2_000,
			RedisAddr:      "localhost:6379",
		},
		Embeddings: EmbeddingsConfig{
			Provider:        "ollama",
			EmbeddingsModel: "nomic-embed-text",
			OllamaHost:      "http://localhost:11434",
			CacheSize:       1000,
		},
		Retrieval: RetrievalConfig{
			TopKTfidf:          20,
			CutoffScoreTfidf:   0.0,
			TopKVectors:        8,
			MinDistanceVectors: 0.30,
			ChunkSize:          500,
			SplitSeparators:    []string{".", "!", "?", "\n", " "},
			Overlap:            50,
		},
		Quota: QuotaConfig{
			DBPath: ".docbase/usage.db",
		},
	}
}

// Load reads the config file at path (if it exists), applies environment
// overrides, validates, and returns the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides fields from DOCBASE_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("DOCBASE_DATA_ROOT"); v != "" {
		c.Paths.DataRoot = v
	}
	if v := os.Getenv("DOCBASE_DRIVE_ROOT"); v != "" {
		c.Paths.DriveRoot = v
	}
	if v := os.Getenv("DOCBASE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCBASE_REDIS_ADDR"); v != "" {
		c.Cluster.RedisAddr = v
	}
	if v := os.Getenv("DOCBASE_DISTRIBUTED"); v != "" {
		c.Cluster.Distributed = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("DOCBASE_CLUSTER_TIMEOUT"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Cluster.ClusterTimeout = ms
		}
	}
	if v := os.Getenv("DOCBASE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCBASE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.EmbeddingsModel = v
	}
	if v := os.Getenv("DOCBASE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
}

// Validate checks invariants that later components rely on.
func (c *Config) Validate() error {
	if c.Index.AutosaveFrequency < 0 {
		return fmt.Errorf("autosave_frequency must be >= 0, got %d", c.Index.AutosaveFrequency)
	}
	if c.Cluster.ClusterTimeout <= 0 {
		return fmt.Errorf("cluster_timeout must be > 0, got %d", c.Cluster.ClusterTimeout)
	}
	if c.Retrieval.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0, got %d", c.Retrieval.ChunkSize)
	}
	if c.Retrieval.Overlap < 0 || c.Retrieval.Overlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("overlap must be in [0, chunk_size), got %d", c.Retrieval.Overlap)
	}
	if c.Retrieval.CutoffScoreTfidf < 0 || c.Retrieval.CutoffScoreTfidf > 1 {
		return fmt.Errorf("cutoff_score_tfidf must be in [0,1], got %f", c.Retrieval.CutoffScoreTfidf)
	}
	switch c.Embeddings.Provider {
	case "ollama", "openai", "static":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	return nil
}

// AutosaveInterval returns the snapshot interval as a duration.
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Index.AutosaveFrequency) * time.Millisecond
}

// ClusterTimeout returns the bus RPC bound as a duration.
func (c *Config) ClusterTimeout() time.Duration {
	return time.Duration(c.Cluster.ClusterTimeout) * time.Millisecond
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
