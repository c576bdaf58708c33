// Package config loads and validates the HCL configuration file.
package config

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the top-level configuration.
type Config struct {
	Server      *Server      `hcl:"server,block"`
	Database    *Database    `hcl:"database,block"`
	Embedding   *Embedding   `hcl:"embedding,block"`
	Search      *Search      `hcl:"search,block"`
	Ingest      *Ingest      `hcl:"ingest,block"`
	Suggestions *Suggestions `hcl:"suggestions,block"`
	Vision      *Vision      `hcl:"vision,block"`
	Kafka       *Kafka       `hcl:"kafka,block"`
	Deadlines   *Deadlines   `hcl:"deadlines,block"`

	// VendorAliases maps vendor name variants to canonical keys.
	VendorAliases map[string]string `hcl:"vendor_aliases,optional"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr string `hcl:"addr,optional"` // default ":8000"
}

// Database configures the resource store connection.
type Database struct {
	Driver   string `hcl:"driver,optional"` // "postgres" or "sqlite"
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	User     string `hcl:"user,optional"`
	Password string `hcl:"password,optional"`
	DBName   string `hcl:"dbname,optional"`
	SSLMode  string `hcl:"sslmode,optional"`
	Path     string `hcl:"path,optional"` // sqlite file path
}

// Embedding configures the embedding backend. Changing DimText or
// DimCaption is schema-breaking: all stored vectors must be recomputed.
type Embedding struct {
	BaseURL      string `hcl:"base_url,optional"`
	APIKey       string `hcl:"api_key,optional"`
	Model        string `hcl:"model,optional"`
	CaptionModel string `hcl:"caption_model,optional"`
	DimText      int    `hcl:"dim_text,optional"`
	DimCaption   int    `hcl:"dim_caption,optional"`
}

// Search configures scoring and index placement.
type Search struct {
	MoneyTolerance          float64 `hcl:"money_tolerance,optional"`
	ScoreCeiling            float64 `hcl:"score_ceiling,optional"`
	SemanticStrongThreshold float64 `hcl:"semantic_strong_threshold,optional"`
	OverFetchFactor         int     `hcl:"over_fetch_factor,optional"`
	IndexName               string  `hcl:"index_name,optional"`
	IndexPath               string  `hcl:"index_path,optional"`
	VectorPath              string  `hcl:"vector_path,optional"`
}

// Ingest configures parsing and worker concurrency.
type Ingest struct {
	ChunkSizeChars       int `hcl:"chunk_size_chars,optional"`
	ChunkOverlapChars    int `hcl:"chunk_overlap_chars,optional"`
	WorkerConcurrency    int `hcl:"worker_concurrency,optional"`
	PerTenantConcurrency int `hcl:"per_tenant_concurrency,optional"`
}

// Suggestions configures the suggestion index backend.
type Suggestions struct {
	Backend             string `hcl:"backend,optional"` // "memory" or "redis"
	RedisAddr           string `hcl:"redis_addr,optional"`
	RedisPassword       string `hcl:"redis_password,optional"`
	RedisDB             int    `hcl:"redis_db,optional"`
	MaxTermsPerResource int    `hcl:"max_terms_per_resource,optional"`
}

// Vision configures the external OCR and captioning services. Both are
// optional; absence degrades image ingestion to metadata-only.
type Vision struct {
	OCRURL     string `hcl:"ocr_url,optional"`
	CaptionURL string `hcl:"caption_url,optional"`
}

// Kafka configures the upload-event consumer. Absent means the consumer
// is not started.
type Kafka struct {
	Brokers       []string `hcl:"brokers"`
	Topic         string   `hcl:"topic"`
	ConsumerGroup string   `hcl:"consumer_group,optional"`
}

// Deadlines bounds external calls, in milliseconds.
type Deadlines struct {
	EmbedMS   int `hcl:"embed_ms,optional"`
	OCRMS     int `hcl:"ocr_ms,optional"`
	CaptionMS int `hcl:"caption_ms,optional"`
	SearchMS  int `hcl:"search_ms,optional"`
	StoreMS   int `hcl:"store_ms,optional"`
}

// NewConfig parses an HCL file into a validated Config.
func NewConfig(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing configuration file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns a runnable zero-config setup: embedded SQLite,
// in-memory indexes, no external services.
func Default() *Config {
	return &Config{
		Server:   &Server{Addr: ":8000"},
		Database: &Database{Driver: "sqlite", Path: "quarry.db"},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Database != nil {
		err := validation.ValidateStruct(c.Database,
			validation.Field(&c.Database.Driver,
				validation.In("", "postgres", "sqlite")),
		)
		if err != nil {
			return err
		}
	}
	if c.Search != nil {
		err := validation.ValidateStruct(c.Search,
			validation.Field(&c.Search.MoneyTolerance, validation.Min(0.0), validation.Max(1.0)),
			validation.Field(&c.Search.ScoreCeiling, validation.Min(0.0)),
			validation.Field(&c.Search.SemanticStrongThreshold, validation.Min(0.0), validation.Max(1.0)),
			validation.Field(&c.Search.OverFetchFactor, validation.Min(0)),
		)
		if err != nil {
			return err
		}
	}
	if c.Suggestions != nil {
		err := validation.ValidateStruct(c.Suggestions,
			validation.Field(&c.Suggestions.Backend,
				validation.In("", "memory", "redis")),
		)
		if err != nil {
			return err
		}
		if c.Suggestions.Backend == "redis" && c.Suggestions.RedisAddr == "" {
			return fmt.Errorf("suggestions: redis backend requires redis_addr")
		}
	}
	if c.Embedding != nil && c.Embedding.Model != "" && c.Embedding.DimText <= 0 {
		return fmt.Errorf("embedding: dim_text is required when a model is configured")
	}
	return nil
}
