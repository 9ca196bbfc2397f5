package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EmbeddingProviderGemini = "gemini"
	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderOllama = "ollama"

	VectorStoreWeaviate = "weaviate"
	VectorStoreQdrant   = "qdrant"
	VectorStoreMemory   = "memory"
)

type Config struct {
	Port           string            `mapstructure:"port" yaml:"port"`
	UploadDir      string            `mapstructure:"upload_dir" yaml:"upload_dir"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout" yaml:"request_timeout"`
	JWTSecret      string            `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`
	MongoDBURI     string            `mapstructure:"mongodb_uri" yaml:"mongodb_uri,omitempty"`
	MongoDatabase  string            `mapstructure:"mongodb_database" yaml:"mongodb_database"`
	Log            LogConfig         `mapstructure:"log" yaml:"log"`
	Chunking       ChunkingConfig    `mapstructure:"chunking" yaml:"chunking"`
	PDF            PDFConfig         `mapstructure:"pdf" yaml:"pdf"`
	Embedding      EmbeddingConfig   `mapstructure:"embedding" yaml:"embedding"`
	VectorStore    VectorStoreConfig `mapstructure:"vector_store" yaml:"vector_store"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type ChunkingConfig struct {
	ChunkSize       int `mapstructure:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap    int `mapstructure:"chunk_overlap" yaml:"chunk_overlap"`
	MaxChunksPerDoc int `mapstructure:"max_chunks_per_doc" yaml:"max_chunks_per_doc"`
}

// PDFConfig controls the OCR fallback for PDFs without a text layer.
type PDFConfig struct {
	OCR          bool   `mapstructure:"ocr" yaml:"ocr"`
	OCRLanguages string `mapstructure:"ocr_languages" yaml:"ocr_languages"`
}

type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKeys           []string      `mapstructure:"api_keys" yaml:"api_keys,omitempty"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BatchSize         int           `mapstructure:"batch_size" yaml:"batch_size"`
	Workers           int           `mapstructure:"workers" yaml:"workers"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	MaxTextChars      int           `mapstructure:"max_text_chars" yaml:"max_text_chars"`
	DefaultDimension  int           `mapstructure:"default_dimension" yaml:"default_dimension"`
	AllowDegraded     bool          `mapstructure:"allow_degraded" yaml:"allow_degraded"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

type VectorStoreConfig struct {
	Type                string         `mapstructure:"type" yaml:"type"`
	SimilarityThreshold float64        `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	Weaviate            WeaviateConfig `mapstructure:"weaviate" yaml:"weaviate"`
	Qdrant              QdrantConfig   `mapstructure:"qdrant" yaml:"qdrant"`
}

type WeaviateConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	ClassName string `mapstructure:"class_name" yaml:"class_name"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Collection string `mapstructure:"collection" yaml:"collection"`
	Dimension  int    `mapstructure:"dimension" yaml:"dimension"`
}

// DefaultConfig mirrors the settings the service ships with.
func DefaultConfig() *Config {
	return &Config{
		Port:           "8000",
		UploadDir:      "temp_uploads",
		RequestTimeout: 5 * time.Minute,
		MongoDatabase:  "docrag",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Chunking: ChunkingConfig{
			ChunkSize:       512,
			ChunkOverlap:    102,
			MaxChunksPerDoc: 1000,
		},
		PDF: PDFConfig{
			OCR:          true,
			OCRLanguages: "eng",
		},
		Embedding: EmbeddingConfig{
			Provider:         EmbeddingProviderGemini,
			Model:            "embedding-001",
			Timeout:          60 * time.Second,
			BatchSize:        10,
			Workers:          3,
			MaxAttempts:      3,
			RetryDelay:       time.Second,
			MaxTextChars:     25000,
			DefaultDimension: 768,
			AllowDegraded:    true,
		},
		VectorStore: VectorStoreConfig{
			Type:                VectorStoreWeaviate,
			SimilarityThreshold: 0.7,
			Weaviate: WeaviateConfig{
				Host:      "http://localhost:8080",
				ClassName: "DocumentChunk",
			},
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "document_chunks",
				Dimension:  768,
			},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("port", d.Port)
	v.SetDefault("upload_dir", d.UploadDir)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("mongodb_uri", "")
	v.SetDefault("mongodb_database", d.MongoDatabase)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("chunking.chunk_size", d.Chunking.ChunkSize)
	v.SetDefault("chunking.chunk_overlap", d.Chunking.ChunkOverlap)
	v.SetDefault("chunking.max_chunks_per_doc", d.Chunking.MaxChunksPerDoc)
	v.SetDefault("pdf.ocr", d.PDF.OCR)
	v.SetDefault("pdf.ocr_languages", d.PDF.OCRLanguages)
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.api_keys", []string{})
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.timeout", d.Embedding.Timeout)
	v.SetDefault("embedding.batch_size", d.Embedding.BatchSize)
	v.SetDefault("embedding.workers", d.Embedding.Workers)
	v.SetDefault("embedding.max_attempts", d.Embedding.MaxAttempts)
	v.SetDefault("embedding.retry_delay", d.Embedding.RetryDelay)
	v.SetDefault("embedding.max_text_chars", d.Embedding.MaxTextChars)
	v.SetDefault("embedding.default_dimension", d.Embedding.DefaultDimension)
	v.SetDefault("embedding.allow_degraded", d.Embedding.AllowDegraded)
	v.SetDefault("embedding.requests_per_second", d.Embedding.RequestsPerSecond)
	v.SetDefault("vector_store.type", d.VectorStore.Type)
	v.SetDefault("vector_store.similarity_threshold", d.VectorStore.SimilarityThreshold)
	v.SetDefault("vector_store.weaviate.host", d.VectorStore.Weaviate.Host)
	v.SetDefault("vector_store.weaviate.api_key", "")
	v.SetDefault("vector_store.weaviate.class_name", d.VectorStore.Weaviate.ClassName)
	v.SetDefault("vector_store.qdrant.host", d.VectorStore.Qdrant.Host)
	v.SetDefault("vector_store.qdrant.port", d.VectorStore.Qdrant.Port)
	v.SetDefault("vector_store.qdrant.api_key", "")
	v.SetDefault("vector_store.qdrant.collection", d.VectorStore.Qdrant.Collection)
	v.SetDefault("vector_store.qdrant.dimension", d.VectorStore.Qdrant.Dimension)
}

// LoadConfig reads the YAML file at configPath (skipped when empty), then
// environment variables, on top of DefaultConfig, and validates the result.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Set up Viper to read from environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets keep their conventional names
	v.BindEnv("embedding.api_keys", "EMBEDDING_API_KEYS", "GOOGLE_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("vector_store.weaviate.host", "WEAVIATE_URL")
	v.BindEnv("vector_store.weaviate.api_key", "WEAVIATE_APIKEY")
	v.BindEnv("vector_store.qdrant.api_key", "QDRANT_APIKEY")
	v.BindEnv("mongodb_uri", "MONGODB_URI")
	v.BindEnv("jwt_secret", "JWT_SECRET")

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Chunking.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize))
	}
	if c.Chunking.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("chunking.chunk_overlap must not be negative, got %d", c.Chunking.ChunkOverlap))
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		errs = append(errs, fmt.Errorf("chunking.chunk_overlap (%d) must be smaller than chunking.chunk_size (%d)",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize))
	}
	if c.Chunking.MaxChunksPerDoc <= 0 {
		errs = append(errs, fmt.Errorf("chunking.max_chunks_per_doc must be positive, got %d", c.Chunking.MaxChunksPerDoc))
	}

	switch c.Embedding.Provider {
	case EmbeddingProviderGemini, EmbeddingProviderOpenAI, EmbeddingProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.Workers <= 0 || c.Embedding.MaxAttempts <= 0 {
		errs = append(errs, errors.New("embedding.batch_size, embedding.workers and embedding.max_attempts must be positive"))
	}
	if c.Embedding.MaxTextChars <= 0 {
		errs = append(errs, fmt.Errorf("embedding.max_text_chars must be positive, got %d", c.Embedding.MaxTextChars))
	}
	if c.Embedding.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("embedding.requests_per_second must not be negative"))
	}

	switch c.VectorStore.Type {
	case VectorStoreWeaviate, VectorStoreQdrant, VectorStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown vector_store.type %q", c.VectorStore.Type))
	}
	if c.VectorStore.SimilarityThreshold < 0 || c.VectorStore.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("vector_store.similarity_threshold must be within [0, 1], got %v", c.VectorStore.SimilarityThreshold))
	}
	if c.VectorStore.Type == VectorStoreQdrant && c.VectorStore.Qdrant.Dimension <= 0 {
		errs = append(errs, errors.New("vector_store.qdrant.dimension must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Save writes cfg as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
