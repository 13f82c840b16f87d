package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration values. Values are layered:
// defaults, then an optional YAML file, then .env, then the process environment.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
	Auth        AuthConfig        `yaml:"auth"`
	DatabaseURL string            `yaml:"database_url"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Generation  GenerationConfig  `yaml:"generation"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Reuse       ReuseConfig       `yaml:"reuse"`
	Answer      AnswerConfig      `yaml:"answer"`
	Suggestions SuggestionsConfig `yaml:"suggestions"`
	Stream      StreamConfig      `yaml:"stream"`
	MCPEnabled  bool              `yaml:"mcp_enabled"`
}

type HTTPConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// AuthConfig enables bearer auth when JWTSecret is non-empty.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenExpiration time.Duration `yaml:"token_expiration"`
}

type VectorStoreConfig struct {
	Backend           string `yaml:"backend"` // memory, qdrant, milvus, pgvector
	Collection        string `yaml:"collection"`
	QdrantURL         string `yaml:"qdrant_url"`
	QdrantAPIKey      string `yaml:"qdrant_api_key"`
	MilvusAddress     string `yaml:"milvus_address"`
	MilvusUsername    string `yaml:"milvus_username"`
	MilvusPassword    string `yaml:"milvus_password"`
	MilvusVectorField string `yaml:"milvus_vector_field"`
	PgvectorTable     string `yaml:"pgvector_table"`
	MemorySeedFile    string `yaml:"memory_seed_file"`
}

type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // openai or hashing
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	CacheSize  int    `yaml:"cache_size"`
}

type GenerationConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TopP        float64 `yaml:"top_p"`
	Retries     int     `yaml:"retries"`
}

type RetrievalConfig struct {
	TopK                int           `yaml:"top_k"`
	MaxTopK             int           `yaml:"max_top_k"`
	CandidateMultiplier int           `yaml:"candidate_multiplier"`
	MaxPassageChars     int           `yaml:"max_passage_chars"`
	Timeout             time.Duration `yaml:"timeout"`
	Retries             int           `yaml:"retries"`
	IndexVersion        string        `yaml:"index_version"`
	RerankURL           string        `yaml:"rerank_url"`
}

// ReuseConfig tunes the follow-up relevance check.
type ReuseConfig struct {
	Threshold       float64 `yaml:"threshold"`
	AmbiguityMargin float64 `yaml:"ambiguity_margin"`
	ValiditySecret  string  `yaml:"validity_secret"`
}

type AnswerConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	HistoryTokenBudget int           `yaml:"history_token_budget"`
	TokenizerEncoding  string        `yaml:"tokenizer_encoding"`
}

type SuggestionsConfig struct {
	Max     int           `yaml:"max"`
	Timeout time.Duration `yaml:"timeout"`
}

type StreamConfig struct {
	ChunkRunes     int           `yaml:"chunk_runes"`
	PacingInterval time.Duration `yaml:"pacing_interval"`
}

// MaxSuggestions is the hard upper bound on returned follow-up suggestions.
const MaxSuggestions = 4

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            "8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  90 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Log:  LogConfig{Level: "info", Format: "json"},
		Auth: AuthConfig{TokenExpiration: 24 * time.Hour},
		VectorStore: VectorStoreConfig{
			Backend:           "memory",
			Collection:        "passages",
			QdrantURL:         "http://localhost:6333",
			MilvusAddress:     "localhost:19530",
			MilvusVectorField: "vector",
			PgvectorTable:     "passages",
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			CacheSize:  2048,
		},
		Generation: GenerationConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   1500,
			TopP:        0.8,
			Retries:     2,
		},
		Retrieval: RetrievalConfig{
			TopK:                3,
			MaxTopK:             10,
			CandidateMultiplier: 2,
			MaxPassageChars:     3000,
			Timeout:             10 * time.Second,
			Retries:             2,
			IndexVersion:        "1",
		},
		Reuse: ReuseConfig{
			Threshold:       0.55,
			AmbiguityMargin: 0.05,
		},
		Answer: AnswerConfig{
			Timeout:            45 * time.Second,
			HistoryTokenBudget: 3000,
			TokenizerEncoding:  "cl100k_base",
		},
		Suggestions: SuggestionsConfig{
			Max:     MaxSuggestions,
			Timeout: 15 * time.Second,
		},
		Stream: StreamConfig{
			ChunkRunes:     8,
			PacingInterval: 15 * time.Millisecond,
		},
		MCPEnabled: true,
	}
}

// LoadOptions controls where LoadConfig looks for configuration sources.
type LoadOptions struct {
	ConfigFile string // optional YAML file; CONFIG_FILE is used when empty
	EnvFile    string // optional .env file; ".env" is used when empty
}

// LoadConfig loads configuration from all layers and validates the result.
func LoadConfig(opts LoadOptions) (*Config, error) {
	// Attempt to load .env file (useful for development)
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("Warning: could not load %s, using environment variables only: %v", envFile, err)
	}

	cfg := Default()

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile != "" {
		if err := cfg.mergeFile(configFile); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTP.Port = getEnv("HTTP_PORT", c.HTTP.Port)
	c.HTTP.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", c.HTTP.ReadTimeout)
	c.HTTP.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", c.HTTP.WriteTimeout)
	c.HTTP.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)
	c.HTTP.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.HTTP.RequestTimeout)
	c.HTTP.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.HTTP.AllowedOrigins)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	if hours := getEnvInt("JWT_EXPIRATION_HOURS", 0); hours > 0 {
		c.Auth.TokenExpiration = time.Duration(hours) * time.Hour
	}

	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	c.VectorStore.Backend = getEnv("VECTOR_STORE", c.VectorStore.Backend)
	c.VectorStore.Collection = getEnv("VECTOR_COLLECTION", c.VectorStore.Collection)
	c.VectorStore.QdrantURL = getEnv("QDRANT_URL", c.VectorStore.QdrantURL)
	c.VectorStore.QdrantAPIKey = getEnv("QDRANT_API_KEY", c.VectorStore.QdrantAPIKey)
	c.VectorStore.MilvusAddress = getEnv("MILVUS_ADDRESS", c.VectorStore.MilvusAddress)
	c.VectorStore.MilvusUsername = getEnv("MILVUS_USERNAME", c.VectorStore.MilvusUsername)
	c.VectorStore.MilvusPassword = getEnv("MILVUS_PASSWORD", c.VectorStore.MilvusPassword)
	c.VectorStore.MilvusVectorField = getEnv("MILVUS_VECTOR_FIELD", c.VectorStore.MilvusVectorField)
	c.VectorStore.PgvectorTable = getEnv("PGVECTOR_TABLE", c.VectorStore.PgvectorTable)
	c.VectorStore.MemorySeedFile = getEnv("MEMORY_SEED_FILE", c.VectorStore.MemorySeedFile)

	c.Embedding.Provider = getEnv("EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = getEnv("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimensions = getEnvInt("EMBEDDING_DIMENSIONS", c.Embedding.Dimensions)
	c.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.CacheSize = getEnvInt("EMBEDDING_CACHE_SIZE", c.Embedding.CacheSize)

	c.Generation.APIKey = getEnv("GENERATION_API_KEY", c.Generation.APIKey)
	c.Generation.BaseURL = getEnv("GENERATION_BASE_URL", c.Generation.BaseURL)
	c.Generation.Model = getEnv("GENERATION_MODEL", c.Generation.Model)
	c.Generation.Temperature = getEnvFloat("GENERATION_TEMPERATURE", c.Generation.Temperature)
	c.Generation.MaxTokens = getEnvInt("GENERATION_MAX_TOKENS", c.Generation.MaxTokens)
	c.Generation.TopP = getEnvFloat("GENERATION_TOP_P", c.Generation.TopP)
	c.Generation.Retries = getEnvInt("GENERATION_RETRIES", c.Generation.Retries)

	// The embedding backend shares the generation credentials unless set separately.
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = c.Generation.APIKey
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = c.Generation.BaseURL
	}

	c.Retrieval.TopK = getEnvInt("RETRIEVAL_TOP_K", c.Retrieval.TopK)
	c.Retrieval.MaxTopK = getEnvInt("RETRIEVAL_MAX_TOP_K", c.Retrieval.MaxTopK)
	c.Retrieval.CandidateMultiplier = getEnvInt("RETRIEVAL_CANDIDATE_MULTIPLIER", c.Retrieval.CandidateMultiplier)
	c.Retrieval.MaxPassageChars = getEnvInt("RETRIEVAL_MAX_PASSAGE_CHARS", c.Retrieval.MaxPassageChars)
	c.Retrieval.Timeout = getEnvDuration("RETRIEVAL_TIMEOUT", c.Retrieval.Timeout)
	c.Retrieval.Retries = getEnvInt("RETRIEVAL_RETRIES", c.Retrieval.Retries)
	c.Retrieval.IndexVersion = getEnv("RETRIEVAL_INDEX_VERSION", c.Retrieval.IndexVersion)
	c.Retrieval.RerankURL = getEnv("RERANK_URL", c.Retrieval.RerankURL)

	c.Reuse.Threshold = getEnvFloat("REUSE_THRESHOLD", c.Reuse.Threshold)
	c.Reuse.AmbiguityMargin = getEnvFloat("REUSE_AMBIGUITY_MARGIN", c.Reuse.AmbiguityMargin)
	c.Reuse.ValiditySecret = getEnv("VALIDITY_SECRET", c.Reuse.ValiditySecret)

	c.Answer.Timeout = getEnvDuration("ANSWER_TIMEOUT", c.Answer.Timeout)
	c.Answer.HistoryTokenBudget = getEnvInt("ANSWER_HISTORY_TOKEN_BUDGET", c.Answer.HistoryTokenBudget)
	c.Answer.TokenizerEncoding = getEnv("TOKENIZER_ENCODING", c.Answer.TokenizerEncoding)

	c.Suggestions.Max = getEnvInt("SUGGESTIONS_MAX", c.Suggestions.Max)
	c.Suggestions.Timeout = getEnvDuration("SUGGESTIONS_TIMEOUT", c.Suggestions.Timeout)

	c.Stream.ChunkRunes = getEnvInt("STREAM_CHUNK_RUNES", c.Stream.ChunkRunes)
	c.Stream.PacingInterval = getEnvDuration("STREAM_PACING_INTERVAL", c.Stream.PacingInterval)

	c.MCPEnabled = getEnvBool("MCP_ENABLED", c.MCPEnabled)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.HTTP.Port == "" {
		result = multierror.Append(result, errors.New("HTTP_PORT must not be empty"))
	}

	switch c.VectorStore.Backend {
	case "memory":
	case "qdrant":
		if c.VectorStore.QdrantURL == "" {
			result = multierror.Append(result, errors.New("QDRANT_URL is required for the qdrant vector store"))
		}
	case "milvus":
		if c.VectorStore.MilvusAddress == "" {
			result = multierror.Append(result, errors.New("MILVUS_ADDRESS is required for the milvus vector store"))
		}
	case "pgvector":
		if c.DatabaseURL == "" {
			result = multierror.Append(result, errors.New("DATABASE_URL is required for the pgvector vector store"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown VECTOR_STORE %q", c.VectorStore.Backend))
	}

	switch c.Embedding.Provider {
	case "hashing":
	case "openai":
		if c.Embedding.APIKey == "" {
			result = multierror.Append(result, errors.New("EMBEDDING_API_KEY or GENERATION_API_KEY is required for the openai embedder"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimensions <= 0 {
		result = multierror.Append(result, errors.New("EMBEDDING_DIMENSIONS must be positive"))
	}

	if c.Generation.APIKey == "" {
		result = multierror.Append(result, errors.New("GENERATION_API_KEY is required"))
	}
	if c.Generation.Model == "" {
		result = multierror.Append(result, errors.New("GENERATION_MODEL must not be empty"))
	}

	if c.Retrieval.TopK <= 0 {
		result = multierror.Append(result, errors.New("RETRIEVAL_TOP_K must be positive"))
	}
	if c.Retrieval.MaxTopK < c.Retrieval.TopK {
		result = multierror.Append(result, errors.New("RETRIEVAL_MAX_TOP_K must be >= RETRIEVAL_TOP_K"))
	}
	if c.Retrieval.CandidateMultiplier < 1 {
		result = multierror.Append(result, errors.New("RETRIEVAL_CANDIDATE_MULTIPLIER must be >= 1"))
	}

	if c.Reuse.Threshold < -1 || c.Reuse.Threshold > 1 {
		result = multierror.Append(result, errors.New("REUSE_THRESHOLD must be within [-1, 1]"))
	}
	if c.Reuse.AmbiguityMargin < 0 {
		result = multierror.Append(result, errors.New("REUSE_AMBIGUITY_MARGIN must not be negative"))
	}

	if c.Suggestions.Max < 0 || c.Suggestions.Max > MaxSuggestions {
		result = multierror.Append(result, fmt.Errorf("SUGGESTIONS_MAX must be within [0, %d]", MaxSuggestions))
	}
	if c.Stream.ChunkRunes <= 0 {
		result = multierror.Append(result, errors.New("STREAM_CHUNK_RUNES must be positive"))
	}
	if c.Stream.PacingInterval < 0 {
		result = multierror.Append(result, errors.New("STREAM_PACING_INTERVAL must not be negative"))
	}

	return result.ErrorOrNil()
}

// AuthEnabled reports whether bearer auth guards the API.
func (c *Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("Warning: invalid %s '%s', using %d: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Printf("Warning: invalid %s '%s', using %v: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("Warning: invalid %s '%s', using %v: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("Warning: invalid %s '%s', using %s: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}

func getEnvList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
