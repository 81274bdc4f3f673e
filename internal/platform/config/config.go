package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// BackendPgvector は PostgreSQL + pgvector をベクトルストアとして使用する
	BackendPgvector = "pgvector"
	// BackendQdrant は Qdrant をベクトルストアとして使用する
	BackendQdrant = "qdrant"

	// ProviderOpenAI は公式 OpenAI SDK で埋め込みを生成する
	ProviderOpenAI = "openai"
	// ProviderCompat は OpenAI 互換のセルフホストサーバで埋め込みを生成する
	ProviderCompat = "compat"
)

// DefaultCompatBaseURL は compat プロバイダの既定エンドポイント
const DefaultCompatBaseURL = "http://localhost:7997"

// ErrMissingAPIKey は生成用 API キーが設定されていない場合のエラー
var ErrMissingAPIKey = errors.New("config: HF_API_KEY is required")

// Config はアプリケーション全体の設定を保持します
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Database    DatabaseConfig
	VectorStore VectorStoreConfig
	Embedding   EmbeddingConfig
	Cache       CacheConfig
	Generation  GenerationConfig
	Retrieval   RetrievalConfig
	Ingestion   IngestionConfig
}

// ServerConfig は HTTP サーバ設定
type ServerConfig struct {
	Host              string
	Port              int
	ShutdownTimeout   time.Duration
	CORSAllowOrigins  []string // 空または "*" のみの場合は全オリジンを許可
	GenerateRateLimit float64  // /generate のクライアントIPごとの秒間リクエスト数
	GenerateRateBurst int
}

// Addr は listen アドレスを返します
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig はロガー設定
type LogConfig struct {
	Level  string
	Format string
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// VectorStoreConfig はベクトルストア設定
type VectorStoreConfig struct {
	Backend      string // "pgvector" or "qdrant"
	Collection   string // テーブル名 / コレクション名
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantUseTLS bool
}

// EmbeddingConfig は埋め込みモデル設定
type EmbeddingConfig struct {
	Provider  string // "openai" or "compat"
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// CacheConfig は埋め込みキャッシュ（Redis）設定。RedisAddr が空なら無効
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// Enabled はキャッシュが有効かを返します
func (c CacheConfig) Enabled() bool {
	return c.RedisAddr != ""
}

// GenerationConfig は画像生成（Hugging Face Inference API）設定
type GenerationConfig struct {
	APIKey           string
	ModelURL         string
	Timeout          time.Duration
	MaxResponseBytes int64
}

// RetrievalConfig は検索設定
type RetrievalConfig struct {
	DefaultK int
}

// IngestionConfig は画像取り込み設定
type IngestionConfig struct {
	DatasetDir string
	Workers    int
	BatchSize  int
	FailFast   bool // Embedding の失敗で取り込み全体を中断する
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvAsInt("SERVER_PORT", 8000),
			ShutdownTimeout:   getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSAllowOrigins:  getEnvAsList("CORS_ALLOW_ORIGINS", []string{"*"}),
			GenerateRateLimit: getEnvAsFloat("GENERATE_RATE_LIMIT", 1),
			GenerateRateBurst: getEnvAsInt("GENERATE_RATE_BURST", 3),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "textile"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "textile"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 0),
		},
		VectorStore: VectorStoreConfig{
			Backend:      strings.ToLower(getEnv("VECTOR_BACKEND", BackendPgvector)),
			Collection:   getEnv("VECTOR_COLLECTION", "textile_images"),
			QdrantHost:   getEnv("QDRANT_HOST", "localhost"),
			QdrantPort:   getEnvAsInt("QDRANT_PORT", 6334),
			QdrantAPIKey: getEnv("QDRANT_API_KEY", ""),
			QdrantUseTLS: getEnvAsBool("QDRANT_USE_TLS", false),
		},
		Embedding: EmbeddingConfig{
			Provider:  strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderCompat)),
			APIKey:    getEnv("EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", "")),
			BaseURL:   getEnv("EMBEDDING_BASE_URL", ""),
			Model:     getEnv("EMBEDDING_MODEL", "clip-ViT-B-32"),
			Dimension: getEnvAsInt("EMBEDDING_DIMENSION", 512),
			Timeout:   getEnvAsDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		},
		Cache: CacheConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			TTL:           getEnvAsDuration("EMBEDDING_CACHE_TTL", 24*time.Hour),
		},
		Generation: GenerationConfig{
			APIKey:           getEnv("HF_API_KEY", ""),
			ModelURL:         getEnv("HF_MODEL_URL", "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-xl-base-1.0"),
			Timeout:          getEnvAsDuration("HF_TIMEOUT", 120*time.Second),
			MaxResponseBytes: int64(getEnvAsInt("HF_MAX_RESPONSE_BYTES", 32<<20)),
		},
		Retrieval: RetrievalConfig{
			DefaultK: getEnvAsInt("RETRIEVAL_DEFAULT_K", 5),
		},
		Ingestion: IngestionConfig{
			DatasetDir: getEnv("DATASET_DIR", "textile_data"),
			Workers:    getEnvAsInt("INGEST_WORKERS", 8),
			BatchSize:  getEnvAsInt("INGEST_BATCH_SIZE", 64),
			FailFast:   getEnvAsBool("INGEST_FAIL_FAST", false),
		},
	}

	// compat プロバイダはローカルの CLIP サーバを既定とする
	if cfg.Embedding.Provider == ProviderCompat && cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = DefaultCompatBaseURL
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	switch c.VectorStore.Backend {
	case BackendPgvector, BackendQdrant:
	default:
		return fmt.Errorf("config: unknown VECTOR_BACKEND %q", c.VectorStore.Backend)
	}

	switch c.Embedding.Provider {
	case ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			return errors.New("config: EMBEDDING_API_KEY (or OPENAI_API_KEY) is required for the openai provider")
		}
	case ProviderCompat:
		if c.Embedding.BaseURL == "" {
			return errors.New("config: EMBEDDING_BASE_URL is required for the compat provider")
		}
	default:
		return fmt.Errorf("config: unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider)
	}

	if c.Embedding.Model == "" {
		return errors.New("config: EMBEDDING_MODEL is required")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("config: EMBEDDING_DIMENSION must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Retrieval.DefaultK <= 0 {
		return fmt.Errorf("config: RETRIEVAL_DEFAULT_K must be positive, got %d", c.Retrieval.DefaultK)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: SERVER_PORT out of range: %d", c.Server.Port)
	}
	return nil
}

// RequireGeneration は画像生成に必要な設定が揃っているかを検証します
func (c *Config) RequireGeneration() error {
	if c.Generation.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// AllowAllOrigins は CORS で全オリジンを許可するかを返します
func (c ServerConfig) AllowAllOrigins() bool {
	if len(c.CORSAllowOrigins) == 0 {
		return true
	}
	for _, origin := range c.CORSAllowOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（"30s" 形式または秒数）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// getEnvAsList はカンマ区切りの環境変数をリストとして取得します
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
