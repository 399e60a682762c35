package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ModelEndpoint configures one OpenAI-compatible HTTP model service.
type ModelEndpoint struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	APIPath  string        `yaml:"api_path"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
	APIKey   string        `yaml:"-"`
}

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	DatabaseURL      string `yaml:"-"`
	SslCertPath      string `yaml:"-"`
	VectorStore      string `yaml:"vector_store"`
	CollectionPrefix string `yaml:"collection_prefix"`
	EmbedDim         int    `yaml:"embed_dim"`

	AwsAccessKey   string `yaml:"-"`
	AwsSecretKey   string `yaml:"-"`
	AwsRegion      string `yaml:"aws_region"`
	BucketName     string `yaml:"bucket_name"`
	ImageStore     string `yaml:"image_store"`
	PDFImageDir    string `yaml:"pdf_image_dir"`
	UploadDir      string `yaml:"upload_dir"`
	ImageURLPrefix string `yaml:"image_url_prefix"`

	LLM              ModelEndpoint `yaml:"llm"`
	Embedding        ModelEndpoint `yaml:"embedding"`
	EmbedSerialize   bool          `yaml:"embed_serialize"`
	GeminiAPIKey     string        `yaml:"-"`
	GeminiModel      string        `yaml:"gemini_model"`
	GeminiEmbedModel string        `yaml:"gemini_embed_model"`

	ModelMaxAttempts  int           `yaml:"model_max_attempts"`
	ModelRetryBackoff time.Duration `yaml:"model_retry_backoff"`
	ModelRateLimitRPS float64       `yaml:"model_rate_limit_rps"`
	ModelBreaker      bool          `yaml:"model_breaker"`

	OCREngine     string `yaml:"ocr_engine"`
	OCRLanguages  string `yaml:"ocr_languages"`
	OCRServiceURL string `yaml:"ocr_service_url"`
	RenderDPI     int    `yaml:"render_dpi"`

	ChunkMaxChars      int  `yaml:"chunk_max_chars"`
	ChunkOverlap       int  `yaml:"chunk_overlap"`
	EmbedBatchSize     int  `yaml:"embed_batch_size"`
	IngestWorkers      int  `yaml:"ingest_workers"`
	IngestQueueSize    int  `yaml:"ingest_queue_size"`
	CleanupConcurrency int  `yaml:"cleanup_concurrency"`
	StrictMerge        bool `yaml:"strict_merge"`

	QueueBackend  string `yaml:"queue_backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`

	MinConfidence       string `yaml:"min_confidence"`
	MaxContextChunks    int    `yaml:"max_context_chunks"`
	MaxSupportingChunks int    `yaml:"max_supporting_chunks"`
	NeighborRadius      int    `yaml:"neighbor_radius"`
	DefaultTopK         int    `yaml:"default_top_k"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:             "8080",
		LogLevel:         "info",
		VectorStore:      "pgvector",
		CollectionPrefix: "chatbot_",
		AwsRegion:        "us-east-2",
		BucketName:       "doqmate-images",
		ImageStore:       "local",
		PDFImageDir:      "data/pdf_images",
		UploadDir:        "data/uploads",
		ImageURLPrefix:   "/pdf_images",
		LLM: ModelEndpoint{
			Provider: "openai",
			BaseURL:  "http://localhost:11400",
			APIPath:  "/v1/chat/completions",
			Model:    "qwen2.5-7b-instruct",
			Timeout:  60 * time.Second,
		},
		Embedding: ModelEndpoint{
			Provider: "openai",
			BaseURL:  "http://localhost:11401",
			APIPath:  "/v1/embeddings",
			Model:    "bge-m3",
			Timeout:  30 * time.Second,
		},
		EmbedSerialize:      true,
		GeminiModel:         "gemini-1.5-flash",
		GeminiEmbedModel:    "text-embedding-004",
		ModelMaxAttempts:    1,
		ModelRetryBackoff:   500 * time.Millisecond,
		OCREngine:           "tesseract",
		OCRLanguages:        "kor+eng",
		OCRServiceURL:       "http://localhost:8001",
		RenderDPI:           300,
		ChunkMaxChars:       800,
		ChunkOverlap:        200,
		EmbedBatchSize:      16,
		IngestWorkers:       2,
		IngestQueueSize:     64,
		CleanupConcurrency:  1,
		StrictMerge:         true,
		QueueBackend:        "memory",
		RedisAddr:           "localhost:6379",
		MinConfidence:       "low",
		MaxContextChunks:    10,
		MaxSupportingChunks: 5,
		NeighborRadius:      2,
		DefaultTopK:         5,
	}
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// Load reads .env, the optional YAML file named by DOQMATE_CONFIG_FILE and
// the process environment, in that order of increasing precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := getEnv("DOQMATE_CONFIG_FILE", ""); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SslCertPath = getEnv("SSL_CERT_PATH", cfg.SslCertPath)
	cfg.VectorStore = getEnv("VECTOR_STORE", cfg.VectorStore)
	cfg.CollectionPrefix = getEnv("COLLECTION_PREFIX", cfg.CollectionPrefix)
	cfg.EmbedDim = getEnvInt("EMBED_DIM", cfg.EmbedDim)

	cfg.AwsAccessKey = getEnv("AWS_ACCESS_KEY", cfg.AwsAccessKey)
	cfg.AwsSecretKey = getEnv("AWS_SECRET_KEY", cfg.AwsSecretKey)
	cfg.AwsRegion = getEnv("AWS_REGION", cfg.AwsRegion)
	cfg.BucketName = getEnv("BUCKET_NAME", cfg.BucketName)
	cfg.ImageStore = getEnv("IMAGE_STORE", cfg.ImageStore)
	cfg.PDFImageDir = getEnv("PDF_IMAGE_DIR", cfg.PDFImageDir)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.ImageURLPrefix = getEnv("IMAGE_URL_PREFIX", cfg.ImageURLPrefix)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIPath = getEnv("LLM_API_PATH", cfg.LLM.APIPath)
	cfg.LLM.Model = getEnv("LLM_MODEL_NAME", cfg.LLM.Model)
	cfg.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", cfg.LLM.Timeout)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)

	cfg.Embedding.Provider = getEnv("EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.BaseURL = getEnv("EMBEDDING_BASE_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.APIPath = getEnv("EMBEDDING_API_PATH", cfg.Embedding.APIPath)
	cfg.Embedding.Model = getEnv("EMBEDDING_MODEL_NAME", cfg.Embedding.Model)
	cfg.Embedding.Timeout = getEnvDuration("EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)
	cfg.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.EmbedSerialize = getEnvBool("EMBED_SERIALIZE", cfg.EmbedSerialize)

	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.GeminiEmbedModel = getEnv("GEMINI_EMBED_MODEL", cfg.GeminiEmbedModel)

	cfg.ModelMaxAttempts = getEnvInt("MODEL_MAX_ATTEMPTS", cfg.ModelMaxAttempts)
	cfg.ModelRetryBackoff = getEnvDuration("MODEL_RETRY_BACKOFF", cfg.ModelRetryBackoff)
	cfg.ModelRateLimitRPS = getEnvFloat("MODEL_RATE_LIMIT_RPS", cfg.ModelRateLimitRPS)
	cfg.ModelBreaker = getEnvBool("MODEL_BREAKER", cfg.ModelBreaker)

	cfg.OCREngine = getEnv("OCR_ENGINE", cfg.OCREngine)
	cfg.OCRLanguages = getEnv("OCR_LANGUAGES", cfg.OCRLanguages)
	cfg.OCRServiceURL = getEnv("OCR_SERVICE_URL", cfg.OCRServiceURL)
	cfg.RenderDPI = getEnvInt("RENDER_DPI", cfg.RenderDPI)

	cfg.ChunkMaxChars = getEnvInt("CHUNK_MAX_CHARS", cfg.ChunkMaxChars)
	cfg.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.EmbedBatchSize = getEnvInt("EMBED_BATCH_SIZE", cfg.EmbedBatchSize)
	cfg.IngestWorkers = getEnvInt("INGEST_WORKERS", cfg.IngestWorkers)
	cfg.IngestQueueSize = getEnvInt("INGEST_QUEUE_SIZE", cfg.IngestQueueSize)
	cfg.CleanupConcurrency = getEnvInt("CLEANUP_CONCURRENCY", cfg.CleanupConcurrency)
	cfg.StrictMerge = getEnvBool("STRICT_MERGE", cfg.StrictMerge)

	cfg.QueueBackend = getEnv("QUEUE_BACKEND", cfg.QueueBackend)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)

	cfg.MinConfidence = getEnv("MIN_CONFIDENCE", cfg.MinConfidence)
	cfg.MaxContextChunks = getEnvInt("MAX_CONTEXT_CHUNKS", cfg.MaxContextChunks)
	cfg.MaxSupportingChunks = getEnvInt("MAX_SUPPORTING_CHUNKS", cfg.MaxSupportingChunks)
	cfg.NeighborRadius = getEnvInt("NEIGHBOR_RADIUS", cfg.NeighborRadius)
	cfg.DefaultTopK = getEnvInt("DEFAULT_TOP_K", cfg.DefaultTopK)

	cfg.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.VectorStore != "memory" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if c.ChunkMaxChars <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_MAX_CHARS must be positive, got %d", c.ChunkMaxChars))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkMaxChars {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, %d), got %d", c.ChunkMaxChars, c.ChunkOverlap))
	}
	switch strings.ToLower(c.MinConfidence) {
	case "unknown", "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("MIN_CONFIDENCE %q is not one of unknown|low|medium|high", c.MinConfidence))
	}
	if c.ImageStore == "s3" && c.BucketName == "" {
		errs = append(errs, errors.New("BUCKET_NAME not set for s3 image store"))
	}
	return errors.Join(errs...)
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %v", key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %v", key, v, def)
		return def
	}
	return b
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
	return def
}
