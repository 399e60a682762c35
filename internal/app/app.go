package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/markdave123-py/doqmate/internal/config"
	"github.com/markdave123-py/doqmate/internal/core"
	"github.com/markdave123-py/doqmate/internal/core/chunker"
	db "github.com/markdave123-py/doqmate/internal/core/database"
	"github.com/markdave123-py/doqmate/internal/core/ingestion_engine"
	"github.com/markdave123-py/doqmate/internal/core/llm"
	objectclient "github.com/markdave123-py/doqmate/internal/core/object-client"
	"github.com/markdave123-py/doqmate/internal/core/ocr"
	"github.com/markdave123-py/doqmate/internal/core/parsing"
	"github.com/markdave123-py/doqmate/internal/core/query"
	"github.com/markdave123-py/doqmate/internal/core/refine"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
	"github.com/markdave123-py/doqmate/internal/queue"
	"github.com/markdave123-py/doqmate/internal/services"
	"github.com/markdave123-py/doqmate/internal/telemetry"
)

// App holds every long-lived component of the service. The same wiring
// backs the HTTP server, the queue worker and the CLI.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Store     core.VectorStore
	Status    core.StatusRecorder
	Objects   core.ObjectClient
	Ingestor  *ingestion_engine.DocumentIngestor
	Scheduler ingestion_engine.IndexScheduler
	Queries   *query.Service
	Documents *services.DocumentService

	log     *slog.Logger
	closers []func() error
	tracer  func(context.Context)
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg, log: logger.L()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	shutdown, err := telemetry.InitTracer(appCtx, "doqmate", cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	a.tracer = shutdown

	if err := a.initStores(appCtx); err != nil {
		return nil, err
	}
	if err := a.initObjects(appCtx); err != nil {
		return nil, err
	}

	chat, embedder, err := a.initModels(appCtx)
	if err != nil {
		return nil, err
	}
	tasks := llm.NewTasks(chat, a.log)

	stages, err := a.initStages(tasks)
	if err != nil {
		return nil, err
	}
	a.Ingestor = ingestion_engine.NewDocumentIngestor(stages, embedder, a.Store, a.Status, a.Objects, ingestion_engine.IngestConfig{
		EmbedBatchSize: cfg.EmbedBatchSize,
		Workers:        cfg.IngestWorkers,
		QueueSize:      cfg.IngestQueueSize,
	}, a.log)

	switch cfg.QueueBackend {
	case "redis":
		sched := queue.NewScheduler(cfg, a.log)
		a.closers = append(a.closers, sched.Close)
		a.Scheduler = sched
		a.log.Info("index queue ready", "backend", "redis", "addr", cfg.RedisAddr)
	default:
		a.Scheduler = a.Ingestor
		a.log.Info("index queue ready", "backend", "memory", "workers", cfg.IngestWorkers)
	}

	imageURLPrefix := cfg.ImageURLPrefix
	if cfg.ImageStore == "s3" && imageURLPrefix == config.Defaults().ImageURLPrefix {
		imageURLPrefix = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.BucketName, cfg.AwsRegion)
	}
	a.Queries = query.NewService(tasks, embedder, a.Store, query.Config{
		MinConfidence:       models.Confidence(strings.ToLower(cfg.MinConfidence)),
		MaxContextChunks:    cfg.MaxContextChunks,
		MaxSupportingChunks: cfg.MaxSupportingChunks,
		NeighborRadius:      cfg.NeighborRadius,
		DefaultTopK:         cfg.DefaultTopK,
		ImageURLPrefix:      imageURLPrefix,
	}, a.log)
	a.Documents = services.NewDocumentService(a.Status, a.Scheduler, a.Ingestor, cfg.UploadDir, a.log)

	ok = true
	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	if a.Config.VectorStore == "memory" {
		a.Store = db.NewMemoryStore()
		a.Status = db.NewMemoryStatusStore()
		a.log.Info("using in-memory vector store")
		return nil
	}
	sqlDB, err := db.Open(ctx, a.Config)
	if err != nil {
		return err
	}
	a.DB = sqlDB
	a.Store = db.NewVectorClient(sqlDB, a.Config.CollectionPrefix, a.Config.EmbedDim, a.log)
	a.Status = db.NewStatusStore(sqlDB)
	a.log.Info("database initialized and ready")
	return nil
}

func (a *App) initObjects(ctx context.Context) error {
	if a.Config.ImageStore == "s3" {
		s3c, err := objectclient.NewS3Client(ctx, a.Config, a.log)
		if err != nil {
			return err
		}
		a.Objects = s3c
	} else {
		local, err := objectclient.NewLocalClient(a.Config.PDFImageDir, a.Config.ImageURLPrefix)
		if err != nil {
			return err
		}
		a.Objects = local
	}
	a.log.Info("object client initialized and ready", "store", a.Config.ImageStore)
	return nil
}

func (a *App) guard(name string, serialize bool) *llm.Guard {
	return llm.NewGuard(llm.GuardConfig{
		Name:        name,
		MaxAttempts: a.Config.ModelMaxAttempts,
		Backoff:     a.Config.ModelRetryBackoff,
		RateLimit:   a.Config.ModelRateLimitRPS,
		Breaker:     a.Config.ModelBreaker,
		Serialize:   serialize,
	}, a.log)
}

func (a *App) initModels(ctx context.Context) (core.LLMProvider, core.EmbeddingProvider, error) {
	cfg := a.Config
	var (
		chat     core.LLMProvider
		embedder core.EmbeddingProvider
	)

	chatGuard := a.guard("llm.chat", false)
	if cfg.LLM.Provider == "gemini" {
		g, err := llm.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, chatGuard)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the llm, %w", err)
		}
		a.closers = append(a.closers, g.Close)
		chat = g
	} else {
		chat = llm.NewChatClient(endpoint(cfg.LLM), chatGuard, a.log)
	}

	embedGuard := a.guard("llm.embed", cfg.EmbedSerialize)
	if cfg.Embedding.Provider == "gemini" {
		g, err := llm.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbedModel, embedGuard)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		a.closers = append(a.closers, g.Close)
		embedder = g
	} else {
		embedder = llm.NewEmbedder(endpoint(cfg.Embedding), embedGuard, a.log)
	}

	a.log.Info("model providers ready", "llm", cfg.LLM.Provider, "embedding", cfg.Embedding.Provider)
	return chat, embedder, nil
}

func endpoint(m config.ModelEndpoint) llm.EndpointConfig {
	return llm.EndpointConfig{
		BaseURL: m.BaseURL,
		APIPath: m.APIPath,
		Model:   m.Model,
		APIKey:  m.APIKey,
		Timeout: m.Timeout,
	}
}

func (a *App) initOCR() (ocr.Engine, error) {
	switch a.Config.OCREngine {
	case "none", "":
		return nil, nil
	case "remote":
		return ocr.NewRemoteEngine(a.Config.OCRServiceURL, 0), nil
	default:
		return ocr.NewTesseractEngine(a.Config.OCRLanguages)
	}
}

func (a *App) initStages(tasks *llm.Tasks) (ingestion_engine.Stages, error) {
	cfg := a.Config
	ch, err := chunker.New(chunker.Config{MaxChars: cfg.ChunkMaxChars, Overlap: cfg.ChunkOverlap}, a.log)
	if err != nil {
		return ingestion_engine.Stages{}, err
	}
	stages := ingestion_engine.Stages{
		Extractor: parsing.NewExtractor(parsing.ExtractorConfig{}, parsing.OpenFitz, a.Objects, a.log),
		Cleaner:   refine.NewCleaner(tasks, cfg.CleanupConcurrency, a.log),
		Merger:    refine.NewMerger(tasks, cfg.StrictMerge, a.log),
		Chunker:   ch,
	}

	engine, err := a.initOCR()
	if err != nil {
		return ingestion_engine.Stages{}, fmt.Errorf("init ocr engine: %w", err)
	}
	if engine != nil {
		runner := ocr.NewRunner(engine, a.log)
		a.closers = append(a.closers, runner.Close)
		stages.Masker = parsing.NewMasker(parsing.OpenFitz, float64(cfg.RenderDPI), a.log)
		stages.OCR = runner
	} else {
		a.log.Warn("ocr disabled, indexing the text layer only")
	}
	return stages, nil
}

// Close releases resources in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	if a.DB != nil {
		_ = a.DB.Close()
		a.DB = nil
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.tracer(ctx)
		a.tracer = nil
	}
}
