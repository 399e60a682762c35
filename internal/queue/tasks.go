package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/markdave123-py/doqmate/internal/config"
	"github.com/markdave123-py/doqmate/internal/core/ingestion_engine"
	"github.com/markdave123-py/doqmate/internal/logger"
	"github.com/markdave123-py/doqmate/internal/models"
)

const (
	TaskIndexDocument = "document:index"
	QueueIndex        = "index"
)

// IndexTimeout bounds one indexing run on a worker.
const IndexTimeout = 30 * time.Minute

// TaskID is the broker-side identity of a document's index task. While a
// task with this id exists the broker rejects duplicates.
func TaskID(chatbotID, documentID string) string {
	return fmt.Sprintf("index:%s:%s", chatbotID, documentID)
}

// NewIndexTask wraps an index request. Indexing is not retried; the outcome
// is recorded in the document status.
func NewIndexTask(req models.IndexRequest) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskIndexDocument,
		payload,
		asynq.TaskID(TaskID(req.ChatbotID, req.DocumentID)),
		asynq.MaxRetry(0),
		asynq.Timeout(IndexTimeout),
		asynq.Queue(QueueIndex),
	), nil
}

func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// Scheduler enqueues index tasks on Redis for cmd/worker to run.
type Scheduler struct {
	client *asynq.Client
	log    *slog.Logger
}

var _ ingestion_engine.IndexScheduler = (*Scheduler)(nil)

func NewScheduler(cfg *config.Config, log *slog.Logger) *Scheduler {
	return &Scheduler{client: asynq.NewClient(RedisOpt(cfg)), log: logger.Or(log)}
}

func (s *Scheduler) Schedule(ctx context.Context, req models.IndexRequest) error {
	task, err := NewIndexTask(req)
	if err != nil {
		return fmt.Errorf("build index task: %w", err)
	}
	info, err := s.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return fmt.Errorf("%w: %s", ingestion_engine.ErrAlreadyQueued, TaskID(req.ChatbotID, req.DocumentID))
	}
	if err != nil {
		return fmt.Errorf("enqueue index task: %w", err)
	}
	s.log.Info("index task enqueued", "task_id", info.ID, "queue", info.Queue, "chatbot_id", req.ChatbotID, "document_id", req.DocumentID)
	return nil
}

func (s *Scheduler) Close() error {
	return s.client.Close()
}

// Indexer is the part of the ingestor a worker needs.
type Indexer interface {
	Index(ctx context.Context, req models.IndexRequest) (*models.IngestSummary, error)
}

// TaskProcessor runs index tasks pulled from Redis.
type TaskProcessor struct {
	indexer Indexer
	log     *slog.Logger
}

func NewTaskProcessor(indexer Indexer, log *slog.Logger) *TaskProcessor {
	return &TaskProcessor{indexer: indexer, log: logger.Or(log)}
}

// ProcessIndex indexes one document. Pipeline failures are already in the
// document status, so they complete the task instead of archiving it; that
// keeps the task id free for a re-upload. A busy document is owned by the
// run holding it, so the duplicate completes as well.
func (p *TaskProcessor) ProcessIndex(ctx context.Context, t *asynq.Task) error {
	var req models.IndexRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("unmarshal index payload: %w", asynq.SkipRetry)
	}
	if req.ChatbotID == "" || req.DocumentID == "" {
		return fmt.Errorf("index payload without chatbot or document id: %w", asynq.SkipRetry)
	}

	sum, err := p.indexer.Index(ctx, req)
	if errors.Is(err, ingestion_engine.ErrDocumentBusy) {
		p.log.Warn("index task skipped, document busy", "chatbot_id", req.ChatbotID, "document_id", req.DocumentID)
		return nil
	}
	if err != nil {
		p.log.Error("index task failed", "chatbot_id", req.ChatbotID, "document_id", req.DocumentID, "error", err)
		return nil
	}
	p.log.Info("index task done", "chatbot_id", req.ChatbotID, "document_id", req.DocumentID, "chunks", sum.Chunks)
	return nil
}

// NewServer builds the asynq worker server and its mux.
func NewServer(cfg *config.Config, processor *TaskProcessor, log *slog.Logger) (*asynq.Server, *asynq.ServeMux) {
	log = logger.Or(log)
	concurrency := cfg.IngestWorkers
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(
		RedisOpt(cfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{QueueIndex: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskIndexDocument, processor.ProcessIndex)
	return srv, mux
}
